package discordbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	"github.com/besties-app/safecheck/internal/models"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9202"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return channel.NameDiscord }

func (c *Client) Eligible(ct models.Contact) bool {
	return ct.NotificationsEnabled && ct.DiscordEnabled && ct.DiscordChannel != ""
}

func (c *Client) Send(ctx context.Context, ct models.Contact, msg channel.Message) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/api/channels/%s/messages", url.PathEscape(ct.DiscordChannel))

	b, err := json.Marshal(map[string]string{"content": msg.Full})
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bot "+c.token)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", channel.Transient(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if err := channel.ClassifyHTTPStatus("discord bot", resp.StatusCode); err != nil {
		return "", err
	}

	var rb struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	return rb.ID, nil
}
