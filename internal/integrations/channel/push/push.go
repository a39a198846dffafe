package push

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	"github.com/besties-app/safecheck/internal/models"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9200"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return channel.NamePush }

func (c *Client) Eligible(ct models.Contact) bool {
	return ct.NotificationsEnabled && ct.PushEnabled && ct.PushToken != ""
}

type reqBody struct {
	Token string `json:"token"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
}

type respBody struct {
	MessageID string `json:"message_id"`
}

func (c *Client) Send(ctx context.Context, ct models.Contact, msg channel.Message) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/push"

	b, err := json.Marshal(reqBody{Token: ct.PushToken, Title: msg.Subject, Body: msg.Full})
	if err != nil {
		return "", errors.Wrap(err, "marshal push request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Сетевые сбои/таймауты считаем временными.
		return "", channel.Transient(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if err := channel.ClassifyHTTPStatus("push provider", resp.StatusCode); err != nil {
		return "", err
	}

	var rb respBody
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	return rb.MessageID, nil
}
