package peermsg

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

// Client — peer-to-peer messaging (бесплатный канал между пользователями
// приложения).
type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9203"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return channel.NamePeer }

func (c *Client) Eligible(ct models.Contact) bool {
	return ct.NotificationsEnabled && ct.PeerEnabled && ct.PeerAddress != ""
}

func (c *Client) Send(ctx context.Context, ct models.Contact, msg channel.Message) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/messages"

	b, err := json.Marshal(map[string]string{"to": ct.PeerAddress, "body": msg.Full})
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return "", errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", channel.Transient(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if err := channel.ClassifyHTTPStatus("peer messaging", resp.StatusCode); err != nil {
		return "", err
	}

	var rb struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return "", errors.Wrap(err, "decode")
	}
	return rb.MessageID, nil
}
