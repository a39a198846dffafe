package sms

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

// Client — платный канал. Шлём Short-рендер (без URL) и только контактам
// с активным SMS add-on'ом.
type Client struct {
	baseURL string
	apiKey  string
	from    string
	httpc   *http.Client
}

func New(baseURL, apiKey, from string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9205"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		from:    from,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return channel.NameSMS }

func (c *Client) Eligible(ct models.Contact) bool {
	return ct.NotificationsEnabled && ct.SMSEnabled && ct.Phone != "" && ct.SMSAddonActive
}

func (c *Client) Send(ctx context.Context, ct models.Contact, msg channel.Message) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/sms"

	b, err := json.Marshal(map[string]string{"to": ct.Phone, "from": c.from, "body": msg.Short})
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
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
		return "", channel.Transient(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if err := channel.ClassifyHTTPStatus("sms provider", resp.StatusCode); err != nil {
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
