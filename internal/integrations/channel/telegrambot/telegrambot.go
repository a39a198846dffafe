package telegrambot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	"github.com/besties-app/safecheck/internal/models"
)

// Client ходит в bot-gateway (локальный сервис, проксирующий Telegram Bot API
// и ведущий список подписчиков владельца).
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9201"
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return channel.NameTelegram }

func (c *Client) Eligible(ct models.Contact) bool {
	return ct.NotificationsEnabled && ct.TelegramEnabled && ct.TelegramChatID != ""
}

type sendReq struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type sendResp struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (c *Client) Send(ctx context.Context, ct models.Contact, msg channel.Message) (string, error) {
	rb, err := c.post(ctx, "/sendMessage", sendReq{ChatID: ct.TelegramChatID, Text: msg.Full})
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(rb.Result.MessageID, 10), nil
}

// BroadcastSubscribers шлёт текст всем telegram-подписчикам владельца
// (третьесторонние "connected contacts", не входящие в список контактов
// чек-ина). Возвращает число получателей.
func (c *Client) BroadcastSubscribers(ctx context.Context, ownerID, text string) (int, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return 0, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/bot%s/broadcast", url.PathEscape(c.token))

	b, err := json.Marshal(map[string]string{"owner_id": ownerID, "text": text})
	if err != nil {
		return 0, errors.Wrap(err, "marshal broadcast request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return 0, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, channel.Transient(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if err := channel.ClassifyHTTPStatus("telegram bot", resp.StatusCode); err != nil {
		return 0, err
	}

	var out struct {
		Delivered int `json:"delivered"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, errors.Wrap(err, "decode")
	}
	return out.Delivered, nil
}

func (c *Client) post(ctx context.Context, method string, body any) (*sendResp, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/bot%s%s", url.PathEscape(c.token), method)

	b, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, channel.Transient(errors.Wrap(err, "do request"))
	}
	defer resp.Body.Close()

	if err := channel.ClassifyHTTPStatus("telegram bot", resp.StatusCode); err != nil {
		return nil, err
	}

	var rb sendResp
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	if !rb.OK {
		return nil, fmt.Errorf("telegram bot: not ok")
	}
	return &rb, nil
}
