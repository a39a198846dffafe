package profilehttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/models"
)

type Client struct {
	baseURL string
	httpc   *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9100"
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type respContact struct {
	ID                   string `json:"id"`
	DisplayName          string `json:"display_name"`
	NotificationsEnabled bool   `json:"notifications_enabled"`
	PushToken            string `json:"push_token,omitempty"`
	TelegramChatID       string `json:"telegram_chat_id,omitempty"`
	DiscordChannel       string `json:"discord_channel,omitempty"`
	PeerAddress          string `json:"peer_address,omitempty"`
	Email                string `json:"email,omitempty"`
	Phone                string `json:"phone,omitempty"`
	PushEnabled          bool   `json:"push_enabled"`
	TelegramEnabled      bool   `json:"telegram_enabled"`
	DiscordEnabled       bool   `json:"discord_enabled"`
	PeerEnabled          bool   `json:"peer_enabled"`
	EmailEnabled         bool   `json:"email_enabled"`
	SMSEnabled           bool   `json:"sms_enabled"`
	SMSAddonActive       bool   `json:"sms_addon_active"`
	Favorite             bool   `json:"favorite"`
}

func toModel(rc respContact) models.Contact {
	return models.Contact{
		ID:                   rc.ID,
		DisplayName:          rc.DisplayName,
		NotificationsEnabled: rc.NotificationsEnabled,
		PushToken:            rc.PushToken,
		TelegramChatID:       rc.TelegramChatID,
		DiscordChannel:       rc.DiscordChannel,
		PeerAddress:          rc.PeerAddress,
		Email:                rc.Email,
		Phone:                rc.Phone,
		PushEnabled:          rc.PushEnabled,
		TelegramEnabled:      rc.TelegramEnabled,
		DiscordEnabled:       rc.DiscordEnabled,
		PeerEnabled:          rc.PeerEnabled,
		EmailEnabled:         rc.EmailEnabled,
		SMSEnabled:           rc.SMSEnabled,
		SMSAddonActive:       rc.SMSAddonActive,
		Favorite:             rc.Favorite,
	}
}

func (c *Client) GetContacts(ctx context.Context, ids []string) ([]models.Contact, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/v1/contacts"
	q := u.Query()
	q.Set("ids", strings.Join(ids, ","))
	u.RawQuery = q.Encode()

	var out []respContact
	if err := c.getJSON(ctx, u.String(), &out); err != nil {
		return nil, err
	}

	res := make([]models.Contact, 0, len(out))
	for _, rc := range out {
		res = append(res, toModel(rc))
	}
	return res, nil
}

func (c *Client) GetFavorites(ctx context.Context, ownerID string) ([]models.Contact, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/users/%s/favorites", url.PathEscape(ownerID))

	var out []respContact
	if err := c.getJSON(ctx, u.String(), &out); err != nil {
		return nil, err
	}

	res := make([]models.Contact, 0, len(out))
	for _, rc := range out {
		res = append(res, toModel(rc))
	}
	return res, nil
}

// SetSMSAddon проставляет в профиле флаг платного SMS-аддона. Вызывается из
// обработчика платёжного вебхука.
func (c *Client) SetSMSAddon(ctx context.Context, userID string, active bool) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return errors.Wrap(err, "parse base url")
	}
	u.Path = fmt.Sprintf("/v1/users/%s/sms-addon", url.PathEscape(userID))

	body, _ := json.Marshal(map[string]bool{"active": active})
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), strings.NewReader(string(body)))
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("profile service http %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("profile service http %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}
