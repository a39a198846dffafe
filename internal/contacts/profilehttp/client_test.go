package profilehttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClient_GetContacts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/contacts", r.URL.Path)
		require.Equal(t, "c1,c2", r.URL.Query().Get("ids"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
  {"id":"c1","display_name":"Ann","notifications_enabled":true,"telegram_chat_id":"t1","telegram_enabled":true},
  {"id":"c2","display_name":"Bob","notifications_enabled":true,"phone":"+1","sms_enabled":true,"sms_addon_active":true}
]`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	cts, err := c.GetContacts(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	require.Len(t, cts, 2)
	require.Equal(t, "Ann", cts[0].DisplayName)
	require.True(t, cts[0].TelegramEnabled)
	require.True(t, cts[1].SMSAddonActive)
}

func TestClient_GetFavorites(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/users/o1/favorites", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"c1","favorite":true}]`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	cts, err := c.GetFavorites(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, cts, 1)
	require.True(t, cts[0].Favorite)
}

func TestClient_SetSMSAddon(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(204)
	}))
	defer srv.Close()

	c := New(srv.URL)
	require.NoError(t, c.SetSMSAddon(context.Background(), "u1", true))
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/v1/users/u1/sms-addon", gotPath)
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.GetContacts(context.Background(), []string{"c1"})
	require.Error(t, err)
	require.Error(t, c.SetSMSAddon(context.Background(), "u1", false))
}
