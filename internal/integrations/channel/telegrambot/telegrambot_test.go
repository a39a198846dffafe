package telegrambot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	"github.com/besties-app/safecheck/internal/models"
)

func TestClient_Send_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottok/sendMessage", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":101}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	id, err := c.Send(context.Background(), models.Contact{TelegramChatID: "chat-1"}, channel.Message{Full: "hi"})
	require.NoError(t, err)
	require.Equal(t, "101", id)
}

func TestClient_Send_429Transient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.Send(context.Background(), models.Contact{TelegramChatID: "chat-1"}, channel.Message{Full: "hi"})
	require.Error(t, err)
	require.True(t, channel.IsTransient(err))
}

func TestClient_Send_400Permanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	_, err := c.Send(context.Background(), models.Contact{TelegramChatID: "chat-1"}, channel.Message{Full: "hi"})
	require.Error(t, err)
	require.False(t, channel.IsTransient(err))
}

func TestClient_Eligible(t *testing.T) {
	c := New("", "tok")
	require.True(t, c.Eligible(models.Contact{NotificationsEnabled: true, TelegramEnabled: true, TelegramChatID: "x"}))
	require.False(t, c.Eligible(models.Contact{NotificationsEnabled: true, TelegramEnabled: true}))
	require.False(t, c.Eligible(models.Contact{TelegramEnabled: true, TelegramChatID: "x"}))
}

func TestClient_BroadcastSubscribers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottok/broadcast", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"delivered":12}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "tok")
	n, err := c.BroadcastSubscribers(context.Background(), "o1", "SOS")
	require.NoError(t, err)
	require.Equal(t, 12, n)
}
