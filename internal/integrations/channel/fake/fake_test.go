package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	"github.com/besties-app/safecheck/internal/models"
)

func TestFakeChannel(t *testing.T) {
	f := New(channel.NamePush)
	require.Equal(t, channel.NamePush, f.Name())

	require.True(t, f.Eligible(models.Contact{NotificationsEnabled: true}))
	require.False(t, f.Eligible(models.Contact{}))

	id, err := f.Send(context.Background(), models.Contact{ID: "c1"}, channel.Message{Short: "hi"})
	require.NoError(t, err)
	require.Equal(t, "push-1", id)
	require.Equal(t, 1, f.SentCount())
	require.Equal(t, "c1", f.Sent[0].ContactID)

	f.Err = errors.New("boom")
	_, err = f.Send(context.Background(), models.Contact{ID: "c2"}, channel.Message{})
	require.Error(t, err)
	require.Equal(t, 1, f.SentCount())
}
