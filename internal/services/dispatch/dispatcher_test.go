package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	chfake "github.com/besties-app/safecheck/internal/integrations/channel/fake"
	"github.com/besties-app/safecheck/internal/models"
)

type fakeRecorder struct {
	notifications []models.Notification
	err           error
}

func (f *fakeRecorder) InsertNotification(ctx context.Context, n models.Notification) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.notifications = append(f.notifications, n)
	return uint64(len(f.notifications)), nil
}

func fastRetry() channel.RetryConfig {
	return channel.RetryConfig{Attempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func enabledContact(id string) models.Contact {
	return models.Contact{ID: id, DisplayName: id, NotificationsEnabled: true}
}

func TestDispatcher_StopsAtFirstSuccess(t *testing.T) {
	push := chfake.New(channel.NamePush)
	push.Err = errors.New("bad token")
	tg := chfake.New(channel.NameTelegram)
	sms := chfake.New(channel.NameSMS)

	rec := &fakeRecorder{}
	d := New([]channel.Channel{push, tg, sms}, rec).WithRetry(fastRetry())

	got, err := d.Notify(context.Background(), enabledContact("c1"), AlertContext{
		Kind: models.NotificationKindAlert, CheckInID: 7, OwnerID: "o1", OwnerName: "Ann",
	})
	require.NoError(t, err)
	require.Equal(t, []string{channel.NameTelegram}, got)
	// Платный канал не трогаем: бесплатный уже прошёл.
	require.Equal(t, 0, sms.SentCount())

	require.Len(t, rec.notifications, 1)
	require.Equal(t, []string{channel.NameTelegram}, rec.notifications[0].Channels)
	require.Equal(t, "c1", rec.notifications[0].ContactID)
	require.NotNil(t, rec.notifications[0].CheckInID)
	require.Equal(t, uint64(7), *rec.notifications[0].CheckInID)
}

func TestDispatcher_SkipsIneligible(t *testing.T) {
	push := chfake.New(channel.NamePush)
	push.EligibleFn = func(models.Contact) bool { return false }
	tg := chfake.New(channel.NameTelegram)

	rec := &fakeRecorder{}
	d := New([]channel.Channel{push, tg}, rec).WithRetry(fastRetry())

	got, err := d.Notify(context.Background(), enabledContact("c1"), AlertContext{Kind: models.NotificationKindAlert})
	require.NoError(t, err)
	require.Equal(t, []string{channel.NameTelegram}, got)
	require.Equal(t, 0, push.SentCount())
}

func TestDispatcher_AllChannelsFail_RecordStillWritten(t *testing.T) {
	push := chfake.New(channel.NamePush)
	push.Err = errors.New("down")
	tg := chfake.New(channel.NameTelegram)
	tg.Err = errors.New("down too")

	rec := &fakeRecorder{}
	d := New([]channel.Channel{push, tg}, rec).WithRetry(fastRetry())

	got, err := d.Notify(context.Background(), enabledContact("c1"), AlertContext{Kind: models.NotificationKindAlert})
	require.NoError(t, err)
	require.Empty(t, got)
	// "Logged only": внутренняя запись есть даже при полном провале каналов.
	require.Len(t, rec.notifications, 1)
	require.Empty(t, rec.notifications[0].Channels)
}

func TestDispatcher_NothingAtAll_Errors(t *testing.T) {
	tg := chfake.New(channel.NameTelegram)
	tg.Err = errors.New("down")
	rec := &fakeRecorder{err: errors.New("db down")}
	d := New([]channel.Channel{tg}, rec).WithRetry(fastRetry())

	_, err := d.Notify(context.Background(), enabledContact("c1"), AlertContext{Kind: models.NotificationKindAlert})
	require.Error(t, err)
}
