package stats

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/besties-app/safecheck/internal/broker/messages"
	"github.com/besties-app/safecheck/internal/services/idempotency"
	"github.com/besties-app/safecheck/internal/storage/pgcheckin"
)

type fakeRepo struct {
	deltas map[string]pgcheckin.StatsDelta
}

func (f *fakeRepo) ApplyStatsDelta(ctx context.Context, ownerID string, d pgcheckin.StatsDelta, now time.Time) error {
	cur := f.deltas[ownerID]
	cur.CheckInsCreated += d.CheckInsCreated
	cur.CheckInsCompleted += d.CheckInsCompleted
	cur.AlertsTriggered += d.AlertsTriggered
	cur.BroadcastsSent += d.BroadcastsSent
	f.deltas[ownerID] = cur
	return nil
}

type fakeGuard struct {
	seen map[string]bool
}

func (f *fakeGuard) Process(ctx context.Context, eventID string, payload []byte, fn func(ctx context.Context) error) (idempotency.ProcessResult, error) {
	if f.seen[eventID] {
		return idempotency.ProcessResult{AlreadyProcessed: true}, nil
	}
	if err := fn(ctx); err != nil {
		return idempotency.ProcessResult{}, err
	}
	f.seen[eventID] = true
	return idempotency.ProcessResult{}, nil
}

func marshal(t *testing.T, ev messages.CheckInEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestApplier_CountsPerEventType(t *testing.T) {
	repo := &fakeRepo{deltas: map[string]pgcheckin.StatsDelta{}}
	a := NewApplier(repo, &fakeGuard{seen: map[string]bool{}})
	ctx := context.Background()

	evs := []messages.CheckInEvent{
		{EventID: "e1", Type: messages.EventCheckInCreated, OwnerID: "o1"},
		{EventID: "e2", Type: messages.EventCheckInCompleted, OwnerID: "o1"},
		{EventID: "e3", Type: messages.EventAlertRaised, OwnerID: "o1"},
		{EventID: "e4", Type: messages.EventSOSTriggered, OwnerID: "o1"},
		// Типы без дельты игнорируются.
		{EventID: "e5", Type: messages.EventAlertEscalated, OwnerID: "o1"},
		{EventID: "e6", Type: messages.EventAlertAcknowledged, OwnerID: "o1"},
	}
	for _, ev := range evs {
		require.NoError(t, a.Handle(ctx, marshal(t, ev)))
	}

	got := repo.deltas["o1"]
	require.Equal(t, int64(1), got.CheckInsCreated)
	require.Equal(t, int64(1), got.CheckInsCompleted)
	require.Equal(t, int64(1), got.AlertsTriggered)
	require.Equal(t, int64(1), got.BroadcastsSent)
}

func TestApplier_DuplicateEventAppliedOnce(t *testing.T) {
	repo := &fakeRepo{deltas: map[string]pgcheckin.StatsDelta{}}
	a := NewApplier(repo, &fakeGuard{seen: map[string]bool{}})
	ctx := context.Background()

	msg := marshal(t, messages.CheckInEvent{EventID: "e1", Type: messages.EventCheckInCreated, OwnerID: "o1"})
	require.NoError(t, a.Handle(ctx, msg))
	require.NoError(t, a.Handle(ctx, msg))

	require.Equal(t, int64(1), repo.deltas["o1"].CheckInsCreated)
}

func TestApplier_BadPayloadCommitted(t *testing.T) {
	repo := &fakeRepo{deltas: map[string]pgcheckin.StatsDelta{}}
	a := NewApplier(repo, &fakeGuard{seen: map[string]bool{}})

	require.NoError(t, a.Handle(context.Background(), []byte("not json")))
	require.Empty(t, repo.deltas)
}
