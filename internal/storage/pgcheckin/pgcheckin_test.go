package pgcheckin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/besties-app/safecheck/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "safecheck_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/safecheck_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func TestPGCheckin_RepoFlow(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	c, err := st.CreateCheckIn(ctx, models.CheckInCreateInput{
		OwnerID:         "owner-1",
		Location:        "park",
		DurationMinutes: 15,
		ContactIDs:      []string{"a", "b", "c"},
	}, now)
	require.NoError(t, err)
	require.NotZero(t, c.ID)
	require.Equal(t, models.CheckInStatusActive, c.Status)
	require.WithinDuration(t, now.Add(15*time.Minute), c.AlertTime, time.Second)

	// Второй чек-ин ещё не due — claim его не трогает.
	other, err := st.CreateCheckIn(ctx, models.CheckInCreateInput{
		OwnerID: "owner-2", DurationMinutes: 180, ContactIDs: []string{"x"},
	}, now)
	require.NoError(t, err)

	claimed, err := st.ClaimExpired(ctx, now.Add(16*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, c.ID, claimed[0].ID)
	require.Equal(t, models.CheckInStatusAlerted, claimed[0].Status)
	require.NotNil(t, claimed[0].CurrentNotifiedContact)
	require.Equal(t, "a", *claimed[0].CurrentNotifiedContact)
	require.Equal(t, []string{"a"}, claimed[0].NotifiedContactHistory)
	require.NotNil(t, claimed[0].AlertedAt)

	// Повторный claim на том же наборе — пустой (чек-ин уже ALERTED).
	again, err := st.ClaimExpired(ctx, now.Add(17*time.Minute), 10)
	require.NoError(t, err)
	require.Empty(t, again)

	// Эскалация: a -> b по CAS, проигравший CAS получает false.
	ok, err := st.AdvanceEscalation(ctx, c.ID, "a", "b", now.Add(17*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = st.AdvanceEscalation(ctx, c.ID, "a", "b", now.Add(17*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := st.GetCheckIn(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got.NotifiedContactHistory)

	// Подтверждение текущего контакта снимает эскалацию и пишет один AlertResponse.
	res, err := st.Acknowledge(ctx, c.ID, "b", now.Add(18*time.Minute))
	require.NoError(t, err)
	require.False(t, res.Already)
	require.Nil(t, res.CheckIn.CurrentNotifiedContact)
	require.Equal(t, []string{"b"}, res.CheckIn.AcknowledgedBy)
	require.Equal(t, 2*time.Minute, res.Latency)

	res, err = st.Acknowledge(ctx, c.ID, "b", now.Add(19*time.Minute))
	require.NoError(t, err)
	require.True(t, res.Already)

	responses, err := st.ListAlertResponses(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	require.Equal(t, "b", responses[0].ResponderID)

	// Complete идемпотентен: второй вызов changed=false, completed_at прежний.
	done, changed, err := st.Complete(ctx, c.ID, now.Add(20*time.Minute))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, models.CheckInStatusCompleted, done.Status)
	firstCompletedAt := done.CompletedAt

	done, changed, err = st.Complete(ctx, c.ID, now.Add(30*time.Minute))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, firstCompletedAt.Unix(), done.CompletedAt.Unix())

	// Extend валиден только для ACTIVE.
	ext, ok, err := st.Extend(ctx, other.ID, 30, now)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 210, ext.DurationMinutes)

	_, ok, err = st.Extend(ctx, c.ID, 30, now)
	require.NoError(t, err)
	require.False(t, ok)

	n, err := st.CountExtensionsSince(ctx, "owner-2", now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestPGCheckin_IdempotencyAndStats(t *testing.T) {
	ctx := context.Background()
	st := newTestStorage(t)
	now := time.Now().UTC()

	rec, err := st.GetIdempotencyRecord(ctx, "evt-1")
	require.NoError(t, err)
	require.Nil(t, rec)

	require.NoError(t, st.PutIdempotencyRecord(ctx, models.IdempotencyRecord{
		EventID: "evt-1", Outcome: models.IdempotencyOutcomeSuccess,
		Payload: []byte(`{"x":1}`), ProcessedAt: now,
	}))
	rec, err = st.GetIdempotencyRecord(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, models.IdempotencyOutcomeSuccess, rec.Outcome)

	require.NoError(t, st.ApplyStatsDelta(ctx, "owner-1", StatsDelta{CheckInsCreated: 1}, now))
	require.NoError(t, st.ApplyStatsDelta(ctx, "owner-1", StatsDelta{CheckInsCompleted: 1}, now))
	stats, err := st.GetUserStats(ctx, "owner-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.CheckInsCreated)
	require.Equal(t, int64(1), stats.CheckInsCompleted)
}
