package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/besties-app/safecheck/internal/apperr"
	"github.com/besties-app/safecheck/internal/cache/rediscache"
)

type fakeRepo struct {
	extensions int64
	incidents  int64
	invites    int64
}

func (f *fakeRepo) CountExtensionsSince(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	return f.extensions, nil
}
func (f *fakeRepo) CountIncidentsSince(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	return f.incidents, nil
}
func (f *fakeRepo) CountInvitesSince(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	return f.invites, nil
}

func TestLimiter_Check_RecordBacked(t *testing.T) {
	repo := &fakeRepo{extensions: 9}
	l := New(repo, nil, DefaultLimits())

	res, err := l.Check(context.Background(), ActionExtend, "owner-1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
	require.Equal(t, int64(9), res.Count)
	require.Equal(t, int64(1), res.Remaining)

	// Десятая запись уже есть — одиннадцатое действие запрещено.
	repo.extensions = 10
	res, err = l.Check(context.Background(), ActionExtend, "owner-1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, int64(0), res.Remaining)
	require.False(t, res.ResetAt.IsZero())
}

func TestLimiter_Enforce_SOS(t *testing.T) {
	repo := &fakeRepo{incidents: 3}
	l := New(repo, nil, DefaultLimits())

	err := l.Enforce(context.Background(), ActionSOS, "owner-1")
	require.Error(t, err)
	e, ok := apperr.AsError(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindRateLimited, e.Kind)
	require.Equal(t, int64(3), e.Limit)
	require.Equal(t, int64(3), e.Count)

	repo.incidents = 2
	require.NoError(t, l.Enforce(context.Background(), ActionSOS, "owner-1"))
}

func TestLimiter_Check_Anonymous(t *testing.T) {
	mr := miniredis.RunT(t)
	l := New(nil, rediscache.NewWindowCounter(mr.Addr()), Limits{
		Anonymous: Limit{Count: 2, Window: time.Minute},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, ActionAnonymous, "10.0.0.1")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	res, err := l.Check(ctx, ActionAnonymous, "10.0.0.1")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	require.Equal(t, int64(3), res.Count)

	// Свежее окно — снова разрешено.
	mr.FastForward(2 * time.Minute)
	res, err = l.Check(ctx, ActionAnonymous, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, res.Allowed)
}
