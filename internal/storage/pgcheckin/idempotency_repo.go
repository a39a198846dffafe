package pgcheckin

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/models"
)

// GetIdempotencyRecord возвращает (nil, nil), если событие ещё не встречалось.
func (s *Storage) GetIdempotencyRecord(ctx context.Context, eventID string) (*models.IdempotencyRecord, error) {
	var r models.IdempotencyRecord
	err := s.db.QueryRow(ctx, `
SELECT event_id, outcome, payload, processed_at
FROM idempotency_keys
WHERE event_id = $1
`, eventID).Scan(&r.EventID, &r.Outcome, &r.Payload, &r.ProcessedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select idempotency record")
	}
	return &r, nil
}

// PutIdempotencyRecord пишет исход обработки. Повторная запись того же
// event_id перетирает только исход (ретрай после FAILURE).
func (s *Storage) PutIdempotencyRecord(ctx context.Context, rec models.IdempotencyRecord) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO idempotency_keys (event_id, outcome, payload, processed_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (event_id) DO UPDATE SET outcome = EXCLUDED.outcome, processed_at = EXCLUDED.processed_at
`, rec.EventID, rec.Outcome, rec.Payload, rec.ProcessedAt.UTC())
	return errors.Wrap(err, "put idempotency record")
}

type StatsDelta struct {
	CheckInsCreated   int64
	CheckInsCompleted int64
	AlertsTriggered   int64
	BroadcastsSent    int64
}

func (s *Storage) ApplyStatsDelta(ctx context.Context, ownerID string, d StatsDelta, now time.Time) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO user_stats (owner_id, checkins_created, checkins_completed, alerts_triggered, broadcasts_sent, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (owner_id) DO UPDATE SET
  checkins_created = user_stats.checkins_created + EXCLUDED.checkins_created,
  checkins_completed = user_stats.checkins_completed + EXCLUDED.checkins_completed,
  alerts_triggered = user_stats.alerts_triggered + EXCLUDED.alerts_triggered,
  broadcasts_sent = user_stats.broadcasts_sent + EXCLUDED.broadcasts_sent,
  updated_at = EXCLUDED.updated_at
`, ownerID, d.CheckInsCreated, d.CheckInsCompleted, d.AlertsTriggered, d.BroadcastsSent, now.UTC())
	return errors.Wrap(err, "apply stats delta")
}

func (s *Storage) GetUserStats(ctx context.Context, ownerID string) (*models.UserStats, error) {
	var st models.UserStats
	err := s.db.QueryRow(ctx, `
SELECT owner_id, checkins_created, checkins_completed, alerts_triggered, broadcasts_sent, updated_at
FROM user_stats
WHERE owner_id = $1
`, ownerID).Scan(&st.OwnerID, &st.CheckInsCreated, &st.CheckInsCompleted, &st.AlertsTriggered, &st.BroadcastsSent, &st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return &models.UserStats{OwnerID: ownerID}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select user stats")
	}
	return &st, nil
}
