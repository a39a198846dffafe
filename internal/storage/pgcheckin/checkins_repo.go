package pgcheckin

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/models"
)

const checkinCols = `
  id, owner_id, location, duration_minutes, alert_time,
  contact_ids, status, acknowledged_by,
  current_notified_contact, current_notification_sent_at, notified_contact_history,
  created_at, updated_at, alerted_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckIn(row rowScanner) (*models.CheckIn, error) {
	var c models.CheckIn
	if err := row.Scan(
		&c.ID, &c.OwnerID, &c.Location, &c.DurationMinutes, &c.AlertTime,
		&c.ContactIDs, &c.Status, &c.AcknowledgedBy,
		&c.CurrentNotifiedContact, &c.CurrentNotificationSentAt, &c.NotifiedContactHistory,
		&c.CreatedAt, &c.UpdatedAt, &c.AlertedAt, &c.CompletedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Storage) CreateCheckIn(ctx context.Context, in models.CheckInCreateInput, now time.Time) (*models.CheckIn, error) {
	alertTime := now.Add(time.Duration(in.DurationMinutes) * time.Minute)
	row := s.db.QueryRow(ctx, `
INSERT INTO checkins (
  owner_id, location, duration_minutes, alert_time, contact_ids, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
RETURNING `+checkinCols, in.OwnerID, in.Location, in.DurationMinutes, alertTime.UTC(), in.ContactIDs, models.CheckInStatusActive, now.UTC())

	c, err := scanCheckIn(row)
	if err != nil {
		return nil, errors.Wrap(err, "insert checkin")
	}
	return c, nil
}

// GetCheckIn возвращает (nil, nil), если чек-ин не найден.
func (s *Storage) GetCheckIn(ctx context.Context, id uint64) (*models.CheckIn, error) {
	row := s.db.QueryRow(ctx, `SELECT `+checkinCols+` FROM checkins WHERE id = $1`, id)
	c, err := scanCheckIn(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select checkin")
	}
	return c, nil
}

// ClaimExpired атомарно переводит пачку просроченных активных чек-инов в
// ALERTED и засевает поля эскалации первым контактом списка. Условие по
// статусу гарантирует, что параллельный сканер не захватит те же строки:
// для него это будет пустая выборка, не ошибка.
func (s *Storage) ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*models.CheckIn, error) {
	rows, err := s.db.Query(ctx, `
UPDATE checkins SET
  status = $3,
  alerted_at = $1,
  updated_at = $1,
  current_notified_contact = contact_ids[1],
  current_notification_sent_at = $1,
  notified_contact_history = ARRAY[contact_ids[1]]
WHERE id IN (
  SELECT id FROM checkins
  WHERE status = $4 AND alert_time <= $1
  ORDER BY alert_time ASC
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
RETURNING `+checkinCols, now.UTC(), limit, models.CheckInStatusAlerted, models.CheckInStatusActive)
	if err != nil {
		return nil, errors.Wrap(err, "claim expired checkins")
	}
	defer rows.Close()

	var out []*models.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan expired checkin")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// Complete переводит чек-ин в COMPLETED. Возвращает (checkin, changed):
// changed=false означает, что чек-ин уже был завершён (benign no-op).
func (s *Storage) Complete(ctx context.Context, id uint64, now time.Time) (*models.CheckIn, bool, error) {
	row := s.db.QueryRow(ctx, `
UPDATE checkins SET
  status = $3,
  completed_at = $2,
  updated_at = $2,
  current_notified_contact = NULL,
  current_notification_sent_at = NULL
WHERE id = $1 AND status <> $3
RETURNING `+checkinCols, id, now.UTC(), models.CheckInStatusCompleted)

	c, err := scanCheckIn(row)
	if err == pgx.ErrNoRows {
		existing, gerr := s.GetCheckIn(ctx, id)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "complete checkin")
	}
	return c, true, nil
}

// Extend продлевает активный чек-ин и пишет запись о продлении (она же —
// backing-запись для rate limit). ok=false, если чек-ин не ACTIVE.
func (s *Storage) Extend(ctx context.Context, id uint64, minutes int, now time.Time) (*models.CheckIn, bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
UPDATE checkins SET
  alert_time = alert_time + make_interval(mins => $2),
  duration_minutes = duration_minutes + $2,
  updated_at = $3
WHERE id = $1 AND status = $4
RETURNING `+checkinCols, id, minutes, now.UTC(), models.CheckInStatusActive)

	c, err := scanCheckIn(row)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "extend checkin")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO checkin_extensions (checkin_id, owner_id, minutes, created_at)
VALUES ($1,$2,$3,$4)
`, id, c.OwnerID, minutes, now.UTC())
	if err != nil {
		return nil, false, errors.Wrap(err, "insert extension record")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, errors.Wrap(err, "commit tx")
	}
	return c, true, nil
}

type AckResult struct {
	CheckIn *models.CheckIn
	// Already: контакт уже подтверждал раньше, AlertResponse не дублируем.
	Already bool
	Latency time.Duration
}

// Acknowledge фиксирует подтверждение контакта: добавляет его в
// acknowledged_by, пишет ровно один AlertResponse и, если подтвердил
// текущий эскалируемый контакт, останавливает эскалацию.
func (s *Storage) Acknowledge(ctx context.Context, id uint64, contactID string, now time.Time) (*AckResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+checkinCols+` FROM checkins WHERE id = $1 FOR UPDATE`, id)
	c, err := scanCheckIn(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select checkin for ack")
	}

	if c.Acknowledged(contactID) {
		return &AckResult{CheckIn: c, Already: true}, nil
	}

	var latency time.Duration
	if c.AlertedAt != nil {
		latency = now.Sub(*c.AlertedAt)
	}

	clearCurrent := c.CurrentNotifiedContact != nil && *c.CurrentNotifiedContact == contactID

	row = tx.QueryRow(ctx, `
UPDATE checkins SET
  acknowledged_by = array_append(acknowledged_by, $2),
  current_notified_contact = CASE WHEN $3 THEN NULL ELSE current_notified_contact END,
  current_notification_sent_at = CASE WHEN $3 THEN NULL ELSE current_notification_sent_at END,
  updated_at = $4
WHERE id = $1
RETURNING `+checkinCols, id, contactID, clearCurrent, now.UTC())
	c, err = scanCheckIn(row)
	if err != nil {
		return nil, errors.Wrap(err, "ack checkin")
	}

	_, err = tx.Exec(ctx, `
INSERT INTO alert_responses (checkin_id, owner_id, responder_id, latency_ms, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (checkin_id, responder_id) DO NOTHING
`, id, c.OwnerID, contactID, latency.Milliseconds(), now.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "insert alert response")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return &AckResult{CheckIn: c, Latency: latency}, nil
}

// ListEscalating возвращает чек-ины в ALERTED, у которых текущее уведомление
// старше cutoff (grace period истёк) и эскалация ещё не остановлена.
func (s *Storage) ListEscalating(ctx context.Context, cutoff time.Time, limit int) ([]*models.CheckIn, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+checkinCols+`
FROM checkins
WHERE status = $1
  AND current_notified_contact IS NOT NULL
  AND current_notification_sent_at <= $2
ORDER BY current_notification_sent_at ASC
LIMIT $3
`, models.CheckInStatusAlerted, cutoff.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select escalating checkins")
	}
	defer rows.Close()

	var out []*models.CheckIn
	for rows.Next() {
		c, err := scanCheckIn(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan escalating checkin")
		}
		out = append(out, c)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// AdvanceEscalation CAS-ом переводит "на вахту" следующий контакт. Условие по
// expect защищает от двух параллельных поллеров: второй получит ok=false.
func (s *Storage) AdvanceEscalation(ctx context.Context, id uint64, expect, next string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE checkins SET
  current_notified_contact = $3,
  current_notification_sent_at = $4,
  notified_contact_history = array_append(notified_contact_history, $3),
  updated_at = $4
WHERE id = $1 AND status = $5 AND current_notified_contact = $2
`, id, expect, next, now.UTC(), models.CheckInStatusAlerted)
	if err != nil {
		return false, errors.Wrap(err, "advance escalation")
	}
	return tag.RowsAffected() == 1, nil
}

// ClearEscalation снимает поля текущего уведомления (подтверждение получено
// или контакты исчерпаны). Чек-ин остаётся ALERTED до завершения владельцем.
func (s *Storage) ClearEscalation(ctx context.Context, id uint64, expect string, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE checkins SET
  current_notified_contact = NULL,
  current_notification_sent_at = NULL,
  updated_at = $3
WHERE id = $1 AND status = $4 AND current_notified_contact = $2
`, id, expect, now.UTC(), models.CheckInStatusAlerted)
	if err != nil {
		return false, errors.Wrap(err, "clear escalation")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) CountExtensionsSince(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*) FROM checkin_extensions WHERE owner_id = $1 AND created_at > $2
`, ownerID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count extensions")
	}
	return n, nil
}
