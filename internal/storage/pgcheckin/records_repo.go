package pgcheckin

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/models"
)

func (s *Storage) InsertNotification(ctx context.Context, n models.Notification) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO notifications (checkin_id, owner_id, contact_id, kind, body, channels, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, n.CheckInID, n.OwnerID, n.ContactID, n.Kind, n.Body, n.Channels, n.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert notification")
	}
	return id, nil
}

func (s *Storage) ListNotifications(ctx context.Context, contactID string, limit, offset int) ([]*models.Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, checkin_id, owner_id, contact_id, kind, body, channels, created_at
FROM notifications
WHERE contact_id = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`, contactID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select notifications")
	}
	defer rows.Close()

	var out []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(
			&n.ID, &n.CheckInID, &n.OwnerID, &n.ContactID, &n.Kind, &n.Body, &n.Channels, &n.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		out = append(out, &n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) ListAlertResponses(ctx context.Context, checkinID uint64) ([]*models.AlertResponse, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, checkin_id, owner_id, responder_id, latency_ms, created_at
FROM alert_responses
WHERE checkin_id = $1
ORDER BY created_at ASC
`, checkinID)
	if err != nil {
		return nil, errors.Wrap(err, "select alert responses")
	}
	defer rows.Close()

	var out []*models.AlertResponse
	for rows.Next() {
		var r models.AlertResponse
		var latencyMS int64
		if err := rows.Scan(&r.ID, &r.CheckInID, &r.OwnerID, &r.ResponderID, &latencyMS, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan alert response")
		}
		r.Latency = time.Duration(latencyMS) * time.Millisecond
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) InsertIncident(ctx context.Context, inc models.Incident) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO incidents (id, owner_id, location, message, contact_count, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, inc.ID, inc.OwnerID, inc.Location, inc.Message, inc.ContactCount, inc.CreatedAt.UTC())
	return errors.Wrap(err, "insert incident")
}

func (s *Storage) CountIncidentsSince(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*) FROM incidents WHERE owner_id = $1 AND created_at > $2
`, ownerID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count incidents")
	}
	return n, nil
}

func (s *Storage) InsertInvite(ctx context.Context, inv models.ContactInvite) (uint64, error) {
	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO contact_invites (owner_id, invitee_id, created_at)
VALUES ($1,$2,$3)
RETURNING id
`, inv.OwnerID, inv.InviteeID, inv.CreatedAt.UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert invite")
	}
	return id, nil
}

func (s *Storage) CountInvitesSince(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
SELECT COUNT(*) FROM contact_invites WHERE owner_id = $1 AND created_at > $2
`, ownerID, since.UTC()).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count invites")
	}
	return n, nil
}
