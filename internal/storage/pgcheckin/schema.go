package pgcheckin

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS checkins (
  id BIGSERIAL PRIMARY KEY,
  owner_id TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  duration_minutes INT NOT NULL,
  alert_time TIMESTAMPTZ NOT NULL,
  contact_ids TEXT[] NOT NULL,
  status TEXT NOT NULL,
  acknowledged_by TEXT[] NOT NULL DEFAULT '{}',
  current_notified_contact TEXT NULL,
  current_notification_sent_at TIMESTAMPTZ NULL,
  notified_contact_history TEXT[] NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  alerted_at TIMESTAMPTZ NULL,
  completed_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_status_alert_time ON checkins(status, alert_time)`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_escalating ON checkins(status, current_notification_sent_at) WHERE current_notified_contact IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_checkins_owner ON checkins(owner_id)`,
		`
CREATE TABLE IF NOT EXISTS alert_responses (
  id BIGSERIAL PRIMARY KEY,
  checkin_id BIGINT NOT NULL REFERENCES checkins(id) ON DELETE CASCADE,
  owner_id TEXT NOT NULL,
  responder_id TEXT NOT NULL,
  latency_ms BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  UNIQUE (checkin_id, responder_id)
)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
  id BIGSERIAL PRIMARY KEY,
  checkin_id BIGINT NULL REFERENCES checkins(id) ON DELETE SET NULL,
  owner_id TEXT NOT NULL,
  contact_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  body TEXT NOT NULL DEFAULT '',
  channels TEXT[] NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_contact_created ON notifications(contact_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS incidents (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  message TEXT NOT NULL DEFAULT '',
  contact_count INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_owner_created ON incidents(owner_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS checkin_extensions (
  id BIGSERIAL PRIMARY KEY,
  checkin_id BIGINT NOT NULL REFERENCES checkins(id) ON DELETE CASCADE,
  owner_id TEXT NOT NULL,
  minutes INT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_checkin_extensions_owner_created ON checkin_extensions(owner_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS contact_invites (
  id BIGSERIAL PRIMARY KEY,
  owner_id TEXT NOT NULL,
  invitee_id TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_contact_invites_owner_created ON contact_invites(owner_id, created_at DESC)`,
		`
CREATE TABLE IF NOT EXISTS idempotency_keys (
  event_id TEXT PRIMARY KEY,
  outcome TEXT NOT NULL,
  payload JSONB NULL,
  processed_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS user_stats (
  owner_id TEXT PRIMARY KEY,
  checkins_created BIGINT NOT NULL DEFAULT 0,
  checkins_completed BIGINT NOT NULL DEFAULT 0,
  alerts_triggered BIGINT NOT NULL DEFAULT 0,
  broadcasts_sent BIGINT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
