package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/besties-app/safecheck/internal/broker/messages"
	"github.com/besties-app/safecheck/internal/services/idempotency"
	"github.com/besties-app/safecheck/internal/storage/pgcheckin"
)

type Repository interface {
	ApplyStatsDelta(ctx context.Context, ownerID string, d pgcheckin.StatsDelta, now time.Time) error
}

type Guard interface {
	Process(ctx context.Context, eventID string, payload []byte, fn func(ctx context.Context) error) (idempotency.ProcessResult, error)
}

// Applier агрегирует user_stats из потока событий. Каждое событие проходит
// через idempotency guard: kafka отдаёт at-least-once, а счётчики
// инкрементальные и второго применения не переживут.
type Applier struct {
	repo  Repository
	guard Guard

	now func() time.Time
}

func NewApplier(repo Repository, guard Guard) *Applier {
	return &Applier{
		repo:  repo,
		guard: guard,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle — обработчик одного kafka-сообщения. Неизвестные типы событий
// пропускаются молча: топик общий с внешними потребителями.
func (a *Applier) Handle(ctx context.Context, value []byte) error {
	var ev messages.CheckInEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		// Битое сообщение ретраем не лечится, логируем и коммитим.
		slog.Error("unmarshal checkin event", "error", err.Error())
		return nil
	}

	d, ok := deltaFor(ev.Type)
	if !ok {
		return nil
	}
	if ev.EventID == "" || ev.OwnerID == "" {
		slog.Warn("event without id or owner, skipped", "type", ev.Type)
		return nil
	}

	_, err := a.guard.Process(ctx, ev.EventID, value, func(ctx context.Context) error {
		return a.repo.ApplyStatsDelta(ctx, ev.OwnerID, d, a.now())
	})
	return err
}

func deltaFor(eventType string) (pgcheckin.StatsDelta, bool) {
	switch eventType {
	case messages.EventCheckInCreated:
		return pgcheckin.StatsDelta{CheckInsCreated: 1}, true
	case messages.EventCheckInCompleted:
		return pgcheckin.StatsDelta{CheckInsCompleted: 1}, true
	case messages.EventAlertRaised:
		return pgcheckin.StatsDelta{AlertsTriggered: 1}, true
	case messages.EventSOSTriggered:
		return pgcheckin.StatsDelta{BroadcastsSent: 1}, true
	}
	return pgcheckin.StatsDelta{}, false
}
