package idempotency

import (
	"context"
	"time"

	"github.com/besties-app/safecheck/internal/models"
)

type Store interface {
	GetIdempotencyRecord(ctx context.Context, eventID string) (*models.IdempotencyRecord, error)
	PutIdempotencyRecord(ctx context.Context, rec models.IdempotencyRecord) error
}

// Guard защищает внешне-ретраибельные события (webhook провайдера платежей,
// дубли шедулера) от повторных побочных эффектов. Переходы стейт-машины
// дают второй, дешёвый слой той же защиты.
type Guard struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Guard {
	return &Guard{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type ProcessResult struct {
	// AlreadyProcessed: событие уже успешно обработано, fn не вызывался.
	AlreadyProcessed bool
}

// Process выполняет fn ровно один раз на eventID. Исход пишется в ledger;
// повтор после FAILURE выполняет fn заново (ретрай провайдера легитимен),
// повтор после SUCCESS — короткое замыкание.
func (g *Guard) Process(ctx context.Context, eventID string, payload []byte, fn func(ctx context.Context) error) (ProcessResult, error) {
	rec, err := g.store.GetIdempotencyRecord(ctx, eventID)
	if err != nil {
		return ProcessResult{}, err
	}
	if rec != nil && rec.Outcome == models.IdempotencyOutcomeSuccess {
		return ProcessResult{AlreadyProcessed: true}, nil
	}

	fnErr := fn(ctx)

	outcome := models.IdempotencyOutcomeSuccess
	if fnErr != nil {
		outcome = models.IdempotencyOutcomeFailure
	}
	if putErr := g.store.PutIdempotencyRecord(ctx, models.IdempotencyRecord{
		EventID:     eventID,
		Outcome:     outcome,
		Payload:     payload,
		ProcessedAt: g.now(),
	}); putErr != nil && fnErr == nil {
		return ProcessResult{}, putErr
	}
	return ProcessResult{}, fnErr
}
