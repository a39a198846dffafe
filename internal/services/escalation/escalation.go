package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/broker/messages"
	"github.com/besties-app/safecheck/internal/contacts"
	"github.com/besties-app/safecheck/internal/models"
	"github.com/besties-app/safecheck/internal/services/dispatch"
)

type Repository interface {
	ListEscalating(ctx context.Context, cutoff time.Time, limit int) ([]*models.CheckIn, error)
	AdvanceEscalation(ctx context.Context, id uint64, expect, next string, now time.Time) (bool, error)
	ClearEscalation(ctx context.Context, id uint64, expect string, now time.Time) (bool, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Notifier interface {
	Notify(ctx context.Context, contact models.Contact, ac dispatch.AlertContext) ([]string, error)
}

// Engine двигает эскалацию по цепочке контактов: если текущий не подтвердил
// за grace period, на вахту ставится следующий. Переход — CAS в базе, так что
// два параллельных воркера не уведомят двух контактов за один шаг.
type Engine struct {
	repo     Repository
	contacts contacts.Store
	notifier Notifier
	producer Producer

	topic string

	scanInterval time.Duration
	gracePeriod  time.Duration
	batchSize    int
	concurrency  int

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalAdvanced     atomic.Int64
	totalCleared      atomic.Int64
	totalExhausted    atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, cs contacts.Store, notifier Notifier, producer Producer, topic string) *Engine {
	return &Engine{
		repo: repo, contacts: cs, notifier: notifier, producer: producer, topic: topic,
		scanInterval:      2 * time.Second,
		gracePeriod:       60 * time.Second,
		batchSize:         100,
		concurrency:       10,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (e *Engine) WithSettings(scanInterval, gracePeriod time.Duration, batchSize, concurrency int) *Engine {
	if scanInterval > 0 {
		e.scanInterval = scanInterval
	}
	if gracePeriod > 0 {
		e.gracePeriod = gracePeriod
	}
	if batchSize > 0 {
		e.batchSize = batchSize
	}
	if concurrency > 0 {
		e.concurrency = concurrency
	}
	return e
}

// Trigger forces an immediate escalation cycle (best-effort, non-blocking).
func (e *Engine) Trigger() {
	select {
	case e.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	TotalAdvanced  int64      `json:"totalAdvanced"`
	TotalCleared   int64      `json:"totalCleared"`
	TotalExhausted int64      `json:"totalExhausted"`
	TotalErrors    int64      `json:"totalErrors"`
	LastError      string     `json:"lastError,omitempty"`
}

func (e *Engine) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, e.startedAtUnixNano).UTC(),
		TotalAdvanced:  e.totalAdvanced.Load(),
		TotalCleared:   e.totalCleared.Load(),
		TotalExhausted: e.totalExhausted.Load(),
		TotalErrors:    e.totalErrors.Load(),
	}
	if n := e.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	e.lastErrorMu.Lock()
	st.LastError = e.lastError
	e.lastErrorMu.Unlock()
	return st
}

func (e *Engine) Run(ctx context.Context) error {
	t := time.NewTicker(e.scanInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			e.runOnce(ctx)
		case <-e.triggerCh:
			e.runOnce(ctx)
		}
	}
}

func (e *Engine) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	e.lastCycleUnixNano.Store(now.UnixNano())

	items, err := e.repo.ListEscalating(ctx, now.Add(-e.gracePeriod), e.batchSize)
	if err != nil {
		slog.Error("list escalating checkins", "error", err.Error())
		e.recordError(err)
		return
	}

	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	for _, c := range items {
		sem <- struct{}{}
		wg.Add(1)
		cCopy := c
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := e.processOne(ctx, cCopy); err != nil {
				e.totalErrors.Add(1)
				e.recordError(err)
				slog.Error("escalate checkin", "checkin_id", cCopy.ID, "error", err.Error())
			}
		}()
	}
	wg.Wait()
}

// processOne делает один шаг эскалации для одного чек-ина. Исходы:
// подтверждение уже есть — снять вахту; контакты кончились — снять вахту и
// оставить чек-ин в ALERTED владельцу; иначе — CAS на следующий контакт.
func (e *Engine) processOne(ctx context.Context, c *models.CheckIn) error {
	now := time.Now().UTC()
	if c.CurrentNotifiedContact == nil {
		return nil
	}
	current := *c.CurrentNotifiedContact

	if len(c.AcknowledgedBy) > 0 {
		ok, err := e.repo.ClearEscalation(ctx, c.ID, current, now)
		if err != nil {
			return err
		}
		if ok {
			e.totalCleared.Add(1)
		}
		return nil
	}

	remaining := c.RemainingContacts()
	if len(remaining) == 0 {
		ok, err := e.repo.ClearEscalation(ctx, c.ID, current, now)
		if err != nil {
			return err
		}
		if ok {
			e.totalExhausted.Add(1)
			slog.Warn("contact chain exhausted without acknowledgement",
				"checkin_id", c.ID, "owner_id", c.OwnerID, "contacts", len(c.ContactIDs))
		}
		return nil
	}

	next := remaining[0]
	ok, err := e.repo.AdvanceEscalation(ctx, c.ID, current, next, now)
	if err != nil {
		return err
	}
	if !ok {
		// Кто-то успел раньше: параллельный воркер или подтверждение контакта.
		return nil
	}
	e.totalAdvanced.Add(1)

	e.publishEscalated(ctx, c, next, now)

	cts, err := e.contacts.GetContacts(ctx, []string{next})
	if err != nil {
		return errors.Wrap(err, "load contact")
	}
	if len(cts) == 0 {
		return errors.Errorf("contact %s not found", next)
	}

	elapsed := time.Duration(0)
	if c.AlertedAt != nil {
		elapsed = now.Sub(*c.AlertedAt)
	}
	_, err = e.notifier.Notify(ctx, cts[0], dispatch.AlertContext{
		Kind:      models.NotificationKindAlert,
		CheckInID: c.ID,
		OwnerID:   c.OwnerID,
		OwnerName: c.OwnerID,
		Location:  c.Location,
		Elapsed:   elapsed,
	})
	return err
}

func (e *Engine) publishEscalated(ctx context.Context, c *models.CheckIn, next string, now time.Time) {
	if e.producer == nil {
		return
	}
	ev := messages.CheckInEvent{
		EventID:   uuid.NewString(),
		Type:      messages.EventAlertEscalated,
		At:        now,
		OwnerID:   c.OwnerID,
		CheckInID: c.ID,
		ContactID: next,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal kafka msg", "error", err.Error())
		return
	}
	if err := e.producer.Publish(ctx, e.topic, []byte(fmt.Sprintf("%d", c.ID)), b); err != nil {
		slog.Error("publish alert.escalated", "checkin_id", c.ID, "error", err.Error())
	}
}

func (e *Engine) recordError(err error) {
	e.lastErrorMu.Lock()
	e.lastError = err.Error()
	e.lastErrorMu.Unlock()
}
