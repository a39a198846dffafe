package scanner

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
	ClaimExpired(ctx context.Context, now time.Time, limit int) ([]*models.CheckIn, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Notifier interface {
	Notify(ctx context.Context, contact models.Contact, ac dispatch.AlertContext) ([]string, error)
}

// Scanner переводит просроченные чек-ины в ALERTED и шлёт первый алерт.
// Сам перевод атомарен на стороне базы (ClaimExpired), так что несколько
// воркеров не поднимут один алерт дважды.
type Scanner struct {
	repo     Repository
	contacts contacts.Store
	notifier Notifier
	producer Producer

	topic string

	scanInterval time.Duration
	batchSize    int
	concurrency  int

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalProcessed      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, cs contacts.Store, notifier Notifier, producer Producer, topic string) *Scanner {
	return &Scanner{
		repo: repo, contacts: cs, notifier: notifier, producer: producer, topic: topic,
		scanInterval:      2 * time.Second,
		batchSize:         100,
		concurrency:       10,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Scanner) WithSettings(scanInterval time.Duration, batchSize, concurrency int) *Scanner {
	if scanInterval > 0 {
		s.scanInterval = scanInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	return s
}

// Trigger forces an immediate scan cycle (best-effort, non-blocking).
func (s *Scanner) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalProcessed int64      `json:"totalProcessed"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (s *Scanner) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed:   s.totalClaimed.Load(),
		TotalProcessed: s.totalProcessed.Load(),
		TotalErrors:    s.totalErrors.Load(),
		InFlight:       s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Scanner) Run(ctx context.Context) error {
	t := time.NewTicker(s.scanInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Scanner) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())

	items, err := s.repo.ClaimExpired(ctx, now, s.batchSize)
	if err != nil {
		slog.Error("claim expired checkins", "error", err.Error())
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		return
	}
	s.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, c := range items {
		sem <- struct{}{}
		wg.Add(1)
		cCopy := c
		s.inFlight.Add(1)
		go func() {
			defer func() {
				s.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := s.processOne(ctx, cCopy); err != nil {
				s.totalErrors.Add(1)
				s.lastErrorMu.Lock()
				s.lastError = err.Error()
				s.lastErrorMu.Unlock()
				slog.Error("raise alert", "checkin_id", cCopy.ID, "error", err.Error())
			}
			s.totalProcessed.Add(1)
		}()
	}
	wg.Wait()
}

// processOne поднимает алерт по одному уже заклеймленному чек-ину: событие в
// kafka плюс доставка первому контакту. Чек-ин уже в ALERTED независимо от
// исхода доставки: если контакт недоступен, его дожмёт эскалация.
func (s *Scanner) processOne(ctx context.Context, c *models.CheckIn) error {
	now := time.Now().UTC()

	if err := s.publishRaised(ctx, c, now); err != nil {
		slog.Error("publish alert.raised", "checkin_id", c.ID, "error", err.Error())
	}

	if c.CurrentNotifiedContact == nil {
		return errors.Errorf("checkin %d claimed without a contact to notify", c.ID)
	}
	contactID := *c.CurrentNotifiedContact

	cts, err := s.contacts.GetContacts(ctx, []string{contactID})
	if err != nil {
		return errors.Wrap(err, "load contact")
	}
	if len(cts) == 0 {
		return errors.Errorf("contact %s not found", contactID)
	}

	_, err = s.notifier.Notify(ctx, cts[0], dispatch.AlertContext{
		Kind:      models.NotificationKindAlert,
		CheckInID: c.ID,
		OwnerID:   c.OwnerID,
		OwnerName: c.OwnerID,
		Location:  c.Location,
		Elapsed:   now.Sub(c.AlertTime),
	})
	return err
}

func (s *Scanner) publishRaised(ctx context.Context, c *models.CheckIn, now time.Time) error {
	if s.producer == nil {
		return nil
	}
	ev := messages.CheckInEvent{
		EventID:   uuid.NewString(),
		Type:      messages.EventAlertRaised,
		At:        now,
		OwnerID:   c.OwnerID,
		CheckInID: c.ID,
	}
	if c.CurrentNotifiedContact != nil {
		ev.ContactID = *c.CurrentNotifiedContact
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal kafka msg")
	}
	key := []byte(fmt.Sprintf("%d", c.ID))
	// Kafka может быть не готова сразу после старта docker compose.
	// Для демо/устойчивости делаем небольшой retry.
	var pubErr error
	for i := 0; i < 10; i++ {
		if err := s.producer.Publish(ctx, s.topic, key, b); err == nil {
			return nil
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	return pubErr
}
