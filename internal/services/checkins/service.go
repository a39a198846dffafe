package checkins

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/besties-app/safecheck/internal/apperr"
	"github.com/besties-app/safecheck/internal/broker/messages"
	"github.com/besties-app/safecheck/internal/cache"
	"github.com/besties-app/safecheck/internal/contacts"
	"github.com/besties-app/safecheck/internal/models"
	"github.com/besties-app/safecheck/internal/services/dispatch"
	"github.com/besties-app/safecheck/internal/services/ratelimit"
	"github.com/besties-app/safecheck/internal/storage/pgcheckin"
)

type Repository interface {
	CreateCheckIn(ctx context.Context, in models.CheckInCreateInput, now time.Time) (*models.CheckIn, error)
	GetCheckIn(ctx context.Context, id uint64) (*models.CheckIn, error)
	Complete(ctx context.Context, id uint64, now time.Time) (*models.CheckIn, bool, error)
	Extend(ctx context.Context, id uint64, minutes int, now time.Time) (*models.CheckIn, bool, error)
	Acknowledge(ctx context.Context, id uint64, contactID string, now time.Time) (*pgcheckin.AckResult, error)
	InsertInvite(ctx context.Context, inv models.ContactInvite) (uint64, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Notifier interface {
	Notify(ctx context.Context, contact models.Contact, ac dispatch.AlertContext) ([]string, error)
}

type Limiter interface {
	Enforce(ctx context.Context, action, subject string) error
}

// Service владеет жизненным циклом чек-ина и валидностью переходов:
// active -> alerted -> completed, назад дороги нет.
type Service struct {
	repo     Repository
	contacts contacts.Store
	notifier Notifier
	producer Producer
	limiter  Limiter
	cache    cache.BytesCache

	topic      string
	currentTTL time.Duration

	now func() time.Time
}

func New(repo Repository, cs contacts.Store, notifier Notifier, producer Producer, limiter Limiter, topic string) *Service {
	return &Service{
		repo:     repo,
		contacts: cs,
		notifier: notifier,
		producer: producer,
		limiter:  limiter,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithCache(c cache.BytesCache, ttl time.Duration) *Service {
	s.cache = c
	s.currentTTL = ttl
	return s
}

func (s *Service) Create(ctx context.Context, in models.CheckInCreateInput) (*models.CheckIn, error) {
	if in.OwnerID == "" {
		return nil, apperr.Validation("ownerId is required")
	}
	if in.DurationMinutes < models.MinDurationMinutes || in.DurationMinutes > models.MaxDurationMinutes {
		return nil, apperr.Validation("duration must be between %d and %d minutes", models.MinDurationMinutes, models.MaxDurationMinutes)
	}
	if len(in.ContactIDs) < models.MinContacts || len(in.ContactIDs) > models.MaxContacts {
		return nil, apperr.Validation("contacts must be between %d and %d", models.MinContacts, models.MaxContacts)
	}
	seen := make(map[string]struct{}, len(in.ContactIDs))
	for _, id := range in.ContactIDs {
		if id == "" {
			return nil, apperr.Validation("contact id must not be empty")
		}
		if id == in.OwnerID {
			return nil, apperr.Validation("owner cannot be their own trusted contact")
		}
		if _, ok := seen[id]; ok {
			return nil, apperr.Validation("duplicate contact id: %s", id)
		}
		seen[id] = struct{}{}
	}

	c, err := s.repo.CreateCheckIn(ctx, in, s.now())
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, messages.CheckInEvent{
		Type: messages.EventCheckInCreated, OwnerID: c.OwnerID, CheckInID: c.ID,
	})
	s.notifyContactsAsync(c, models.NotificationKindCreated)
	s.cacheSet(ctx, c)
	return c, nil
}

func (s *Service) Get(ctx context.Context, id uint64, callerID string) (*models.CheckIn, error) {
	if c := s.cacheGet(ctx, id); c != nil {
		if err := authorizeView(c, callerID); err != nil {
			return nil, err
		}
		return c, nil
	}

	c, err := s.repo.GetCheckIn(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.NotFound("checkin %d not found", id)
	}
	if err := authorizeView(c, callerID); err != nil {
		return nil, err
	}
	s.cacheSet(ctx, c)
	return c, nil
}

// Complete идемпотентен: повторный вызов на завершённом чек-ине — успех без
// повторных побочных эффектов. Статистику завершений здесь не трогаем —
// её ведёт консюмер событий, иначе посчитаем дважды.
func (s *Service) Complete(ctx context.Context, id uint64, callerID string) (*models.CheckIn, error) {
	existing, err := s.repo.GetCheckIn(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.NotFound("checkin %d not found", id)
	}
	if existing.OwnerID != callerID {
		return nil, apperr.Permission("only the owner can complete a check-in")
	}

	c, changed, err := s.repo.Complete(ctx, id, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return c, nil
	}

	s.publishEvent(ctx, messages.CheckInEvent{
		Type: messages.EventCheckInCompleted, OwnerID: c.OwnerID, CheckInID: c.ID,
	})
	s.notifyContactsAsync(c, models.NotificationKindCompleted)
	s.cacheSet(ctx, c)
	return c, nil
}

// Extend продлевает только активные чек-ины. Продление во время эскалации
// означало бы переход alerted -> active, который стейт-машина запрещает.
func (s *Service) Extend(ctx context.Context, id uint64, callerID string, minutes int) (*models.CheckIn, error) {
	if !models.ValidExtensions[minutes] {
		return nil, apperr.Validation("extension must be one of 15, 30 or 60 minutes")
	}

	existing, err := s.repo.GetCheckIn(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.NotFound("checkin %d not found", id)
	}
	if existing.OwnerID != callerID {
		return nil, apperr.Permission("only the owner can extend a check-in")
	}

	if err := s.limiter.Enforce(ctx, ratelimit.ActionExtend, callerID); err != nil {
		return nil, err
	}

	c, ok, err := s.repo.Extend(ctx, id, minutes, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.StateConflict("only active check-ins can be extended")
	}

	s.publishEvent(ctx, messages.CheckInEvent{
		Type: messages.EventCheckInExtended, OwnerID: c.OwnerID, CheckInID: c.ID,
	})
	s.cacheSet(ctx, c)
	return c, nil
}

// Acknowledge фиксирует подтверждение контакта. Повторное подтверждение —
// no-op без второго AlertResponse.
func (s *Service) Acknowledge(ctx context.Context, id uint64, contactID string) (*models.CheckIn, error) {
	existing, err := s.repo.GetCheckIn(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, apperr.NotFound("checkin %d not found", id)
	}
	if !existing.HasContact(contactID) {
		return nil, apperr.Permission("contact %s is not on the trusted list", contactID)
	}
	if existing.AlertedAt == nil {
		return nil, apperr.StateConflict("checkin %d has not been alerted", id)
	}

	res, err := s.repo.Acknowledge(ctx, id, contactID, s.now())
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, apperr.NotFound("checkin %d not found", id)
	}
	if !res.Already {
		s.publishEvent(ctx, messages.CheckInEvent{
			Type:           messages.EventAlertAcknowledged,
			OwnerID:        res.CheckIn.OwnerID,
			CheckInID:      res.CheckIn.ID,
			ContactID:      contactID,
			LatencySeconds: res.Latency.Seconds(),
		})
	}
	s.cacheSet(ctx, res.CheckIn)
	return res.CheckIn, nil
}

// SendInvite — минимальная операция инвайта: запись (она же backing-запись
// лимита 20/день) плюс best-effort уведомление приглашённому.
func (s *Service) SendInvite(ctx context.Context, ownerID, inviteeID string) error {
	if ownerID == "" || inviteeID == "" {
		return apperr.Validation("ownerId and inviteeId are required")
	}
	if ownerID == inviteeID {
		return apperr.Validation("cannot invite yourself")
	}
	if err := s.limiter.Enforce(ctx, ratelimit.ActionInvite, ownerID); err != nil {
		return err
	}

	if _, err := s.repo.InsertInvite(ctx, models.ContactInvite{
		OwnerID: ownerID, InviteeID: inviteeID, CreatedAt: s.now(),
	}); err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		cs, err := s.contacts.GetContacts(ctx, []string{inviteeID})
		if err != nil || len(cs) == 0 {
			return
		}
		_, _ = s.notifier.Notify(ctx, cs[0], dispatch.AlertContext{
			Kind: models.NotificationKindInvite, OwnerID: ownerID, OwnerName: ownerID,
		})
	}()
	return nil
}

func authorizeView(c *models.CheckIn, callerID string) error {
	if c.OwnerID == callerID || c.HasContact(callerID) {
		return nil
	}
	return apperr.Permission("caller is neither owner nor trusted contact")
}

// notifyContactsAsync шлёт информационные уведомления (created/completed)
// не блокируя вызов владельца: сбой доставки тут не влияет на операцию.
func (s *Service) notifyContactsAsync(c *models.CheckIn, kind string) {
	ids := append([]string(nil), c.ContactIDs...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cts, err := s.contacts.GetContacts(ctx, ids)
		if err != nil {
			slog.Warn("load contacts for notice", "checkin_id", c.ID, "error", err.Error())
			return
		}
		for _, ct := range cts {
			if _, err := s.notifier.Notify(ctx, ct, dispatch.AlertContext{
				Kind:      kind,
				CheckInID: c.ID,
				OwnerID:   c.OwnerID,
				OwnerName: c.OwnerID,
				Location:  c.Location,
			}); err != nil {
				slog.Warn("send notice", "checkin_id", c.ID, "contact_id", ct.ID, "error", err.Error())
			}
		}
	}()
}

func (s *Service) publishEvent(ctx context.Context, ev messages.CheckInEvent) {
	if s.producer == nil {
		return
	}
	ev.EventID = uuid.NewString()
	ev.At = s.now()

	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal event", "type", ev.Type, "error", err.Error())
		return
	}
	key := []byte(fmt.Sprintf("%d", ev.CheckInID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		// События — вторичный поток для скоринга; само действие уже прошло.
		slog.Error("publish event", "type", ev.Type, "error", err.Error())
	}
}

func (s *Service) cacheSet(ctx context.Context, c *models.CheckIn) {
	if s.cache == nil || s.currentTTL <= 0 {
		return
	}
	b, err := json.Marshal(c)
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, currentKey(c.ID), b, s.currentTTL)
}

func (s *Service) cacheGet(ctx context.Context, id uint64) *models.CheckIn {
	if s.cache == nil || s.currentTTL <= 0 {
		return nil
	}
	b, ok, err := s.cache.Get(ctx, currentKey(id))
	if err != nil || !ok {
		return nil
	}
	var c models.CheckIn
	if json.Unmarshal(b, &c) != nil {
		return nil
	}
	return &c
}

func currentKey(id uint64) string {
	return fmt.Sprintf("checkin:%d:current", id)
}
