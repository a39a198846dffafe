package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/apperr"
	"github.com/besties-app/safecheck/internal/broker/messages"
	"github.com/besties-app/safecheck/internal/contacts"
	"github.com/besties-app/safecheck/internal/models"
	"github.com/besties-app/safecheck/internal/services/dispatch"
	"github.com/besties-app/safecheck/internal/services/ratelimit"
)

const maxMessageLen = 500

type Repository interface {
	InsertIncident(ctx context.Context, inc models.Incident) error
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

// SubscriberBroadcaster рассылает текст всем подписчикам владельца в
// мессенджере, минуя список избранных (telegram-бот).
type SubscriberBroadcaster interface {
	BroadcastSubscribers(ctx context.Context, ownerID, text string) (int, error)
}

// Result — итог одной SOS-рассылки: сколько контактов зацепили и по каким
// путям.
type Result struct {
	Incident       *models.Incident
	Notified       int
	SubscriberHits int
}

// Engine — экстренная рассылка по всем избранным контактам сразу, без
// цепочки эскалации. Лимит 3/час держит канал от случайного спама, но
// каждая отклонённая попытка возвращает владельцу окно сброса.
type Engine struct {
	repo        Repository
	contacts    contacts.Store
	notifier    Notifier
	producer    Producer
	limiter     Limiter
	broadcaster SubscriberBroadcaster

	topic       string
	concurrency int

	now func() time.Time
}

func New(repo Repository, cs contacts.Store, notifier Notifier, producer Producer, limiter Limiter, topic string) *Engine {
	return &Engine{
		repo:        repo,
		contacts:    cs,
		notifier:    notifier,
		producer:    producer,
		limiter:     limiter,
		topic:       topic,
		concurrency: 10,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (e *Engine) WithSubscriberBroadcaster(b SubscriberBroadcaster) *Engine {
	e.broadcaster = b
	return e
}

func (e *Engine) Trigger(ctx context.Context, ownerID, location, message string) (*Result, error) {
	if ownerID == "" {
		return nil, apperr.Validation("ownerId is required")
	}
	if len([]rune(message)) > maxMessageLen {
		return nil, apperr.Validation("message must be at most %d characters", maxMessageLen)
	}

	if err := e.limiter.Enforce(ctx, ratelimit.ActionSOS, ownerID); err != nil {
		return nil, err
	}

	favorites, err := e.contacts.GetFavorites(ctx, ownerID)
	if err != nil {
		return nil, errors.Wrap(err, "load favorites")
	}
	if len(favorites) == 0 {
		return nil, apperr.Validation("no favorite contacts to broadcast to")
	}

	now := e.now()
	inc := models.Incident{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Location:     location,
		Message:      message,
		ContactCount: len(favorites),
		CreatedAt:    now,
	}
	// Инцидент пишется до рассылки: он же backing-запись лимита, и след
	// должен остаться даже если все каналы упадут.
	if err := e.repo.InsertIncident(ctx, inc); err != nil {
		return nil, errors.Wrap(err, "insert incident")
	}

	ac := dispatch.AlertContext{
		Kind:      models.NotificationKindBroadcast,
		OwnerID:   ownerID,
		OwnerName: ownerID,
		Location:  location,
		Message:   message,
	}

	res := &Result{Incident: &inc}

	var subWG sync.WaitGroup
	if e.broadcaster != nil {
		subWG.Add(1)
		go func() {
			defer subWG.Done()
			n, err := e.broadcaster.BroadcastSubscribers(ctx, ownerID, dispatch.Render(ac, models.Contact{}).Short)
			if err != nil {
				slog.Warn("broadcast to subscribers", "owner_id", ownerID, "error", err.Error())
				return
			}
			res.SubscriberHits = n
		}()
	}

	// Все избранные получают SOS одновременно, не по очереди.
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, ct := range favorites {
		sem <- struct{}{}
		wg.Add(1)
		ctCopy := ct
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			delivered, err := e.notifier.Notify(ctx, ctCopy, ac)
			if err != nil {
				slog.Error("sos notify", "incident_id", inc.ID, "contact_id", ctCopy.ID, "error", err.Error())
				return
			}
			if len(delivered) > 0 {
				mu.Lock()
				res.Notified++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	subWG.Wait()

	e.publishTriggered(ctx, inc)
	return res, nil
}

func (e *Engine) publishTriggered(ctx context.Context, inc models.Incident) {
	if e.producer == nil {
		return
	}
	ev := messages.CheckInEvent{
		EventID:      uuid.NewString(),
		Type:         messages.EventSOSTriggered,
		At:           e.now(),
		OwnerID:      inc.OwnerID,
		IncidentID:   inc.ID,
		ContactCount: inc.ContactCount,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal kafka msg", "error", err.Error())
		return
	}
	if err := e.producer.Publish(ctx, e.topic, []byte(inc.OwnerID), b); err != nil {
		slog.Error("publish sos.triggered", "incident_id", inc.ID, "error", err.Error())
	}
}
