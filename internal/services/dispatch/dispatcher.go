package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	"github.com/besties-app/safecheck/internal/models"
)

type Recorder interface {
	InsertNotification(ctx context.Context, n models.Notification) (uint64, error)
}

// Dispatcher доставляет один логический алерт одному контакту по
// приоритетному списку каналов: идём сверху вниз, останавливаемся на первом
// успехе. Падение одного канала не блокирует следующий.
type Dispatcher struct {
	channels []channel.Channel
	recorder Recorder
	retry    channel.RetryConfig

	now func() time.Time
}

// New принимает каналы в порядке приоритета (бесплатные раньше платных).
func New(channels []channel.Channel, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		channels: channels,
		recorder: recorder,
		retry:    channel.DefaultRetryConfig(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (d *Dispatcher) WithRetry(cfg channel.RetryConfig) *Dispatcher {
	d.retry = cfg
	return d
}

// Notify возвращает имена каналов, по которым доставка прошла. Пустой
// список — не ошибка: внутренняя запись уведомления пишется всегда и
// остаётся единственным долговечным следом "этому контакту слали алерт".
func (d *Dispatcher) Notify(ctx context.Context, contact models.Contact, ac AlertContext) ([]string, error) {
	msg := Render(ac, contact)

	var succeeded []string
	for _, ch := range d.channels {
		if !ch.Eligible(contact) {
			continue
		}
		id, err := channel.SendWithRetry(ctx, ch, contact, msg, d.retry)
		if err != nil {
			slog.Warn("channel send failed",
				"channel", ch.Name(), "contact_id", contact.ID, "kind", ac.Kind, "error", err.Error())
			continue
		}
		slog.Info("alert delivered",
			"channel", ch.Name(), "contact_id", contact.ID, "kind", ac.Kind, "provider_msg_id", id)
		succeeded = append(succeeded, ch.Name())
		break
	}

	var checkinID *uint64
	if ac.CheckInID != 0 {
		id := ac.CheckInID
		checkinID = &id
	}
	_, recErr := d.recorder.InsertNotification(ctx, models.Notification{
		CheckInID: checkinID,
		OwnerID:   ac.OwnerID,
		ContactID: contact.ID,
		Kind:      ac.Kind,
		Body:      msg.Short,
		Channels:  succeeded,
		CreatedAt: d.now(),
	})
	if recErr != nil {
		if len(succeeded) == 0 {
			// Ни один канал не прошёл и записи нет — операция не произвела
			// вообще никакого эффекта, это уже ошибка вызова.
			return nil, errors.Wrap(recErr, "record notification")
		}
		slog.Error("record notification", "contact_id", contact.ID, "error", recErr.Error())
	}
	return succeeded, nil
}
