package channel

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/besties-app/safecheck/internal/models"
)

// Имена каналов. Порядок приоритета задаёт диспетчер: бесплатные каналы
// раньше платных.
const (
	NamePush     = "push"
	NameTelegram = "telegram"
	NameDiscord  = "discord"
	NamePeer     = "peer"
	NameEmail    = "email"
	NameSMS      = "sms"
)

// Message — два рендера одного алерта. Short без URL и разметки, для
// платных/SMS-подобных каналов (спам-фильтры). Full — для бесплатных.
type Message struct {
	Kind    string
	Subject string
	Short   string
	Full    string
}

// Channel — единый контракт транспорта. Send возвращает provider message ID.
type Channel interface {
	Name() string
	// Eligible — настроен ли канал у контакта и включён ли он.
	Eligible(c models.Contact) bool
	Send(ctx context.Context, c models.Contact, msg Message) (string, error)
}

// TransientError помечает ошибку провайдера как временную: сетевые сбои,
// таймауты, 429/5xx. Только такие ошибки ретраятся.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ClassifyHTTPStatus: 429 и 5xx считаем временными, остальные не-2xx — постоянными.
func ClassifyHTTPStatus(provider string, status int) error {
	if status/100 == 2 {
		return nil
	}
	if status == 429 || status/100 == 5 {
		return Transientf("%s http %d", provider, status)
	}
	return fmt.Errorf("%s http %d", provider, status)
}
