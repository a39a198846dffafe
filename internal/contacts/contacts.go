package contacts

import (
	"context"

	"github.com/besties-app/safecheck/internal/models"
)

// Store — внешний profile-сервис. Ядро только читает: снимок контакта
// (хэндлы каналов, opt-in'ы, платный SMS add-on) берётся свежим на каждую
// диспетчеризацию.
type Store interface {
	GetContacts(ctx context.Context, ids []string) ([]models.Contact, error)
	// GetFavorites возвращает контакты "круга" владельца — получателей
	// экстренной рассылки.
	GetFavorites(ctx context.Context, ownerID string) ([]models.Contact, error)
}
