package fake

import (
	"context"

	"github.com/besties-app/safecheck/internal/models"
)

// FakeStore — заглушка profile-сервиса для демо и тестов: все контакты
// существуют, включены и сидят в telegram.
type FakeStore struct{}

func New() *FakeStore { return &FakeStore{} }

func (f *FakeStore) GetContacts(ctx context.Context, ids []string) ([]models.Contact, error) {
	out := make([]models.Contact, 0, len(ids))
	for _, id := range ids {
		out = append(out, fakeContact(id))
	}
	return out, nil
}

func (f *FakeStore) GetFavorites(ctx context.Context, ownerID string) ([]models.Contact, error) {
	return []models.Contact{
		fakeContact(ownerID + "-bestie-1"),
		fakeContact(ownerID + "-bestie-2"),
	}, nil
}

func fakeContact(id string) models.Contact {
	return models.Contact{
		ID:                   id,
		DisplayName:          id,
		NotificationsEnabled: true,
		TelegramChatID:       "tg-" + id,
		TelegramEnabled:      true,
		Favorite:             true,
	}
}
