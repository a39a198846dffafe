package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	"github.com/besties-app/safecheck/internal/models"
)

// FakeChannel — канал-заглушка для тестов и демо-режима. Поведение
// программируется полями, отправки копятся в Sent.
type FakeChannel struct {
	ChannelName string
	EligibleFn  func(models.Contact) bool
	Err         error

	mu   sync.Mutex
	Sent []SentMessage
	seq  int
}

type SentMessage struct {
	ContactID string
	Message   channel.Message
}

func New(name string) *FakeChannel {
	return &FakeChannel{ChannelName: name}
}

func (f *FakeChannel) Name() string { return f.ChannelName }

func (f *FakeChannel) Eligible(c models.Contact) bool {
	if f.EligibleFn != nil {
		return f.EligibleFn(c)
	}
	return c.NotificationsEnabled
}

func (f *FakeChannel) Send(ctx context.Context, c models.Contact, msg channel.Message) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.Sent = append(f.Sent, SentMessage{ContactID: c.ID, Message: msg})
	return fmt.Sprintf("%s-%d", f.ChannelName, f.seq), nil
}

func (f *FakeChannel) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}
