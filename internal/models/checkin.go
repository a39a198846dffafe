package models

import "time"

// Статусы чек-ина. Переходы только вперёд: active -> alerted -> completed.
const (
	CheckInStatusActive    = "ACTIVE"
	CheckInStatusAlerted   = "ALERTED"
	CheckInStatusCompleted = "COMPLETED"
)

const (
	MinDurationMinutes = 10
	MaxDurationMinutes = 180

	MinContacts = 1
	MaxContacts = 5
)

// ValidExtensions — допустимые продления чек-ина в минутах.
var ValidExtensions = map[int]bool{15: true, 30: true, 60: true}

type CheckIn struct {
	ID              uint64
	OwnerID         string
	Location        string
	DurationMinutes int

	// AlertTime только растёт (продление), никогда не уменьшается.
	AlertTime time.Time

	ContactIDs []string
	Status     string

	AcknowledgedBy         []string
	CurrentNotifiedContact *string
	// CurrentNotificationSentAt заполнен, пока идёт эскалация по текущему контакту.
	CurrentNotificationSentAt *time.Time
	NotifiedContactHistory    []string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	AlertedAt   *time.Time
	CompletedAt *time.Time
}

// Acknowledged reports whether the contact already confirmed this alert.
func (c *CheckIn) Acknowledged(contactID string) bool {
	for _, id := range c.AcknowledgedBy {
		if id == contactID {
			return true
		}
	}
	return false
}

// HasContact reports whether the contact belongs to the check-in's list.
func (c *CheckIn) HasContact(contactID string) bool {
	for _, id := range c.ContactIDs {
		if id == contactID {
			return true
		}
	}
	return false
}

// RemainingContacts возвращает контакты, до которых эскалация ещё не дошла,
// в порядке, заданном при создании чек-ина.
func (c *CheckIn) RemainingContacts() []string {
	notified := make(map[string]struct{}, len(c.NotifiedContactHistory))
	for _, id := range c.NotifiedContactHistory {
		notified[id] = struct{}{}
	}
	var out []string
	for _, id := range c.ContactIDs {
		if _, ok := notified[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

type CheckInCreateInput struct {
	OwnerID         string
	Location        string
	DurationMinutes int
	ContactIDs      []string
}

// AlertResponse — одна запись на первое подтверждение контакта.
// Потребляется внешним скорингом связей, здесь только пишем.
type AlertResponse struct {
	ID          uint64
	CheckInID   uint64
	OwnerID     string
	ResponderID string
	Latency     time.Duration
	CreatedAt   time.Time
}

// Notification kinds (durable in-app records, written regardless of
// channel delivery outcome).
const (
	NotificationKindAlert     = "ALERT"
	NotificationKindBroadcast = "BROADCAST"
	NotificationKindCreated   = "CREATED"
	NotificationKindCompleted = "COMPLETED"
	NotificationKindExtended  = "EXTENDED"
	NotificationKindInvite    = "INVITE"
)

type Notification struct {
	ID        uint64
	CheckInID *uint64
	OwnerID   string
	ContactID string
	Kind      string
	Body      string
	// Channels — каналы, по которым доставка реально прошла. Пустой список
	// означает "только внутренняя запись".
	Channels  []string
	CreatedAt time.Time
}

// Incident — запись о срабатывании экстренной рассылки (SOS).
type Incident struct {
	ID           string
	OwnerID      string
	Location     string
	Message      string
	ContactCount int
	CreatedAt    time.Time
}

type ContactInvite struct {
	ID        uint64
	OwnerID   string
	InviteeID string
	CreatedAt time.Time
}

type UserStats struct {
	OwnerID            string
	CheckInsCreated    int64
	CheckInsCompleted  int64
	AlertsTriggered    int64
	BroadcastsSent     int64
	UpdatedAt          time.Time
}

type IdempotencyRecord struct {
	EventID     string
	Outcome     string
	Payload     []byte
	ProcessedAt time.Time
}

const (
	IdempotencyOutcomeSuccess = "SUCCESS"
	IdempotencyOutcomeFailure = "FAILURE"
)
