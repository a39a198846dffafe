package messages

import "time"

// Типы событий домена. Публикуются в kafka для внешних потребителей
// (скоринг связей, аналитика круга) и для консюмера статистики.
const (
	EventCheckInCreated   = "checkin.created"
	EventCheckInCompleted = "checkin.completed"
	EventCheckInExtended  = "checkin.extended"
	EventAlertRaised      = "alert.raised"
	EventAlertEscalated   = "alert.escalated"
	EventAlertAcknowledged = "alert.acknowledged"
	EventSOSTriggered     = "sos.triggered"
)

type CheckInEvent struct {
	// EventID уникален; консюмеры используют его как idempotency-ключ.
	EventID string    `json:"event_id"`
	Type    string    `json:"type"`
	At      time.Time `json:"at"`

	OwnerID   string  `json:"owner_id"`
	CheckInID uint64  `json:"checkin_id,omitempty"`
	ContactID string  `json:"contact_id,omitempty"`

	// alert.acknowledged: задержка от alerted_at до подтверждения.
	LatencySeconds float64 `json:"latency_seconds,omitempty"`

	// sos.triggered: сколько контактов накрыла рассылка.
	ContactCount int    `json:"contact_count,omitempty"`
	IncidentID   string `json:"incident_id,omitempty"`
}
