package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/besties-app/safecheck/internal/integrations/channel"
	"github.com/besties-app/safecheck/internal/models"
)

const maxNameLen = 40

// AlertContext — всё, что нужно для рендера одного логического алерта.
// Оба варианта текста (Short/Full) выводятся из него.
type AlertContext struct {
	Kind      string
	CheckInID uint64
	OwnerID   string
	OwnerName string
	Location  string
	// Elapsed — сколько прошло с момента alert_time (для ALERT/эскалаций).
	Elapsed time.Duration
	// Message — свободный текст (SOS, инвайты).
	Message string
}

// SanitizeName схлопывает прогоны из 3+ одинаковых символов до двух и
// ограничивает длину: имя приходит от пользователя и попадает в SMS.
func SanitizeName(name string) string {
	var b strings.Builder
	var last rune
	run := 0
	for _, r := range name {
		if r == last {
			run++
		} else {
			last = r
			run = 1
		}
		if run <= 2 {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if rs := []rune(s); len(rs) > maxNameLen {
		s = string(rs[:maxNameLen])
	}
	return strings.TrimSpace(s)
}

func elapsedText(d time.Duration) string {
	if d < time.Minute {
		return "less than a minute"
	}
	m := int(d.Minutes())
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}

// Render собирает оба варианта сообщения. Short — без URL и разметки,
// чтобы не застревать в спам-фильтрах платных каналов.
func Render(ac AlertContext, contact models.Contact) channel.Message {
	owner := SanitizeName(ac.OwnerName)
	if owner == "" {
		owner = "Your bestie"
	}
	to := SanitizeName(contact.DisplayName)

	var subject, short, full string
	switch ac.Kind {
	case models.NotificationKindAlert:
		subject = fmt.Sprintf("%s missed a safety check-in", owner)
		short = fmt.Sprintf("%s missed a safety check-in (%s ago). Location: %s. Please reach out and confirm in the app.",
			owner, elapsedText(ac.Elapsed), ac.Location)
		full = fmt.Sprintf("Hi %s! %s started a check-in at %q and hasn't confirmed they're safe (%s past the deadline). Please check on them and acknowledge: https://besties.app/checkins/%d",
			to, owner, ac.Location, elapsedText(ac.Elapsed), ac.CheckInID)

	case models.NotificationKindBroadcast:
		subject = fmt.Sprintf("SOS from %s", owner)
		short = fmt.Sprintf("SOS from %s. Location: %s. %s", owner, ac.Location, ac.Message)
		full = fmt.Sprintf("Hi %s! %s triggered an SOS at %q: %s Open https://besties.app/sos to respond.",
			to, owner, ac.Location, ac.Message)

	case models.NotificationKindCreated:
		subject = fmt.Sprintf("%s started a check-in", owner)
		short = fmt.Sprintf("%s started a safety check-in at %s. You're on their trusted list.", owner, ac.Location)
		full = fmt.Sprintf("Hi %s! %s started a safety check-in at %q and added you as a trusted contact. You'll be alerted if they don't confirm in time.",
			to, owner, ac.Location)

	case models.NotificationKindCompleted:
		subject = fmt.Sprintf("%s is safe", owner)
		short = fmt.Sprintf("%s completed their check-in. All good.", owner)
		full = fmt.Sprintf("Hi %s! %s confirmed they're safe and completed their check-in.", to, owner)

	case models.NotificationKindExtended:
		subject = fmt.Sprintf("%s extended their check-in", owner)
		short = fmt.Sprintf("%s extended their safety check-in.", owner)
		full = fmt.Sprintf("Hi %s! %s extended their safety check-in at %q.", to, owner, ac.Location)

	case models.NotificationKindInvite:
		subject = fmt.Sprintf("%s wants you as a trusted contact", owner)
		short = fmt.Sprintf("%s invited you to be their trusted contact in Besties.", owner)
		full = fmt.Sprintf("Hi %s! %s invited you to be their trusted safety contact. Accept at https://besties.app/invites",
			to, owner)

	default:
		subject = "Besties notification"
		short = ac.Message
		full = ac.Message
	}

	return channel.Message{
		Kind:    ac.Kind,
		Subject: subject,
		Short:   short,
		Full:    full,
	}
}
