package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/besties-app/safecheck/internal/apperr"
)

// Действия, ограниченные лимитами. У действий владельца есть естественная
// backing-запись (запись о продлении, инцидент, инвайт) — окно считается
// по ним. Анонимные/IP-ключи живут в redis-счётчике.
const (
	ActionExtend    = "checkin_extend"
	ActionSOS       = "sos_trigger"
	ActionInvite    = "contact_invite"
	ActionAnonymous = "anonymous"
)

type Limit struct {
	Count  int64
	Window time.Duration
}

type Limits struct {
	Extend    Limit
	SOS       Limit
	Invite    Limit
	Anonymous Limit
}

func DefaultLimits() Limits {
	return Limits{
		Extend:    Limit{Count: 10, Window: time.Hour},
		SOS:       Limit{Count: 3, Window: time.Hour},
		Invite:    Limit{Count: 20, Window: 24 * time.Hour},
		Anonymous: Limit{Count: 60, Window: time.Minute},
	}
}

type Result struct {
	Allowed   bool
	Limit     int64
	Count     int64
	Remaining int64
	ResetAt   time.Time
}

// Repository считает существующие записи субъекта моложе now-window.
// Отдельного состояния счётчика для этих действий нет.
type Repository interface {
	CountExtensionsSince(ctx context.Context, ownerID string, since time.Time) (int64, error)
	CountIncidentsSince(ctx context.Context, ownerID string, since time.Time) (int64, error)
	CountInvitesSince(ctx context.Context, ownerID string, since time.Time) (int64, error)
}

// WindowCounter — персистентный счётчик с самосбросом по истечении окна
// (redis INCR + TTL).
type WindowCounter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type Limiter struct {
	repo    Repository
	counter WindowCounter
	limits  Limits

	now func() time.Time
}

func New(repo Repository, counter WindowCounter, limits Limits) *Limiter {
	return &Limiter{
		repo:    repo,
		counter: counter,
		limits:  limits,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Check возвращает состояние окна для (subject, action), не меняя его для
// record-backed действий: сама запись действия появится после успеха вызова.
func (l *Limiter) Check(ctx context.Context, action, subject string) (Result, error) {
	now := l.now()

	switch action {
	case ActionExtend, ActionSOS, ActionInvite:
		limit := l.limitFor(action)
		count, err := l.countRecords(ctx, action, subject, now.Add(-limit.Window))
		if err != nil {
			return Result{}, err
		}
		remaining := limit.Count - count
		if remaining < 0 {
			remaining = 0
		}
		return Result{
			Allowed:   count < limit.Count,
			Limit:     limit.Count,
			Count:     count,
			Remaining: remaining,
			// Скользящее окно: точный момент сброса зависит от возраста
			// старейшей записи, для клиента достаточно верхней оценки.
			ResetAt: now.Add(limit.Window),
		}, nil

	case ActionAnonymous:
		limit := l.limits.Anonymous
		key := fmt.Sprintf("rl:%s:%s", action, subject)
		n, left, err := l.counter.Incr(ctx, key, limit.Window)
		if err != nil {
			return Result{}, err
		}
		remaining := limit.Count - n
		if remaining < 0 {
			remaining = 0
		}
		return Result{
			Allowed:   n <= limit.Count,
			Limit:     limit.Count,
			Count:     n,
			Remaining: remaining,
			ResetAt:   now.Add(left),
		}, nil

	default:
		return Result{}, fmt.Errorf("unknown rate limit action: %s", action)
	}
}

// Enforce — Check + типизированная ошибка при превышении. Запрос никогда не
// "тихо" отбрасывается: клиент получает limit/count/resetAt.
func (l *Limiter) Enforce(ctx context.Context, action, subject string) error {
	res, err := l.Check(ctx, action, subject)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return apperr.RateLimited(res.Limit, res.Count, res.ResetAt)
	}
	return nil
}

func (l *Limiter) limitFor(action string) Limit {
	switch action {
	case ActionExtend:
		return l.limits.Extend
	case ActionSOS:
		return l.limits.SOS
	case ActionInvite:
		return l.limits.Invite
	default:
		return l.limits.Anonymous
	}
}

func (l *Limiter) countRecords(ctx context.Context, action, subject string, since time.Time) (int64, error) {
	switch action {
	case ActionExtend:
		return l.repo.CountExtensionsSince(ctx, subject, since)
	case ActionSOS:
		return l.repo.CountIncidentsSince(ctx, subject, since)
	case ActionInvite:
		return l.repo.CountInvitesSince(ctx, subject, since)
	}
	return 0, fmt.Errorf("no backing records for action: %s", action)
}
