// Package apperr defines the caller-facing error taxonomy. Background jobs
// never use these: they log and continue per item.
package apperr

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindPermission
	KindNotFound
	KindRateLimited
	KindStateConflict
)

type Error struct {
	Kind Kind
	Msg  string

	// Заполняется только для KindRateLimited.
	Limit   int64
	Count   int64
	ResetAt time.Time
}

func (e *Error) Error() string { return e.Msg }

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func Permission(format string, args ...any) error {
	return &Error{Kind: KindPermission, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func StateConflict(format string, args ...any) error {
	return &Error{Kind: KindStateConflict, Msg: fmt.Sprintf(format, args...)}
}

func RateLimited(limit, count int64, resetAt time.Time) error {
	return &Error{
		Kind:    KindRateLimited,
		Msg:     fmt.Sprintf("rate limit exceeded: %d/%d", count, limit),
		Limit:   limit,
		Count:   count,
		ResetAt: resetAt,
	}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// AsError возвращает типизированную ошибку, если она есть в цепочке.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
