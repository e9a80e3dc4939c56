// Package apperr carries the error taxonomy shared by the ledger, the room
// registry and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInvariant Kind = iota
	KindNotFound
	KindConflict
	KindInvalid
	KindPaymentRequired
	KindForbidden
	KindUnauthenticated
	KindRetryable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	case KindPaymentRequired:
		return "payment_required"
	case KindForbidden:
		return "forbidden"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindRetryable:
		return "retryable"
	default:
		return "invariant_violation"
	}
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalid:
		return http.StatusBadRequest
	case KindPaymentRequired:
		return http.StatusPaymentRequired
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure with a stable machine code.
type Error struct {
	Kind   Kind
	Code   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by code so wrapped copies still compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && t.Kind == e.Kind
}

func (e *Error) Retryable() bool { return e.Kind == KindRetryable }

func New(kind Kind, code, detail string) *Error {
	return &Error{Kind: kind, Code: code, Detail: detail}
}

// Wrap attaches a cause to a sentinel without losing its identity.
func Wrap(sentinel *Error, err error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Detail: sentinel.Detail, Err: err}
}

// Invariant reports a should-never-happen condition.
func Invariant(format string, args ...any) *Error {
	return &Error{Kind: KindInvariant, Code: "invariant_violation", Detail: fmt.Sprintf(format, args...)}
}

// From classifies any error; unknown errors become invariant violations.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInvariant, Code: "internal_error", Detail: "internal server error", Err: err}
}

func KindOf(err error) Kind {
	return From(err).Kind
}

var (
	ErrRoomNotFound       = New(KindNotFound, "room_not_found", "debate not found")
	ErrAccountNotFound    = New(KindNotFound, "account_not_found", "account not found")
	ErrUserNotFound       = New(KindNotFound, "user_not_found", "user not found")
	ErrRoomClosed         = New(KindInvalid, "room_closed", "debate is closed")
	ErrAlreadyJoined      = New(KindConflict, "already_joined", "already joined this debate")
	ErrRoomFull           = New(KindConflict, "room_full", "debate is full")
	ErrDuplicate          = New(KindConflict, "duplicate", "duplicate resource")
	ErrNotParticipant     = New(KindInvalid, "not_participant", "not a participant of this debate")
	ErrCreatorCannotLeave = New(KindInvalid, "creator_cannot_leave", "the creator cannot leave their own debate")
	ErrPaymentRequired    = New(KindPaymentRequired, "payment_required", "insufficient credits and no active subscription")
	ErrNothingToWithdraw  = New(KindInvalid, "nothing_to_withdraw", "no earnings available to withdraw")
	ErrForbidden          = New(KindForbidden, "forbidden", "permission denied")
	ErrUnauthenticated    = New(KindUnauthenticated, "unauthenticated", "authentication required")
	ErrBadSignature       = New(KindUnauthenticated, "bad_signature", "invalid webhook signature")
	ErrAccountLockTimeout = New(KindRetryable, "account_lock_timeout", "account is busy, retry shortly")
	ErrUnavailable        = New(KindRetryable, "unavailable", "storage temporarily unavailable")
)
