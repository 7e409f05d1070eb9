package marketdata

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies errors surfaced by the Service.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindRateLimited Kind = "rate_limited"
	KindUnavailable Kind = "unavailable"
	KindInternal    Kind = "internal"
)

// Sentinels for errors.Is checks against an *Error of the same kind.
var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrRateLimited = &Error{Kind: KindRateLimited}
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrInternal    = &Error{Kind: KindInternal}
)

// Error is returned by every Service operation.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter hints when a retry may succeed (rate limited, unavailable).
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func NewValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func NewRateLimitError(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

func NewUnavailableError(message string, retryAfter time.Duration, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, RetryAfter: retryAfter, Err: cause}
}

func NewInternalError(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: cause}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
