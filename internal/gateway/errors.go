package gateway

import (
	"errors"
	"fmt"
)

// Error is a failure talking to the payment provider. Transient errors
// (network trouble, provider 5xx) may be retried; permanent errors (rejected
// request, unsupported channel) must be surfaced immediately.
type Error struct {
	Op        string // gateway operation: "create", "cancel", "check"
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("payment gateway %s: %s error: %v", e.Op, kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps err as a retryable gateway failure.
func NewTransient(op string, err error) *Error {
	return &Error{Op: op, Transient: true, Err: err}
}

// NewPermanent wraps err as a non-retryable gateway failure.
func NewPermanent(op string, err error) *Error {
	return &Error{Op: op, Transient: false, Err: err}
}

// IsTransient reports whether err is a retryable gateway failure. Unknown
// errors count as transient: when in doubt the caller must assume the
// provider state is unknown, never that the operation definitely failed.
func IsTransient(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Transient
	}
	return true
}

// IsPermanent reports whether err is a definitive provider rejection.
func IsPermanent(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && !ge.Transient
}
