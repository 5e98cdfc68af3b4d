package status

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("status: not found")
	ErrInventoryExhausted = errors.New("status: inventory exhausted")
)

// ValidationError reports missing or invalid user input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// UnpaidError rejects an entry attempt for a unit that is not paid.
type UnpaidError struct {
	PaymentStatus string
}

func (e *UnpaidError) Error() string {
	return "ticket is not paid (status: " + e.PaymentStatus + ")"
}

// ConflictError reports a state that is already consumed, so the caller can
// show "already used at T" instead of a generic failure.
type ConflictError struct {
	Reason    string
	ScannedAt time.Time
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// UpstreamError wraps a gateway failure or a non-success gateway answer.
// Safe to retry by re-invoking the whole reconciliation routine.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream: %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
