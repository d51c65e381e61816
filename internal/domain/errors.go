package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEventNotFound        = errors.New("event not found")
	ErrStudentNotFound      = errors.New("student not found")
	ErrRegistrationNotFound = errors.New("registration not found")
	ErrRequestNotFound      = errors.New("bulk registration request not found")

	ErrEventFull          = errors.New("event is full")
	ErrRegistrationClosed = errors.New("event is not open for registration")
	ErrAlreadyRegistered  = errors.New("student is already registered for this event")
	ErrAlreadyCancelled   = errors.New("registration is already cancelled")

	ErrRequestExpired    = errors.New("bulk registration request has expired")
	ErrRequestNotPending = errors.New("bulk registration request was already decided")

	ErrOwnership   = errors.New("actor does not manage this event")
	ErrSchoolScope = errors.New("student belongs to a different school")
	ErrForbidden   = errors.New("actor is not allowed to perform this operation")

	ErrPaymentNotCompleted = errors.New("payment has not been completed")
)

// ValidationError marks malformed or out-of-policy input. Callers get the
// message verbatim; retrying without changing the request will not help.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RateLimitError rejects an operation that is allowed in principle but not
// yet: cooldown still running, daily quota spent. RetryAfter tells the caller
// when trying again can succeed.
type RateLimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return e.Reason }

func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// TransientStoreError wraps infrastructure failures (deadlock victim,
// serialization failure, dropped connection) that a bounded retry of the whole
// transaction may resolve.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store failure in %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var te *TransientStoreError
	return errors.As(err, &te)
}
