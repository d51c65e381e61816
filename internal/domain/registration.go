package domain

import (
	"time"

	"github.com/google/uuid"
)

type Registration struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	StudentID     uuid.UUID
	Type          RegistrationType
	Status        RegistrationStatus
	PaymentStatus PaymentStatus
	PaymentRef    *string
	AmountPaid    float64
	RegisteredAt  time.Time
	CancelledAt   *time.Time
	CancelledBy   *uuid.UUID
	CancelReason  *string
	RefundStatus  RefundStatus
	RefundAmount  float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r *Registration) Active() bool { return r.Status != StatusCancelled }

// Student carries the identity fields registration cares about.
// RegistrationNo is the school-issued number bulk uploads identify rows by;
// it is unique within a school, not globally.
type Student struct {
	ID             uuid.UUID
	SchoolID       uuid.UUID
	RegistrationNo string
	FullName       string
	Active         bool
}
