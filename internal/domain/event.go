package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event is the registration-side view of an event. Capacity nil means
// unlimited. ConfirmedCount and WaitlistedCount are denormalized counters
// maintained by the store; they are only trustworthy when the row was read
// under a lock.
type Event struct {
	ID                        uuid.UUID
	SchoolID                  uuid.UUID
	ManagerID                 uuid.UUID
	Title                     string
	Status                    EventStatus
	EventType                 EventType
	Price                     float64
	RefundEnabled             bool
	CancellationDeadlineHours int
	RefundTiers               []RefundTier
	WaitlistEnabled           bool
	Capacity                  *int
	ConfirmedCount            int
	WaitlistedCount           int
	StartDate                 time.Time
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

func (e *Event) Unlimited() bool { return e.Capacity == nil }

func (e *Event) Full() bool {
	return e.Capacity != nil && e.ConfirmedCount >= *e.Capacity
}

// FreeSlots returns how many confirmed seats remain. Unlimited events report
// at least the current waitlist size so promotion can always drain it.
func (e *Event) FreeSlots() int {
	if e.Capacity == nil {
		return e.WaitlistedCount
	}
	n := *e.Capacity - e.ConfirmedCount
	if n < 0 {
		return 0
	}
	return n
}

// OpenForSelfService reports whether a student may register right now.
// Only published events accept self-service registrations, and only until
// the event starts.
func (e *Event) OpenForSelfService(now time.Time) bool {
	return e.Status == EventPublished && now.Before(e.StartDate)
}

// AcceptsBulk reports whether the event's status admits bulk registration at
// all. Cancelled and completed events never do; the per-actor rules on top of
// this live on Actor.CheckBulkUpload.
func (e *Event) AcceptsBulk() bool {
	return e.Status != EventCancelled && e.Status != EventCompleted
}

func (e *Event) Paid() bool { return e.EventType == EventTypePaid && e.Price > 0 }

// RefundPolicy snapshots the fields the refund calculator needs. Cancel flows
// capture it inside the transaction so the quote and the persisted refund
// agree even if the event is edited concurrently.
func (e *Event) RefundPolicy() RefundPolicy {
	return RefundPolicy{
		EventType:                 e.EventType,
		Price:                     e.Price,
		RefundEnabled:             e.RefundEnabled,
		CancellationDeadlineHours: e.CancellationDeadlineHours,
		Tiers:                     e.RefundTiers,
		StartDate:                 e.StartDate,
	}
}
