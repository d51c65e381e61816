package domain

type EventStatus string

const (
	EventDraft         EventStatus = "DRAFT"
	EventPendingReview EventStatus = "PENDING_REVIEW"
	EventPublished     EventStatus = "PUBLISHED"
	EventRejected      EventStatus = "REJECTED"
	EventCancelled     EventStatus = "CANCELLED"
	EventCompleted     EventStatus = "COMPLETED"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventDraft, EventPendingReview, EventPublished, EventRejected, EventCancelled, EventCompleted:
		return true
	}
	return false
}

type EventType string

const (
	EventTypeFree EventType = "FREE"
	EventTypePaid EventType = "PAID"
)

type RegistrationStatus string

const (
	StatusConfirmed  RegistrationStatus = "CONFIRMED"
	StatusWaitlisted RegistrationStatus = "WAITLISTED"
	StatusCancelled  RegistrationStatus = "CANCELLED"
)

func (s RegistrationStatus) Valid() bool {
	return s == StatusConfirmed || s == StatusWaitlisted || s == StatusCancelled
}

// Terminal reports whether no further transition may leave this status.
func (s RegistrationStatus) Terminal() bool { return s == StatusCancelled }

type RegistrationType string

const (
	TypePaid     RegistrationType = "PAID"
	TypeFree     RegistrationType = "FREE"
	TypeWaitlist RegistrationType = "WAITLIST"
)

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "NOT_REQUIRED"
	PaymentPending     PaymentStatus = "PENDING"
	PaymentCompleted   PaymentStatus = "COMPLETED"
	PaymentWaived      PaymentStatus = "WAIVED"
)

type RefundStatus string

const (
	RefundNone      RefundStatus = "NONE"
	RefundPending   RefundStatus = "PENDING"
	RefundProcessed RefundStatus = "PROCESSED"
	RefundDenied    RefundStatus = "DENIED"
)

type RequestStatus string

const (
	RequestPending    RequestStatus = "PENDING"
	RequestProcessing RequestStatus = "PROCESSING"
	RequestApproved   RequestStatus = "APPROVED"
	RequestRejected   RequestStatus = "REJECTED"
	RequestExpired    RequestStatus = "EXPIRED"
)

// Decided reports whether the request reached an outcome state. PENDING is the
// only state approve/reject/expire may leave from; decided states never
// transition again.
func (s RequestStatus) Decided() bool {
	return s == RequestApproved || s == RequestRejected || s == RequestExpired
}

type BulkLogStatus string

const (
	BulkLogCompleted       BulkLogStatus = "COMPLETED"
	BulkLogPendingApproval BulkLogStatus = "PENDING_APPROVAL"
)
