package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrCacheMiss = errors.New("cache miss")

type KeysetCursor struct {
	RegisteredAt time.Time
	ID           uuid.UUID
}

type EventStats struct {
	EventID         uuid.UUID
	Capacity        *int
	ConfirmedCount  int
	WaitlistedCount int
	CancelledCount  int
	UpdatedAt       time.Time
}

type RegistrationSource string

const (
	SourceSelf RegistrationSource = "self"
	SourceBulk RegistrationSource = "bulk"
)

// CreateCmd drives one registration insert. PaymentRef is only set after the
// provider verified the payment; WaivePayment marks bulk rows on paid events.
type CreateCmd struct {
	EventID          uuid.UUID
	StudentID        uuid.UUID
	Source           RegistrationSource
	OverrideCapacity bool
	WaivePayment     bool
	PaymentRef       *string
	AmountPaid       float64
}

// CancelCmd cancels one registration. OverrideAmount, when set, replaces the
// calculated refund with an operator decision (force-cancel path).
type CancelCmd struct {
	RegistrationID uuid.UUID
	CancelledBy    uuid.UUID
	Reason         string
	Forced         bool
	OverrideAmount *float64
}

type CancelResult struct {
	Registration *Registration
	Quote        RefundQuote
	Promoted     []PromotionRecord
}

type PromotionRecord struct {
	RegistrationID uuid.UUID
	EventID        uuid.UUID
	StudentID      uuid.UUID
}

// RegistrationStore handles DB transactions, locking, outbox writes, and
// read endpoints.
type RegistrationStore interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (*Event, error)
	GetStudent(ctx context.Context, studentID uuid.UUID) (*Student, error)
	// GetStudentsByRegNos resolves registration numbers to students. A nil
	// schoolID matches any school (admin uploads).
	GetStudentsByRegNos(ctx context.Context, schoolID *uuid.UUID, regNos []string) (map[string]*Student, error)
	GetRegistration(ctx context.Context, id uuid.UUID) (*Registration, error)

	CreateRegistration(ctx context.Context, cmd CreateCmd) (*Registration, error)
	CancelRegistration(ctx context.Context, cmd CancelCmd) (*CancelResult, error)
	MarkRefundProcessed(ctx context.Context, registrationID uuid.UUID) error
	PromoteWaitlisted(ctx context.Context, eventID uuid.UUID, slots int) ([]PromotionRecord, error)

	// Reads
	ListEventRegistrations(ctx context.Context, eventID uuid.UUID, statuses []RegistrationStatus, limit int, cursor *KeysetCursor) ([]Registration, *KeysetCursor, error)
	ListWaitlist(ctx context.Context, eventID uuid.UUID, limit int, cursor *KeysetCursor) ([]Registration, *KeysetCursor, error)
	ListStudentRegistrations(ctx context.Context, studentID uuid.UUID, limit int, cursor *KeysetCursor) ([]Registration, *KeysetCursor, error)
	GetStats(ctx context.Context, eventID uuid.UUID) (EventStats, error)

	// Bulk uploads
	ActorUploadHistory(ctx context.Context, actorID uuid.UUID) (UploadHistory, error)
	InsertBulkLog(ctx context.Context, log *BulkLog) error
	SetBulkLogArchiveKey(ctx context.Context, logID uuid.UUID, key string) error
	ListBulkLogs(ctx context.Context, eventID uuid.UUID, limit int) ([]BulkLog, error)

	// Approval requests
	CreateBulkRequest(ctx context.Context, req *BulkRequest) error
	GetBulkRequest(ctx context.Context, id uuid.UUID) (*BulkRequest, error)
	// ClaimBulkRequest moves PENDING to PROCESSING under the row lock,
	// lazily expiring first. ErrRequestExpired / ErrRequestNotPending on the
	// respective gates.
	ClaimBulkRequest(ctx context.Context, id uuid.UUID) (*BulkRequest, error)
	// FinalizeBulkRequest moves PROCESSING to APPROVED after the rows ran.
	FinalizeBulkRequest(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID) error
	// RejectBulkRequest moves PENDING to REJECTED with the given reason,
	// lazily expiring first.
	RejectBulkRequest(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, reason string) error
	// ExpireDueBulkRequests sweeps PENDING rows past their expiry.
	ExpireDueBulkRequests(ctx context.Context) (int, error)
	ListBulkRequests(ctx context.Context, status *RequestStatus, limit int) ([]BulkRequest, error)
}

type CacheRepository interface {
	GetEventPolicy(ctx context.Context, eventID uuid.UUID) (RefundPolicy, error)
	SetEventPolicy(ctx context.Context, eventID uuid.UUID, p RefundPolicy) error

	AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

type PaymentState string

const (
	PaymentStatePending   PaymentState = "pending"
	PaymentStateCompleted PaymentState = "completed"
	PaymentStateFailed    PaymentState = "failed"
)

// PaymentIntent is what a paid self-service create returns before any row is
// written: the student completes checkout, then retries create with OrderRef.
type PaymentIntent struct {
	OrderRef    string  `json:"order_ref"`
	Token       string  `json:"token,omitempty"`
	RedirectURL string  `json:"redirect_url,omitempty"`
	Amount      float64 `json:"amount"`
}

type PaymentRequest struct {
	OrderRef    string
	Amount      float64
	EventTitle  string
	StudentName string
}

// PaymentProvider talks to the external gateway. Never called inside a DB
// transaction.
type PaymentProvider interface {
	Initiate(ctx context.Context, req PaymentRequest) (*PaymentIntent, error)
	Verify(ctx context.Context, orderRef string) (PaymentState, error)
	Refund(ctx context.Context, orderRef string, amount float64, reason string) error
}

// ReportArchiver stores the full per-row report of a bulk upload outside the
// database. Best-effort; upload results never depend on it.
type ReportArchiver interface {
	Archive(ctx context.Context, logID uuid.UUID, report *BulkReport) (key string, err error)
}
