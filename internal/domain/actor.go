package domain

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleAdmin        Role = "ADMIN"
	RoleEventManager Role = "EVENT_MANAGER"
	RoleStudent      Role = "STUDENT"
)

// BulkLimits are the platform limits bulk uploads run under. Zero values
// disable the corresponding limit except MaxBatch, which is a hard cap and
// always enforced.
type BulkLimits struct {
	MaxBatch          int
	ApprovalThreshold int
	Cooldown          time.Duration
	DailyMax          int
	RequestTTL        time.Duration
}

// UploadHistory is derived from the actor's persisted bulk upload log, never
// from in-memory counters. UploadsToday counts logs created on the current
// UTC day.
type UploadHistory struct {
	LastUploadAt *time.Time
	UploadsToday int
}

// Actor is who performs registration operations. The two implementations,
// Admin and EventManager, carry their own restriction logic so call sites
// never switch on role strings.
type Actor interface {
	ActorID() uuid.UUID
	Role() Role

	// CheckBulkUpload applies the per-actor restrictions for a bulk upload
	// against ev. A nil return means the upload may proceed (possibly via
	// approval, see NeedsApproval).
	CheckBulkUpload(ev *Event, batchSize int, hist UploadHistory, limits BulkLimits, now time.Time) error

	// CanRegisterStudent reports whether the actor may register this
	// student at all. School scoping lives here.
	CanRegisterStudent(st *Student) bool

	// NeedsApproval reports whether a batch of this size must go through
	// the approval workflow instead of executing directly.
	NeedsApproval(batchSize int, limits BulkLimits) bool

	// CanOverrideCapacity reports whether the actor's registrations may
	// confirm past the event capacity.
	CanOverrideCapacity() bool
}

// Admin operates platform-wide: no ownership, school, cooldown or volume
// restrictions, and uploads of any size execute without approval.
type Admin struct {
	ID uuid.UUID
}

func (a Admin) ActorID() uuid.UUID { return a.ID }
func (a Admin) Role() Role         { return RoleAdmin }

func (a Admin) CheckBulkUpload(ev *Event, batchSize int, _ UploadHistory, limits BulkLimits, _ time.Time) error {
	if !ev.AcceptsBulk() {
		return ErrRegistrationClosed
	}
	if limits.MaxBatch > 0 && batchSize > limits.MaxBatch {
		return Validationf("batch of %d exceeds the maximum of %d rows per upload", batchSize, limits.MaxBatch)
	}
	return nil
}

func (a Admin) CanRegisterStudent(*Student) bool   { return true }
func (a Admin) NeedsApproval(int, BulkLimits) bool { return false }
func (a Admin) CanOverrideCapacity() bool          { return true }

// EventManager operates within one school and only on events it owns.
type EventManager struct {
	ID       uuid.UUID
	SchoolID uuid.UUID
}

func (m EventManager) ActorID() uuid.UUID { return m.ID }
func (m EventManager) Role() Role         { return RoleEventManager }

func (m EventManager) CheckBulkUpload(ev *Event, batchSize int, hist UploadHistory, limits BulkLimits, now time.Time) error {
	if !ev.AcceptsBulk() {
		return ErrRegistrationClosed
	}
	if ev.ManagerID != m.ID {
		return ErrOwnership
	}
	if ev.Status != EventDraft && ev.Status != EventRejected {
		return Validationf("bulk upload is only allowed while the event is in DRAFT or REJECTED status, current status is %s", ev.Status)
	}
	if limits.MaxBatch > 0 && batchSize > limits.MaxBatch {
		return Validationf("batch of %d exceeds the maximum of %d rows per upload", batchSize, limits.MaxBatch)
	}
	if limits.Cooldown > 0 && hist.LastUploadAt != nil {
		if since := now.Sub(*hist.LastUploadAt); since < limits.Cooldown {
			return &RateLimitError{
				Reason:     "bulk upload cooldown is still in effect",
				RetryAfter: limits.Cooldown - since,
			}
		}
	}
	if limits.DailyMax > 0 && hist.UploadsToday >= limits.DailyMax {
		return &RateLimitError{
			Reason:     "daily bulk upload limit reached",
			RetryAfter: untilNextUTCDay(now),
		}
	}
	return nil
}

func (m EventManager) CanRegisterStudent(st *Student) bool {
	return st != nil && st.SchoolID == m.SchoolID
}

func (m EventManager) NeedsApproval(batchSize int, limits BulkLimits) bool {
	return limits.ApprovalThreshold > 0 && batchSize > limits.ApprovalThreshold
}

func (m EventManager) CanOverrideCapacity() bool { return false }

func untilNextUTCDay(now time.Time) time.Duration {
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now.UTC())
}
