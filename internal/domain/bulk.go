package domain

import (
	"time"

	"github.com/google/uuid"
)

// BulkRowError records why one row of a bulk upload was not registered.
// Row is the 1-based position in the submitted batch.
type BulkRowError struct {
	Row        int    `json:"row"`
	Identifier string `json:"identifier"`
	Message    string `json:"message"`
}

// BulkReport aggregates the per-row outcomes of one bulk upload.
// Total = Successful + Failed + Duplicate always holds.
type BulkReport struct {
	Total      int            `json:"total"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Duplicate  int            `json:"duplicate"`
	Errors     []BulkRowError `json:"errors,omitempty"`
}

func (r *BulkReport) AddSuccess() { r.Total++; r.Successful++ }

func (r *BulkReport) AddDuplicate(row int, id string) {
	r.Total++
	r.Duplicate++
	r.Errors = append(r.Errors, BulkRowError{Row: row, Identifier: id, Message: "already registered"})
}

func (r *BulkReport) AddFailure(row int, id, msg string) {
	r.Total++
	r.Failed++
	r.Errors = append(r.Errors, BulkRowError{Row: row, Identifier: id, Message: msg})
}

// NeedsAttention flags reports where failures dominate, so operators can spot
// uploads that largely bounced (wrong file, wrong school) in the log list.
func (r *BulkReport) NeedsAttention() bool {
	return r.Total > 0 && r.Failed*2 > r.Total
}

// BulkLog is the persisted record of one bulk upload attempt. Every upload
// writes exactly one log, whether it executed directly or went through
// approval; upload history for cooldowns is derived from these rows.
type BulkLog struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	ActorID        uuid.UUID
	ActorRole      Role
	Attempted      int
	Succeeded      int
	Failed         int
	Duplicate      int
	Errors         []BulkRowError
	RequestID      *uuid.UUID
	Status         BulkLogStatus
	NeedsAttention bool
	ArchiveKey     *string
	CreatedAt      time.Time
}

// BulkRequest is a bulk upload parked for admin approval. Candidates keeps
// the submitted registration numbers verbatim; they are re-validated at
// approval time since students and the event may have changed while pending.
type BulkRequest struct {
	ID             uuid.UUID
	EventID        uuid.UUID
	ActorID        uuid.UUID
	ActorRole      Role
	SchoolID       uuid.UUID
	Candidates     []string
	CandidateCount int
	Status         RequestStatus
	Reason         *string
	DecidedBy      *uuid.UUID
	DecidedAt      *time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

func (r *BulkRequest) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// PendingApproval is the upload outcome when the batch exceeded the approval
// threshold: nothing was registered, an approval request was filed instead.
type PendingApproval struct {
	RequestID      uuid.UUID `json:"request_id"`
	CandidateCount int       `json:"candidate_count"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// BulkOutcome is what an upload returns: exactly one of Report (executed) or
// Pending (parked for approval) is set.
type BulkOutcome struct {
	Report  *BulkReport      `json:"report,omitempty"`
	Pending *PendingApproval `json:"pending_approval,omitempty"`
}
