package rest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/campusevents/registration-service/internal/domain"
)

var validate = validator.New()

// validateRequest runs the struct tags and folds the field errors into one
// message suitable for the error envelope.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "uuid":
		return fmt.Sprintf("%s must be a valid uuid", fe.Field())
	case "min":
		return fmt.Sprintf("%s must have at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must have at most %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// --- request bodies ---

type createRegistrationReq struct {
	EventID    string  `json:"event_id" validate:"required,uuid"`
	StudentID  string  `json:"student_id" validate:"omitempty,uuid"`
	PaymentRef *string `json:"payment_ref" validate:"omitempty,min=1,max=128"`
}

type forceCancelReq struct {
	RefundOverride *float64 `json:"refund_override" validate:"omitempty,gte=0"`
	Reason         string   `json:"reason" validate:"required,min=3,max=500"`
}

type bulkUploadReq struct {
	Candidates       []string `json:"candidates" validate:"required,min=1,dive,max=64"`
	CapacityOverride bool     `json:"capacity_override"`
}

type rejectRequestReq struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

type promoteReq struct {
	Slots int `json:"slots" validate:"required,gt=0"`
}

// --- response views ---
// Domain structs stay serialization-free; the views pin the wire names.

type registrationView struct {
	ID            uuid.UUID                 `json:"id"`
	EventID       uuid.UUID                 `json:"event_id"`
	StudentID     uuid.UUID                 `json:"student_id"`
	Type          domain.RegistrationType   `json:"type"`
	Status        domain.RegistrationStatus `json:"status"`
	PaymentStatus domain.PaymentStatus      `json:"payment_status"`
	PaymentRef    *string                   `json:"payment_ref,omitempty"`
	AmountPaid    float64                   `json:"amount_paid"`
	RegisteredAt  time.Time                 `json:"registered_at"`
	CancelledAt   *time.Time                `json:"cancelled_at,omitempty"`
	CancelReason  *string                   `json:"cancel_reason,omitempty"`
	RefundStatus  domain.RefundStatus       `json:"refund_status"`
	RefundAmount  float64                   `json:"refund_amount"`
}

func toRegistrationView(reg *domain.Registration) registrationView {
	return registrationView{
		ID:            reg.ID,
		EventID:       reg.EventID,
		StudentID:     reg.StudentID,
		Type:          reg.Type,
		Status:        reg.Status,
		PaymentStatus: reg.PaymentStatus,
		PaymentRef:    reg.PaymentRef,
		AmountPaid:    reg.AmountPaid,
		RegisteredAt:  reg.RegisteredAt,
		CancelledAt:   reg.CancelledAt,
		CancelReason:  reg.CancelReason,
		RefundStatus:  reg.RefundStatus,
		RefundAmount:  reg.RefundAmount,
	}
}

func registrationViews(regs []domain.Registration) []registrationView {
	out := make([]registrationView, 0, len(regs))
	for i := range regs {
		out = append(out, toRegistrationView(&regs[i]))
	}
	return out
}

type promotionView struct {
	RegistrationID uuid.UUID `json:"registration_id"`
	EventID        uuid.UUID `json:"event_id"`
	StudentID      uuid.UUID `json:"student_id"`
}

func promotionViews(promoted []domain.PromotionRecord) []promotionView {
	out := make([]promotionView, 0, len(promoted))
	for _, p := range promoted {
		out = append(out, promotionView{
			RegistrationID: p.RegistrationID,
			EventID:        p.EventID,
			StudentID:      p.StudentID,
		})
	}
	return out
}

type statsView struct {
	EventID    uuid.UUID `json:"event_id"`
	Capacity   *int      `json:"capacity,omitempty"`
	Confirmed  int       `json:"confirmed"`
	Waitlisted int       `json:"waitlisted"`
	Cancelled  int       `json:"cancelled"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toStatsView(s domain.EventStats) statsView {
	return statsView{
		EventID:    s.EventID,
		Capacity:   s.Capacity,
		Confirmed:  s.ConfirmedCount,
		Waitlisted: s.WaitlistedCount,
		Cancelled:  s.CancelledCount,
		UpdatedAt:  s.UpdatedAt,
	}
}

type bulkLogView struct {
	ID             uuid.UUID             `json:"id"`
	EventID        uuid.UUID             `json:"event_id"`
	ActorID        uuid.UUID             `json:"actor_id"`
	ActorRole      domain.Role           `json:"actor_role"`
	Attempted      int                   `json:"attempted"`
	Succeeded      int                   `json:"succeeded"`
	Failed         int                   `json:"failed"`
	Duplicate      int                   `json:"duplicate"`
	Errors         []domain.BulkRowError `json:"errors,omitempty"`
	RequestID      *uuid.UUID            `json:"request_id,omitempty"`
	Status         domain.BulkLogStatus  `json:"status"`
	NeedsAttention bool                  `json:"needs_attention"`
	ArchiveKey     *string               `json:"archive_key,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

func bulkLogViews(logs []domain.BulkLog) []bulkLogView {
	out := make([]bulkLogView, 0, len(logs))
	for _, l := range logs {
		out = append(out, bulkLogView{
			ID:             l.ID,
			EventID:        l.EventID,
			ActorID:        l.ActorID,
			ActorRole:      l.ActorRole,
			Attempted:      l.Attempted,
			Succeeded:      l.Succeeded,
			Failed:         l.Failed,
			Duplicate:      l.Duplicate,
			Errors:         l.Errors,
			RequestID:      l.RequestID,
			Status:         l.Status,
			NeedsAttention: l.NeedsAttention,
			ArchiveKey:     l.ArchiveKey,
			CreatedAt:      l.CreatedAt,
		})
	}
	return out
}

// bulkRequestView lists without the candidate payload; the detail endpoint
// fills Candidates in.
type bulkRequestView struct {
	ID             uuid.UUID            `json:"id"`
	EventID        uuid.UUID            `json:"event_id"`
	ActorID        uuid.UUID            `json:"actor_id"`
	ActorRole      domain.Role          `json:"actor_role"`
	SchoolID       uuid.UUID            `json:"school_id"`
	CandidateCount int                  `json:"candidate_count"`
	Candidates     []string             `json:"candidates,omitempty"`
	Status         domain.RequestStatus `json:"status"`
	Reason         *string              `json:"reason,omitempty"`
	DecidedBy      *uuid.UUID           `json:"decided_by,omitempty"`
	DecidedAt      *time.Time           `json:"decided_at,omitempty"`
	ExpiresAt      time.Time            `json:"expires_at"`
	CreatedAt      time.Time            `json:"created_at"`
}

func toBulkRequestView(req *domain.BulkRequest, withCandidates bool) bulkRequestView {
	v := bulkRequestView{
		ID:             req.ID,
		EventID:        req.EventID,
		ActorID:        req.ActorID,
		ActorRole:      req.ActorRole,
		SchoolID:       req.SchoolID,
		CandidateCount: req.CandidateCount,
		Status:         req.Status,
		Reason:         req.Reason,
		DecidedBy:      req.DecidedBy,
		DecidedAt:      req.DecidedAt,
		ExpiresAt:      req.ExpiresAt,
		CreatedAt:      req.CreatedAt,
	}
	if withCandidates {
		v.Candidates = req.Candidates
	}
	return v
}

func bulkRequestViews(reqs []domain.BulkRequest) []bulkRequestView {
	out := make([]bulkRequestView, 0, len(reqs))
	for i := range reqs {
		out = append(out, toBulkRequestView(&reqs[i], false))
	}
	return out
}
