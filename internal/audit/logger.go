package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campusevents/registration-service/internal/domain"
	appctx "github.com/campusevents/registration-service/internal/pkg/context"
)

// Logger provides structured audit logging for registration lifecycle events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// RegistrationCreated logs a new registration, confirmed or waitlisted
func (l *Logger) RegistrationCreated(ctx context.Context, reg *domain.Registration) {
	l.log.Info().
		Str("action", "registration_created").
		Str("registration_id", reg.ID.String()).
		Str("event_id", reg.EventID.String()).
		Str("student_id", reg.StudentID.String()).
		Str("status", string(reg.Status)).
		Str("type", string(reg.Type)).
		Str("request_id", appctx.GetRequestID(ctx)).
		Msg("Student registered for event")
}

// RegistrationCancelled logs a cancellation together with its refund outcome
func (l *Logger) RegistrationCancelled(ctx context.Context, reg *domain.Registration, quote domain.RefundQuote, forced bool) {
	ev := l.log.Info()
	if forced {
		ev = l.log.Warn()
	}
	ev.
		Str("action", "registration_cancelled").
		Str("registration_id", reg.ID.String()).
		Str("event_id", reg.EventID.String()).
		Str("student_id", reg.StudentID.String()).
		Bool("forced", forced).
		Bool("refund_eligible", quote.Eligible).
		Int("refund_percent", quote.Percent).
		Float64("refund_amount", quote.Amount).
		Str("request_id", appctx.GetRequestID(ctx)).
		Msg("Registration cancelled")
}

// Promoted logs one waitlist promotion
func (l *Logger) Promoted(ctx context.Context, eventID, registrationID, studentID uuid.UUID) {
	l.log.Info().
		Str("action", "waitlist_promoted").
		Str("event_id", eventID.String()).
		Str("registration_id", registrationID.String()).
		Str("student_id", studentID.String()).
		Str("request_id", appctx.GetRequestID(ctx)).
		Msg("Student promoted from waitlist")
}

// BulkExecuted logs a bulk upload that ran to completion
func (l *Logger) BulkExecuted(ctx context.Context, eventID, actorID uuid.UUID, role domain.Role, report *domain.BulkReport) {
	l.log.Info().
		Str("action", "bulk_executed").
		Str("event_id", eventID.String()).
		Str("actor_id", actorID.String()).
		Str("actor_role", string(role)).
		Int("total", report.Total).
		Int("successful", report.Successful).
		Int("failed", report.Failed).
		Int("duplicate", report.Duplicate).
		Str("request_id", appctx.GetRequestID(ctx)).
		Msg("Bulk registration executed")
}

// BulkParked logs a bulk upload that exceeded the approval threshold
func (l *Logger) BulkParked(ctx context.Context, eventID, actorID, requestID uuid.UUID, count int) {
	l.log.Info().
		Str("action", "bulk_parked").
		Str("event_id", eventID.String()).
		Str("actor_id", actorID.String()).
		Str("approval_request_id", requestID.String()).
		Int("candidate_count", count).
		Str("request_id", appctx.GetRequestID(ctx)).
		Msg("Bulk registration parked for approval")
}

// RequestDecided logs an approval, rejection or expiry of a parked request
func (l *Logger) RequestDecided(ctx context.Context, requestID uuid.UUID, status domain.RequestStatus, decidedBy *uuid.UUID, reason string) {
	ev := l.log.Info().
		Str("action", "bulk_request_decided").
		Str("approval_request_id", requestID.String()).
		Str("status", string(status))
	if decidedBy != nil {
		ev = ev.Str("decided_by", decidedBy.String())
	}
	if reason != "" {
		ev = ev.Str("reason", reason)
	}
	ev.Str("request_id", appctx.GetRequestID(ctx)).Msg("Bulk request decided")
}
