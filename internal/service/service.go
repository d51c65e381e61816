package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusevents/registration-service/internal/audit"
	"github.com/campusevents/registration-service/internal/domain"
	"github.com/campusevents/registration-service/internal/metrics"
	"github.com/campusevents/registration-service/internal/pkg/logger"
)

const storeRetryAttempts = 3

// withRetry reruns op on transient store failures (deadlocks, serialization
// aborts). Any other error returns on the first attempt.
func withRetry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	var out T
	var err error
	for attempt := 0; attempt < storeRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return out, ctx.Err()
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}
		out, err = op()
		if err == nil || !domain.IsTransient(err) {
			return out, err
		}
	}
	return out, err
}

type RegistrationService struct {
	store    domain.RegistrationStore
	cache    domain.CacheRepository // nil disables the policy cache
	provider domain.PaymentProvider
	audit    *audit.Logger
	now      func() time.Time
}

func NewRegistrationService(store domain.RegistrationStore, cache domain.CacheRepository, provider domain.PaymentProvider, auditLog *audit.Logger) *RegistrationService {
	return &RegistrationService{
		store:    store,
		cache:    cache,
		provider: provider,
		audit:    auditLog,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateResult carries exactly one of the two outcomes: the written
// registration, or the payment intent the student must settle first.
type CreateResult struct {
	Registration *domain.Registration
	Intent       *domain.PaymentIntent
}

// Create is the self-service registration path. Paid events run two-phase:
// the first call returns a PaymentIntent and writes nothing, the retry with
// the settled order ref writes the row. A full paid event with a waitlist
// skips payment entirely; waitlisted entries owe nothing until promoted.
func (s *RegistrationService) Create(ctx context.Context, eventID, studentID uuid.UUID, paymentRef *string) (*CreateResult, error) {
	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	cmd := domain.CreateCmd{
		EventID:   eventID,
		StudentID: studentID,
		Source:    domain.SourceSelf,
	}

	if ev.Paid() {
		switch {
		case paymentRef == nil && ev.Full() && ev.WaitlistEnabled:
			// joins the waitlist unpaid
		case paymentRef == nil:
			return s.initiatePayment(ctx, ev, studentID)
		default:
			state, err := s.provider.Verify(ctx, *paymentRef)
			if err != nil {
				return nil, fmt.Errorf("verify payment: %w", err)
			}
			if state != domain.PaymentStateCompleted {
				return nil, domain.ErrPaymentNotCompleted
			}
			cmd.PaymentRef = paymentRef
			cmd.AmountPaid = ev.Price
		}
	}

	reg, err := withRetry(ctx, func() (*domain.Registration, error) {
		return s.store.CreateRegistration(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordRegistration(string(reg.Status))
	s.audit.RegistrationCreated(ctx, reg)
	return &CreateResult{Registration: reg}, nil
}

func (s *RegistrationService) initiatePayment(ctx context.Context, ev *domain.Event, studentID uuid.UUID) (*CreateResult, error) {
	st, err := s.store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	intent, err := s.provider.Initiate(ctx, domain.PaymentRequest{
		OrderRef:    "reg-" + uuid.New().String(),
		Amount:      ev.Price,
		EventTitle:  ev.Title,
		StudentName: st.FullName,
	})
	if err != nil {
		return nil, fmt.Errorf("initiate payment: %w", err)
	}
	logger.WithCtx(ctx).Info().
		Str("event_id", ev.ID.String()).
		Str("student_id", studentID.String()).
		Str("order_ref", intent.OrderRef).
		Msg("payment intent created")
	return &CreateResult{Intent: intent}, nil
}

// Cancel is self-service cancellation. Admins may cancel any registration
// through this path; everyone else only their own.
func (s *RegistrationService) Cancel(ctx context.Context, registrationID, requesterID uuid.UUID, role domain.Role, reason string) (*domain.CancelResult, error) {
	if role != domain.RoleAdmin {
		reg, err := s.store.GetRegistration(ctx, registrationID)
		if err != nil {
			return nil, err
		}
		if reg.StudentID != requesterID {
			return nil, domain.ErrForbidden
		}
	}

	res, err := withRetry(ctx, func() (*domain.CancelResult, error) {
		return s.store.CancelRegistration(ctx, domain.CancelCmd{
			RegistrationID: registrationID,
			CancelledBy:    requesterID,
			Reason:         reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.settleRefund(ctx, res)
	metrics.RecordCancellation(res.Quote.Eligible)
	s.audit.RegistrationCancelled(ctx, res.Registration, res.Quote, false)
	s.recordPromotions(ctx, res.Promoted)
	return res, nil
}

// ForceCancel is the admin escape hatch: same transition, operator-chosen
// refund amount instead of the tier math, logged distinctly.
func (s *RegistrationService) ForceCancel(ctx context.Context, registrationID, adminID uuid.UUID, overrideAmount *float64, reason string) (*domain.CancelResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.Validationf("cancellation reason is required")
	}
	if overrideAmount != nil && *overrideAmount < 0 {
		return nil, domain.Validationf("refund override must not be negative")
	}

	res, err := withRetry(ctx, func() (*domain.CancelResult, error) {
		return s.store.CancelRegistration(ctx, domain.CancelCmd{
			RegistrationID: registrationID,
			CancelledBy:    adminID,
			Reason:         reason,
			Forced:         true,
			OverrideAmount: overrideAmount,
		})
	})
	if err != nil {
		return nil, err
	}

	s.settleRefund(ctx, res)
	metrics.RecordCancellation(res.Quote.Eligible)
	s.audit.RegistrationCancelled(ctx, res.Registration, res.Quote, true)
	s.recordPromotions(ctx, res.Promoted)
	return res, nil
}

// settleRefund pushes an eligible refund to the provider after the
// cancellation committed. On failure the row stays PENDING; the cancellation
// itself is already final.
func (s *RegistrationService) settleRefund(ctx context.Context, res *domain.CancelResult) {
	reg := res.Registration
	if reg.RefundStatus != domain.RefundPending || reg.PaymentRef == nil || reg.RefundAmount <= 0 {
		return
	}
	if err := s.provider.Refund(ctx, *reg.PaymentRef, reg.RefundAmount, res.Quote.Reason); err != nil {
		logger.WithCtx(ctx).Warn().Err(err).
			Str("registration_id", reg.ID.String()).
			Msg("provider refund failed, left pending")
		return
	}
	if err := s.store.MarkRefundProcessed(ctx, reg.ID); err != nil {
		logger.WithCtx(ctx).Warn().Err(err).
			Str("registration_id", reg.ID.String()).
			Msg("refund sent but status not recorded")
		return
	}
	reg.RefundStatus = domain.RefundProcessed
}

func (s *RegistrationService) recordPromotions(ctx context.Context, promoted []domain.PromotionRecord) {
	for _, p := range promoted {
		metrics.RecordPromotion()
		s.audit.Promoted(ctx, p.EventID, p.RegistrationID, p.StudentID)
	}
}

// RefundPreview quotes what a cancellation at asOf would refund without
// touching any registration. The policy snapshot comes from the cache when
// possible; any cache trouble falls through to the DB.
func (s *RegistrationService) RefundPreview(ctx context.Context, eventID uuid.UUID, asOf time.Time) (domain.RefundQuote, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	if s.cache != nil {
		if policy, err := s.cache.GetEventPolicy(ctx, eventID); err == nil {
			return domain.CalculateRefund(policy, asOf), nil
		}
	}

	ev, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return domain.RefundQuote{}, err
	}
	policy := ev.RefundPolicy()
	if s.cache != nil {
		if err := s.cache.SetEventPolicy(ctx, eventID, policy); err != nil {
			logger.WithCtx(ctx).Debug().Err(err).Msg("policy cache write failed")
		}
	}
	return domain.CalculateRefund(policy, asOf), nil
}

// Promote backfills up to slots seats from the waitlist, used after an admin
// raises capacity.
func (s *RegistrationService) Promote(ctx context.Context, eventID uuid.UUID, slots int) ([]domain.PromotionRecord, error) {
	if slots <= 0 {
		return nil, domain.Validationf("slots must be positive")
	}
	promoted, err := withRetry(ctx, func() ([]domain.PromotionRecord, error) {
		return s.store.PromoteWaitlisted(ctx, eventID, slots)
	})
	if err != nil {
		return nil, err
	}
	s.recordPromotions(ctx, promoted)
	return promoted, nil
}

// requireEventAccess lets admins through and managers only into events they
// own.
func requireEventAccess(ctx context.Context, store domain.RegistrationStore, eventID, requesterID uuid.UUID, role domain.Role) error {
	if role == domain.RoleAdmin {
		return nil
	}
	if role != domain.RoleEventManager {
		return domain.ErrForbidden
	}
	ev, err := store.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if ev.ManagerID != requesterID {
		return domain.ErrOwnership
	}
	return nil
}

// Reads
func (s *RegistrationService) ListEventRegistrations(ctx context.Context, eventID, requesterID uuid.UUID, role domain.Role, statuses []domain.RegistrationStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	if err := requireEventAccess(ctx, s.store, eventID, requesterID, role); err != nil {
		return nil, nil, err
	}
	return s.store.ListEventRegistrations(ctx, eventID, statuses, limit, cursor)
}

func (s *RegistrationService) ListWaitlist(ctx context.Context, eventID, requesterID uuid.UUID, role domain.Role, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	if err := requireEventAccess(ctx, s.store, eventID, requesterID, role); err != nil {
		return nil, nil, err
	}
	return s.store.ListWaitlist(ctx, eventID, limit, cursor)
}

func (s *RegistrationService) ListStudentRegistrations(ctx context.Context, studentID, requesterID uuid.UUID, role domain.Role, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	if role != domain.RoleAdmin && requesterID != studentID {
		return nil, nil, domain.ErrForbidden
	}
	return s.store.ListStudentRegistrations(ctx, studentID, limit, cursor)
}

func (s *RegistrationService) GetStats(ctx context.Context, eventID, requesterID uuid.UUID, role domain.Role) (domain.EventStats, error) {
	if err := requireEventAccess(ctx, s.store, eventID, requesterID, role); err != nil {
		return domain.EventStats{}, err
	}
	return s.store.GetStats(ctx, eventID)
}

func (s *RegistrationService) GetRegistration(ctx context.Context, registrationID, requesterID uuid.UUID, role domain.Role) (*domain.Registration, error) {
	reg, err := s.store.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleAdmin || reg.StudentID == requesterID {
		return reg, nil
	}
	if role == domain.RoleEventManager {
		ev, err := s.store.GetEvent(ctx, reg.EventID)
		if err != nil {
			return nil, err
		}
		if ev.ManagerID == requesterID {
			return reg, nil
		}
	}
	return nil, domain.ErrForbidden
}
