package service

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/campusevents/registration-service/internal/audit"
	"github.com/campusevents/registration-service/internal/domain"
	"github.com/campusevents/registration-service/internal/metrics"
	"github.com/campusevents/registration-service/internal/pkg/logger"
)

type ApprovalService struct {
	store domain.RegistrationStore
	bulk  *BulkService
	audit *audit.Logger
}

func NewApprovalService(store domain.RegistrationStore, bulk *BulkService, auditLog *audit.Logger) *ApprovalService {
	return &ApprovalService{store: store, bulk: bulk, audit: auditLog}
}

// Approve claims a PENDING request and synchronously runs the stored
// candidate list. Size and restriction checks already passed at request
// time; the claim/finalize guards make a crashed run safe to repeat, with
// already-registered rows surfacing as duplicates.
func (s *ApprovalService) Approve(ctx context.Context, requestID, adminID uuid.UUID) (*domain.BulkReport, error) {
	req, err := s.store.ClaimBulkRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	ev, err := s.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	// rows run under the original requester's school scoping
	actor := actorFromRequest(req)
	report, err := s.bulk.processRows(ctx, ev, actor, req.Candidates, false)
	if err != nil {
		return nil, err
	}
	if err := s.store.FinalizeBulkRequest(ctx, requestID, adminID); err != nil {
		return nil, err
	}

	// the execution log carries the approving admin; the manager's quota was
	// already consumed by the parked log
	s.bulk.writeCompletedLog(ctx, req.EventID, adminID, domain.RoleAdmin, &req.ID, report)
	metrics.RecordApprovalDecision("approved")
	metrics.RecordBulkRows(report.Successful, report.Failed, report.Duplicate)
	s.audit.RequestDecided(ctx, req.ID, domain.RequestApproved, &adminID, "")
	s.audit.BulkExecuted(ctx, req.EventID, req.ActorID, req.ActorRole, report)
	return report, nil
}

// Reject turns a PENDING request down. The reason is required; no
// registrations are created.
func (s *ApprovalService) Reject(ctx context.Context, requestID, adminID uuid.UUID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Validationf("rejection reason is required")
	}
	if err := s.store.RejectBulkRequest(ctx, requestID, adminID, reason); err != nil {
		return err
	}
	metrics.RecordApprovalDecision("rejected")
	s.audit.RequestDecided(ctx, requestID, domain.RequestRejected, &adminID, reason)
	return nil
}

func (s *ApprovalService) Get(ctx context.Context, requestID uuid.UUID) (*domain.BulkRequest, error) {
	return s.store.GetBulkRequest(ctx, requestID)
}

// List sweeps due expiries first so callers never see a PENDING request that
// is already past its deadline.
func (s *ApprovalService) List(ctx context.Context, status *domain.RequestStatus, limit int) ([]domain.BulkRequest, error) {
	n, err := s.store.ExpireDueBulkRequests(ctx)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		logger.WithCtx(ctx).Info().Int("expired", n).Msg("expired stale bulk requests")
		for i := 0; i < n; i++ {
			metrics.RecordApprovalDecision("expired")
		}
	}
	return s.store.ListBulkRequests(ctx, status, limit)
}

// actorFromRequest rebuilds the original requester for row processing.
func actorFromRequest(req *domain.BulkRequest) domain.Actor {
	if req.ActorRole == domain.RoleEventManager {
		return domain.EventManager{ID: req.ActorID, SchoolID: req.SchoolID}
	}
	return domain.Admin{ID: req.ActorID}
}
