package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusevents/registration-service/internal/audit"
	"github.com/campusevents/registration-service/internal/domain"
	"github.com/campusevents/registration-service/internal/metrics"
	"github.com/campusevents/registration-service/internal/pkg/logger"
)

// bulkLogErrorCap bounds the per-row error list persisted with the log row.
// The full report still reaches the caller and the archive.
const bulkLogErrorCap = 200

type BulkService struct {
	store    domain.RegistrationStore
	archiver domain.ReportArchiver // nil disables report archiving
	audit    *audit.Logger
	limits   domain.BulkLimits
	now      func() time.Time
}

func NewBulkService(store domain.RegistrationStore, archiver domain.ReportArchiver, auditLog *audit.Logger, limits domain.BulkLimits) *BulkService {
	return &BulkService{
		store:    store,
		archiver: archiver,
		audit:    auditLog,
		limits:   limits,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type UploadCmd struct {
	EventID          uuid.UUID
	Actor            domain.Actor
	Candidates       []string
	CapacityOverride bool
}

// Upload runs one batch end to end: shape checks, actor restrictions against
// the persisted upload history, then either immediate row processing or
// parking the batch behind admin approval.
func (s *BulkService) Upload(ctx context.Context, cmd UploadCmd) (*domain.BulkOutcome, error) {
	if len(cmd.Candidates) == 0 {
		return nil, domain.Validationf("candidate list is empty")
	}
	if cmd.CapacityOverride && !cmd.Actor.CanOverrideCapacity() {
		return nil, domain.ErrForbidden
	}

	ev, err := s.store.GetEvent(ctx, cmd.EventID)
	if err != nil {
		return nil, err
	}
	hist, err := s.store.ActorUploadHistory(ctx, cmd.Actor.ActorID())
	if err != nil {
		return nil, err
	}
	if err := cmd.Actor.CheckBulkUpload(ev, len(cmd.Candidates), hist, s.limits, s.now()); err != nil {
		return nil, err
	}

	if cmd.Actor.NeedsApproval(len(cmd.Candidates), s.limits) {
		return s.parkForApproval(ctx, ev, cmd)
	}

	report, err := s.processRows(ctx, ev, cmd.Actor, cmd.Candidates, cmd.CapacityOverride)
	if err != nil {
		return nil, err
	}
	s.writeCompletedLog(ctx, ev.ID, cmd.Actor.ActorID(), cmd.Actor.Role(), nil, report)
	metrics.RecordBulkUpload("executed")
	metrics.RecordBulkRows(report.Successful, report.Failed, report.Duplicate)
	s.audit.BulkExecuted(ctx, ev.ID, cmd.Actor.ActorID(), cmd.Actor.Role(), report)
	return &domain.BulkOutcome{Report: report}, nil
}

// parkForApproval persists the candidate list as a PENDING request instead of
// registering anyone. The log row is what cooldown and daily-cap checks count,
// so a parked batch still consumes the manager's quota.
func (s *BulkService) parkForApproval(ctx context.Context, ev *domain.Event, cmd UploadCmd) (*domain.BulkOutcome, error) {
	mgr, ok := cmd.Actor.(domain.EventManager)
	if !ok {
		return nil, domain.ErrForbidden
	}

	req := &domain.BulkRequest{
		ID:         uuid.New(),
		EventID:    ev.ID,
		ActorID:    mgr.ID,
		ActorRole:  cmd.Actor.Role(),
		SchoolID:   mgr.SchoolID,
		Candidates: trimCandidates(cmd.Candidates),
		ExpiresAt:  s.now().Add(s.limits.RequestTTL),
	}
	req.CandidateCount = len(req.Candidates)
	if err := s.store.CreateBulkRequest(ctx, req); err != nil {
		return nil, err
	}

	logRow := &domain.BulkLog{
		ID:        uuid.New(),
		EventID:   ev.ID,
		ActorID:   mgr.ID,
		ActorRole: cmd.Actor.Role(),
		Attempted: req.CandidateCount,
		RequestID: &req.ID,
		Status:    domain.BulkLogPendingApproval,
	}
	if err := s.store.InsertBulkLog(ctx, logRow); err != nil {
		logger.WithCtx(ctx).Warn().Err(err).
			Str("request_id", req.ID.String()).
			Msg("bulk log write failed")
	}

	metrics.RecordBulkUpload("parked")
	s.audit.BulkParked(ctx, ev.ID, mgr.ID, req.ID, req.CandidateCount)
	return &domain.BulkOutcome{Pending: &domain.PendingApproval{
		RequestID:      req.ID,
		CandidateCount: req.CandidateCount,
		ExpiresAt:      req.ExpiresAt,
	}}, nil
}

// processRows runs the per-candidate loop. A row failure never aborts the
// batch; only failing to resolve the candidate list at all does.
func (s *BulkService) processRows(ctx context.Context, ev *domain.Event, actor domain.Actor, candidates []string, override bool) (*domain.BulkReport, error) {
	var schoolScope *uuid.UUID
	if mgr, ok := actor.(domain.EventManager); ok {
		schoolScope = &mgr.SchoolID
	}

	regNos := trimCandidates(candidates)
	students, err := withRetry(ctx, func() (map[string]*domain.Student, error) {
		return s.store.GetStudentsByRegNos(ctx, schoolScope, regNos)
	})
	if err != nil {
		return nil, fmt.Errorf("resolve candidates: %w", err)
	}

	report := &domain.BulkReport{}
	for i, raw := range candidates {
		row := i + 1
		regNo := strings.TrimSpace(raw)
		if regNo == "" {
			report.AddFailure(row, raw, "empty registration number")
			continue
		}
		st, ok := students[regNo]
		if !ok {
			// also covers candidates outside the manager's school; the
			// scoped lookup never returns those
			report.AddFailure(row, regNo, "student not found")
			continue
		}
		if !st.Active {
			report.AddFailure(row, regNo, "student inactive")
			continue
		}
		if !actor.CanRegisterStudent(st) {
			report.AddFailure(row, regNo, "student outside school scope")
			continue
		}

		_, err := withRetry(ctx, func() (*domain.Registration, error) {
			return s.store.CreateRegistration(ctx, domain.CreateCmd{
				EventID:          ev.ID,
				StudentID:        st.ID,
				Source:           domain.SourceBulk,
				OverrideCapacity: override,
				WaivePayment:     ev.Paid(),
			})
		})
		switch {
		case err == nil:
			report.AddSuccess()
		case errors.Is(err, domain.ErrAlreadyRegistered):
			report.AddDuplicate(row, regNo)
		default:
			report.AddFailure(row, regNo, rowMessage(err))
		}
	}
	return report, nil
}

// writeCompletedLog persists the audit row for an executed batch and archives
// the full report. Neither failure disturbs registrations that already
// committed row by row.
func (s *BulkService) writeCompletedLog(ctx context.Context, eventID, actorID uuid.UUID, role domain.Role, requestID *uuid.UUID, report *domain.BulkReport) {
	logRow := &domain.BulkLog{
		ID:             uuid.New(),
		EventID:        eventID,
		ActorID:        actorID,
		ActorRole:      role,
		Attempted:      report.Total,
		Succeeded:      report.Successful,
		Failed:         report.Failed,
		Duplicate:      report.Duplicate,
		Errors:         capRowErrors(report.Errors),
		RequestID:      requestID,
		Status:         domain.BulkLogCompleted,
		NeedsAttention: report.NeedsAttention(),
	}
	if err := s.store.InsertBulkLog(ctx, logRow); err != nil {
		logger.WithCtx(ctx).Warn().Err(err).
			Str("event_id", eventID.String()).
			Msg("bulk log write failed")
		return
	}
	s.archiveReport(ctx, logRow.ID, report)
}

func (s *BulkService) archiveReport(ctx context.Context, logID uuid.UUID, report *domain.BulkReport) {
	if s.archiver == nil {
		return
	}
	key, err := s.archiver.Archive(ctx, logID, report)
	if err != nil {
		logger.WithCtx(ctx).Warn().Err(err).
			Str("log_id", logID.String()).
			Msg("report archive failed")
		return
	}
	if err := s.store.SetBulkLogArchiveKey(ctx, logID, key); err != nil {
		logger.WithCtx(ctx).Warn().Err(err).
			Str("log_id", logID.String()).
			Msg("archive key write failed")
	}
}

func (s *BulkService) ListLogs(ctx context.Context, eventID, requesterID uuid.UUID, role domain.Role, limit int) ([]domain.BulkLog, error) {
	if err := requireEventAccess(ctx, s.store, eventID, requesterID, role); err != nil {
		return nil, err
	}
	return s.store.ListBulkLogs(ctx, eventID, limit)
}

func trimCandidates(candidates []string) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c := strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func capRowErrors(errs []domain.BulkRowError) []domain.BulkRowError {
	if len(errs) <= bulkLogErrorCap {
		return errs
	}
	return errs[:bulkLogErrorCap]
}

// rowMessage keeps per-row report errors short and stable.
func rowMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrEventFull):
		return "event is full"
	case errors.Is(err, domain.ErrRegistrationClosed):
		return "event is not open for registration"
	case domain.IsValidation(err):
		return err.Error()
	default:
		return "registration failed"
	}
}
