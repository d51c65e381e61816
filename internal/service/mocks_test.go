package service_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"

	"github.com/campusevents/registration-service/internal/audit"
	"github.com/campusevents/registration-service/internal/domain"
)

type MockStore struct{ mock.Mock }

func (m *MockStore) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	args := m.Called(ctx, eventID)
	var ev *domain.Event
	if v := args.Get(0); v != nil {
		ev = v.(*domain.Event)
	}
	return ev, args.Error(1)
}
func (m *MockStore) GetStudent(ctx context.Context, studentID uuid.UUID) (*domain.Student, error) {
	args := m.Called(ctx, studentID)
	var st *domain.Student
	if v := args.Get(0); v != nil {
		st = v.(*domain.Student)
	}
	return st, args.Error(1)
}
func (m *MockStore) GetStudentsByRegNos(ctx context.Context, schoolID *uuid.UUID, regNos []string) (map[string]*domain.Student, error) {
	args := m.Called(ctx, schoolID, regNos)
	var out map[string]*domain.Student
	if v := args.Get(0); v != nil {
		out = v.(map[string]*domain.Student)
	}
	return out, args.Error(1)
}
func (m *MockStore) GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	args := m.Called(ctx, id)
	var reg *domain.Registration
	if v := args.Get(0); v != nil {
		reg = v.(*domain.Registration)
	}
	return reg, args.Error(1)
}

func (m *MockStore) CreateRegistration(ctx context.Context, cmd domain.CreateCmd) (*domain.Registration, error) {
	args := m.Called(ctx, cmd)
	var reg *domain.Registration
	if v := args.Get(0); v != nil {
		reg = v.(*domain.Registration)
	}
	return reg, args.Error(1)
}
func (m *MockStore) CancelRegistration(ctx context.Context, cmd domain.CancelCmd) (*domain.CancelResult, error) {
	args := m.Called(ctx, cmd)
	var res *domain.CancelResult
	if v := args.Get(0); v != nil {
		res = v.(*domain.CancelResult)
	}
	return res, args.Error(1)
}
func (m *MockStore) MarkRefundProcessed(ctx context.Context, registrationID uuid.UUID) error {
	return m.Called(ctx, registrationID).Error(0)
}
func (m *MockStore) PromoteWaitlisted(ctx context.Context, eventID uuid.UUID, slots int) ([]domain.PromotionRecord, error) {
	args := m.Called(ctx, eventID, slots)
	var recs []domain.PromotionRecord
	if v := args.Get(0); v != nil {
		recs = v.([]domain.PromotionRecord)
	}
	return recs, args.Error(1)
}

// Reads
func (m *MockStore) ListEventRegistrations(ctx context.Context, eventID uuid.UUID, statuses []domain.RegistrationStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	args := m.Called(ctx, eventID, statuses, limit, cursor)
	return regList(args)
}
func (m *MockStore) ListWaitlist(ctx context.Context, eventID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	args := m.Called(ctx, eventID, limit, cursor)
	return regList(args)
}
func (m *MockStore) ListStudentRegistrations(ctx context.Context, studentID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	args := m.Called(ctx, studentID, limit, cursor)
	return regList(args)
}
func (m *MockStore) GetStats(ctx context.Context, eventID uuid.UUID) (domain.EventStats, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(domain.EventStats), args.Error(1)
}

func regList(args mock.Arguments) ([]domain.Registration, *domain.KeysetCursor, error) {
	var regs []domain.Registration
	if v := args.Get(0); v != nil {
		regs = v.([]domain.Registration)
	}
	var next *domain.KeysetCursor
	if v := args.Get(1); v != nil {
		next = v.(*domain.KeysetCursor)
	}
	return regs, next, args.Error(2)
}

// Bulk uploads
func (m *MockStore) ActorUploadHistory(ctx context.Context, actorID uuid.UUID) (domain.UploadHistory, error) {
	args := m.Called(ctx, actorID)
	return args.Get(0).(domain.UploadHistory), args.Error(1)
}
func (m *MockStore) InsertBulkLog(ctx context.Context, log *domain.BulkLog) error {
	return m.Called(ctx, log).Error(0)
}
func (m *MockStore) SetBulkLogArchiveKey(ctx context.Context, logID uuid.UUID, key string) error {
	return m.Called(ctx, logID, key).Error(0)
}
func (m *MockStore) ListBulkLogs(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.BulkLog, error) {
	args := m.Called(ctx, eventID, limit)
	var logs []domain.BulkLog
	if v := args.Get(0); v != nil {
		logs = v.([]domain.BulkLog)
	}
	return logs, args.Error(1)
}

// Approval requests
func (m *MockStore) CreateBulkRequest(ctx context.Context, req *domain.BulkRequest) error {
	return m.Called(ctx, req).Error(0)
}
func (m *MockStore) GetBulkRequest(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error) {
	args := m.Called(ctx, id)
	var req *domain.BulkRequest
	if v := args.Get(0); v != nil {
		req = v.(*domain.BulkRequest)
	}
	return req, args.Error(1)
}
func (m *MockStore) ClaimBulkRequest(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error) {
	args := m.Called(ctx, id)
	var req *domain.BulkRequest
	if v := args.Get(0); v != nil {
		req = v.(*domain.BulkRequest)
	}
	return req, args.Error(1)
}
func (m *MockStore) FinalizeBulkRequest(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID) error {
	return m.Called(ctx, id, decidedBy).Error(0)
}
func (m *MockStore) RejectBulkRequest(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, reason string) error {
	return m.Called(ctx, id, decidedBy, reason).Error(0)
}
func (m *MockStore) ExpireDueBulkRequests(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) ListBulkRequests(ctx context.Context, status *domain.RequestStatus, limit int) ([]domain.BulkRequest, error) {
	args := m.Called(ctx, status, limit)
	var reqs []domain.BulkRequest
	if v := args.Get(0); v != nil {
		reqs = v.([]domain.BulkRequest)
	}
	return reqs, args.Error(1)
}

type MockCache struct{ mock.Mock }

func (m *MockCache) GetEventPolicy(ctx context.Context, eventID uuid.UUID) (domain.RefundPolicy, error) {
	args := m.Called(ctx, eventID)
	return args.Get(0).(domain.RefundPolicy), args.Error(1)
}
func (m *MockCache) SetEventPolicy(ctx context.Context, eventID uuid.UUID, p domain.RefundPolicy) error {
	return m.Called(ctx, eventID, p).Error(0)
}
func (m *MockCache) AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

type MockProvider struct{ mock.Mock }

func (m *MockProvider) Initiate(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentIntent, error) {
	args := m.Called(ctx, req)
	var intent *domain.PaymentIntent
	if v := args.Get(0); v != nil {
		intent = v.(*domain.PaymentIntent)
	}
	return intent, args.Error(1)
}
func (m *MockProvider) Verify(ctx context.Context, orderRef string) (domain.PaymentState, error) {
	args := m.Called(ctx, orderRef)
	return args.Get(0).(domain.PaymentState), args.Error(1)
}
func (m *MockProvider) Refund(ctx context.Context, orderRef string, amount float64, reason string) error {
	return m.Called(ctx, orderRef, amount, reason).Error(0)
}

type MockArchiver struct{ mock.Mock }

func (m *MockArchiver) Archive(ctx context.Context, logID uuid.UUID, report *domain.BulkReport) (string, error) {
	args := m.Called(ctx, logID, report)
	return args.String(0), args.Error(1)
}

func testAudit() *audit.Logger { return audit.New(zerolog.Nop()) }

func publishedEvent() *domain.Event {
	return &domain.Event{
		ID:              uuid.New(),
		SchoolID:        uuid.New(),
		ManagerID:       uuid.New(),
		Title:           "Science Fair",
		Status:          domain.EventPublished,
		EventType:       domain.EventTypeFree,
		WaitlistEnabled: true,
		StartDate:       time.Now().UTC().Add(240 * time.Hour),
	}
}

func paidEvent(price float64) *domain.Event {
	ev := publishedEvent()
	ev.EventType = domain.EventTypePaid
	ev.Price = price
	ev.RefundEnabled = true
	ev.CancellationDeadlineHours = 24
	ev.RefundTiers = []domain.RefundTier{
		{DaysBefore: 7, Percent: 100},
		{DaysBefore: 3, Percent: 50},
	}
	return ev
}

func activeStudent(schoolID uuid.UUID, regNo string) *domain.Student {
	return &domain.Student{
		ID:             uuid.New(),
		SchoolID:       schoolID,
		RegistrationNo: regNo,
		FullName:       "Test Student",
		Active:         true,
	}
}
