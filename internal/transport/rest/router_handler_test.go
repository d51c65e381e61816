package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/campusevents/registration-service/internal/audit"
	"github.com/campusevents/registration-service/internal/domain"
	"github.com/campusevents/registration-service/internal/security"
	"github.com/campusevents/registration-service/internal/service"
	"github.com/campusevents/registration-service/internal/transport/rest/response"
)

type fakeVerifier struct {
	claims security.TokenClaims
	err    error
}

func (f fakeVerifier) VerifyAccessToken(token string) (security.TokenClaims, error) {
	return f.claims, f.err
}

type fakeCache struct {
	allow    bool
	policies map[uuid.UUID]domain.RefundPolicy
}

func newFakeCache() *fakeCache {
	return &fakeCache{allow: true, policies: map[uuid.UUID]domain.RefundPolicy{}}
}

func (c *fakeCache) GetEventPolicy(ctx context.Context, eventID uuid.UUID) (domain.RefundPolicy, error) {
	p, ok := c.policies[eventID]
	if !ok {
		return domain.RefundPolicy{}, errors.New("cache miss")
	}
	return p, nil
}

func (c *fakeCache) SetEventPolicy(ctx context.Context, eventID uuid.UUID, p domain.RefundPolicy) error {
	c.policies[eventID] = p
	return nil
}

func (c *fakeCache) AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	return c.allow, nil
}

type fakeProvider struct {
	initiateFn func(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentIntent, error)
	verifyFn   func(ctx context.Context, orderRef string) (domain.PaymentState, error)
	refundFn   func(ctx context.Context, orderRef string, amount float64, reason string) error
}

func (p *fakeProvider) Initiate(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentIntent, error) {
	if p.initiateFn == nil {
		return nil, errors.New("not implemented")
	}
	return p.initiateFn(ctx, req)
}

func (p *fakeProvider) Verify(ctx context.Context, orderRef string) (domain.PaymentState, error) {
	if p.verifyFn == nil {
		return "", errors.New("not implemented")
	}
	return p.verifyFn(ctx, orderRef)
}

func (p *fakeProvider) Refund(ctx context.Context, orderRef string, amount float64, reason string) error {
	if p.refundFn == nil {
		return errors.New("not implemented")
	}
	return p.refundFn(ctx, orderRef, amount, reason)
}

type fakeStore struct {
	getEventFn        func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	getStudentFn      func(ctx context.Context, studentID uuid.UUID) (*domain.Student, error)
	getStudentsFn     func(ctx context.Context, schoolID *uuid.UUID, regNos []string) (map[string]*domain.Student, error)
	getRegistrationFn func(ctx context.Context, id uuid.UUID) (*domain.Registration, error)

	createFn     func(ctx context.Context, cmd domain.CreateCmd) (*domain.Registration, error)
	cancelFn     func(ctx context.Context, cmd domain.CancelCmd) (*domain.CancelResult, error)
	markRefundFn func(ctx context.Context, registrationID uuid.UUID) error
	promoteFn    func(ctx context.Context, eventID uuid.UUID, slots int) ([]domain.PromotionRecord, error)

	listEventRegsFn   func(ctx context.Context, eventID uuid.UUID, statuses []domain.RegistrationStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error)
	listWaitlistFn    func(ctx context.Context, eventID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error)
	listStudentRegsFn func(ctx context.Context, studentID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error)
	getStatsFn        func(ctx context.Context, eventID uuid.UUID) (domain.EventStats, error)

	historyFn       func(ctx context.Context, actorID uuid.UUID) (domain.UploadHistory, error)
	insertLogFn     func(ctx context.Context, log *domain.BulkLog) error
	setArchiveKeyFn func(ctx context.Context, logID uuid.UUID, key string) error
	listLogsFn      func(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.BulkLog, error)

	createRequestFn   func(ctx context.Context, req *domain.BulkRequest) error
	getRequestFn      func(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error)
	claimRequestFn    func(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error)
	finalizeRequestFn func(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID) error
	rejectRequestFn   func(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, reason string) error
	expireDueFn       func(ctx context.Context) (int, error)
	listRequestsFn    func(ctx context.Context, status *domain.RequestStatus, limit int) ([]domain.BulkRequest, error)
}

func (s *fakeStore) notImpl() error { return errors.New("not implemented") }

func (s *fakeStore) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	if s.getEventFn == nil {
		return nil, s.notImpl()
	}
	return s.getEventFn(ctx, eventID)
}

func (s *fakeStore) GetStudent(ctx context.Context, studentID uuid.UUID) (*domain.Student, error) {
	if s.getStudentFn == nil {
		return nil, s.notImpl()
	}
	return s.getStudentFn(ctx, studentID)
}

func (s *fakeStore) GetStudentsByRegNos(ctx context.Context, schoolID *uuid.UUID, regNos []string) (map[string]*domain.Student, error) {
	if s.getStudentsFn == nil {
		return nil, s.notImpl()
	}
	return s.getStudentsFn(ctx, schoolID, regNos)
}

func (s *fakeStore) GetRegistration(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	if s.getRegistrationFn == nil {
		return nil, s.notImpl()
	}
	return s.getRegistrationFn(ctx, id)
}

func (s *fakeStore) CreateRegistration(ctx context.Context, cmd domain.CreateCmd) (*domain.Registration, error) {
	if s.createFn == nil {
		return nil, s.notImpl()
	}
	return s.createFn(ctx, cmd)
}

func (s *fakeStore) CancelRegistration(ctx context.Context, cmd domain.CancelCmd) (*domain.CancelResult, error) {
	if s.cancelFn == nil {
		return nil, s.notImpl()
	}
	return s.cancelFn(ctx, cmd)
}

func (s *fakeStore) MarkRefundProcessed(ctx context.Context, registrationID uuid.UUID) error {
	if s.markRefundFn == nil {
		return s.notImpl()
	}
	return s.markRefundFn(ctx, registrationID)
}

func (s *fakeStore) PromoteWaitlisted(ctx context.Context, eventID uuid.UUID, slots int) ([]domain.PromotionRecord, error) {
	if s.promoteFn == nil {
		return nil, s.notImpl()
	}
	return s.promoteFn(ctx, eventID, slots)
}

func (s *fakeStore) ListEventRegistrations(ctx context.Context, eventID uuid.UUID, statuses []domain.RegistrationStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	if s.listEventRegsFn == nil {
		return nil, nil, s.notImpl()
	}
	return s.listEventRegsFn(ctx, eventID, statuses, limit, cursor)
}

func (s *fakeStore) ListWaitlist(ctx context.Context, eventID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	if s.listWaitlistFn == nil {
		return nil, nil, s.notImpl()
	}
	return s.listWaitlistFn(ctx, eventID, limit, cursor)
}

func (s *fakeStore) ListStudentRegistrations(ctx context.Context, studentID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
	if s.listStudentRegsFn == nil {
		return nil, nil, s.notImpl()
	}
	return s.listStudentRegsFn(ctx, studentID, limit, cursor)
}

func (s *fakeStore) GetStats(ctx context.Context, eventID uuid.UUID) (domain.EventStats, error) {
	if s.getStatsFn == nil {
		return domain.EventStats{}, s.notImpl()
	}
	return s.getStatsFn(ctx, eventID)
}

func (s *fakeStore) ActorUploadHistory(ctx context.Context, actorID uuid.UUID) (domain.UploadHistory, error) {
	if s.historyFn == nil {
		return domain.UploadHistory{}, s.notImpl()
	}
	return s.historyFn(ctx, actorID)
}

func (s *fakeStore) InsertBulkLog(ctx context.Context, log *domain.BulkLog) error {
	if s.insertLogFn == nil {
		return s.notImpl()
	}
	return s.insertLogFn(ctx, log)
}

func (s *fakeStore) SetBulkLogArchiveKey(ctx context.Context, logID uuid.UUID, key string) error {
	if s.setArchiveKeyFn == nil {
		return s.notImpl()
	}
	return s.setArchiveKeyFn(ctx, logID, key)
}

func (s *fakeStore) ListBulkLogs(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.BulkLog, error) {
	if s.listLogsFn == nil {
		return nil, s.notImpl()
	}
	return s.listLogsFn(ctx, eventID, limit)
}

func (s *fakeStore) CreateBulkRequest(ctx context.Context, req *domain.BulkRequest) error {
	if s.createRequestFn == nil {
		return s.notImpl()
	}
	return s.createRequestFn(ctx, req)
}

func (s *fakeStore) GetBulkRequest(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error) {
	if s.getRequestFn == nil {
		return nil, s.notImpl()
	}
	return s.getRequestFn(ctx, id)
}

func (s *fakeStore) ClaimBulkRequest(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error) {
	if s.claimRequestFn == nil {
		return nil, s.notImpl()
	}
	return s.claimRequestFn(ctx, id)
}

func (s *fakeStore) FinalizeBulkRequest(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID) error {
	if s.finalizeRequestFn == nil {
		return s.notImpl()
	}
	return s.finalizeRequestFn(ctx, id, decidedBy)
}

func (s *fakeStore) RejectBulkRequest(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, reason string) error {
	if s.rejectRequestFn == nil {
		return s.notImpl()
	}
	return s.rejectRequestFn(ctx, id, decidedBy, reason)
}

func (s *fakeStore) ExpireDueBulkRequests(ctx context.Context) (int, error) {
	if s.expireDueFn == nil {
		return 0, s.notImpl()
	}
	return s.expireDueFn(ctx)
}

func (s *fakeStore) ListBulkRequests(ctx context.Context, status *domain.RequestStatus, limit int) ([]domain.BulkRequest, error) {
	if s.listRequestsFn == nil {
		return nil, s.notImpl()
	}
	return s.listRequestsFn(ctx, status, limit)
}

var testLimits = domain.BulkLimits{
	MaxBatch:          500,
	ApprovalThreshold: 200,
	RequestTTL:        7 * 24 * time.Hour,
}

func newTestRouter(store domain.RegistrationStore, cache *fakeCache, provider domain.PaymentProvider, claims security.TokenClaims) http.Handler {
	auditLog := audit.New(zerolog.Nop())
	regs := service.NewRegistrationService(store, cache, provider, auditLog)
	bulk := service.NewBulkService(store, nil, auditLog, testLimits)
	approvals := service.NewApprovalService(store, bulk, auditLog)
	h := NewHandler(regs, bulk, approvals)
	return NewRouter(RouterDeps{
		Handler:   h,
		Cache:     cache,
		Verifier:  fakeVerifier{claims: claims},
		JWTIssuer: claims.Issuer,
	})
}

func studentClaims(uid uuid.UUID) security.TokenClaims {
	return security.TokenClaims{
		UserID:   uid.String(),
		Role:     security.RoleStudent,
		SchoolID: uuid.NewString(),
		Issuer:   "auth-service",
	}
}

func managerClaims(uid, schoolID uuid.UUID) security.TokenClaims {
	return security.TokenClaims{
		UserID:   uid.String(),
		Role:     security.RoleEventManager,
		SchoolID: schoolID.String(),
		Issuer:   "auth-service",
	}
}

func adminClaims(uid uuid.UUID) security.TokenClaims {
	return security.TokenClaims{
		UserID: uid.String(),
		Role:   security.RoleAdmin,
		Issuer: "auth-service",
	}
}

func freeEvent(managerID, schoolID uuid.UUID) *domain.Event {
	capacity := 100
	return &domain.Event{
		ID:              uuid.New(),
		SchoolID:        schoolID,
		ManagerID:       managerID,
		Title:           "Robotics Week",
		Status:          domain.EventPublished,
		EventType:       domain.EventTypeFree,
		WaitlistEnabled: true,
		Capacity:        &capacity,
		StartDate:       time.Now().UTC().Add(72 * time.Hour),
	}
}

func paidRefundableEvent(managerID, schoolID uuid.UUID) *domain.Event {
	ev := freeEvent(managerID, schoolID)
	ev.EventType = domain.EventTypePaid
	ev.Price = 500
	ev.RefundEnabled = true
	ev.CancellationDeadlineHours = 24
	ev.RefundTiers = []domain.RefundTier{{DaysBefore: 7, Percent: 100}, {DaysBefore: 3, Percent: 50}}
	ev.StartDate = time.Now().UTC().Add(240 * time.Hour)
	return ev
}

func draftEvent(managerID, schoolID uuid.UUID) *domain.Event {
	ev := freeEvent(managerID, schoolID)
	ev.Status = domain.EventDraft
	return ev
}

func confirmedReg(eventID, studentID uuid.UUID) *domain.Registration {
	now := time.Now().UTC()
	return &domain.Registration{
		ID:            uuid.New(),
		EventID:       eventID,
		StudentID:     studentID,
		Type:          domain.TypeFree,
		Status:        domain.StatusConfirmed,
		PaymentStatus: domain.PaymentNotRequired,
		RefundStatus:  domain.RefundNone,
		RegisteredAt:  now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder) response.Envelope {
	t.Helper()
	var env response.Envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) response.ErrorBody {
	t.Helper()
	var errBody response.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errBody))
	return errBody
}

func authedRequest(method, target string, body []byte) *http.Request {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBuffer(body))
	}
	req.Header.Set("Authorization", "Bearer ok")
	return req
}

func TestNewRouter_PanicsOnNilDeps(t *testing.T) {
	cache := newFakeCache()
	auditLog := audit.New(zerolog.Nop())
	regs := service.NewRegistrationService(&fakeStore{}, cache, &fakeProvider{}, auditLog)
	bulk := service.NewBulkService(&fakeStore{}, nil, auditLog, testLimits)
	approvals := service.NewApprovalService(&fakeStore{}, bulk, auditLog)
	h := NewHandler(regs, bulk, approvals)

	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Handler: nil, Cache: cache, Verifier: fakeVerifier{}})
	})
	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Handler: h, Cache: nil, Verifier: fakeVerifier{}})
	})
	require.Panics(t, func() {
		_ = NewRouter(RouterDeps{Handler: h, Cache: cache, Verifier: nil})
	})
}

func TestRouter_Unauthenticated_401(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uuid.New()))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/"+uuid.NewString()+"/stats", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_ManagerTokenWithoutSchool_401(t *testing.T) {
	claims := security.TokenClaims{
		UserID: uuid.NewString(),
		Role:   security.RoleEventManager,
		Issuer: "auth-service",
	}
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, claims)

	req := authedRequest(http.MethodGet, "/api/v1/events/"+uuid.NewString()+"/stats", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_Healthz_NoAuth(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uuid.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	m := env.Data.(map[string]any)
	require.Equal(t, "ok", m["status"])
}

func TestRouter_Metrics_NoAuth(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uuid.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_CreateRegistration_InvalidJSON_400(t *testing.T) {
	uid := uuid.New()
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uid))

	req := authedRequest(http.MethodPost, "/api/v1/registrations", []byte("{bad"))
	req.Header.Set("X-Request-Id", "rid-1")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
	require.Equal(t, "rid-1", errBody.Error.RequestID)
}

func TestRouter_CreateRegistration_FreeEvent_201(t *testing.T) {
	uid := uuid.New()
	ev := freeEvent(uuid.New(), uuid.New())

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			require.Equal(t, ev.ID, eventID)
			return ev, nil
		},
		createFn: func(ctx context.Context, cmd domain.CreateCmd) (*domain.Registration, error) {
			require.Equal(t, uid, cmd.StudentID)
			require.Equal(t, domain.SourceSelf, cmd.Source)
			return confirmedReg(ev.ID, uid), nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, studentClaims(uid))

	body := []byte(`{"event_id":"` + ev.ID.String() + `"}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/v1/registrations", body))

	require.Equal(t, http.StatusCreated, rr.Code)
	env := decodeData(t, rr)
	reg := env.Data.(map[string]any)["registration"].(map[string]any)
	require.Equal(t, "CONFIRMED", reg["status"])
	require.Equal(t, uid.String(), reg["student_id"])
}

func TestRouter_CreateRegistration_PaidEvent_202Intent(t *testing.T) {
	uid := uuid.New()
	ev := paidRefundableEvent(uuid.New(), uuid.New())

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
		getStudentFn: func(ctx context.Context, studentID uuid.UUID) (*domain.Student, error) {
			return &domain.Student{ID: studentID, FullName: "Dina Putri", Active: true}, nil
		},
	}
	provider := &fakeProvider{
		initiateFn: func(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentIntent, error) {
			require.Equal(t, ev.Price, req.Amount)
			return &domain.PaymentIntent{OrderRef: req.OrderRef, Token: "snap-token", Amount: req.Amount}, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), provider, studentClaims(uid))

	body := []byte(`{"event_id":"` + ev.ID.String() + `"}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/v1/registrations", body))

	require.Equal(t, http.StatusAccepted, rr.Code)
	env := decodeData(t, rr)
	intent := env.Data.(map[string]any)["payment_intent"].(map[string]any)
	require.Equal(t, "snap-token", intent["token"])
	require.NotEmpty(t, intent["order_ref"])
}

func TestRouter_CreateRegistration_PendingPayment_402(t *testing.T) {
	uid := uuid.New()
	ev := paidRefundableEvent(uuid.New(), uuid.New())

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
	}
	provider := &fakeProvider{
		verifyFn: func(ctx context.Context, orderRef string) (domain.PaymentState, error) {
			require.Equal(t, "reg-abc", orderRef)
			return domain.PaymentStatePending, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), provider, studentClaims(uid))

	body := []byte(`{"event_id":"` + ev.ID.String() + `","payment_ref":"reg-abc"}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/v1/registrations", body))

	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "payment.not_completed", errBody.Error.Code)
}

func TestRouter_CreateRegistration_ForOtherStudent_403(t *testing.T) {
	uid := uuid.New()
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uid))

	body := []byte(`{"event_id":"` + uuid.NewString() + `","student_id":"` + uuid.NewString() + `"}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/v1/registrations", body))

	require.Equal(t, http.StatusForbidden, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "auth.forbidden", errBody.Error.Code)
}

func TestRouter_CreateRegistration_EventFull_409(t *testing.T) {
	uid := uuid.New()
	ev := freeEvent(uuid.New(), uuid.New())

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
		createFn: func(ctx context.Context, cmd domain.CreateCmd) (*domain.Registration, error) {
			return nil, domain.ErrEventFull
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, studentClaims(uid))

	body := []byte(`{"event_id":"` + ev.ID.String() + `"}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/v1/registrations", body))

	require.Equal(t, http.StatusConflict, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "event.full", errBody.Error.Code)
}

func TestRouter_Cancel_PassesReasonAndReturnsPromotions(t *testing.T) {
	uid := uuid.New()
	reg := confirmedReg(uuid.New(), uid)

	cancelled := *reg
	now := time.Now().UTC()
	cancelled.Status = domain.StatusCancelled
	cancelled.CancelledAt = &now

	store := &fakeStore{
		getRegistrationFn: func(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
			require.Equal(t, reg.ID, id)
			return reg, nil
		},
		cancelFn: func(ctx context.Context, cmd domain.CancelCmd) (*domain.CancelResult, error) {
			require.Equal(t, "schedule conflict", cmd.Reason)
			require.Equal(t, uid, cmd.CancelledBy)
			require.False(t, cmd.Forced)
			return &domain.CancelResult{
				Registration: &cancelled,
				Quote:        domain.RefundQuote{Eligible: false, Reason: "Free events are not eligible for refunds."},
				Promoted:     []domain.PromotionRecord{{RegistrationID: uuid.New(), EventID: reg.EventID, StudentID: uuid.New()}},
			}, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, studentClaims(uid))

	target := "/api/v1/registrations/" + reg.ID.String() + "?reason=schedule+conflict"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodDelete, target, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	m := env.Data.(map[string]any)
	require.Equal(t, "CANCELLED", m["registration"].(map[string]any)["status"])
	require.Equal(t, false, m["refund"].(map[string]any)["eligible"])
	require.Len(t, m["promoted"].([]any), 1)
}

func TestRouter_Cancel_InvalidID_400(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uuid.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodDelete, "/api/v1/registrations/not-a-uuid", nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
}

func TestRouter_ForceCancel_NonAdmin_403(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uuid.New()))

	target := "/api/v1/registrations/" + uuid.NewString() + "/force-cancel"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, []byte(`{"reason":"ops"}`)))

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRouter_ForceCancel_MissingReason_400(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, adminClaims(uuid.New()))

	target := "/api/v1/registrations/" + uuid.NewString() + "/force-cancel"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, []byte(`{"refund_override":100}`)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
	require.Contains(t, errBody.Error.Message, "Reason")
}

func TestRouter_ForceCancel_Admin_200(t *testing.T) {
	adminID := uuid.New()
	reg := confirmedReg(uuid.New(), uuid.New())

	cancelled := *reg
	cancelled.Status = domain.StatusCancelled

	store := &fakeStore{
		cancelFn: func(ctx context.Context, cmd domain.CancelCmd) (*domain.CancelResult, error) {
			require.True(t, cmd.Forced)
			require.Equal(t, adminID, cmd.CancelledBy)
			require.NotNil(t, cmd.OverrideAmount)
			require.Equal(t, 250.0, *cmd.OverrideAmount)
			return &domain.CancelResult{
				Registration: &cancelled,
				Quote:        domain.RefundQuote{Eligible: true, Amount: 250, Reason: "Refund amount set by operator."},
			}, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, adminClaims(adminID))

	target := "/api/v1/registrations/" + reg.ID.String() + "/force-cancel"
	body := []byte(`{"refund_override":250,"reason":"event venue flooded"}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, body))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	refund := env.Data.(map[string]any)["refund"].(map[string]any)
	require.Equal(t, true, refund["eligible"])
	require.EqualValues(t, 250, refund["amount"])
}

func TestRouter_RefundPreview_200(t *testing.T) {
	ev := paidRefundableEvent(uuid.New(), uuid.New())

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
	}
	cache := newFakeCache()
	r := newTestRouter(store, cache, &fakeProvider{}, studentClaims(uuid.New()))

	target := "/api/v1/events/" + ev.ID.String() + "/refund-preview"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	m := env.Data.(map[string]any)
	require.Equal(t, true, m["eligible"])
	require.EqualValues(t, 100, m["percent"])
	require.EqualValues(t, 500, m["amount"])

	// the snapshot is now cached for the next preview
	_, ok := cache.policies[ev.ID]
	require.True(t, ok)
}

func TestRouter_RefundPreview_BadAsOf_400(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uuid.New()))

	target := "/api/v1/events/" + uuid.NewString() + "/refund-preview?as_of=yesterday"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_ListRegistrations_ForeignManager_403(t *testing.T) {
	mgrID := uuid.New()
	schoolID := uuid.New()
	ev := freeEvent(uuid.New(), schoolID) // owned by someone else

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, managerClaims(mgrID, schoolID))

	target := "/api/v1/events/" + ev.ID.String() + "/registrations"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusForbidden, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "auth.not_owner", errBody.Error.Code)
}

func TestRouter_ListRegistrations_OwnerManager_200(t *testing.T) {
	mgrID := uuid.New()
	schoolID := uuid.New()
	ev := freeEvent(mgrID, schoolID)

	var gotStatuses []domain.RegistrationStatus
	next := &domain.KeysetCursor{RegisteredAt: time.Now().UTC(), ID: uuid.New()}
	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
		listEventRegsFn: func(ctx context.Context, eventID uuid.UUID, statuses []domain.RegistrationStatus, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
			gotStatuses = statuses
			require.Equal(t, 20, limit)
			require.Nil(t, cursor)
			return []domain.Registration{*confirmedReg(ev.ID, uuid.New())}, next, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, managerClaims(mgrID, schoolID))

	target := "/api/v1/events/" + ev.ID.String() + "/registrations?status=confirmed,waitlisted"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, []domain.RegistrationStatus{domain.StatusConfirmed, domain.StatusWaitlisted}, gotStatuses)

	env := decodeData(t, rr)
	m := env.Data.(map[string]any)
	require.Len(t, m["items"].([]any), 1)

	cur, err := decodeCursor(m["next_cursor"].(string))
	require.NoError(t, err)
	require.Equal(t, next.ID, cur.ID)
}

func TestRouter_Waitlist_BadCursor_400(t *testing.T) {
	mgrID := uuid.New()
	schoolID := uuid.New()
	ev := freeEvent(mgrID, schoolID)

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, managerClaims(mgrID, schoolID))

	target := "/api/v1/events/" + ev.ID.String() + "/waitlist?cursor=!!!"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.invalid", errBody.Error.Code)
}

func TestRouter_StudentRegistrations_SelfOnly(t *testing.T) {
	uid := uuid.New()
	store := &fakeStore{
		listStudentRegsFn: func(ctx context.Context, studentID uuid.UUID, limit int, cursor *domain.KeysetCursor) ([]domain.Registration, *domain.KeysetCursor, error) {
			require.Equal(t, uid, studentID)
			return []domain.Registration{}, nil, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, studentClaims(uid))

	// own list is fine
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/v1/students/"+uid.String()+"/registrations", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	// someone else's is not
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/v1/students/"+uuid.NewString()+"/registrations", nil))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRouter_Stats_Admin_200(t *testing.T) {
	ev := freeEvent(uuid.New(), uuid.New())
	store := &fakeStore{
		getStatsFn: func(ctx context.Context, eventID uuid.UUID) (domain.EventStats, error) {
			capacity := 100
			return domain.EventStats{
				EventID:         eventID,
				Capacity:        &capacity,
				ConfirmedCount:  42,
				WaitlistedCount: 7,
				CancelledCount:  3,
				UpdatedAt:       time.Now().UTC(),
			}, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, adminClaims(uuid.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/v1/events/"+ev.ID.String()+"/stats", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	m := env.Data.(map[string]any)
	require.EqualValues(t, 42, m["confirmed"])
	require.EqualValues(t, 7, m["waitlisted"])
	require.EqualValues(t, 100, m["capacity"])
}

func TestRouter_BulkUpload_Student_403(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uuid.New()))

	target := "/api/v1/events/" + uuid.NewString() + "/registrations/bulk"
	body := []byte(`{"candidates":["S-1"]}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, body))

	require.Equal(t, http.StatusForbidden, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "auth.forbidden", errBody.Error.Code)
}

func TestRouter_BulkUpload_ManagerExecutes_200(t *testing.T) {
	mgrID := uuid.New()
	schoolID := uuid.New()
	ev := draftEvent(mgrID, schoolID)

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
		historyFn: func(ctx context.Context, actorID uuid.UUID) (domain.UploadHistory, error) {
			require.Equal(t, mgrID, actorID)
			return domain.UploadHistory{}, nil
		},
		getStudentsFn: func(ctx context.Context, scope *uuid.UUID, regNos []string) (map[string]*domain.Student, error) {
			require.NotNil(t, scope)
			require.Equal(t, schoolID, *scope)
			return map[string]*domain.Student{
				"S-1": {ID: uuid.New(), SchoolID: schoolID, RegistrationNo: "S-1", Active: true},
			}, nil
		},
		createFn: func(ctx context.Context, cmd domain.CreateCmd) (*domain.Registration, error) {
			require.Equal(t, domain.SourceBulk, cmd.Source)
			return confirmedReg(ev.ID, cmd.StudentID), nil
		},
		insertLogFn: func(ctx context.Context, log *domain.BulkLog) error {
			require.Equal(t, domain.BulkLogCompleted, log.Status)
			return nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, managerClaims(mgrID, schoolID))

	target := "/api/v1/events/" + ev.ID.String() + "/registrations/bulk"
	body := []byte(`{"candidates":["S-1","S-2"]}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, body))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	report := env.Data.(map[string]any)["report"].(map[string]any)
	require.EqualValues(t, 2, report["total"])
	require.EqualValues(t, 1, report["successful"])
	require.EqualValues(t, 1, report["failed"])
}

func TestRouter_BulkUpload_LargeBatchParked_202(t *testing.T) {
	mgrID := uuid.New()
	schoolID := uuid.New()
	ev := draftEvent(mgrID, schoolID)

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
		historyFn: func(ctx context.Context, actorID uuid.UUID) (domain.UploadHistory, error) {
			return domain.UploadHistory{}, nil
		},
		createRequestFn: func(ctx context.Context, req *domain.BulkRequest) error {
			require.Equal(t, 250, req.CandidateCount)
			require.Equal(t, schoolID, req.SchoolID)
			return nil
		},
		insertLogFn: func(ctx context.Context, log *domain.BulkLog) error {
			require.Equal(t, domain.BulkLogPendingApproval, log.Status)
			return nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, managerClaims(mgrID, schoolID))

	candidates := make([]string, 250)
	for i := range candidates {
		candidates[i] = fmt.Sprintf("S-%04d", i+1)
	}
	payload, err := json.Marshal(map[string]any{"candidates": candidates})
	require.NoError(t, err)

	target := "/api/v1/events/" + ev.ID.String() + "/registrations/bulk"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, payload))

	require.Equal(t, http.StatusAccepted, rr.Code)
	env := decodeData(t, rr)
	pending := env.Data.(map[string]any)["pending_approval"].(map[string]any)
	require.EqualValues(t, 250, pending["candidate_count"])
	require.NotEmpty(t, pending["request_id"])
}

func TestRouter_BulkLogs_OwnerManager_200(t *testing.T) {
	mgrID := uuid.New()
	schoolID := uuid.New()
	ev := freeEvent(mgrID, schoolID)

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
		listLogsFn: func(ctx context.Context, eventID uuid.UUID, limit int) ([]domain.BulkLog, error) {
			return []domain.BulkLog{{ID: uuid.New(), EventID: eventID, Status: domain.BulkLogCompleted, Attempted: 5, Succeeded: 5}}, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, managerClaims(mgrID, schoolID))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/v1/events/"+ev.ID.String()+"/bulk-logs", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	items := env.Data.(map[string]any)["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "COMPLETED", items[0].(map[string]any)["status"])
}

func TestRouter_BulkRequests_AdminOnly(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, managerClaims(uuid.New(), uuid.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/v1/bulk-requests", nil))

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRouter_BulkRequests_List_200(t *testing.T) {
	store := &fakeStore{
		expireDueFn: func(ctx context.Context) (int, error) { return 0, nil },
		listRequestsFn: func(ctx context.Context, status *domain.RequestStatus, limit int) ([]domain.BulkRequest, error) {
			require.NotNil(t, status)
			require.Equal(t, domain.RequestPending, *status)
			return []domain.BulkRequest{
				{ID: uuid.New(), Status: domain.RequestPending, CandidateCount: 300, Candidates: []string{"S-1"}},
			}, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, adminClaims(uuid.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/v1/bulk-requests?status=pending", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	items := env.Data.(map[string]any)["items"].([]any)
	require.Len(t, items, 1)

	// candidate payloads stay out of the list view
	_, leaked := items[0].(map[string]any)["candidates"]
	require.False(t, leaked)
}

func TestRouter_BulkRequests_BadStatus_400(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, adminClaims(uuid.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/v1/bulk-requests?status=bogus", nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_ApproveRequest_200(t *testing.T) {
	adminID := uuid.New()
	mgrID := uuid.New()
	schoolID := uuid.New()
	ev := draftEvent(mgrID, schoolID)

	req := &domain.BulkRequest{
		ID:             uuid.New(),
		EventID:        ev.ID,
		ActorID:        mgrID,
		ActorRole:      domain.RoleEventManager,
		SchoolID:       schoolID,
		Candidates:     []string{"S-1"},
		CandidateCount: 1,
		Status:         domain.RequestProcessing,
		ExpiresAt:      time.Now().UTC().Add(24 * time.Hour),
	}

	store := &fakeStore{
		claimRequestFn: func(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error) {
			require.Equal(t, req.ID, id)
			return req, nil
		},
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
		getStudentsFn: func(ctx context.Context, scope *uuid.UUID, regNos []string) (map[string]*domain.Student, error) {
			require.NotNil(t, scope)
			require.Equal(t, schoolID, *scope)
			return map[string]*domain.Student{
				"S-1": {ID: uuid.New(), SchoolID: schoolID, RegistrationNo: "S-1", Active: true},
			}, nil
		},
		createFn: func(ctx context.Context, cmd domain.CreateCmd) (*domain.Registration, error) {
			return confirmedReg(ev.ID, cmd.StudentID), nil
		},
		finalizeRequestFn: func(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID) error {
			require.Equal(t, adminID, decidedBy)
			return nil
		},
		insertLogFn: func(ctx context.Context, log *domain.BulkLog) error {
			require.Equal(t, adminID, log.ActorID)
			return nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, adminClaims(adminID))

	target := "/api/v1/bulk-requests/" + req.ID.String() + "/approve"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, nil))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	report := env.Data.(map[string]any)["report"].(map[string]any)
	require.EqualValues(t, 1, report["successful"])
}

func TestRouter_ApproveRequest_Expired_409(t *testing.T) {
	store := &fakeStore{
		claimRequestFn: func(ctx context.Context, id uuid.UUID) (*domain.BulkRequest, error) {
			return nil, domain.ErrRequestExpired
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, adminClaims(uuid.New()))

	target := "/api/v1/bulk-requests/" + uuid.NewString() + "/approve"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, nil))

	require.Equal(t, http.StatusConflict, rr.Code)
	errBody := decodeError(t, rr)
	require.Equal(t, "request.expired", errBody.Error.Code)
}

func TestRouter_RejectRequest(t *testing.T) {
	adminID := uuid.New()
	reqID := uuid.New()

	var gotReason string
	store := &fakeStore{
		rejectRequestFn: func(ctx context.Context, id uuid.UUID, decidedBy uuid.UUID, reason string) error {
			require.Equal(t, reqID, id)
			require.Equal(t, adminID, decidedBy)
			gotReason = reason
			return nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, adminClaims(adminID))

	target := "/api/v1/bulk-requests/" + reqID.String() + "/reject"

	// missing reason bounces before the store is touched
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, []byte(`{}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, []byte(`{"reason":"wrong event"}`)))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "wrong event", gotReason)
}

func TestRouter_Promote_NonAdmin_403(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, managerClaims(uuid.New(), uuid.New()))

	target := "/api/v1/events/" + uuid.NewString() + "/promote"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, []byte(`{"slots":2}`)))

	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRouter_Promote_Admin_200(t *testing.T) {
	ev := freeEvent(uuid.New(), uuid.New())
	store := &fakeStore{
		promoteFn: func(ctx context.Context, eventID uuid.UUID, slots int) ([]domain.PromotionRecord, error) {
			require.Equal(t, ev.ID, eventID)
			require.Equal(t, 2, slots)
			return []domain.PromotionRecord{
				{RegistrationID: uuid.New(), EventID: eventID, StudentID: uuid.New()},
				{RegistrationID: uuid.New(), EventID: eventID, StudentID: uuid.New()},
			}, nil
		},
	}
	r := newTestRouter(store, newFakeCache(), &fakeProvider{}, adminClaims(uuid.New()))

	target := "/api/v1/events/" + ev.ID.String() + "/promote"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, []byte(`{"slots":2}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	env := decodeData(t, rr)
	require.Len(t, env.Data.(map[string]any)["promoted"].([]any), 2)
}

func TestRouter_WriteLimiter_BlocksWritesOnly(t *testing.T) {
	uid := uuid.New()
	cache := newFakeCache()
	cache.allow = false

	store := &fakeStore{
		getStatsFn: func(ctx context.Context, eventID uuid.UUID) (domain.EventStats, error) {
			return domain.EventStats{EventID: eventID}, nil
		},
	}
	r := newTestRouter(store, cache, &fakeProvider{}, adminClaims(uid))

	// writes bounce
	body := []byte(`{"event_id":"` + uuid.NewString() + `"}`)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, "/api/v1/registrations", body))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)

	// reads pass
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodGet, "/api/v1/events/"+uuid.NewString()+"/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_RateLimited_429WithRetryAfter(t *testing.T) {
	mgrID := uuid.New()
	schoolID := uuid.New()
	ev := draftEvent(mgrID, schoolID)

	store := &fakeStore{
		getEventFn: func(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
			return ev, nil
		},
		historyFn: func(ctx context.Context, actorID uuid.UUID) (domain.UploadHistory, error) {
			return domain.UploadHistory{UploadsToday: 1}, nil
		},
	}
	// daily cap of one, already spent
	auditLog := audit.New(zerolog.Nop())
	limited := domain.BulkLimits{MaxBatch: 500, DailyMax: 1, RequestTTL: time.Hour}
	regs := service.NewRegistrationService(store, newFakeCache(), &fakeProvider{}, auditLog)
	bulk := service.NewBulkService(store, nil, auditLog, limited)
	approvals := service.NewApprovalService(store, bulk, auditLog)
	r := NewRouter(RouterDeps{
		Handler:   NewHandler(regs, bulk, approvals),
		Cache:     newFakeCache(),
		Verifier:  fakeVerifier{claims: managerClaims(mgrID, schoolID)},
		JWTIssuer: "auth-service",
	})

	target := "/api/v1/events/" + ev.ID.String() + "/registrations/bulk"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest(http.MethodPost, target, []byte(`{"candidates":["S-1"]}`)))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	require.NotEmpty(t, rr.Header().Get("Retry-After"))
	errBody := decodeError(t, rr)
	require.Equal(t, "rate.limited", errBody.Error.Code)
}

func TestRouter_SecurityHeaders_Present(t *testing.T) {
	r := newTestRouter(&fakeStore{}, newFakeCache(), &fakeProvider{}, studentClaims(uuid.New()))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Contains(t, rr.Header().Get("Content-Security-Policy"), "default-src")
}
