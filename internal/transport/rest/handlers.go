package rest

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/campusevents/registration-service/internal/domain"
	appCtx "github.com/campusevents/registration-service/internal/pkg/context"
	"github.com/campusevents/registration-service/internal/service"
	"github.com/campusevents/registration-service/internal/transport/rest/response"
)

type Handler struct {
	regs      *service.RegistrationService
	bulk      *service.BulkService
	approvals *service.ApprovalService
}

func NewHandler(regs *service.RegistrationService, bulk *service.BulkService, approvals *service.ApprovalService) *Handler {
	return &Handler{regs: regs, bulk: bulk, approvals: approvals}
}

// CreateRegistration is the self-service write. Paid events answer 202 with a
// payment intent until the caller returns with a settled payment_ref.
func (h *Handler) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	var req createRegistrationReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validateRequest(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
		return
	}

	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid event_id", map[string]string{
			"event_id": "must be a valid uuid",
		})
		return
	}

	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	studentID := auth.UserID
	if req.StudentID != "" {
		studentID, err = uuid.Parse(req.StudentID)
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid student_id", nil)
			return
		}
		if studentID != auth.UserID && auth.Role != domain.RoleAdmin {
			fail(w, r, http.StatusForbidden, "auth.forbidden", "students may only register themselves", nil)
			return
		}
	}

	res, err := h.regs.Create(r.Context(), eventID, studentID, req.PaymentRef)
	if err != nil {
		handleErr(w, r, err)
		return
	}

	if res.Intent != nil {
		response.Data(w, http.StatusAccepted, map[string]any{
			"payment_intent": res.Intent,
		})
		return
	}
	response.Data(w, http.StatusCreated, map[string]any{
		"registration": toRegistrationView(res.Registration),
	})
}

func (h *Handler) CancelRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "registrationID")
	if !ok {
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	reason := strings.TrimSpace(r.URL.Query().Get("reason"))
	res, err := h.regs.Cancel(r.Context(), id, auth.UserID, auth.Role, reason)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, cancelPayload(res))
}

// ForceCancel is the admin path: operator-chosen refund, reason mandatory.
func (h *Handler) ForceCancel(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "registrationID")
	if !ok {
		return
	}

	var req forceCancelReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validateRequest(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
		return
	}

	res, err := h.regs.ForceCancel(r.Context(), id, auth.UserID, req.RefundOverride, req.Reason)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, cancelPayload(res))
}

func (h *Handler) GetRegistration(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "registrationID")
	if !ok {
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	reg, err := h.regs.GetRegistration(r.Context(), id, auth.UserID, auth.Role)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"registration": toRegistrationView(reg),
	})
}

func (h *Handler) RefundPreview(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}

	var asOf time.Time
	if s := strings.TrimSpace(r.URL.Query().Get("as_of")); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid as_of", nil)
			return
		}
		asOf = t.UTC()
	}

	quote, err := h.regs.RefundPreview(r.Context(), eventID, asOf)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, quote)
}

func (h *Handler) ListEventRegistrations(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid cursor", nil)
		return
	}

	// status=CONFIRMED,WAITLISTED,...
	var statuses []domain.RegistrationStatus
	if s := strings.TrimSpace(r.URL.Query().Get("status")); s != "" {
		for _, p := range strings.Split(s, ",") {
			if v := strings.ToUpper(strings.TrimSpace(p)); v != "" {
				statuses = append(statuses, domain.RegistrationStatus(v))
			}
		}
	}

	items, next, err := h.regs.ListEventRegistrations(r.Context(), eventID, auth.UserID, auth.Role, statuses, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items":       registrationViews(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *Handler) Waitlist(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid cursor", nil)
		return
	}

	items, next, err := h.regs.ListWaitlist(r.Context(), eventID, auth.UserID, auth.Role, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items":       registrationViews(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *Handler) StudentRegistrations(w http.ResponseWriter, r *http.Request) {
	studentID, ok := pathUUID(w, r, "studentID")
	if !ok {
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	cur, err := decodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid cursor", nil)
		return
	}

	items, next, err := h.regs.ListStudentRegistrations(r.Context(), studentID, auth.UserID, auth.Role, limit, cur)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items":       registrationViews(items),
		"next_cursor": encodeCursor(next),
	})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	s, err := h.regs.GetStats(r.Context(), eventID, auth.UserID, auth.Role)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toStatsView(s))
}

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	_, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}

	var req promoteReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validateRequest(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
		return
	}

	promoted, err := h.regs.Promote(r.Context(), eventID, req.Slots)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"promoted": promotionViews(promoted),
	})
}

// BulkUpload registers a batch by registration number. Depending on actor and
// batch size the answer is either the executed report or a parked approval
// reference.
func (h *Handler) BulkUpload(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}
	actor, ok := ActorFromClaims(auth)
	if !ok {
		fail(w, r, http.StatusForbidden, "auth.forbidden", "self-service accounts cannot bulk upload", nil)
		return
	}

	var req bulkUploadReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validateRequest(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
		return
	}

	outcome, err := h.bulk.Upload(r.Context(), service.UploadCmd{
		EventID:          eventID,
		Actor:            actor,
		Candidates:       req.Candidates,
		CapacityOverride: req.CapacityOverride,
	})
	if err != nil {
		handleErr(w, r, err)
		return
	}

	if outcome.Pending != nil {
		response.Data(w, http.StatusAccepted, map[string]any{
			"pending_approval": outcome.Pending,
		})
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"report": outcome.Report,
	})
}

func (h *Handler) BulkLogs(w http.ResponseWriter, r *http.Request) {
	eventID, ok := pathUUID(w, r, "eventID")
	if !ok {
		return
	}
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	logs, err := h.bulk.ListLogs(r.Context(), eventID, auth.UserID, auth.Role, limit)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items": bulkLogViews(logs),
	})
}

func (h *Handler) ListBulkRequests(w http.ResponseWriter, r *http.Request) {
	_, ok := requireAdmin(w, r)
	if !ok {
		return
	}

	var status *domain.RequestStatus
	if s := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))); s != "" {
		v := domain.RequestStatus(s)
		switch v {
		case domain.RequestPending, domain.RequestProcessing, domain.RequestApproved,
			domain.RequestRejected, domain.RequestExpired:
			status = &v
		default:
			fail(w, r, http.StatusBadRequest, "request.invalid", "invalid status", nil)
			return
		}
	}

	limit := parseLimit(r.URL.Query().Get("limit"))
	reqs, err := h.approvals.List(r.Context(), status, limit)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"items": bulkRequestViews(reqs),
	})
}

func (h *Handler) GetBulkRequest(w http.ResponseWriter, r *http.Request) {
	_, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	req, err := h.approvals.Get(r.Context(), id)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, toBulkRequestView(req, true))
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	report, err := h.approvals.Approve(r.Context(), id, auth.UserID)
	if err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]any{
		"report": report,
	})
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	auth, ok := requireAdmin(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "requestID")
	if !ok {
		return
	}

	var req rejectRequestReq
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid body", nil)
		return
	}
	if err := validateRequest(req); err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)
		return
	}

	if err := h.approvals.Reject(r.Context(), id, auth.UserID, req.Reason); err != nil {
		handleErr(w, r, err)
		return
	}
	response.Data(w, http.StatusOK, map[string]string{
		"msg": "rejected",
	})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	response.Data(w, http.StatusOK, map[string]string{"status": "ok"})
}

func cancelPayload(res *domain.CancelResult) map[string]any {
	return map[string]any{
		"registration": toRegistrationView(res.Registration),
		"refund":       res.Quote,
		"promoted":     promotionViews(res.Promoted),
	}
}

func handleErr(w http.ResponseWriter, r *http.Request, err error) {
	var rl *domain.RateLimitError
	if errors.As(err, &rl) {
		secs := int64((rl.RetryAfter + time.Second - 1) / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		fail(w, r, http.StatusTooManyRequests, "rate.limited", rl.Reason, map[string]string{
			"retry_after_seconds": strconv.FormatInt(secs, 10),
		})
		return
	}

	switch {
	case domain.IsValidation(err):
		fail(w, r, http.StatusBadRequest, "request.invalid", err.Error(), nil)

	case errors.Is(err, domain.ErrEventNotFound):
		fail(w, r, http.StatusNotFound, "event.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrStudentNotFound):
		fail(w, r, http.StatusNotFound, "student.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrRegistrationNotFound):
		fail(w, r, http.StatusNotFound, "registration.not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrRequestNotFound):
		fail(w, r, http.StatusNotFound, "request.not_found", err.Error(), nil)

	case errors.Is(err, domain.ErrEventFull):
		fail(w, r, http.StatusConflict, "event.full", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyRegistered):
		fail(w, r, http.StatusConflict, "registration.duplicate", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyCancelled):
		fail(w, r, http.StatusConflict, "registration.already_cancelled", err.Error(), nil)
	case errors.Is(err, domain.ErrRequestExpired):
		fail(w, r, http.StatusConflict, "request.expired", err.Error(), nil)
	case errors.Is(err, domain.ErrRequestNotPending):
		fail(w, r, http.StatusConflict, "request.already_decided", err.Error(), nil)

	case errors.Is(err, domain.ErrRegistrationClosed):
		fail(w, r, http.StatusGone, "event.not_open", err.Error(), nil)

	case errors.Is(err, domain.ErrPaymentNotCompleted):
		fail(w, r, http.StatusPaymentRequired, "payment.not_completed", err.Error(), nil)

	case errors.Is(err, domain.ErrForbidden):
		fail(w, r, http.StatusForbidden, "auth.forbidden", err.Error(), nil)
	case errors.Is(err, domain.ErrOwnership):
		fail(w, r, http.StatusForbidden, "auth.not_owner", err.Error(), nil)
	case errors.Is(err, domain.ErrSchoolScope):
		fail(w, r, http.StatusForbidden, "auth.school_scope", err.Error(), nil)

	case domain.IsTransient(err):
		fail(w, r, http.StatusServiceUnavailable, "store.unavailable", "temporary store failure, retry shortly", nil)

	default:
		// Never leak internals on unexpected errors.
		fail(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

func fail(w http.ResponseWriter, r *http.Request, status int, code, message string, meta map[string]string) {
	reqID := appCtx.GetRequestID(r.Context())
	if reqID == "" {
		reqID = "no-request-id"
	}
	response.Fail(w, status, code, message, meta, reqID)
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (AuthContext, bool) {
	auth, ok := GetAuth(r.Context())
	if !ok {
		fail(w, r, http.StatusUnauthorized, "auth.unauthorized", "unauthorized", nil)
		return AuthContext{}, false
	}
	if auth.Role != domain.RoleAdmin {
		fail(w, r, http.StatusForbidden, "auth.forbidden", "admin role required", nil)
		return AuthContext{}, false
	}
	return auth, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		fail(w, r, http.StatusBadRequest, "request.invalid", "invalid "+name, map[string]string{
			name: "must be a valid uuid",
		})
		return uuid.Nil, false
	}
	return id, true
}

func parseLimit(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 20
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 20
	}
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}
