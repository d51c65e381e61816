package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"

	"github.com/campusevents/registration-service/internal/domain"
	"github.com/campusevents/registration-service/internal/metrics"
	"github.com/campusevents/registration-service/internal/security"
)

type RouterDeps struct {
	Handler   *Handler
	Cache     domain.CacheRepository
	Verifier  security.AccessTokenVerifier
	JWTIssuer string

	// Global per-IP limit; disabled when RLEnabled is false.
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration
}

func NewRouter(d RouterDeps) http.Handler {
	if d.Handler == nil {
		panic("rest.NewRouter: nil handler")
	}
	if d.Cache == nil {
		panic("rest.NewRouter: nil cache")
	}
	if d.Verifier == nil {
		panic("rest.NewRouter: nil verifier")
	}

	r := chi.NewRouter()

	// Request ID + structured access log
	r.Use(RequestID)
	r.Use(HTTPLogger)

	// Panic recovery
	r.Use(middleware.Recoverer)

	// Cross-cutting
	if d.RLEnabled && d.RLLimit > 0 {
		r.Use(httprate.Limit(
			d.RLLimit,
			d.RLWindow,
			httprate.WithKeyFuncs(httprate.KeyByIP),
		))
	}
	r.Use(SecurityHeaders)

	r.Get("/healthz", Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(d.Verifier, AuthOptions{ExpectedIssuer: d.JWTIssuer}))

		// reads
		r.Get("/registrations/{registrationID}", d.Handler.GetRegistration)
		r.Get("/events/{eventID}/registrations", d.Handler.ListEventRegistrations)
		r.Get("/events/{eventID}/waitlist", d.Handler.Waitlist)
		r.Get("/events/{eventID}/stats", d.Handler.Stats)
		r.Get("/events/{eventID}/bulk-logs", d.Handler.BulkLogs)
		r.Get("/events/{eventID}/refund-preview", d.Handler.RefundPreview)
		r.Get("/students/{studentID}/registrations", d.Handler.StudentRegistrations)
		r.Get("/bulk-requests", d.Handler.ListBulkRequests)
		r.Get("/bulk-requests/{requestID}", d.Handler.GetBulkRequest)

		// writes share the per-caller fixed window
		r.Group(func(r chi.Router) {
			r.Use(WriteLimiter(d.Cache))

			r.Post("/registrations", d.Handler.CreateRegistration)
			r.Delete("/registrations/{registrationID}", d.Handler.CancelRegistration)
			r.Post("/registrations/{registrationID}/force-cancel", d.Handler.ForceCancel)

			r.Post("/events/{eventID}/registrations/bulk", d.Handler.BulkUpload)
			r.Post("/events/{eventID}/promote", d.Handler.Promote)

			r.Post("/bulk-requests/{requestID}/approve", d.Handler.ApproveRequest)
			r.Post("/bulk-requests/{requestID}/reject", d.Handler.RejectRequest)
		})
	})

	return r
}
