// Package httpapi exposes the family graph service as JSON over HTTP.
//
// Authentication happens upstream; the authenticated member id arrives in the
// X-Caller-ID header and is passed through as the caller of every mutation.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dynastycore/internal/core"
)

// CallerHeader carries the authenticated member id.
const CallerHeader = "X-Caller-ID"

const maxBodyBytes = 1 << 20

// Option configures the handler.
type Option func(*API)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithMetricsHandler mounts h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *API) { a.metrics = h }
}

// API routes HTTP requests to a core.Service.
type API struct {
	svc     *core.Service
	logger  *slog.Logger
	metrics http.Handler
	router  chi.Router
}

// New builds the router.
func New(svc *core.Service, opts ...Option) *API {
	a := &API{svc: svc, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(a)
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics)
	}

	r.Post("/trees", a.createTree)
	r.Route("/trees/{treeID}", func(r chi.Router) {
		r.Get("/", a.getTree)
		r.Get("/view", a.viewTree)
		r.Post("/members", a.createMember)
		r.Route("/members/{memberID}", func(r chi.Router) {
			r.Get("/", a.getMember)
			r.Patch("/", a.updateMember)
			r.Delete("/", a.deleteMember)
			r.Post("/relationships", a.updateRelationships)
		})
		r.Post("/invitations", a.createInvitation)
		r.Get("/invitations", a.listInvitations)
		r.Put("/admins/{memberID}", a.promote)
		r.Delete("/admins/{memberID}", a.demote)
	})
	r.Route("/invitations/{invitationID}", func(r chi.Router) {
		r.Get("/", a.getInvitation)
		r.Post("/accept", a.acceptInvitation)
		r.Post("/reject", a.rejectInvitation)
	})
	a.router = r
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"caller_id", r.Header.Get(CallerHeader),
		)
	})
}
