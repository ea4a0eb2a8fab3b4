package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apimw "github.com/sweeney/callx-bridge/internal/api/middleware"
	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/callx"
	"github.com/sweeney/callx-bridge/internal/lifecycle"
	"github.com/sweeney/callx-bridge/internal/payload"
)

// CallService is the part of callx.Service the HTTP surface drives.
type CallService interface {
	OnPayload(ctx context.Context, doc payload.Value) (callx.Outcome, error)
	Answer(ctx context.Context, callID string) (bool, error)
	Decline(ctx context.Context, callID string) (bool, error)
	EndCall(ctx context.Context, callID string) (bool, error)
	Current() (call.Record, bool)
	State() lifecycle.State
	Registered() bool
}

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router  *chi.Mux
	svc     CallService
	metrics http.Handler
	limiter *apimw.IPRateLimiter
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithRateLimiter replaces the payload ingestion limiter.
func WithRateLimiter(l *apimw.IPRateLimiter) Option {
	return func(s *Server) { s.limiter = l }
}

// NewServer creates the HTTP handler with all routes mounted.
func NewServer(svc CallService, opts ...Option) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		svc:     svc,
		limiter: apimw.NewIPRateLimiter(apimw.PayloadRateLimitConfig()),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.With(apimw.RateLimit(s.limiter)).Post("/payloads", s.handlePayload)

		r.Route("/calls", func(r chi.Router) {
			r.Get("/current", s.handleCurrent)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/answer", s.handleAction(s.svc.Answer))
				r.Post("/decline", s.handleAction(s.svc.Decline))
				r.Post("/end", s.handleAction(s.svc.EndCall))
			})
		})
	})

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
}
