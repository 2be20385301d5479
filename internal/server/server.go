package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ethanteng/finsight-sub001/internal/advisor"
	"github.com/ethanteng/finsight-sub001/internal/aggregator"
	fsotel "github.com/ethanteng/finsight-sub001/internal/otel"
	"github.com/ethanteng/finsight-sub001/internal/prompt"
	"github.com/ethanteng/finsight-sub001/internal/requestctx"
	"github.com/ethanteng/finsight-sub001/internal/tier"
)

const (
	defaultTimeout = 30 * time.Second
	// askTimeout covers the source fetches plus a retried model call.
	askTimeout = 3 * time.Minute
	// maxBodyBytes bounds a question plus its history.
	maxBodyBytes = 256 << 10
)

// Asker answers questions; *advisor.Advisor in production.
type Asker interface {
	AskQuestion(ctx context.Context, userID string, t tier.Tier, question string, history []prompt.Turn) (*advisor.Answer, error)
}

// SourceAdmin exposes source status and refresh; *aggregator.Aggregator in
// production.
type SourceAdmin interface {
	Status() []aggregator.SourceStatus
	Refresh(ctx context.Context, ids ...string) map[string]error
}

// Server holds the HTTP API dependencies.
type Server struct {
	router      *chi.Mux
	asker       Asker
	sources     SourceAdmin
	registry    *tier.Registry
	apiKeys     map[string]requestctx.Caller
	limiter     *RateLimiter
	corsOrigins []string
	startTime   time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRateLimiter enables per-user rate limiting on authenticated routes.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

// WithCORSOrigins sets allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// NewServer builds a Server. apiKeys maps API key to caller.
func NewServer(asker Asker, sources SourceAdmin, registry *tier.Registry, apiKeys map[string]requestctx.Caller, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		asker:       asker,
		sources:     sources,
		registry:    registry,
		apiKeys:     apiKeys,
		corsOrigins: []string{"*"},
		startTime:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]requestctx.Caller)
	}
	return s
}

// Routes returns the chi router with middleware and routes.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(fsotel.Middleware())
	r.Use(CORSMiddleware(s.corsOrigins))

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.limiter))

		r.Post("/v1/ask", s.handleAsk)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultTimeout))
			r.Get("/v1/sources", s.handleSources)
			// Refresh bypasses the cache and breaker, so only the top tier may
			// force it.
			r.With(RequireTier(tier.Premium)).Post("/v1/sources/refresh", s.handleRefresh)
		})
	})
	return r
}
