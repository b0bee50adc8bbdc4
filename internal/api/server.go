package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/authz"
	"github.com/JakeFAU/realtime-social-crawler/internal/clock/system"
	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/errclass"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-social-crawler/internal/orchestrator"
)

// Actions checked against the Authorizer.
const (
	ActionCrawl       = "crawl"
	ActionSearch      = "search"
	ActionMonitor     = "monitor"
	ActionClearLimits = "clear_limits"
)

// Crawler is the orchestration surface used by the handlers.
type Crawler interface {
	TriggerCrawl(ctx context.Context, platform crawler.Platform) (crawler.CrawlJob, error)
	SearchKeywords(ctx context.Context, keywords []string, platforms []crawler.Platform, opts orchestrator.SearchOptions) ([]orchestrator.PlatformResult, error)
	MonitorAccounts(ctx context.Context, accounts []orchestrator.Account, opts orchestrator.SearchOptions) ([]orchestrator.AccountResult, error)
	TrendingTopics(ctx context.Context, platform crawler.Platform, hours int) ([]orchestrator.Trend, error)
	Statistics(ctx context.Context, days int) (crawler.Statistics, error)
	Job(ctx context.Context, id string) (crawler.CrawlJob, error)
}

// RateLimits exposes the governor's read and clear operations.
type RateLimits interface {
	Status(ctx context.Context, platform crawler.Platform) (map[string]crawler.EndpointStatus, error)
	Clear(ctx context.Context, platform crawler.Platform) error
	Statistics(ctx context.Context, since time.Time) (crawler.RateLimitStatistics, error)
}

// ErrorStats exposes the classifier's history.
type ErrorStats interface {
	Stats(ctx context.Context, platform crawler.Platform, hours int) errclass.Stats
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Config controls the server.
type Config struct {
	AuthEnabled bool
	// Keys maps an API key to its principal.
	Keys           map[string]authz.Principal
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the orchestrator, governor and classifier.
type Server struct {
	router     chi.Router
	crawler    Crawler
	limits     RateLimits
	errors     ErrorStats
	authorizer authz.Authorizer
	ready      map[string]ReadinessCheck
	clock      crawler.Clock
	cfg        Config
	logger     *zap.Logger
}

// Option customizes a Server.
type Option func(*Server)

// WithReadinessCheck adds a named dependency to /readyz.
func WithReadinessCheck(name string, check ReadinessCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.ready[name] = check
		}
	}
}

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(s *Server) {
		if c != nil {
			s.clock = c
		}
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	c Crawler,
	limits RateLimits,
	errs ErrorStats,
	authorizer authz.Authorizer,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		crawler:    c,
		limits:     limits,
		errors:     errs,
		authorizer: authorizer,
		ready:      make(map[string]ReadinessCheck),
		clock:      system.New(),
		cfg:        cfg,
		logger:     logger.Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Group(func(r chi.Router) {
			r.Use(timeoutMiddleware(cfg.RequestTimeout))
			r.Get("/ratelimits", s.rateLimitStatistics)
			r.Get("/ratelimits/{platform}", s.rateLimitStatus)
			r.Get("/errors/{platform}", s.errorStats)
			r.Get("/trending", s.trending)
			r.Get("/stats", s.statistics)
			r.Get("/jobs/{job_id}", s.getJob)
			r.Post("/analyze", s.analyze)
			r.With(s.guard(ActionClearLimits)).Delete("/ratelimits/{platform}", s.clearRateLimits)
		})
		r.With(s.guard(ActionCrawl)).Post("/crawl/{platform}", s.triggerCrawl)
		r.With(s.guard(ActionSearch)).Post("/search", s.search)
		r.With(s.guard(ActionMonitor)).Post("/monitor", s.monitor)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	failures := make(map[string]string)
	for name, check := range s.ready {
		if err := check(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
