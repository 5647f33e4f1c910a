// Package proxy implements the Proxy Entry (Component I): request sanitization,
// system-prompt injection, mode selection between JSON and SSE, the intent envelope for
// optimistic-locked appends and edit-as-fork, and the HTTP surface that fronts the
// orchestrator and persistence engine.
package proxy

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/nexus/internal/auth"
	"github.com/haasonsaas/nexus/internal/metrics"
	"github.com/haasonsaas/nexus/internal/orchestrator"
	"github.com/haasonsaas/nexus/internal/providers"
	"github.com/haasonsaas/nexus/internal/store"
	"github.com/haasonsaas/nexus/internal/streamreg"
)

// Config configures a Server.
type Config struct {
	Store           *store.Store
	Facades         map[string]*providers.Facade // keyed by provider id, e.g. "openai", "anthropic"
	DefaultProvider string
	Auth            *auth.Service
	Logger          *slog.Logger
	Metrics         *metrics.Metrics // nil disables request timing, /metrics stays mounted regardless
	Registry        orchestrator.Registry // built-in tool handlers; nil is fine, means no tools execute

	MaxIterations      int
	ToolConcurrency    int
	CheckpointMinChars int
	CheckpointInterval time.Duration
	CheckpointEnabled  bool

	RetentionDays int

	RateLimitPerSecond float64
	RateLimitBurst     int
}

// Server is the Proxy Entry. It owns no mutable conversation state of its own; every
// write goes through Store.
type Server struct {
	store           *store.Store
	facades         map[string]*providers.Facade
	defaultProvider string
	authService     *auth.Service
	logger          *slog.Logger
	metrics         *metrics.Metrics
	registry        orchestrator.Registry
	aborts          *streamreg.Registry
	limiter         *sessionLimiter

	maxIterations      int
	toolConcurrency    int
	checkpointMinChars int
	checkpointInterval time.Duration
	checkpointEnabled  bool

	retentionDays int
	startedAt     time.Time
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	concurrency := cfg.ToolConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Server{
		store:              cfg.Store,
		facades:            cfg.Facades,
		defaultProvider:    cfg.DefaultProvider,
		authService:        cfg.Auth,
		logger:             logger,
		metrics:            cfg.Metrics,
		registry:           cfg.Registry,
		aborts:             streamreg.New(),
		limiter:            newSessionLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		maxIterations:      maxIter,
		toolConcurrency:    concurrency,
		checkpointMinChars: cfg.CheckpointMinChars,
		checkpointInterval: cfg.CheckpointInterval,
		checkpointEnabled:  cfg.CheckpointEnabled,
		retentionDays:      cfg.RetentionDays,
		startedAt:          time.Now(),
	}
}

// Handler builds the HTTP mux, wrapping every route except /healthz and /metrics in auth
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	authed := http.NewServeMux()
	authed.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	authed.HandleFunc("POST /v1/chat/abort", s.handleAbort)
	authed.HandleFunc("GET /v1/conversations/{id}/messages", s.handleGetMessages)
	authed.HandleFunc("PUT /v1/conversations/{id}/messages/{mid}/edit", s.handleEditMessage)

	mux.Handle("/v1/", s.withMetrics(auth.Middleware(s.authService, s.logger)(authed)))
	return mux
}

// withMetrics records HTTPRequestDuration/HTTPRequestCounter for every request that
// reaches next, keyed by routeLabel's collapsed path rather than the raw path so per-session
// conversation ids don't explode the label cardinality.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		s.metrics.ObserveHTTP(r.Method, routeLabel(r.URL.Path), strconv.Itoa(rec.status), time.Since(start))
	})
}

// routeLabel collapses path-parameter segments (conversation/message ids) down to a
// fixed placeholder so the metric's cardinality stays bounded by route shape, not by
// how many conversations exist.
func routeLabel(path string) string {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	for i, seg := range segments {
		if i >= 2 && seg != "" && seg != "messages" && seg != "edit" && seg != "completions" && seg != "abort" {
			segments[i] = ":id"
		}
	}
	return "/" + strings.Join(segments, "/")
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) facadeFor(providerID string) (*providers.Facade, string, bool) {
	if providerID == "" {
		providerID = s.defaultProvider
	}
	f, ok := s.facades[providerID]
	return f, providerID, ok
}

// observeProvider records one completed orchestrator.Run call (which may have made
// several upstream requests across tool-call iterations) against the facade's provider
// id and the requested model.
func (s *Server) observeProvider(facade *providers.Facade, model string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	providerID := ""
	if facade != nil {
		providerID = facade.ProviderID
	}
	s.metrics.ObserveProvider(providerID, model, status, time.Since(start))
}
