// Package api is the HTTP surface of the service: the smart-chat and
// smart-switch-chat routes, health and metrics.
//
// Authentication and agent ownership checks happen upstream; the X-User-ID
// header carries the already authenticated user.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/conversation"
	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/sources"
	"github.com/calque-ai/go-smartchat/pkg/switcher"
)

// Deps are the services the handlers call.
type Deps struct {
	Engine        *retrieval.Engine
	Orchestrator  *switcher.Orchestrator
	Sources       sources.Registry
	Conversations *conversation.Manager
	// Invokers serve the direct smart-chat call, keyed by provider name.
	Invokers map[string]switcher.Invoker
	// QueryEmbedder, when set, embeds the query so vector-capable registries
	// can prefilter sources.
	QueryEmbedder retrieval.Embedder

	Health         *observability.HealthCheckRegistry
	Metrics        observability.MetricsProvider
	Tracer         observability.TracerProvider
	MetricsHandler http.Handler // served on /metrics when set
	Logger         *slog.Logger
}

// Options tune handler behavior.
type Options struct {
	// DefaultProvider and DefaultModel answer smart-chat for agents that
	// name no provider.
	DefaultProvider string
	DefaultModel    string
	// InvokeTimeout bounds the direct smart-chat call. Default 30s.
	InvokeTimeout time.Duration
	// MaxOutputTokens for the direct smart-chat call. Default 1024.
	MaxOutputTokens int
	// MaxBodyBytes caps request bodies. Default 1 MiB.
	MaxBodyBytes int64
	// MaxMessageLength in characters. Default 32 000.
	MaxMessageLength int
	// Debug adds the debug block to smart-chat responses.
	Debug bool
}

func (o *Options) defaults() {
	if o.InvokeTimeout <= 0 {
		o.InvokeTimeout = 30 * time.Second
	}
	if o.MaxOutputTokens <= 0 {
		o.MaxOutputTokens = 1024
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 1 << 20
	}
	if o.MaxMessageLength <= 0 {
		o.MaxMessageLength = 32000
	}
}

// Server routes requests to the services.
type Server struct {
	deps  Deps
	opts  Options
	stats *chatStats
	now   func() time.Time
}

// New validates deps and returns a Server.
func New(deps Deps, opts Options) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("api: retrieval engine is required")
	}
	if deps.Orchestrator == nil {
		return nil, errors.New("api: orchestrator is required")
	}
	if deps.Sources == nil {
		return nil, errors.New("api: source registry is required")
	}
	if deps.Conversations == nil {
		return nil, errors.New("api: conversation manager is required")
	}
	if deps.Health == nil {
		deps.Health = observability.NewHealthCheckRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Metrics = observability.OrNoop(deps.Metrics)
	deps.Tracer = observability.TracerOrNoop(deps.Tracer)
	opts.defaults()

	return &Server{deps: deps, opts: opts, stats: &chatStats{}, now: time.Now}, nil
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /agents/{id}/smart-chat", s.handleSmartChat)
	mux.HandleFunc("GET /agents/{id}/smart-chat", s.handleSmartChatStatus)
	mux.HandleFunc("POST /agents/{id}/smart-switch-chat", s.handleSmartSwitchChat)
	mux.HandleFunc("GET /agents/{id}/smart-switch-chat", s.handleSmartSwitchHistory)
	mux.Handle("GET /healthz", s.deps.Health.Handler())
	if s.deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.deps.MetricsHandler)
	}
	return s.requestContext(s.recoverer(mux))
}
