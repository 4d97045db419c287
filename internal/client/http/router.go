// Package http serves the client's local admin surface: health, metrics and
// a view of the offline queue.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aussiebroadwan/marketsync/internal/client/domain"
	"github.com/aussiebroadwan/marketsync/internal/client/store"
	"github.com/aussiebroadwan/marketsync/pkg/httpx"
	"github.com/aussiebroadwan/marketsync/pkg/slogx"
)

// Syncer is the part of the sync engine the admin surface drives.
type Syncer interface {
	RunOnce(ctx context.Context) (domain.SyncSummary, error)
	Trigger()
}

// Connectivity reports whether the API is reachable.
type Connectivity interface {
	Online() bool
}

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store        store.Store
	Syncer       Syncer
	Connectivity Connectivity
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
	r.registerQueue()
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store, r.Connectivity))
	r.Mux.Handle("GET /metrics", promhttp.Handler())
}

func (r *Router) registerQueue() {
	h := &QueueHandler{Store: r.store, Syncer: r.Syncer, Logger: r.logger}

	r.Mux.Handle("GET /v1/queue",
		httpx.Chain(http.HandlerFunc(h.List),
			httpx.RateLimitByIP(httpx.ReadLimit),
		),
	)

	// Manual sync can hammer the API on a long queue, keep it tight.
	r.Mux.Handle("POST /v1/sync",
		httpx.Chain(http.HandlerFunc(h.Sync),
			httpx.RateLimitByIP(httpx.TriggerLimit),
		),
	)
}
