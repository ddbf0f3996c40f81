// Package httptransport assembles the HTTP surface. It owns routing and the
// middleware chain; all domain behavior lives in the per-feature handler
// packages it mounts.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	trailhandler "veil/internal/audittrail/handler"
	identityhandler "veil/internal/identity/handler"
	"veil/internal/platform/metrics"
	"veil/internal/platform/middleware"
	proofhandler "veil/internal/proof/handler"
	revealhandler "veil/internal/reveal/handler"
	"veil/pkg/platform/httputil"
)

// HealthChecker reports readiness of one backing dependency.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps carries everything the router mounts. Health checkers are keyed by
// dependency name for the healthz report.
type Deps struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Auth    middleware.ActorValidator

	Identity *identityhandler.Handler
	Proof    *proofhandler.Handler
	Reveal   *revealhandler.Handler
	Trail    *trailhandler.Handler

	Health         map[string]HealthChecker
	RequestTimeout time.Duration
}

// NewRouter wires the full endpoint tree. The transparency surface
// (checkpoints, proofs, public identity lookups are all hash- or
// handle-keyed) stays unauthenticated; everything that writes or resolves
// goes through actor auth.
func NewRouter(d Deps) http.Handler {
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(d.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(d.Logger))
	r.Use(middleware.Latency(d.Metrics))
	r.Use(middleware.Timeout(timeout))

	r.Get("/healthz", d.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(public chi.Router) {
		d.Proof.RegisterPublic(public)
		d.Trail.RegisterPublic(public)
	})

	r.Group(func(authed chi.Router) {
		authed.Use(middleware.ContentTypeJSON)
		authed.Use(middleware.RequireAuth(d.Auth, d.Logger))
		d.Identity.Register(authed)
		d.Proof.RegisterSubmission(authed)
		d.Reveal.Register(authed)
		d.Trail.Register(authed)
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(d.Health))}
	status := http.StatusOK
	for name, checker := range d.Health {
		if err := checker.Health(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	httputil.WriteJSON(w, status, resp)
}
