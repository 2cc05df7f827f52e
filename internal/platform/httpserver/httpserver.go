package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"smregister/internal/platform/lifecycle"
	"smregister/pkg/platform/httputil"
)

const probeTimeout = 2 * time.Second

// New builds the admin/metrics HTTP server.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// Probes serves the liveness and readiness endpoints.
type Probes struct {
	state  *lifecycle.State
	checks map[string]Check
	logger *slog.Logger
}

// NewProbes reports liveness from state and readiness from state plus every check.
// Nil checks are ignored so optional dependencies can be passed unconditionally.
func NewProbes(state *lifecycle.State, checks map[string]Check, logger *slog.Logger) *Probes {
	active := make(map[string]Check, len(checks))
	for name, c := range checks {
		if c != nil {
			active[name] = c
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Probes{state: state, checks: active, logger: logger}
}

// Register mounts GET /is_alive and GET /is_ready.
func (p *Probes) Register(r chi.Router) {
	r.Get("/is_alive", p.handleAlive)
	r.Get("/is_ready", p.handleReady)
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (p *Probes) handleAlive(w http.ResponseWriter, _ *http.Request) {
	if !p.state.Alive() {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, probeResponse{Status: "dead"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, probeResponse{Status: "alive"})
}

func (p *Probes) handleReady(w http.ResponseWriter, r *http.Request) {
	if !p.state.Alive() || !p.state.Ready() {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, probeResponse{Status: "not_ready"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := probeResponse{Status: "ready", Checks: make(map[string]string, len(p.checks))}
	code := http.StatusOK
	for name, check := range p.checks {
		if err := check(ctx); err != nil {
			p.logger.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
			resp.Checks[name] = "down"
			resp.Status = "not_ready"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}
	httputil.WriteJSON(w, code, resp)
}
