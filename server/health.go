// Package server provides the minimal operational HTTP surface this core
// exposes: liveness, readiness, and a debug status dump wired to
// StartupGate and Scheduler. This is deliberately NOT the admin/trading
// HTTP API (order placement, user management, dashboards) — spec.md §1
// scopes that to an out-of-scope gateway; everything here only answers
// "is the process alive and has it finished starting".
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/alexherrero/tradecore/broker"
)

// Checker reports whether a long-running component has finished its
// startup work and is actively serving. Ready components register
// themselves with Handler so /readyz reflects real state instead of a
// hardcoded "ok".
type Checker interface {
	// Name identifies this component in /readyz's checks map.
	Name() string
	// Ready reports the component's current readiness.
	Ready() bool
}

// checkerFunc adapts a plain func to Checker.
type checkerFunc struct {
	name string
	fn   func() bool
}

func (c checkerFunc) Name() string { return c.name }
func (c checkerFunc) Ready() bool  { return c.fn() }

// NewChecker builds a Checker from a name and a readiness func, the usual
// way a composition root registers one (e.g. "order.coordinator",
// func() bool { return coordinator.Started() }).
func NewChecker(name string, fn func() bool) Checker {
	return checkerFunc{name: name, fn: fn}
}

// Handler serves /healthz, /readyz, and /debug/status.
type Handler struct {
	registry *broker.Registry
	checks   []Checker
	started  time.Time
}

// NewHandler builds a Handler. registry may be nil (its status is then
// omitted from /debug/status, useful for a FEED_COLLECTOR-only process
// still wiring up broker connections).
func NewHandler(registry *broker.Registry, checks ...Checker) *Handler {
	return &Handler{registry: registry, checks: checks, started: time.Now()}
}

// Router builds the chi router serving this handler's three endpoints.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Get("/debug/status", h.DebugStatus)
	return r
}

// Healthz reports liveness only: the process is up and serving HTTP.
// It never depends on any collaborator, so a broker outage or a stuck
// scheduler task never takes this endpoint down with it.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"uptime_sec": int(time.Since(h.started).Seconds()),
	})
}

// Readyz reports whether every registered Checker is ready. It returns
// 503 if any check fails, the signal an orchestrator's readiness probe
// uses to hold traffic back during startup.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checks))
	allReady := true
	for _, c := range h.checks {
		if c.Ready() {
			checks[c.Name()] = "ready"
		} else {
			checks[c.Name()] = "not_ready"
			allReady = false
		}
	}

	status := http.StatusOK
	if !allReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"ready":  allReady,
		"checks": checks,
	})
}

// DebugStatus dumps broker connection state for operator troubleshooting
// (spec.md §4.10's watchdog health check, surfaced over HTTP rather than
// only in logs). Never exposes credentials — just connection + name.
func (h *Handler) DebugStatus(w http.ResponseWriter, r *http.Request) {
	brokers := make(map[string]interface{})
	if h.registry != nil {
		for userBrokerID, port := range h.registry.All() {
			brokers[userBrokerID] = map[string]interface{}{
				"broker":    port.Name(),
				"connected": port.IsConnected(),
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_sec": int(time.Since(h.started).Seconds()),
		"brokers":    brokers,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("server: failed to write JSON response")
	}
}
