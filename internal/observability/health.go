package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker tracks named subsystem checks and serves them as
// /healthz (liveness) and /readyz (readiness). The daemon registers
// its dependencies up front and marks each ready as startup
// progresses; readiness means every registered check has passed.
type HealthChecker struct {
	mu        sync.Mutex
	checks    map[string]bool
	startTime time.Time
}

// NewHealthChecker creates a checker with the given checks registered
// as not-ready.
func NewHealthChecker(checks ...string) *HealthChecker {
	hc := &HealthChecker{
		checks:    make(map[string]bool, len(checks)),
		startTime: time.Now(),
	}
	for _, name := range checks {
		hc.checks[name] = false
	}
	return hc
}

// MarkReady records one subsystem as ready, registering it if needed.
func (h *HealthChecker) MarkReady(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = true
}

// MarkNotReady flips one subsystem back to not-ready (e.g. a lost
// connection); readiness drops until it recovers.
func (h *HealthChecker) MarkNotReady(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = false
}

// IsReady reports whether every registered check has passed.
func (h *HealthChecker) IsReady() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ok := range h.checks {
		if !ok {
			return false
		}
	}
	return true
}

func (h *HealthChecker) snapshot() (map[string]bool, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	checks := make(map[string]bool, len(h.checks))
	ready := true
	for name, ok := range h.checks {
		checks[name] = ok
		ready = ready && ok
	}
	return checks, ready
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 with the per-check breakdown once
// every check has passed, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	checks, ready := h.snapshot()

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	code := http.StatusOK
	if !ready {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}
