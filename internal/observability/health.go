package observability

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// HealthChecker backs the /healthz and /readyz probes. Readiness flips on
// once recovery is complete and Postgres and NATS are connected, and flips
// off again at the start of shutdown so load balancers drain first.
type HealthChecker struct {
	ready   atomic.Bool
	started time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler answers 200 whenever the process can serve HTTP at all.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeProbe(w, http.StatusOK, map[string]string{
		"status": "alive",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// ReadinessHandler answers 200 when ready, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.ready.Load() {
		writeProbe(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeProbe(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func writeProbe(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
