package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthChecker tracks per-component readiness for the engine process.
// Components register at construction (postgres, nats, the core loop) and
// flip ready as their startup step completes; /readyz reports 200 only
// once every component is up, and any component flipping back down takes
// readiness with it.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]bool
	startTime  time.Time
}

func NewHealthChecker(components ...string) *HealthChecker {
	m := make(map[string]bool, len(components))
	for _, c := range components {
		m[c] = false
	}
	return &HealthChecker{
		components: m,
		startTime:  time.Now(),
	}
}

// SetReady flips one component's readiness. Unknown names register on the
// fly so late-wired components still count against readiness.
func (h *HealthChecker) SetReady(component string, ready bool) {
	h.mu.Lock()
	h.components[component] = ready
	h.mu.Unlock()
}

// IsReady reports whether every registered component is ready. A checker
// with no components is never ready.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.components) == 0 {
		return false
	}
	for _, ready := range h.components {
		if !ready {
			return false
		}
	}
	return true
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

// ReadinessHandler returns HTTP 200 with the per-component breakdown once
// all components are up, 503 with the same breakdown otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	components := make(map[string]bool, len(h.components))
	for name, ready := range h.components {
		components[name] = ready
	}
	h.mu.RUnlock()

	ready := len(components) > 0
	for _, up := range components {
		if !up {
			ready = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	status := "ready"
	if !ready {
		status = "not_ready"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"components": components,
	})
}
