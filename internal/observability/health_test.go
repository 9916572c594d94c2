package observability_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"PerpEngine/internal/observability"
)

func TestHealthChecker_ComponentReadiness(t *testing.T) {
	h := observability.NewHealthChecker("postgres", "nats", "http")
	if h.IsReady() {
		t.Error("fresh checker reports ready")
	}

	h.SetReady("postgres", true)
	h.SetReady("nats", true)
	if h.IsReady() {
		t.Error("ready with http still down")
	}

	h.SetReady("http", true)
	if !h.IsReady() {
		t.Error("all components up, still not ready")
	}

	// One component dropping takes readiness with it.
	h.SetReady("nats", false)
	if h.IsReady() {
		t.Error("ready with nats down")
	}
}

func TestHealthChecker_NoComponents(t *testing.T) {
	if observability.NewHealthChecker().IsReady() {
		t.Error("checker with no components reports ready")
	}
}

func TestReadinessHandler_ReportsComponents(t *testing.T) {
	h := observability.NewHealthChecker("postgres", "nats")
	h.SetReady("postgres", true)

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d, want 503", rec.Code)
	}
	var resp struct {
		Status     string          `json:"status"`
		Components map[string]bool `json:"components"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "not_ready" {
		t.Errorf("status: got %q, want not_ready", resp.Status)
	}
	if !resp.Components["postgres"] || resp.Components["nats"] {
		t.Errorf("components: got %v", resp.Components)
	}

	h.SetReady("nats", true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("after all up: got %d, want 200", rec.Code)
	}
}
