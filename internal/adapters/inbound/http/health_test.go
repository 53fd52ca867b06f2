package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archon-research/stl/stl-balances/internal/ports/inbound"
)

type mockHealthChecker struct {
	ready   bool
	healthy bool
}

func (m *mockHealthChecker) IsReady() bool   { return m.ready }
func (m *mockHealthChecker) IsHealthy() bool { return m.healthy }

// reportingChecker also summarises its last sync pass.
type reportingChecker struct {
	mockHealthChecker
	status inbound.SyncStatus
}

func (r *reportingChecker) SyncStatus() inbound.SyncStatus { return r.status }

func probe(t *testing.T, checker inbound.HealthChecker, down bool, method, path string) (int, map[string]any) {
	t.Helper()
	var shuttingDown atomic.Bool
	shuttingDown.Store(down)
	hs := NewHealthServer(HealthServerConfig{}, checker, &shuttingDown)

	w := httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	if w.Code == http.StatusMethodNotAllowed {
		return w.Code, nil
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return w.Code, body
}

// ---------------------------------------------------------------------------
// Probes
// ---------------------------------------------------------------------------

func TestHealthServer_Probes(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		ready    bool
		healthy  bool
		down     bool
		wantCode int
		want     string
	}{
		{"ready", "/health/ready", true, false, false, http.StatusOK, "ready"},
		{"not ready", "/health/ready", false, true, false, http.StatusServiceUnavailable, "not_ready"},
		{"ready while draining", "/health/ready", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
		{"live", "/health/live", false, true, false, http.StatusOK, "healthy"},
		{"stale", "/health/live", true, false, false, http.StatusServiceUnavailable, "unhealthy"},
		{"live while draining", "/health/live", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
		{"combined ok", "/health", true, true, false, http.StatusOK, "ok"},
		{"combined before first pass", "/health", false, true, false, http.StatusServiceUnavailable, "degraded"},
		{"combined stale", "/health", true, false, false, http.StatusServiceUnavailable, "degraded"},
		{"combined while draining", "/health", true, true, true, http.StatusServiceUnavailable, "shutting_down"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := &mockHealthChecker{ready: tt.ready, healthy: tt.healthy}
			code, body := probe(t, checker, tt.down, http.MethodGet, tt.path)
			if code != tt.wantCode {
				t.Errorf("code = %d, want %d", code, tt.wantCode)
			}
			if body["status"] != tt.want {
				t.Errorf("status = %v, want %q", body["status"], tt.want)
			}
		})
	}
}

func TestHealthServer_CombinedFlags(t *testing.T) {
	_, body := probe(t, &mockHealthChecker{ready: false, healthy: true}, false, http.MethodGet, "/health")
	if body["ready"] != false || body["healthy"] != true || body["shuttingDown"] != false {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["sync"]; ok {
		t.Error("plain checker should not report a sync summary")
	}

	_, body = probe(t, &mockHealthChecker{ready: true, healthy: true}, true, http.MethodGet, "/health")
	if body["ready"] != false || body["healthy"] != false || body["shuttingDown"] != true {
		t.Errorf("draining body = %v", body)
	}
}

func TestHealthServer_IncludesSyncStatus(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	checker := &reportingChecker{
		mockHealthChecker: mockHealthChecker{ready: true, healthy: true},
		status:            inbound.SyncStatus{LastPass: &last, Wallets: 12, Degraded: 2, Failed: 1, QueueEnabled: true},
	}

	code, body := probe(t, checker, false, http.MethodGet, "/health")
	if code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	sync, ok := body["sync"].(map[string]any)
	if !ok {
		t.Fatalf("sync = %v, want an object", body["sync"])
	}
	if sync["wallets"] != float64(12) || sync["degraded"] != float64(2) || sync["failed"] != float64(1) {
		t.Errorf("sync counts = %v", sync)
	}
	if sync["queue"] != true || sync["lastPass"] != "2026-03-01T12:00:00Z" {
		t.Errorf("sync = %v", sync)
	}
}

func TestHealthServer_RejectsWrites(t *testing.T) {
	code, _ := probe(t, &mockHealthChecker{ready: true, healthy: true}, false, http.MethodPost, "/health/ready")
	if code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", code)
	}
}

func TestHealthServer_NilShutdownFlag(t *testing.T) {
	hs := NewHealthServer(HealthServerConfig{}, &mockHealthChecker{ready: true, healthy: true}, nil)
	w := httptest.NewRecorder()
	hs.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusOK {
		t.Errorf("code = %d", w.Code)
	}
}
