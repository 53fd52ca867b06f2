// Package http provides the inbound HTTP adapters of the balance worker:
// health probes and an on-demand sync API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/archon-research/stl/stl-balances/internal/ports/inbound"
)

// HealthServerConfig holds configuration for the health server.
type HealthServerConfig struct {
	// Addr is the listen address. Defaults to :8080.
	Addr string

	Logger *slog.Logger

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Routes registers additional handlers on the same listener.
	Routes func(mux *http.ServeMux)
}

// HealthServerConfigDefaults returns a config with default values.
func HealthServerConfigDefaults() HealthServerConfig {
	return HealthServerConfig{
		Addr:         ":8080",
		Logger:       slog.Default(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// HealthServer serves the worker's probes:
//
//	GET /health/ready  200 once the first sync pass has completed
//	GET /health/live   200 while passes keep completing
//	GET /health        combined view, plus the last pass summary when known
//
// All three return 503 once shuttingDown is set so a load balancer drains the
// task before the worker stops.
type HealthServer struct {
	server       *http.Server
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// healthResponse is the JSON body of every probe.
type healthResponse struct {
	Status       string              `json:"status"`
	Ready        *bool               `json:"ready,omitempty"`
	Healthy      *bool               `json:"healthy,omitempty"`
	ShuttingDown *bool               `json:"shuttingDown,omitempty"`
	Sync         *inbound.SyncStatus `json:"sync,omitempty"`
}

// NewHealthServer creates a health server. A nil shuttingDown is treated as
// never shutting down.
func NewHealthServer(config HealthServerConfig, checker inbound.HealthChecker, shuttingDown *atomic.Bool) *HealthServer {
	defaults := HealthServerConfigDefaults()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if shuttingDown == nil {
		shuttingDown = new(atomic.Bool)
	}

	hs := &HealthServer{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       config.Logger.With("component", "health-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/ready", hs.probe(checker.IsReady, "ready", "not_ready"))
	mux.HandleFunc("GET /health/live", hs.probe(checker.IsHealthy, "healthy", "unhealthy"))
	mux.HandleFunc("GET /health", hs.handleHealth)
	if config.Routes != nil {
		config.Routes(mux)
	}

	hs.server = &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return hs
}

// Handler returns the server's mux.
func (hs *HealthServer) Handler() http.Handler {
	return hs.server.Handler
}

// Start listens in the background.
func (hs *HealthServer) Start() {
	go func() {
		hs.logger.Info("starting health server", "addr", hs.server.Addr)
		if err := hs.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Error("health server failed", "error", err)
		}
	}()
}

// Shutdown stops the listener, waiting up to timeout for in-flight requests.
func (hs *HealthServer) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return hs.server.Shutdown(ctx)
}

// probe builds a single-condition handler.
func (hs *HealthServer) probe(check func() bool, okStatus, failStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		switch {
		case hs.shuttingDown.Load():
			hs.respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "shutting_down"})
		case check():
			hs.respondJSON(w, http.StatusOK, healthResponse{Status: okStatus})
		default:
			hs.respondJSON(w, http.StatusServiceUnavailable, healthResponse{Status: failStatus})
		}
	}
}

func (hs *HealthServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if hs.shuttingDown.Load() {
		no, yes := false, true
		hs.respondJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status: "shutting_down", Ready: &no, Healthy: &no, ShuttingDown: &yes,
		})
		return
	}

	ready, healthy, down := hs.checker.IsReady(), hs.checker.IsHealthy(), false
	resp := healthResponse{Status: "ok", Ready: &ready, Healthy: &healthy, ShuttingDown: &down}
	if reporter, ok := hs.checker.(inbound.SyncStatusReporter); ok {
		st := reporter.SyncStatus()
		resp.Sync = &st
	}

	code := http.StatusOK
	if !ready || !healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	hs.respondJSON(w, code, resp)
}

func (hs *HealthServer) respondJSON(w http.ResponseWriter, status int, body healthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		hs.logger.Error("encoding health response", "error", err)
	}
}
