// Package admin is the HTTP status/metrics surface for a redicore-backed
// program: /status, /healthz, /ready, and /metrics. It wraps a single
// rpool.Pool rather than a set of per-tenant pools, since a library
// consumer owns exactly one Pool per logical Redis target.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/duskfin/redicore/rmetrics"
	"github.com/duskfin/redicore/rpool"
)

// Server exposes operational endpoints for a running Pool.
type Server struct {
	pool       *rpool.Pool
	metrics    *rmetrics.Collector
	poolName   string
	httpServer *http.Server
	startTime  time.Time

	pingTimeout time.Duration
}

// NewServer wires an admin surface around pool, identified as poolName in
// metrics and status output. m may be nil if metrics are not wanted.
func NewServer(poolName string, p *rpool.Pool, m *rmetrics.Collector) *Server {
	return &Server{
		pool:        p,
		metrics:     m,
		poolName:    poolName,
		startTime:   time.Now(),
		pingTimeout: 2 * time.Second,
	}
}

// Start begins serving on addr (e.g. "0.0.0.0:9121"). Non-blocking.
func (s *Server) Start(addr string) error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[admin] listening on %s", addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[admin] server error: %v", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the admin server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// ping acquires a connection and sends PING, reporting round-trip latency.
// This is the single synchronous health-check technique that Acquire also
// runs inline on handout; the admin surface just exposes it on demand.
func (s *Server) ping(ctx context.Context) (time.Duration, error) {
	conn, err := s.pool.Acquire(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("acquiring connection: %w", err)
	}
	defer s.pool.Release(conn)

	start := time.Now()
	err = conn.Ping(ctx)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.HealthCheckCompleted(s.poolName, elapsed, err == nil)
	}
	return elapsed, err
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.pingTimeout)
	defer cancel()

	latency, err := s.ping(ctx)
	if err != nil {
		if s.metrics != nil {
			s.metrics.HealthCheckError(s.poolName, "ping_failed")
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "healthy",
		"latency_ms": latency.Seconds() * 1000,
	})
}

// readyHandler always reports ready once the process is up: a Pool dials
// lazily, so an empty pool isn't a sign of trouble the way it would be for
// a per-tenant proxy checking whether any backend is reachable yet.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := s.pool.Stats()
	uptime := time.Since(s.startTime).Seconds()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"pool": map[string]interface{}{
			"name":    s.poolName,
			"active":  stats.Active,
			"idle":    stats.Idle,
			"total":   stats.Total,
			"waiting": stats.Waiting,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
