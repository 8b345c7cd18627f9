// Package ops serves the liveness/readiness probes and the metrics
// endpoint on their own ports, separate from the webhook and API
// surfaces.
package ops

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// HealthServer exposes /healthz, /readyz, and /startupz endpoints.
type HealthServer struct {
	ready  atomic.Bool
	server *http.Server
}

// NewHealthServer creates a health server on the given address.
func NewHealthServer(addr string) *HealthServer {
	hs := &HealthServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", hs.handleHealthz)
	mux.HandleFunc("/readyz", hs.handleReadyz)
	mux.HandleFunc("/startupz", hs.handleReadyz)

	hs.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return hs
}

// MarkReady signals that startup wiring has completed.
func (hs *HealthServer) MarkReady() {
	hs.ready.Store(true)
}

// Start begins serving health endpoints. Blocks until ctx is cancelled.
func (hs *HealthServer) Start(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("health")

	go func() {
		<-ctx.Done()
		_ = hs.server.Close()
	}()

	log.Info("health server starting", "addr", hs.server.Addr)
	if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err, "health server error")
	}
}

func (hs *HealthServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (hs *HealthServer) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if hs.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	}
}

// MetricsServer serves the /metrics endpoint on a dedicated port.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer creates a metrics server on the given address.
func NewMetricsServer(addr string, handler http.Handler) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start begins serving metrics. Blocks until ctx is cancelled.
func (ms *MetricsServer) Start(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("metrics")

	go func() {
		<-ctx.Done()
		_ = ms.server.Close()
	}()

	log.Info("metrics server starting", "addr", ms.server.Addr)
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err, "metrics server error")
	}
}
