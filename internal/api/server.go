// Package api serves the admin and polling HTTP surface: task
// triggering and result lookup, plus the self-healing control
// endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/syncd-io/syncd/internal/reconcile"
	"github.com/syncd-io/syncd/internal/worker"
)

// TriggerFunc starts an admin-requested agent run and returns its
// task id.
type TriggerFunc func(ctx context.Context, numWorkers int) (string, error)

// Server hosts the /tasks and /self-healing routes.
type Server struct {
	Addr    string
	Store   *worker.TaskStore
	Trigger TriggerFunc
	Healing *reconcile.Service
}

// Start serves the API. Blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("api")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /tasks/trigger-agent", s.handleTriggerAgent)
	mux.HandleFunc("GET /tasks/result/{task_id}", s.handleResult)
	mux.HandleFunc("GET /tasks/full-result/{task_id}", s.handleFullResult)
	mux.HandleFunc("POST /tasks/batch-result", s.handleBatchResult)
	mux.HandleFunc("POST /self-healing/detect-drift", s.handleDetectDrift)
	mux.HandleFunc("POST /self-healing/reconcile", s.handleReconcile)
	mux.HandleFunc("POST /self-healing/validate-key", s.handleValidateKey)
	mux.HandleFunc("GET /self-healing/server/status", s.handleStatus)
	mux.HandleFunc("POST /self-healing/server/enable", s.handleEnable)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("starting api server", "addr", s.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func decodeJSON(r *http.Request, into interface{}) error {
	defer func() { _ = r.Body.Close() }()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(into)
}
