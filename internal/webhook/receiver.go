/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-logr/logr"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/source"
	"github.com/syncd-io/syncd/pkg/events"
)

const maxPayloadBytes = 1 << 20 // 1 MiB

// Dispatcher hands a verified, classified webhook to the main worker
// queue and returns the task id the caller can poll.
type Dispatcher interface {
	DispatchWebhook(ctx context.Context, platform, datasource string, kind events.Kind, payload []byte) (taskID string, err error)
}

// Receiver is the webhook ingress HTTP server: it verifies the
// provider signature, classifies the event, and dispatches it to the
// main worker. Verification happens BEFORE the event is classified or
// dispatched; an unknown platform or datasource name is rejected with
// 400 before the signature is checked.
type Receiver struct {
	Bundle     *config.Bundle
	Sources    *source.Registry
	Dispatcher Dispatcher
	Addr       string
}

// Start starts the ingress server. Blocks until ctx is cancelled.
func (rv *Receiver) Start(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("webhook-receiver")

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/{platform}/{datasource}", rv.handleWebhook)

	server := &http.Server{
		Addr:              rv.Addr,
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

	log.Info("starting webhook receiver", "addr", rv.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook server error: %w", err)
	}
	return nil
}

func (rv *Receiver) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logr.FromContextOrDiscard(r.Context()).WithName("webhook-receiver")

	platformName := r.PathValue("platform")
	datasourceName := r.PathValue("datasource")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		log.Error(err, "failed to read request body")
		webhookRequestsTotal.WithLabelValues(platformName, "400").Inc()
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	platform, ok := rv.Bundle.Platform(platformName)
	if !ok {
		webhookRequestsTotal.WithLabelValues(platformName, "400").Inc()
		http.Error(w, `{"error":"unknown platform"}`, http.StatusBadRequest)
		return
	}
	if _, ok := rv.Bundle.Datasource(datasourceName); !ok {
		webhookRequestsTotal.WithLabelValues(platformName, "400").Inc()
		http.Error(w, `{"error":"unknown datasource"}`, http.StatusBadRequest)
		return
	}

	src, err := rv.Sources.Create(*platform)
	if err != nil {
		log.Error(err, "resolving source adapter", "platform", platformName)
		webhookRequestsTotal.WithLabelValues(platformName, "500").Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if platform.WebhookSecretEnv != "" {
		secret := os.Getenv(platform.WebhookSecretEnv)
		signature := r.Header.Get(src.SignatureHeader())
		if err := ValidateHMAC(body, signature, secret); err != nil {
			webhookRejectedTotal.WithLabelValues(platformName).Inc()
			webhookRequestsTotal.WithLabelValues(platformName, "401").Inc()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	eventType := r.Header.Get(src.EventTypeHeader())
	kind, ok := src.EventKind(eventType)
	if !ok {
		webhookRequestsTotal.WithLabelValues(platformName, "202").Inc()
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "ignored", "reason": "unhandled event type " + eventType})
		return
	}

	taskID, err := rv.Dispatcher.DispatchWebhook(r.Context(), platformName, datasourceName, kind, body)
	if err != nil {
		log.Error(err, "dispatching webhook", "platform", platformName, "datasource", datasourceName)
		webhookRequestsTotal.WithLabelValues(platformName, "500").Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.Info("webhook accepted", "platform", platformName, "datasource", datasourceName, "event", eventType, "task", taskID)
	webhookRequestsTotal.WithLabelValues(platformName, "202").Inc()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"task_id": taskID,
	})
}

func writeJSON(w http.ResponseWriter, status int, data map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
