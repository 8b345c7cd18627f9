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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"

	"github.com/syncd-io/syncd/internal/api"
	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/metrics"
	"github.com/syncd-io/syncd/internal/ops"
	"github.com/syncd-io/syncd/internal/reconcile"
	"github.com/syncd-io/syncd/internal/sink"
	"github.com/syncd-io/syncd/internal/source"
	"github.com/syncd-io/syncd/internal/webhook"
	"github.com/syncd-io/syncd/internal/worker"
)

func main() {
	log := funcr.NewJSON(func(obj string) {
		fmt.Fprintln(os.Stdout, obj)
	}, funcr.Options{LogTimestamp: true})

	if err := run(log); err != nil {
		log.Error(err, "fatal")
		os.Exit(1)
	}
}

func run(log logr.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logr.NewContext(ctx, log)

	pc, err := config.LoadProcessConfig()
	if err != nil {
		return err
	}
	bundle, err := config.Load(pc.BundlePath)
	if err != nil {
		return err
	}
	log.Info("bundle loaded",
		"platforms", len(bundle.Platforms),
		"datasources", len(bundle.Datasources),
		"rules", len(bundle.Rules),
	)

	m := metrics.New()
	webhook.RegisterMetrics(m.Registerer())

	sources := source.NewRegistry()
	sources.Register("github", source.NewGitHubFactory())
	sources.Register("git", source.NewGitFactory())

	sinks := sink.NewRegistry()
	sinks.Register("mongo", sink.NewDocumentFactory())
	sinks.Register("file", sink.NewFileFactory())

	store := worker.NewTaskStore()
	mainQ := worker.NewQueue("main", bundle.Worker.MainConcurrency, bundle.Worker.SoftTimeout, bundle.Worker.HardTimeout, store)
	workerQ := worker.NewQueue("workers", bundle.Worker.WorkerConcurrency, bundle.Worker.SoftTimeout, bundle.Worker.HardTimeout, store)
	mainQ.Start(ctx)
	workerQ.Start(ctx)

	mainWorker := &worker.MainWorker{
		Bundle:           bundle,
		Sources:          sources,
		Sinks:            sinks,
		MainQ:            mainQ,
		WorkerQ:          workerQ,
		Store:            store,
		Metrics:          m,
		FetchConcurrency: bundle.Worker.FetchConcurrency,
	}

	healing := reconcile.NewService(bundle.SelfHealing.PollInterval, bundle.SelfHealing.MaxConsecutiveErrors, m)
	if err := registerSchedules(ctx, bundle, sources, sinks, healing); err != nil {
		return err
	}

	health := ops.NewHealthServer(pc.OpsAddr)
	go health.Start(ctx)
	go ops.NewMetricsServer(pc.MetricsAddr, m.Handler()).Start(ctx)

	apiServer := &api.Server{
		Addr:    pc.APIAddr,
		Store:   store,
		Trigger: triggerFunc(bundle, sources, store, mainQ, pc.WebhookBaseURL),
		Healing: healing,
	}
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			log.Error(err, "api server stopped")
		}
	}()

	if bundle.SelfHealing.Enabled {
		go healing.Run(ctx)
	} else {
		log.Info("self-healing disabled by configuration")
	}

	// Best-effort webhook registration at startup; rules on platforms
	// without a hook API fall back to the reconciler.
	if pc.WebhookBaseURL != "" {
		go ensureWebhooks(ctx, bundle, sources, pc.WebhookBaseURL)
	}

	receiver := &webhook.Receiver{
		Bundle:     bundle,
		Sources:    sources,
		Dispatcher: mainWorker,
		Addr:       pc.ListenAddr,
	}
	health.MarkReady()
	return receiver.Start(ctx)
}

// registerSchedules wires a reconciliation schedule per (repository,
// branch) a rule declares for self-healing.
func registerSchedules(ctx context.Context, bundle *config.Bundle, sources *source.Registry, sinks *sink.Registry, healing *reconcile.Service) error {
	log := logr.FromContextOrDiscard(ctx)

	for i := range bundle.Rules {
		r := &bundle.Rules[i]
		if len(r.ReconcileBranches) == 0 {
			continue
		}

		platform, _ := bundle.Platform(r.Platform)
		ds, _ := bundle.Datasource(r.Datasource)
		src, err := sources.Create(*platform)
		if err != nil {
			return err
		}
		dest, err := sinks.Create(*ds)
		if err != nil {
			return err
		}
		if err := dest.Connect(ctx); err != nil {
			return err
		}

		interval := time.Duration(r.ReconcileInterval) * time.Second
		if interval <= 0 {
			interval = 5 * time.Minute
		}

		for _, repo := range r.Repositories {
			if strings.ContainsAny(repo, "*?") {
				log.Info("skipping reconcile schedule for repository pattern", "rule", r.Name, "pattern", repo)
				continue
			}
			manager := &reconcile.Manager{
				Source:             src,
				Sink:               dest,
				Rule:               r,
				DefaultKey:         r.DefaultKey,
				UseDefaultFallback: r.UseDefaultFallback,
			}
			for _, branch := range r.ReconcileBranches {
				healing.Register(repo, branch, manager, interval)
			}
		}
	}
	return nil
}

// triggerFunc backs POST /tasks/trigger-agent: it enqueues a main-
// queue task that re-resolves every rule's repositories and re-ensures
// their webhook registrations.
func triggerFunc(bundle *config.Bundle, sources *source.Registry, store *worker.TaskStore, mainQ *worker.Queue, baseURL string) api.TriggerFunc {
	return func(ctx context.Context, numWorkers int) (string, error) {
		id := store.Create()
		task := &worker.Task{
			ID:   id,
			Name: "trigger-agent",
			Run: func(taskCtx context.Context) (interface{}, error) {
				registered, errCount := ensureWebhooks(taskCtx, bundle, sources, baseURL)
				return map[string]interface{}{
					"agent_type":          "main",
					"workers_created":     numWorkers,
					"webhooks_registered": registered,
					"errors":              errCount,
				}, nil
			},
		}
		if err := mainQ.Enqueue(ctx, task); err != nil {
			store.Finish(id, nil, err)
			return "", err
		}
		return id, nil
	}
}

// ensureWebhooks resolves every rule's repository set and idempotently
// registers the ingress URL on each.
func ensureWebhooks(ctx context.Context, bundle *config.Bundle, sources *source.Registry, baseURL string) (registered, errCount int) {
	log := logr.FromContextOrDiscard(ctx).WithName("webhook-registration")

	for i := range bundle.Rules {
		r := &bundle.Rules[i]
		platform, ok := bundle.Platform(r.Platform)
		if !ok {
			continue
		}
		src, err := sources.Create(*platform)
		if err != nil {
			log.Error(err, "creating source for webhook registration", "rule", r.Name)
			errCount++
			continue
		}
		repos, err := src.ResolveRepositories(ctx, r.Repositories, r.ExcludeRepositories)
		if err != nil {
			log.Error(err, "resolving repositories", "rule", r.Name)
			errCount++
			continue
		}

		hookURL := strings.TrimRight(baseURL, "/") + "/webhooks/" + r.Platform + "/" + r.Datasource
		for _, repo := range repos {
			if err := src.EnsureWebhook(ctx, repo, hookURL, []string{"push", "pull_request"}); err != nil {
				log.Error(err, "ensuring webhook", "rule", r.Name, "repo", repo)
				errCount++
				continue
			}
			registered++
		}
	}
	return registered, errCount
}
