package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/internal/metrics"
	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/internal/sink"
	"github.com/syncd-io/syncd/internal/source"
	"github.com/syncd-io/syncd/pkg/events"
)

// MainResult is the structured outcome of one main-queue task, shaped
// so the ingress endpoint can answer within its 202 contract.
type MainResult struct {
	Status     string `json:"status"` // ignored | processing | error
	Reason     string `json:"reason,omitempty"`
	SyncTaskID string `json:"sync_task_id,omitempty"`
}

// MainWorker normalizes verified webhooks on the main queue and hands
// per-event pipelines to the worker queue. It
// implements webhook.Dispatcher.
type MainWorker struct {
	Bundle  *config.Bundle
	Sources *source.Registry
	Sinks   *sink.Registry
	MainQ   *Queue
	WorkerQ *Queue
	Store   *TaskStore
	Metrics *metrics.Metrics

	FetchConcurrency int

	mu      sync.Mutex
	sources map[string]source.Source
}

// sourceFor returns the cached adapter for a platform, building it on
// first use. Adapters pool their own clients.
func (m *MainWorker) sourceFor(p *config.Platform) (source.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sources == nil {
		m.sources = make(map[string]source.Source)
	}
	if s, ok := m.sources[p.Name]; ok {
		return s, nil
	}
	s, err := m.Sources.Create(*p)
	if err != nil {
		return nil, err
	}
	m.sources[p.Name] = s
	return s, nil
}

// ruleFor finds the first declared rule bound to (platform,
// datasource). Rules are keyed by that pair.
func (m *MainWorker) ruleFor(platform, datasource string) (*rule.Rule, bool) {
	for i := range m.Bundle.Rules {
		r := &m.Bundle.Rules[i]
		if r.Platform == platform && r.Datasource == datasource {
			return r, true
		}
	}
	return nil, false
}

// DispatchWebhook enqueues the normalization task for one verified
// webhook and returns its task id immediately.
func (m *MainWorker) DispatchWebhook(ctx context.Context, platform, datasource string, kind events.Kind, payload []byte) (string, error) {
	id := m.Store.Create()
	task := &Task{
		ID:   id,
		Name: fmt.Sprintf("webhook:%s:%s", platform, datasource),
		Run: func(taskCtx context.Context) (interface{}, error) {
			return m.processWebhook(taskCtx, platform, datasource, kind, payload)
		},
	}
	if err := m.MainQ.Enqueue(ctx, task); err != nil {
		m.Store.Finish(id, nil, err)
		return "", err
	}
	return id, nil
}

// prActionable reports whether a PR action carries content worth
// syncing; other actions (labeled, assigned, ...) are ignored.
func prActionable(action string) bool {
	switch action {
	case "opened", "synchronize", "reopened":
		return true
	default:
		return false
	}
}

func (m *MainWorker) processWebhook(ctx context.Context, platformName, datasourceName string, kind events.Kind, payload []byte) (*MainResult, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("main-worker")

	platform, ok := m.Bundle.Platform(platformName)
	if !ok {
		return &MainResult{Status: "error", Reason: "unknown platform"}, fmt.Errorf("%w: unknown platform %q", errs.ConfigInvalid, platformName)
	}
	baseRule, ok := m.ruleFor(platformName, datasourceName)
	if !ok {
		return &MainResult{Status: "ignored", Reason: "no rule for platform/datasource pair"}, nil
	}
	src, err := m.sourceFor(platform)
	if err != nil {
		return &MainResult{Status: "error", Reason: err.Error()}, err
	}

	env := events.Envelope{Kind: kind, Platform: platformName, Datasource: datasourceName}
	var repository string
	switch kind {
	case events.KindPush:
		push, err := src.NormalizePush(payload)
		if err != nil {
			return &MainResult{Status: "error", Reason: "push normalization failed"}, err
		}
		env.Push = push
		repository = push.Repository
	case events.KindPR:
		pr, err := src.NormalizePR(ctx, payload)
		if err != nil {
			return &MainResult{Status: "error", Reason: "pr normalization failed"}, err
		}
		if !prActionable(pr.Action) {
			return &MainResult{Status: "ignored", Reason: "pr action " + pr.Action}, nil
		}
		env.PR = pr
		repository = pr.Repository
	default:
		return &MainResult{Status: "ignored", Reason: "unhandled event kind"}, nil
	}

	repoName := events.RepoName(repository)
	if !baseRule.InScope(repoName) {
		return &MainResult{Status: "ignored", Reason: "repository out of rule scope"}, nil
	}

	resolved, err := rule.Resolve(baseRule, repoName)
	if err != nil {
		return &MainResult{Status: "error", Reason: "override resolution failed"}, err
	}

	// The envelope and resolved rule cross the queue boundary as JSON,
	// the same serialization the polling API exposes.
	envelopeJSON, err := json.Marshal(env)
	if err != nil {
		return &MainResult{Status: "error", Reason: "envelope serialization failed"}, err
	}
	ruleJSON, err := json.Marshal(resolved)
	if err != nil {
		return &MainResult{Status: "error", Reason: "rule serialization failed"}, err
	}

	syncID := m.Store.Create()
	syncTask := &Task{
		ID:   syncID,
		Name: fmt.Sprintf("sync:%s:%s", repoName, env.Kind),
		Run: func(taskCtx context.Context) (interface{}, error) {
			return m.runSync(taskCtx, envelopeJSON, ruleJSON, src)
		},
	}
	if err := m.WorkerQ.Enqueue(ctx, syncTask); err != nil {
		m.Store.Finish(syncID, nil, err)
		return &MainResult{Status: "error", Reason: "worker queue unavailable"}, err
	}

	log.Info("event dispatched to sync worker", "repo", repoName, "kind", env.Kind, "syncTask", syncID)
	return &MainResult{Status: "processing", SyncTaskID: syncID}, nil
}

// runSync reconstructs the envelope and rule on the worker side and
// executes the per-event pipeline.
func (m *MainWorker) runSync(ctx context.Context, envelopeJSON, ruleJSON []byte, src source.Source) (interface{}, error) {
	var env events.Envelope
	if err := json.Unmarshal(envelopeJSON, &env); err != nil {
		return nil, fmt.Errorf("%w: envelope: %v", errs.ConfigInvalid, err)
	}
	var r rule.Rule
	if err := json.Unmarshal(ruleJSON, &r); err != nil {
		return nil, fmt.Errorf("%w: rule: %v", errs.ConfigInvalid, err)
	}

	ds, ok := m.Bundle.Datasource(env.Datasource)
	if !ok {
		return nil, fmt.Errorf("%w: unknown datasource %q", errs.ConfigInvalid, env.Datasource)
	}

	sw := &SyncWorker{
		Source:           src,
		Sinks:            m.Sinks,
		Datasource:       *ds,
		Metrics:          m.Metrics,
		FetchConcurrency: m.FetchConcurrency,
	}
	return sw.Run(ctx, env, &r)
}
