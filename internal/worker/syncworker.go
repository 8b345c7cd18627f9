package worker

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/lifecycle"
	"github.com/syncd-io/syncd/internal/metrics"
	"github.com/syncd-io/syncd/internal/pipeline"
	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/internal/sink"
	"github.com/syncd-io/syncd/internal/source"
	"github.com/syncd-io/syncd/internal/syncengine"
	"github.com/syncd-io/syncd/pkg/events"
)

// FileFailure is one file's terminal error within an otherwise
// successful job. The worker never converts a per-file failure into a
// job failure.
type FileFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// SyncResult aggregates one event's outcome.
type SyncResult struct {
	Status         string        `json:"status"` // success | success-with-errors
	Repository     string        `json:"repository"`
	Branch         string        `json:"branch"`
	ProcessedFiles int           `json:"processed_files"`
	RowsWritten    int           `json:"rows_written"`
	Pruned         int           `json:"pruned"`
	PruneProtected []string      `json:"prune_protected,omitempty"`
	Failures       []FileFailure `json:"failures,omitempty"`
}

// SyncWorker executes the full pipeline for one normalized event:
// lifecycle analysis, planned parallel fetches, the Sync Engine per
// file, a buffered flush, and finally the prune list.
type SyncWorker struct {
	Source           source.Source
	Sinks            *sink.Registry
	Datasource       config.Datasource
	Metrics          *metrics.Metrics
	FetchConcurrency int
}

// eventShape extracts the per-kind fields the pipeline needs: for a
// push, head/base are after/before; for a PR, head is the PR head and
// base is the real merge base, never the target branch tip.
func eventShape(env events.Envelope) (repository, branch, headSHA, baseSHA string, commits []events.NormalizedCommit) {
	switch env.Kind {
	case events.KindPR:
		pr := env.PR
		return pr.Repository, pr.HeadBranch, pr.HeadSHA, pr.BaseSHA, pr.Commits
	default:
		push := env.Push
		return push.Repository, push.Branch, push.AfterSHA, push.BeforeSHA, push.Commits
	}
}

func (w *SyncWorker) Run(ctx context.Context, env events.Envelope, r *rule.Rule) (*SyncResult, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("sync-worker")
	start := time.Now()

	repository, branch, headSHA, baseSHA, commits := eventShape(env)
	repoName := events.RepoName(repository)
	result := &SyncResult{Status: "success", Repository: repository, Branch: branch}

	lc := lifecycle.Analyze(commits, r, branch, repoName)
	plans := syncengine.BuildPlan(lc, headSHA, baseSHA, r)
	if len(plans) == 0 {
		log.Info("no in-scope files in event", "repo", repoName, "branch", branch)
		return result, nil
	}

	dest, err := w.Sinks.Create(w.Datasource)
	if err != nil {
		return nil, err
	}
	if err := dest.Connect(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = dest.Disconnect(ctx) }()

	buffer := sink.NewBuffer(dest, w.Datasource.BufferSize)
	engine := &syncengine.Engine{
		Sink:               dest,
		IsFileStrategy:     w.Datasource.Strategy == config.StrategyFile,
		DefaultKey:         r.DefaultKey,
		UseDefaultFallback: r.UseDefaultFallback,
	}

	var fetchPlans, prunePlans []syncengine.FilePlan
	for _, p := range plans {
		if p.Prune {
			prunePlans = append(prunePlans, p)
		} else {
			fetchPlans = append(fetchPlans, p)
		}
	}

	// Two requests per file (current, previous), fanned out over the
	// bounded pool and joined before the engine runs.
	requests := make([]source.FetchRequest, 0, len(fetchPlans)*2)
	for _, p := range fetchPlans {
		requests = append(requests,
			source.FetchRequest{Repo: repository, Commit: p.CurrentCommit, Path: p.Path},
			source.FetchRequest{Repo: repository, Commit: p.PreviousCommit, Path: p.Path},
		)
	}
	fetched := source.FetchAll(ctx, w.Source, requests, w.FetchConcurrency)

	if !r.PruneLast {
		w.processPrunes(ctx, buffer, prunePlans, r, headSHA, result)
	}

	for i, p := range fetchPlans {
		current, previous := fetched[2*i], fetched[2*i+1]
		if ferr := firstError(current.Err, previous.Err); ferr != nil {
			result.Failures = append(result.Failures, FileFailure{Path: p.Path, Error: ferr.Error()})
			continue
		}

		bundle := syncengine.FileBundle{
			Current:  current.Content,
			Previous: previous.Content,
			Metadata: pipeline.RowMetadata{
				UniqueKey:  p.Match.UniqueKey,
				Env:        p.Match.Env,
				FilePath:   p.Path,
				CommitHash: headSHA,
			},
		}
		rows, err := engine.Rows(ctx, bundle, r)
		if err != nil {
			result.Failures = append(result.Failures, FileFailure{Path: p.Path, Error: err.Error()})
			continue
		}
		for _, row := range rows {
			if err := buffer.Write(ctx, row); err != nil {
				result.Failures = append(result.Failures, FileFailure{Path: p.Path, Error: err.Error()})
				break
			}
		}
		result.ProcessedFiles++
		result.RowsWritten += len(rows)
	}

	if err := buffer.Flush(ctx); err != nil {
		result.Failures = append(result.Failures, FileFailure{Path: "(flush)", Error: err.Error()})
	}

	if r.PruneLast {
		w.processPrunes(ctx, buffer, prunePlans, r, headSHA, result)
		if err := buffer.Flush(ctx); err != nil {
			result.Failures = append(result.Failures, FileFailure{Path: "(prune flush)", Error: err.Error()})
		}
	}

	if len(result.Failures) > 0 {
		result.Status = "success-with-errors"
	}
	if w.Metrics != nil {
		w.Metrics.SyncDuration.WithLabelValues(repoName).Observe(time.Since(start).Seconds())
		w.Metrics.SyncTotal.WithLabelValues(repoName, result.Status).Inc()
		w.Metrics.RowsWritten.WithLabelValues(repoName).Add(float64(result.RowsWritten))
	}
	log.Info("sync complete",
		"repo", repoName,
		"branch", branch,
		"files", result.ProcessedFiles,
		"rows", result.RowsWritten,
		"pruned", result.Pruned,
		"failures", len(result.Failures),
	)
	return result, nil
}

// processPrunes emits a whole-record delete per pruned file. A
// protected unique key stays in the report but is never deleted.
func (w *SyncWorker) processPrunes(ctx context.Context, buffer *sink.Buffer, prunePlans []syncengine.FilePlan, r *rule.Rule, headSHA string, result *SyncResult) {
	for _, p := range prunePlans {
		uniqueKey := p.Match.UniqueKey
		if r.IsProtected(uniqueKey) {
			result.PruneProtected = append(result.PruneProtected, uniqueKey)
			continue
		}
		row := pipeline.MutationRow{
			Kind: pipeline.RowDelete,
			Metadata: pipeline.RowMetadata{
				UniqueKey:  uniqueKey,
				Env:        p.Match.Env,
				FilePath:   p.Path,
				CommitHash: headSHA,
			},
		}
		if err := buffer.Write(ctx, row); err != nil {
			result.Failures = append(result.Failures, FileFailure{Path: p.Path, Error: err.Error()})
			continue
		}
		result.Pruned++
	}
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
