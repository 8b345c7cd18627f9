// Package reconcile implements the self-healing reconciler: scheduled
// per-(repository, branch) comparison of Git state against store
// state, drift classification, and optional auto-fix.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/syncd-io/syncd/internal/pipeline"
	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/internal/sink"
	"github.com/syncd-io/syncd/internal/source"
	"github.com/syncd-io/syncd/pkg/events"
)

// DriftType classifies one key's disagreement between Git and the
// store.
type DriftType string

const (
	MissingInDB   DriftType = "MISSING_IN_DB"
	ExtraInDB     DriftType = "EXTRA_IN_DB"
	ValueMismatch DriftType = "VALUE_MISMATCH"
)

// DriftItem is one detected disagreement.
type DriftItem struct {
	Key       string      `json:"key"`
	Type      DriftType   `json:"drift_type"`
	GitValue  interface{} `json:"git_value,omitempty"`
	DBValue   interface{} `json:"db_value,omitempty"`
	FilePath  string      `json:"file_path"`
	UniqueKey string      `json:"unique_key"`
	Env       string      `json:"env"`
}

// Report is the outcome of one reconciliation run.
type Report struct {
	Repository    string      `json:"repository"`
	Branch        string      `json:"branch"`
	FilesChecked  int         `json:"files_checked"`
	KeysChecked   int         `json:"keys_checked"`
	DriftDetected []DriftItem `json:"drift_detected"`
	FixesApplied  []DriftItem `json:"fixes_applied"`
	Errors        []string    `json:"errors"`
	StartTime     time.Time   `json:"start_time"`
	EndTime       time.Time   `json:"end_time"`
	DryRun        bool        `json:"dry_run"`
}

// Manager reconciles one rule's files between a source and a sink.
type Manager struct {
	Source source.Source
	Sink   sink.Sink
	Rule   *rule.Rule

	// DefaultKey/UseDefaultFallback configure the Flatten stage the
	// same way the Sync Engine does.
	DefaultKey         string
	UseDefaultFallback bool
}

// checkFileDrift fetches both sides for one file and classifies every
// difference.
func (m *Manager) checkFileDrift(ctx context.Context, repository, branch, path string) ([]DriftItem, int, error) {
	repoName := events.RepoName(repository)
	match, ok := m.Rule.Match(path, branch, repoName)
	if !ok {
		return nil, 0, fmt.Errorf("file %q does not match rule %q on branch %q", path, m.Rule.Name, branch)
	}

	gitRaw, err := m.Source.Fetch(ctx, repository, branch, path)
	if err != nil {
		return nil, 0, err
	}
	opts := pipeline.FlattenOptions{
		EnvKey:             match.Env,
		DefaultKey:         m.DefaultKey,
		UseDefaultFallback: m.UseDefaultFallback,
	}
	gitFlat := pipeline.FlattenKV(pipeline.Project(pipeline.Parse(gitRaw), m.Rule.RootKey), opts)

	meta := pipeline.RowMetadata{UniqueKey: match.UniqueKey, Env: match.Env, FilePath: path}
	dbState, err := m.Sink.Fetch(ctx, meta)
	if err != nil {
		return nil, 0, err
	}

	added, changed, deleted, unchanged := pipeline.Compare(gitFlat, dbState)

	var items []DriftItem
	for k, v := range added {
		items = append(items, DriftItem{Key: k, Type: MissingInDB, GitValue: v, FilePath: path, UniqueKey: match.UniqueKey, Env: match.Env})
	}
	for k, v := range changed {
		items = append(items, DriftItem{Key: k, Type: ValueMismatch, GitValue: v, DBValue: dbState[k], FilePath: path, UniqueKey: match.UniqueKey, Env: match.Env})
	}
	for k, v := range deleted {
		items = append(items, DriftItem{Key: k, Type: ExtraInDB, DBValue: v, FilePath: path, UniqueKey: match.UniqueKey, Env: match.Env})
	}
	keysChecked := len(added) + len(changed) + len(deleted) + len(unchanged)
	return items, keysChecked, nil
}

// Reconcile runs one pass over the given files (the rule's fileName
// when none are provided) and reports every drift item; when autoFix is
// set and dryRun is not, each item is translated into a mutation row and
// written. A
// protected EXTRA_IN_DB key stays in the report but is never fixed.
func (m *Manager) Reconcile(ctx context.Context, repository, branch string, files []string, dryRun, autoFix bool) *Report {
	report := &Report{
		Repository: repository,
		Branch:     branch,
		StartTime:  time.Now(),
		DryRun:     dryRun,
	}

	if len(files) == 0 && m.Rule.FileName != "" {
		files = []string{m.Rule.FileName}
	}

	for _, path := range files {
		drift, keys, err := m.checkFileDrift(ctx, repository, branch, path)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("checking %s: %v", path, err))
			continue
		}
		report.DriftDetected = append(report.DriftDetected, drift...)
		report.FilesChecked++
		report.KeysChecked += keys
	}

	if autoFix && !dryRun {
		m.applyFixes(ctx, report)
	}

	report.EndTime = time.Now()
	return report
}

func driftKind(t DriftType) pipeline.RowKind {
	switch t {
	case MissingInDB:
		return pipeline.RowInsert
	case ValueMismatch:
		return pipeline.RowUpdate
	default:
		return pipeline.RowDelete
	}
}

func (m *Manager) applyFixes(ctx context.Context, report *Report) {
	for _, item := range report.DriftDetected {
		if item.Type == ExtraInDB && m.Rule.IsProtected(item.Key) {
			continue
		}
		row := pipeline.MutationRow{
			Key:   item.Key,
			Value: item.GitValue,
			Kind:  driftKind(item.Type),
			Metadata: pipeline.RowMetadata{
				UniqueKey: item.UniqueKey,
				Env:       item.Env,
				FilePath:  item.FilePath,
			},
		}
		if err := m.Sink.Write(ctx, row); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("fixing %s: %v", item.Key, err))
			continue
		}
		report.FixesApplied = append(report.FixesApplied, item)
	}
	if err := m.Sink.Flush(ctx); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("flushing fixes: %v", err))
	}
}

// ValidateKey checks a single key's agreement between Git and the
// store.
func (m *Manager) ValidateKey(ctx context.Context, repository, branch, path, key string) (bool, error) {
	drift, _, err := m.checkFileDrift(ctx, repository, branch, path)
	if err != nil {
		return false, err
	}
	for _, item := range drift {
		if item.Key == key {
			return false, nil
		}
	}
	return true, nil
}
