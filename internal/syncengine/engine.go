// Package syncengine composes the content pipeline, the state
// comparator, the sync-mode chooser, and the sink into an ordered
// batch of mutation rows for one file.
package syncengine

import (
	"context"
	"fmt"
	"sort"

	"github.com/syncd-io/syncd/internal/pipeline"
	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/internal/sink"
	"github.com/syncd-io/syncd/internal/syncmode"
)

// FileBundle is one file's inputs to the engine: current and previous
// content (either may be nil) plus the routing metadata every emitted
// row carries.
type FileBundle struct {
	Current  []byte
	Previous []byte
	Metadata pipeline.RowMetadata
}

// Engine turns FileBundles into mutation-row batches against one sink.
type Engine struct {
	Sink           sink.Sink
	IsFileStrategy bool

	// DefaultKey and UseDefaultFallback configure the Flatten stage's
	// env-overlay fallback.
	DefaultKey         string
	UseDefaultFallback bool
}

// Rows computes the ordered mutation batch for one file. The returned
// rows are sorted INSERTs first, then UPDATEs, then DELETEs, each
// group by key ascending, so repeated runs over the same inputs
// produce identical batches.
func (e *Engine) Rows(ctx context.Context, bundle FileBundle, r *rule.Rule) ([]pipeline.MutationRow, error) {
	mode := r.SyncMode
	if mode == rule.ModeAuto || mode == "" {
		latency := syncmode.ProbeLatency(func() error { return e.Sink.Probe(ctx) })
		mode = syncmode.Decide(
			syncmode.RecordCount(bundle.Current),
			int64(len(bundle.Current)),
			latency,
			e.IsFileStrategy,
		)
	}

	opts := pipeline.FlattenOptions{
		EnvKey:             bundle.Metadata.Env,
		DefaultKey:         e.DefaultKey,
		UseDefaultFallback: e.UseDefaultFallback,
	}

	currFlat := pipeline.FlattenKV(pipeline.Project(pipeline.Parse(bundle.Current), r.RootKey), opts)
	for k, v := range r.VariablesMap {
		currFlat[k] = v
	}

	prevFlat, err := e.previousState(ctx, bundle, r, mode, opts)
	if err != nil {
		return nil, err
	}

	added, changed, deleted, unchanged := pipeline.Compare(currFlat, prevFlat)

	var rows []pipeline.MutationRow
	emit := func(kind pipeline.RowKind, entries map[string]interface{}) {
		for k, v := range entries {
			rows = append(rows, pipeline.MutationRow{Key: k, Value: v, Kind: kind, Metadata: bundle.Metadata})
		}
	}
	emit(pipeline.RowInsert, added)
	emit(pipeline.RowUpdate, changed)
	emit(pipeline.RowDelete, deleted)

	switch mode {
	case rule.ModeUpsertAll:
		emit(pipeline.RowUpdate, unchanged)
	case rule.ModeSmartRepair:
		repairs, err := e.repairRows(ctx, bundle, unchanged)
		if err != nil {
			return nil, err
		}
		rows = append(rows, repairs...)
	}

	orderRows(rows)
	return rows, nil
}

// previousState resolves the "old" side of the comparison: the live
// store state under LIVE_STATE, the previous commit's content
// otherwise.
func (e *Engine) previousState(ctx context.Context, bundle FileBundle, r *rule.Rule, mode rule.SyncMode, opts pipeline.FlattenOptions) (map[string]interface{}, error) {
	if mode != rule.ModeLiveState {
		return pipeline.FlattenKV(pipeline.Project(pipeline.Parse(bundle.Previous), r.RootKey), opts), nil
	}

	state, err := e.Sink.Fetch(ctx, bundle.Metadata)
	if err != nil {
		return nil, fmt.Errorf("fetching live state for %s: %w", bundle.Metadata.UniqueKey, err)
	}
	if e.IsFileStrategy {
		// The file strategy stores raw blobs; run them back through
		// the content pipeline so both sides are flat maps.
		return flattenStoredBlob(state, opts), nil
	}
	return state, nil
}

// repairRows implements GIT_SMART_REPAIR's unchanged handling: an
// unchanged key is re-emitted only when the store lost it or
// disagrees with Git.
func (e *Engine) repairRows(ctx context.Context, bundle FileBundle, unchanged map[string]interface{}) ([]pipeline.MutationRow, error) {
	state, err := e.Sink.Fetch(ctx, bundle.Metadata)
	if err != nil {
		return nil, fmt.Errorf("fetching store state for %s: %w", bundle.Metadata.UniqueKey, err)
	}

	var rows []pipeline.MutationRow
	for k, v := range unchanged {
		stored, ok := state[k]
		if ok && pipeline.ScalarEqual(stored, v) {
			continue
		}
		rows = append(rows, pipeline.MutationRow{Key: k, Value: v, Kind: pipeline.RowUpdate, Metadata: bundle.Metadata})
	}
	return rows, nil
}

// flattenStoredBlob normalizes a fetched file-strategy blob into the
// same flat shape Compare expects.
func flattenStoredBlob(state map[string]interface{}, opts pipeline.FlattenOptions) map[string]interface{} {
	flat := map[string]interface{}{}
	for k, v := range state {
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			for fk, fv := range pipeline.FlattenKV(pipeline.FromDecoded(v), opts) {
				flat[k+"/"+fk] = fv
			}
		default:
			flat[k] = v
		}
	}
	return flat
}

func kindRank(k pipeline.RowKind) int {
	switch k {
	case pipeline.RowInsert:
		return 0
	case pipeline.RowUpdate:
		return 1
	default:
		return 2
	}
}

func orderRows(rows []pipeline.MutationRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Kind != rows[j].Kind {
			return kindRank(rows[i].Kind) < kindRank(rows[j].Kind)
		}
		return rows[i].Key < rows[j].Key
	})
}
