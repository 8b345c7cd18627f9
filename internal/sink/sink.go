// Package sink implements the Sink Adapter: a buffered batch writer
// with two storage strategies (document-per-record and file-blob-per-
// record) and dynamic per-environment container routing.
package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/internal/pipeline"
)

// Sink is the destination adapter contract; this package supplies
// one concrete implementation per strategy.
type Sink interface {
	// Write applies one row. For DOCUMENT strategy this sets or unsets
	// a single field on the unique_key's record; for FILE strategy it
	// merges or deletes a path inside the unique_key's blob.
	Write(ctx context.Context, row pipeline.MutationRow) error

	// Flush forces any buffering internal to the adapter to settle
	// (e.g. a driver-level bulk write) and reports per-record failures
	// as errs.SinkPartial without aborting the whole batch.
	Flush(ctx context.Context) error

	// Fetch returns the current flat field map for a unique_key
	// (metadata's primary-key/bookkeeping fields excluded), used by
	// LIVE_STATE mode and the reconciler.
	Fetch(ctx context.Context, metadata pipeline.RowMetadata) (map[string]interface{}, error)

	// Probe performs a minimal round-trip used to measure latency for
	// the Sync-mode Chooser.
	Probe(ctx context.Context) error

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Factory builds a Sink from a declared Datasource.
type Factory func(ds config.Datasource) (Sink, error)

// Registry is the name-to-implementation lookup for Sink plug-ins:
// populated once at startup, read lock-free afterward. No reflection
// or runtime class loading.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

func (r *Registry) Create(ds config.Datasource) (Sink, error) {
	r.mu.RLock()
	f, ok := r.factories[ds.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no sink registered for kind %q", errs.Fatal, ds.Kind)
	}
	return f(ds)
}
