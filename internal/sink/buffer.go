package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/internal/pipeline"
)

// Buffer is the batch layer in front of a Sink: Write appends
// to an in-memory buffer and flushes once it reaches bufferSize; Flush
// forces a write regardless of fill level. A bufferSize of 0 makes
// every Write an immediate flush. After Flush returns, the buffer is
// empty even if the flush partially failed.
type Buffer struct {
	sink       Sink
	bufferSize int

	mu   sync.Mutex
	rows []pipeline.MutationRow
}

func NewBuffer(s Sink, bufferSize int) *Buffer {
	return &Buffer{sink: s, bufferSize: bufferSize}
}

// Write appends row to the buffer, flushing if the buffer is now at or
// above bufferSize.
func (b *Buffer) Write(ctx context.Context, row pipeline.MutationRow) error {
	b.mu.Lock()
	b.rows = append(b.rows, row)
	full := len(b.rows) >= b.bufferSize
	b.mu.Unlock()

	if full {
		return b.Flush(ctx)
	}
	return nil
}

// Flush drains the buffer and writes every row to the underlying Sink,
// ordered by unique_key then by kind (inserts/updates before deletes,
// then calls the underlying Sink's own Flush. The
// buffer is always emptied, even when some rows fail.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	rows := b.rows
	b.rows = nil
	b.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	ordered := orderRows(rows)
	var failures []error
	for _, row := range ordered {
		if err := b.sink.Write(ctx, row); err != nil {
			failures = append(failures, fmt.Errorf("row %s/%s: %w", row.Metadata.UniqueKey, row.Key, err))
		}
	}
	if err := b.sink.Flush(ctx); err != nil {
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%w: %d of %d rows failed: %v", errs.SinkPartial, len(failures), len(ordered), errors.Join(failures...))
	}
	return nil
}

func orderRows(rows []pipeline.MutationRow) []pipeline.MutationRow {
	out := make([]pipeline.MutationRow, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Metadata.UniqueKey != b.Metadata.UniqueKey {
			return a.Metadata.UniqueKey < b.Metadata.UniqueKey
		}
		return kindRank(a.Kind) < kindRank(b.Kind)
	})
	return out
}

// kindRank puts inserts/updates ahead of deletes on the same key, to
// avoid a delete-then-insert race.
func kindRank(k pipeline.RowKind) int {
	if k == pipeline.RowDelete {
		return 1
	}
	return 0
}
