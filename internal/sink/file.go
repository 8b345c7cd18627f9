package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/internal/pipeline"
)

const defaultBlobRoot = "/var/lib/syncd/blobs"

// fileSink is the FILE-strategy concrete Sink: one JSON blob per
// unique_key in a directory tree named by unique_key, merged in place
// with tidwall/sjson rather than a full decode/re-encode round-trip.
type fileSink struct {
	ds   config.Datasource
	root string
	mu   sync.Mutex
}

func NewFileFactory() Factory {
	return func(ds config.Datasource) (Sink, error) {
		root := ds.Options["root"]
		if root == "" {
			root = defaultBlobRoot
		}
		return &fileSink{ds: ds, root: root}, nil
	}
}

func (s *fileSink) Connect(ctx context.Context) error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *fileSink) Disconnect(ctx context.Context) error { return nil }

func (s *fileSink) Probe(ctx context.Context) error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *fileSink) blobPath(meta pipeline.RowMetadata) (string, error) {
	dir := s.root
	switch {
	case s.ds.DynamicContainer:
		if meta.Env == "" {
			return "", fmt.Errorf("%w: unique_key %q has no env for dynamic container routing", errs.SinkPartial, meta.UniqueKey)
		}
		dir = filepath.Join(s.root, sanitizeName(meta.Env))
	case s.ds.Container != "":
		dir = filepath.Join(s.root, sanitizeName(s.ds.Container))
	}
	return filepath.Join(dir, sanitizeName(meta.UniqueKey)+".json"), nil
}

func sanitizeName(name string) string {
	return strings.NewReplacer("/", "_", "..", "_").Replace(name)
}

func (s *fileSink) readBlob(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []byte("{}"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.SinkTransient, err)
	}
	return data, nil
}

// toSjsonPath converts a Flatten-produced slash path into sjson's
// dot-separated path syntax.
func toSjsonPath(flatKey string) string {
	return strings.ReplaceAll(flatKey, "/", ".")
}

func (s *fileSink) Write(ctx context.Context, row pipeline.MutationRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.blobPath(row.Metadata)
	if err != nil {
		return err
	}
	if row.Kind == pipeline.RowDelete && row.Key == "" {
		// Whole-record prune: the blob goes away with the file.
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("%w: pruning blob: %v", errs.SinkTransient, rerr)
		}
		return nil
	}
	blob, err := s.readBlob(path)
	if err != nil {
		return err
	}

	sjsonPath := toSjsonPath(row.Key)
	var updated []byte
	if row.Kind == pipeline.RowDelete {
		updated, err = sjson.DeleteBytes(blob, sjsonPath)
	} else {
		updated, err = sjson.SetBytes(blob, sjsonPath, row.Value)
	}
	if err != nil {
		return fmt.Errorf("%w: merging %s into blob: %v", errs.SinkTransient, row.Key, err)
	}

	if isEmptyJSONObject(updated) {
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("%w: removing emptied blob: %v", errs.SinkTransient, rerr)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", errs.SinkTransient, err)
	}
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		return fmt.Errorf("%w: %v", errs.SinkTransient, err)
	}
	return nil
}

func isEmptyJSONObject(data []byte) bool {
	r := gjson.ParseBytes(data)
	return r.IsObject() && len(r.Map()) == 0
}

// Flush is a no-op: every fileSink write is already durable on
// return; ordering across rows is the
// Buffer's responsibility.
func (s *fileSink) Flush(ctx context.Context) error { return nil }

func (s *fileSink) Fetch(ctx context.Context, meta pipeline.RowMetadata) (map[string]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.blobPath(meta)
	if err != nil {
		return nil, err
	}
	blob, err := s.readBlob(path)
	if err != nil {
		return nil, err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return map[string]interface{}{}, nil
	}
	return decoded, nil
}
