package sink

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/internal/pipeline"
)

const (
	primaryKeyField = "unique_key"
	metadataField   = "metadata"
)

// documentSink is the DOCUMENT-strategy concrete Sink: one record per
// unique_key, upserted by primary key, with optional dynamic routing to
// a per-environment collection.
type documentSink struct {
	ds     config.Datasource
	client *mongo.Client
	db     *mongo.Database
}

// NewDocumentFactory returns a Factory that builds a Mongo-backed
// document sink. The connection URI is read from the environment
// variable named in ds.ConnectionURIEnv, never embedded in the Bundle
// file; credentials stay held by reference.
func NewDocumentFactory() Factory {
	return func(ds config.Datasource) (Sink, error) {
		uri := os.Getenv(ds.ConnectionURIEnv)
		if uri == "" {
			return nil, fmt.Errorf("%w: datasource %q: env var %q not set", errs.Fatal, ds.Name, ds.ConnectionURIEnv)
		}
		return &documentSink{ds: ds}, nil
	}
}

func (s *documentSink) Connect(ctx context.Context) error {
	uri := os.Getenv(s.ds.ConnectionURIEnv)
	clientOpts := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.SinkTransient, err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return fmt.Errorf("%w: %v", errs.SinkTransient, err)
	}
	s.client = client
	s.db = client.Database(s.ds.Database)
	return nil
}

func (s *documentSink) Disconnect(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *documentSink) Probe(ctx context.Context) error {
	if s.client == nil {
		return fmt.Errorf("%w: not connected", errs.SinkTransient)
	}
	return s.client.Ping(ctx, nil)
}

// collectionFor resolves the routing target: a static container name,
// or the per-env collection when DynamicContainer is set. A dynamic-
// routing row with no resolvable env fails rather than falling back
// to a default container.
func (s *documentSink) collectionFor(meta pipeline.RowMetadata) (*mongo.Collection, error) {
	name := s.ds.Container
	if s.ds.DynamicContainer {
		if meta.Env == "" {
			return nil, fmt.Errorf("%w: unique_key %q has no env for dynamic container routing", errs.SinkPartial, meta.UniqueKey)
		}
		name = meta.Env
	}
	if name == "" {
		return nil, fmt.Errorf("%w: datasource %q has no static or dynamic container name", errs.ConfigInvalid, s.ds.Name)
	}
	return s.db.Collection(name), nil
}

func (s *documentSink) Write(ctx context.Context, row pipeline.MutationRow) error {
	coll, err := s.collectionFor(row.Metadata)
	if err != nil {
		return err
	}
	filter := bson.M{primaryKeyField: row.Metadata.UniqueKey}

	switch row.Kind {
	case pipeline.RowDelete:
		// An empty key is a whole-record prune: the file vanished from
		// Git, so the record goes with it.
		if row.Key == "" {
			if _, err := coll.DeleteOne(ctx, filter); err != nil {
				return fmt.Errorf("%w: delete %s: %v", errs.SinkTransient, row.Metadata.UniqueKey, err)
			}
			return nil
		}
		update := bson.M{"$unset": bson.M{row.Key: ""}}
		opts := options.Update().SetUpsert(true)
		if _, err := coll.UpdateOne(ctx, filter, update, opts); err != nil {
			return fmt.Errorf("%w: unset %s: %v", errs.SinkTransient, row.Key, err)
		}
		return nil
	default: // INSERT, UPDATE, UNCHANGED
		update := bson.M{"$set": bson.M{
			row.Key: row.Value,
			metadataField + ".env":        row.Metadata.Env,
			metadataField + ".file_path":  row.Metadata.FilePath,
			metadataField + ".commit_hash": row.Metadata.CommitHash,
		}}
		opts := options.Update().SetUpsert(true)
		if _, err := coll.UpdateOne(ctx, filter, update, opts); err != nil {
			return fmt.Errorf("%w: set %s: %v", errs.SinkTransient, row.Key, err)
		}
		return nil
	}
}

// Flush is a no-op: documentSink writes are unordered, unbuffered
// unordered upserts; ordering
// across rows is handled by internal/sink.Buffer before Write is ever
// called.
func (s *documentSink) Flush(ctx context.Context) error { return nil }

func (s *documentSink) Fetch(ctx context.Context, meta pipeline.RowMetadata) (map[string]interface{}, error) {
	coll, err := s.collectionFor(meta)
	if err != nil {
		return nil, err
	}
	var doc bson.M
	err = coll.FindOne(ctx, bson.M{primaryKeyField: meta.UniqueKey}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return map[string]interface{}{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.SinkTransient, err)
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		if k == "_id" || k == primaryKeyField || k == metadataField {
			continue
		}
		out[k] = v
	}
	return out, nil
}
