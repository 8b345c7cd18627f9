// Package source implements the Source Adapter: fetching file contents
// at a commit, normalizing provider webhook payloads, resolving
// repository name patterns, and managing webhook registrations.
// Two concrete adapters are provided: a GitHub REST
// adapter and a generic go-git adapter for plain git remotes.
package source

import (
	"context"
	"fmt"
	"sync"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/pkg/events"
)

// Source is the Git provider contract: five operations plus the
// provider-specific webhook header names the ingress needs to verify
// and classify incoming events.
type Source interface {
	// Fetch returns the file's content at the given commit, or
	// (nil, nil) when the file does not exist there or is binary.
	// Safe for concurrent use.
	Fetch(ctx context.Context, repo, commit, path string) ([]byte, error)

	// NormalizePush converts a raw provider push payload into a
	// PushEvent. Pure: no provider API calls.
	NormalizePush(payload []byte) (*events.PushEvent, error)

	// NormalizePR converts a raw provider pull-request payload into a
	// PREvent. Impure: calls the provider API to compute the real
	// merge base of (target_branch_sha, head_sha) and to enumerate the
	// PR's file set. Renames decompose into add+remove.
	NormalizePR(ctx context.Context, payload []byte) (*events.PREvent, error)

	// ResolveRepositories expands include patterns (glob semantics for
	// patterns containing '*' or '?', existence-verified literals
	// otherwise) and applies exclusions last.
	ResolveRepositories(ctx context.Context, include, exclude []string) ([]string, error)

	// EnsureWebhook idempotently registers url as a webhook on repo:
	// an existing hook with this URL is updated, never duplicated.
	EnsureWebhook(ctx context.Context, repo, url string, eventTypes []string) error

	// EventTypeHeader is the provider's event-type header name.
	EventTypeHeader() string

	// SignatureHeader is the provider's payload-signature header name.
	SignatureHeader() string

	// EventKind classifies a provider event-type header value as a
	// push or PR event; ok is false for event types this engine
	// ignores.
	EventKind(eventType string) (kind events.Kind, ok bool)
}

// Factory builds a Source from a declared Platform.
type Factory func(p config.Platform) (Source, error)

// Registry is the name-to-implementation lookup for Source plug-ins,
// populated once at startup and read lock-free afterward.
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

func (r *Registry) Create(p config.Platform) (Source, error) {
	r.mu.RLock()
	f, ok := r.factories[p.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no source registered for kind %q", errs.Fatal, p.Kind)
	}
	return f(p)
}

// FetchRequest is one file-at-commit fetch in a FetchAll batch. An
// empty Commit skips the fetch and yields nil content (the "previous"
// side of a freshly added file).
type FetchRequest struct {
	Repo   string
	Commit string
	Path   string
}

// FetchResult pairs a request with its outcome.
type FetchResult struct {
	FetchRequest
	Content []byte
	Err     error
}

// FetchAll fans the batch out over a bounded worker group and joins
// before returning; results are positionally aligned with requests.
// This is the only non-sequential stage of the pipeline.
func FetchAll(ctx context.Context, s Source, requests []FetchRequest, concurrency int) []FetchResult {
	if concurrency <= 0 {
		concurrency = 20
	}
	results := make([]FetchResult, len(requests))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, req := range requests {
		wg.Add(1)
		go func(i int, req FetchRequest) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[i].FetchRequest = req
			if req.Commit == "" {
				return
			}
			results[i].Content, results[i].Err = s.Fetch(ctx, req.Repo, req.Commit, req.Path)
		}(i, req)
	}
	wg.Wait()
	return results
}
