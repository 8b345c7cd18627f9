package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/pkg/events"
)

const (
	defaultGitHubAPI = "https://api.github.com"

	githubEventHeader     = "X-Github-Event"
	githubSignatureHeader = "X-Hub-Signature-256"
)

// githubSource talks to the GitHub REST API with plain net/http;
// the endpoints involved are stable enough that a client SDK would
// only add a dependency.
type githubSource struct {
	platform config.Platform
	apiBase  string
	client   *http.Client
	creds    credentials
}

// NewGitHubFactory returns the Factory for platform kind "github".
func NewGitHubFactory() Factory {
	return func(p config.Platform) (Source, error) {
		creds, err := resolveCredentials(p)
		if err != nil {
			return nil, err
		}
		apiBase := p.BaseURL
		if apiBase == "" {
			apiBase = defaultGitHubAPI
		}
		return &githubSource{
			platform: p,
			apiBase:  strings.TrimRight(apiBase, "/"),
			client:   &http.Client{Timeout: 30 * time.Second},
			creds:    creds,
		}, nil
	}
}

func (g *githubSource) EventTypeHeader() string { return githubEventHeader }
func (g *githubSource) SignatureHeader() string { return githubSignatureHeader }

func (g *githubSource) EventKind(eventType string) (events.Kind, bool) {
	switch eventType {
	case "push":
		return events.KindPush, true
	case "pull_request":
		return events.KindPR, true
	default:
		return "", false
	}
}

// fullRepo qualifies a bare repository name with the platform's owner.
func (g *githubSource) fullRepo(repo string) string {
	if strings.Contains(repo, "/") || g.platform.Owner == "" {
		return repo
	}
	return g.platform.Owner + "/" + repo
}

// do performs one authenticated API request with retry on transient
// failures. A 401, or a 403 with the rate limit exhausted, fails as
// AuthFailed; other non-2xx statuses below 500 are returned to the
// caller for per-endpoint handling. The body is passed as bytes so each retry
// attempt sends it afresh.
func (g *githubSource) do(ctx context.Context, method, apiURL string, accept string, body []byte) (*http.Response, error) {
	var resp *http.Response
	err := withBackoff(ctx, func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
		if err != nil {
			return fmt.Errorf("%w: %v", errs.Fatal, err)
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		} else {
			req.Header.Set("Accept", "application/vnd.github+json")
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		token, err := g.creds.token(ctx)
		if err != nil {
			return err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		r, err := g.client.Do(req)
		if err != nil {
			return fmt.Errorf("%w: %s %s: %v", errs.SourceTransient, method, apiURL, err)
		}
		if r.StatusCode >= 500 {
			_ = r.Body.Close()
			return fmt.Errorf("%w: %s %s: status %d", errs.SourceTransient, method, apiURL, r.StatusCode)
		}
		if r.StatusCode == http.StatusUnauthorized || (r.StatusCode == http.StatusForbidden && r.Header.Get("X-Ratelimit-Remaining") == "0") {
			_ = r.Body.Close()
			return fmt.Errorf("%w: %s %s: status %d", errs.AuthFailed, method, apiURL, r.StatusCode)
		}
		resp = r
		return nil
	})
	return resp, err
}

func (g *githubSource) getJSON(ctx context.Context, apiURL string, out interface{}) (int, error) {
	resp, err := g.do(ctx, http.MethodGet, apiURL, "", nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decoding %s: %v", errs.SourceTransient, apiURL, err)
	}
	return resp.StatusCode, nil
}

// Fetch implements the two-step large-file fallback: the contents API
// first (fast, 1 MB limit), then tree + blob on size-exceeded. A 404
// or a binary blob yields (nil, nil).
func (g *githubSource) Fetch(ctx context.Context, repo, commit, path string) ([]byte, error) {
	repo = g.fullRepo(repo)
	contentURL := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		g.apiBase, repo, escapePath(path), url.QueryEscape(commit))

	resp, err := g.do(ctx, http.MethodGet, contentURL, "application/vnd.github.raw+json", nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", errs.SourceTransient, path, err)
		}
		if isBinary(data) {
			return nil, nil
		}
		return data, nil
	case http.StatusNotFound:
		return nil, nil
	case http.StatusForbidden:
		// Contents API refuses files over its size limit; fall through
		// to the Git Data API (tree walk, then blob).
		_, _ = io.Copy(io.Discard, resp.Body)
		return g.fetchViaBlob(ctx, repo, commit, path)
	default:
		return nil, fmt.Errorf("%w: contents %s@%s: status %d", errs.SourceTransient, path, commit, resp.StatusCode)
	}
}

func (g *githubSource) fetchViaBlob(ctx context.Context, repo, commit, path string) ([]byte, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("github")
	log.Info("file exceeds contents API limit, using blob API", "repo", repo, "path", path)

	var tree struct {
		Tree []struct {
			Path string `json:"path"`
			SHA  string `json:"sha"`
		} `json:"tree"`
	}
	treeURL := fmt.Sprintf("%s/repos/%s/git/trees/%s?recursive=1", g.apiBase, repo, url.QueryEscape(commit))
	status, err := g.getJSON(ctx, treeURL, &tree)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: tree %s@%s: status %d", errs.SourceTransient, repo, commit, status)
	}

	blobSHA := ""
	for _, e := range tree.Tree {
		if e.Path == path {
			blobSHA = e.SHA
			break
		}
	}
	if blobSHA == "" {
		return nil, nil
	}

	var blob struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	blobURL := fmt.Sprintf("%s/repos/%s/git/blobs/%s", g.apiBase, repo, blobSHA)
	status, err = g.getJSON(ctx, blobURL, &blob)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("%w: blob %s: status %d", errs.SourceTransient, blobSHA, status)
	}

	data := []byte(blob.Content)
	if blob.Encoding == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(blob.Content, "\n", ""))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding blob %s: %v", errs.SourceTransient, blobSHA, err)
		}
		data = decoded
	}
	if isBinary(data) {
		return nil, nil
	}
	return data, nil
}

// NormalizePush is pure: it never calls the provider API.
func (g *githubSource) NormalizePush(payload []byte) (*events.PushEvent, error) {
	var p struct {
		Ref        string `json:"ref"`
		Before     string `json:"before"`
		After      string `json:"after"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		Commits []struct {
			ID        string   `json:"id"`
			Added     []string `json:"added"`
			Modified  []string `json:"modified"`
			Removed   []string `json:"removed"`
			Timestamp string   `json:"timestamp"`
		} `json:"commits"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: push payload: %v", errs.ParseFailed, err)
	}

	ev := &events.PushEvent{
		Repository: p.Repository.FullName,
		Branch:     p.Ref,
		BeforeSHA:  p.Before,
		AfterSHA:   p.After,
	}
	for _, c := range p.Commits {
		nc := events.NormalizedCommit{Hash: c.ID}
		if c.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, c.Timestamp); err == nil {
				nc.Timestamp = ts
			}
		}
		for _, f := range c.Added {
			nc.Files = append(nc.Files, events.FileChange{Path: f, Status: events.StatusAdded})
		}
		for _, f := range c.Modified {
			nc.Files = append(nc.Files, events.FileChange{Path: f, Status: events.StatusModified})
		}
		for _, f := range c.Removed {
			nc.Files = append(nc.Files, events.FileChange{Path: f, Status: events.StatusRemoved})
		}
		ev.Commits = append(ev.Commits, nc)
	}
	return ev, nil
}

// parsePRFields extracts the provider-independent fields of a PR
// payload. BaseSHA is provisionally the naive base tip; NormalizePR
// replaces it with the real merge base.
func (g *githubSource) parsePRFields(payload []byte) (*events.PREvent, error) {
	var p struct {
		Action      string `json:"action"`
		Number      int    `json:"number"`
		PullRequest struct {
			Number int `json:"number"`
			Base   struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"base"`
			Head struct {
				Ref string `json:"ref"`
				SHA string `json:"sha"`
			} `json:"head"`
			UpdatedAt string `json:"updated_at"`
			CreatedAt string `json:"created_at"`
		} `json:"pull_request"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("%w: pr payload: %v", errs.ParseFailed, err)
	}

	number := p.Number
	if number == 0 {
		number = p.PullRequest.Number
	}

	commit := events.NormalizedCommit{Hash: p.PullRequest.Head.SHA}
	for _, tsRaw := range []string{p.PullRequest.UpdatedAt, p.PullRequest.CreatedAt} {
		if tsRaw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, tsRaw); err == nil {
			commit.Timestamp = ts
			break
		}
	}

	return &events.PREvent{
		ID:              fmt.Sprintf("%d", number),
		Action:          p.Action,
		Repository:      p.Repository.FullName,
		BaseBranch:      p.PullRequest.Base.Ref,
		HeadBranch:      p.PullRequest.Head.Ref,
		BaseSHA:         p.PullRequest.Base.SHA,
		TargetBranchSHA: p.PullRequest.Base.SHA,
		HeadSHA:         p.PullRequest.Head.SHA,
		Commits:         []events.NormalizedCommit{commit},
	}, nil
}

// NormalizePR parses the PR payload and calls the compare endpoint,
// whose response carries both the real merge base and the changed file
// set, so only one API round-trip is required. A rename
// decomposes into add(new)+remove(old).
func (g *githubSource) NormalizePR(ctx context.Context, payload []byte) (*events.PREvent, error) {
	pr, err := g.parsePRFields(payload)
	if err != nil {
		return nil, err
	}

	mergeBase, files, err := g.compare(ctx, pr.Repository, pr.TargetBranchSHA, pr.HeadSHA)
	if err != nil {
		return nil, err
	}
	if mergeBase != "" {
		pr.BaseSHA = mergeBase
	}
	if len(pr.Commits) == 1 {
		pr.Commits[0].Files = files
	}
	return pr, nil
}

func (g *githubSource) compare(ctx context.Context, repo, base, head string) (mergeBase string, files []events.FileChange, err error) {
	var cmp struct {
		MergeBaseCommit struct {
			SHA string `json:"sha"`
		} `json:"merge_base_commit"`
		Files []struct {
			Filename         string `json:"filename"`
			Status           string `json:"status"`
			PreviousFilename string `json:"previous_filename"`
		} `json:"files"`
	}
	cmpURL := fmt.Sprintf("%s/repos/%s/compare/%s...%s", g.apiBase, g.fullRepo(repo), url.QueryEscape(base), url.QueryEscape(head))
	status, err := g.getJSON(ctx, cmpURL, &cmp)
	if err != nil {
		return "", nil, err
	}
	if status != http.StatusOK {
		return "", nil, fmt.Errorf("%w: compare %s...%s: status %d", errs.SourceTransient, base, head, status)
	}

	for _, f := range cmp.Files {
		switch f.Status {
		case "added":
			files = append(files, events.FileChange{Path: f.Filename, Status: events.StatusAdded})
		case "removed":
			files = append(files, events.FileChange{Path: f.Filename, Status: events.StatusRemoved})
		case "renamed":
			files = append(files, events.FileChange{Path: f.Filename, Status: events.StatusAdded, OldPath: f.PreviousFilename})
			if f.PreviousFilename != "" {
				files = append(files, events.FileChange{Path: f.PreviousFilename, Status: events.StatusRemoved})
			}
		default: // modified, changed
			files = append(files, events.FileChange{Path: f.Filename, Status: events.StatusModified})
		}
	}
	return cmp.MergeBaseCommit.SHA, files, nil
}

// ResolveRepositories expands include patterns against the platform's
// scope (org when Owner names an organization, user otherwise).
// Literals take the fast path (existence check); any wildcard forces a
// full listing.
func (g *githubSource) ResolveRepositories(ctx context.Context, include, exclude []string) ([]string, error) {
	hasWildcard := false
	for _, p := range include {
		if strings.ContainsAny(p, "*?") {
			hasWildcard = true
			break
		}
	}

	resolved := map[string]bool{}
	if hasWildcard {
		all, err := g.listRepositories(ctx)
		if err != nil {
			return nil, err
		}
		for _, pattern := range include {
			for _, name := range all {
				if globMatch(bareName(pattern), name) {
					resolved[name] = true
				}
			}
		}
	} else {
		log := logr.FromContextOrDiscard(ctx).WithName("github")
		for _, pattern := range include {
			name := bareName(pattern)
			exists, err := g.repoExists(ctx, name)
			if err != nil {
				return nil, err
			}
			if !exists {
				log.Info("repository not found, skipping", "repo", name)
				continue
			}
			resolved[name] = true
		}
	}

	return applyExclusions(resolved, exclude), nil
}

func (g *githubSource) repoExists(ctx context.Context, name string) (bool, error) {
	var out struct {
		Name string `json:"name"`
	}
	status, err := g.getJSON(ctx, fmt.Sprintf("%s/repos/%s", g.apiBase, g.fullRepo(name)), &out)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func (g *githubSource) listRepositories(ctx context.Context) ([]string, error) {
	scope := fmt.Sprintf("%s/user/repos", g.apiBase)
	if g.platform.Owner != "" {
		scope = fmt.Sprintf("%s/orgs/%s/repos", g.apiBase, g.platform.Owner)
	}

	var names []string
	for page := 1; ; page++ {
		var repos []struct {
			Name string `json:"name"`
		}
		status, err := g.getJSON(ctx, fmt.Sprintf("%s?per_page=100&page=%d", scope, page), &repos)
		if err != nil {
			return nil, err
		}
		if status == http.StatusNotFound && g.platform.Owner != "" && page == 1 {
			// Owner is a user, not an org; retry against the user scope.
			scope = fmt.Sprintf("%s/users/%s/repos", g.apiBase, g.platform.Owner)
			page = 0
			continue
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: listing repos: status %d", errs.SourceTransient, status)
		}
		if len(repos) == 0 {
			break
		}
		for _, r := range repos {
			names = append(names, r.Name)
		}
		if len(repos) < 100 {
			break
		}
	}
	return names, nil
}

// EnsureWebhook looks for an existing hook with the same URL and
// updates it in place; a hook is only ever created when none matches,
// so repeated calls never produce duplicates.
func (g *githubSource) EnsureWebhook(ctx context.Context, repo, hookURL string, eventTypes []string) error {
	repo = g.fullRepo(repo)
	hooksURL := fmt.Sprintf("%s/repos/%s/hooks", g.apiBase, repo)

	var hooks []struct {
		ID     int64 `json:"id"`
		Config struct {
			URL string `json:"url"`
		} `json:"config"`
	}
	status, err := g.getJSON(ctx, hooksURL, &hooks)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: listing hooks on %s: status %d", errs.SourceTransient, repo, status)
	}

	secret := ""
	if g.platform.WebhookSecretEnv != "" {
		secret = os.Getenv(g.platform.WebhookSecretEnv)
	}
	body := map[string]interface{}{
		"name":   "web",
		"active": true,
		"events": eventTypes,
		"config": map[string]string{
			"url":          hookURL,
			"content_type": "json",
			"insecure_ssl": "0",
			"secret":       secret,
		},
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.Fatal, err)
	}

	method, target := http.MethodPost, hooksURL
	for _, h := range hooks {
		if h.Config.URL == hookURL {
			method, target = http.MethodPatch, fmt.Sprintf("%s/%d", hooksURL, h.ID)
			break
		}
	}

	resp, err := g.do(ctx, method, target, "", encoded)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: %s hook on %s: status %d", errs.SourceTransient, method, repo, resp.StatusCode)
	}
	return nil
}

// escapePath URL-escapes each path segment while preserving the
// separators, as the contents API expects.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// isBinary applies the same NUL-byte heuristic git itself uses; binary
// files are out of scope for configuration sync and yield nil content.
func isBinary(data []byte) bool {
	limit := len(data)
	if limit > 8000 {
		limit = 8000
	}
	for _, b := range data[:limit] {
		if b == 0 {
			return true
		}
	}
	return false
}
