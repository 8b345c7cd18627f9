package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	gogitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	transportclient "github.com/go-git/go-git/v5/plumbing/transport/client"

	"github.com/syncd-io/syncd/internal/config"
	"github.com/syncd-io/syncd/internal/errs"
	"github.com/syncd-io/syncd/pkg/events"
)

const defaultMirrorRoot = "/var/lib/syncd/mirrors"

// gitSource is the generic adapter for plain git remotes with no
// provider API: it keeps a bare mirror per repository and answers
// fetch/merge-base queries from local objects.
type gitSource struct {
	platform config.Platform
	root     string
	auth     transport.AuthMethod

	mu      sync.Mutex
	mirrors map[string]*gogit.Repository
}

// NewGitFactory returns the Factory for platform kind "git".
func NewGitFactory() Factory {
	return func(p config.Platform) (Source, error) {
		auth, err := resolveTransportAuth(p)
		if err != nil {
			return nil, err
		}
		root := p.Options["mirrorRoot"]
		if root == "" {
			root = defaultMirrorRoot
		}
		return &gitSource{
			platform: p,
			root:     root,
			auth:     auth,
			mirrors:  make(map[string]*gogit.Repository),
		}, nil
	}
}

func (g *gitSource) EventTypeHeader() string { return "X-Git-Event" }
func (g *gitSource) SignatureHeader() string { return "X-Hub-Signature-256" }

func (g *gitSource) EventKind(eventType string) (events.Kind, bool) {
	switch eventType {
	case "push":
		return events.KindPush, true
	case "pull_request":
		return events.KindPR, true
	default:
		return "", false
	}
}

func (g *gitSource) repoURL(repo string) string {
	base := strings.TrimRight(g.platform.BaseURL, "/")
	if !strings.Contains(repo, "/") && g.platform.Owner != "" {
		repo = g.platform.Owner + "/" + repo
	}
	return base + "/" + repo + ".git"
}

// mirror opens the bare mirror for repo, cloning it on first use. The
// mirror holds every remote ref so commit lookups are local.
func (g *gitSource) mirror(ctx context.Context, repo string) (*gogit.Repository, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if r, ok := g.mirrors[repo]; ok {
		return r, nil
	}

	path := filepath.Join(g.root, strings.ReplaceAll(repo, "/", "_")+".git")
	r, err := gogit.PlainOpen(path)
	if err == gogit.ErrRepositoryNotExists {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.Fatal, err)
		}
		r, err = gogit.PlainCloneContext(ctx, path, true, &gogit.CloneOptions{
			URL:    g.repoURL(repo),
			Auth:   g.auth,
			Mirror: true,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: git clone %s: %v", errs.SourceTransient, repo, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("%w: opening mirror at %s: %v", errs.Fatal, path, err)
	}

	g.mirrors[repo] = r
	return r, nil
}

// resolveHash turns a ref string (full SHA, branch, or tag) into a
// commit hash, trying SHA, tag, then branch.
func resolveHash(r *gogit.Repository, ref string) (plumbing.Hash, error) {
	if plumbing.IsHash(ref) {
		return plumbing.NewHash(ref), nil
	}
	for _, candidate := range []string{"refs/tags/" + ref, "refs/heads/" + ref, ref} {
		if resolved, err := r.ResolveRevision(plumbing.Revision(candidate)); err == nil {
			return *resolved, nil
		}
	}
	return plumbing.ZeroHash, fmt.Errorf("cannot resolve ref %q", ref)
}

// commitObject resolves a commit ref in the mirror, fetching once
// when the object is not yet known locally.
func (g *gitSource) commitObject(ctx context.Context, repo, commit string) (*object.Commit, error) {
	r, err := g.mirror(ctx, repo)
	if err != nil {
		return nil, err
	}
	if hash, herr := resolveHash(r, commit); herr == nil {
		if c, cerr := r.CommitObject(hash); cerr == nil {
			return c, nil
		}
	}

	ferr := r.FetchContext(ctx, &gogit.FetchOptions{
		Auth:     g.auth,
		Force:    true,
		Tags:     gogit.AllTags,
		RefSpecs: []gogitconfig.RefSpec{"+refs/*:refs/*"},
	})
	if ferr != nil && ferr != gogit.NoErrAlreadyUpToDate {
		return nil, fmt.Errorf("%w: git fetch %s: %v", errs.SourceTransient, repo, ferr)
	}
	hash, err := resolveHash(r, commit)
	if err != nil {
		return nil, fmt.Errorf("%w: ref %s not found in %s", errs.SourceMissing, commit, repo)
	}
	c, err := r.CommitObject(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: commit %s not found in %s", errs.SourceMissing, commit, repo)
	}
	return c, nil
}

func (g *gitSource) Fetch(ctx context.Context, repo, commit, path string) ([]byte, error) {
	var data []byte
	err := withBackoff(ctx, func() error {
		c, err := g.commitObject(ctx, repo, commit)
		if err != nil {
			return err
		}
		f, err := c.File(path)
		if err == object.ErrFileNotFound {
			data = nil
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading %s@%s: %v", errs.SourceTransient, path, commit, err)
		}
		if bin, err := f.IsBinary(); err == nil && bin {
			data = nil
			return nil
		}
		content, err := f.Contents()
		if err != nil {
			return fmt.Errorf("%w: reading %s@%s: %v", errs.SourceTransient, path, commit, err)
		}
		data = []byte(content)
		return nil
	})
	return data, err
}

// NormalizePush accepts the common forge push payload shape; plain
// git remotes are typically fronted by a forge that emits GitHub-
// compatible webhooks (Gitea, Gogs).
func (g *gitSource) NormalizePush(payload []byte) (*events.PushEvent, error) {
	gh := githubSource{}
	return gh.NormalizePush(payload)
}

// NormalizePR resolves the real merge base and the changed file set
// locally: MergeBase on the mirror's commit objects, then a tree diff
// between the merge base and the head. A rename
// decomposes into add(new)+remove(old).
func (g *gitSource) NormalizePR(ctx context.Context, payload []byte) (*events.PREvent, error) {
	gh := githubSource{}
	pr, err := gh.parsePRFields(payload)
	if err != nil {
		return nil, err
	}

	head, err := g.commitObject(ctx, pr.Repository, pr.HeadSHA)
	if err != nil {
		return nil, err
	}
	base, err := g.commitObject(ctx, pr.Repository, pr.TargetBranchSHA)
	if err != nil {
		return nil, err
	}

	bases, err := head.MergeBase(base)
	if err != nil || len(bases) == 0 {
		// No common ancestor resolvable; keep the naive base tip.
		pr.BaseSHA = pr.TargetBranchSHA
	} else {
		pr.BaseSHA = bases[0].Hash.String()
	}

	mbCommit, err := g.commitObject(ctx, pr.Repository, pr.BaseSHA)
	if err != nil {
		return nil, err
	}
	files, err := diffFiles(mbCommit, head)
	if err != nil {
		return nil, err
	}
	pr.Commits = []events.NormalizedCommit{{Hash: pr.HeadSHA, Files: files}}
	return pr, nil
}

func diffFiles(from, to *object.Commit) ([]events.FileChange, error) {
	fromTree, err := from.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.SourceTransient, err)
	}
	toTree, err := to.Tree()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.SourceTransient, err)
	}
	changes, err := object.DiffTree(fromTree, toTree)
	if err != nil {
		return nil, fmt.Errorf("%w: diffing trees: %v", errs.SourceTransient, err)
	}

	var files []events.FileChange
	for _, ch := range changes {
		fromName, toName := ch.From.Name, ch.To.Name
		switch {
		case fromName == "":
			files = append(files, events.FileChange{Path: toName, Status: events.StatusAdded})
		case toName == "":
			files = append(files, events.FileChange{Path: fromName, Status: events.StatusRemoved})
		case fromName != toName:
			files = append(files,
				events.FileChange{Path: toName, Status: events.StatusAdded, OldPath: fromName},
				events.FileChange{Path: fromName, Status: events.StatusRemoved})
		default:
			files = append(files, events.FileChange{Path: toName, Status: events.StatusModified})
		}
	}
	return files, nil
}

// ResolveRepositories verifies literal names with a single ls-remote
// round-trip per repository. Wildcard patterns need a listing scope,
// which a plain git remote cannot provide.
func (g *gitSource) ResolveRepositories(ctx context.Context, include, exclude []string) ([]string, error) {
	resolved := map[string]bool{}
	for _, pattern := range include {
		if strings.ContainsAny(pattern, "*?") {
			return nil, fmt.Errorf("%w: platform %q cannot expand pattern %q: plain git remotes have no repository listing", errs.ConfigInvalid, g.platform.Name, pattern)
		}
		name := bareName(pattern)
		if err := g.lsRemote(ctx, name); err != nil {
			return nil, err
		}
		resolved[name] = true
	}
	return applyExclusions(resolved, exclude), nil
}

// lsRemote opens an upload-pack session and reads the advertised refs,
// verifying both reachability and authorization without cloning.
func (g *gitSource) lsRemote(ctx context.Context, repo string) error {
	repoURL := g.repoURL(repo)
	ep, err := transport.NewEndpoint(repoURL)
	if err != nil {
		return fmt.Errorf("%w: parsing endpoint %s: %v", errs.ConfigInvalid, repoURL, err)
	}
	cli, err := transportclient.NewClient(ep)
	if err != nil {
		return fmt.Errorf("%w: creating transport for %s: %v", errs.Fatal, repoURL, err)
	}
	sess, err := cli.NewUploadPackSession(ep, g.auth)
	if err != nil {
		return fmt.Errorf("%w: opening session for %s: %v", errs.SourceTransient, repoURL, err)
	}
	defer func() { _ = sess.Close() }()

	if _, err := sess.AdvertisedReferencesContext(ctx); err != nil {
		return fmt.Errorf("%w: ls-remote %s: %v", errs.SourceTransient, repoURL, err)
	}
	return nil
}

// EnsureWebhook is unsupported: a plain git remote has no hook API.
// Rules on this platform rely on the scheduled reconciler instead.
func (g *gitSource) EnsureWebhook(ctx context.Context, repo, url string, eventTypes []string) error {
	return fmt.Errorf("%w: platform %q: plain git remotes have no webhook API", errs.ConfigInvalid, g.platform.Name)
}
