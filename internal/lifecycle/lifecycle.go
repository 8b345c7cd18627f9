// Package lifecycle implements the Commit Lifecycle Analyzer: folding
// an ordered commit list into a per-file earliest/latest status so a
// single logical change is emitted per file, even when a push or PR
// touches the same file across several commits.
package lifecycle

import (
	"sort"

	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/pkg/events"
)

// Entry is one file's lifecycle within a single push/PR event.
type Entry struct {
	EarliestStatus events.FileStatus
	LatestStatus   events.FileStatus
	MatchContext   *rule.MatchContext
}

// Map is the transient per-event lifecycle table; it lives only for the
// duration of one Sync Worker invocation.
type Map map[string]*Entry

// Analyze sorts commits newest-first and folds their file changes into
// a lifecycle Map, consulting r.Match to decide whether a path is
// in-scope. A path that fails the match is recorded internally as
// "ignored" and never reconsidered even if it reappears in an older
// commit.
func Analyze(commits []events.NormalizedCommit, r *rule.Rule, branch, repoName string) Map {
	ordered := sortNewestFirst(commits)
	lifecycleMap := Map{}
	ignored := map[string]bool{}

	for _, c := range ordered {
		for _, fc := range c.Files {
			if ignored[fc.Path] {
				continue
			}
			if e, ok := lifecycleMap[fc.Path]; ok {
				e.EarliestStatus = fc.Status
				continue
			}
			mc, ok := r.Match(fc.Path, branch, repoName)
			if !ok {
				ignored[fc.Path] = true
				continue
			}
			lifecycleMap[fc.Path] = &Entry{
				EarliestStatus: fc.Status,
				LatestStatus:   fc.Status,
				MatchContext:   mc,
			}
		}
	}
	return lifecycleMap
}

// IsEphemeral reports whether a file was added then removed within the
// same event and should therefore never produce a write.
func (e *Entry) IsEphemeral() bool {
	return e.LatestStatus == events.StatusRemoved && e.EarliestStatus == events.StatusAdded
}

func sortNewestFirst(commits []events.NormalizedCommit) []events.NormalizedCommit {
	ordered := make([]events.NormalizedCommit, len(commits))
	copy(ordered, commits)

	hasTimestamps := false
	for _, c := range ordered {
		if !c.Timestamp.IsZero() {
			hasTimestamps = true
			break
		}
	}
	if hasTimestamps {
		sort.SliceStable(ordered, func(i, j int) bool {
			return ordered[i].Timestamp.After(ordered[j].Timestamp)
		})
		return ordered
	}
	// No timestamps: providers list commits in chronological (oldest
	// first) order, so reverse to get newest-first.
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered
}
