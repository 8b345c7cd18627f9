package syncengine

import (
	"sort"

	"github.com/syncd-io/syncd/internal/lifecycle"
	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/pkg/events"
)

// FilePlan is one file's resolved work item: which commits to fetch
// content from, or a prune with no fetch at all.
type FilePlan struct {
	Path           string
	CurrentCommit  string
	PreviousCommit string
	Prune          bool
	Match          *rule.MatchContext
}

// BuildPlan folds a lifecycle map into fetchable work items.
// currentSHA/beforeSHA are the event's head and base commits (after/
// before for a push, head/merge-base for a PR). Files REMOVED at the
// latest commit are enqueued for prune only, never fetched; files
// ADDED at the earliest commit have no previous side; files both added
// and removed within the event are ephemeral and drop out entirely
// unless pruning is on.
func BuildPlan(lc lifecycle.Map, currentSHA, beforeSHA string, r *rule.Rule) []FilePlan {
	var plans []FilePlan
	for path, entry := range lc {
		if entry.LatestStatus == events.StatusRemoved {
			if r.PrunePaths {
				plans = append(plans, FilePlan{Path: path, Prune: true, Match: entry.MatchContext})
			}
			continue
		}

		plan := FilePlan{
			Path:          path,
			CurrentCommit: currentSHA,
			Match:         entry.MatchContext,
		}
		if entry.EarliestStatus != events.StatusAdded {
			plan.PreviousCommit = beforeSHA
		}
		plans = append(plans, plan)
	}

	sort.Slice(plans, func(i, j int) bool { return plans[i].Path < plans[j].Path })
	return plans
}
