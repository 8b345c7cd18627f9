package lifecycle

import (
	"testing"
	"time"

	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/pkg/events"
)

func testRule(t *testing.T) *rule.Rule {
	t.Helper()
	r := &rule.Rule{
		Name:          "lifecycle-test",
		Platform:      "github",
		Datasource:    "mongo",
		FileName:      "config.json",
		EnvAsBranch:   true,
		UniqueKeyName: "{repoName}-{env}",
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("test rule invalid: %v", err)
	}
	return r
}

func commit(hash string, minuteOffset int, files ...events.FileChange) events.NormalizedCommit {
	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	return events.NormalizedCommit{
		Hash:      hash,
		Files:     files,
		Timestamp: base.Add(time.Duration(minuteOffset) * time.Minute),
	}
}

func TestAnalyze_SingleCommit(t *testing.T) {
	commits := []events.NormalizedCommit{
		commit("c1", 0, events.FileChange{Path: "config.json", Status: events.StatusModified}),
	}
	lm := Analyze(commits, testRule(t), "refs/heads/prod", "service")

	entry, ok := lm["config.json"]
	if !ok {
		t.Fatal("tracked file missing from lifecycle map")
	}
	if entry.EarliestStatus != events.StatusModified || entry.LatestStatus != events.StatusModified {
		t.Errorf("statuses = %s/%s, want MODIFIED/MODIFIED", entry.EarliestStatus, entry.LatestStatus)
	}
	if entry.MatchContext == nil || entry.MatchContext.UniqueKey != "service-prod" {
		t.Errorf("match context wrong: %+v", entry.MatchContext)
	}
}

func TestAnalyze_EarliestAndLatestAcrossCommits(t *testing.T) {
	// Chronological: added in c1, modified in c2, modified in c3.
	commits := []events.NormalizedCommit{
		commit("c1", 0, events.FileChange{Path: "config.json", Status: events.StatusAdded}),
		commit("c2", 1, events.FileChange{Path: "config.json", Status: events.StatusModified}),
		commit("c3", 2, events.FileChange{Path: "config.json", Status: events.StatusModified}),
	}
	lm := Analyze(commits, testRule(t), "refs/heads/prod", "service")

	entry := lm["config.json"]
	if entry.LatestStatus != events.StatusModified {
		t.Errorf("latest = %s, want MODIFIED (newest commit)", entry.LatestStatus)
	}
	if entry.EarliestStatus != events.StatusAdded {
		t.Errorf("earliest = %s, want ADDED (oldest commit)", entry.EarliestStatus)
	}
}

func TestAnalyze_EphemeralFile(t *testing.T) {
	commits := []events.NormalizedCommit{
		commit("c1", 0, events.FileChange{Path: "config.json", Status: events.StatusAdded}),
		commit("c2", 1, events.FileChange{Path: "config.json", Status: events.StatusRemoved}),
	}
	lm := Analyze(commits, testRule(t), "refs/heads/prod", "service")

	entry := lm["config.json"]
	if entry.LatestStatus != events.StatusRemoved || entry.EarliestStatus != events.StatusAdded {
		t.Fatalf("statuses = %s/%s", entry.EarliestStatus, entry.LatestStatus)
	}
	if !entry.IsEphemeral() {
		t.Error("added-then-removed file should be ephemeral")
	}
}

func TestAnalyze_IgnoredPathsSkipped(t *testing.T) {
	commits := []events.NormalizedCommit{
		commit("c1", 0,
			events.FileChange{Path: "config.json", Status: events.StatusModified},
			events.FileChange{Path: "README.md", Status: events.StatusModified},
		),
		commit("c2", 1, events.FileChange{Path: "README.md", Status: events.StatusModified}),
	}
	lm := Analyze(commits, testRule(t), "refs/heads/prod", "service")

	if len(lm) != 1 {
		t.Fatalf("expected only the tracked file, got %v", lm)
	}
	if _, ok := lm["README.md"]; ok {
		t.Error("untracked path leaked into lifecycle map")
	}
}

func TestAnalyze_NoTimestampsReversesProviderOrder(t *testing.T) {
	// Providers list commits oldest-first; without timestamps the
	// analyzer must still treat the last one as newest.
	commits := []events.NormalizedCommit{
		{Hash: "old", Files: []events.FileChange{{Path: "config.json", Status: events.StatusAdded}}},
		{Hash: "new", Files: []events.FileChange{{Path: "config.json", Status: events.StatusRemoved}}},
	}
	lm := Analyze(commits, testRule(t), "refs/heads/prod", "service")

	entry := lm["config.json"]
	if entry.LatestStatus != events.StatusRemoved || entry.EarliestStatus != events.StatusAdded {
		t.Fatalf("provider order not reversed: %s/%s", entry.EarliestStatus, entry.LatestStatus)
	}
}
