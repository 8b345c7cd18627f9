package syncengine

import (
	"context"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/syncd-io/syncd/internal/lifecycle"
	"github.com/syncd-io/syncd/internal/pipeline"
	"github.com/syncd-io/syncd/internal/rule"
	"github.com/syncd-io/syncd/pkg/events"
)

// memorySink answers Fetch from a fixed state map and records writes.
type memorySink struct {
	state  map[string]interface{}
	writes []pipeline.MutationRow
}

func (m *memorySink) Write(_ context.Context, row pipeline.MutationRow) error {
	m.writes = append(m.writes, row)
	return nil
}
func (m *memorySink) Flush(context.Context) error { return nil }
func (m *memorySink) Fetch(context.Context, pipeline.RowMetadata) (map[string]interface{}, error) {
	if m.state == nil {
		return map[string]interface{}{}, nil
	}
	return m.state, nil
}
func (m *memorySink) Probe(context.Context) error      { return nil }
func (m *memorySink) Connect(context.Context) error    { return nil }
func (m *memorySink) Disconnect(context.Context) error { return nil }

func trackedRule(mode rule.SyncMode) *rule.Rule {
	r := &rule.Rule{
		Name:          "scenario",
		Platform:      "github",
		Datasource:    "mongo",
		RootKey:       "varTrack",
		FileName:      "config.json",
		EnvAsBranch:   true,
		UniqueKeyName: "{repoName}-{env}",
		SyncMode:      mode,
	}
	Expect(r.Validate()).To(Succeed())
	return r
}

func metadataFor(r *rule.Rule, branch, repoName string) pipeline.RowMetadata {
	mc, ok := r.Match(r.FileName, branch, repoName)
	Expect(ok).To(BeTrue())
	return pipeline.RowMetadata{
		UniqueKey: mc.UniqueKey,
		Env:       mc.Env,
		FilePath:  r.FileName,
	}
}

func rowSummary(rows []pipeline.MutationRow) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = fmt.Sprintf("%s:%s=%v", r.Kind, r.Key, r.Value)
	}
	return out
}

var _ = Describe("Sync Engine", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("a single-commit push modifying one tracked file", func() {
		It("emits UPDATE for changed keys and INSERT for new ones, tagged with the unique key", func() {
			r := trackedRule(rule.ModeSmartRepair)
			store := &memorySink{state: map[string]interface{}{"a": 1, "b": 2}}
			engine := &Engine{Sink: store}

			bundle := FileBundle{
				Current:  []byte(`{"varTrack":{"a":1,"b":3,"c":4}}`),
				Previous: []byte(`{"varTrack":{"a":1,"b":2}}`),
				Metadata: metadataFor(r, "refs/heads/prod", "repoName"),
			}

			rows, err := engine.Rows(ctx, bundle, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(rowSummary(rows)).To(Equal([]string{
				"INSERT:c=4",
				"UPDATE:b=3",
			}))
			for _, row := range rows {
				Expect(row.Metadata.UniqueKey).To(Equal("repoName-prod"))
				Expect(row.Metadata.Env).To(Equal("prod"))
			}
		})
	})

	Describe("identical current and previous content", func() {
		content := []byte(`{"varTrack":{"a":1,"b":2}}`)

		It("yields an empty batch under smart repair when the store agrees", func() {
			r := trackedRule(rule.ModeSmartRepair)
			store := &memorySink{state: map[string]interface{}{"a": 1, "b": 2}}
			engine := &Engine{Sink: store}

			rows, err := engine.Rows(ctx, FileBundle{
				Current:  content,
				Previous: content,
				Metadata: metadataFor(r, "refs/heads/prod", "svc"),
			}, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(BeEmpty())
		})

		It("re-emits every key exactly once as UPDATE under GIT_UPSERT_ALL", func() {
			r := trackedRule(rule.ModeUpsertAll)
			engine := &Engine{Sink: &memorySink{}}

			rows, err := engine.Rows(ctx, FileBundle{
				Current:  content,
				Previous: content,
				Metadata: metadataFor(r, "refs/heads/prod", "svc"),
			}, r)
			Expect(err).NotTo(HaveOccurred())

			seen := map[string]int{}
			for _, row := range rows {
				Expect(row.Kind).To(Equal(pipeline.RowUpdate))
				seen[row.Key]++
			}
			Expect(seen).To(Equal(map[string]int{"a": 1, "b": 1}))
		})

		It("repairs only keys the store lost or corrupted under GIT_SMART_REPAIR", func() {
			r := trackedRule(rule.ModeSmartRepair)
			store := &memorySink{state: map[string]interface{}{"a": 99}} // b missing, a disagrees
			engine := &Engine{Sink: store}

			rows, err := engine.Rows(ctx, FileBundle{
				Current:  content,
				Previous: content,
				Metadata: metadataFor(r, "refs/heads/prod", "svc"),
			}, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(rowSummary(rows)).To(Equal([]string{
				"UPDATE:a=1",
				"UPDATE:b=2",
			}))
		})
	})

	Describe("LIVE_STATE mode", func() {
		It("diffs against the store instead of the previous commit", func() {
			r := trackedRule(rule.ModeLiveState)
			store := &memorySink{state: map[string]interface{}{"a": 1, "stale": "x"}}
			engine := &Engine{Sink: store}

			rows, err := engine.Rows(ctx, FileBundle{
				Current:  []byte(`{"varTrack":{"a":1,"b":2}}`),
				Previous: []byte(`{"varTrack":{"ignored":"entirely"}}`),
				Metadata: metadataFor(r, "refs/heads/prod", "svc"),
			}, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(rowSummary(rows)).To(Equal([]string{
				"INSERT:b=2",
				"DELETE:stale=x",
			}))
		})
	})

	Describe("row ordering", func() {
		It("orders INSERTs, then UPDATEs, then DELETEs, each by key ascending", func() {
			r := trackedRule(rule.ModeSmartRepair)
			store := &memorySink{state: map[string]interface{}{"m": 1, "z": 2}}
			engine := &Engine{Sink: store}

			rows, err := engine.Rows(ctx, FileBundle{
				Current:  []byte(`{"varTrack":{"b":1,"a":1,"m":9,"z":2}}`),
				Previous: []byte(`{"varTrack":{"m":1,"z":2,"gone":1,"also_gone":2}}`),
				Metadata: metadataFor(r, "refs/heads/prod", "svc"),
			}, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(rowSummary(rows)).To(Equal([]string{
				"INSERT:a=1",
				"INSERT:b=1",
				"UPDATE:m=9",
				"DELETE:also_gone=2",
				"DELETE:gone=1",
			}))
		})
	})

	Describe("variablesMap", func() {
		It("merges rule variables into the current state", func() {
			r := trackedRule(rule.ModeSmartRepair)
			r.VariablesMap = map[string]string{"region": "west"}
			Expect(r.Validate()).To(Succeed())
			store := &memorySink{state: map[string]interface{}{}}
			engine := &Engine{Sink: store}

			rows, err := engine.Rows(ctx, FileBundle{
				Current:  []byte(`{"varTrack":{"a":1}}`),
				Previous: nil,
				Metadata: metadataFor(r, "refs/heads/prod", "svc"),
			}, r)
			Expect(err).NotTo(HaveOccurred())
			Expect(rowSummary(rows)).To(ContainElement("INSERT:region=west"))
		})
	})

	Describe("file plans from a lifecycle map", func() {
		analyze := func(r *rule.Rule, commits []events.NormalizedCommit) lifecycle.Map {
			return lifecycle.Analyze(commits, r, "refs/heads/prod", "svc")
		}

		It("skips the previous fetch for files added within the event", func() {
			r := trackedRule(rule.ModeSmartRepair)
			lc := analyze(r, []events.NormalizedCommit{
				{Hash: "c1", Files: []events.FileChange{{Path: "config.json", Status: events.StatusAdded}}},
			})
			plans := BuildPlan(lc, "head", "base", r)

			Expect(plans).To(HaveLen(1))
			Expect(plans[0].CurrentCommit).To(Equal("head"))
			Expect(plans[0].PreviousCommit).To(BeEmpty())
		})

		It("drops a file added then removed within the event unless pruning", func() {
			r := trackedRule(rule.ModeSmartRepair)
			commits := []events.NormalizedCommit{
				{Hash: "c1", Files: []events.FileChange{{Path: "config.json", Status: events.StatusAdded}}},
				{Hash: "c2", Files: []events.FileChange{{Path: "config.json", Status: events.StatusRemoved}}},
			}

			plans := BuildPlan(analyze(r, commits), "head", "base", r)
			Expect(plans).To(BeEmpty())

			r.PrunePaths = true
			plans = BuildPlan(analyze(r, commits), "head", "base", r)
			Expect(plans).To(HaveLen(1))
			Expect(plans[0].Prune).To(BeTrue())
			Expect(plans[0].CurrentCommit).To(BeEmpty(), "a pruned file is never fetched")
		})

		It("enqueues removed files for prune only", func() {
			r := trackedRule(rule.ModeSmartRepair)
			r.PrunePaths = true
			lc := analyze(r, []events.NormalizedCommit{
				{Hash: "c1", Files: []events.FileChange{{Path: "config.json", Status: events.StatusRemoved}}},
			})
			plans := BuildPlan(lc, "head", "base", r)

			Expect(plans).To(HaveLen(1))
			Expect(plans[0].Prune).To(BeTrue())
			Expect(plans[0].Match.UniqueKey).To(Equal("svc-prod"))
		})
	})
})
