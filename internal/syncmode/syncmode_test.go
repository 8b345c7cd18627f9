package syncmode

import (
	"errors"
	"testing"
	"time"

	"github.com/syncd-io/syncd/internal/rule"
)

func TestDecide_EmptyContentAlwaysSmartRepair(t *testing.T) {
	for _, latency := range []time.Duration{0, time.Millisecond, time.Second} {
		if mode := Decide(0, 0, latency, false); mode != rule.ModeSmartRepair {
			t.Errorf("empty content with latency %v chose %s, want GIT_SMART_REPAIR", latency, mode)
		}
	}
}

func TestDecide_SmallContentLowLatencyPicksLive(t *testing.T) {
	// 1ms latency, 10KB content, 100 records, document strategy:
	// cost_live ≈ 1.5ms, cost_upsert ≈ 51ms, cost_repair ≈ 9.5ms.
	mode := Decide(100, 10240, time.Millisecond, false)
	if mode != rule.ModeLiveState {
		t.Fatalf("chose %s, want LIVE_STATE", mode)
	}
}

func TestDecide_HighLatencyFavorsUpsert(t *testing.T) {
	// 500ms round trips make the second trip of smart-repair and the
	// transfer of live-state both worse than a handful of writes.
	mode := Decide(10, 50_000_000, 500*time.Millisecond, false)
	if mode != rule.ModeUpsertAll {
		t.Fatalf("chose %s, want GIT_UPSERT_ALL", mode)
	}
}

func TestDecide_ManyRecordsFavorsRepair(t *testing.T) {
	// Huge record count with large content: per-record id reads at
	// 0.05ms beat full rewrites at 0.5ms, and the transfer dwarfs the
	// extra round trip.
	mode := Decide(200_000, 400_000_000, 10*time.Millisecond, false)
	if mode != rule.ModeSmartRepair {
		t.Fatalf("chose %s, want GIT_SMART_REPAIR", mode)
	}
}

func TestDecide_FileStrategyDoublesTransfer(t *testing.T) {
	// Pick a point where live wins for documents but the 2x transfer
	// multiplier tips file-strategy past the single-record write cost:
	// 8KB transfers in 0.4ms, doubled it costs 0.8ms against a 0.5ms
	// upsert.
	const bytes = 8_000
	if mode := Decide(1, bytes, time.Millisecond, false); mode != rule.ModeLiveState {
		t.Fatalf("document strategy chose %s, want LIVE_STATE", mode)
	}
	if mode := Decide(1, bytes, time.Millisecond, true); mode == rule.ModeLiveState {
		t.Fatal("file strategy should not pick LIVE_STATE when the doubled transfer is the deciding cost")
	}
}

func TestRecordCount(t *testing.T) {
	cases := []struct {
		content string
		want    int
	}{
		{"", 0},
		{"single line no newline", 1},
		{"a\nb\nc\n", 3},
		{"a\nb", 1},
	}
	for _, c := range cases {
		if got := RecordCount([]byte(c.content)); got != c.want {
			t.Errorf("RecordCount(%q) = %d, want %d", c.content, got, c.want)
		}
	}
}

func TestProbeLatency_FailureAssumesDefault(t *testing.T) {
	got := ProbeLatency(func() error { return errors.New("down") })
	if got != DefaultProbeLatency {
		t.Fatalf("failed probe returned %v, want %v", got, DefaultProbeLatency)
	}
}

func TestProbeLatency_MeasuresSuccess(t *testing.T) {
	got := ProbeLatency(func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	if got < 5*time.Millisecond {
		t.Fatalf("measured latency %v below the probe's own duration", got)
	}
}
