// Package syncmode implements the Sync-mode Chooser: a cost model, not
// a heuristic cascade, that picks among the four sync modes when a
// rule leaves the choice to AUTO.
package syncmode

import (
	"time"

	"github.com/syncd-io/syncd/internal/rule"
)

const (
	avgBandwidthBytesPerSec = 20e6  // 20 MB/s
	writeCostSeconds        = 0.0005  // 0.5ms per record write
	readIDCostSeconds       = 0.00005 // 0.05ms per record id-read
	driftRateAssumption     = 0.05   // 5%

	// DefaultProbeLatency is substituted when the sink health-probe
	// fails.
	DefaultProbeLatency = 100 * time.Millisecond
)

// Decide picks the cheapest sync mode for one file-bundle. recordCount
// is an approximate record count (count of '\n', or 1); contentBytes
// is the current content's size; latency is the measured one-round-
// trip probe latency to the sink; isFileStrategy reflects the target
// datasource's strategy. Empty content unconditionally selects
// GIT_SMART_REPAIR.
func Decide(recordCount int, contentBytes int64, latency time.Duration, isFileStrategy bool) rule.SyncMode {
	if contentBytes == 0 {
		return rule.ModeSmartRepair
	}

	l := latency.Seconds()
	fileMultiplier := 1.0
	if isFileStrategy {
		fileMultiplier = 2.0
	}

	costLive := l + (float64(contentBytes)/avgBandwidthBytesPerSec)*fileMultiplier
	costUpsert := l + float64(recordCount)*writeCostSeconds
	costRepair := 2*l + float64(recordCount)*readIDCostSeconds + float64(recordCount)*driftRateAssumption*writeCostSeconds

	// Ties break live -> upsert -> repair: each candidate only
	// replaces the running choice on a strictly smaller cost.
	mode, min := rule.ModeLiveState, costLive
	if costUpsert < min {
		mode, min = rule.ModeUpsertAll, costUpsert
	}
	if costRepair < min {
		mode = rule.ModeSmartRepair
	}
	return mode
}

// RecordCount approximates the record count of content: the number of
// newlines, or 1 if there are none and the content is non-empty.
func RecordCount(content []byte) int {
	if len(content) == 0 {
		return 0
	}
	n := 0
	for _, b := range content {
		if b == '\n' {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// ProbeLatency times a short health-probe against the sink, returning
// DefaultProbeLatency if the probe fails.
func ProbeLatency(probe func() error) time.Duration {
	start := time.Now()
	if err := probe(); err != nil {
		return DefaultProbeLatency
	}
	return time.Since(start)
}
