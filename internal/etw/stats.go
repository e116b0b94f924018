// Package etwcap owns the kernel trace side of a monitor: the per-process
// real-time ETW session, the consumer whose ProcessTrace goroutine is the
// capture thread, and the present decoder that turns raw event records into
// present.Event values on a bounded queue.
package etwcap

import (
	"sync/atomic"

	"frame_exporter/internal/maps"
)

// CaptureStats counts what the decode path did with the records it saw.
// Written by the capture thread, read by the Prometheus scrape path; all
// fields are atomics so no lock is shared with the hot path.
type CaptureStats struct {
	// RecordsSeen counts every event record delivered to the decoder.
	RecordsSeen atomic.Uint64
	// Filtered counts records dropped because they belong to another process.
	Filtered atomic.Uint64
	// Decoded counts completed present events handed to the queue.
	Decoded atomic.Uint64
	// Dropped counts decoded presents discarded because the queue was full.
	// The decode thread never blocks; overflow is shed here.
	Dropped atomic.Uint64
	// Unmatched counts present stops with no tracked start, and GPU packet
	// completions with no tracked submission.
	Unmatched atomic.Uint64
	// Lost counts in-flight presents abandoned without a stop event.
	Lost atomic.Uint64
}

// statsRegistry maps pid → stats for every capture that ever started in
// this process. Entries persist after StopMonitoring so scrape-side
// counters do not go backwards.
var statsRegistry = maps.New[uint32, *CaptureStats]()

// StatsFor returns the stats slot for a pid, creating it on first use.
func StatsFor(pid uint32) *CaptureStats {
	return statsRegistry.LoadOrStore(pid, func() *CaptureStats {
		return &CaptureStats{}
	})
}

// RangeStats iterates all known capture stats.
func RangeStats(f func(pid uint32, s *CaptureStats) bool) {
	statsRegistry.Range(f)
}
