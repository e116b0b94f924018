package monitor

import "sync"

// snapshotHistory is the bounded queue of materialized snapshots. It has
// its own lock, deliberately distinct from the metrics lock, so draining
// history never serializes against snapshot reads. Overflow silently drops
// the oldest entry: consumers drain it, it is not authoritative storage.
type snapshotHistory struct {
	mu       sync.Mutex
	entries  []MetricsSnapshot
	capacity int
}

func newSnapshotHistory(capacity int) *snapshotHistory {
	if capacity <= 0 {
		capacity = 60
	}
	return &snapshotHistory{
		entries:  make([]MetricsSnapshot, 0, capacity),
		capacity: capacity,
	}
}

// push appends a snapshot, evicting the oldest entry when full.
func (h *snapshotHistory) push(s MetricsSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, s)
}

// drain returns all queued snapshots and clears the queue. The drain is
// destructive: a second drain with no snapshots produced in between
// returns an empty slice.
func (h *snapshotHistory) drain() []MetricsSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]MetricsSnapshot, len(h.entries))
	copy(out, h.entries)
	h.entries = h.entries[:0]
	return out
}

// len reports the number of queued snapshots.
func (h *snapshotHistory) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
