package flusher

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/marmos91/blockflush/internal/logger"
	"github.com/marmos91/blockflush/pkg/metrics"
)

// segmentKey identifies one in-flight dirty log segment.
//
// Keyed by (volume, segment name) rather than the bare file name: segment
// names repeat across volumes, and a bare-name key would let two volumes'
// same-named segments collide in the tracker.
type segmentKey struct {
	volume  string
	segment string
}

// completionEntry counts durable block writes for one segment.
//
// expected is fixed at registration; completed grows by one per completion
// callback. The deleted flag is an atomic claim: of all callbacks that
// observe completed >= expected, exactly one wins the swap and performs the
// file deletion.
type completionEntry struct {
	expected  int64
	completed atomic.Int64
	deleted   atomic.Bool
}

// Tracker decides when a dirty log segment is fully flushed and deletes it.
//
// Entries are inserted by the dispatcher (single consumer, so Register is
// never racing itself) and mutated by completion callbacks running on many
// worker goroutines at once.
type Tracker struct {
	mu      sync.Mutex
	entries map[segmentKey]*completionEntry
	metrics metrics.FlusherMetrics
}

// NewTracker creates an empty tracker.
func NewTracker(m metrics.FlusherMetrics) *Tracker {
	return &Tracker{
		entries: make(map[segmentKey]*completionEntry),
		metrics: m,
	}
}

// Register installs a completion entry for a segment.
//
// Returns false when the segment is already being tracked; the existing
// entry is left untouched.
func (t *Tracker) Register(volume, segment string, expected int64) bool {
	key := segmentKey{volume: volume, segment: segment}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[key]; ok {
		logger.Error("Dirty log segment registered twice",
			"volume", volume,
			"segment", segment,
			"existing_expected", existing.expected,
			"new_expected", expected)
		return false
	}

	t.entries[key] = &completionEntry{expected: expected}
	return true
}

// Complete records one durably flushed block for a segment.
//
// The first callback to push the count to the expected total deletes the
// segment file and drops the entry. A callback for an unknown segment is
// logged and otherwise ignored.
func (t *Tracker) Complete(volume, segment string) {
	key := segmentKey{volume: volume, segment: segment}

	t.mu.Lock()
	entry, ok := t.entries[key]
	t.mu.Unlock()

	if !ok {
		logger.Error("Completion for unknown dirty log segment",
			"volume", volume, "segment", segment)
		return
	}

	count := entry.completed.Add(1)
	if count < entry.expected {
		return
	}

	// Several callbacks can cross the threshold at once; the swap picks
	// the single one that deletes.
	if !entry.deleted.CompareAndSwap(false, true) {
		return
	}

	path := filepath.Join(volume, segment)
	logger.Debug("Deleting flushed dirty log segment",
		"path", path, "completed", count, "expected", entry.expected)

	if err := os.Remove(path); err != nil {
		logger.Error("Failed to delete flushed dirty log segment",
			"path", path, "error", err)
	}

	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.RecordSegmentDeleted()
	}
}

// Active returns the number of segments still being tracked.
func (t *Tracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Progress reports the completion state of a tracked segment.
func (t *Tracker) Progress(volume, segment string) (completed, expected int64, ok bool) {
	t.mu.Lock()
	entry, found := t.entries[segmentKey{volume: volume, segment: segment}]
	t.mu.Unlock()

	if !found {
		return 0, 0, false
	}
	return entry.completed.Load(), entry.expected, true
}
