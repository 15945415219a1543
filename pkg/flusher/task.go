package flusher

import (
	"context"

	"github.com/marmos91/blockflush/internal/logger"
)

// writeTask moves one dirty block from the local volume store to its remote
// replica.
//
// The completion callback fires exactly once, and only on a confirmed
// durable write. A failed write records nothing: the segment stays on disk
// and the durability gap is surfaced through logs and metrics.
type writeTask struct {
	flusher *Flusher
	volume  string
	segment string
	blockID uint64
}

// run executes the task on a pool worker.
func (t *writeTask) run() {
	f := t.flusher

	h := f.stores.Get(t.volume)
	if h == nil {
		logger.Error("No open store for volume, block write skipped",
			"volume", t.volume, "segment", t.segment, "block", t.blockID)
		if f.metrics != nil {
			f.metrics.RecordBlockWriteFailed()
		}
		return
	}

	data, err := h.GetBlock(t.blockID)
	if err != nil {
		logger.Error("Failed to read block from volume store",
			"volume", t.volume, "block", t.blockID, "error", err)
		if f.metrics != nil {
			f.metrics.RecordBlockWriteFailed()
		}
		return
	}

	replica := f.router.Route(t.volume, t.blockID)

	// Writes already handed to a worker are allowed to finish during
	// shutdown, so they do not inherit the flusher's lifecycle context.
	// Timeout policy belongs to the writer implementation.
	if err := f.writer.WriteBlock(context.Background(), replica, t.volume, t.blockID, data); err != nil {
		logger.Error("Remote block write failed",
			"volume", t.volume,
			"segment", t.segment,
			"block", t.blockID,
			"replica", replica.Address,
			"error", err)
		if f.metrics != nil {
			f.metrics.RecordBlockWriteFailed()
		}
		return
	}

	f.remoteIO.Add(1)
	if f.metrics != nil {
		f.metrics.RecordBlockFlushed(len(data))
	}

	f.tracker.Complete(t.volume, t.segment)
}
