package metrics

// FlusherMetrics provides observability for the write-back flush engine.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead.
type FlusherMetrics interface {
	// RecordSegmentRegistered records a dirty log segment entering the
	// completion tracker with its expected block count.
	RecordSegmentRegistered(expectedBlocks int)

	// RecordSegmentDeleted records a fully flushed segment being removed
	// from disk.
	RecordSegmentDeleted()

	// RecordSegmentReadFailure records a dirty log segment that could not
	// be read. These are durability alarms.
	RecordSegmentReadFailure()

	// RecordBlockFlushed records one block durably written to remote
	// storage.
	RecordBlockFlushed(bytes int)

	// RecordBlockWriteFailed records a remote write that did not complete.
	RecordBlockWriteFailed()

	// RecordSubmissionRejected records a write task refused by the worker
	// pool's admission queue. These are durability alarms.
	RecordSubmissionRejected()

	// RecordSegmentRecovered records a leftover segment found by the
	// startup recovery scan.
	RecordSegmentRecovered()

	// SetQueueDepth reports the current flush request queue length.
	SetQueueDepth(depth int)
}
