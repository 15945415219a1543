// Package flusher implements the write-back flush engine of the block cache.
//
// The write path appends the ID of every dirtied block to a per-volume
// dirty log segment (a flat file of 8-byte big-endian block IDs, named with
// the "DirtyLog" prefix) and submits the segment for flushing. The flusher
// parses each segment, writes every named block to its remote replica in
// parallel, and deletes the segment file once every block is confirmed
// durable. Segments left behind by a crash are picked up by a recovery
// scan at startup.
package flusher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/blockflush/internal/logger"
	"github.com/marmos91/blockflush/pkg/metrics"
	"github.com/marmos91/blockflush/pkg/remote"
	"github.com/marmos91/blockflush/pkg/router"
	"github.com/marmos91/blockflush/pkg/store/volume"
)

const (
	// DirtyLogPrefix marks dirty log segment files under a volume's cache
	// directory.
	DirtyLogPrefix = "DirtyLog"

	// blockIDSize is the fixed width of a block identifier on disk.
	blockIDSize = 8
)

// Config holds flush engine configuration.
type Config struct {
	// CacheRoot is the directory scanned for leftover dirty log segments
	// at startup.
	CacheRoot string

	// QueueSizeKB sizes the worker pool's admission queue, in thousands of
	// binary units (capacity = QueueSizeKB * 1024 tasks).
	QueueSizeKB int

	// CoreWorkers and MaxWorkers bound the worker pool.
	CoreWorkers int
	MaxWorkers  int

	// KeepAlive is the idle lifetime of burst workers.
	KeepAlive time.Duration

	// ThreadPriority is the OS niceness for worker threads (0 = untouched).
	ThreadPriority int

	// BlockBufferBlocks is the parsing buffer capacity in block IDs. A
	// segment must not exceed this size; that is the producer's contract.
	BlockBufferBlocks int

	// Admission selects the worker pool admission policy.
	Admission AdmissionPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSizeKB:       4,
		CoreWorkers:       16,
		MaxWorkers:        64,
		KeepAlive:         60 * time.Second,
		BlockBufferBlocks: 512,
		Admission:         AdmissionBlock,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.QueueSizeKB <= 0 {
		c.QueueSizeKB = def.QueueSizeKB
	}
	if c.CoreWorkers <= 0 {
		c.CoreWorkers = def.CoreWorkers
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = def.MaxWorkers
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = def.KeepAlive
	}
	if c.BlockBufferBlocks <= 0 {
		c.BlockBufferBlocks = def.BlockBufferBlocks
	}
	if c.Admission == "" {
		c.Admission = def.Admission
	}
	return c
}

// flushRequest names one dirty log segment awaiting processing.
type flushRequest struct {
	volume  string
	segment string
}

// Flusher turns dirty log segments into parallel remote block writes.
//
// A single dispatcher goroutine drains the request queue so segment parsing
// and tracker registration are never concurrent with each other; only the
// per-block write tasks run in parallel.
type Flusher struct {
	cfg     Config
	stores  *volume.Registry
	router  *router.Router
	writer  remote.Writer
	pool    *Pool
	tracker *Tracker
	metrics metrics.FlusherMetrics

	// Unbounded request queue. Producers append without blocking; the
	// dispatcher waits on notify when the queue is empty.
	qmu     sync.Mutex
	pending []flushRequest
	notify  chan struct{}

	// buf is the capped parsing buffer, owned by the dispatcher goroutine.
	buf []byte

	remoteIO atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New creates a flusher. It does not run until Start.
func New(cfg Config, stores *volume.Registry, rt *router.Router, writer remote.Writer, m metrics.FlusherMetrics) *Flusher {
	cfg = cfg.withDefaults()

	return &Flusher{
		cfg:     cfg,
		stores:  stores,
		router:  rt,
		writer:  writer,
		metrics: m,
		tracker: NewTracker(m),
		pool: NewPool(PoolConfig{
			CoreWorkers:    cfg.CoreWorkers,
			MaxWorkers:     cfg.MaxWorkers,
			KeepAlive:      cfg.KeepAlive,
			QueueSize:      cfg.QueueSizeKB * 1024,
			ThreadPriority: cfg.ThreadPriority,
			Admission:      cfg.Admission,
		}),
		notify: make(chan struct{}, 1),
		buf:    make([]byte, cfg.BlockBufferBlocks*blockIDSize),
	}
}

// Start runs the recovery scan and then begins draining the request queue.
//
// Recovery runs before the dispatcher loop so leftover segments are queued
// ahead of live traffic. Start must be called at most once.
func (f *Flusher) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return errors.New("flusher already started")
	}
	f.started = true
	f.mu.Unlock()

	f.ctx, f.cancel = context.WithCancel(ctx)

	logger.Info("Starting flusher",
		"cache_root", f.cfg.CacheRoot,
		"block_buffer", f.cfg.BlockBufferBlocks,
		"queue_size_kb", f.cfg.QueueSizeKB)

	if recovered := f.recoverDirtyLogs(); recovered > 0 {
		logger.Info("Recovery scan requeued leftover dirty logs", "segments", recovered)
	}

	f.pool.Start(f.ctx)

	f.wg.Add(1)
	go f.run()

	return nil
}

// Stop shuts the flusher down: the dispatcher exits, the pool stops
// admitting work, and queued plus in-flight write tasks get up to timeout
// to finish.
func (f *Flusher) Stop(timeout time.Duration) {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	f.pool.Stop(timeout)
}

// SubmitFlush queues a dirty log segment for flushing.
// Never blocks; safe to call from any goroutine.
func (f *Flusher) SubmitFlush(vol, segment string) {
	f.qmu.Lock()
	f.pending = append(f.pending, flushRequest{volume: vol, segment: segment})
	depth := len(f.pending)
	f.qmu.Unlock()

	logger.Info("Queued dirty log segment",
		"volume", vol, "segment", segment, "queue_length", depth)
	if f.metrics != nil {
		f.metrics.SetQueueDepth(depth)
	}

	select {
	case f.notify <- struct{}{}:
	default:
	}
}

// QueueDepth returns the number of requests waiting for the dispatcher.
func (f *Flusher) QueueDepth() int {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	return len(f.pending)
}

// RemoteIO returns the number of blocks durably written to remote storage
// over the flusher's lifetime.
func (f *Flusher) RemoteIO() int64 {
	return f.remoteIO.Load()
}

// Tracker exposes the completion tracker, mainly for tests and status
// reporting.
func (f *Flusher) Tracker() *Tracker {
	return f.tracker
}

// run is the dispatcher loop: strictly sequential segment processing.
func (f *Flusher) run() {
	defer f.wg.Done()

	for {
		req, ok := f.nextRequest()
		if !ok {
			logger.Info("Exiting flusher dispatcher")
			return
		}
		f.process(req)
	}
}

// nextRequest blocks until a request is available or shutdown is signalled.
func (f *Flusher) nextRequest() (flushRequest, bool) {
	for {
		f.qmu.Lock()
		if len(f.pending) > 0 {
			req := f.pending[0]
			f.pending = f.pending[1:]
			depth := len(f.pending)
			f.qmu.Unlock()

			if f.metrics != nil {
				f.metrics.SetQueueDepth(depth)
			}
			return req, true
		}
		f.qmu.Unlock()

		select {
		case <-f.ctx.Done():
			return flushRequest{}, false
		case <-f.notify:
		}
	}
}

// process parses one dirty log segment and fans its blocks out to the pool.
//
// All failures are local to the request: the dispatcher logs and moves on
// so one bad segment cannot stall the others.
func (f *Flusher) process(req flushRequest) {
	path := filepath.Join(req.volume, req.segment)
	logger.Debug("Processing dirty log segment", "path", path)

	n, err := f.readSegment(path)
	if err != nil {
		logger.Error("Unable to read the dirty blocks file. This will cause data errors. Please stop using this volume.",
			"path", path, "error", err)
		if f.metrics != nil {
			f.metrics.RecordSegmentReadFailure()
		}
		return
	}

	blockCount := n / blockIDSize
	logger.Debug("Read dirty log segment", "path", path, "bytes", n, "blocks", blockCount)

	if blockCount == 0 {
		// Nothing to flush and no completions will ever arrive, so the
		// segment is deleted here instead of leaking a tracker entry.
		logger.Warn("Dirty log segment names no blocks, deleting", "path", path)
		if err := os.Remove(path); err != nil {
			logger.Error("Failed to delete empty dirty log segment", "path", path, "error", err)
		}
		return
	}

	if !f.tracker.Register(req.volume, req.segment, int64(blockCount)) {
		// Anomaly was logged by the tracker. Submitting the blocks again
		// would corrupt the existing entry's count, so the request is
		// dropped whole.
		return
	}
	if f.metrics != nil {
		f.metrics.RecordSegmentRegistered(blockCount)
	}

	for off := 0; off+blockIDSize <= n; off += blockIDSize {
		blockID := binary.BigEndian.Uint64(f.buf[off:])

		task := &writeTask{
			flusher: f,
			volume:  req.volume,
			segment: req.segment,
			blockID: blockID,
		}

		if err := f.pool.Submit(task.run); err != nil {
			// This block will never be flushed, so the segment can never
			// complete and will survive for a retry of the whole file.
			logger.Error("Write task rejected; block write lost",
				"volume", req.volume,
				"segment", req.segment,
				"block", blockID,
				"error", err)
			if f.metrics != nil {
				f.metrics.RecordSubmissionRejected()
			}
		}
	}
}

// readSegment reads up to the buffer capacity from a segment file.
//
// The buffer caps a single read pass; producers guarantee segments never
// exceed it. Trailing bytes shorter than one block ID are left unconsumed.
func (f *Flusher) readSegment(path string) (int, error) {
	fd, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = fd.Close() }()

	n, err := io.ReadFull(fd, f.buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("read dirty log: %w", err)
	}

	return n, nil
}
