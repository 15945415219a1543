package flusher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/blockflush/internal/logger"
)

var (
	// ErrQueueFull is returned by Submit under the reject admission policy
	// when the bounded backlog is saturated.
	ErrQueueFull = errors.New("worker pool admission queue is full")

	// ErrPoolClosed is returned by Submit after the pool has been stopped.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// AdmissionPolicy decides what Submit does when the backlog is full.
type AdmissionPolicy string

const (
	// AdmissionBlock makes Submit wait for queue space. This is the default:
	// a dropped write task means its block is never flushed and the owning
	// segment can never be deleted.
	AdmissionBlock AdmissionPolicy = "block"

	// AdmissionReject makes Submit fail fast with ErrQueueFull, trading
	// durability for dispatcher liveness.
	AdmissionReject AdmissionPolicy = "reject"
)

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	// CoreWorkers is the number of workers started up front and kept for
	// the pool's lifetime.
	CoreWorkers int

	// MaxWorkers caps the total worker count including burst workers.
	MaxWorkers int

	// KeepAlive is how long an idle burst worker lingers before exiting.
	KeepAlive time.Duration

	// QueueSize is the capacity of the bounded admission queue.
	QueueSize int

	// ThreadPriority is the OS niceness applied to worker threads.
	// Zero leaves scheduling untouched.
	ThreadPriority int

	// Admission selects the behavior when the queue is full.
	Admission AdmissionPolicy
}

// Pool is a bounded-backlog worker pool for remote-write tasks.
//
// Core workers are prestarted; when the backlog fills, burst workers are
// spawned up to MaxWorkers and exit after KeepAlive of idleness. Stop
// prevents new admissions and lets queued and in-flight tasks finish.
type Pool struct {
	cfg    PoolConfig
	tasks  chan func()
	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	workers   atomic.Int32
	closed    atomic.Bool
	stoppedCh chan struct{}
}

// NewPool creates a worker pool. The pool does not run until Start.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.CoreWorkers <= 0 {
		cfg.CoreWorkers = 16
	}
	if cfg.MaxWorkers < cfg.CoreWorkers {
		cfg.MaxWorkers = cfg.CoreWorkers
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Admission == "" {
		cfg.Admission = AdmissionBlock
	}

	return &Pool{
		cfg:       cfg,
		tasks:     make(chan func(), cfg.QueueSize),
		stoppedCh: make(chan struct{}),
	}
}

// Start prestarts the core workers.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	logger.Info("Starting worker pool",
		"core_workers", p.cfg.CoreWorkers,
		"max_workers", p.cfg.MaxWorkers,
		"queue_size", p.cfg.QueueSize,
		"keep_alive", p.cfg.KeepAlive,
		"admission", string(p.cfg.Admission))

	p.workers.Store(int32(p.cfg.CoreWorkers))
	for i := 0; i < p.cfg.CoreWorkers; i++ {
		p.wg.Add(1)
		go p.coreWorker()
	}

	go func() {
		p.wg.Wait()
		close(p.stoppedCh)
	}()
}

// Submit hands a task to the pool.
//
// When the backlog is full a burst worker is spawned if the worker budget
// allows; failing that, the admission policy decides between waiting for
// space and returning ErrQueueFull immediately.
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		return nil
	default:
	}

	if p.trySpawnBurstWorker() {
		select {
		case p.tasks <- task:
			return nil
		default:
		}
	}

	if p.cfg.Admission == AdmissionReject {
		return ErrQueueFull
	}

	select {
	case p.tasks <- task:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Stop prevents new admissions and waits for queued and in-flight tasks,
// up to timeout.
func (p *Pool) Stop(timeout time.Duration) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	p.cancel()

	select {
	case <-p.stoppedCh:
		logger.Info("Worker pool stopped")
	case <-time.After(timeout):
		logger.Warn("Worker pool stop timed out", "queued", len(p.tasks))
	}
}

// Workers returns the current worker count, core and burst included.
func (p *Pool) Workers() int {
	return int(p.workers.Load())
}

// trySpawnBurstWorker starts one extra worker when under the MaxWorkers
// budget.
func (p *Pool) trySpawnBurstWorker() bool {
	for {
		cur := p.workers.Load()
		if int(cur) >= p.cfg.MaxWorkers {
			return false
		}
		if p.workers.CompareAndSwap(cur, cur+1) {
			p.wg.Add(1)
			go p.burstWorker()
			return true
		}
	}
}

// coreWorker runs for the pool's lifetime.
func (p *Pool) coreWorker() {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	lockThreadPriority(p.cfg.ThreadPriority)

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case task := <-p.tasks:
			task()
		}
	}
}

// burstWorker exits after KeepAlive of idleness.
func (p *Pool) burstWorker() {
	defer p.wg.Done()
	defer p.workers.Add(-1)

	lockThreadPriority(p.cfg.ThreadPriority)

	idle := time.NewTimer(p.cfg.KeepAlive)
	defer idle.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.drain()
			return
		case task := <-p.tasks:
			task()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(p.cfg.KeepAlive)
		case <-idle.C:
			return
		}
	}
}

// drain runs remaining queued tasks during shutdown.
func (p *Pool) drain() {
	for {
		select {
		case task := <-p.tasks:
			task()
		default:
			return
		}
	}
}
