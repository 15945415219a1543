package flusher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_RunsTasks(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 4, MaxWorkers: 8, QueueSize: 16})
	p.Start(context.Background())
	defer p.Stop(5 * time.Second)

	var done atomic.Int64
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(func() { done.Add(1) }))
	}

	require.Eventually(t, func() bool { return done.Load() == 100 },
		5*time.Second, time.Millisecond)
}

func TestPool_RejectWhenSaturated(t *testing.T) {
	p := NewPool(PoolConfig{
		CoreWorkers: 1,
		MaxWorkers:  1,
		QueueSize:   1,
		Admission:   AdmissionReject,
	})
	p.Start(context.Background())
	defer p.Stop(5 * time.Second)

	started := make(chan struct{})
	gate := make(chan struct{})
	defer close(gate)

	// Pin the single worker.
	require.NoError(t, p.Submit(func() {
		close(started)
		<-gate
	}))
	<-started

	// Fills the queue slot.
	require.NoError(t, p.Submit(func() {}))

	// Worker busy, queue full, no burst budget: reject.
	err := p.Submit(func() {})
	require.ErrorIs(t, err, ErrQueueFull)
}

func TestPool_BlockPolicyWaits(t *testing.T) {
	p := NewPool(PoolConfig{
		CoreWorkers: 1,
		MaxWorkers:  1,
		QueueSize:   1,
		Admission:   AdmissionBlock,
	})
	p.Start(context.Background())
	defer p.Stop(5 * time.Second)

	started := make(chan struct{})
	gate := make(chan struct{})

	require.NoError(t, p.Submit(func() {
		close(started)
		<-gate
	}))
	<-started
	require.NoError(t, p.Submit(func() {}))

	// The third submission has to wait for queue space.
	var done atomic.Int64
	submitted := make(chan error, 1)
	go func() {
		submitted <- p.Submit(func() { done.Add(1) })
	}()

	select {
	case err := <-submitted:
		t.Fatalf("Submit should block while the queue is full, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)

	require.NoError(t, <-submitted)
	require.Eventually(t, func() bool { return done.Load() == 1 },
		5*time.Second, time.Millisecond)
}

func TestPool_SpawnsBurstWorkers(t *testing.T) {
	p := NewPool(PoolConfig{
		CoreWorkers: 1,
		MaxWorkers:  4,
		QueueSize:   1,
		KeepAlive:   50 * time.Millisecond,
	})
	p.Start(context.Background())
	defer p.Stop(5 * time.Second)

	gate := make(chan struct{})
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func() { <-gate }))
	}

	require.Eventually(t, func() bool { return p.Workers() > 1 },
		5*time.Second, time.Millisecond, "saturation should grow the pool")
	require.LessOrEqual(t, p.Workers(), 4)

	close(gate)

	// Idle burst workers retire back down to the core size.
	require.Eventually(t, func() bool { return p.Workers() == 1 },
		5*time.Second, 10*time.Millisecond)
}

func TestPool_SubmitAfterStop(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 1, MaxWorkers: 1, QueueSize: 1})
	p.Start(context.Background())
	p.Stop(5 * time.Second)

	err := p.Submit(func() {})
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_StopDrainsQueuedTasks(t *testing.T) {
	p := NewPool(PoolConfig{CoreWorkers: 2, MaxWorkers: 2, QueueSize: 64})
	p.Start(context.Background())

	var done atomic.Int64
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(func() {
			time.Sleep(time.Millisecond)
			done.Add(1)
		}))
	}

	p.Stop(10 * time.Second)
	require.EqualValues(t, 50, done.Load(), "queued tasks finish before Stop returns")
}
