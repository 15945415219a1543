// Package memory provides an in-memory remote writer for testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/blockflush/pkg/remote"
	"github.com/marmos91/blockflush/pkg/router"
)

// Writer is an in-memory implementation of remote.Writer.
//
// It records every written block and can be told to fail specific blocks,
// which tests use to exercise the never-complete-on-failure contract.
type Writer struct {
	mu     sync.RWMutex
	blocks map[string][]byte
	fail   map[string]error
	closed bool
}

// New creates a new in-memory remote writer.
func New() *Writer {
	return &Writer{
		blocks: make(map[string][]byte),
		fail:   make(map[string]error),
	}
}

func key(volume string, blockID uint64) string {
	return fmt.Sprintf("%s/%d", volume, blockID)
}

// FailBlock makes subsequent writes of the given block return err.
func (w *Writer) FailBlock(volume string, blockID uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail[key(volume, blockID)] = err
}

// WriteBlock records the block in memory.
func (w *Writer) WriteBlock(ctx context.Context, replica router.Replica, volume string, blockID uint64, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return remote.ErrWriterClosed
	}

	k := key(volume, blockID)
	if err, ok := w.fail[k]; ok {
		return err
	}

	copied := make([]byte, len(data))
	copy(copied, data)
	w.blocks[k] = copied

	return nil
}

// Block returns the recorded bytes for a block, if written.
func (w *Writer) Block(volume string, blockID uint64) ([]byte, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	data, ok := w.blocks[key(volume, blockID)]
	return data, ok
}

// Count returns the number of blocks written so far.
func (w *Writer) Count() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.blocks)
}

// Close marks the writer as closed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Ensure Writer implements remote.Writer.
var _ remote.Writer = (*Writer)(nil)
