// Package remote defines the contract with the remote-write collaborator.
//
// The flush engine hands each dirty block to a Writer and considers the
// block durable only when WriteBlock returns nil. Retry and backoff policy
// live inside the Writer implementation, not in the flush engine.
package remote

import (
	"context"
	"errors"

	"github.com/marmos91/blockflush/pkg/router"
)

var (
	// ErrWriterClosed is returned by operations on a closed writer.
	ErrWriterClosed = errors.New("remote writer is closed")
)

// Writer durably stores blocks on a remote replica.
//
// Implementations must be safe for concurrent use: the flush engine calls
// WriteBlock from many worker goroutines at once.
type Writer interface {
	// WriteBlock stores the block's bytes on the given replica. A nil
	// return means the write is confirmed durable; any error means the
	// block was not (or may not have been) written.
	WriteBlock(ctx context.Context, replica router.Replica, volume string, blockID uint64, data []byte) error

	// Close releases the writer's resources. No WriteBlock calls may be
	// issued after Close.
	Close() error
}
