// Package volume manages the per-volume persistent block stores.
//
// Every cache volume owns a BadgerDB instance living next to the volume's
// dirty log directory (at "<volume>.db"). The write path and the flush path
// both need the store open at the same time, so handles are reference
// counted: the store is physically opened on the first Open and physically
// closed when the last holder calls Close.
package volume

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/marmos91/blockflush/internal/logger"
)

var (
	// ErrBlockNotFound is returned when a block ID has no entry in the store.
	ErrBlockNotFound = errors.New("block not found in volume store")
)

// Handle wraps an open BadgerDB for one volume.
//
// Handles are only reachable through a Registry, which owns the reference
// count. Callers must not close the underlying DB directly.
type Handle struct {
	volume string
	db     *badger.DB
	refs   int
}

// Volume returns the volume identifier this handle belongs to.
func (h *Handle) Volume() string {
	return h.volume
}

// blockKey encodes a block ID as the fixed-width store key.
// The write path persists blocks under the same encoding.
func blockKey(blockID uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, blockID)
	return key
}

// GetBlock reads the cached bytes for a block ID.
func (h *Handle) GetBlock(blockID uint64) ([]byte, error) {
	var data []byte

	err := h.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(blockID))
		if err == badger.ErrKeyNotFound {
			return ErrBlockNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	return data, nil
}

// PutBlock stores the bytes for a block ID.
// Used by the producer-side write path and by tests.
func (h *Handle) PutBlock(blockID uint64, data []byte) error {
	return h.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(blockID), data)
	})
}

// CacheStats is one sample of a store cache's effectiveness.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Ratio  float64
}

// BlockCacheStats samples the store's block cache.
func (h *Handle) BlockCacheStats() CacheStats {
	m := h.db.BlockCacheMetrics()
	if m == nil {
		return CacheStats{}
	}
	return CacheStats{Hits: m.Hits(), Misses: m.Misses(), Ratio: m.Ratio()}
}

// IndexCacheStats samples the store's index cache.
func (h *Handle) IndexCacheStats() CacheStats {
	m := h.db.IndexCacheMetrics()
	if m == nil {
		return CacheStats{}
	}
	return CacheStats{Hits: m.Hits(), Misses: m.Misses(), Ratio: m.Ratio()}
}

// Registry is a reference-counted map from volume identifier to an open
// store handle.
//
// Open and Close for all volumes share one mutex. Opens are rare (volume
// attach, flush task start) so the coarse critical section is simpler than
// per-volume locking and just as correct.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
	}
}

// storePath returns the on-disk location of a volume's store.
func storePath(volume string) string {
	return volume + ".db"
}

// Open returns the store handle for a volume, creating the store on first
// use. cacheSizeMB sizes the store's block cache.
//
// Every successful Open must be paired with exactly one Close.
func (r *Registry) Open(volume string, cacheSizeMB int) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[volume]; ok {
		h.refs++
		return h, nil
	}

	opts := badger.DefaultOptions(storePath(volume)).
		WithBlockCacheSize(int64(cacheSizeMB) * 1024 * 1024).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store for volume %q: %w", volume, err)
	}

	h := &Handle{volume: volume, db: db, refs: 1}
	r.handles[volume] = h

	logger.Info("Opened volume store", "volume", volume, "path", storePath(volume))

	return h, nil
}

// Close releases one reference to a volume's store. When the reference
// count reaches zero the store is physically closed and the entry removed.
// Closing an unknown volume is a no-op.
func (r *Registry) Close(volume string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handles[volume]
	if !ok {
		return nil
	}

	h.refs--
	if h.refs > 0 {
		return nil
	}

	delete(r.handles, volume)
	logger.Info("Closing volume store", "volume", volume)

	if err := h.db.Close(); err != nil {
		return fmt.Errorf("failed to close store for volume %q: %w", volume, err)
	}

	return nil
}

// Get returns the open handle for a volume without touching the reference
// count, or nil when the volume has no open store. Callers must already
// hold a reference obtained through Open.
func (r *Registry) Get(volume string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[volume]
}

// Handles returns a snapshot of every open store handle.
// Used by the metrics sampler; the snapshot may go stale immediately.
func (r *Registry) Handles() []*Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// Shutdown force-closes every open store regardless of reference count.
// Only called during process teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for volume, h := range r.handles {
		if err := h.db.Close(); err != nil {
			logger.Error("Failed to close volume store during shutdown",
				"volume", volume, "error", err)
		}
	}
	r.handles = make(map[string]*Handle)
}
