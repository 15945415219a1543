// Package router maps blocks to their target replica endpoints.
//
// Routing is a pure function of the registered replica array and the block
// ID: block b of a volume with n replicas always lands on replica b mod n.
// The replica table for a volume is registered once, before routing is
// exercised, and never changes afterwards.
package router

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Replica describes one remote replica endpoint for a volume.
type Replica struct {
	// Address is the endpoint the remote writer connects to.
	Address string

	// Data is an opaque tag supplied by the topology source. When it decodes
	// to a positive big-endian int64, it must evenly divide the replica's
	// index in the registered array; a mismatch means the topology source
	// returned replicas in an order this router's indexing disagrees with.
	Data []byte
}

// ConsistencyTag decodes the replica's embedded numeric tag.
// Returns 0 when no tag is present.
func (r Replica) ConsistencyTag() int64 {
	if len(r.Data) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(r.Data))
}

// Router holds the per-volume replica tables.
//
// The table is read-mostly: written once per volume at registration and read
// on every block write. An RWMutex gives the safe-publication guarantee.
type Router struct {
	mu       sync.RWMutex
	replicas map[string][]Replica
}

// New creates an empty router.
func New() *Router {
	return &Router{
		replicas: make(map[string][]Replica),
	}
}

// RegisterReplicas installs the replica array for a volume.
//
// This data never changes for a live volume, so re-registration during a
// restart simply overwrites with identical content.
func (r *Router) RegisterReplicas(volume string, replicas []Replica) {
	table := make([]Replica, len(replicas))
	copy(table, replicas)

	r.mu.Lock()
	r.replicas[volume] = table
	r.mu.Unlock()
}

// Replicas returns the registered replica array for a volume, or nil.
func (r *Router) Replicas(volume string) []Replica {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.replicas[volume]
}

// Route returns the replica responsible for the given block.
//
// The volume must have been registered; routing an unknown volume is a
// programming error and panics. A replica whose consistency tag disagrees
// with the computed index indicates corrupted topology state, which is not
// recoverable at this layer: Route panics rather than returning a retryable
// error.
func (r *Router) Route(volume string, blockID uint64) Replica {
	r.mu.RLock()
	table := r.replicas[volume]
	r.mu.RUnlock()

	if len(table) == 0 {
		panic(fmt.Sprintf("router: no replicas registered for volume %q", volume))
	}

	idx := int(blockID % uint64(len(table)))
	replica := table[idx]

	if tag := replica.ConsistencyTag(); tag > 0 && int64(idx)%tag != 0 {
		panic(fmt.Sprintf(
			"router: replica ordering for volume %q is inconsistent: index %d does not match tag %d",
			volume, idx, tag))
	}

	return replica
}
