package router

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tagBytes(tag int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(tag))
	return buf
}

func TestRoute_ModuloSelection(t *testing.T) {
	r := New()
	replicas := []Replica{
		{Address: "e0"},
		{Address: "e1"},
		{Address: "e2"},
		{Address: "e3"},
	}
	r.RegisterReplicas("vol1", replicas)

	// 10 mod 4 = 2
	got := r.Route("vol1", 10)
	assert.Equal(t, "e2", got.Address)
}

func TestRoute_Deterministic(t *testing.T) {
	r := New()
	r.RegisterReplicas("vol1", []Replica{
		{Address: "a"}, {Address: "b"}, {Address: "c"},
	})

	for blockID := uint64(0); blockID < 100; blockID++ {
		first := r.Route("vol1", blockID)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, r.Route("vol1", blockID),
				"route must be stable for block %d", blockID)
		}
	}
}

func TestRoute_IndexAlwaysInRange(t *testing.T) {
	r := New()
	for n := 1; n <= 7; n++ {
		volume := fmt.Sprintf("vol-%d", n)
		replicas := make([]Replica, n)
		for i := range replicas {
			replicas[i] = Replica{Address: fmt.Sprintf("e%d", i)}
		}
		r.RegisterReplicas(volume, replicas)

		for _, blockID := range []uint64{0, 1, 2, 63, 1 << 40, ^uint64(0)} {
			got := r.Route(volume, blockID)
			want := replicas[blockID%uint64(n)]
			assert.Equal(t, want, got)
		}
	}
}

func TestRoute_UnregisteredVolumePanics(t *testing.T) {
	r := New()
	assert.Panics(t, func() {
		r.Route("nope", 1)
	})
}

func TestRoute_ConsistencyTagViolationPanics(t *testing.T) {
	r := New()
	// Index 3 with tag 2: 3 mod 2 != 0, which means the topology source
	// handed back replicas in the wrong order.
	replicas := []Replica{
		{Address: "e0"},
		{Address: "e1"},
		{Address: "e2"},
		{Address: "e3", Data: tagBytes(2)},
	}
	r.RegisterReplicas("vol1", replicas)

	assert.Panics(t, func() {
		r.Route("vol1", 3)
	})
}

func TestRoute_ConsistencyTagDividesIndex(t *testing.T) {
	r := New()
	// Index 2 with tag 2: 2 mod 2 == 0, table is consistent.
	replicas := []Replica{
		{Address: "e0"},
		{Address: "e1"},
		{Address: "e2", Data: tagBytes(2)},
		{Address: "e3"},
	}
	r.RegisterReplicas("vol1", replicas)

	got := r.Route("vol1", 2)
	assert.Equal(t, "e2", got.Address)
}

func TestConsistencyTag_ShortDataIsZero(t *testing.T) {
	rep := Replica{Address: "e0", Data: []byte{1, 2, 3}}
	assert.Equal(t, int64(0), rep.ConsistencyTag())
}

func TestRegisterReplicas_CopiesInput(t *testing.T) {
	r := New()
	replicas := []Replica{{Address: "e0"}, {Address: "e1"}}
	r.RegisterReplicas("vol1", replicas)

	replicas[0].Address = "mutated"

	got := r.Route("vol1", 0)
	require.Equal(t, "e0", got.Address, "registered table must not alias caller's slice")
}
