package volume

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenClose_RefCounting(t *testing.T) {
	r := NewRegistry()
	vol := filepath.Join(t.TempDir(), "vol1")

	h1, err := r.Open(vol, 64)
	require.NoError(t, err)
	h2, err := r.Open(vol, 64)
	require.NoError(t, err)

	// Same underlying store instance
	assert.Same(t, h1, h2)

	// After first close the store must remain open
	require.NoError(t, r.Close(vol))
	assert.NotNil(t, r.Get(vol))

	data := []byte("block data")
	require.NoError(t, h1.PutBlock(7, data))
	got, err := h1.GetBlock(7)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Second close releases the last reference
	require.NoError(t, r.Close(vol))
	assert.Nil(t, r.Get(vol))
}

func TestOpen_ConcurrentCallersSingleInstance(t *testing.T) {
	r := NewRegistry()
	vol := filepath.Join(t.TempDir(), "vol1")

	const callers = 8
	handles := make([]*Handle, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Open(vol, 64)
			if err != nil {
				t.Errorf("Open failed: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, handles[0], handles[i], "all callers must share one store")
	}

	// As many closes as opens shuts the store down
	for i := 0; i < callers-1; i++ {
		require.NoError(t, r.Close(vol))
		assert.NotNil(t, r.Get(vol), "store closed too early after %d closes", i+1)
	}
	require.NoError(t, r.Close(vol))
	assert.Nil(t, r.Get(vol))
}

func TestClose_UnknownVolumeIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.NoError(t, r.Close("never-opened"))
}

func TestGet_DoesNotAffectRefCount(t *testing.T) {
	r := NewRegistry()
	vol := filepath.Join(t.TempDir(), "vol1")

	_, err := r.Open(vol, 64)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NotNil(t, r.Get(vol))
	}

	// One close must still be enough to shut the store down
	require.NoError(t, r.Close(vol))
	assert.Nil(t, r.Get(vol))
}

func TestGetBlock_Missing(t *testing.T) {
	r := NewRegistry()
	vol := filepath.Join(t.TempDir(), "vol1")

	h, err := r.Open(vol, 64)
	require.NoError(t, err)
	defer func() { _ = r.Close(vol) }()

	_, err = h.GetBlock(99)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestShutdown_ClosesEverything(t *testing.T) {
	r := NewRegistry()
	vol1 := filepath.Join(t.TempDir(), "vol1")
	vol2 := filepath.Join(t.TempDir(), "vol2")

	_, err := r.Open(vol1, 64)
	require.NoError(t, err)
	_, err = r.Open(vol2, 64)
	require.NoError(t, err)

	r.Shutdown()

	assert.Nil(t, r.Get(vol1))
	assert.Nil(t, r.Get(vol2))
}
