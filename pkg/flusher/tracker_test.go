package flusher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func trackedSegment(t *testing.T, name string) (vol, path string) {
	t.Helper()
	vol = t.TempDir()
	path = filepath.Join(vol, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	return vol, path
}

func TestTracker_DeletesAtThreshold(t *testing.T) {
	vol, path := trackedSegment(t, "DirtyLog.1")
	tr := NewTracker(nil)

	require.True(t, tr.Register(vol, "DirtyLog.1", 3))
	require.Equal(t, 1, tr.Active())

	tr.Complete(vol, "DirtyLog.1")
	tr.Complete(vol, "DirtyLog.1")

	// Two of three: the file must still be there.
	_, err := os.Stat(path)
	require.NoError(t, err)

	completed, expected, ok := tr.Progress(vol, "DirtyLog.1")
	require.True(t, ok)
	require.EqualValues(t, 2, completed)
	require.EqualValues(t, 3, expected)

	tr.Complete(vol, "DirtyLog.1")

	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err), "file should be deleted at the threshold")
	require.Equal(t, 0, tr.Active())
}

func TestTracker_DuplicateRegister(t *testing.T) {
	vol, _ := trackedSegment(t, "DirtyLog.1")
	tr := NewTracker(nil)

	require.True(t, tr.Register(vol, "DirtyLog.1", 3))
	require.False(t, tr.Register(vol, "DirtyLog.1", 5))

	// The original entry survives untouched.
	_, expected, ok := tr.Progress(vol, "DirtyLog.1")
	require.True(t, ok)
	require.EqualValues(t, 3, expected)
}

func TestTracker_UnknownCompletionIgnored(t *testing.T) {
	tr := NewTracker(nil)

	// Must not panic or create state.
	tr.Complete("/nowhere", "DirtyLog.9")
	require.Equal(t, 0, tr.Active())
}

func TestTracker_SameNameDifferentVolumes(t *testing.T) {
	volA, pathA := trackedSegment(t, "DirtyLog.1")
	volB, pathB := trackedSegment(t, "DirtyLog.1")
	tr := NewTracker(nil)

	require.True(t, tr.Register(volA, "DirtyLog.1", 1))
	require.True(t, tr.Register(volB, "DirtyLog.1", 2), "same segment name on another volume is distinct")

	tr.Complete(volA, "DirtyLog.1")

	_, err := os.Stat(pathA)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(pathB)
	require.NoError(t, err, "the other volume's segment must be untouched")
	require.Equal(t, 1, tr.Active())
}

func TestTracker_ConcurrentCompletions(t *testing.T) {
	const n = 100

	vol, path := trackedSegment(t, "DirtyLog.1")
	m := &fakeMetrics{}
	tr := NewTracker(m)

	require.True(t, tr.Register(vol, "DirtyLog.1", n))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Complete(vol, "DirtyLog.1")
		}()
	}
	wg.Wait()

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.Equal(t, 0, tr.Active())
	require.EqualValues(t, 1, m.deleted.Load(), "deletion must be recorded exactly once")
}
