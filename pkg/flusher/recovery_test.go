package flusher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/blockflush/pkg/remote/memory"
	"github.com/marmos91/blockflush/pkg/router"
	"github.com/marmos91/blockflush/pkg/store/volume"
)

func TestRecovery_ScansNestedVolumes(t *testing.T) {
	root := t.TempDir()
	stores := volume.NewRegistry()
	defer stores.Shutdown()
	rt := router.New()
	writer := memory.New()
	m := &fakeMetrics{}

	ids := []uint64{1, 2}

	vol1 := setupVolume(t, root, stores, rt, "vol1", ids)
	sub := setupVolume(t, root, stores, rt, filepath.Join("vol1", "sub"), ids)
	vol2 := setupVolume(t, root, stores, rt, "vol2", ids)

	seg1 := writeSegment(t, vol1, "DirtyLog.1", ids)
	seg2 := writeSegment(t, sub, "DirtyLog.2", ids)
	seg3 := writeSegment(t, vol2, "DirtyLog.1", ids)

	// Files without the dirty log prefix are not flush work.
	notes := filepath.Join(vol1, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("keep me"), 0644))

	fl := New(Config{CacheRoot: root}, stores, rt, writer, m)
	require.NoError(t, fl.Start(context.Background()))
	defer fl.Stop(5 * time.Second)

	require.Eventually(t, func() bool {
		return fileGone(seg1)() && fileGone(seg2)() && fileGone(seg3)()
	}, 5*time.Second, 10*time.Millisecond)

	require.EqualValues(t, 3, m.recovered.Load())

	_, err := os.Stat(notes)
	require.NoError(t, err, "non-dirty-log files must be left alone")
}

func TestRecovery_MissingRootIsFreshStart(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	stores := volume.NewRegistry()
	defer stores.Shutdown()
	m := &fakeMetrics{}

	fl := New(Config{CacheRoot: root}, stores, router.New(), memory.New(), m)
	require.NoError(t, fl.Start(context.Background()))
	defer fl.Stop(5 * time.Second)

	require.EqualValues(t, 0, m.recovered.Load())
	require.Equal(t, 0, fl.QueueDepth())
}

func TestRecovery_EmptyRootConfig(t *testing.T) {
	stores := volume.NewRegistry()
	defer stores.Shutdown()

	fl := New(Config{CacheRoot: ""}, stores, router.New(), memory.New(), nil)

	// No root configured means nothing to scan.
	require.Equal(t, 0, fl.recoverDirtyLogs())
}
