package flock

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadowtick/swmr/internal/fs"
)

func TestAcquireWriterSecondAttemptIsBusy(t *testing.T) {
	fsys := fs.NewReal()
	locker := fs.NewLocker(fsys)
	path := filepath.Join(t.TempDir(), "shadow.vfd")

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	first, err := AcquireWriter(locker, fsys, path)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = AcquireWriter(locker, fsys, path)
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, first.Release())
}

func TestAcquireWriterReleaseThenReacquire(t *testing.T) {
	fsys := fs.NewReal()
	locker := fs.NewLocker(fsys)
	path := filepath.Join(t.TempDir(), "shadow.vfd")

	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	first, err := AcquireWriter(locker, fsys, path)
	require.NoError(t, err)
	require.NoError(t, first.Release())

	second, err := AcquireWriter(locker, fsys, path)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestReleaseNilIsNoop(t *testing.T) {
	var w *WriterLock
	require.NoError(t, w.Release())
}

func TestAcquireWriterDistinctPathsDoNotContend(t *testing.T) {
	fsys := fs.NewReal()
	locker := fs.NewLocker(fsys)
	dir := t.TempDir()

	pathA := filepath.Join(dir, "a.vfd")
	pathB := filepath.Join(dir, "b.vfd")
	require.NoError(t, os.WriteFile(pathA, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(pathB, []byte("b"), 0o644))

	lockA, err := AcquireWriter(locker, fsys, pathA)
	require.NoError(t, err)

	lockB, err := AcquireWriter(locker, fsys, pathB)
	require.NoError(t, err)

	require.NoError(t, lockA.Release())
	require.NoError(t, lockB.Release())
}
