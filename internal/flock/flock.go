// Package flock provides the advisory interprocess lock that keeps a
// second writer process from ever attaching to the same shadow file.
//
// The shadow-file coordination protocol itself does not require this —
// correctness comes from the header/index publication order and the
// reader's retry-on-checksum loop — but the protocol assumes exactly one
// writer per file, and an advisory lock file plus an in-process registry
// is what enforces that assumption.
package flock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/shadowtick/swmr/internal/fs"
)

// ErrBusy indicates another writer session already holds the lock.
var ErrBusy = errors.New("flock: busy")

// WriterLock is a held, process-exclusive writer lock on a shadow file.
// Call [WriterLock.Release] exactly once when the writer session closes.
type WriterLock struct {
	lock *fs.Lock
	id   fileIdentity
}

// fileIdentity uniquely identifies a file by device and inode, so that
// multiple paths resolving to the same file (symlinks, bind mounts) still
// share one in-process registry entry.
type fileIdentity struct {
	dev uint64
	ino uint64
}

// registryEntry tracks per-file writer-exclusivity state shared across all
// writer-session handles backed by the same shadow file within one
// process. flock(2) is per-process: two handles in the same process would
// otherwise both succeed in acquiring a process-exclusive OS lock.
type registryEntry struct {
	mu        sync.Mutex
	hasWriter bool
	openCount atomic.Int32
}

var registry sync.Map // map[fileIdentity]*registryEntry

// AcquireWriter acquires the process-exclusive writer lock for path,
// creating a lock file at path+".lock". Returns [ErrBusy] if another
// writer session (in this process or another) already holds it.
func AcquireWriter(locker *fs.Locker, fsys fs.FS, path string) (*WriterLock, error) {
	lockPath := path + ".lock"

	id, err := identify(fsys, path)
	if err != nil {
		return nil, err
	}

	entry := getOrCreateEntry(id)

	entry.mu.Lock()
	if entry.hasWriter {
		entry.mu.Unlock()
		releaseEntry(id)

		return nil, ErrBusy
	}

	osLock, err := locker.TryLock(lockPath)
	if err != nil {
		entry.mu.Unlock()
		releaseEntry(id)

		if errors.Is(err, fs.ErrWouldBlock) {
			return nil, ErrBusy
		}

		return nil, fmt.Errorf("flock: acquire %q: %w", lockPath, err)
	}

	entry.hasWriter = true
	entry.mu.Unlock()

	return &WriterLock{lock: osLock, id: id}, nil
}

// Release releases the writer lock. Safe to call on a nil *WriterLock.
func (w *WriterLock) Release() error {
	if w == nil {
		return nil
	}

	entry, ok := registry.Load(w.id)
	if ok {
		e := entry.(*registryEntry)
		e.mu.Lock()
		e.hasWriter = false
		e.mu.Unlock()
	}

	releaseEntry(w.id)

	if w.lock == nil {
		return nil
	}

	return w.lock.Close()
}

// identify resolves path to a (dev, inode) pair, the same identity
// [fs.Locker] verifies against after acquiring flock(2) (see
// Locker.inodeMatchesPath). The lock *file* (path+".lock") is what gets
// flock'd, but the in-process registry keys on the shadow file's own
// identity so that distinct paths hard-linked or bind-mounted to the same
// shadow file still share one entry.
//
// If the shadow file does not exist yet (a writer creating it for the
// first time), a hash of the path string stands in for its identity; the
// registry entry keeps that key for the lock's lifetime and is not
// re-keyed once the file exists.
func identify(fsys fs.FS, path string) (fileIdentity, error) {
	exists, err := fsys.Exists(path)
	if err != nil {
		return fileIdentity{}, fmt.Errorf("flock: stat %q: %w", path, err)
	}

	if !exists {
		return fileIdentity{dev: 0, ino: pathFallbackIno(path)}, nil
	}

	info, err := fsys.Stat(path)
	if err != nil {
		return fileIdentity{}, fmt.Errorf("flock: stat %q: %w", path, err)
	}

	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok || sys == nil {
		return fileIdentity{}, fmt.Errorf("flock: stat %q: unsupported Sys() type %T", path, info.Sys())
	}

	return fileIdentity{dev: uint64(sys.Dev), ino: sys.Ino}, nil
}

// pathFallbackIno derives a stable, non-inode identity from the path
// string alone, used only before the shadow file exists on disk.
func pathFallbackIno(path string) uint64 {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis

	for i := 0; i < len(path); i++ {
		h ^= uint64(path[i])
		h *= 1099511628211 // FNV-1a prime
	}

	return h
}

func getOrCreateEntry(id fileIdentity) *registryEntry {
	for {
		if val, ok := registry.Load(id); ok {
			entry := val.(*registryEntry)

			for {
				old := entry.openCount.Load()
				if old <= 0 {
					break
				}

				if entry.openCount.CompareAndSwap(old, old+1) {
					return entry
				}
			}
		}

		entry := &registryEntry{}
		entry.openCount.Store(1)

		if _, loaded := registry.LoadOrStore(id, entry); !loaded {
			return entry
		}
	}
}

func releaseEntry(id fileIdentity) {
	val, ok := registry.Load(id)
	if !ok {
		return
	}

	entry := val.(*registryEntry)
	if entry.openCount.Add(-1) <= 0 {
		registry.CompareAndDelete(id, entry)
	}
}
