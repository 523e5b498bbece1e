// Package fs provides the filesystem abstraction the shadow-file engine is
// built on, backed in production by [Real] and, in tests, by [Chaos]
// (random fault injection) and [StrictTestFS] (fail-fast on any
// non-injected error).
//
// The surface is deliberately narrow: the shadow-file protocol never
// streams, lists directories, or renames. A writer session creates one
// file sized to its reserved page count and does positioned reads/writes
// against fixed byte ranges for the rest of its life (see the shadowio
// and eot packages). [FS] only carries what that lifecycle needs: opening
// the shadow file and its ".lock" sibling, checking for the shadow file
// at writer open and removing it at close, and the lazy directory
// creation a lock file's first
// writer may need.
//
// Example usage:
//
//	fsys := fs.NewReal()
//	f, err := fsys.OpenFile("shadow.md", os.O_RDWR|os.O_CREATE, 0o644)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
package fs

import (
	"io"
	"os"
)

// File represents an open shadow file descriptor.
//
// This interface is satisfied by [os.File].
type File interface {
	// Embedded interfaces from [io] package.
	// These provide Read, Write, Close, and Seek methods.
	io.ReadWriteCloser
	io.Seeker

	// ReaderAt/WriterAt provide positioned I/O that does not disturb the
	// file's current seek offset. See [os.File.ReadAt]/[os.File.WriteAt].
	// Used for the shadow-file header/index/image layout, where writers and
	// readers address fixed byte ranges rather than streaming sequentially.
	io.ReaderAt
	io.WriterAt

	// Fd returns the file descriptor. See [os.File.Fd].
	// Used by [Locker] for flock(2).
	Fd() uintptr

	// Stat returns the [os.FileInfo] for this file. See [os.File.Stat].
	// Used by [Locker] to verify a lock file's inode still matches its path.
	Stat() (os.FileInfo, error)

	// Sync commits the file's contents to disk. See [os.File.Sync].
	Sync() error

	// Truncate changes the file size. See [os.File.Truncate].
	// Used to size a freshly created shadow file to its reserved page count.
	Truncate(size int64) error
}

// FS defines the filesystem operations the shadow-file engine drives.
//
// Two implementations are provided:
//   - [Real]: production use, wraps [os] package
//   - [Chaos]: testing use, injects random failures
type FS interface {
	// Open opens a file for reading. See [os.Open].
	// The reader session uses this to attach to an existing shadow file.
	Open(path string) (File, error)

	// OpenFile opens a file with specified flags and permissions. See
	// [os.OpenFile]. The writer session uses this to create-and-size the
	// shadow file (O_RDWR|O_CREATE|O_TRUNC) and [Locker] uses it to open
	// (and lazily create) the ".lock" sibling file.
	OpenFile(path string, flag int, perm os.FileMode) (File, error)

	// Stat returns file info. See [os.Stat].
	// Returns [os.ErrNotExist] if file doesn't exist. Used by [Locker] to
	// confirm a lock file's identity and by the writer-exclusivity
	// registry to identify the shadow file by (dev, inode).
	Stat(path string) (os.FileInfo, error)

	// Exists reports whether a file or directory exists.
	// Returns (false, nil) if not found, (false, err) on other errors.
	Exists(path string) (bool, error)

	// Remove deletes a file. See [os.Remove]. Used to unlink the shadow
	// file when a writer session closes.
	Remove(path string) error

	// MkdirAll creates a directory and all parents. See [os.MkdirAll].
	// No error if the directory already exists. Used by [Locker] to
	// lazily create a lock file's parent directory the first time a
	// writer attaches to a shadow path whose directory doesn't exist yet.
	MkdirAll(path string, perm os.FileMode) error
}

// Compile-time interface checks.
var _ File = (*os.File)(nil)
