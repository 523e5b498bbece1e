// Package shadowio provides thin, positioned I/O over the shadow file.
//
// It deliberately does nothing clever: no buffering, no fsync. The OS page
// cache is sufficient for correctness because readers re-read the header
// until it is self-consistent (see the reader EOT engine) rather than
// relying on durability of any single write.
package shadowio

import (
	"fmt"
	"os"

	"github.com/shadowtick/swmr/internal/fs"
)

// File is positioned I/O over an open shadow file.
type File struct {
	fsys fs.FS
	f    fs.File
	path string
}

// CreateAndSize creates (or truncates) the shadow file at path and sizes it
// to size bytes, per the writer-session lifecycle in the data model: the
// writer allocates the full md_pages_reserved·P extent up front.
func CreateAndSize(fsys fs.FS, path string, size int64) (*File, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("shadowio: create %q: %w", path, err)
	}

	if err := f.Truncate(size); err != nil {
		_ = f.Close()

		return nil, fmt.Errorf("shadowio: size %q to %d bytes: %w", path, size, err)
	}

	return &File{fsys: fsys, f: f, path: path}, nil
}

// OpenReadOnly opens an existing shadow file for reader-side access.
func OpenReadOnly(fsys fs.FS, path string) (*File, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shadowio: open %q: %w", path, err)
	}

	return &File{fsys: fsys, f: f, path: path}, nil
}

// ReadAt reads len(p) bytes starting at offset off.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.f.ReadAt(p, off)
	if err != nil {
		return n, fmt.Errorf("shadowio: read %q at %d: %w", f.path, off, err)
	}

	return n, nil
}

// WriteAt writes p at offset off.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.f.WriteAt(p, off)
	if err != nil {
		return n, fmt.Errorf("shadowio: write %q at %d: %w", f.path, off, err)
	}

	return n, nil
}

// Close closes the underlying file descriptor without unlinking the path.
func (f *File) Close() error {
	if err := f.f.Close(); err != nil {
		return fmt.Errorf("shadowio: close %q: %w", f.path, err)
	}

	return nil
}

// CloseAndUnlink closes the file and removes it from the filesystem. The
// shadow file is recreated each writer session and unlinked at close; it
// is never recovered across sessions.
func (f *File) CloseAndUnlink() error {
	closeErr := f.f.Close()

	removeErr := f.fsys.Remove(f.path)
	if removeErr != nil {
		removeErr = fmt.Errorf("shadowio: unlink %q: %w", f.path, removeErr)
	}

	if closeErr != nil {
		return fmt.Errorf("shadowio: close %q: %w", f.path, closeErr)
	}

	return removeErr
}

// Path returns the shadow file's filesystem path.
func (f *File) Path() string {
	return f.path
}
