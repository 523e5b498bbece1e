// Package session ties the codec, shadowio, shadowindex, deferredfree,
// eot, and eotqueue packages into the public Writer/Reader session API:
// [Open], [Session.EndOfTick], [Session.Flush], [Session.Close].
//
// A single, process-local [eotqueue.Queue] schedules every open session;
// [WriterMode] and [NextDeadline] expose the two derived snapshots an
// API-entry hook would consult before serving a user call.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/shadowtick/swmr/codec"
	"github.com/shadowtick/swmr/config"
	"github.com/shadowtick/swmr/eot"
	"github.com/shadowtick/swmr/eotqueue"
	"github.com/shadowtick/swmr/internal/clock"
	"github.com/shadowtick/swmr/internal/flock"
	"github.com/shadowtick/swmr/internal/fs"
	"github.com/shadowtick/swmr/shadowio"
)

// Options is re-exported from [config] so callers only need to import
// this package for the common case.
type Options = config.Options

// Collaborators bundles the external collaborators a session needs. A
// writer session needs PageBuffer, MetadataCache, and FreeSpace; a reader
// session needs ReaderPageBuffer and MetadataCache. Fields unused by the
// session's mode are ignored.
type Collaborators struct {
	PageBuffer       eot.PageBuffer
	ReaderPageBuffer eot.ReaderPageBuffer
	MetadataCache    eot.MetadataCache
	FreeSpace        eot.FreeSpace

	// FS is the filesystem abstraction the shadow file is opened
	// through; defaults to [fs.NewReal] when nil, so production callers
	// need not supply it, while tests can substitute a fake/chaos FS.
	FS fs.FS

	// Clock provides the monotonic clock and tick sleeping; defaults to
	// [clock.NewReal] when nil.
	Clock clock.Clock
}

// Session is an open writer or reader shadow-file session.
type Session struct {
	opts   Options
	fsys   fs.FS
	clk    clock.Clock
	file   *shadowio.File
	writer *eot.Writer
	reader *eot.Reader
	lock   *flock.WriterLock
	closed bool
}

var globalQueue eotqueue.Queue

// WriterMode reports whether the process-local EOT queue's head entry
// (the file with the nearest deadline) is a writer session.
func WriterMode() bool { return globalQueue.WriterMode() }

// NextDeadline reports the wall-clock deadline of the next file due for
// end-of-tick processing, and whether the queue is non-empty.
func NextDeadline() (time.Time, bool) { return globalQueue.NextDeadline() }

// Open opens a writer or reader shadow-file session per opts.
func Open(opts Options, collab Collaborators) (*Session, error) {
	if err := config.Validate(opts); err != nil {
		return nil, err
	}

	fsys := collab.FS
	if fsys == nil {
		fsys = fs.NewReal()
	}

	clk := collab.Clock
	if clk == nil {
		clk = clock.NewReal()
	}

	s := &Session{opts: opts, fsys: fsys, clk: clk}

	if opts.Writer {
		if err := s.openWriter(collab); err != nil {
			return nil, err
		}
	} else {
		if err := s.openReader(collab); err != nil {
			return nil, err
		}
	}

	s.reinsert()

	return s, nil
}

func (s *Session) openWriter(collab Collaborators) error {
	lock, err := flock.AcquireWriter(fs.NewLocker(s.fsys), s.fsys, s.opts.Path)
	if err != nil {
		return fmt.Errorf("session: acquire writer lock: %w", err)
	}

	size := int64(s.opts.MDPagesReserved) * int64(s.opts.PageSize)

	f, err := shadowio.CreateAndSize(s.fsys, s.opts.Path, size)
	if err != nil {
		_ = lock.Release()

		return fmt.Errorf("session: create shadow file: %w", err)
	}

	s.file = f
	s.lock = lock

	w := &eot.Writer{
		File:               f,
		PageBuffer:         collab.PageBuffer,
		MetadataCache:      collab.MetadataCache,
		FreeSpace:          collab.FreeSpace,
		Clock:              s.clk,
		PageSize:           s.opts.PageSize,
		MaxLag:             uint64(s.opts.MaxLag),
		TickLen:            s.opts.TickLen,
		InitialIndexOffset: uint64(s.opts.PageSize),
	}
	w.SetTick(1)
	s.writer = w

	// Lifecycle: "on open, create shadow file ... write empty
	// header+index" at tick 1 (scenario 1: tick goes 1 -> 2 across a
	// session with no dirty pages). This is a direct publish, not an
	// EndOfTick, because no tick list has been drained yet.
	if err := s.publishEmpty(1); err != nil {
		_ = s.lock.Release()

		return err
	}

	return nil
}

func (s *Session) openReader(collab Collaborators) error {
	f, err := shadowio.OpenReadOnly(s.fsys, s.opts.Path)
	if err != nil {
		return fmt.Errorf("session: open shadow file: %w", err)
	}

	s.file = f

	r := &eot.Reader{
		File:          f,
		PageBuffer:    collab.ReaderPageBuffer,
		MetadataCache: collab.MetadataCache,
	}

	hdrBuf := make([]byte, codec.HeaderSize)
	if _, err := f.ReadAt(hdrBuf, 0); err != nil {
		_ = f.Close()

		return fmt.Errorf("session: read initial header: %w", err)
	}

	hdr, err := codec.DecodeHeader(hdrBuf)
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("session: decode initial header: %w", err)
	}

	idxBuf := make([]byte, hdr.IndexLength)
	if _, err := f.ReadAt(idxBuf, int64(hdr.IndexOffset)); err != nil {
		_ = f.Close()

		return fmt.Errorf("session: read initial index: %w", err)
	}

	idx, err := codec.DecodeIndex(idxBuf)
	if err != nil {
		_ = f.Close()

		return fmt.Errorf("session: decode initial index: %w", err)
	}

	r.SetTick(hdr.Tick, idx.Entries)
	s.reader = r

	return nil
}

func (s *Session) publishEmpty(tick uint64) error {
	idx := codec.EncodeIndex(codec.Index{Tick: tick})
	if _, err := s.file.WriteAt(idx, int64(s.opts.PageSize)); err != nil {
		return fmt.Errorf("session: write initial index: %w", err)
	}

	hdr := codec.Header{
		PageSize:    s.opts.PageSize,
		Tick:        tick,
		IndexOffset: uint64(s.opts.PageSize),
		IndexLength: uint64(len(idx)),
	}
	if _, err := s.file.WriteAt(codec.EncodeHeader(hdr), 0); err != nil {
		return fmt.Errorf("session: write initial header: %w", err)
	}

	return nil
}

// EndOfTick drives the writer or reader EOT engine, per opts.Writer.
func (s *Session) EndOfTick() error {
	if s.closed {
		return errClosed
	}

	var err error
	if s.opts.Writer {
		err = s.writer.EndOfTick()
	} else {
		_, err = s.reader.EndOfTick()
	}

	if err != nil {
		return err
	}

	s.reinsert()

	return nil
}

// Flush publishes an empty index and header and advances the tick.
// Writer sessions only.
func (s *Session) Flush() error {
	if s.closed {
		return errClosed
	}

	if !s.opts.Writer {
		return fmt.Errorf("session: Flush is writer-only")
	}

	if err := s.writer.Flush(); err != nil {
		return err
	}

	s.reinsert()

	return nil
}

// Close runs the close protocol for the session's mode and removes the
// session from the global EOT queue. A writer drains its delayed writes
// tick by tick, publishes a final empty index, and unlinks the shadow
// file; a reader just closes its handle.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true
	globalQueue.Remove(s)

	if !s.opts.Writer {
		return s.file.Close()
	}

	return s.closeWriter()
}

func (s *Session) closeWriter() error {
	// Force an end-of-tick to drain the current tick list.
	if err := s.writer.EndOfTick(); err != nil {
		return fmt.Errorf("session: close drain EOT: %w", err)
	}

	// Repeatedly wait one tick length and run a full EOT until the page
	// buffer's delayed-write list is empty.
	for s.writer.PageBuffer.HasPendingWork() {
		s.clk.Sleep(s.opts.TickLen)

		if err := s.writer.EndOfTick(); err != nil {
			return fmt.Errorf("session: close drain loop EOT: %w", err)
		}
	}

	// Publish empty index+header at the tick the drain EOTs reached,
	// without advancing it again.
	tick, off := s.writer.Tick(), s.writer.IndexOffset()
	emptyIdx := codec.EncodeIndex(codec.Index{Tick: tick})
	if _, err := s.file.WriteAt(emptyIdx, int64(off)); err != nil {
		return fmt.Errorf("session: close write empty index: %w", err)
	}
	hdr := codec.Header{PageSize: s.opts.PageSize, Tick: tick, IndexOffset: off, IndexLength: uint64(len(emptyIdx))}
	if _, err := s.file.WriteAt(codec.EncodeHeader(hdr), 0); err != nil {
		return fmt.Errorf("session: close write empty header: %w", err)
	}

	if err := s.writer.DrainDeferredFree(); err != nil {
		return fmt.Errorf("session: close drain deferred free: %w", err)
	}

	closeErr := s.file.CloseAndUnlink()
	lockErr := s.lock.Release()

	if closeErr != nil {
		return fmt.Errorf("session: close and unlink shadow file: %w", closeErr)
	}

	if lockErr != nil {
		return fmt.Errorf("session: release writer lock: %w", lockErr)
	}

	return nil
}

// Inspect reports a reader session's locally adopted tick and index
// entries, for read-only introspection tools (cmd/shadowtickctl).
// Reader sessions only.
func (s *Session) Inspect() (tick uint64, entries []codec.Entry, err error) {
	if s.opts.Writer {
		return 0, nil, fmt.Errorf("session: Inspect is reader-only")
	}

	return s.reader.Tick(), s.reader.Entries(), nil
}

func (s *Session) reinsert() {
	globalQueue.Remove(s)

	var tick uint64
	if s.opts.Writer {
		tick = s.writer.Tick()
	} else {
		tick = s.reader.Tick()
	}

	globalQueue.Insert(eotqueue.Entry{
		File:     s,
		IsWriter: s.opts.Writer,
		Tick:     tick,
		Deadline: s.clk.Now().Add(s.opts.TickLen),
	})
}

var errClosed = errors.New("session: use of closed session")
