package eot

import (
	"errors"
	"fmt"

	"github.com/shadowtick/swmr/codec"
)

// ReaderShadowFile is the subset of shadowio.File the reader engine needs:
// reading the header and the index block it references.
type ReaderShadowFile interface {
	ReadAt(p []byte, off int64) (int, error)
}

// DiffKind classifies what happened to a data-file page between the
// reader's previous index and the newly adopted one.
type DiffKind int

const (
	// Unchanged: same key, same ShadowPageOffset. No action needed, and
	// never reported by EndOfTick.
	Unchanged DiffKind = iota
	// Changed: same key, different ShadowPageOffset.
	Changed
	// Removed: key present only in the old index.
	Removed
	// Added: key present only in the new index — no action needed, the
	// reader will fault it in lazily.
	Added
)

// PageDiff is one page-level difference between the reader's old and new
// index.
type PageDiff struct {
	Page uint32
	Kind DiffKind
}

// Reader drives the reader end-of-tick state machine: polls the shadow
// header, diffs the old and new index, and drives page-buffer and
// metadata-cache invalidation.
//
// Not safe for concurrent use — driven exclusively by the single
// goroutine running the process's API-entry hook.
type Reader struct {
	File ReaderShadowFile

	PageBuffer    ReaderPageBuffer
	MetadataCache MetadataCache

	// MaxRetries bounds how many times EndOfTick will re-read the header
	// and index when it observes the writer mid-publication. Zero means
	// use a built-in default.
	MaxRetries int

	tick    uint64
	current []codec.Entry
	prev    []codec.Entry

	// hdrBuf and idxBuf are reused across ticks instead of allocated per
	// call; idxBuf grows (never shrinks) to the largest index block seen.
	hdrBuf []byte
	idxBuf []byte

	// indexBufs holds the two backing arrays current/prev ping-pong
	// between: decoding a tick's index
	// into whichever array isn't aliased by current reuses that array's
	// capacity instead of allocating a fresh one, once both have grown to
	// the steady-state entry count. active is the indexBufs slot r.current
	// currently aliases.
	indexBufs [2][]codec.Entry
	active    int
}

const defaultReaderMaxRetries = 8

// Tick reports the reader's locally adopted tick.
func (r *Reader) Tick() uint64 { return r.tick }

// Entries returns the reader's currently adopted index entries, for
// introspection callers (cmd/shadowtickctl) that need to display state
// without driving another EndOfTick.
func (r *Reader) Entries() []codec.Entry { return r.current }

// SetTick initializes the reader's local tick and index at session open
// from the header and index block read during the open.
func (r *Reader) SetTick(t uint64, entries []codec.Entry) {
	r.tick = t
	r.active = 0
	r.indexBufs[0] = append(r.indexBufs[0][:0], entries...)
	r.indexBufs[1] = r.indexBufs[1][:0]
	r.current = r.indexBufs[0]
	r.prev = nil
}

// EndOfTick runs one pass of the reader EOT state machine. It
// returns the computed page diffs (for callers/tests that want to observe
// them) even though the engine itself has already driven invalidation.
func (r *Reader) EndOfTick() ([]PageDiff, error) {
	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultReaderMaxRetries
	}

	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		diffs, changed, err := r.tryEndOfTick()
		if err == nil {
			if !changed {
				return nil, nil
			}

			return diffs, nil
		}

		var decErr *codec.DecodeError
		if !errors.As(err, &decErr) {
			return nil, err
		}

		lastErr = err
	}

	return nil, fmt.Errorf("eot: reader: %w: %v", ErrRetriesExhausted, lastErr)
}

// tryEndOfTick performs one read-and-diff attempt. changed is false when
// the header's tick matches the reader's local tick; in that case
// EndOfTick must not touch the page buffer or cache.
func (r *Reader) tryEndOfTick() (diffs []PageDiff, changed bool, err error) {
	// Step 1: read the shadow header into a reused buffer — the header is
	// fixed-size, so one allocation for the Reader's lifetime covers every
	// tick.
	if cap(r.hdrBuf) < codec.HeaderSize {
		r.hdrBuf = make([]byte, codec.HeaderSize)
	}
	hdrBuf := r.hdrBuf[:codec.HeaderSize]

	if _, err := r.File.ReadAt(hdrBuf, 0); err != nil {
		return nil, false, fmt.Errorf("eot: reader read header: %w", err)
	}

	hdr, err := codec.DecodeHeader(hdrBuf)
	if err != nil {
		return nil, false, err
	}

	// Step 2: no-op if the tick is unchanged.
	if hdr.Tick == r.tick {
		return nil, false, nil
	}

	// Step 3: swap the ping-pong index roles — "prev" becomes whatever
	// "current" held before this read, and the new index is decoded into
	// the *other* ping-pong slot so it never aliases oldIndex.
	oldIndex := r.current
	nextSlot := 1 - r.active

	// Step 4: read the index block the header names into a reused byte
	// buffer, growing it only when a larger index has been published.
	idxLen := int(hdr.IndexLength)
	if cap(r.idxBuf) < idxLen {
		r.idxBuf = make([]byte, idxLen)
	}
	idxBuf := r.idxBuf[:idxLen]

	if _, err := r.File.ReadAt(idxBuf, int64(hdr.IndexOffset)); err != nil {
		return nil, false, fmt.Errorf("eot: reader read index: %w", err)
	}

	idx, err := codec.DecodeIndexInto(idxBuf, r.indexBufs[nextSlot])
	if err != nil {
		return nil, false, err
	}

	if idx.Tick != hdr.Tick {
		return nil, false, &codec.DecodeError{Kind: codec.Truncated, Detail: "index tick does not match header tick; writer raced ahead"}
	}

	// idx.Entries may have outgrown the slot's old backing array; keep the
	// (possibly reallocated) array as the slot going forward.
	r.indexBufs[nextSlot] = idx.Entries

	// Step 5: diff old vs. new by a linear merge over both sorted arrays.
	diffs = diffIndices(oldIndex, idx.Entries)

	// Step 6: evict the page buffer for every changed or removed page.
	for _, d := range diffs {
		if d.Kind == Changed || d.Kind == Removed {
			r.PageBuffer.Evict(d.Page)
		}
	}

	// Step 7: in a separate pass after step 6 completes, evict-or-refresh
	// the metadata cache — its refresh path may read through the page
	// buffer, which must already reflect the new tick.
	for _, d := range diffs {
		if d.Kind == Changed || d.Kind == Removed {
			if err := r.MetadataCache.EvictOrRefresh(d.Page); err != nil {
				return nil, false, fmt.Errorf("eot: reader evict-or-refresh page %d: %w", d.Page, err)
			}
		}
	}

	// Step 8: adopt the new tick and index.
	r.prev = oldIndex
	r.current = idx.Entries
	r.active = nextSlot
	r.tick = hdr.Tick

	return diffs, true, nil
}

// diffIndices computes the symmetric difference between old and new,
// both assumed sorted ascending by DataPageOffset with unique keys, by a
// single linear merge.
func diffIndices(old, newIdx []codec.Entry) []PageDiff {
	var diffs []PageDiff

	i, j := 0, 0
	for i < len(old) && j < len(newIdx) {
		a, b := old[i], newIdx[j]

		switch {
		case a.DataPageOffset < b.DataPageOffset:
			diffs = append(diffs, PageDiff{Page: a.DataPageOffset, Kind: Removed})
			i++
		case a.DataPageOffset > b.DataPageOffset:
			diffs = append(diffs, PageDiff{Page: b.DataPageOffset, Kind: Added})
			j++
		default:
			if a.ShadowPageOffset != b.ShadowPageOffset {
				diffs = append(diffs, PageDiff{Page: a.DataPageOffset, Kind: Changed})
			}

			i++
			j++
		}
	}

	for ; i < len(old); i++ {
		diffs = append(diffs, PageDiff{Page: old[i].DataPageOffset, Kind: Removed})
	}

	for ; j < len(newIdx); j++ {
		diffs = append(diffs, PageDiff{Page: newIdx[j].DataPageOffset, Kind: Added})
	}

	return diffs
}
