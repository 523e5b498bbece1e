package eot

import (
	"fmt"
	"time"

	"github.com/shadowtick/swmr/codec"
	"github.com/shadowtick/swmr/deferredfree"
	"github.com/shadowtick/swmr/internal/clock"
	"github.com/shadowtick/swmr/shadowindex"
)

// WriterShadowFile is the subset of shadowio.File the writer engine needs:
// writing entry images, the index, and the header, in that order.
type WriterShadowFile interface {
	WriteAt(p []byte, off int64) (int, error)
}

// Writer drives the writer end-of-tick state machine: orchestrates cache
// flush, index update, shadow write, reclamation, and tick advance for a
// single shadow file.
//
// Not safe for concurrent use — driven exclusively by the single
// goroutine running the process's API-entry hook. All shadow-file
// mutations are serialized through it: at most one publication per tick
// per file.
type Writer struct {
	File WriterShadowFile

	PageBuffer    PageBuffer
	MetadataCache MetadataCache
	FreeSpace     FreeSpace

	Clock clock.Clock

	PageSize uint32
	MaxLag   uint64
	TickLen  time.Duration

	// InitialIndexOffset is the byte offset within the shadow file at
	// which the empty on-disk index was written at session open (page 1).
	// The writer keeps publishing at this offset until an
	// [shadowindex.Mirror.Enlarge] forces a larger encoded index into a
	// freshly allocated shadow range.
	InitialIndexOffset uint64

	mirror          *shadowindex.Mirror
	mirrorAllocated bool
	deferred        deferredfree.Queue
	tick            uint64
	indexOffset     uint64
	indexOffsetSet  bool
}

const initialMirrorCapacity = 16

// Tick reports the writer's current tick number.
func (w *Writer) Tick() uint64 { return w.tick }

// SetTick initializes the writer's tick counter, used once at session open
// before the first EndOfTick call.
func (w *Writer) SetTick(t uint64) { w.tick = t }

// IndexOffset reports the shadow-file byte offset the writer is currently
// publishing the index at. It changes only across an index enlargement.
func (w *Writer) IndexOffset() uint64 {
	if !w.indexOffsetSet {
		return w.InitialIndexOffset
	}

	return w.indexOffset
}

// MayPublish implements the delay predicate against the writer's own
// index mirror.
func (w *Writer) MayPublish(page uint32) (uint64, error) {
	return MayPublish(w.mirror, page, w.tick, w.MaxLag)
}

// SetDelayedFlush records the tick on which republishing page becomes
// permissible. The page buffer calls this when it withholds a dirty image
// whose previous bytes must stay visible to lagging readers; MayPublish
// reports the recorded tick until it passes. Returns false if page is not
// in the index.
func (w *Writer) SetDelayedFlush(page uint32, untilTick uint64) bool {
	if w.mirror == nil {
		return false
	}

	entry, ok := w.mirror.Lookup(page)
	if !ok {
		return false
	}

	entry.DelayedFlush = untilTick

	return true
}

// EndOfTick runs one full pass of the writer EOT state machine and
// publishes a new (header, index) pair.
func (w *Writer) EndOfTick() error {
	// Step 1: flush resident caches into the page buffer.
	if err := w.PageBuffer.Flush(); err != nil {
		return fmt.Errorf("eot: writer flush page buffer: %w", err)
	}

	// Step 2: re-flush the metadata cache so entries it dirtied during
	// step 1 reach the page buffer's tick list.
	if err := w.MetadataCache.Reflush(); err != nil {
		return fmt.Errorf("eot: writer reflush metadata cache: %w", err)
	}

	// Step 3: lazily allocate the in-memory index mirror on tick 1. The
	// on-disk empty index was already written at session open; the
	// in-memory mirror is a separate piece of state.
	if !w.mirrorAllocated {
		w.mirror = shadowindex.New(initialMirrorCapacity)
		w.mirrorAllocated = true
	}

	// Step 4: drain the tick list into the mirror, growing it if full.
	tickList := w.PageBuffer.TickList()
	for _, dp := range tickList {
		if w.mirror.Full() {
			if err := w.enlargeIndex(); err != nil {
				return err
			}
		}

		if _, err := w.publishPage(dp.Page, dp.Image, uint32(len(dp.Image))); err != nil {
			return err
		}
	}

	// Step 5: the mirror stays sorted continuously during Upsert, so no
	// separate sort-merge pass is needed here; see shadowindex.Mirror.

	if bad, kind := codec.ValidateOrder(entriesOf(w.mirror)); bad != -1 {
		return raiseInvariant(invariantKindFromCodec(kind), fmt.Sprintf("mirror entry %d", bad))
	}

	// Step 7: release the tick list.
	w.PageBuffer.ReleaseTickList()

	// Encode and write the index, then the header last; the single
	// atomic-sized header write is what publishes the tick.
	idx := codec.Index{Tick: w.tick + 1, Entries: entriesOf(w.mirror)}
	encodedIdx := codec.EncodeIndex(idx)

	if _, err := w.File.WriteAt(encodedIdx, int64(w.IndexOffset())); err != nil {
		return fmt.Errorf("eot: writer write index: %w", err)
	}

	hdr := codec.Header{
		PageSize:    w.PageSize,
		Tick:        w.tick + 1,
		IndexOffset: w.IndexOffset(),
		IndexLength: uint64(len(encodedIdx)),
	}

	if _, err := w.File.WriteAt(codec.EncodeHeader(hdr), 0); err != nil {
		return fmt.Errorf("eot: writer write header: %w", err)
	}

	w.tick++

	// Step 8: reclaim expired deferred-free entries.
	if err := w.deferred.ReclaimExpired(w.tick, w.MaxLag, func(rec deferredfree.Record) error {
		return w.FreeSpace.Free(uint32(rec.Offset), uint32(rec.Length))
	}); err != nil {
		return fmt.Errorf("eot: writer reclaim deferred free: %w", err)
	}

	// Step 9: release delayed writes now due.
	w.PageBuffer.ReleaseDelayedDue(w.tick)

	// Step 10: tick has already advanced above; the caller (session/
	// eotqueue wiring) computes the next deadline and re-queues.

	return nil
}

// enlargeIndex doubles the mirror, allocates a new page-aligned shadow
// range sized for the larger encoding, and defers the old range so
// in-flight readers can finish decoding it.
func (w *Writer) enlargeIndex() error {
	oldCap := w.mirror.Enlarge()
	oldOffset := w.IndexOffset()
	oldLen := uint32(codec.EncodedLen(oldCap))

	newLen := uint32(codec.EncodedLen(w.mirror.Cap()))

	newOffset, err := w.FreeSpace.Alloc(newLen)
	if err != nil {
		return fmt.Errorf("eot: writer alloc enlarged index range: %w", err)
	}

	w.deferred.Push(oldOffset, uint64(oldLen), w.tick)

	w.indexOffset = uint64(newOffset)
	w.indexOffsetSet = true

	return nil
}

// publishPage handles one dirty page: defer-free the old shadow range if
// any, allocate a new one, checksum, and write the image.
func (w *Writer) publishPage(page uint32, image []byte, length uint32) (*shadowindex.Entry, error) {
	res := w.mirror.Upsert(page, image, length)

	if res.Replaced {
		w.deferred.Push(uint64(res.OldShadowPageOffset)*uint64(w.PageSize), uint64(res.OldLength), w.tick)
	}

	offset, err := w.FreeSpace.Alloc(length)
	if err != nil {
		return nil, fmt.Errorf("eot: writer alloc shadow range: %w", err)
	}

	res.Entry.ShadowPageOffset = offset / w.PageSize
	res.Entry.Length = length
	res.Entry.Checksum = checksumImage(image)

	if _, err := w.File.WriteAt(image, int64(offset)); err != nil {
		return nil, fmt.Errorf("eot: writer write image for page %d: %w", page, err)
	}

	res.Entry.EntryPtr = nil

	return res.Entry, nil
}

// Flush publishes an empty index and header and advances the tick.
func (w *Writer) Flush() error {
	idx := codec.Index{Tick: w.tick + 1}
	encodedIdx := codec.EncodeIndex(idx)

	if _, err := w.File.WriteAt(encodedIdx, int64(w.IndexOffset())); err != nil {
		return fmt.Errorf("eot: writer flush write empty index: %w", err)
	}

	hdr := codec.Header{
		PageSize:    w.PageSize,
		Tick:        w.tick + 1,
		IndexOffset: w.IndexOffset(),
		IndexLength: uint64(len(encodedIdx)),
	}

	if _, err := w.File.WriteAt(codec.EncodeHeader(hdr), 0); err != nil {
		return fmt.Errorf("eot: writer flush write header: %w", err)
	}

	w.tick++

	return nil
}

// DeferredFreeLen reports the number of live deferred-free entries,
// exposed for the close path and for tests.
func (w *Writer) DeferredFreeLen() int { return w.deferred.Len() }

// DrainDeferredFree unconditionally reclaims every remaining deferred-
// free entry, used only by the close path once no lagging readers remain.
func (w *Writer) DrainDeferredFree() error {
	return w.deferred.DrainAll(func(rec deferredfree.Record) error {
		return w.FreeSpace.Free(uint32(rec.Offset), uint32(rec.Length))
	})
}

func entriesOf(m *shadowindex.Mirror) []codec.Entry {
	src := m.Entries()
	out := make([]codec.Entry, len(src))

	for i, e := range src {
		out[i] = e.Entry
	}

	return out
}

func checksumImage(image []byte) uint32 {
	return codec.ComputeChecksum(image)
}

func invariantKindFromCodec(k codec.InvariantKind) InvariantKind {
	switch k {
	case codec.Duplicate:
		return Duplicate
	default:
		return SortOrder
	}
}
