// Package shadowindex provides the writer's in-memory mirror of the
// published shadow index: a dense, sorted array with reserved trailing
// capacity so that additions mid-tick do not immediately force a grow.
package shadowindex

import (
	"sort"

	"github.com/shadowtick/swmr/codec"
)

// Entry is one writer-side slot of the mirror. EntryPtr borrows the
// page-buffer-owned image bytes for the duration of a single EOT call; it
// must never be retained across tick boundaries (design note: "pointer-
// into-array index entries").
type Entry struct {
	codec.Entry

	// EntryPtr is a transient borrow of the pending image, valid only
	// within the EOT call that set it. Nil once the image has been
	// written and the entry has settled for the tick.
	EntryPtr []byte

	// DelayedFlush is the tick on which republishing this page becomes
	// permissible again, used by the delay predicate.
	DelayedFlush uint64
}

// Mirror is the writer's dense, growable index. Slots
// [0, Used) are populated; slots [Used, len(entries)) are reserved so an
// upsert mid-tick does not force an immediate grow.
type Mirror struct {
	entries []Entry
	used    int
}

// New allocates a mirror with the given initial reserved capacity.
func New(initialCapacity int) *Mirror {
	return &Mirror{entries: make([]Entry, initialCapacity)}
}

// Len returns the number of populated slots.
func (m *Mirror) Len() int { return m.used }

// Cap returns the number of reserved slots, populated or not.
func (m *Mirror) Cap() int { return len(m.entries) }

// Full reports whether every reserved slot is populated; the writer EOT
// engine must call [Mirror.Enlarge] before the next [Mirror.Upsert] when
// this is true.
func (m *Mirror) Full() bool { return m.used == len(m.entries) }

// Entries returns the populated slots in sorted order. The returned slice
// aliases the mirror's backing array and must not be retained past the
// next mutation.
func (m *Mirror) Entries() []Entry { return m.entries[:m.used] }

// Lookup performs a binary search by DataPageOffset.
func (m *Mirror) Lookup(page uint32) (*Entry, bool) {
	entries := m.entries[:m.used]

	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].DataPageOffset >= page
	})

	if i < len(entries) && entries[i].DataPageOffset == page {
		return &m.entries[i], true
	}

	return nil, false
}

// UpsertResult reports what an [Mirror.Upsert] call did, so the writer EOT
// engine knows whether an old shadow range must be scheduled for deferred
// free before the replacement image is published.
type UpsertResult struct {
	Entry *Entry

	// Replaced is true if an existing entry for this page was overwritten.
	Replaced bool

	// OldShadowPageOffset/OldLength describe the range the caller must
	// defer-free, valid only when Replaced is true.
	OldShadowPageOffset uint32
	OldLength           uint32
}

// Upsert inserts a new entry for page at its sorted position, or updates
// the existing one in place. The caller must ensure [Mirror.Full] is false
// before calling, i.e. call [Mirror.Enlarge] first when needed.
//
// EntryPtr/image and length are set on the returned entry; ShadowPageOffset
// and Checksum are left at zero for the caller to fill in once a shadow
// range has been allocated.
func (m *Mirror) Upsert(page uint32, image []byte, length uint32) UpsertResult {
	entries := m.entries[:m.used]

	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].DataPageOffset >= page
	})

	if i < len(entries) && entries[i].DataPageOffset == page {
		old := entries[i]
		entries[i].EntryPtr = image
		entries[i].Length = length
		entries[i].ShadowPageOffset = 0
		entries[i].Checksum = 0

		return UpsertResult{
			Entry:               &m.entries[i],
			Replaced:            true,
			OldShadowPageOffset: old.ShadowPageOffset,
			OldLength:           old.Length,
		}
	}

	// Insert at position i, shifting the tail right within reserved capacity.
	copy(m.entries[i+1:m.used+1], m.entries[i:m.used])
	m.entries[i] = Entry{
		Entry: codec.Entry{
			DataPageOffset: page,
			Length:         length,
		},
		EntryPtr: image,
	}
	m.used++

	return UpsertResult{Entry: &m.entries[i]}
}

// Enlarge doubles the reserved capacity (saturating rather than
// overflowing uint32 bounds downstream), copying every reserved slot —
// not just the populated ones, because an upsert in progress may have
// written beyond Used within the same tick.
//
// It returns the prior capacity so the caller can size and schedule the
// old encoded-index shadow range for deferred free.
func (m *Mirror) Enlarge() (oldCapacity int) {
	oldCapacity = len(m.entries)

	newCap := oldCapacity * 2
	if newCap == 0 {
		newCap = 1
	}

	const maxCap = int(^uint32(0))
	if newCap > maxCap {
		newCap = maxCap
	}

	grown := make([]Entry, newCap)
	copy(grown, m.entries)
	m.entries = grown

	return oldCapacity
}
