// Package eot implements the writer and reader end-of-tick state
// machines and the delay predicate that gives the shadow-file
// coordination protocol its safety property: a reader never dereferences
// shadow-file bytes the writer has reused for something else.
//
// The page buffer, metadata cache, and shadow free-space manager are
// external collaborators, out of scope for this engine; this file
// defines the minimal contracts the writer and reader engines need from
// them. [github.com/shadowtick/swmr/internal/pagebuffer],
// [github.com/shadowtick/swmr/internal/mdcache], and
// [github.com/shadowtick/swmr/internal/freespace] provide fakes that
// satisfy these contracts well enough to drive the engines end to end in
// tests — they are not the real collaborators.
package eot

import "github.com/shadowtick/swmr/internal/pagebuffer"

// PageBuffer is the writer-side contract for the dirty-page tick list and
// delayed-write list.
type PageBuffer interface {
	Flush() error
	TickList() []pagebuffer.DirtyPage
	ReleaseTickList()
	ReleaseDelayedDue(currentTick uint64) int
	HasPendingWork() bool
}

// ReaderPageBuffer is the reader-side contract: eviction of page-buffer
// entries for changed or removed data-file pages.
type ReaderPageBuffer interface {
	Evict(page uint32)
}

// MetadataCache is the contract shared by the writer (Reflush) and the
// reader (EvictOrRefresh).
type MetadataCache interface {
	Reflush() error
	EvictOrRefresh(page uint32) error
}

// FreeSpace is the shadow free-space manager contract: page-aligned
// alloc/free of shadow-file byte ranges.
type FreeSpace interface {
	Alloc(length uint32) (uint32, error)
	Free(offset, length uint32) error
}
