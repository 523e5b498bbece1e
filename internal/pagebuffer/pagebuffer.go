// Package pagebuffer is a stand-in for the page buffer, an external
// collaborator per the coordination core's scope: it owns the dirty-page
// tick list the writer EOT engine drains each tick, and the delayed-write
// list the engine releases pages from once their due tick has passed.
//
// This is not a real page buffer — there is no backing data file, no
// actual page cache — but its tick-list/delayed-write bookkeeping is
// real enough to drive the eot package's writer and reader engines
// end to end in tests.
package pagebuffer

// DirtyPage is one entry in the tick list: a metadata page that has been
// rewritten in memory and is ready to be published to the shadow file.
type DirtyPage struct {
	Page  uint32
	Image []byte
}

// delayedWrite is a page whose dirty image is known but withheld until
// DueTick, per the delay predicate (see eot.MayPublish).
type delayedWrite struct {
	page    DirtyPage
	dueTick uint64
}

// Buffer tracks dirty metadata pages awaiting publication and metadata
// pages whose publication has been deferred by the delay predicate.
//
// Not safe for concurrent use; driven exclusively by the single
// goroutine running the writer EOT engine.
type Buffer struct {
	tickList  []DirtyPage
	delayed   []delayedWrite
	flushed   int      // number of Flush calls observed, for test assertions
	evictions []uint32 // pages the reader engine has asked to be evicted
}

// New returns an empty page buffer.
func New() *Buffer {
	return &Buffer{}
}

// Dirty marks page as dirty with the given image, ready for immediate
// publication on the next tick list drain.
func (b *Buffer) Dirty(page uint32, image []byte) {
	b.tickList = append(b.tickList, DirtyPage{Page: page, Image: image})
}

// DirtyDelayed marks page as dirty but withheld until dueTick, as
// required by a non-zero return from the delay predicate.
func (b *Buffer) DirtyDelayed(page uint32, image []byte, dueTick uint64) {
	b.delayed = append(b.delayed, delayedWrite{page: DirtyPage{Page: page, Image: image}, dueTick: dueTick})
}

// Flush represents step 1 of the writer EOT engine: flushing resident
// caches (dataset cache, free-space aggregators) into the page buffer.
// The fake has no such caches, so this only records that the call
// occurred.
func (b *Buffer) Flush() error {
	b.flushed++

	return nil
}

// FlushCount reports how many times Flush has been called, for tests
// asserting the engine performs step 1 exactly once per tick.
func (b *Buffer) FlushCount() int {
	return b.flushed
}

// TickList returns the current dirty-page tick list. The engine must
// call ReleaseTickList once it has drained these into the shadow index.
func (b *Buffer) TickList() []DirtyPage {
	return b.tickList
}

// ReleaseTickList clears the tick list after the writer engine has
// consumed it.
func (b *Buffer) ReleaseTickList() {
	b.tickList = nil
}

// ReleaseDelayedDue moves every delayed write whose due tick is now
// <= currentTick onto the tick list, returning how many
// were released.
func (b *Buffer) ReleaseDelayedDue(currentTick uint64) int {
	remaining := b.delayed[:0]
	released := 0

	for _, dw := range b.delayed {
		if dw.dueTick <= currentTick {
			b.tickList = append(b.tickList, dw.page)
			released++

			continue
		}

		remaining = append(remaining, dw)
	}

	b.delayed = remaining

	return released
}

// HasPendingDelayed reports whether any delayed write remains, used by
// the writer close path to decide whether another drain tick is needed.
func (b *Buffer) HasPendingDelayed() bool {
	return len(b.delayed) > 0
}

// HasPendingWork reports whether there is anything left for the writer
// EOT engine to drain: either an unconsumed tick list (pages released
// from the delayed list by a prior tick but not yet upserted) or a
// still-withheld delayed write. The close path loops on this rather than
// on HasPendingDelayed alone, since a delayed write becoming due and a
// tick list being drained happen in different steps of the same EOT call.
func (b *Buffer) HasPendingWork() bool {
	return len(b.tickList) > 0 || len(b.delayed) > 0
}

// Evict records that page was invalidated by the reader EOT engine.
// The fake has no cached content to discard, so this is
// observation-only; it is exercised by reader-path tests asserting the
// expected eviction set.
func (b *Buffer) Evict(page uint32) {
	b.evictions = append(b.evictions, page)
}

// Evicted returns every page passed to Evict, in call order.
func (b *Buffer) Evicted() []uint32 {
	return b.evictions
}
