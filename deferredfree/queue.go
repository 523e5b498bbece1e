// Package deferredfree implements the per-tick FIFO of shadow-file byte
// ranges awaiting safe reclamation.
//
// Entries are pushed in creation-tick order and reclaimed oldest-first: a
// range freed at tick t may only be returned to the shadow free-space
// manager once the current tick exceeds t+max_lag, because a reader that
// froze its view at tick t may still be decoding an index that references
// it.
package deferredfree

// Record is one shadow-file byte range scheduled for reclamation.
type Record struct {
	Offset      uint64
	Length      uint64
	TickCreated uint64
}

// Queue is a FIFO ordered by TickCreated ascending (equivalently, by
// insertion order: entries are always pushed in non-decreasing tick
// order). It is backed by a growable slice plus a head cursor rather than
// a true doubly-linked list, per the design note that a vector-plus-cursor
// is sufficient: reverse age-based iteration from the oldest entry is the
// only access pattern required.
type Queue struct {
	records []Record
	head    int // index of the oldest live record
}

// Push schedules (offset, length) for reclamation, recording the tick it
// was created on. Callers must push in non-decreasing TickCreated order
// (guaranteed by the writer EOT engine, which only ever pushes at the
// current tick).
func (q *Queue) Push(offset, length, currentTick uint64) {
	q.records = append(q.records, Record{Offset: offset, Length: length, TickCreated: currentTick})
}

// Len returns the number of live (not yet reclaimed) records.
func (q *Queue) Len() int {
	return len(q.records) - q.head
}

// Records returns the live records in oldest-first order. The returned
// slice aliases the queue's backing array and must not be retained past
// the next mutation.
func (q *Queue) Records() []Record {
	return q.records[q.head:]
}

// ReclaimExpired walks the queue oldest-first, invoking free for every
// record whose age exceeds maxLag (i.e. currentTick > TickCreated+maxLag),
// and stops at the first record still within the window — safe because
// records are ordered by TickCreated, so no later record can have expired
// if an earlier one has not.
//
// free is called with the reclaimed record; if it returns an error,
// ReclaimExpired stops and returns that error without reclaiming the
// record (it remains live and will be retried on the next call).
func (q *Queue) ReclaimExpired(currentTick, maxLag uint64, free func(Record) error) error {
	for q.head < len(q.records) {
		rec := q.records[q.head]
		if !expired(rec.TickCreated, currentTick, maxLag) {
			break
		}

		// head only advances past records whose free succeeded, so a
		// failed record stays live and nothing is ever freed twice.
		if err := free(rec); err != nil {
			return err
		}

		q.head++
	}

	q.compact()

	return nil
}

// DrainAll unconditionally reclaims every remaining record, regardless of
// age — used only by the writer close path, which has already drained the
// page buffer's delayed-write list and no longer has any lagging readers
// to protect.
func (q *Queue) DrainAll(free func(Record) error) error {
	for ; q.head < len(q.records); q.head++ {
		if err := free(q.records[q.head]); err != nil {
			return err
		}
	}

	q.compact()

	return nil
}

func expired(tickCreated, currentTick, maxLag uint64) bool {
	return currentTick > tickCreated+maxLag
}

// compact drops the already-reclaimed prefix once it grows large relative
// to the live tail, so the backing array does not grow unbounded across a
// long-running writer session.
func (q *Queue) compact() {
	if q.head == 0 {
		return
	}

	if q.head < len(q.records)/2 {
		return
	}

	live := len(q.records) - q.head
	copy(q.records[:live], q.records[q.head:])
	q.records = q.records[:live]
	q.head = 0
}
