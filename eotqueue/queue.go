// Package eotqueue implements the global, process-local priority queue of
// open shadow-coordinated files ordered by next-EOT deadline.
//
// There is one queue per process. It is the only point of contact between
// the surrounding API-entry hook (cooperative scheduling: "should I run an
// end-of-tick before serving this call?") and the writer/reader EOT
// engines. Insertion uses a rightmost-predecessor scan rather than a heap:
// O(n) worst case, but ordering stays stable for deadline ties, and the
// number of open files per process is small.
package eotqueue

import "time"

// FileHandle identifies a file participating in EOT scheduling. Any
// comparable value naming a session works; [session.Session] values use
// their own address.
type FileHandle any

// Entry is one scheduled file, ordered globally by Deadline ascending.
type Entry struct {
	File     FileHandle
	IsWriter bool
	Tick     uint64
	Deadline time.Time
}

// Queue is a single global, process-local EOT schedule.
//
// Queue is not safe for concurrent use: callers must only drive it from
// the single goroutine that owns the process's API-entry hook, matching
// the "no shared in-process mutexes between writer and readers" model of
// the concurrency design (mutexes are unnecessary because there is only
// ever one driving goroutine per process).
type Queue struct {
	entries []Entry
}

// Insert adds e to the queue, finding the rightmost predecessor whose
// Deadline is <= e.Deadline and inserting immediately after it. This gives
// O(n) worst-case insertion but preserves arrival order among ties.
func (q *Queue) Insert(e Entry) {
	i := len(q.entries)
	for i > 0 && q.entries[i-1].Deadline.After(e.Deadline) {
		i--
	}

	q.entries = append(q.entries, Entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

// Remove removes the first entry whose File equals file, if present.
func (q *Queue) Remove(file FileHandle) (removed Entry, ok bool) {
	for i, e := range q.entries {
		if e.File == file {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)

			return e, true
		}
	}

	return Entry{}, false
}

// PeekHead returns the entry with the earliest deadline without removing
// it.
func (q *Queue) PeekHead() (Entry, bool) {
	if len(q.entries) == 0 {
		return Entry{}, false
	}

	return q.entries[0], true
}

// Len reports how many files are currently scheduled.
func (q *Queue) Len() int { return len(q.entries) }

// WriterMode reports whether the head entry (the next file due for EOT)
// is a writer session.
func (q *Queue) WriterMode() bool {
	head, ok := q.PeekHead()

	return ok && head.IsWriter
}

// NextDeadline returns the wall-clock deadline of the head entry. The
// second return value is false when the queue is empty.
func (q *Queue) NextDeadline() (time.Time, bool) {
	head, ok := q.PeekHead()
	if !ok {
		return time.Time{}, false
	}

	return head.Deadline, true
}
