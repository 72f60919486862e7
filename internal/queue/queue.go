// Package queue implements the bounded per-recipient priority queue.
package queue

import (
	"sort"
	"time"

	"github.com/bft-labs/notibatch/internal/domain"
)

// PriorityQueue holds pending messages for one recipient, ordered by priority
// descending and, within a priority level, by insertion order.
// It is not safe for concurrent use; the owning recipient serializes access.
type PriorityQueue struct {
	entries  []domain.QueueEntry
	capacity int
	now      func() time.Time
}

// New creates an empty queue bounded to capacity entries.
func New(capacity int) *PriorityQueue {
	return &PriorityQueue{
		entries:  make([]domain.QueueEntry, 0, min(max(capacity, 0), 64)),
		capacity: capacity,
		now:      time.Now,
	}
}

// Enqueue inserts msg at the given priority.
// Returns false without inserting if the queue is at capacity.
func (q *PriorityQueue) Enqueue(msg domain.Message, priority int) bool {
	if len(q.entries) >= q.capacity {
		return false
	}

	// First index whose priority is strictly lower: equal priorities stay FIFO.
	i := sort.Search(len(q.entries), func(i int) bool {
		return q.entries[i].Priority < priority
	})

	q.entries = append(q.entries, domain.QueueEntry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = domain.QueueEntry{
		Message:    msg,
		Priority:   priority,
		InsertedAt: q.now(),
	}
	return true
}

// DequeueHighest removes and returns the front entry.
func (q *PriorityQueue) DequeueHighest() (domain.Message, bool) {
	if len(q.entries) == 0 {
		return domain.Message{}, false
	}
	msg := q.entries[0].Message
	q.entries[0] = domain.QueueEntry{}
	q.entries = q.entries[1:]
	return msg, true
}

// PeekHighest returns the front entry without removing it.
func (q *PriorityQueue) PeekHighest() (domain.Message, bool) {
	if len(q.entries) == 0 {
		return domain.Message{}, false
	}
	return q.entries[0].Message, true
}

// ExtractBatch removes and returns up to max entries from the front, in order.
// A non-positive max extracts everything.
func (q *PriorityQueue) ExtractBatch(max int) []domain.Message {
	n := len(q.entries)
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	batch := make([]domain.Message, n)
	for i := 0; i < n; i++ {
		batch[i] = q.entries[i].Message
	}

	rest := len(q.entries) - n
	copy(q.entries, q.entries[n:])
	clear(q.entries[rest:])
	q.entries = q.entries[:rest]
	return batch
}

// EvictStale removes entries inserted more than maxAge before now and
// returns how many were removed.
func (q *PriorityQueue) EvictStale(maxAge time.Duration) int {
	cutoff := q.now().Add(-maxAge)
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.InsertedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}
	evicted := len(q.entries) - len(kept)
	clear(q.entries[len(kept):])
	q.entries = kept
	return evicted
}

// Oldest returns the earliest insertion time, or the zero time when empty.
func (q *PriorityQueue) Oldest() time.Time {
	var oldest time.Time
	for _, e := range q.entries {
		if oldest.IsZero() || e.InsertedAt.Before(oldest) {
			oldest = e.InsertedAt
		}
	}
	return oldest
}

// Len returns the number of queued entries.
func (q *PriorityQueue) Len() int {
	return len(q.entries)
}

// SetCapacity changes the bound. Entries already queued are kept even if
// they exceed the new bound; further inserts fail until the queue drains.
func (q *PriorityQueue) SetCapacity(capacity int) {
	q.capacity = capacity
}

// Clear removes every entry.
func (q *PriorityQueue) Clear() {
	clear(q.entries)
	q.entries = q.entries[:0]
}
