package app

import (
	"sync"
	"time"

	"github.com/bft-labs/notibatch/internal/ports"
	"github.com/bft-labs/notibatch/internal/queue"
)

// recipient is the batching state of one recipient key.
//
// mu guards the queue, the timer and the flags; it is only held for short
// critical sections and never across a deliver call. flushMu serializes
// batch extraction plus delivery, so at most one batch per recipient is in
// flight.
type recipient struct {
	key string

	mu       sync.Mutex
	queue    *queue.PriorityQueue
	timer    *time.Timer
	deliver  ports.DeliverFunc
	inflight bool
	closed   bool

	flushMu sync.Mutex
}

func newRecipient(key string, capacity int) *recipient {
	return &recipient{
		key:   key,
		queue: queue.New(capacity),
	}
}

// armLocked starts the flush timer unless one is already armed.
func (r *recipient) armLocked(delay time.Duration, fire func()) {
	if r.timer != nil {
		return
	}
	r.timer = time.AfterFunc(delay, fire)
}

// disarmLocked stops and clears the flush timer.
func (r *recipient) disarmLocked() {
	if r.timer == nil {
		return
	}
	r.timer.Stop()
	r.timer = nil
}

// reclaimableLocked reports whether the recipient holds nothing worth keeping.
func (r *recipient) reclaimableLocked() bool {
	return r.queue.Len() == 0 && !r.inflight
}
