package domain

import "time"

// DefaultPriority is assigned to messages submitted without a priority.
const DefaultPriority = 1

// Message is the atomic unit flowing through the batcher.
// It is owned by its recipient's queue while pending and handed to the
// deliver callback as part of a batch.
type Message struct {
	// Kind is the message category; opaque to the batching layer.
	Kind string `json:"kind"`

	// Payload is caller-defined and must be JSON serializable.
	Payload any `json:"payload,omitempty"`

	// Priority orders messages within a recipient queue; higher is more urgent.
	Priority int `json:"priority"`

	// EnqueuedAt is stamped on first enqueue and preserved across retries
	// so latency is measured end to end.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// ID identifies the message. Assigned on enqueue when empty.
	ID string `json:"id,omitempty"`

	// Recipient is the key partitioning all batching state.
	Recipient string `json:"recipient"`

	// Attempts counts failed delivery attempts.
	Attempts int `json:"attempts,omitempty"`
}

// Retried returns a copy of m prepared for requeue after a failed delivery:
// priority and attempt count are bumped, EnqueuedAt is kept.
func (m Message) Retried() Message {
	m.Priority++
	m.Attempts++
	return m
}

// QueueEntry wraps a Message with its insertion priority and insertion time.
type QueueEntry struct {
	Message    Message
	Priority   int
	InsertedAt time.Time
}

// OldestEnqueue returns the earliest EnqueuedAt across batch.
// Returns the zero time for an empty batch.
func OldestEnqueue(batch []Message) time.Time {
	var oldest time.Time
	for _, m := range batch {
		if oldest.IsZero() || m.EnqueuedAt.Before(oldest) {
			oldest = m.EnqueuedAt
		}
	}
	return oldest
}
