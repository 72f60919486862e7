package domain

import "errors"

// Domain errors represent error conditions in the notibatch domain.
// These errors can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("notibatch: already running")

	// ErrNotRunning is returned when Shutdown() is called on a stopped instance.
	ErrNotRunning = errors.New("notibatch: not running")

	// ErrShutdownTimeout is returned when in-flight deliveries outlive the shutdown context.
	ErrShutdownTimeout = errors.New("notibatch: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("notibatch: invalid configuration")

	// ErrQueueFull is reported when a recipient queue is at capacity.
	ErrQueueFull = errors.New("notibatch: recipient queue full")

	// ErrShuttingDown is reported when a message arrives after shutdown began.
	ErrShuttingDown = errors.New("notibatch: shutting down")

	// ErrDeliveryPanic wraps a panic recovered from a deliver callback.
	ErrDeliveryPanic = errors.New("notibatch: deliver callback panicked")

	// ErrRecipientOffline is returned by transports with no live connection for a recipient.
	ErrRecipientOffline = errors.New("notibatch: recipient offline")
)
