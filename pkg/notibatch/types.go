package notibatch

import (
	"github.com/bft-labs/notibatch/internal/app"
	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

type (
	// Message is a single notification addressed to a recipient.
	Message = domain.Message

	// Config holds the batching parameters.
	Config = domain.Config

	// ConfigPatch is a partial Config update.
	ConfigPatch = domain.ConfigPatch

	// Metrics is a point-in-time snapshot of the batcher counters.
	Metrics = domain.Metrics

	// Status is the detailed diagnostic view of a batcher.
	Status = domain.Status

	// Adjustment records one adaptive change of the batching parameters.
	Adjustment = domain.Adjustment

	// DeliverFunc delivers one batch for a single recipient.
	DeliverFunc = ports.DeliverFunc

	// FlushFunc delivers a recipient's residual queue during FlushAll.
	FlushFunc = ports.FlushFunc

	// Logger is the interface for structured logging.
	Logger = ports.Logger

	// Field is a structured log or telemetry field.
	Field = ports.Field

	// Recorder receives one call per batching event.
	Recorder = ports.Recorder

	// MemorySampler reports process memory usage.
	MemorySampler = ports.MemorySampler

	// Compressor is a codec evaluated against delivered batches.
	Compressor = ports.Compressor

	// DeadLetterSink receives messages whose retries are exhausted.
	DeadLetterSink = ports.DeadLetterSink
)

// DefaultPriority is assigned to messages submitted without a priority.
const DefaultPriority = domain.DefaultPriority

// Errors returned by the batcher. Check them with errors.Is.
var (
	ErrAlreadyRunning   = domain.ErrAlreadyRunning
	ErrNotRunning       = domain.ErrNotRunning
	ErrShutdownTimeout  = domain.ErrShutdownTimeout
	ErrInvalidConfig    = domain.ErrInvalidConfig
	ErrDeliveryPanic    = domain.ErrDeliveryPanic
	ErrRecipientOffline = domain.ErrRecipientOffline
)

// DefaultConfig returns the default batching parameters.
func DefaultConfig() Config {
	return domain.DefaultConfig()
}

// State is the lifecycle state of a Batcher's background loops.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

func convertState(s app.State) State {
	switch s {
	case app.StateStarting:
		return StateStarting
	case app.StateRunning:
		return StateRunning
	case app.StateStopping:
		return StateStopping
	case app.StateCrashed:
		return StateCrashed
	default:
		return StateStopped
	}
}

// StateChangeEvent describes a lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// EventHandler observes lifecycle transitions. Calls are synchronous;
// implementations should return quickly.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
}

// BaseEventHandler is a no-op EventHandler for embedding.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent) {}

// eventEmitterWrapper adapts EventHandler to the internal emitter interface.
type eventEmitterWrapper struct {
	handler EventHandler
}

func (e eventEmitterWrapper) OnStateChange(previous, current app.State, reason string) {
	e.handler.OnStateChange(StateChangeEvent{
		Previous: convertState(previous),
		Current:  convertState(current),
		Reason:   reason,
	})
}
