package app

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

// State is the lifecycle state of the orchestrator's background loops.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

var stateNames = [...]string{"Stopped", "Starting", "Running", "Stopping", "Crashed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// transitions lists the states reachable from each state.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// EventEmitter is notified after every state change.
type EventEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle tracks the state of a set of background loops and owns the
// context they run under.
type Lifecycle struct {
	mu      sync.RWMutex
	state   State
	cancel  context.CancelFunc
	loops   sync.WaitGroup
	logger  ports.Logger
	emitter EventEmitter
}

// NewLifecycle returns a lifecycle in StateStopped. emitter may be nil.
func NewLifecycle(logger ports.Logger, emitter EventEmitter) *Lifecycle {
	return &Lifecycle{
		state:   StateStopped,
		logger:  logger,
		emitter: emitter,
	}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// TransitionTo moves to next. Leaving a stopped or crashed state any other
// way than by starting fails with ErrNotRunning; every other illegal move
// fails with ErrAlreadyRunning.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	l.mu.Lock()
	prev := l.state
	if !slices.Contains(transitions[prev], next) {
		l.mu.Unlock()
		if prev == StateStopped || prev == StateCrashed {
			return fmt.Errorf("%w: cannot move from %s to %s", domain.ErrNotRunning, prev, next)
		}
		return fmt.Errorf("%w: cannot move from %s to %s", domain.ErrAlreadyRunning, prev, next)
	}
	l.state = next
	l.mu.Unlock()

	if l.emitter != nil {
		l.emitter.OnStateChange(prev, next, reason)
	}
	l.logger.Info("state transition",
		ports.String("from", prev.String()),
		ports.String("to", next.String()),
		ports.String("reason", reason),
	)
	return nil
}

// CanStart reports whether the loops are stopped or crashed.
func (l *Lifecycle) CanStart() bool {
	s := l.State()
	return s == StateStopped || s == StateCrashed
}

// CanStop reports whether the loops are starting or running.
func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == StateStarting || s == StateRunning
}

// Run starts each loop on its own goroutine under a context derived from
// parent. Stop cancels that context.
func (l *Lifecycle) Run(parent context.Context, loops ...func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)

	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	for _, loop := range loops {
		l.loops.Add(1)
		go func() {
			defer l.loops.Done()
			loop(ctx)
		}()
	}
}

// Stop cancels the loops started by Run. It is a no-op before Run.
func (l *Lifecycle) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every loop returned, or fails with ErrShutdownTimeout
// once ctx is done.
func (l *Lifecycle) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.loops.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		l.logger.Warn("background loops still running", ports.Err(ctx.Err()))
		return domain.ErrShutdownTimeout
	}
}
