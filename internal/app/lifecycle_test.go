package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

type mockLogger struct{}

func (mockLogger) Debug(string, ...ports.Field) {}
func (mockLogger) Info(string, ...ports.Field)  {}
func (mockLogger) Warn(string, ...ports.Field)  {}
func (mockLogger) Error(string, ...ports.Field) {}

type transition struct {
	from, to State
}

type recordingEmitter struct {
	mu   sync.Mutex
	seen []transition
}

func (e *recordingEmitter) OnStateChange(previous, current State, _ string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seen = append(e.seen, transition{previous, current})
}

func (e *recordingEmitter) transitions() []transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]transition(nil), e.seen...)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Stopped", StateStopped.String())
	assert.Equal(t, "Crashed", StateCrashed.String())
	assert.Equal(t, "Unknown", State(42).String())
	assert.Equal(t, "Unknown", State(-1).String())
}

func TestLifecycle_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		path    []State
		next    State
		wantErr error
	}{
		{"start", nil, StateStarting, nil},
		{"run", []State{StateStarting}, StateRunning, nil},
		{"stop while starting", []State{StateStarting}, StateStopping, nil},
		{"stop", []State{StateStarting, StateRunning, StateStopping}, StateStopped, nil},
		{"crash while stopping", []State{StateStarting, StateRunning, StateStopping}, StateCrashed, nil},
		{"restart after crash", []State{StateStarting, StateCrashed}, StateStarting, nil},
		{"run from stopped", nil, StateRunning, domain.ErrNotRunning},
		{"stop from stopped", nil, StateStopping, domain.ErrNotRunning},
		{"start twice", []State{StateStarting}, StateStarting, domain.ErrAlreadyRunning},
		{"start while running", []State{StateStarting, StateRunning}, StateStarting, domain.ErrAlreadyRunning},
		{"run from crashed", []State{StateStarting, StateCrashed}, StateRunning, domain.ErrNotRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLifecycle(mockLogger{}, nil)
			for _, s := range tt.path {
				require.NoError(t, l.TransitionTo(s, "setup"))
			}
			before := l.State()

			err := l.TransitionTo(tt.next, "test")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before, l.State())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.next, l.State())
		})
	}
}

func TestLifecycle_NotifiesEmitter(t *testing.T) {
	e := &recordingEmitter{}
	l := NewLifecycle(mockLogger{}, e)

	require.NoError(t, l.TransitionTo(StateStarting, "start"))
	require.NoError(t, l.TransitionTo(StateRunning, "run"))
	assert.Error(t, l.TransitionTo(StateStarting, "illegal"))

	assert.Equal(t, []transition{
		{StateStopped, StateStarting},
		{StateStarting, StateRunning},
	}, e.transitions())
}

func TestLifecycle_CanStartCanStop(t *testing.T) {
	l := NewLifecycle(mockLogger{}, nil)
	assert.True(t, l.CanStart())
	assert.False(t, l.CanStop())

	require.NoError(t, l.TransitionTo(StateStarting, ""))
	assert.False(t, l.CanStart())
	assert.True(t, l.CanStop())

	require.NoError(t, l.TransitionTo(StateCrashed, ""))
	assert.True(t, l.CanStart())
	assert.False(t, l.CanStop())
}

func TestLifecycle_RunStopWait(t *testing.T) {
	l := NewLifecycle(mockLogger{}, nil)

	var mu sync.Mutex
	exited := 0
	loop := func(ctx context.Context) {
		<-ctx.Done()
		mu.Lock()
		exited++
		mu.Unlock()
	}
	l.Run(context.Background(), loop, loop, loop)

	l.Stop()
	l.Stop()
	require.NoError(t, l.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, exited)
}

func TestLifecycle_StopBeforeRun(t *testing.T) {
	l := NewLifecycle(mockLogger{}, nil)
	l.Stop()
	assert.NoError(t, l.Wait(context.Background()))
}

func TestLifecycle_ParentCancelStopsLoops(t *testing.T) {
	l := NewLifecycle(mockLogger{}, nil)
	parent, cancel := context.WithCancel(context.Background())

	l.Run(parent, func(ctx context.Context) { <-ctx.Done() })
	cancel()

	assert.NoError(t, l.Wait(context.Background()))
}

func TestLifecycle_WaitTimeout(t *testing.T) {
	l := NewLifecycle(mockLogger{}, nil)
	release := make(chan struct{})
	l.Run(context.Background(), func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), domain.ErrShutdownTimeout)
}

func TestLifecycle_ConcurrentReads(t *testing.T) {
	l := NewLifecycle(mockLogger{}, nil)
	require.NoError(t, l.TransitionTo(StateStarting, ""))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.State()
			_ = l.CanStart()
			_ = l.CanStop()
		}()
	}
	wg.Wait()
	assert.Equal(t, StateStarting, l.State())
}
