package notibatch

import (
	"context"

	"github.com/bft-labs/notibatch/internal/app"
)

// Batcher is an adaptive per-recipient message batcher that can be embedded
// in other applications. Use New to create one and Start to run its
// adaptive monitor and stale-message sweep. Enqueue works before Start.
type Batcher struct {
	orch *app.Orchestrator
}

// New validates cfg and creates a Batcher in StateStopped.
func New(cfg Config, opts ...Option) (*Batcher, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := app.Dependencies{
		Logger:      o.logger,
		Recorder:    o.recorder,
		Memory:      o.memory,
		Codec:       o.codec,
		DeadLetters: o.deadLetters,
	}
	if o.eventHandler != nil {
		deps.Events = eventEmitterWrapper{handler: o.eventHandler}
	}

	orch, err := app.NewOrchestrator(cfg, deps)
	if err != nil {
		return nil, err
	}
	return &Batcher{orch: orch}, nil
}

// Start runs the background loops until Shutdown or ctx is canceled.
func (b *Batcher) Start(ctx context.Context) error {
	return b.orch.Start(ctx)
}

// Enqueue accepts msg for recipient. Urgent messages are delivered before
// Enqueue returns. It returns false when the recipient's queue is full or
// the batcher is shutting down.
func (b *Batcher) Enqueue(recipient string, msg Message, deliver DeliverFunc) bool {
	return b.orch.Enqueue(recipient, msg, deliver)
}

// Accepting reports whether Enqueue may still accept messages.
func (b *Batcher) Accepting() bool {
	return b.orch.Accepting()
}

// FlushAll delivers every queue in full through deliver, ignoring the batch
// size limit. Failures are not retried. It returns the number of messages
// delivered.
func (b *Batcher) FlushAll(ctx context.Context, deliver FlushFunc) int {
	return b.orch.FlushAll(ctx, deliver)
}

// Shutdown stops accepting messages and waits for in-flight deliveries
// until ctx is done. Messages still queued stay queued; FlushAll delivers
// them after Shutdown.
func (b *Batcher) Shutdown(ctx context.Context) error {
	return b.orch.Shutdown(ctx)
}

// UpdateConfig merges patch into the running configuration. resetAdaptive
// discards adaptive adjustments made so far.
func (b *Batcher) UpdateConfig(patch ConfigPatch, resetAdaptive bool) error {
	return b.orch.UpdateConfig(patch, resetAdaptive)
}

// Config returns the configuration currently in effect.
func (b *Batcher) Config() Config {
	return b.orch.Config()
}

// Metrics returns a snapshot of the batcher counters.
func (b *Batcher) Metrics() Metrics {
	return b.orch.Metrics()
}

// Status returns metrics, queue and timer counts, the effective
// configuration and the adaptive history.
func (b *Batcher) Status() Status {
	return b.orch.Status()
}

// State returns the lifecycle state of the background loops.
func (b *Batcher) State() State {
	return convertState(b.orch.State())
}

// Cleanup evicts stale messages now instead of waiting for the sweep.
// It returns the number of evicted messages.
func (b *Batcher) Cleanup() int {
	return b.orch.Cleanup()
}

// AdjustForLoad runs one adaptive pass now instead of waiting for the
// memory monitor.
func (b *Batcher) AdjustForLoad() {
	b.orch.AdjustForLoad()
}
