package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bft-labs/notibatch/internal/adaptive"
	"github.com/bft-labs/notibatch/internal/compression"
	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

// Dependencies are the collaborators of an Orchestrator. Nil fields fall back
// to no-op implementations.
type Dependencies struct {
	Logger      ports.Logger
	Recorder    ports.Recorder
	Memory      ports.MemorySampler
	Codec       ports.Compressor
	DeadLetters ports.DeadLetterSink

	// Events, when set, observes lifecycle state changes.
	Events EventEmitter
}

// Orchestrator accumulates messages per recipient and hands them to the
// caller's deliver function in batches.
//
// Each recipient owns a priority queue and at most one flush timer. A flush
// is triggered by the timer or by the queue reaching MaxBatchSize; both
// triggers enter processBatch, which is serialized per recipient.
// Messages at or above the bypass threshold skip the queue entirely.
type Orchestrator struct {
	cfg        atomic.Pointer[domain.Config]
	cfgMu      sync.Mutex
	controller *adaptive.Controller
	evaluator  *compression.Evaluator

	logger      ports.Logger
	recorder    ports.Recorder
	memory      ports.MemorySampler
	deadLetters ports.DeadLetterSink

	mu         sync.RWMutex
	recipients map[string]*recipient

	seen    *lru.Cache[string, struct{}]
	metrics metricsAggregator
	flights flights

	closing   atomic.Bool
	lifecycle *Lifecycle

	// ctx bounds every delivery; canceled once shutdown finished waiting.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewOrchestrator validates cfg and creates an idle orchestrator.
// Call Start to run the adaptive monitor and stale-message sweep.
func NewOrchestrator(cfg domain.Config, deps Dependencies) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if deps.Logger == nil {
		deps.Logger = noopLogger{}
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	if deps.Memory == nil {
		deps.Memory = zeroMemory{}
	}
	if deps.DeadLetters == nil {
		deps.DeadLetters = loggingDeadLetters{logger: deps.Logger}
	}
	if deps.Codec == nil {
		codec, err := compression.ByName(compression.CodecZstd)
		if err != nil {
			return nil, err
		}
		deps.Codec = codec
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		controller:  adaptive.New(cfg),
		evaluator:   compression.NewEvaluator(deps.Codec),
		logger:      deps.Logger,
		recorder:    deps.Recorder,
		memory:      deps.Memory,
		deadLetters: deps.DeadLetters,
		recipients:  make(map[string]*recipient),
		lifecycle:   NewLifecycle(deps.Logger, deps.Events),
		ctx:         ctx,
		cancel:      cancel,
	}
	o.cfg.Store(&cfg)

	if cfg.DuplicateWindow > 0 {
		seen, err := lru.New[string, struct{}](cfg.DuplicateWindow)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("duplicate window: %w", err)
		}
		o.seen = seen
	}

	return o, nil
}

// Accepting reports whether Enqueue may still accept messages.
func (o *Orchestrator) Accepting() bool {
	return !o.closing.Load()
}

// Config returns the configuration currently in effect.
func (o *Orchestrator) Config() domain.Config {
	return *o.cfg.Load()
}

// Enqueue accepts msg for recipient key.
//
// Messages at or above the bypass threshold are delivered synchronously as a
// single-element batch. Other messages are queued; the first one arms the
// recipient's flush timer and reaching MaxBatchSize flushes immediately.
// Returns false when the orchestrator is shutting down or the recipient's
// queue is full; the message is then dropped and the caller should apply
// backpressure.
func (o *Orchestrator) Enqueue(key string, msg domain.Message, deliver ports.DeliverFunc) bool {
	if o.closing.Load() {
		o.logger.Debug("rejecting message during shutdown", ports.String("recipient", key))
		return false
	}

	cfg := o.Config()

	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}
	msg.Recipient = key

	if msg.ID != "" && o.seen != nil {
		if seen, _ := o.seen.ContainsOrAdd(msg.ID, struct{}{}); seen {
			o.metrics.duplicates.Add(1)
			o.recorder.Record(ports.EventMessageDuplicate,
				ports.String("recipient", key),
				ports.String("id", msg.ID),
			)
			return true
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	if msg.Priority >= cfg.PriorityBypassThreshold {
		o.metrics.totalMessages.Add(1)
		o.deliverImmediately(key, msg, deliver)
		return true
	}

	r, ok := o.push(key, msg, deliver, cfg)
	if !ok {
		// Forget the ID so a resubmission after backpressure is not a duplicate.
		if o.seen != nil {
			o.seen.Remove(msg.ID)
		}
		o.metrics.dropped.Add(1)
		o.recorder.Record(ports.EventMessageDropped,
			ports.String("recipient", key),
			ports.Int("priority", msg.Priority),
		)
		o.logger.Debug("recipient queue full, message dropped",
			ports.String("recipient", key),
			ports.Err(domain.ErrQueueFull),
		)
		return false
	}
	o.metrics.totalMessages.Add(1)

	if r != nil {
		o.flushAsync(r)
	}
	return true
}

// push inserts msg into the recipient's queue, arming the flush timer.
// It returns the recipient when the queue reached MaxBatchSize and must be
// flushed now, and ok=false when the queue is full.
func (o *Orchestrator) push(key string, msg domain.Message, deliver ports.DeliverFunc, cfg domain.Config) (*recipient, bool) {
	r := o.lockRecipient(key, cfg)
	defer r.mu.Unlock()

	if deliver != nil {
		r.deliver = deliver
	}
	if !r.queue.Enqueue(msg, msg.Priority) {
		return nil, false
	}
	o.metrics.queueDepth.Add(1)

	if r.queue.Len() >= cfg.MaxBatchSize {
		r.disarmLocked()
		return r, true
	}
	o.armLocked(r, cfg)
	return nil, true
}

// lockRecipient returns the live state for key with its mutex held.
func (o *Orchestrator) lockRecipient(key string, cfg domain.Config) *recipient {
	for {
		r := o.recipient(key, cfg)
		r.mu.Lock()
		if !r.closed {
			return r
		}
		// Reclaimed by cleanup between lookup and lock.
		r.mu.Unlock()
	}
}

// recipient returns the state for key, creating it on first use.
func (o *Orchestrator) recipient(key string, cfg domain.Config) *recipient {
	o.mu.RLock()
	r, ok := o.recipients[key]
	o.mu.RUnlock()
	if ok {
		return r
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.recipients[key]; ok {
		return r
	}
	r = newRecipient(key, cfg.MaxQueueSizePerRecipient)
	o.recipients[key] = r
	return r
}

// snapshot returns the current recipients without holding the map lock.
func (o *Orchestrator) snapshot() []*recipient {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*recipient, 0, len(o.recipients))
	for _, r := range o.recipients {
		out = append(out, r)
	}
	return out
}

// armLocked arms r's flush timer unless shutdown has begun.
func (o *Orchestrator) armLocked(r *recipient, cfg domain.Config) {
	if o.closing.Load() {
		return
	}
	r.armLocked(cfg.MaxBatchDelay, func() { o.flushFromTimer(r) })
}

func (o *Orchestrator) flushFromTimer(r *recipient) {
	if !o.flights.begin() {
		return
	}
	defer o.flights.end()
	o.processBatch(r)
}

func (o *Orchestrator) flushAsync(r *recipient) {
	if !o.flights.begin() {
		return
	}
	go func() {
		defer o.flights.end()
		o.processBatch(r)
	}()
}

// UpdateConfig merges patch into the current configuration. The patched
// values also become the adaptive ceiling. With resetAdaptive the adaptive
// controller's adjustments are discarded.
func (o *Orchestrator) UpdateConfig(patch domain.ConfigPatch, resetAdaptive bool) error {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()

	current := o.Config()
	next := current.Apply(patch)
	if err := next.Validate(); err != nil {
		return err
	}

	if !patch.Empty() {
		o.controller.SetOriginal(o.controller.Original().Apply(patch))
	}
	if resetAdaptive {
		next = o.controller.Reset(next)
	}
	o.cfg.Store(&next)

	if next.MaxQueueSizePerRecipient != current.MaxQueueSizePerRecipient {
		for _, r := range o.snapshot() {
			r.mu.Lock()
			r.queue.SetCapacity(next.MaxQueueSizePerRecipient)
			r.mu.Unlock()
		}
	}

	o.logger.Info("batching configuration updated",
		ports.Int("max_batch_size", next.MaxBatchSize),
		ports.Duration("max_batch_delay", next.MaxBatchDelay),
		ports.Int("bypass_threshold", next.PriorityBypassThreshold),
		ports.Bool("adaptive_reset", resetAdaptive),
	)
	return nil
}

// Metrics returns a snapshot of the batching metrics, sampling memory usage.
func (o *Orchestrator) Metrics() domain.Metrics {
	o.metrics.setMemory(o.memory.UsagePercent())
	return o.metrics.snapshot()
}

// Status returns the detailed diagnostic view.
func (o *Orchestrator) Status() domain.Status {
	recipients := o.snapshot()
	timers := 0
	for _, r := range recipients {
		r.mu.Lock()
		if r.timer != nil {
			timers++
		}
		r.mu.Unlock()
	}

	return domain.Status{
		State:           o.lifecycle.State().String(),
		Metrics:         o.Metrics(),
		ActiveQueues:    len(recipients),
		PendingTimers:   timers,
		Config:          o.Config(),
		AdaptiveHistory: o.controller.History(),
	}
}

// State returns the lifecycle state of the background loops.
func (o *Orchestrator) State() State {
	return o.lifecycle.State()
}

// Start runs the memory monitor and the stale-message sweep until Shutdown
// or until ctx is canceled.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.closing.Load() || !o.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := o.lifecycle.TransitionTo(StateStarting, "Start() called"); err != nil {
		return err
	}

	cfg := o.Config()
	o.lifecycle.Run(ctx,
		func(ctx context.Context) { o.every(ctx, cfg.MemoryCheckInterval, o.AdjustForLoad) },
		func(ctx context.Context) { o.every(ctx, cfg.CleanupInterval, func() { o.Cleanup() }) },
	)

	return o.lifecycle.TransitionTo(StateRunning, "background loops started")
}

func (o *Orchestrator) every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// Shutdown stops accepting messages, stops the background loops, cancels
// every pending flush timer and waits for in-flight deliveries until ctx is
// done. Queued messages are not delivered; call FlushAll afterwards to drain them.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.closing.CompareAndSwap(false, true) {
		return domain.ErrNotRunning
	}
	defer o.cancel()

	running := o.lifecycle.CanStop()
	if running {
		if err := o.lifecycle.TransitionTo(StateStopping, "Shutdown() called"); err != nil {
			return err
		}
		o.lifecycle.Stop()
	}

	timers := 0
	for _, r := range o.snapshot() {
		r.mu.Lock()
		if r.timer != nil {
			timers++
		}
		r.disarmLocked()
		r.mu.Unlock()
	}

	idle := o.flights.drain()

	var err error
	if running {
		err = o.lifecycle.Wait(ctx)
	}
	if err == nil {
		select {
		case <-idle:
		case <-ctx.Done():
			o.logger.Warn("shutdown timeout, deliveries still in flight", ports.Err(ctx.Err()))
			err = domain.ErrShutdownTimeout
		}
	}

	o.logger.Info("orchestrator shut down",
		ports.Int("timers_cancelled", timers),
		ports.Int64("queued_messages", o.metrics.queueDepth.Load()),
	)

	if running {
		if err != nil {
			_ = o.lifecycle.TransitionTo(StateCrashed, "shutdown timeout")
		} else {
			_ = o.lifecycle.TransitionTo(StateStopped, "graceful shutdown")
		}
	}
	return err
}
