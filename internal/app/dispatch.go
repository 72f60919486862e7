package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

// deliverImmediately sends msg as a single-element batch, skipping the queue.
// A failed delivery falls back to the queue with boosted priority.
func (o *Orchestrator) deliverImmediately(key string, msg domain.Message, deliver ports.DeliverFunc) {
	batch := []domain.Message{msg}
	err := o.safeDeliver(deliver, batch)
	if err == nil {
		latency := time.Since(msg.EnqueuedAt)
		o.metrics.immediateDelivered(latency)
		o.recorder.Record(ports.EventMessageBypassed,
			ports.String("recipient", key),
			ports.Int("priority", msg.Priority),
			ports.Duration("latency", latency),
		)
		return
	}

	o.metrics.failed.Add(1)
	o.recorder.Record(ports.EventBatchFailed,
		ports.String("recipient", key),
		ports.Int("size", 1),
		ports.Err(err),
	)
	o.logger.Warn("immediate delivery failed, requeueing",
		ports.String("recipient", key),
		ports.Err(err),
	)

	cfg := o.Config()
	r := o.lockRecipient(key, cfg)
	if deliver != nil {
		r.deliver = deliver
	}
	exhausted := o.requeueLocked(r, batch, cfg)
	if r.queue.Len() > 0 {
		o.armLocked(r, cfg)
	}
	r.mu.Unlock()

	o.deadLetter(key, exhausted, err)
}

// processBatch extracts up to MaxBatchSize messages from r and delivers them.
// Both the flush timer and the size threshold enter here; flushMu keeps at
// most one batch per recipient in flight.
func (o *Orchestrator) processBatch(r *recipient) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	for {
		cfg := o.Config()

		r.mu.Lock()
		r.disarmLocked()
		batch := r.queue.ExtractBatch(cfg.MaxBatchSize)
		deliver := r.deliver
		if len(batch) == 0 {
			r.mu.Unlock()
			return
		}
		r.inflight = true
		r.mu.Unlock()
		o.metrics.queueDepth.Add(-int64(len(batch)))

		if cfg.CompressionEnabled && len(batch) > 1 {
			o.evaluateCompression(r.key, batch)
		}

		start := time.Now()
		err := o.safeDeliver(deliver, batch)

		if err != nil {
			o.metrics.failed.Add(1)
			o.recorder.Record(ports.EventBatchFailed,
				ports.String("recipient", r.key),
				ports.Int("size", len(batch)),
				ports.Err(err),
			)
			o.logger.Warn("batch delivery failed, requeueing",
				ports.String("recipient", r.key),
				ports.Int("size", len(batch)),
				ports.Err(err),
			)

			r.mu.Lock()
			r.inflight = false
			exhausted := o.requeueLocked(r, batch, cfg)
			if r.queue.Len() > 0 {
				o.armLocked(r, cfg)
			}
			r.mu.Unlock()

			o.deadLetter(r.key, exhausted, err)
			return
		}

		latency := time.Since(domain.OldestEnqueue(batch))
		o.metrics.batchDelivered(len(batch), latency)
		o.recorder.Record(ports.EventBatchDelivered,
			ports.String("recipient", r.key),
			ports.Int("size", len(batch)),
			ports.Duration("latency", latency),
			ports.Duration("delivery_time", time.Since(start)),
		)

		r.mu.Lock()
		r.inflight = false
		remaining := r.queue.Len()
		if remaining > 0 && remaining < cfg.MaxBatchSize {
			o.armLocked(r, cfg)
		}
		r.mu.Unlock()

		if remaining < cfg.MaxBatchSize || o.closing.Load() {
			return
		}
	}
}

// requeueLocked puts a failed batch back with boosted priority. Messages past
// MaxRetries are returned for dead-lettering. Messages that no longer fit are
// dropped.
func (o *Orchestrator) requeueLocked(r *recipient, batch []domain.Message, cfg domain.Config) []domain.Message {
	var exhausted []domain.Message
	requeued, dropped := 0, 0

	for _, msg := range batch {
		next := msg.Retried()
		if cfg.MaxRetries > 0 && next.Attempts > cfg.MaxRetries {
			exhausted = append(exhausted, next)
			continue
		}
		if !r.queue.Enqueue(next, next.Priority) {
			dropped++
			continue
		}
		requeued++
	}

	o.metrics.queueDepth.Add(int64(requeued))
	o.metrics.retried.Add(int64(requeued))
	o.metrics.dropped.Add(int64(dropped))

	if requeued > 0 {
		o.recorder.Record(ports.EventMessagesRequeued,
			ports.String("recipient", r.key),
			ports.Int("count", requeued),
		)
	}
	if dropped > 0 {
		o.recorder.Record(ports.EventMessageDropped,
			ports.String("recipient", r.key),
			ports.Int("count", dropped),
		)
	}
	return exhausted
}

func (o *Orchestrator) deadLetter(key string, msgs []domain.Message, cause error) {
	if len(msgs) == 0 {
		return
	}

	o.metrics.deadLetters.Add(int64(len(msgs)))
	o.recorder.Record(ports.EventMessagesDeadLettered,
		ports.String("recipient", key),
		ports.Int("count", len(msgs)),
	)
	if err := o.deadLetters.DeadLetter(o.ctx, key, msgs, cause); err != nil {
		o.logger.Error("dead letter sink failed",
			ports.String("recipient", key),
			ports.Int("messages", len(msgs)),
			ports.Err(err),
		)
	}
}

func (o *Orchestrator) evaluateCompression(key string, batch []domain.Message) {
	res, err := o.evaluator.Evaluate(batch)
	if err != nil {
		o.logger.Debug("compression evaluation failed",
			ports.String("recipient", key),
			ports.Err(err),
		)
		return
	}
	if !res.Worthwhile {
		return
	}

	o.metrics.compression(res.Ratio())
	o.recorder.Record(ports.EventCompression,
		ports.String("recipient", key),
		ports.String("codec", res.Codec),
		ports.Int("original_size", res.OriginalSize),
		ports.Int("compressed_size", res.CompressedSize),
		ports.Float64("ratio", res.Ratio()),
	)
}

// safeDeliver invokes deliver, converting a panic into an error.
func (o *Orchestrator) safeDeliver(deliver ports.DeliverFunc, batch []domain.Message) (err error) {
	if deliver == nil {
		return domain.ErrRecipientOffline
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", domain.ErrDeliveryPanic, p)
		}
	}()
	return deliver(o.ctx, batch)
}

// FlushAll delivers every recipient's entire queue as one batch, ignoring
// MaxBatchSize, and cancels pending timers. Failures are logged and counted
// but not retried. It returns the number of messages delivered.
func (o *Orchestrator) FlushAll(ctx context.Context, deliver ports.FlushFunc) int {
	delivered, failed := 0, 0

	for _, r := range o.snapshot() {
		if ctx.Err() != nil {
			break
		}

		r.flushMu.Lock()
		r.mu.Lock()
		r.disarmLocked()
		batch := r.queue.ExtractBatch(0)
		r.mu.Unlock()

		if len(batch) == 0 {
			r.flushMu.Unlock()
			continue
		}
		o.metrics.queueDepth.Add(-int64(len(batch)))

		err := o.safeFlush(ctx, deliver, r.key, batch)
		r.flushMu.Unlock()

		if err != nil {
			failed += len(batch)
			o.metrics.failed.Add(1)
			o.logger.Error("flush failed, messages lost",
				ports.String("recipient", r.key),
				ports.Int("size", len(batch)),
				ports.Err(err),
			)
			continue
		}

		delivered += len(batch)
		o.metrics.batchDelivered(len(batch), time.Since(domain.OldestEnqueue(batch)))
	}

	o.recorder.Record(ports.EventFlushAll,
		ports.Int("delivered", delivered),
		ports.Int("failed", failed),
	)
	o.logger.Info("flushed all queues",
		ports.Int("delivered", delivered),
		ports.Int("failed", failed),
	)
	return delivered
}

func (o *Orchestrator) safeFlush(ctx context.Context, deliver ports.FlushFunc, key string, batch []domain.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", domain.ErrDeliveryPanic, p)
		}
	}()
	return deliver(ctx, key, batch)
}
