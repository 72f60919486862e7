package app

import (
	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

// Cleanup evicts stale messages from every recipient and reclaims
// recipients left with nothing queued or in flight. It returns the number of
// evicted messages.
func (o *Orchestrator) Cleanup() int {
	cfg := o.Config()

	evicted := 0
	for _, r := range o.snapshot() {
		r.mu.Lock()
		n := r.queue.EvictStale(cfg.StaleMessageAge)
		r.mu.Unlock()

		if n == 0 {
			continue
		}
		evicted += n
		o.metrics.queueDepth.Add(-int64(n))
		o.recorder.Record(ports.EventMessagesEvicted,
			ports.String("recipient", r.key),
			ports.Int("count", n),
		)
	}
	o.metrics.evicted.Add(int64(evicted))

	o.mu.Lock()
	reclaimed := 0
	for key, r := range o.recipients {
		r.mu.Lock()
		if r.reclaimableLocked() {
			r.disarmLocked()
			r.closed = true
			delete(o.recipients, key)
			reclaimed++
		}
		r.mu.Unlock()
	}
	active := len(o.recipients)
	o.mu.Unlock()

	if evicted > 0 || reclaimed > 0 {
		o.logger.Info("cleanup completed",
			ports.Int("evicted", evicted),
			ports.Int("reclaimed_recipients", reclaimed),
			ports.Int("active_recipients", active),
		)
	}
	return evicted
}

// AdjustForLoad runs one adaptive pass: shrink under memory pressure,
// otherwise grow back toward the configured ceiling when load is low.
func (o *Orchestrator) AdjustForLoad() {
	memory := o.memory.UsagePercent()
	o.metrics.setMemory(memory)

	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()

	cfg := o.Config()
	if !cfg.AdaptiveBatchingEnabled {
		return
	}

	var next domain.Config
	if memory > cfg.MemoryThresholdPercent || memory > 90 {
		next = o.controller.ShrinkForMemoryPressure(cfg, memory)
	} else {
		next = o.controller.GrowForLowLoad(cfg, int(o.metrics.queueDepth.Load()), memory)
	}
	if next == cfg {
		return
	}
	o.cfg.Store(&next)

	o.recorder.Record(ports.EventConfigAdjusted,
		ports.Int("max_batch_size", next.MaxBatchSize),
		ports.Duration("max_batch_delay", next.MaxBatchDelay),
		ports.Float64("memory_percent", memory),
	)
	o.logger.Info("batching configuration adjusted",
		ports.Float64("memory_percent", memory),
		ports.Int("max_batch_size_before", cfg.MaxBatchSize),
		ports.Int("max_batch_size", next.MaxBatchSize),
		ports.Duration("max_batch_delay", next.MaxBatchDelay),
	)
}
