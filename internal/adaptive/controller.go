// Package adaptive proposes batching parameters under memory pressure and low load.
//
// The controller is advisory: it computes candidate configurations and keeps a
// bounded history of the changes it proposed. The caller decides when to poll
// it and whether to apply the result.
package adaptive

import (
	"math"
	"sync"
	"time"

	"github.com/bft-labs/notibatch/internal/domain"
)

// Adjustment reasons recorded in the history.
const (
	ReasonCriticalMemory = "critical_memory_pressure"
	ReasonModerateMemory = "moderate_memory_pressure"
	ReasonLowLoad        = "low_load_growth"
	ReasonManualReset    = "manual_reset"
)

const (
	// HistorySize bounds the adjustment history.
	HistorySize = 100

	criticalMemoryPercent = 90
	lowMemoryPercent      = 50

	criticalBatchFactor = 0.5
	criticalDelayFactor = 0.7
	moderateBatchFactor = 0.8
	growthFactor        = 1.2

	minBatchDelay = 10 * time.Millisecond
)

// Controller tracks the original configuration ceiling and the adjustment history.
type Controller struct {
	mu       sync.Mutex
	original domain.Config
	history  []domain.Adjustment
	next     int
	full     bool
	now      func() time.Time
}

// New creates a controller whose ceiling is original.
func New(original domain.Config) *Controller {
	return &Controller{
		original: original,
		history:  make([]domain.Adjustment, HistorySize),
		now:      time.Now,
	}
}

// Original returns the configured ceiling.
func (c *Controller) Original() domain.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.original
}

// SetOriginal replaces the ceiling, e.g. after an operator update.
func (c *Controller) SetOriginal(cfg domain.Config) {
	c.mu.Lock()
	c.original = cfg
	c.mu.Unlock()
}

// ShrinkForMemoryPressure returns cfg reduced for the given memory usage.
// Above 90% both batch size and delay shrink, the delay never below 10ms
// unless it already was; above the configured threshold only the batch size
// shrinks. Otherwise cfg is returned unchanged.
func (c *Controller) ShrinkForMemoryPressure(cfg domain.Config, memoryPercent float64) domain.Config {
	next := cfg
	var reason string

	switch {
	case memoryPercent > criticalMemoryPercent:
		next.MaxBatchSize = max(1, int(math.Floor(float64(cfg.MaxBatchSize)*criticalBatchFactor)))
		next.MaxBatchDelay = min(cfg.MaxBatchDelay, max(minBatchDelay, time.Duration(float64(cfg.MaxBatchDelay)*criticalDelayFactor)))
		reason = ReasonCriticalMemory
	case memoryPercent > cfg.MemoryThresholdPercent:
		next.MaxBatchSize = max(1, int(math.Floor(float64(cfg.MaxBatchSize)*moderateBatchFactor)))
		reason = ReasonModerateMemory
	default:
		return cfg
	}

	c.record(reason, cfg, next)
	return next
}

// GrowForLowLoad returns cfg grown back toward the ceiling when memory usage
// is below 50% and queueDepth is under half the current batch size.
// Growth rounds up so small sizes can recover; it never exceeds the ceiling.
func (c *Controller) GrowForLowLoad(cfg domain.Config, queueDepth int, memoryPercent float64) domain.Config {
	if memoryPercent >= lowMemoryPercent || float64(queueDepth) >= float64(cfg.MaxBatchSize)*0.5 {
		return cfg
	}

	ceiling := c.Original()
	next := cfg
	next.MaxBatchSize = min(ceiling.MaxBatchSize, int(math.Ceil(float64(cfg.MaxBatchSize)*growthFactor)))
	next.MaxBatchDelay = min(ceiling.MaxBatchDelay, time.Duration(math.Ceil(float64(cfg.MaxBatchDelay)*growthFactor)))

	if next.MaxBatchSize == cfg.MaxBatchSize && next.MaxBatchDelay == cfg.MaxBatchDelay {
		return cfg
	}

	c.record(ReasonLowLoad, cfg, next)
	return next
}

// Reset returns the original configuration and records a manual reset.
func (c *Controller) Reset(current domain.Config) domain.Config {
	original := c.Original()
	c.record(ReasonManualReset, current, original)
	return original
}

// History returns the recorded adjustments, oldest first.
func (c *Controller) History() []domain.Adjustment {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.full {
		return append([]domain.Adjustment(nil), c.history[:c.next]...)
	}
	out := make([]domain.Adjustment, 0, HistorySize)
	out = append(out, c.history[c.next:]...)
	return append(out, c.history[:c.next]...)
}

func (c *Controller) record(reason string, before, after domain.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history[c.next] = domain.Adjustment{
		Time:   c.now(),
		Reason: reason,
		Before: before,
		After:  after,
	}
	c.next = (c.next + 1) % HistorySize
	if c.next == 0 {
		c.full = true
	}
}
