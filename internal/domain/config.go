package domain

import (
	"fmt"
	"time"
)

// Config holds the tunable batching parameters.
// A Config value is an immutable snapshot; adjustments produce a new value.
type Config struct {
	// MaxBatchSize is the number of messages that triggers an immediate flush
	// and the most a single timed flush extracts.
	MaxBatchSize int `json:"max_batch_size"`

	// MaxBatchDelay is how long the first queued message waits before a flush.
	MaxBatchDelay time.Duration `json:"max_batch_delay"`

	// PriorityBypassThreshold is the priority at which messages skip batching.
	PriorityBypassThreshold int `json:"priority_bypass_threshold"`

	// MemoryThresholdPercent triggers moderate shrinking when exceeded.
	MemoryThresholdPercent float64 `json:"memory_threshold_percent"`

	CompressionEnabled bool `json:"compression_enabled"`

	MaxQueueSizePerRecipient int `json:"max_queue_size_per_recipient"`

	// StaleMessageAge is the age past which queued messages are evicted.
	StaleMessageAge time.Duration `json:"stale_message_age"`

	AdaptiveBatchingEnabled bool `json:"adaptive_batching_enabled"`

	// MaxRetries caps requeues after delivery failure. Zero means unlimited.
	MaxRetries int `json:"max_retries"`

	// MemoryCheckInterval is the period of the adaptive memory monitor.
	MemoryCheckInterval time.Duration `json:"memory_check_interval"`

	// CleanupInterval is the period of the stale message sweep.
	CleanupInterval time.Duration `json:"cleanup_interval"`

	// DuplicateWindow is how many recent message IDs are remembered for
	// duplicate suppression. Zero disables it.
	DuplicateWindow int `json:"duplicate_window"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:             10,
		MaxBatchDelay:            100 * time.Millisecond,
		PriorityBypassThreshold:  5,
		MemoryThresholdPercent:   80,
		CompressionEnabled:       true,
		MaxQueueSizePerRecipient: 1000,
		StaleMessageAge:          5 * time.Minute,
		AdaptiveBatchingEnabled:  true,
		MaxRetries:               5,
		MemoryCheckInterval:      60 * time.Second,
		CleanupInterval:          120 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch {
	case c.MaxBatchSize <= 0:
		return fmt.Errorf("%w: max batch size must be positive", ErrInvalidConfig)
	case c.MaxBatchDelay <= 0:
		return fmt.Errorf("%w: max batch delay must be positive", ErrInvalidConfig)
	case c.PriorityBypassThreshold <= 0:
		return fmt.Errorf("%w: priority bypass threshold must be positive", ErrInvalidConfig)
	case c.MemoryThresholdPercent <= 0 || c.MemoryThresholdPercent > 100:
		return fmt.Errorf("%w: memory threshold must be in (0, 100]", ErrInvalidConfig)
	case c.MaxQueueSizePerRecipient <= 0:
		return fmt.Errorf("%w: max queue size must be positive", ErrInvalidConfig)
	case c.StaleMessageAge <= 0:
		return fmt.Errorf("%w: stale message age must be positive", ErrInvalidConfig)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	case c.MemoryCheckInterval <= 0 || c.CleanupInterval <= 0:
		return fmt.Errorf("%w: background intervals must be positive", ErrInvalidConfig)
	case c.DuplicateWindow < 0:
		return fmt.Errorf("%w: duplicate window must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ConfigPatch is a partial Config update. Nil fields are left unchanged.
type ConfigPatch struct {
	MaxBatchSize             *int           `json:"max_batch_size,omitempty"`
	MaxBatchDelay            *time.Duration `json:"max_batch_delay,omitempty"`
	PriorityBypassThreshold  *int           `json:"priority_bypass_threshold,omitempty"`
	MemoryThresholdPercent   *float64       `json:"memory_threshold_percent,omitempty"`
	CompressionEnabled       *bool          `json:"compression_enabled,omitempty"`
	MaxQueueSizePerRecipient *int           `json:"max_queue_size_per_recipient,omitempty"`
	StaleMessageAge          *time.Duration `json:"stale_message_age,omitempty"`
	AdaptiveBatchingEnabled  *bool          `json:"adaptive_batching_enabled,omitempty"`
	MaxRetries               *int           `json:"max_retries,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p ConfigPatch) Empty() bool {
	return p == ConfigPatch{}
}

// Apply returns a copy of c with every non-nil patch field merged in.
func (c Config) Apply(p ConfigPatch) Config {
	if p.MaxBatchSize != nil {
		c.MaxBatchSize = *p.MaxBatchSize
	}
	if p.MaxBatchDelay != nil {
		c.MaxBatchDelay = *p.MaxBatchDelay
	}
	if p.PriorityBypassThreshold != nil {
		c.PriorityBypassThreshold = *p.PriorityBypassThreshold
	}
	if p.MemoryThresholdPercent != nil {
		c.MemoryThresholdPercent = *p.MemoryThresholdPercent
	}
	if p.CompressionEnabled != nil {
		c.CompressionEnabled = *p.CompressionEnabled
	}
	if p.MaxQueueSizePerRecipient != nil {
		c.MaxQueueSizePerRecipient = *p.MaxQueueSizePerRecipient
	}
	if p.StaleMessageAge != nil {
		c.StaleMessageAge = *p.StaleMessageAge
	}
	if p.AdaptiveBatchingEnabled != nil {
		c.AdaptiveBatchingEnabled = *p.AdaptiveBatchingEnabled
	}
	if p.MaxRetries != nil {
		c.MaxRetries = *p.MaxRetries
	}
	return c
}

// Diff returns the patch that turns c into next, covering the fields a
// ConfigPatch can carry.
func (c Config) Diff(next Config) ConfigPatch {
	var p ConfigPatch
	if c.MaxBatchSize != next.MaxBatchSize {
		p.MaxBatchSize = &next.MaxBatchSize
	}
	if c.MaxBatchDelay != next.MaxBatchDelay {
		p.MaxBatchDelay = &next.MaxBatchDelay
	}
	if c.PriorityBypassThreshold != next.PriorityBypassThreshold {
		p.PriorityBypassThreshold = &next.PriorityBypassThreshold
	}
	if c.MemoryThresholdPercent != next.MemoryThresholdPercent {
		p.MemoryThresholdPercent = &next.MemoryThresholdPercent
	}
	if c.CompressionEnabled != next.CompressionEnabled {
		p.CompressionEnabled = &next.CompressionEnabled
	}
	if c.MaxQueueSizePerRecipient != next.MaxQueueSizePerRecipient {
		p.MaxQueueSizePerRecipient = &next.MaxQueueSizePerRecipient
	}
	if c.StaleMessageAge != next.StaleMessageAge {
		p.StaleMessageAge = &next.StaleMessageAge
	}
	if c.AdaptiveBatchingEnabled != next.AdaptiveBatchingEnabled {
		p.AdaptiveBatchingEnabled = &next.AdaptiveBatchingEnabled
	}
	if c.MaxRetries != next.MaxRetries {
		p.MaxRetries = &next.MaxRetries
	}
	return p
}
