package domain

import "time"

// Metrics is a point-in-time snapshot of batching telemetry.
type Metrics struct {
	TotalMessages   int64 `json:"total_messages"`
	TotalBatches    int64 `json:"total_batches"`
	DroppedMessages int64 `json:"dropped_messages"`
	FailedBatches   int64 `json:"failed_batches"`

	ImmediateDeliveries int64 `json:"immediate_deliveries"`
	RetriedMessages     int64 `json:"retried_messages"`
	EvictedMessages     int64 `json:"evicted_messages"`
	DeadLetters         int64 `json:"dead_letters"`
	DuplicateMessages   int64 `json:"duplicate_messages"`

	AverageBatchSize float64       `json:"average_batch_size"`
	CompressionRatio float64       `json:"compression_ratio"`
	AverageLatency   time.Duration `json:"average_latency"`

	QueueDepth         int     `json:"queue_depth"`
	MemoryUsagePercent float64 `json:"memory_usage_percent"`
}

// Adjustment records one change made by the adaptive controller.
type Adjustment struct {
	Time   time.Time `json:"time"`
	Reason string    `json:"reason"`
	Before Config    `json:"before"`
	After  Config    `json:"after"`
}

// Status is the detailed diagnostic view of a batcher.
type Status struct {
	State           string       `json:"state"`
	Metrics         Metrics      `json:"metrics"`
	ActiveQueues    int          `json:"active_queues"`
	PendingTimers   int          `json:"pending_timers"`
	Config          Config       `json:"config"`
	AdaptiveHistory []Adjustment `json:"adaptive_history"`
}
