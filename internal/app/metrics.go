package app

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bft-labs/notibatch/internal/domain"
)

const (
	// latencyWindow bounds the number of latency samples averaged.
	latencyWindow = 1000

	// compressionAlpha is the weight of the newest sample in the ratio EMA.
	compressionAlpha = 0.1
)

// metricsAggregator accumulates telemetry from all recipients.
// Counters are atomic; running aggregates share one mutex.
type metricsAggregator struct {
	totalMessages atomic.Int64
	totalBatches  atomic.Int64
	dropped       atomic.Int64
	failed        atomic.Int64
	immediate     atomic.Int64
	retried       atomic.Int64
	evicted       atomic.Int64
	deadLetters   atomic.Int64
	duplicates    atomic.Int64

	queueDepth atomic.Int64
	memoryBits atomic.Uint64

	mu               sync.Mutex
	avgBatchSize     float64
	compressionRatio float64
	latencies        [latencyWindow]time.Duration
	latencyNext      int
	latencyCount     int
	latencySum       time.Duration
}

func (m *metricsAggregator) batchDelivered(size int, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.totalBatches.Add(1)
	m.avgBatchSize += (float64(size) - m.avgBatchSize) / float64(n)
	m.observeLatencyLocked(latency)
}

func (m *metricsAggregator) immediateDelivered(latency time.Duration) {
	m.immediate.Add(1)

	m.mu.Lock()
	m.observeLatencyLocked(latency)
	m.mu.Unlock()
}

func (m *metricsAggregator) observeLatencyLocked(latency time.Duration) {
	if m.latencyCount == latencyWindow {
		m.latencySum -= m.latencies[m.latencyNext]
	} else {
		m.latencyCount++
	}
	m.latencies[m.latencyNext] = latency
	m.latencySum += latency
	m.latencyNext = (m.latencyNext + 1) % latencyWindow
}

func (m *metricsAggregator) compression(ratio float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.compressionRatio == 0 {
		m.compressionRatio = ratio
		return
	}
	m.compressionRatio = m.compressionRatio*(1-compressionAlpha) + ratio*compressionAlpha
}

func (m *metricsAggregator) setMemory(percent float64) {
	m.memoryBits.Store(math.Float64bits(percent))
}

func (m *metricsAggregator) snapshot() domain.Metrics {
	m.mu.Lock()
	avgBatch := m.avgBatchSize
	ratio := m.compressionRatio
	var avgLatency time.Duration
	if m.latencyCount > 0 {
		avgLatency = m.latencySum / time.Duration(m.latencyCount)
	}
	m.mu.Unlock()

	return domain.Metrics{
		TotalMessages:       m.totalMessages.Load(),
		TotalBatches:        m.totalBatches.Load(),
		DroppedMessages:     m.dropped.Load(),
		FailedBatches:       m.failed.Load(),
		ImmediateDeliveries: m.immediate.Load(),
		RetriedMessages:     m.retried.Load(),
		EvictedMessages:     m.evicted.Load(),
		DeadLetters:         m.deadLetters.Load(),
		DuplicateMessages:   m.duplicates.Load(),
		AverageBatchSize:    avgBatch,
		CompressionRatio:    ratio,
		AverageLatency:      avgLatency,
		QueueDepth:          int(m.queueDepth.Load()),
		MemoryUsagePercent:  math.Float64frombits(m.memoryBits.Load()),
	}
}
