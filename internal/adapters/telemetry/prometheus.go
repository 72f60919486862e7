package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/notibatch/internal/domain"
	"github.com/bft-labs/notibatch/internal/ports"
)

// Prometheus exports batching events as Prometheus metrics.
type Prometheus struct {
	events    *prometheus.CounterVec
	messages  *prometheus.CounterVec
	batchSize prometheus.Histogram
	latency   prometheus.Histogram
}

// NewPrometheus registers the batching collectors on reg. When snapshot is
// non-nil, queue depth and memory usage are exported as gauges read from it.
func NewPrometheus(reg prometheus.Registerer, snapshot func() domain.Metrics) (*Prometheus, error) {
	p := &Prometheus{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notibatch",
			Name:      "events_total",
			Help:      "Batching events by type.",
		}, []string{"event"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "notibatch",
			Name:      "messages_total",
			Help:      "Messages affected by batching events, by event type.",
		}, []string{"event"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "notibatch",
			Name:      "batch_size",
			Help:      "Size of delivered batches.",
			Buckets:   prometheus.LinearBuckets(1, 5, 10),
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "notibatch",
			Name:      "delivery_latency_seconds",
			Help:      "Time from enqueue to successful delivery.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{p.events, p.messages, p.batchSize, p.latency}
	if snapshot != nil {
		collectors = append(collectors,
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "notibatch",
				Name:      "queue_depth",
				Help:      "Messages currently queued across all recipients.",
			}, func() float64 { return float64(snapshot().QueueDepth) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "notibatch",
				Name:      "memory_usage_percent",
				Help:      "Last sampled memory usage.",
			}, func() float64 { return snapshot().MemoryUsagePercent }),
		)
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return p, nil
}

func (p *Prometheus) Record(event string, fields ...ports.Field) {
	p.events.WithLabelValues(event).Inc()
	if n, ok := messageCount(event, fields); ok {
		p.messages.WithLabelValues(event).Add(float64(n))
	}

	switch event {
	case ports.EventBatchDelivered:
		if n, ok := intField(fields, "size"); ok {
			p.batchSize.Observe(float64(n))
		}
		fallthrough
	case ports.EventMessageBypassed:
		if d, ok := durationField(fields, "latency"); ok {
			p.latency.Observe(d.Seconds())
		}
	}
}
