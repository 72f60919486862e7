package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/bft-labs/notibatch/internal/ports"
)

const meterName = "github.com/bft-labs/notibatch"

// OTel exports batching events through an OpenTelemetry meter.
type OTel struct {
	events    metric.Int64Counter
	messages  metric.Int64Counter
	batchSize metric.Int64Histogram
	latency   metric.Float64Histogram
}

// NewOTel creates instruments on provider's meter. A nil provider uses the
// global meter provider.
func NewOTel(provider metric.MeterProvider) (*OTel, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var (
		o   OTel
		err error
	)
	o.events, err = meter.Int64Counter(
		"notibatch.events",
		metric.WithDescription("Batching events by type"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create events counter: %w", err)
	}

	o.messages, err = meter.Int64Counter(
		"notibatch.messages",
		metric.WithDescription("Messages affected by batching events"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}

	o.batchSize, err = meter.Int64Histogram(
		"notibatch.batch.size",
		metric.WithDescription("Size of delivered batches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch size histogram: %w", err)
	}

	o.latency, err = meter.Float64Histogram(
		"notibatch.delivery.latency",
		metric.WithDescription("Time from enqueue to successful delivery"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create latency histogram: %w", err)
	}

	return &o, nil
}

func (o *OTel) Record(event string, fields ...ports.Field) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("event", event))

	o.events.Add(ctx, 1, attrs)
	if n, ok := messageCount(event, fields); ok {
		o.messages.Add(ctx, int64(n), attrs)
	}

	switch event {
	case ports.EventBatchDelivered:
		if n, ok := intField(fields, "size"); ok {
			o.batchSize.Record(ctx, int64(n))
		}
		fallthrough
	case ports.EventMessageBypassed:
		if d, ok := durationField(fields, "latency"); ok {
			o.latency.Record(ctx, float64(d.Microseconds())/1000, attrs)
		}
	}
}
