// Package telemetry provides ports.Recorder implementations that export
// batching events to Prometheus, OpenTelemetry or the log.
package telemetry

import (
	"time"

	"github.com/bft-labs/notibatch/internal/ports"
)

// Noop discards every event.
type Noop struct{}

func (Noop) Record(string, ...ports.Field) {}

// Multi fans every event out to each recorder in order.
type Multi []ports.Recorder

func (m Multi) Record(event string, fields ...ports.Field) {
	for _, r := range m {
		r.Record(event, fields...)
	}
}

// Log writes every event at debug level.
type Log struct {
	Logger ports.Logger
}

func (l Log) Record(event string, fields ...ports.Field) {
	l.Logger.Debug(event, fields...)
}

func intField(fields []ports.Field, key string) (int, bool) {
	for _, f := range fields {
		if f.Key != key {
			continue
		}
		switch v := f.Value.(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		}
	}
	return 0, false
}

func durationField(fields []ports.Field, key string) (time.Duration, bool) {
	for _, f := range fields {
		if f.Key == key {
			d, ok := f.Value.(time.Duration)
			return d, ok
		}
	}
	return 0, false
}

// messageCount is the number of messages an event concerns. ok is false for
// events that are not about messages, such as configuration changes.
func messageCount(event string, fields []ports.Field) (n int, ok bool) {
	switch event {
	case ports.EventFlushAll:
		return intField(fields, "delivered")
	case ports.EventConfigAdjusted, ports.EventCompression:
		return 0, false
	}
	if n, ok := intField(fields, "count"); ok {
		return n, true
	}
	if n, ok := intField(fields, "size"); ok {
		return n, true
	}
	switch event {
	case ports.EventMessageBypassed, ports.EventMessageDropped, ports.EventMessageDuplicate:
		return 1, true
	}
	return 0, false
}
