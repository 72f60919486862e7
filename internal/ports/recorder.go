package ports

// Telemetry event names emitted through Recorder.
const (
	EventMessageBypassed      = "message_bypassed"
	EventMessageDropped       = "message_dropped"
	EventMessageDuplicate     = "message_duplicate"
	EventBatchDelivered       = "batch_delivered"
	EventBatchFailed          = "batch_failed"
	EventMessagesRequeued     = "messages_requeued"
	EventMessagesDeadLettered = "messages_dead_lettered"
	EventMessagesEvicted      = "messages_evicted"
	EventCompression          = "compression_evaluated"
	EventConfigAdjusted       = "config_adjusted"
	EventFlushAll             = "flush_all"
)

// Recorder is the telemetry sink. It receives one call per batching event
// with the event's structured fields. Implementations must be safe for
// concurrent use and should not block.
type Recorder interface {
	Record(event string, fields ...Field)
}
