package notibatch

// Option configures optional behavior of a Batcher.
type Option func(*options)

type options struct {
	logger       Logger
	recorder     Recorder
	memory       MemorySampler
	codec        Compressor
	deadLetters  DeadLetterSink
	eventHandler EventHandler
}

// WithLogger sets the structured logger. Without it nothing is logged.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRecorder sets the telemetry sink for batching events.
func WithRecorder(recorder Recorder) Option {
	return func(o *options) {
		o.recorder = recorder
	}
}

// WithMemorySampler sets the memory source for adaptive batching.
// Without it memory usage reads as zero and batches never shrink.
func WithMemorySampler(sampler MemorySampler) Option {
	return func(o *options) {
		o.memory = sampler
	}
}

// WithCodec sets the codec used to evaluate batch compression.
// The default is zstd.
func WithCodec(codec Compressor) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// WithDeadLetterSink sets where messages go once their retries are
// exhausted. The default logs and discards them.
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(o *options) {
		o.deadLetters = sink
	}
}

// WithEventHandler sets a handler for lifecycle transitions.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}
