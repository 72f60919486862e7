// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// In Clean Architecture / Hexagonal Architecture, ports are the boundaries
// between the application core and the outside world. They define what the
// application needs from external systems without specifying how those needs
// are fulfilled.
//
// # Port Interfaces
//
//   - [DeliverFunc] / [FlushFunc]: Hand finished batches to a transport
//   - [Compressor]: Byte-level compression codec
//   - [MemorySampler]: Reports process memory pressure
//   - [Recorder]: Telemetry event sink
//   - [DeadLetterSink]: Receives messages that exhausted their retries
//   - [Logger]: Structured logging abstraction
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement these interfaces
// with concrete implementations (websocket, redis, prometheus, zerolog, etc.).
package ports
