// Package domain contains the core domain entities and value objects for notibatch.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (transport, metrics, logging) and
// contains only pure business logic.
//
// # Entities
//
//   - [Message]: A single outbound notification addressed to one recipient
//   - [QueueEntry]: A queued message with its insertion priority and time
//   - [Config]: The tunable batching parameters
//   - [Metrics]: A point-in-time snapshot of batching telemetry
//   - [Adjustment]: One record of an adaptive configuration change
//
// # Design Principles
//
// Domain entities are:
//   - Immutable after construction (where practical)
//   - Free of infrastructure dependencies
//   - Focused on business rules and invariants
//   - Testable without mocks or external systems
package domain
