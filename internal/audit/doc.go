// Package audit dispatches security-relevant pinflow events to a sink off the caller's path.
//
// # Components
//
//   - [Sink]: consumer interface with channel, JSON writer, zap and no-op implementations.
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full delivery.
//   - [Event]: one record with timestamp, type, flow, device and metadata.
//
// # Architecture boundaries
//
// This package owns buffering and sink delivery. The Engine decides which events exist
// and when they are emitted.
//
// # What this package must NOT do
//
//   - Filter events based on business rules.
//   - Import pinflow or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
