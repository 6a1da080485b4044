// Package llms defines the streaming model capability used by the step orchestrator.
//
// A Model turns a conversation into a ContentStream of events: text deltas,
// fully assembled tool calls, and a final finish event with usage.
// A stream that ends without a finish event is incomplete and must not be acted upon.
//
// Provider specific implementations live in subpackages.
package llms
