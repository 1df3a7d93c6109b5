// Package progress carries harvest run events from the workers to pluggable sinks.
// Emit never blocks: events are buffered, batched on a background goroutine and
// fanned out to every registered sink.
package progress
