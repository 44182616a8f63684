// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that dispatchers use to report export lifecycle milestones. It
// batches events on a background goroutine and fans them out to pluggable
// sinks such as structured logs, Prometheus metrics, an audit table, or a
// Pub/Sub topic.
package progress
