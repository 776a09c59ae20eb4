package metrics

// Package metrics defines the sinks that record governor events: state
// transitions, allocations and consumer faults. Sinks like PromSink and
// InfluxSink live in infra/metrics and can be combined with NewMultiSink.
// The factory helpers return a MultiSink automatically when multiple sinks
// are configured.
