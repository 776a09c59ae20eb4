package metrics

import (
	"github.com/kilianp07/powergov/core/events"
)

// MetricsSink records governor events for observability purposes.
type MetricsSink interface {
	RecordTransition(ev events.TransitionEvent) error
	RecordAllocation(ev events.AllocationEvent) error
	RecordFault(ev events.FaultEvent) error
}

// StatusRecorder is implemented by sinks that also sample the governor
// status periodically.
type StatusRecorder interface {
	RecordStatus(s StatusSample) error
}

// StatusSample is the subset of governor status exported as time series.
type StatusSample struct {
	State      string
	TotalAmps  float64
	Registered int
	Limited    int
}

// Closer is implemented by sinks holding network resources.
type Closer interface {
	Close() error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordTransition(events.TransitionEvent) error { return nil }
func (NopSink) RecordAllocation(events.AllocationEvent) error { return nil }
func (NopSink) RecordFault(events.FaultEvent) error           { return nil }
func (NopSink) RecordStatus(StatusSample) error               { return nil }

// Record dispatches ev to the matching sink method. Unknown events are
// ignored.
func Record(s MetricsSink, ev events.Event) error {
	switch e := ev.(type) {
	case events.TransitionEvent:
		return s.RecordTransition(e)
	case events.AllocationEvent:
		return s.RecordAllocation(e)
	case events.FaultEvent:
		return s.RecordFault(e)
	}
	return nil
}
