package metrics

import (
	"errors"

	"github.com/kilianp07/powergov/core/events"
)

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordTransition forwards to every sink; one failing sink does not starve
// the others.
func (m *MultiSink) RecordTransition(ev events.TransitionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordTransition(ev))
	}
	return errors.Join(errs...)
}

// RecordAllocation forwards allocation events.
func (m *MultiSink) RecordAllocation(ev events.AllocationEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordAllocation(ev))
	}
	return errors.Join(errs...)
}

// RecordFault forwards fault events.
func (m *MultiSink) RecordFault(ev events.FaultEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordFault(ev))
	}
	return errors.Join(errs...)
}

// RecordStatus forwards status samples when supported by the sink.
func (m *MultiSink) RecordStatus(st StatusSample) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(StatusRecorder); ok {
			errs = append(errs, r.RecordStatus(st))
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink implementing Closer.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.Sinks {
		if c, ok := s.(Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
