package eventlog

import (
	"context"
	"time"

	"github.com/kilianp07/powergov/core/events"
)

// DefaultAppendTimeout bounds a single Append issued by Sink.
const DefaultAppendTimeout = 2 * time.Second

// Sink records governor events into a Store. It satisfies the metrics sink
// interface so the event collector can feed it alongside other sinks.
type Sink struct {
	store   Store
	timeout time.Duration
}

// NewSink wraps store. Close on the sink closes the store.
func NewSink(store Store) *Sink {
	return &Sink{store: store, timeout: DefaultAppendTimeout}
}

// Store returns the wrapped store.
func (s *Sink) Store() Store { return s.store }

func (s *Sink) RecordTransition(ev events.TransitionEvent) error { return s.record(ev) }
func (s *Sink) RecordAllocation(ev events.AllocationEvent) error { return s.record(ev) }
func (s *Sink) RecordFault(ev events.FaultEvent) error           { return s.record(ev) }

func (s *Sink) Close() error { return s.store.Close() }

func (s *Sink) record(ev events.Event) error {
	rec, ok := FromEvent(ev)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.store.Append(ctx, rec)
}
