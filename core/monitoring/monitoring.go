package monitoring

import (
	"time"

	"github.com/kilianp07/powergov/core/events"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) Flush(time.Duration) bool                  { return true }

// DefaultFlushTimeout bounds Close on a FaultSink.
const DefaultFlushTimeout = 2 * time.Second

// FaultSink reports consumer and registry faults to a Monitor. Transitions
// and allocations are not errors and are ignored.
type FaultSink struct {
	Monitor Monitor
}

func (FaultSink) RecordTransition(events.TransitionEvent) error { return nil }
func (FaultSink) RecordAllocation(events.AllocationEvent) error { return nil }

// RecordFault captures ev.Err tagged with the consumer and operation.
func (s FaultSink) RecordFault(ev events.FaultEvent) error {
	if ev.Err == nil {
		return nil
	}
	tags := map[string]string{"op": ev.Op}
	if ev.ConsumerID != "" {
		tags["consumer"] = ev.ConsumerID
	}
	s.Monitor.CaptureException(ev.Err, tags)
	return nil
}

// Close flushes buffered reports.
func (s FaultSink) Close() error {
	s.Monitor.Flush(DefaultFlushTimeout)
	return nil
}
