package metrics

import (
	"errors"
	"testing"

	"github.com/kilianp07/powergov/core/events"
)

type recordSink struct {
	count  int
	status int
	fail   bool
	closed bool
}

func (r *recordSink) err() error {
	if r.fail {
		return errors.New("write failed")
	}
	return nil
}

func (r *recordSink) RecordTransition(events.TransitionEvent) error { r.count++; return r.err() }
func (r *recordSink) RecordAllocation(events.AllocationEvent) error { r.count++; return r.err() }
func (r *recordSink) RecordFault(events.FaultEvent) error           { r.count++; return r.err() }
func (r *recordSink) RecordStatus(StatusSample) error               { r.status++; return nil }
func (r *recordSink) Close() error                                  { r.closed = true; return nil }

func TestMultiSink(t *testing.T) {
	s1 := &recordSink{fail: true}
	s2 := &recordSink{}
	m := NewMultiSink(s1, s2, NopSink{})
	if err := m.RecordTransition(events.TransitionEvent{}); err == nil {
		t.Fatal("expected error from failing sink")
	}
	if err := Record(m, events.AllocationEvent{}); err == nil {
		t.Fatal("expected error from failing sink")
	}
	_ = Record(m, events.FaultEvent{})
	if s1.count != 3 || s2.count != 3 {
		t.Fatalf("events not forwarded: %d %d", s1.count, s2.count)
	}
	if err := m.RecordStatus(StatusSample{}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if s2.status != 1 {
		t.Fatalf("status not forwarded")
	}
	if err := m.Close(); err != nil || !s1.closed || !s2.closed {
		t.Fatalf("close not forwarded")
	}
}

func TestConfig_StatusInterval(t *testing.T) {
	if (Config{}).StatusInterval() != DefaultStatusInterval {
		t.Fatal("expected default interval")
	}
	if (Config{StatusIntervalMS: 250}).StatusInterval().Milliseconds() != 250 {
		t.Fatal("expected 250ms")
	}
}
