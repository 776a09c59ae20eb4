package eventlog

import (
	"context"
	"time"

	"github.com/kilianp07/powergov/core/events"
	"github.com/kilianp07/powergov/core/model"
)

// Kind identifies the event a Record was built from.
type Kind string

const (
	KindTransition Kind = "transition"
	KindAllocation Kind = "allocation"
	KindFault      Kind = "fault"
)

// Record is the persisted form of a governor event.
type Record struct {
	Timestamp   time.Time          `json:"timestamp"`
	Kind        Kind               `json:"kind"`
	EpisodeID   string             `json:"episode_id,omitempty"`
	From        string             `json:"from,omitempty"`
	To          string             `json:"to,omitempty"`
	TotalAmps   float64            `json:"total_amps"`
	TargetAmps  float64            `json:"target_amps,omitempty"`
	Allocations []model.Allocation `json:"allocations,omitempty"`
	ConsumerID  string             `json:"consumer_id,omitempty"`
	Op          string             `json:"op,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// FromEvent converts a bus event. ok is false for unknown event types.
func FromEvent(ev events.Event) (rec Record, ok bool) {
	switch e := ev.(type) {
	case events.TransitionEvent:
		return Record{
			Timestamp: e.Time,
			Kind:      KindTransition,
			EpisodeID: e.EpisodeID,
			From:      e.From.String(),
			To:        e.To.String(),
			TotalAmps: e.TotalAmps,
		}, true
	case events.AllocationEvent:
		return Record{
			Timestamp:   e.Time,
			Kind:        KindAllocation,
			EpisodeID:   e.EpisodeID,
			TotalAmps:   e.TotalAmps,
			TargetAmps:  e.TargetAmps,
			Allocations: e.Allocations,
		}, true
	case events.FaultEvent:
		rec := Record{Timestamp: e.Time, Kind: KindFault, ConsumerID: e.ConsumerID, Op: e.Op}
		if e.Err != nil {
			rec.Error = e.Err.Error()
		}
		return rec, true
	}
	return Record{}, false
}

// Query defines filters for retrieving records. Zero fields match
// everything.
type Query struct {
	Start      time.Time
	End        time.Time
	Kind       Kind
	EpisodeID  string
	ConsumerID string
}

// Match reports whether r passes every filter of q. A consumer matches the
// consumer of a fault or any entry of an allocation.
func (q Query) Match(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.EpisodeID != "" && r.EpisodeID != q.EpisodeID {
		return false
	}
	if q.ConsumerID == "" || r.ConsumerID == q.ConsumerID {
		return true
	}
	for _, a := range r.Allocations {
		if a.ID == q.ConsumerID {
			return true
		}
	}
	return false
}

// Reader queries stored records in chronological order.
type Reader interface {
	Query(ctx context.Context, q Query) ([]Record, error)
}

// Store persists Records and supports querying.
type Store interface {
	Reader
	Append(ctx context.Context, rec Record) error
	Close() error
}
