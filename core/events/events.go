package events

import (
	"time"

	"github.com/kilianp07/powergov/core/model"
)

// Event is implemented by every governor event.
type Event interface {
	OccurredAt() time.Time
}

// TransitionEvent is published when the spike detector changes state.
// EpisodeID groups all events of one spike, from Spiking back to Normal.
type TransitionEvent struct {
	EpisodeID string
	From      model.State
	To        model.State
	TotalAmps float64
	Time      time.Time
}

func (e TransitionEvent) OccurredAt() time.Time { return e.Time }

// AllocationEvent is published after limits were issued during a tick.
type AllocationEvent struct {
	EpisodeID   string
	TargetAmps  float64
	TotalAmps   float64
	Allocations []model.Allocation
	Time        time.Time
}

func (e AllocationEvent) OccurredAt() time.Time { return e.Time }

// Fault operations.
const (
	OpSetLimit   = "set_limit"
	OpClearLimit = "clear_limit"
	OpRegistry   = "registry"
	OpTelemetry  = "telemetry"
)

// FaultEvent reports a locally recovered failure.
type FaultEvent struct {
	ConsumerID string
	Op         string
	Err        error
	Time       time.Time
}

func (e FaultEvent) OccurredAt() time.Time { return e.Time }
