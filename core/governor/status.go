package governor

import (
	"sort"
	"time"

	"github.com/kilianp07/powergov/core/model"
)

// LimitedConsumer is a consumer currently held under a limit.
type LimitedConsumer struct {
	ID        string  `json:"id"`
	LimitAmps float64 `json:"limit_amps"`
}

// Status is a point-in-time view of the governor.
type Status struct {
	State        model.State       `json:"state"`
	Running      bool              `json:"running"`
	EpisodeID    string            `json:"episode_id,omitempty"`
	SpikeStart   *time.Time        `json:"spike_start,omitempty"`
	SpikeSeconds float64           `json:"spike_seconds"`
	TotalAmps    float64           `json:"total_amps"`
	TelemetryOK  bool              `json:"telemetry_ok"`
	Registered   int               `json:"registered"`
	Limited      []LimitedConsumer `json:"limited"`
	Ticks        uint64            `json:"ticks"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// IsLimiting reports whether limits are being applied.
func (s Status) IsLimiting() bool { return s.State == model.StateLimiting }

// Status returns the status recorded by the last tick.
func (g *Governor) Status() Status {
	st := *g.status.Load()
	st.Running = g.Running()
	return st
}

// publishStatus must be called with tickMu held.
func (g *Governor) publishStatus(now time.Time) {
	st := &Status{
		State:       g.detector.State(),
		EpisodeID:   g.episode,
		TotalAmps:   g.lastAmps,
		TelemetryOK: g.telemetryOK,
		Registered:  g.registry.Len(),
		Limited:     make([]LimitedConsumer, 0, len(g.limited)),
		Ticks:       g.ticks,
		UpdatedAt:   now,
	}
	if !g.episodeStart.IsZero() {
		start := g.episodeStart
		st.SpikeStart = &start
		st.SpikeSeconds = now.Sub(start).Seconds()
	}
	for id, rec := range g.limited {
		st.Limited = append(st.Limited, LimitedConsumer{ID: id, LimitAmps: rec.amps})
	}
	sort.Slice(st.Limited, func(i, j int) bool { return st.Limited[i].ID < st.Limited[j].ID })
	g.status.Store(st)
}
