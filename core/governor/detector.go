package governor

import (
	"time"

	"github.com/kilianp07/powergov/core/model"
)

// SpikeDetector is the state machine deciding when to limit. The same
// threshold is used to enter and leave a spike; readings hovering around it
// will toggle between Normal and Spiking.
type SpikeDetector struct {
	threshold   float64
	minDuration time.Duration
	state       model.State
	since       time.Time
}

// NewSpikeDetector returns a detector in the Normal state.
func NewSpikeDetector(threshold float64, minDuration time.Duration) *SpikeDetector {
	return &SpikeDetector{threshold: threshold, minDuration: minDuration}
}

// Step advances the machine by one reading. It performs at most one
// transition and returns the state before and after.
func (d *SpikeDetector) Step(totalCurrent float64, now time.Time) (from, to model.State) {
	from = d.state
	over := totalCurrent > d.threshold
	switch d.state {
	case model.StateNormal:
		if over {
			d.state = model.StateSpiking
			d.since = now
		}
	case model.StateSpiking:
		if !over {
			d.state = model.StateNormal
			d.since = time.Time{}
		} else if now.Sub(d.since) >= d.minDuration {
			d.state = model.StateLimiting
			d.since = time.Time{}
		}
	case model.StateLimiting:
		if !over {
			d.state = model.StateNormal
		}
	}
	return from, d.state
}

// State returns the current state.
func (d *SpikeDetector) State() model.State { return d.state }

// Since returns when the current spike began. It is only set while Spiking.
func (d *SpikeDetector) Since() (time.Time, bool) {
	if d.state != model.StateSpiking {
		return time.Time{}, false
	}
	return d.since, true
}

// Configure changes the threshold and debounce window. A spike already in
// progress keeps its start time.
func (d *SpikeDetector) Configure(threshold float64, minDuration time.Duration) {
	d.threshold = threshold
	d.minDuration = minDuration
}

// Reset returns the detector to Normal.
func (d *SpikeDetector) Reset() {
	d.state = model.StateNormal
	d.since = time.Time{}
}
