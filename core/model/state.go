package model

import "fmt"

// State is the governor's spike-handling phase.
type State int

const (
	// StateNormal means total current is at or below the threshold.
	StateNormal State = iota
	// StateSpiking means the threshold is exceeded but not yet for long
	// enough to act.
	StateSpiking
	// StateLimiting means the spike outlasted the debounce window and
	// limits are being applied.
	StateLimiting
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateSpiking:
		return "spiking"
	case StateLimiting:
		return "limiting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "normal":
		*s = StateNormal
	case "spiking":
		*s = StateSpiking
	case "limiting":
		*s = StateLimiting
	default:
		return fmt.Errorf("unknown state %q", b)
	}
	return nil
}

// Allocation is the limit computed for one consumer during a limiting tick.
type Allocation struct {
	ID        string  `json:"id"`
	Priority  float64 `json:"priority"`
	DrawAmps  float64 `json:"draw_amps"`
	Scale     float64 `json:"scale"`
	Weighted  float64 `json:"weighted"`
	LimitAmps float64 `json:"limit_amps"`
}
