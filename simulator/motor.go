package simulator

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/kilianp07/powergov/core/model"
)

// MotorSpec describes a simulated motor.
type MotorSpec struct {
	ID         string  `yaml:"id" json:"id"`
	Priority   float64 `yaml:"priority" json:"priority"`
	DemandAmps float64 `yaml:"demand_amps" json:"demand_amps"`
	// SlewAmpsPerSec bounds how fast the draw follows the demand. 0 means
	// the draw jumps to the demand immediately.
	SlewAmpsPerSec float64 `yaml:"slew_amps_per_sec" json:"slew_amps_per_sec"`
}

// Validate checks the declared limits.
func (s MotorSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("motor: id is required")
	}
	if s.Priority < 0 || math.IsNaN(s.Priority) || math.IsInf(s.Priority, 0) {
		return fmt.Errorf("motor %s: priority must be a finite value >= 0", s.ID)
	}
	if s.DemandAmps < 0 || s.SlewAmpsPerSec < 0 {
		return fmt.Errorf("motor %s: demand and slew must be >= 0", s.ID)
	}
	return nil
}

// Motor is a simulated consumer. Its draw follows the demand but never
// exceeds the limit set by the governor.
type Motor struct {
	model.LimitState

	spec MotorSpec

	mu     sync.Mutex
	demand float64
	draw   float64
	calls  int
}

// NewMotor builds an idle motor drawing nothing until Step is called.
func NewMotor(spec MotorSpec) *Motor {
	return &Motor{spec: spec, demand: spec.DemandAmps}
}

func (m *Motor) ID() string        { return m.spec.ID }
func (m *Motor) Priority() float64 { return m.spec.Priority }

// CurrentDraw returns the simulated draw in amps.
func (m *Motor) CurrentDraw() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.draw
}

// SetDemand changes the draw the motor tries to reach.
func (m *Motor) SetDemand(amps float64) {
	m.mu.Lock()
	m.demand = math.Max(amps, 0)
	m.mu.Unlock()
}

// Demand returns the requested draw.
func (m *Motor) Demand() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.demand
}

// SetPowerLimit caps the motor. The draw drops to the cap at once.
func (m *Motor) SetPowerLimit(amps float64) error {
	m.Apply(amps)
	m.mu.Lock()
	m.calls++
	m.draw = m.Cap(m.draw)
	m.mu.Unlock()
	return nil
}

// ClearPowerLimit lifts the cap. The draw recovers on the next Step.
func (m *Motor) ClearPowerLimit() error {
	m.Clear()
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return nil
}

// LimitCalls returns how many limit commands the motor received.
func (m *Motor) LimitCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Step advances the motor by dt and returns the new draw.
func (m *Motor) Step(dt time.Duration) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := m.Cap(m.demand)
	if m.spec.SlewAmpsPerSec <= 0 || dt <= 0 {
		m.draw = want
		return m.draw
	}
	maxStep := m.spec.SlewAmpsPerSec * dt.Seconds()
	switch diff := want - m.draw; {
	case diff > maxStep:
		m.draw += maxStep
	case diff < -maxStep:
		m.draw -= maxStep
	default:
		m.draw = want
	}
	return m.draw
}
