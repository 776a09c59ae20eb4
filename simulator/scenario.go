package simulator

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/powergov/core/model"
)

// Step actions.
const (
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
	ActionDemand     = "demand"
	ActionPanelFail  = "panel_fail"
	ActionPanelOK    = "panel_ok"
)

// ErrPanelFault is injected by the panel_fail action.
var ErrPanelFault = errors.New("simulated panel fault")

// Step is one scheduled event of a scenario.
type Step struct {
	At         time.Duration `yaml:"at" json:"at"`
	Motor      string        `yaml:"motor" json:"motor"`
	Action     string        `yaml:"action" json:"action"`
	DemandAmps float64       `yaml:"demand_amps" json:"demand_amps"`
	// Priority overrides the motor priority for activate and deactivate.
	Priority *float64 `yaml:"priority" json:"priority,omitempty"`
}

// Scenario is a scripted run: a set of motors and what happens to them.
type Scenario struct {
	Name         string        `yaml:"name" json:"name"`
	Duration     time.Duration `yaml:"duration" json:"duration"`
	Tick         time.Duration `yaml:"tick" json:"tick"`
	BaselineAmps float64       `yaml:"baseline_amps" json:"baseline_amps"`
	NoiseAmps    float64       `yaml:"noise_amps" json:"noise_amps"`
	Seed         int64         `yaml:"seed" json:"seed"`
	Motors       []MotorSpec   `yaml:"motors" json:"motors"`
	Steps        []Step        `yaml:"steps" json:"steps"`
}

// DefaultTick matches the governor's default poll interval.
const DefaultTick = 20 * time.Millisecond

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario. Steps are sorted by
// time, keeping file order for equal times.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if sc.Tick <= 0 {
		sc.Tick = DefaultTick
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	sort.SliceStable(sc.Steps, func(i, j int) bool { return sc.Steps[i].At < sc.Steps[j].At })
	return &sc, nil
}

// Validate checks motors and steps.
func (sc *Scenario) Validate() error {
	if sc.Duration <= 0 {
		return fmt.Errorf("scenario %q: duration must be > 0", sc.Name)
	}
	if sc.Tick < 0 {
		return fmt.Errorf("scenario %q: tick must be >= 0", sc.Name)
	}
	ids := make(map[string]bool, len(sc.Motors))
	for _, m := range sc.Motors {
		if err := m.Validate(); err != nil {
			return err
		}
		if ids[m.ID] {
			return fmt.Errorf("scenario %q: duplicate motor %s", sc.Name, m.ID)
		}
		ids[m.ID] = true
	}
	for i, st := range sc.Steps {
		switch st.Action {
		case ActionPanelFail, ActionPanelOK:
			continue
		case ActionActivate, ActionDeactivate, ActionDemand:
		default:
			return fmt.Errorf("step %d: unknown action %q", i, st.Action)
		}
		if !ids[st.Motor] {
			return fmt.Errorf("step %d: unknown motor %q", i, st.Motor)
		}
		if st.At < 0 {
			return fmt.Errorf("step %d: at must be >= 0", i)
		}
	}
	return nil
}

// Build creates the motors and the panel of the scenario.
func (sc *Scenario) Build() (map[string]*Motor, *Panel) {
	motors := make(map[string]*Motor, len(sc.Motors))
	list := make([]*Motor, 0, len(sc.Motors))
	for _, spec := range sc.Motors {
		m := NewMotor(spec)
		motors[spec.ID] = m
		list = append(list, m)
	}
	panel := NewPanel(sc.BaselineAmps, list...)
	if sc.NoiseAmps > 0 {
		panel.WithNoise(sc.NoiseAmps, sc.Seed)
	}
	return motors, panel
}

// Activator receives priority contributions. *governor.Registry
// implements it.
type Activator interface {
	Register(c model.Consumer, priority float64) error
	Unregister(c model.Consumer, priority float64) error
}

// Scheduler replays scenario steps against an Activator as time passes.
type Scheduler struct {
	steps  []Step
	next   int
	motors map[string]*Motor
	panel  *Panel
	act    Activator
}

// NewScheduler builds a scheduler over the scenario's motors.
func NewScheduler(sc *Scenario, motors map[string]*Motor, panel *Panel, act Activator) *Scheduler {
	return &Scheduler{steps: sc.Steps, motors: motors, panel: panel, act: act}
}

// Advance applies every step due at or before elapsed and returns them.
func (s *Scheduler) Advance(elapsed time.Duration) ([]Step, error) {
	var applied []Step
	var errs []error
	for s.next < len(s.steps) && s.steps[s.next].At <= elapsed {
		st := s.steps[s.next]
		s.next++
		if err := s.apply(st); err != nil {
			errs = append(errs, fmt.Errorf("step at %s: %w", st.At, err))
			continue
		}
		applied = append(applied, st)
	}
	return applied, errors.Join(errs...)
}

// Done reports whether every step has been applied.
func (s *Scheduler) Done() bool { return s.next >= len(s.steps) }

func (s *Scheduler) apply(st Step) error {
	switch st.Action {
	case ActionPanelFail:
		s.panel.Fail(ErrPanelFault)
		return nil
	case ActionPanelOK:
		s.panel.Fail(nil)
		return nil
	}
	m, ok := s.motors[st.Motor]
	if !ok {
		return fmt.Errorf("unknown motor %q", st.Motor)
	}
	priority := m.Priority()
	if st.Priority != nil {
		priority = *st.Priority
	}
	switch st.Action {
	case ActionActivate:
		return s.act.Register(m, priority)
	case ActionDeactivate:
		return s.act.Unregister(m, priority)
	case ActionDemand:
		m.SetDemand(st.DemandAmps)
		return nil
	default:
		return fmt.Errorf("unknown action %q", st.Action)
	}
}
