package simulator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/powergov/core/model"
)

const armLift = `
name: arm-lift
duration: 3s
tick: 20ms
baseline_amps: 2
motors:
  - id: arm
    priority: 10
    demand_amps: 20
  - id: wheel
    priority: 5
    demand_amps: 20
steps:
  - at: 500ms
    motor: wheel
    action: demand
    demand_amps: 25
  - at: 0s
    motor: arm
    action: activate
  - at: 0s
    motor: wheel
    action: activate
`

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(armLift))
	require.NoError(t, err)
	assert.Equal(t, "arm-lift", sc.Name)
	assert.Equal(t, 3*time.Second, sc.Duration)
	assert.Equal(t, 20*time.Millisecond, sc.Tick)
	require.Len(t, sc.Motors, 2)
	require.Len(t, sc.Steps, 3)
	assert.Equal(t, "arm", sc.Steps[0].Motor, "steps are sorted by time, stable")
	assert.Equal(t, "wheel", sc.Steps[1].Motor)
	assert.Equal(t, ActionDemand, sc.Steps[2].Action)
}

func TestLoadScenarioFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nduration: 1s\n"), 0o600))
	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTick, sc.Tick)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestScenarioValidate(t *testing.T) {
	cases := map[string]string{
		"no duration":    "name: x\n",
		"unknown motor":  "duration: 1s\nsteps:\n  - motor: ghost\n    action: activate\n",
		"unknown action": "duration: 1s\nmotors:\n  - id: a\nsteps:\n  - motor: a\n    action: jump\n",
		"duplicate":      "duration: 1s\nmotors:\n  - id: a\n  - id: a\n",
		"bad motor":      "duration: 1s\nmotors:\n  - id: a\n    priority: -2\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(doc))
			assert.Error(t, err)
		})
	}
}

type recordingActivator struct {
	calls []string
	prios []float64
}

func (r *recordingActivator) Register(c model.Consumer, p float64) error {
	r.calls = append(r.calls, "+"+c.ID())
	r.prios = append(r.prios, p)
	return nil
}

func (r *recordingActivator) Unregister(c model.Consumer, p float64) error {
	r.calls = append(r.calls, "-"+c.ID())
	r.prios = append(r.prios, p)
	return nil
}

func TestSchedulerAdvance(t *testing.T) {
	sc, err := ParseScenario([]byte(`
duration: 2s
motors:
  - id: arm
    priority: 10
steps:
  - at: 0s
    motor: arm
    action: activate
  - at: 1s
    motor: arm
    action: activate
    priority: 3
  - at: 1s
    action: panel_fail
  - at: 1500ms
    motor: arm
    action: deactivate
  - at: 1500ms
    action: panel_ok
`))
	require.NoError(t, err)
	motors, panel := sc.Build()
	act := &recordingActivator{}
	s := NewScheduler(sc, motors, panel, act)

	applied, err := s.Advance(0)
	require.NoError(t, err)
	assert.Len(t, applied, 1)
	assert.Equal(t, []string{"+arm"}, act.calls)

	applied, err = s.Advance(time.Second)
	require.NoError(t, err)
	assert.Len(t, applied, 2)
	assert.Equal(t, []float64{10, 3}, act.prios)
	_, err = panel.TotalCurrentDraw(context.Background())
	assert.ErrorIs(t, err, ErrPanelFault)

	_, err = s.Advance(2 * time.Second)
	require.NoError(t, err)
	assert.True(t, s.Done())
	assert.Equal(t, []string{"+arm", "+arm", "-arm"}, act.calls)
	_, err = panel.TotalCurrentDraw(context.Background())
	assert.NoError(t, err)
}
