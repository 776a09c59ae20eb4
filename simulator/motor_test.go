package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMotorFollowsDemandWithinLimit(t *testing.T) {
	m := NewMotor(MotorSpec{ID: "arm", Priority: 10, DemandAmps: 20})
	assert.Zero(t, m.CurrentDraw())
	assert.Equal(t, 20.0, m.Step(DefaultTick))

	require.NoError(t, m.SetPowerLimit(5))
	assert.Equal(t, 5.0, m.CurrentDraw(), "draw drops to the cap at once")
	m.SetDemand(30)
	assert.Equal(t, 5.0, m.Step(DefaultTick))

	require.NoError(t, m.ClearPowerLimit())
	assert.Equal(t, 30.0, m.Step(DefaultTick))
	assert.Equal(t, 2, m.LimitCalls())
}

func TestMotorSlew(t *testing.T) {
	m := NewMotor(MotorSpec{ID: "wheel", DemandAmps: 10, SlewAmpsPerSec: 100})
	assert.InDelta(t, 2.0, m.Step(20*time.Millisecond), 1e-9)
	assert.InDelta(t, 4.0, m.Step(20*time.Millisecond), 1e-9)
	m.SetDemand(0)
	assert.InDelta(t, 2.0, m.Step(20*time.Millisecond), 1e-9)
	assert.InDelta(t, 0.0, m.Step(time.Second), 1e-9)
}

func TestMotorNegativeDemand(t *testing.T) {
	m := NewMotor(MotorSpec{ID: "m"})
	m.SetDemand(-3)
	assert.Zero(t, m.Demand())
}

func TestMotorSpecValidate(t *testing.T) {
	assert.Error(t, MotorSpec{}.Validate())
	assert.Error(t, MotorSpec{ID: "m", Priority: -1}.Validate())
	assert.Error(t, MotorSpec{ID: "m", DemandAmps: -1}.Validate())
	assert.NoError(t, MotorSpec{ID: "m", Priority: 3, DemandAmps: 1}.Validate())
}

func TestPanelSumsDraws(t *testing.T) {
	a := NewMotor(MotorSpec{ID: "a", DemandAmps: 10})
	b := NewMotor(MotorSpec{ID: "b", DemandAmps: 5})
	p := NewPanel(2, a, b)

	amps, err := p.TotalCurrentDraw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.0, amps)

	a.Step(DefaultTick)
	b.Step(DefaultTick)
	amps, err = p.TotalCurrentDraw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 17.0, amps)

	p.Fail(errors.New("bus off"))
	_, err = p.TotalCurrentDraw(context.Background())
	assert.Error(t, err)
	p.Fail(nil)
	_, err = p.TotalCurrentDraw(context.Background())
	assert.NoError(t, err)
}

func TestPanelNoiseBounded(t *testing.T) {
	p := NewPanel(10).WithNoise(1, 42)
	for i := 0; i < 100; i++ {
		v := p.Total()
		assert.GreaterOrEqual(t, v, 9.0)
		assert.LessOrEqual(t, v, 11.0)
	}
}
