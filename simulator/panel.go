package simulator

import (
	"context"
	"math/rand"
	"sync"
)

// Panel is a simulated power distribution panel. It reports the sum of
// the motor draws plus a constant baseline.
type Panel struct {
	baseline float64
	motors   []*Motor

	mu    sync.Mutex
	noise float64
	rng   *rand.Rand
	err   error
}

// NewPanel builds a panel over motors.
func NewPanel(baseline float64, motors ...*Motor) *Panel {
	return &Panel{baseline: baseline, motors: motors}
}

// WithNoise adds uniform noise in [-amps, amps] to every reading.
func (p *Panel) WithNoise(amps float64, seed int64) *Panel {
	p.mu.Lock()
	p.noise = amps
	p.rng = rand.New(rand.NewSource(seed))
	p.mu.Unlock()
	return p
}

// Fail makes readings return err until it is called with nil.
func (p *Panel) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// Total returns the current reading without fault injection.
func (p *Panel) Total() float64 {
	total := p.baseline
	for _, m := range p.motors {
		total += m.CurrentDraw()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.noise > 0 && p.rng != nil {
		total += (p.rng.Float64()*2 - 1) * p.noise
	}
	if total < 0 {
		return 0
	}
	return total
}

// TotalCurrentDraw implements model.TelemetrySource.
func (p *Panel) TotalCurrentDraw(context.Context) (float64, error) {
	p.mu.Lock()
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return p.Total(), nil
}
