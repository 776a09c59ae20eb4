package governor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/powergov/core/model"
)

type fakeConsumer struct {
	model.LimitState

	id       string
	priority float64

	mu     sync.Mutex
	draw   float64
	calls  []string
	block  chan struct{}
	panics bool
	fail   bool
}

func newFake(id string, priority, draw float64) *fakeConsumer {
	return &fakeConsumer{id: id, priority: priority, draw: draw}
}

func (f *fakeConsumer) ID() string        { return f.id }
func (f *fakeConsumer) Priority() float64 { return f.priority }

func (f *fakeConsumer) CurrentDraw() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draw
}

func (f *fakeConsumer) setDraw(a float64) {
	f.mu.Lock()
	f.draw = a
	f.mu.Unlock()
}

func (f *fakeConsumer) record(op string) (block chan struct{}, panics, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	return f.block, f.panics, f.fail
}

func (f *fakeConsumer) SetPowerLimit(amps float64) error {
	block, panics, fail := f.record("set")
	if block != nil {
		<-block
	}
	if panics {
		panic("boom")
	}
	if fail {
		return errors.New("bus error")
	}
	f.Apply(amps)
	return nil
}

func (f *fakeConsumer) ClearPowerLimit() error {
	block, panics, fail := f.record("clear")
	if block != nil {
		<-block
	}
	if panics {
		panic("boom")
	}
	if fail {
		return errors.New("bus error")
	}
	f.Clear()
	return nil
}

func (f *fakeConsumer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeConsumer) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

// fakePanel is a settable telemetry source.
type fakePanel struct {
	mu   sync.Mutex
	amps float64
	err  error
}

func (p *fakePanel) set(a float64) {
	p.mu.Lock()
	p.amps, p.err = a, nil
	p.mu.Unlock()
}

func (p *fakePanel) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakePanel) TotalCurrentDraw(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.amps, p.err
}

var t0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }
