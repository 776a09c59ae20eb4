package simulator

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/powergov/core/governor"
	"github.com/kilianp07/powergov/core/model"
	"github.com/kilianp07/powergov/infra/logger"
)

// Sample is the state of the simulation after one tick.
type Sample struct {
	Elapsed   time.Duration `json:"elapsed"`
	TotalAmps float64       `json:"total_amps"`
	State     model.State   `json:"state"`
	Limited   int           `json:"limited"`
}

// Result summarizes a run.
type Result struct {
	Scenario string `json:"scenario"`
	Ticks    int    `json:"ticks"`
	// Episodes counts the spikes that reached the limiting state.
	Episodes      int         `json:"episodes"`
	LimitingTicks int         `json:"limiting_ticks"`
	PeakAmps      float64     `json:"peak_amps"`
	Final         model.State `json:"final"`
	Samples       []Sample    `json:"samples,omitempty"`
}

// LimitingTime is the simulated time spent limiting.
func (r Result) LimitingTime(tick time.Duration) time.Duration {
	return time.Duration(r.LimitingTicks) * tick
}

// RunOption configures Run.
type RunOption func(*runOptions)

type runOptions struct {
	samples bool
	govOpts []governor.Option
	log     logger.Logger
}

// WithSamples records one Sample per tick in the Result.
func WithSamples() RunOption {
	return func(o *runOptions) { o.samples = true }
}

// WithGovernorOptions forwards options to governor.New.
func WithGovernorOptions(opts ...governor.Option) RunOption {
	return func(o *runOptions) { o.govOpts = append(o.govOpts, opts...) }
}

// WithRunLogger sets the simulation logger.
func WithRunLogger(l logger.Logger) RunOption {
	return func(o *runOptions) { o.log = logger.OrNop(l) }
}

// Run plays the scenario in simulated time against a fresh governor. Each
// tick applies due steps, moves the motors, runs one governor tick and
// waits for the resulting limit calls so the next tick sees their effect.
func Run(ctx context.Context, sc *Scenario, cfg governor.Config, opts ...RunOption) (Result, error) {
	o := runOptions{log: logger.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	tick := sc.Tick
	if tick <= 0 {
		tick = DefaultTick
	}

	motors, panel := sc.Build()
	reg := governor.NewRegistry()
	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	govOpts := append([]governor.Option{governor.WithClock(func() time.Time { return now })}, o.govOpts...)
	gov, err := governor.New(cfg, reg, panel, govOpts...)
	if err != nil {
		return Result{}, err
	}
	sched := NewScheduler(sc, motors, panel, reg)

	res := Result{Scenario: sc.Name}
	prev := model.StateNormal
	for elapsed := time.Duration(0); elapsed <= sc.Duration; elapsed += tick {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		now = start.Add(elapsed)
		applied, err := sched.Advance(elapsed)
		if err != nil {
			o.log.Warnf("scenario %s: %v", sc.Name, err)
		}
		for _, st := range applied {
			o.log.Debugw("step", map[string]any{"at": st.At.String(), "motor": st.Motor, "action": st.Action})
		}
		for _, m := range motors {
			m.Step(tick)
		}
		state := gov.Tick(ctx, now)
		if err := gov.Flush(ctx); err != nil {
			return res, fmt.Errorf("flush limits: %w", err)
		}
		st := gov.Status()
		total := st.TotalAmps

		res.Ticks++
		if total > res.PeakAmps {
			res.PeakAmps = total
		}
		if state == model.StateLimiting {
			res.LimitingTicks++
			if prev != model.StateLimiting {
				res.Episodes++
			}
		}
		if o.samples {
			res.Samples = append(res.Samples, Sample{
				Elapsed:   elapsed,
				TotalAmps: total,
				State:     state,
				Limited:   len(st.Limited),
			})
		}
		prev = state
	}
	res.Final = prev
	if err := gov.Stop(); err != nil {
		return res, err
	}
	o.log.Infof("scenario %s: %d ticks, %d limiting episodes, peak %.2fA", sc.Name, res.Ticks, res.Episodes, res.PeakAmps)
	return res, nil
}
