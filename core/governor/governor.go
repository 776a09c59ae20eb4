package governor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kilianp07/powergov/core/events"
	"github.com/kilianp07/powergov/core/logger"
	"github.com/kilianp07/powergov/core/model"
	"github.com/kilianp07/powergov/internal/eventbus"
)

// ErrBadReading is reported when the telemetry source returns a non-finite value.
var ErrBadReading = errors.New("non-finite current reading")

// allocationEventInterval throttles AllocationEvent publication during a
// long limiting episode. The first allocation of an episode is always sent.
const allocationEventInterval = 250 * time.Millisecond

// Option configures a Governor.
type Option func(*Governor)

// WithLogger sets the governor logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Governor) {
		if l != nil {
			g.log = l
		}
	}
}

// WithEventBus publishes transitions, allocations and faults on bus.
func WithEventBus(bus eventbus.EventBus[events.Event]) Option {
	return func(g *Governor) { g.bus = bus }
}

// WithClock replaces time.Now for the control loop.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		if now != nil {
			g.now = now
		}
	}
}

type limitRecord struct {
	consumer model.Consumer
	amps     float64
}

// Governor is the periodic control loop. It is safe for concurrent use; Tick
// calls are serialized.
type Governor struct {
	registry *Registry
	source   model.TelemetrySource
	log      logger.Logger
	bus      eventbus.EventBus[events.Event]
	now      func() time.Time

	cfgMu   sync.Mutex
	cfg     Config
	nextCfg *Config

	tickMu       sync.Mutex
	detector     *SpikeDetector
	limited      map[string]limitRecord
	acts         *actuatorSet
	episode      string
	episodeStart time.Time
	allocEvents  *rate.Sometimes
	telemetryLog rate.Sometimes
	ticks        uint64
	lastAmps     float64
	telemetryOK  bool

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopErr error
	running atomic.Bool

	status atomic.Pointer[Status]
}

// New builds a stopped governor. The registry and telemetry source are
// required.
func New(cfg Config, reg *Registry, src model.TelemetrySource, opts ...Option) (*Governor, error) {
	if reg == nil || src == nil {
		return nil, fmt.Errorf("governor: nil registry or telemetry source")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Governor{
		registry:     reg,
		source:       src,
		log:          logger.NopLogger{},
		now:          time.Now,
		cfg:          cfg,
		detector:     NewSpikeDetector(cfg.SpikeThresholdAmps, cfg.MinSpikeDuration()),
		limited:      make(map[string]limitRecord),
		telemetryLog: rate.Sometimes{First: 1, Interval: time.Second},
		telemetryOK:  true,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.acts = g.newActuators(cfg)
	g.publishStatus(g.now())
	return g, nil
}

func (g *Governor) newActuators(cfg Config) *actuatorSet {
	return newActuatorSet(g.log.With("module", "actuator"), cfg.SlowCall(), g.onCallResult)
}

// Registry returns the registry the governor reads from.
func (g *Governor) Registry() *Registry { return g.registry }

// Config returns the configuration in effect.
func (g *Governor) Config() Config {
	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()
	return g.cfg
}

// UpdateConfig validates cfg and applies it at the next tick boundary.
func (g *Governor) UpdateConfig(cfg Config) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	g.cfgMu.Lock()
	g.nextCfg = &cfg
	g.cfgMu.Unlock()
	return nil
}

func (g *Governor) applyPendingConfig() Config {
	g.cfgMu.Lock()
	defer g.cfgMu.Unlock()
	if g.nextCfg != nil {
		g.cfg = *g.nextCfg
		g.nextCfg = nil
		g.detector.Configure(g.cfg.SpikeThresholdAmps, g.cfg.MinSpikeDuration())
		g.log.Infof("config updated: threshold=%.1fA min_spike=%s target=%.1fA poll=%s",
			g.cfg.SpikeThresholdAmps, g.cfg.MinSpikeDuration(), g.cfg.TargetTotalAmps, g.cfg.PollInterval())
	}
	return g.cfg
}

// Start runs the control loop in a new goroutine until Stop is called or ctx
// is canceled. Calling Start on a running governor does nothing.
func (g *Governor) Start(ctx context.Context) {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	if g.runningLocked() {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	g.cancel, g.done, g.stopErr = cancel, done, nil
	g.running.Store(true)
	go g.loop(runCtx, done)
}

func (g *Governor) runningLocked() bool {
	if g.done == nil {
		return false
	}
	select {
	case <-g.done:
		return false
	default:
		return true
	}
}

// Stop halts the loop and clears every limit before returning. Calling Stop
// on a stopped governor only repeats the clear.
func (g *Governor) Stop() error {
	g.lifeMu.Lock()
	defer g.lifeMu.Unlock()
	if g.done == nil {
		return g.shutdown()
	}
	g.cancel()
	<-g.done
	err := g.stopErr
	g.cancel, g.done = nil, nil
	return err
}

// Running reports whether the loop goroutine is active.
func (g *Governor) Running() bool { return g.running.Load() }

func (g *Governor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer g.running.Store(false)

	g.tickMu.Lock()
	interval := g.applyPendingConfig().PollInterval()
	g.tickMu.Unlock()
	g.log.Infof("governor started, polling every %s", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.stopErr = g.shutdown()
			g.log.Infof("governor stopped")
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			g.Tick(ctx, g.now())
			if next := g.Config().PollInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Tick runs one control iteration at the given time and returns the
// resulting state. Start calls it on every poll interval; tests and custom
// schedulers may call it directly.
func (g *Governor) Tick(ctx context.Context, now time.Time) model.State {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()
	start := time.Now()

	cfg := g.applyPendingConfig()
	g.syncRegistry()

	amps := g.readTotal(ctx)
	from, to := g.detector.Step(amps, now)
	if from != to {
		g.transition(from, to, amps, now)
	}
	switch {
	case to == model.StateLimiting:
		g.allocate(cfg, amps, now)
	case to == model.StateNormal && from != model.StateNormal:
		g.clearLimited()
	}

	g.ticks++
	totalCurrent.Set(amps)
	governorState.Set(float64(to))
	limitedConsumers.Set(float64(len(g.limited)))
	tickDuration.Observe(time.Since(start).Seconds())
	g.publishStatus(now)
	return to
}

// Flush waits until every issued limit call has completed.
func (g *Governor) Flush(ctx context.Context) error {
	g.tickMu.Lock()
	acts := g.acts
	g.tickMu.Unlock()
	return acts.flush(ctx)
}

func (g *Governor) syncRegistry() {
	for _, rm := range g.registry.Sync() {
		id := rm.Consumer.ID()
		if rm.Negative() {
			err := fmt.Errorf("aggregate priority %.6f below zero", rm.Aggregate)
			g.log.Warnf("consumer %s unregistered more than registered: %v", id, err)
			g.publish(events.FaultEvent{ConsumerID: id, Op: events.OpRegistry, Err: err, Time: g.now()})
		}
		g.acts.clearLimit(rm.Consumer)
		g.acts.retire(id)
		if _, ok := g.limited[id]; ok {
			delete(g.limited, id)
			consumerLimit.DeleteLabelValues(id)
		}
	}
	registeredCount.Set(float64(g.registry.Len()))
}

// readTotal returns the total current, or 0 when the source fails so the
// tick behaves as if there were no spike.
func (g *Governor) readTotal(ctx context.Context) float64 {
	amps, err := g.source.TotalCurrentDraw(ctx)
	if err == nil && (math.IsNaN(amps) || math.IsInf(amps, 0)) {
		err = fmt.Errorf("%w: %v", ErrBadReading, amps)
	}
	if err != nil {
		g.telemetryOK = false
		telemetryFailures.Inc()
		g.telemetryLog.Do(func() {
			g.log.Warnf("telemetry read failed, treating as not spiking: %v", err)
			g.publish(events.FaultEvent{Op: events.OpTelemetry, Err: err, Time: g.now()})
		})
		g.lastAmps = 0
		return 0
	}
	g.telemetryOK = true
	g.lastAmps = amps
	return amps
}

func (g *Governor) transition(from, to model.State, amps float64, now time.Time) {
	if from == model.StateNormal {
		g.episode = uuid.NewString()
		g.episodeStart = now
		g.allocEvents = &rate.Sometimes{First: 1, Interval: allocationEventInterval}
	}
	transitions.WithLabelValues(from.String(), to.String()).Inc()
	g.publish(events.TransitionEvent{EpisodeID: g.episode, From: from, To: to, TotalAmps: amps, Time: now})
	switch to {
	case model.StateSpiking:
		g.log.Debugf("spike started at %.2fA", amps)
	case model.StateLimiting:
		g.log.Infof("spike lasted %s at %.2fA, limiting %d consumers", now.Sub(g.episodeStart), amps, g.registry.Len())
	case model.StateNormal:
		g.log.Infof("spike cleared after %s (%.2fA)", now.Sub(g.episodeStart), amps)
		g.episode = ""
		g.episodeStart = time.Time{}
	}
}

func (g *Governor) allocate(cfg Config, amps float64, now time.Time) {
	snap := g.registry.Snapshot()
	allocs := Allocate(snap.Samples, cfg.TargetTotalAmps)
	if allocs == nil && snap.Len() > 0 {
		// Nothing is drawing; keep the current limits until the spike clears.
		return
	}

	next := make(map[string]limitRecord, len(allocs))
	for _, a := range allocs {
		if c, ok := snap.Consumer(a.ID); ok {
			next[a.ID] = limitRecord{consumer: c, amps: a.LimitAmps}
		}
	}
	for id, rec := range g.limited {
		if _, ok := next[id]; !ok {
			g.acts.clearLimit(rec.consumer)
			consumerLimit.DeleteLabelValues(id)
		}
	}
	for _, a := range allocs {
		rec, ok := next[a.ID]
		if !ok {
			continue
		}
		g.acts.setLimit(rec.consumer, rec.amps)
		consumerLimit.WithLabelValues(a.ID).Set(rec.amps)
	}
	g.limited = next

	if len(allocs) > 0 && g.allocEvents != nil {
		g.allocEvents.Do(func() {
			g.publish(events.AllocationEvent{
				EpisodeID:   g.episode,
				TargetAmps:  cfg.TargetTotalAmps,
				TotalAmps:   amps,
				Allocations: allocs,
				Time:        now,
			})
		})
	}
}

func (g *Governor) clearLimited() {
	for id, rec := range g.limited {
		g.acts.clearLimit(rec.consumer)
		consumerLimit.DeleteLabelValues(id)
	}
	g.limited = make(map[string]limitRecord)
}

// shutdown clears all limits, resets the detector and waits for the
// actuators to drain. A fresh actuator set is installed for the next Start.
func (g *Governor) shutdown() error {
	g.tickMu.Lock()
	defer g.tickMu.Unlock()
	now := g.now()
	cfg := g.applyPendingConfig()
	g.syncRegistry()
	if from := g.detector.State(); from != model.StateNormal {
		g.detector.Reset()
		g.transition(from, model.StateNormal, g.lastAmps, now)
	}
	g.clearLimited()
	limitedConsumers.Set(0)
	governorState.Set(float64(model.StateNormal))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	err := g.acts.close(ctx)
	if err != nil {
		g.log.Errorf("shutdown: %v", err)
	}
	g.acts = g.newActuators(cfg)
	g.publishStatus(now)
	return err
}

func (g *Governor) onCallResult(res callResult) {
	consumerCall.WithLabelValues(res.op).Observe(res.took.Seconds())
	if res.err == nil {
		return
	}
	consumerFaults.WithLabelValues(res.consumerID, res.op).Inc()
	g.publish(events.FaultEvent{ConsumerID: res.consumerID, Op: res.op, Err: res.err, Time: time.Now()})
}

func (g *Governor) publish(ev events.Event) {
	if g.bus != nil {
		g.bus.Publish(ev)
	}
}
