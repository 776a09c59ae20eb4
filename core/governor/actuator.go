package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kilianp07/powergov/core/events"
	"github.com/kilianp07/powergov/core/logger"
	"github.com/kilianp07/powergov/core/model"
)

type command struct {
	clear bool
	amps  float64
}

func (c command) op() string {
	if c.clear {
		return events.OpClearLimit
	}
	return events.OpSetLimit
}

// callResult is reported after every consumer call.
type callResult struct {
	consumerID string
	op         string
	err        error
	took       time.Duration
}

// actuator serializes limit calls for one consumer. Only the most recent
// command is kept: a command queued while another runs replaces any older
// queued one.
type actuator struct {
	id       string
	consumer model.Consumer
	report   func(callResult)
	wake     chan struct{}

	mu       sync.Mutex
	pending  *command
	settled  chan struct{} // non-nil while work is outstanding
	retiring bool
	exited   bool
}

func newActuator(c model.Consumer, report func(callResult)) *actuator {
	return &actuator{id: c.ID(), consumer: c, report: report, wake: make(chan struct{}, 1)}
}

func (a *actuator) submit(cmd command) {
	a.mu.Lock()
	a.pending = &cmd
	if a.settled == nil {
		a.settled = make(chan struct{})
	}
	a.mu.Unlock()
	a.signal()
}

func (a *actuator) signal() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// revive cancels a pending retirement. It fails once the worker has exited.
func (a *actuator) revive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.exited {
		return false
	}
	a.retiring = false
	return true
}

func (a *actuator) retire() {
	a.mu.Lock()
	a.retiring = true
	a.mu.Unlock()
	a.signal()
}

func (a *actuator) run(ctx context.Context) {
	for {
		select {
		case <-a.wake:
			if a.drain(false) {
				return
			}
		case <-ctx.Done():
			a.drain(true)
			return
		}
	}
}

// drain applies queued commands until none is left. It reports whether the
// worker should exit.
func (a *actuator) drain(stopping bool) bool {
	for {
		a.mu.Lock()
		cmd := a.pending
		a.pending = nil
		if cmd == nil {
			if a.settled != nil {
				close(a.settled)
				a.settled = nil
			}
			exit := stopping || a.retiring
			a.exited = exit
			a.mu.Unlock()
			return exit
		}
		a.mu.Unlock()
		a.apply(*cmd)
	}
}

func (a *actuator) apply(cmd command) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consumer panicked: %v", r)
		}
		a.report(callResult{consumerID: a.id, op: cmd.op(), err: err, took: time.Since(start)})
	}()
	if cmd.clear {
		err = a.consumer.ClearPowerLimit()
	} else {
		err = a.consumer.SetPowerLimit(cmd.amps)
	}
}

// wait blocks until the actuator has no outstanding work.
func (a *actuator) wait(ctx context.Context) error {
	a.mu.Lock()
	ch := a.settled
	a.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consumer %s: %w", a.id, ctx.Err())
	}
}

// actuatorSet owns one actuator goroutine per consumer that has received a
// command. A stuck consumer only blocks its own goroutine.
type actuatorSet struct {
	log        logger.Logger
	slowCall   time.Duration
	onResult   func(callResult)
	ctx        context.Context
	cancel     context.CancelFunc
	group      errgroup.Group
	mu         sync.Mutex
	byID       map[string]*actuator
	throttles  map[string]*rate.Sometimes
	throttleMu sync.Mutex
	closed     bool
}

func newActuatorSet(log logger.Logger, slowCall time.Duration, onResult func(callResult)) *actuatorSet {
	ctx, cancel := context.WithCancel(context.Background())
	return &actuatorSet{
		log:       log,
		slowCall:  slowCall,
		onResult:  onResult,
		ctx:       ctx,
		cancel:    cancel,
		byID:      make(map[string]*actuator),
		throttles: make(map[string]*rate.Sometimes),
	}
}

func (s *actuatorSet) setLimit(c model.Consumer, amps float64) {
	s.submit(c, command{amps: amps})
}

func (s *actuatorSet) clearLimit(c model.Consumer) {
	s.submit(c, command{clear: true})
}

func (s *actuatorSet) submit(c model.Consumer, cmd command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	id := c.ID()
	a, ok := s.byID[id]
	if !ok || !a.revive() {
		a = newActuator(c, s.handle)
		s.byID[id] = a
		s.group.Go(func() error {
			a.run(s.ctx)
			s.forget(id, a)
			return nil
		})
	}
	a.submit(cmd)
}

// retire lets the consumer's goroutine exit once its queue is empty.
func (s *actuatorSet) retire(id string) {
	s.mu.Lock()
	a, ok := s.byID[id]
	s.mu.Unlock()
	if ok {
		a.retire()
	}
}

func (s *actuatorSet) forget(id string, a *actuator) {
	s.mu.Lock()
	if s.byID[id] == a {
		delete(s.byID, id)
	}
	s.mu.Unlock()
}

func (s *actuatorSet) handle(res callResult) {
	if res.err != nil {
		s.throttle(res.consumerID).Do(func() {
			s.log.Errorf("consumer %s %s failed: %v", res.consumerID, res.op, res.err)
		})
	} else if s.slowCall > 0 && res.took > s.slowCall {
		s.throttle(res.consumerID).Do(func() {
			s.log.Warnf("consumer %s %s took %s", res.consumerID, res.op, res.took)
		})
	}
	if s.onResult != nil {
		s.onResult(res)
	}
}

func (s *actuatorSet) throttle(id string) *rate.Sometimes {
	s.throttleMu.Lock()
	defer s.throttleMu.Unlock()
	t, ok := s.throttles[id]
	if !ok {
		t = &rate.Sometimes{First: 1, Interval: time.Second}
		s.throttles[id] = t
	}
	return t
}

// flush waits until every actuator is idle.
func (s *actuatorSet) flush(ctx context.Context) error {
	s.mu.Lock()
	acts := make([]*actuator, 0, len(s.byID))
	for _, a := range s.byID {
		acts = append(acts, a)
	}
	s.mu.Unlock()
	for _, a := range acts {
		if err := a.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// close stops accepting commands, lets every actuator drain and waits for
// the goroutines up to ctx.
func (s *actuatorSet) close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("actuators still busy: %w", ctx.Err())
	}
}
