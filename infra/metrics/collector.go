package metrics

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/kilianp07/powergov/core/events"
	coremetrics "github.com/kilianp07/powergov/core/metrics"
	"github.com/kilianp07/powergov/infra/logger"
	"github.com/kilianp07/powergov/internal/eventbus"
)

// StatusFunc samples the governor status for StatusRecorder sinks.
type StatusFunc func() coremetrics.StatusSample

// CollectorOptions tunes StartEventCollector.
type CollectorOptions struct {
	Logger         logger.Logger
	Status         StatusFunc
	StatusInterval time.Duration
}

// StartEventCollector subscribes to the event bus and records metrics for events.
// It stops when the context is canceled or the bus is closed; events already
// buffered at cancellation are still recorded. The returned channel is closed
// once the goroutine has exited.
func StartEventCollector(ctx context.Context, bus eventbus.EventBus[events.Event], sink coremetrics.MetricsSink, opts CollectorOptions) <-chan struct{} {
	done := make(chan struct{})
	if bus == nil || sink == nil {
		close(done)
		return done
	}
	log := opts.Logger
	if log == nil {
		log = logger.NopLogger{}
	}
	rec, canStatus := sink.(coremetrics.StatusRecorder)
	sampleStatus := opts.Status != nil && canStatus
	interval := opts.StatusInterval
	if interval <= 0 {
		interval = coremetrics.DefaultStatusInterval
	}
	errLog := rate.Sometimes{First: 1, Interval: 10 * time.Second}
	report := func(err error) {
		if err != nil {
			errLog.Do(func() { log.Warnf("metrics sink: %v", err) })
		}
	}

	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		var statusC <-chan time.Time
		if sampleStatus {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			statusC = ticker.C
		}
		for {
			select {
			case <-ctx.Done():
				drain(sub, func(ev events.Event) { report(coremetrics.Record(sink, ev)) })
				return
			case <-statusC:
				report(rec.RecordStatus(opts.Status()))
			case ev, ok := <-sub:
				if !ok {
					return
				}
				report(coremetrics.Record(sink, ev))
			}
		}
	}()
	return done
}

func drain(sub <-chan events.Event, fn func(events.Event)) {
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			fn(ev)
		default:
			return
		}
	}
}
