package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/powergov/core/events"
	coremetrics "github.com/kilianp07/powergov/core/metrics"
)

// PromSink records governor events in Prometheus metrics. The per-tick
// gauges live in core/governor; this sink covers episode level data.
type PromSink struct {
	episodes    *prometheus.CounterVec
	allocations prometheus.Counter
	limits      prometheus.Histogram
	faults      *prometheus.CounterVec
	budget      prometheus.Gauge
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
func NewPromSink() (coremetrics.MetricsSink, error) {
	s, err := NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		episodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "powergov_episode_transitions_total",
			Help: "Spike episode transitions by target state",
		}, []string{"to"}),
		allocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powergov_allocations_total",
			Help: "Allocation rounds recorded while limiting",
		}),
		limits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "powergov_allocated_limit_amps",
			Help:    "Distribution of limits handed to consumers",
			Buckets: prometheus.LinearBuckets(0, 5, 12),
		}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "powergov_faults_total",
			Help: "Recovered faults by operation",
		}, []string{"op"}),
		budget: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "powergov_target_total_amps",
			Help: "Budget used by the last allocation",
		}),
	}
	var err error
	if s.episodes, err = register(reg, s.episodes); err != nil {
		return nil, err
	}
	if s.allocations, err = register(reg, s.allocations); err != nil {
		return nil, err
	}
	if s.limits, err = register(reg, s.limits); err != nil {
		return nil, err
	}
	if s.faults, err = register(reg, s.faults); err != nil {
		return nil, err
	}
	if s.budget, err = register(reg, s.budget); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the already registered collector when one exists so
// several sinks can share a registerer.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordTransition counts the transition.
func (s *PromSink) RecordTransition(ev events.TransitionEvent) error {
	s.episodes.WithLabelValues(ev.To.String()).Inc()
	return nil
}

// RecordAllocation observes every limit handed out.
func (s *PromSink) RecordAllocation(ev events.AllocationEvent) error {
	s.allocations.Inc()
	s.budget.Set(ev.TargetAmps)
	for _, a := range ev.Allocations {
		s.limits.Observe(a.LimitAmps)
	}
	return nil
}

// RecordFault counts the fault by operation.
func (s *PromSink) RecordFault(ev events.FaultEvent) error {
	s.faults.WithLabelValues(ev.Op).Inc()
	return nil
}
