package governor

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	totalCurrent      prometheus.Gauge
	governorState     prometheus.Gauge
	tickDuration      prometheus.Histogram
	limitedConsumers  prometheus.Gauge
	registeredCount   prometheus.Gauge
	consumerLimit     *prometheus.GaugeVec
	consumerFaults    *prometheus.CounterVec
	consumerCall      *prometheus.HistogramVec
	telemetryFailures prometheus.Counter
	transitions       *prometheus.CounterVec
)

// collectors bundles the governor metric collectors.
type collectors struct {
	total       prometheus.Gauge
	state       prometheus.Gauge
	tick        prometheus.Histogram
	limited     prometheus.Gauge
	registered  prometheus.Gauge
	limit       *prometheus.GaugeVec
	faults      *prometheus.CounterVec
	call        *prometheus.HistogramVec
	telemetry   prometheus.Counter
	transitions *prometheus.CounterVec
}

func newCollectors() collectors {
	return collectors{
		total: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "powergov_total_current_amps",
			Help: "Total current draw read on the last tick",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "powergov_state",
			Help: "Governor state (0 normal, 1 spiking, 2 limiting)",
		}),
		tick: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "powergov_tick_duration_seconds",
			Help:    "Time spent in one control loop iteration",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 12),
		}),
		limited: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "powergov_limited_consumers",
			Help: "Number of consumers currently limited",
		}),
		registered: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "powergov_registered_consumers",
			Help: "Number of consumers in the registry",
		}),
		limit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "powergov_consumer_limit_amps",
			Help: "Current limit applied to a consumer",
		}, []string{"consumer"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "powergov_consumer_faults_total",
			Help: "Failed consumer limit calls",
		}, []string{"consumer", "op"}),
		call: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "powergov_consumer_call_seconds",
			Help:    "Duration of consumer limit calls",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op"}),
		telemetry: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powergov_telemetry_failures_total",
			Help: "Ticks where total current could not be read",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "powergov_transitions_total",
			Help: "Spike detector state transitions",
		}, []string{"from", "to"}),
	}
}

func (c collectors) install() {
	totalCurrent, governorState, tickDuration = c.total, c.state, c.tick
	limitedConsumers, registeredCount = c.limited, c.registered
	consumerLimit, consumerFaults, consumerCall = c.limit, c.faults, c.call
	telemetryFailures, transitions = c.telemetry, c.transitions
}

func init() {
	newCollectors().install()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers governor metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(totalCurrent, governorState, tickDuration, limitedConsumers, registeredCount,
		consumerLimit, consumerFaults, consumerCall, telemetryFailures, transitions)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	newCollectors().install()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
