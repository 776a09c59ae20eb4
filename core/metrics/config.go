package metrics

import (
	"time"

	"github.com/kilianp07/powergov/core/factory"
)

// DefaultStatusInterval is how often the collector samples governor status.
const DefaultStatusInterval = time.Second

// Config defines settings for metrics sinks.
type Config struct {
	Sinks []factory.ModuleConfig `json:"sinks"`
	// StatusIntervalMS controls status sampling; 0 uses the default.
	StatusIntervalMS int `json:"status_interval_ms"`
	// PrometheusAddr serves /metrics on a dedicated listener when set.
	// Otherwise /metrics is mounted on the API server.
	PrometheusAddr string `json:"prometheus_addr"`
}

// StatusInterval returns the sampling period.
func (c Config) StatusInterval() time.Duration {
	if c.StatusIntervalMS <= 0 {
		return DefaultStatusInterval
	}
	return time.Duration(c.StatusIntervalMS) * time.Millisecond
}
