package governor

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid governor config")

const (
	DefaultSpikeThresholdAmps      = 50.0
	DefaultMinSpikeDurationSeconds = 2.0
	DefaultTargetTotalAmps         = 40.0
	DefaultPollIntervalMS          = 5
	DefaultShutdownTimeoutMS       = 1000
	DefaultSlowCallMS              = 20
)

// Config defines the governor tunables.
type Config struct {
	// SpikeThresholdAmps is the total current above which the robot is spiking.
	SpikeThresholdAmps float64 `json:"spike_threshold_amps"`
	// MinSpikeDurationSeconds is how long a spike must last before limiting.
	MinSpikeDurationSeconds float64 `json:"min_spike_duration_seconds"`
	// TargetTotalAmps is the budget shared by consumers while limiting.
	TargetTotalAmps float64 `json:"target_total_amps"`
	// PollIntervalMS is the control loop period.
	PollIntervalMS int `json:"poll_interval_ms"`
	// ShutdownTimeoutMS bounds how long Stop waits for consumers to accept
	// their final clear.
	ShutdownTimeoutMS int `json:"shutdown_timeout_ms"`
	// SlowCallMS flags consumer limit calls slower than this.
	SlowCallMS int `json:"slow_call_ms"`
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	c := Config{}
	c.SetDefaults()
	return c
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.SpikeThresholdAmps == 0 {
		c.SpikeThresholdAmps = DefaultSpikeThresholdAmps
	}
	if c.MinSpikeDurationSeconds == 0 {
		c.MinSpikeDurationSeconds = DefaultMinSpikeDurationSeconds
	}
	if c.TargetTotalAmps == 0 {
		c.TargetTotalAmps = DefaultTargetTotalAmps
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = DefaultPollIntervalMS
	}
	if c.ShutdownTimeoutMS == 0 {
		c.ShutdownTimeoutMS = DefaultShutdownTimeoutMS
	}
	if c.SlowCallMS == 0 {
		c.SlowCallMS = DefaultSlowCallMS
	}
}

// Validate checks the tunables are usable.
func (c Config) Validate() error {
	switch {
	case !positive(c.SpikeThresholdAmps):
		return fmt.Errorf("%w: spike_threshold_amps must be positive", ErrInvalidConfig)
	case !positive(c.TargetTotalAmps):
		return fmt.Errorf("%w: target_total_amps must be positive", ErrInvalidConfig)
	case math.IsNaN(c.MinSpikeDurationSeconds) || math.IsInf(c.MinSpikeDurationSeconds, 0) || c.MinSpikeDurationSeconds < 0:
		return fmt.Errorf("%w: min_spike_duration_seconds must be >= 0", ErrInvalidConfig)
	case c.PollIntervalMS <= 0:
		return fmt.Errorf("%w: poll_interval_ms must be positive", ErrInvalidConfig)
	case c.ShutdownTimeoutMS < 0:
		return fmt.Errorf("%w: shutdown_timeout_ms must be >= 0", ErrInvalidConfig)
	case c.SlowCallMS < 0:
		return fmt.Errorf("%w: slow_call_ms must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// MinSpikeDuration returns the debounce window.
func (c Config) MinSpikeDuration() time.Duration {
	return time.Duration(c.MinSpikeDurationSeconds * float64(time.Second))
}

// PollInterval returns the loop period, falling back to the default.
func (c Config) PollInterval() time.Duration {
	if c.PollIntervalMS <= 0 {
		return DefaultPollIntervalMS * time.Millisecond
	}
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) ShutdownTimeout() time.Duration {
	if c.ShutdownTimeoutMS <= 0 {
		return DefaultShutdownTimeoutMS * time.Millisecond
	}
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}

func (c Config) SlowCall() time.Duration {
	return time.Duration(c.SlowCallMS) * time.Millisecond
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
