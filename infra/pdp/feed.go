package pdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremqtt "github.com/kilianp07/powergov/core/mqtt"
	"github.com/kilianp07/powergov/infra/logger"
)

var (
	// ErrNoReading is returned before the first panel message arrived.
	ErrNoReading = errors.New("no panel reading yet")
	// ErrStaleReading is returned when the last reading is too old.
	ErrStaleReading = errors.New("panel reading is stale")
)

// Config controls the panel feed.
type Config struct {
	// Mode is "push" (the panel publishes on its own) or "pull" (the feed
	// publishes a poll request every PollIntervalMS).
	Mode           string `json:"mode"`
	Topic          string `json:"topic"`
	RequestTopic   string `json:"request_topic"`
	PollIntervalMS int    `json:"poll_interval_ms"`
	StaleAfterMS   int    `json:"stale_after_ms"`
	QoS            byte   `json:"qos"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = "push"
	}
	if c.Topic == "" {
		c.Topic = "robot/pdp/current"
	}
	if c.RequestTopic == "" {
		c.RequestTopic = "robot/pdp/poll"
	}
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = 5
	}
	if c.StaleAfterMS <= 0 {
		c.StaleAfterMS = 250
	}
}

// Validate checks the feed settings.
func (c Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "push", "pull":
	default:
		return fmt.Errorf("pdp: unknown mode %q", c.Mode)
	}
	if c.QoS > 2 {
		return fmt.Errorf("pdp: qos must be 0, 1 or 2")
	}
	return nil
}

// Reading is the panel message. A bare number is accepted too.
type Reading struct {
	TotalAmps float64 `json:"total_amps"`
	// Timestamp in unix milliseconds; arrival time is used when absent.
	Timestamp *int64 `json:"timestamp,omitempty"`
}

// Feed is a model.TelemetrySource backed by MQTT panel messages.
type Feed struct {
	cfg    Config
	client coremqtt.Client
	log    logger.Logger
	now    func() time.Time

	mu   sync.RWMutex
	amps float64
	at   time.Time
}

// Option configures a Feed.
type Option func(*Feed)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(f *Feed) { f.now = now }
}

// NewFeed subscribes to the panel topic.
func NewFeed(client coremqtt.Client, cfg Config, opts ...Option) (*Feed, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Feed{cfg: cfg, client: client, log: logger.New("pdp"), now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	if err := client.Subscribe(cfg.Topic, cfg.QoS, f.onMessage); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Feed) onMessage(_ string, payload []byte) {
	r, err := decode(payload)
	if err != nil {
		decodeFailures.Inc()
		f.log.Warnf("panel decode: %v", err)
		return
	}
	at := f.now()
	if r.Timestamp != nil {
		at = time.UnixMilli(*r.Timestamp)
	}
	f.mu.Lock()
	if at.Before(f.at) {
		f.mu.Unlock()
		return
	}
	f.amps, f.at = r.TotalAmps, at
	f.mu.Unlock()
	readings.Inc()
	lastReading.Set(r.TotalAmps)
}

func decode(payload []byte) (Reading, error) {
	var r Reading
	trimmed := strings.TrimSpace(string(payload))
	if v, err := strconv.ParseFloat(trimmed, 64); err == nil {
		r.TotalAmps = v
	} else if err := json.Unmarshal(payload, &r); err != nil {
		return r, err
	}
	if math.IsNaN(r.TotalAmps) || math.IsInf(r.TotalAmps, 0) || r.TotalAmps < 0 {
		return r, fmt.Errorf("invalid total current %v", r.TotalAmps)
	}
	return r, nil
}

// TotalCurrentDraw returns the latest panel reading.
func (f *Feed) TotalCurrentDraw(context.Context) (float64, error) {
	f.mu.RLock()
	amps, at := f.amps, f.at
	f.mu.RUnlock()
	if at.IsZero() {
		return 0, ErrNoReading
	}
	if age := f.now().Sub(at); age > time.Duration(f.cfg.StaleAfterMS)*time.Millisecond {
		return 0, fmt.Errorf("%w: %s old", ErrStaleReading, age.Round(time.Millisecond))
	}
	return amps, nil
}

// Run polls the panel in pull mode until ctx is done. In push mode it only
// waits for ctx.
func (f *Feed) Run(ctx context.Context) error {
	if strings.ToLower(f.cfg.Mode) != "pull" {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(time.Duration(f.cfg.PollIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pollRequests.Inc()
			if err := f.client.Publish(f.cfg.RequestTopic, f.cfg.QoS, false, []byte("poll")); err != nil {
				f.log.Warnf("poll request: %v", err)
			}
		}
	}
}

var (
	readings       prometheus.Counter
	decodeFailures prometheus.Counter
	pollRequests   prometheus.Counter
	lastReading    prometheus.Gauge
)

func newCollectors() {
	readings = prometheus.NewCounter(prometheus.CounterOpts{Name: "powergov_pdp_readings_total", Help: "Panel readings accepted"})
	decodeFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "powergov_pdp_decode_failures_total", Help: "Panel messages that could not be decoded"})
	pollRequests = prometheus.NewCounter(prometheus.CounterOpts{Name: "powergov_pdp_poll_requests_total", Help: "Poll requests sent to the panel"})
	lastReading = prometheus.NewGauge(prometheus.GaugeOpts{Name: "powergov_pdp_last_reading_amps", Help: "Last accepted panel reading"})
}

func init() {
	newCollectors()
}

// MustRegisterMetrics registers the feed metrics on reg, or on the default
// registerer when reg is nil.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(readings, decodeFailures, pollRequests, lastReading)
}
