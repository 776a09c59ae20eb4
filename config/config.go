package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/powergov/core/eventlog"
	"github.com/kilianp07/powergov/core/governor"
	"github.com/kilianp07/powergov/core/metrics"
	"github.com/kilianp07/powergov/infra/mqtt"
	"github.com/kilianp07/powergov/infra/pdp"
)

type Config struct {
	Governor   governor.Config  `json:"governor"`
	MQTT       mqtt.Config      `json:"mqtt"`
	PDP        pdp.Config       `json:"pdp"`
	Activation ActivationConfig `json:"activation"`
	Metrics    metrics.Config   `json:"metrics"`
	EventLog   eventlog.Config  `json:"event_log"`
	HTTP       HTTPConfig       `json:"http"`
	Logging    LoggingConfig    `json:"logging"`
	Simulation SimulationConfig `json:"simulation"`
}

// ActivationConfig declares the consumers reachable over MQTT and how they
// get registered.
type ActivationConfig struct {
	// Topic carries activation messages. Defaults to <prefix>/activation.
	Topic     string              `json:"topic"`
	Consumers []mqtt.ConsumerSpec `json:"consumers"`
	// AutoActivate registers every consumer at startup with its own priority.
	AutoActivate bool `json:"auto_activate"`
}

// Validate checks every consumer spec and rejects duplicate IDs.
func (c ActivationConfig) Validate() error {
	seen := make(map[string]bool, len(c.Consumers))
	for _, s := range c.Consumers {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("activation: %w", err)
		}
		if seen[s.ID] {
			return fmt.Errorf("activation: duplicate consumer %s", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// HTTPConfig configures the governor API.
type HTTPConfig struct {
	// Address enables the API when set, e.g. ":8080".
	Address string `json:"address"`
	// Token protects /api/governor/config and /api/governor/events when set.
	Token string `json:"token"`
	// ShutdownTimeoutMS bounds graceful shutdown.
	ShutdownTimeoutMS int `json:"shutdown_timeout_ms"`
}

// SetDefaults fills unset fields.
func (c *HTTPConfig) SetDefaults() {
	if c.ShutdownTimeoutMS <= 0 {
		c.ShutdownTimeoutMS = 5000
	}
}

// SimulationConfig is used by the simulate command.
type SimulationConfig struct {
	Scenario string `json:"scenario"`
	// Bridge publishes the simulated robot over MQTT instead of running an
	// in-process governor.
	Bridge bool `json:"bridge"`
	// AckDelayMS and AckDropRate shape acknowledgments in bridge mode.
	AckDelayMS  int     `json:"ack_delay_ms"`
	AckDropRate float64 `json:"ack_drop_rate"`
}

// Validate checks the simulation settings.
func (c SimulationConfig) Validate() error {
	if c.AckDelayMS < 0 {
		return fmt.Errorf("simulation: ack_delay_ms must be >= 0")
	}
	if c.AckDropRate < 0 || c.AckDropRate > 1 {
		return fmt.Errorf("simulation: ack_drop_rate must be within [0,1]")
	}
	return nil
}

// Load reads path, applies K_ environment overrides (K_GOVERNOR__TARGET_TOTAL_AMPS
// sets governor.target_total_amps), fills defaults and validates every
// section.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills unset fields of every section.
func (c *Config) SetDefaults() {
	c.Governor.SetDefaults()
	c.MQTT.SetDefaults()
	c.PDP.SetDefaults()
	c.HTTP.SetDefaults()
	c.EventLog.SetDefaults()
	if c.Activation.Topic == "" {
		c.Activation.Topic = c.MQTT.Topics().Activation()
	}
}

// Validate checks every section. The MQTT broker is only required when
// something uses it.
func (c *Config) Validate() error {
	if err := c.Governor.Validate(); err != nil {
		return err
	}
	if c.NeedsMQTT() {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	if err := c.PDP.Validate(); err != nil {
		return err
	}
	if err := c.Activation.Validate(); err != nil {
		return err
	}
	if err := c.EventLog.Validate(); err != nil {
		return err
	}
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	return c.Simulation.Validate()
}

// NeedsMQTT reports whether the configuration talks to a broker.
func (c *Config) NeedsMQTT() bool {
	return c.MQTT.Broker != "" || len(c.Activation.Consumers) > 0 || c.Simulation.Bridge
}
