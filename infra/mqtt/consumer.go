package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/powergov/core/model"
	coremqtt "github.com/kilianp07/powergov/core/mqtt"
	"github.com/kilianp07/powergov/infra/logger"
)

// ConsumerSpec declares a consumer reachable over MQTT.
type ConsumerSpec struct {
	ID       string  `json:"id"`
	Priority float64 `json:"priority"`
	// StaleAfterMS zeroes the reported draw when no state message arrived
	// for that long. 0 keeps the last value forever.
	StaleAfterMS int `json:"stale_after_ms"`
}

// Validate checks the consumer declaration.
func (s ConsumerSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("consumer: id is required")
	}
	if s.Priority < 0 || math.IsNaN(s.Priority) || math.IsInf(s.Priority, 0) {
		return fmt.Errorf("consumer %s: priority must be a finite value >= 0", s.ID)
	}
	return nil
}

// RemoteConsumer is a model.Consumer living on the other side of the broker.
// Its draw comes from state messages; limits are published as commands.
type RemoteConsumer struct {
	model.LimitState

	spec       ConsumerSpec
	client     coremqtt.Client
	topics     Topics
	limitQoS   byte
	ackTimeout time.Duration
	log        logger.Logger
	now        func() time.Time

	mu      sync.RWMutex
	draw    float64
	updated time.Time
}

// ConsumerOption configures a RemoteConsumer.
type ConsumerOption func(*RemoteConsumer)

// WithAckTimeout makes limit commands wait for an acknowledgment.
func WithAckTimeout(d time.Duration) ConsumerOption {
	return func(c *RemoteConsumer) { c.ackTimeout = d }
}

// WithLimitQoS sets the QoS of limit commands.
func WithLimitQoS(q byte) ConsumerOption {
	return func(c *RemoteConsumer) { c.limitQoS = q }
}

// WithTopics overrides the topic layout.
func WithTopics(t Topics) ConsumerOption {
	return func(c *RemoteConsumer) { c.topics = t }
}

// WithConsumerClock replaces time.Now for staleness checks.
func WithConsumerClock(now func() time.Time) ConsumerOption {
	return func(c *RemoteConsumer) { c.now = now }
}

// NewRemoteConsumer subscribes to the consumer's state topic.
func NewRemoteConsumer(client coremqtt.Client, spec ConsumerSpec, stateQoS byte, opts ...ConsumerOption) (*RemoteConsumer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	c := &RemoteConsumer{
		spec:   spec,
		client: client,
		log:    logger.New("remote_consumer").With("consumer", spec.ID),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := client.Subscribe(c.topics.State(spec.ID), stateQoS, c.onState); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *RemoteConsumer) onState(_ string, payload []byte) {
	var st ConsumerState
	if err := json.Unmarshal(payload, &st); err != nil {
		c.log.Warnf("bad state payload: %v", err)
		return
	}
	c.mu.Lock()
	c.draw, c.updated = st.DrawAmps, c.now()
	c.mu.Unlock()
}

func (c *RemoteConsumer) ID() string { return c.spec.ID }

func (c *RemoteConsumer) Priority() float64 { return c.spec.Priority }

// CurrentDraw returns the last reported draw, or 0 once it is stale.
func (c *RemoteConsumer) CurrentDraw() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.spec.StaleAfterMS > 0 && c.now().Sub(c.updated) > time.Duration(c.spec.StaleAfterMS)*time.Millisecond {
		return 0
	}
	return c.draw
}

// SetPowerLimit publishes a limit command. Repeating the active limit is a
// no-op.
func (c *RemoteConsumer) SetPowerLimit(amps float64) error {
	if cur, ok := c.Limit(); ok && cur == amps {
		return nil
	}
	if err := c.send(LimitCommand{LimitAmps: amps}); err != nil {
		return err
	}
	c.Apply(amps)
	return nil
}

// ClearPowerLimit publishes a clear command. It is sent even when no limit
// is recorded locally; the remote side may hold one from an earlier run.
func (c *RemoteConsumer) ClearPowerLimit() error {
	if err := c.send(LimitCommand{Clear: true}); err != nil {
		return err
	}
	c.Clear()
	return nil
}

func (c *RemoteConsumer) send(cmd LimitCommand) error {
	cmd.CommandID = uuid.NewString()
	cmd.ConsumerID = c.spec.ID
	cmd.Timestamp = c.now().UnixMilli()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if c.ackTimeout <= 0 {
		return c.client.Publish(c.topics.Limit(c.spec.ID), c.limitQoS, false, payload)
	}
	untrack := c.client.TrackAck(cmd.CommandID)
	defer untrack()
	if err := c.client.Publish(c.topics.Limit(c.spec.ID), c.limitQoS, false, payload); err != nil {
		return err
	}
	_, err = c.client.WaitForAck(cmd.CommandID, c.ackTimeout)
	return err
}
