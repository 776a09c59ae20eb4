package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/powergov/core/model"
	coremqtt "github.com/kilianp07/powergov/core/mqtt"
	"github.com/kilianp07/powergov/infra/logger"
	"github.com/kilianp07/powergov/infra/mqtt"
	"github.com/kilianp07/powergov/infra/pdp"
)

var simLog = logger.New("simulator")

// Bridge exposes simulated motors and the panel over MQTT, the way the
// real robot would: motors publish their draw and obey limit commands, the
// panel publishes the total current.
type Bridge struct {
	client     coremqtt.Client
	topics     mqtt.Topics
	panelTopic string
	motors     []*Motor
	panel      *Panel
	acker      AckStrategy
	log        logger.Logger

	// QoS is used for state, panel and limit subscriptions.
	QoS byte
}

// NewBridge builds a bridge. panelTopic defaults to topics.Panel().
func NewBridge(client coremqtt.Client, topics mqtt.Topics, panelTopic string, panel *Panel, acker AckStrategy, motors ...*Motor) *Bridge {
	if panelTopic == "" {
		panelTopic = topics.Panel()
	}
	if acker == nil {
		acker = AutoAck{}
	}
	return &Bridge{
		client:     client,
		topics:     topics,
		panelTopic: panelTopic,
		motors:     motors,
		panel:      panel,
		acker:      acker,
		log:        simLog,
	}
}

// Start subscribes every motor to its limit topic.
func (b *Bridge) Start(ctx context.Context) error {
	for _, m := range b.motors {
		if err := b.client.Subscribe(b.topics.Limit(m.ID()), b.QoS, b.onLimit(ctx, m)); err != nil {
			return fmt.Errorf("subscribe %s: %w", m.ID(), err)
		}
	}
	return nil
}

func (b *Bridge) onLimit(ctx context.Context, m *Motor) coremqtt.MessageHandler {
	return func(_ string, payload []byte) {
		var cmd mqtt.LimitCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			b.log.Warnf("%s: decode command: %v", m.ID(), err)
			return
		}
		if cmd.Clear {
			_ = m.ClearPowerLimit()
		} else {
			_ = m.SetPowerLimit(cmd.LimitAmps)
		}
		if cmd.CommandID != "" {
			go b.acker.Ack(ctx, b.client, b.topics.ConsumerAck(m.ID()), cmd.CommandID)
		}
	}
}

// Publish sends one state message per motor and one panel reading.
func (b *Bridge) Publish(now time.Time) error {
	var errs []error
	for _, m := range b.motors {
		payload, err := json.Marshal(mqtt.ConsumerState{DrawAmps: m.CurrentDraw()})
		if err != nil {
			return err
		}
		if err := b.client.Publish(b.topics.State(m.ID()), b.QoS, false, payload); err != nil {
			errs = append(errs, err)
		}
	}
	amps, err := b.panel.TotalCurrentDraw(context.Background())
	if err != nil {
		// a faulty panel stays silent
		return errors.Join(errs...)
	}
	ts := now.UnixMilli()
	payload, err := json.Marshal(pdp.Reading{TotalAmps: amps, Timestamp: &ts})
	if err != nil {
		return err
	}
	if err := b.client.Publish(b.panelTopic, b.QoS, false, payload); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run steps the motors and publishes every interval until ctx is done.
// When sched is not nil its steps are applied in real time.
func (b *Bridge) Run(ctx context.Context, interval time.Duration, sched *Scheduler) error {
	if interval <= 0 {
		interval = DefaultTick
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if sched != nil {
				if _, err := sched.Advance(now.Sub(start)); err != nil {
					b.log.Warnf("scenario: %v", err)
				}
			}
			for _, m := range b.motors {
				m.Step(interval)
			}
			if err := b.Publish(now); err != nil {
				b.log.Warnf("publish: %v", err)
			}
		}
	}
}

// ActivationPublisher implements Activator by publishing activation
// messages, for a governor running in another process.
type ActivationPublisher struct {
	Client coremqtt.Client
	Topic  string
	QoS    byte
}

// Register implements Activator.
func (p ActivationPublisher) Register(c model.Consumer, priority float64) error {
	return p.send(c.ID(), mqtt.ActionActivate, priority)
}

// Unregister implements Activator.
func (p ActivationPublisher) Unregister(c model.Consumer, priority float64) error {
	return p.send(c.ID(), mqtt.ActionDeactivate, priority)
}

func (p ActivationPublisher) send(id, action string, priority float64) error {
	payload, err := json.Marshal(mqtt.ActivationMessage{ConsumerID: id, Action: action, Priority: &priority})
	if err != nil {
		return err
	}
	return p.Client.Publish(p.Topic, p.QoS, false, payload)
}
