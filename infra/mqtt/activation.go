package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kilianp07/powergov/core/model"
	coremqtt "github.com/kilianp07/powergov/core/mqtt"
	"github.com/kilianp07/powergov/infra/logger"
)

// ErrUnknownConsumer is returned for activation requests naming a consumer
// the listener does not know.
var ErrUnknownConsumer = errors.New("unknown consumer")

// Activator receives priority contributions. *governor.Registry implements it.
type Activator interface {
	Register(c model.Consumer, priority float64) error
	Unregister(c model.Consumer, priority float64) error
}

// ActivationListener turns activation messages into registry calls so any
// scheduler on the robot can (de)activate consumers over MQTT.
type ActivationListener struct {
	client coremqtt.Client
	reg    Activator
	topic  string
	qos    byte
	log    logger.Logger

	mu        sync.RWMutex
	consumers map[string]model.Consumer
}

// NewActivationListener builds a listener for topic. Call Start to subscribe.
func NewActivationListener(client coremqtt.Client, reg Activator, topic string, qos byte) *ActivationListener {
	return &ActivationListener{
		client:    client,
		reg:       reg,
		topic:     topic,
		qos:       qos,
		log:       logger.New("activation"),
		consumers: make(map[string]model.Consumer),
	}
}

// Add makes consumers addressable by ID.
func (l *ActivationListener) Add(cs ...model.Consumer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range cs {
		l.consumers[c.ID()] = c
	}
}

// Start subscribes to the activation topic.
func (l *ActivationListener) Start() error {
	return l.client.Subscribe(l.topic, l.qos, func(_ string, payload []byte) {
		if err := l.Handle(payload); err != nil {
			l.log.Warnf("activation rejected: %v", err)
		}
	})
}

// Handle applies one activation message.
func (l *ActivationListener) Handle(payload []byte) error {
	var msg ActivationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode activation: %w", err)
	}
	l.mu.RLock()
	c, ok := l.consumers[msg.ConsumerID]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownConsumer, msg.ConsumerID)
	}
	priority := c.Priority()
	if msg.Priority != nil {
		priority = *msg.Priority
	}
	switch msg.Action {
	case ActionActivate:
		l.log.Debugw("activate", map[string]any{"consumer": c.ID(), "priority": priority})
		return l.reg.Register(c, priority)
	case ActionDeactivate:
		l.log.Debugw("deactivate", map[string]any{"consumer": c.ID(), "priority": priority})
		return l.reg.Unregister(c, priority)
	default:
		return fmt.Errorf("unknown action %q", msg.Action)
	}
}
