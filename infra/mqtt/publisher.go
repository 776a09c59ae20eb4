package mqtt

import (
	"fmt"
	"strings"
	"sync"
	"time"

	coremqtt "github.com/kilianp07/powergov/core/mqtt"
)

// Client mirrors the core mqtt.Client interface.
type Client = coremqtt.Client

// PublishedMessage is a message captured by MockClient.
type PublishedMessage struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// MockClient is an in-memory Client used in tests. Deliver routes a message
// to matching subscriptions, and every published message is recorded.
type MockClient struct {
	mu         sync.Mutex
	Published  []PublishedMessage
	FailTopics map[string]bool

	// AutoAck acknowledges every tracked command as soon as it is published.
	AutoAck  bool
	handlers map[string]coremqtt.MessageHandler
	acks     map[string]chan struct{}
}

// NewMockClient creates a new MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		FailTopics: make(map[string]bool),
		handlers:   make(map[string]coremqtt.MessageHandler),
		acks:       make(map[string]chan struct{}),
	}
}

// Publish records the message or returns an error if the topic is set to fail.
func (m *MockClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTopics[topic] {
		return fmt.Errorf("publish %s failed", topic)
	}
	m.Published = append(m.Published, PublishedMessage{Topic: topic, QoS: qos, Retained: retained, Payload: payload})
	if m.AutoAck {
		for _, ch := range m.acks {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	return nil
}

// Subscribe stores the handler.
func (m *MockClient) Subscribe(topic string, _ byte, handler coremqtt.MessageHandler) error {
	m.mu.Lock()
	m.handlers[topic] = handler
	m.mu.Unlock()
	return nil
}

// Deliver simulates an incoming message.
func (m *MockClient) Deliver(topic string, payload []byte) {
	m.mu.Lock()
	var hs []coremqtt.MessageHandler
	for filter, h := range m.handlers {
		if TopicMatches(filter, topic) {
			hs = append(hs, h)
		}
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
}

// Ack acknowledges a tracked command.
func (m *MockClient) Ack(commandID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.acks[commandID]; ok {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// TrackAck registers a command for acknowledgment.
func (m *MockClient) TrackAck(commandID string) func() {
	m.mu.Lock()
	m.acks[commandID] = make(chan struct{}, 1)
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.acks, commandID)
		m.mu.Unlock()
	}
}

// WaitForAck waits for Ack or AutoAck.
func (m *MockClient) WaitForAck(commandID string, timeout time.Duration) (bool, error) {
	m.mu.Lock()
	ch, ok := m.acks[commandID]
	m.mu.Unlock()
	if !ok {
		return false, coremqtt.ErrUnknownCommand
	}
	select {
	case <-ch:
		return true, nil
	case <-time.After(timeout):
		return false, coremqtt.ErrAckTimeout
	}
}

// Messages returns a copy of the published messages on topic.
func (m *MockClient) Messages(topic string) []PublishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PublishedMessage
	for _, p := range m.Published {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// TopicMatches reports whether topic matches an MQTT subscription filter
// with + and # wildcards.
func TopicMatches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
