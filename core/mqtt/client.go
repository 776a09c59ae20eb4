package mqtt

import "time"

// MessageHandler receives messages for a subscription.
type MessageHandler func(topic string, payload []byte)

// Client is the MQTT transport used by remote consumers, the activation
// listener and the power panel feed.
type Client interface {
	// Publish sends payload to topic, retrying transient failures.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe registers handler for topic. Subscriptions survive
	// reconnects.
	Subscribe(topic string, qos byte, handler MessageHandler) error

	// TrackAck prepares acknowledgment tracking for commandID. It must be
	// called before the command is published. The returned func drops the
	// tracking when the command is abandoned.
	TrackAck(commandID string) (untrack func())

	// WaitForAck waits for an acknowledgment for the provided command
	// identifier or until the timeout expires.
	WaitForAck(commandID string, timeout time.Duration) (bool, error)
}
