package mqtt

import "fmt"

// DefaultTopicPrefix roots every governor topic.
const DefaultTopicPrefix = "robot"

// Topics builds the topic names used between the governor and the robot.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Limit is where limit commands for a consumer are published.
func (t Topics) Limit(consumerID string) string {
	return fmt.Sprintf("%s/consumers/%s/limit", t.prefix(), consumerID)
}

// State carries a consumer's measured draw.
func (t Topics) State(consumerID string) string {
	return fmt.Sprintf("%s/consumers/%s/state", t.prefix(), consumerID)
}

// Ack matches the acknowledgments of every consumer.
func (t Topics) Ack() string {
	return t.prefix() + "/consumers/+/ack"
}

// ConsumerAck is where one consumer acknowledges its limit commands.
func (t Topics) ConsumerAck(consumerID string) string {
	return fmt.Sprintf("%s/consumers/%s/ack", t.prefix(), consumerID)
}

// Activation carries activate and deactivate requests.
func (t Topics) Activation() string {
	return t.prefix() + "/activation"
}

// Panel carries the power distribution panel readings.
func (t Topics) Panel() string {
	return t.prefix() + "/pdp/current"
}

// LimitCommand is published to Topics.Limit.
type LimitCommand struct {
	CommandID  string  `json:"command_id"`
	ConsumerID string  `json:"consumer_id"`
	Clear      bool    `json:"clear"`
	LimitAmps  float64 `json:"limit_amps,omitempty"`
	Timestamp  int64   `json:"timestamp"`
}

// ConsumerState is published by a consumer on Topics.State.
type ConsumerState struct {
	DrawAmps float64 `json:"draw_amps"`
}

// Ack acknowledges a LimitCommand.
type Ack struct {
	CommandID string `json:"command_id"`
}

// Activation actions.
const (
	ActionActivate   = "activate"
	ActionDeactivate = "deactivate"
)

// ActivationMessage asks the governor to (de)activate a consumer. Priority
// defaults to the consumer's own.
type ActivationMessage struct {
	ConsumerID string   `json:"consumer_id"`
	Action     string   `json:"action"`
	Priority   *float64 `json:"priority,omitempty"`
}
