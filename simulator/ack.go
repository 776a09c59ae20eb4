package simulator

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	coremqtt "github.com/kilianp07/powergov/core/mqtt"
	"github.com/kilianp07/powergov/infra/mqtt"
)

// AckStrategy defines how a simulated motor acknowledges limit commands.
type AckStrategy interface {
	Ack(ctx context.Context, cli coremqtt.Client, topic, commandID string)
}

// NoAck never acknowledges.
type NoAck struct{}

// Ack implements AckStrategy.
func (NoAck) Ack(context.Context, coremqtt.Client, string, string) {}

// AutoAck sends an ACK after an optional fixed delay.
type AutoAck struct {
	Delay time.Duration
}

// Ack implements AckStrategy.
func (a AutoAck) Ack(ctx context.Context, cli coremqtt.Client, topic, commandID string) {
	if !sleep(ctx, a.Delay) {
		return
	}
	publishAck(cli, topic, commandID)
}

// RandomAck drops acknowledgments with the configured probability and
// waits for the specified delay before sending.
type RandomAck struct {
	Delay    time.Duration
	DropRate float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomAck builds a RandomAck with a seeded source.
func NewRandomAck(delay time.Duration, dropRate float64, seed int64) *RandomAck {
	return &RandomAck{Delay: delay, DropRate: dropRate, rng: rand.New(rand.NewSource(seed))}
}

// Ack implements AckStrategy.
func (r *RandomAck) Ack(ctx context.Context, cli coremqtt.Client, topic, commandID string) {
	r.mu.Lock()
	drop := r.DropRate > 0 && r.rng.Float64() < r.DropRate
	r.mu.Unlock()
	if drop || !sleep(ctx, r.Delay) {
		return
	}
	publishAck(cli, topic, commandID)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func publishAck(cli coremqtt.Client, topic, commandID string) {
	payload, err := json.Marshal(mqtt.Ack{CommandID: commandID})
	if err != nil {
		return
	}
	if err := cli.Publish(topic, 0, false, payload); err != nil {
		simLog.Warnf("publish ack %s: %v", commandID, err)
	}
}
