package pdp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/powergov/infra/mqtt"
)

func TestFeed_PushReadings(t *testing.T) {
	mc := mqtt.NewMockClient()
	now := time.Unix(100, 0)
	f, err := NewFeed(mc, Config{StaleAfterMS: 100}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	_, err = f.TotalCurrentDraw(context.Background())
	assert.True(t, errors.Is(err, ErrNoReading))

	mc.Deliver("robot/pdp/current", []byte("42.5"))
	amps, err := f.TotalCurrentDraw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42.5, amps)

	mc.Deliver("robot/pdp/current", []byte(`{"total_amps":61}`))
	amps, err = f.TotalCurrentDraw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 61.0, amps)

	mc.Deliver("robot/pdp/current", []byte(`{"total_amps":"x"}`))
	mc.Deliver("robot/pdp/current", []byte(`-3`))
	amps, _ = f.TotalCurrentDraw(context.Background())
	assert.Equal(t, 61.0, amps)

	now = now.Add(200 * time.Millisecond)
	_, err = f.TotalCurrentDraw(context.Background())
	assert.True(t, errors.Is(err, ErrStaleReading))
}

func TestFeed_IgnoresOutOfOrder(t *testing.T) {
	mc := mqtt.NewMockClient()
	now := time.UnixMilli(10_000)
	f, err := NewFeed(mc, Config{StaleAfterMS: 10_000}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	mc.Deliver("robot/pdp/current", []byte(`{"total_amps":30,"timestamp":9000}`))
	mc.Deliver("robot/pdp/current", []byte(`{"total_amps":80,"timestamp":8000}`))
	amps, err := f.TotalCurrentDraw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30.0, amps)
}

func TestFeed_PullMode(t *testing.T) {
	mc := mqtt.NewMockClient()
	f, err := NewFeed(mc, Config{Mode: "pull", PollIntervalMS: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()
	require.Eventually(t, func() bool { return len(mc.Messages("robot/pdp/poll")) >= 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Mode: "carrier-pigeon"}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())
	_, err := NewFeed(mqtt.NewMockClient(), cfg)
	assert.Error(t, err)
}
