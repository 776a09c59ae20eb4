package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/powergov/config"
	"github.com/kilianp07/powergov/core/eventlog"
	"github.com/kilianp07/powergov/core/factory"
	"github.com/kilianp07/powergov/core/governor"
	"github.com/kilianp07/powergov/core/model"
	"github.com/kilianp07/powergov/infra/mqtt"
	"github.com/kilianp07/powergov/simulator"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Governor: governor.Config{
			SpikeThresholdAmps:      30,
			MinSpikeDurationSeconds: 0.05,
			TargetTotalAmps:         20,
		},
		MQTT: mqtt.Config{Broker: "tcp://mock:1883"},
		Activation: config.ActivationConfig{
			AutoActivate: true,
			Consumers: []mqtt.ConsumerSpec{
				{ID: "arm", Priority: 10},
				{ID: "wheel", Priority: 5},
			},
		},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func deliverJSON(t *testing.T, cli *mqtt.MockClient, topic string, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	cli.Deliver(topic, b)
}

func TestServiceLimitsRemoteConsumers(t *testing.T) {
	cfg := testConfig(t)
	cli := mqtt.NewMockClient()
	svc, err := New(cfg, WithClient(cli))
	require.NoError(t, err)
	require.Len(t, svc.Consumers, 2)
	defer func() { assert.NoError(t, svc.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	topics := cfg.MQTT.Topics()
	require.Eventually(t, func() bool {
		deliverJSON(t, cli, topics.State("arm"), mqtt.ConsumerState{DrawAmps: 20})
		deliverJSON(t, cli, topics.State("wheel"), mqtt.ConsumerState{DrawAmps: 20})
		cli.Deliver(cfg.PDP.Topic, []byte("40"))
		return len(cli.Messages(topics.Limit("arm"))) > 0 && len(cli.Messages(topics.Limit("wheel"))) > 0
	}, 2*time.Second, 5*time.Millisecond)

	var cmd mqtt.LimitCommand
	require.NoError(t, json.Unmarshal(cli.Messages(topics.Limit("arm"))[0].Payload, &cmd))
	assert.False(t, cmd.Clear)
	assert.InDelta(t, 19.87, cmd.LimitAmps, 0.01)
	assert.True(t, svc.Governor.Status().IsLimiting())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	msgs := cli.Messages(topics.Limit("arm"))
	require.NoError(t, json.Unmarshal(msgs[len(msgs)-1].Payload, &cmd))
	assert.True(t, cmd.Clear, "stopping the service clears every limit")
	_, limited := svc.Consumers[0].Limit()
	assert.False(t, limited)
}

func TestServiceActivationOverMQTT(t *testing.T) {
	cfg := testConfig(t)
	cfg.Activation.AutoActivate = false
	cli := mqtt.NewMockClient()
	svc, err := New(cfg, WithClient(cli))
	require.NoError(t, err)
	defer svc.Close()

	deliverJSON(t, cli, cfg.Activation.Topic, mqtt.ActivationMessage{ConsumerID: "arm", Action: mqtt.ActionActivate})
	svc.Registry.Sync()
	p, ok := svc.Registry.Lookup("arm")
	require.True(t, ok)
	assert.Equal(t, 10.0, p)

	deliverJSON(t, cli, cfg.Activation.Topic, mqtt.ActivationMessage{ConsumerID: "arm", Action: mqtt.ActionDeactivate})
	svc.Registry.Sync()
	_, ok = svc.Registry.Lookup("arm")
	assert.False(t, ok)
}

func TestServiceWithTelemetryHandler(t *testing.T) {
	cfg := &config.Config{Governor: governor.Config{SpikeThresholdAmps: 10}}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	motor := simulator.NewMotor(simulator.MotorSpec{ID: "drill", Priority: 1, DemandAmps: 5})
	svc, err := New(cfg, WithTelemetry(simulator.NewPanel(0, motor)))
	require.NoError(t, err)
	defer svc.Close()
	require.NoError(t, svc.Registry.Activate(motor))
	svc.Governor.Tick(context.Background(), time.Now())

	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()
	for _, path := range []string{"/api/governor/status", "/api/governor/consumers", "/api/governor/config", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestServiceRequiresTelemetry(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestServiceUnknownSink(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "carbon-paper"}}
	_, err := New(cfg, WithTelemetry(model.TelemetryFunc(func(context.Context) (float64, error) { return 0, nil })))
	assert.Error(t, err)
}

func TestServiceRecordsEventLog(t *testing.T) {
	cfg := &config.Config{Governor: governor.Config{SpikeThresholdAmps: 10, MinSpikeDurationSeconds: 0.02, TargetTotalAmps: 5}}
	cfg.EventLog = eventlog.Config{Backend: eventlog.BackendSQLite, Path: filepath.Join(t.TempDir(), "events.db")}
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "sentry", Conf: map[string]any{}}}
	cfg.HTTP.Token = "secret"
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	motor := simulator.NewMotor(simulator.MotorSpec{ID: "drill", Priority: 1, DemandAmps: 20})
	motor.Step(0)
	svc, err := New(cfg, WithTelemetry(simulator.NewPanel(0, motor)))
	require.NoError(t, err)
	defer func() { assert.NoError(t, svc.Close()) }()
	require.NoError(t, svc.Registry.Activate(motor))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, func() bool { return motor.LimitCalls() > 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	req := httptest.NewRequest(http.MethodGet, "/api/governor/events?kind=transition", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	svc.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var recs []eventlog.Record
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&recs))
	var path []string
	for _, r := range recs {
		path = append(path, r.To)
	}
	assert.Equal(t, []string{"spiking", "limiting", "normal"}, path)
	assert.Equal(t, recs[0].EpisodeID, recs[2].EpisodeID)
}
