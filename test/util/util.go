// Package util holds helpers for the container backed integration tests:
// a disposable Mosquitto broker and a Prometheus scrape helper.
package util

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	MosquittoImage        = "eclipse-mosquitto:2.0"
	MosquittoReadyTimeout = 5 * time.Second
	MetricTimeout         = 5 * time.Second

	pollInterval = 50 * time.Millisecond
)

const mosquittoConf = `listener 1883
allow_anonymous true
persistence false
log_dest stdout
log_type error
log_type warning
`

// Broker is a running Mosquitto container.
type Broker struct {
	URL       string
	container tc.Container
}

// Terminate stops the container.
func (b *Broker) Terminate() {
	if b.container != nil {
		_ = b.container.Terminate(context.Background())
	}
}

// StartMosquitto launches an anonymous Mosquitto broker and waits until it
// accepts MQTT connections.
func StartMosquitto(ctx context.Context) (*Broker, error) {
	req := tc.ContainerRequest{
		Image:        MosquittoImage,
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp"),
		Files: []tc.ContainerFile{{
			Reader:            strings.NewReader(mosquittoConf),
			ContainerFilePath: "/mosquitto/config/mosquitto.conf",
			FileMode:          0o644,
		}},
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		return nil, fmt.Errorf("start mosquitto: %w", err)
	}
	b := &Broker{container: cont}

	host, err := cont.Host(ctx)
	if err != nil {
		b.Terminate()
		return nil, err
	}
	port, err := cont.MappedPort(ctx, "1883")
	if err != nil {
		b.Terminate()
		return nil, err
	}
	b.URL = fmt.Sprintf("tcp://%s:%s", host, port.Port())

	waitCtx, cancel := context.WithTimeout(ctx, MosquittoReadyTimeout)
	defer cancel()
	if err := probeMQTT(waitCtx, b.URL); err != nil {
		b.Terminate()
		return nil, fmt.Errorf("mosquitto not ready: %w", err)
	}
	return b, nil
}

// probeMQTT retries an MQTT connect; the listening port opens before the
// broker serves CONNECT.
func probeMQTT(ctx context.Context, broker string) error {
	opts := paho.NewClientOptions().AddBroker(broker).SetClientID("powergov-probe")
	for {
		cli := paho.NewClient(opts)
		token := cli.Connect()
		token.Wait()
		if token.Error() == nil {
			cli.Disconnect(100)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// MetricValue scrapes metricsURL and returns the counter or gauge value of
// the series name{labels}. ok is false when the series is absent.
func MetricValue(ctx context.Context, metricsURL, name string, labels map[string]string) (value float64, ok bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metricsURL, nil)
	if err != nil {
		return 0, false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, false, err
	}
	defer func() { _ = resp.Body.Close() }()
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return 0, false, fmt.Errorf("parse metrics: %w", err)
	}
	mf, found := families[name]
	if !found {
		return 0, false, nil
	}
	for _, m := range mf.GetMetric() {
		if !hasLabels(m, labels) {
			continue
		}
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			return m.GetCounter().GetValue(), true, nil
		case dto.MetricType_GAUGE:
			return m.GetGauge().GetValue(), true, nil
		default:
			return 0, false, fmt.Errorf("metric %s: unsupported type %s", name, mf.GetType())
		}
	}
	return 0, false, nil
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	n := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			n++
		}
	}
	return n == len(want)
}

// WaitForMetric polls metricsURL until name{labels} reaches at least min or
// the context is done.
func WaitForMetric(ctx context.Context, metricsURL, name string, labels map[string]string, min float64) error {
	var last float64
	for {
		v, ok, err := MetricValue(ctx, metricsURL, name, labels)
		if err == nil && ok {
			if v >= min {
				return nil
			}
			last = v
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("metric %s%v stuck at %v: %w", name, labels, last, ctx.Err())
		case <-time.After(pollInterval):
		}
	}
}
