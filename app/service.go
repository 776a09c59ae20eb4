package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	govapi "github.com/kilianp07/powergov/api/governor"
	"github.com/kilianp07/powergov/config"
	"github.com/kilianp07/powergov/core/eventlog"
	"github.com/kilianp07/powergov/core/events"
	"github.com/kilianp07/powergov/core/governor"
	coremetrics "github.com/kilianp07/powergov/core/metrics"
	"github.com/kilianp07/powergov/core/model"
	coremqtt "github.com/kilianp07/powergov/core/mqtt"
	"github.com/kilianp07/powergov/infra/logger"
	"github.com/kilianp07/powergov/infra/metrics"
	_ "github.com/kilianp07/powergov/infra/monitoring"
	"github.com/kilianp07/powergov/infra/mqtt"
	"github.com/kilianp07/powergov/infra/pdp"
	"github.com/kilianp07/powergov/internal/eventbus"
)

var registerFeedMetrics sync.Once

// Option customizes a Service.
type Option func(*options)

type options struct {
	client    coremqtt.Client
	telemetry model.TelemetrySource
}

// WithClient uses client instead of connecting to the configured broker.
func WithClient(c coremqtt.Client) Option {
	return func(o *options) { o.client = c }
}

// WithTelemetry replaces the MQTT panel feed.
func WithTelemetry(src model.TelemetrySource) Option {
	return func(o *options) { o.telemetry = src }
}

// Service wires the governor to MQTT consumers, the panel feed, metrics
// sinks and the HTTP API.
type Service struct {
	Governor  *governor.Governor
	Registry  *governor.Registry
	Consumers []*mqtt.RemoteConsumer

	cfg      *config.Config
	client   coremqtt.Client
	paho     *mqtt.PahoClient
	feed     *pdp.Feed
	listener *mqtt.ActivationListener
	sink     coremetrics.MetricsSink
	events   eventlog.Store
	bus      *eventbus.Bus[events.Event]
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	svc := &Service{cfg: cfg, client: o.client, bus: eventbus.New[events.Event](), log: logger.New("service")}

	if svc.client == nil && cfg.NeedsMQTT() {
		pc, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.client, svc.paho = pc, pc
	}

	src := o.telemetry
	if src == nil {
		if svc.client == nil {
			return nil, fmt.Errorf("no telemetry source: mqtt.broker is required for the panel feed")
		}
		feed, err := pdp.NewFeed(svc.client, cfg.PDP)
		if err != nil {
			svc.disconnect()
			return nil, fmt.Errorf("panel feed: %w", err)
		}
		registerFeedMetrics.Do(func() { pdp.MustRegisterMetrics(prometheus.DefaultRegisterer) })
		svc.feed, src = feed, feed
	}

	svc.Registry = governor.NewRegistry()
	gov, err := governor.New(cfg.Governor, svc.Registry, src,
		governor.WithLogger(logger.New("governor")),
		governor.WithEventBus(svc.bus),
	)
	if err != nil {
		svc.disconnect()
		return nil, err
	}
	svc.Governor = gov

	if err := svc.setupConsumers(); err != nil {
		svc.disconnect()
		return nil, err
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		svc.disconnect()
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	if cfg.EventLog.Enabled() {
		store, err := eventlog.Open(cfg.EventLog)
		if err != nil {
			if c, ok := sink.(coremetrics.Closer); ok {
				_ = c.Close()
			}
			svc.disconnect()
			return nil, fmt.Errorf("event log: %w", err)
		}
		svc.events = store
		sink = coremetrics.NewMultiSink(sink, eventlog.NewSink(store))
	}
	svc.sink = sink
	return svc, nil
}

func (s *Service) setupConsumers() error {
	if s.client == nil {
		return nil
	}
	mc := s.cfg.MQTT
	for _, spec := range s.cfg.Activation.Consumers {
		c, err := mqtt.NewRemoteConsumer(s.client, spec, mc.QoSFor(mqtt.QoSState),
			mqtt.WithTopics(mc.Topics()),
			mqtt.WithLimitQoS(mc.QoSFor(mqtt.QoSLimit)),
			mqtt.WithAckTimeout(mc.AckTimeout()),
		)
		if err != nil {
			return fmt.Errorf("consumer %s: %w", spec.ID, err)
		}
		s.Consumers = append(s.Consumers, c)
	}
	s.listener = mqtt.NewActivationListener(s.client, s.Registry, s.cfg.Activation.Topic, mc.QoSFor(mqtt.QoSActivation))
	for _, c := range s.Consumers {
		s.listener.Add(c)
	}
	return s.listener.Start()
}

// Handler returns the API routes plus /metrics when no dedicated Prometheus
// listener is configured.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	var events eventlog.Reader
	if s.events != nil {
		events = s.events
	}
	govapi.Routes(mux, s.Governor, s.cfg.HTTP.Token, events)
	if s.cfg.Metrics.PrometheusAddr == "" {
		mux.Handle("/metrics", metrics.PromHandler(nil))
	}
	return mux
}

// Run starts the service and blocks until the context is cancelled or a
// component fails. The governor is stopped, clearing every limit, before Run
// returns.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// the collector outlives gctx so the final transitions of Stop are recorded
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	defer stopCollector()
	collectorDone := metrics.StartEventCollector(collectorCtx, s.bus, s.sink, metrics.CollectorOptions{
		Logger:         logger.New("metrics"),
		Status:         s.statusSample,
		StatusInterval: s.cfg.Metrics.StatusInterval(),
	})

	if s.cfg.Activation.AutoActivate && len(s.Consumers) > 0 {
		cs := make([]model.Consumer, len(s.Consumers))
		for i, c := range s.Consumers {
			cs[i] = c
		}
		if err := s.Registry.ActivateAll(cs...); err != nil {
			return fmt.Errorf("auto activate: %w", err)
		}
	}

	s.Governor.Start(gctx)
	s.log.Infof("governor started: threshold=%.1fA target=%.1fA consumers=%d",
		s.cfg.Governor.SpikeThresholdAmps, s.cfg.Governor.TargetTotalAmps, len(s.Consumers))

	if s.feed != nil {
		g.Go(func() error { return s.feed.Run(gctx) })
	}
	if addr := s.cfg.Metrics.PrometheusAddr; addr != "" {
		g.Go(func() error { return metrics.StartPromServer(gctx, addr) })
	}
	if addr := s.cfg.HTTP.Address; addr != "" {
		g.Go(func() error { return s.serveHTTP(gctx, addr) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	if stopErr := s.Governor.Stop(); stopErr != nil {
		s.log.Errorf("governor stop: %v", stopErr)
		err = errors.Join(err, stopErr)
	}
	stopCollector()
	<-collectorDone
	return err
}

func (s *Service) serveHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(s.cfg.HTTP.ShutdownTimeoutMS)*time.Millisecond)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("http shutdown: %v", err)
		}
	}()
	s.log.Infof("serving governor API on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (s *Service) statusSample() coremetrics.StatusSample {
	st := s.Governor.Status()
	return coremetrics.StatusSample{
		State:      st.State.String(),
		TotalAmps:  st.TotalAmps,
		Registered: st.Registered,
		Limited:    len(st.Limited),
	}
}

// Close releases resources held by the service. Call it after Run returned.
func (s *Service) Close() error {
	s.bus.Close()
	var err error
	if c, ok := s.sink.(coremetrics.Closer); ok {
		err = c.Close()
	}
	s.disconnect()
	return err
}

func (s *Service) disconnect() {
	if s.paho != nil {
		s.paho.Disconnect()
	}
}
