package monitoring

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/kilianp07/powergov/core/factory"
	coremetrics "github.com/kilianp07/powergov/core/metrics"
	coremon "github.com/kilianp07/powergov/core/monitoring"
)

// SentryConfig holds settings for Sentry error reporting.
type SentryConfig struct {
	DSN              string  `json:"dsn"`
	Environment      string  `json:"environment"`
	Release          string  `json:"release"`
	TracesSampleRate float64 `json:"traces_sample_rate"`
}

// init registers the "sentry" metrics sink, which reports faults only.
func init() {
	_ = coremetrics.RegisterMetricsSink("sentry", func(conf map[string]any) (coremetrics.MetricsSink, error) {
		var c SentryConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		mon, err := NewSentryMonitor(c)
		if err != nil {
			return nil, err
		}
		return coremon.FaultSink{Monitor: mon}, nil
	})
}

// NewSentryMonitor returns a Monitor backed by its own Sentry hub. An empty
// DSN yields a NopMonitor.
func NewSentryMonitor(cfg SentryConfig) (coremon.Monitor, error) {
	return newSentryMonitor(cfg, nil)
}

func newSentryMonitor(cfg SentryConfig, beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event) (coremon.Monitor, error) {
	if cfg.DSN == "" {
		return coremon.NopMonitor{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate,
		Release:          cfg.Release,
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return nil, err
	}
	return &sentryMonitor{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

type sentryMonitor struct {
	hub *sentry.Hub
}

func (s *sentryMonitor) CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	if len(tags) == 0 {
		s.hub.CaptureException(err)
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		s.hub.CaptureException(err)
	})
}

func (s *sentryMonitor) Flush(timeout time.Duration) bool { return s.hub.Flush(timeout) }
