package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/powergov/core/events"
	coremetrics "github.com/kilianp07/powergov/core/metrics"
	"github.com/kilianp07/powergov/infra/logger"
)

// InfluxConfig holds the InfluxDB connection settings.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
	// Robot tags every point so several robots can share a bucket.
	Robot string `json:"robot"`
}

// InfluxSink writes governor events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	robot    string
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		robot:    cfg.Robot,
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) point(measurement string) *write.Point {
	p := write.NewPointWithMeasurement(measurement)
	if s.robot != "" {
		p = p.AddTag("robot", s.robot)
	}
	return p
}

// RecordTransition writes one point per detector transition.
func (s *InfluxSink) RecordTransition(ev events.TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := s.point("governor_transition").
		AddTag("episode_id", ev.EpisodeID).
		AddTag("from", ev.From.String()).
		AddTag("to", ev.To.String()).
		AddField("total_amps", round3(ev.TotalAmps)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAllocation writes one point per consumer limit.
func (s *InfluxSink) RecordAllocation(ev events.AllocationEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(ev.Allocations))
	for _, a := range ev.Allocations {
		points = append(points, s.point("governor_allocation").
			AddTag("episode_id", ev.EpisodeID).
			AddTag("consumer_id", a.ID).
			AddField("priority", round3(a.Priority)).
			AddField("draw_amps", round3(a.DrawAmps)).
			AddField("scale", a.Scale).
			AddField("limit_amps", round3(a.LimitAmps)).
			AddField("target_amps", round3(ev.TargetAmps)).
			SetTime(ev.Time))
	}
	if len(points) == 0 {
		return nil
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordFault writes a recovered fault.
func (s *InfluxSink) RecordFault(ev events.FaultEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := s.point("governor_fault").AddTag("op", ev.Op)
	if ev.ConsumerID != "" {
		p = p.AddTag("consumer_id", ev.ConsumerID)
	}
	errStr := ""
	if ev.Err != nil {
		errStr = ev.Err.Error()
	}
	p = p.AddField("error", errStr).SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordStatus writes a periodic status sample.
func (s *InfluxSink) RecordStatus(st coremetrics.StatusSample) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := s.point("governor_status").
		AddTag("state", st.State).
		AddField("total_amps", round3(st.TotalAmps)).
		AddField("registered", st.Registered).
		AddField("limited", st.Limited).
		SetTime(time.Now())
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
