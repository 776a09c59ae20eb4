package governor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gov "github.com/kilianp07/powergov/core/governor"
	"github.com/kilianp07/powergov/core/model"
	"github.com/kilianp07/powergov/simulator"
)

func newLimitingGovernor(t *testing.T) *gov.Governor {
	t.Helper()
	arm := simulator.NewMotor(simulator.MotorSpec{ID: "arm", Priority: 10, DemandAmps: 20})
	wheel := simulator.NewMotor(simulator.MotorSpec{ID: "wheel", Priority: 5, DemandAmps: 20})
	arm.Step(0)
	wheel.Step(0)
	panel := simulator.NewPanel(0, arm, wheel)
	reg := gov.NewRegistry()
	g, err := gov.New(gov.Config{SpikeThresholdAmps: 30, MinSpikeDurationSeconds: 0.5, TargetTotalAmps: 20}, reg, panel)
	if err != nil {
		t.Fatalf("new governor: %v", err)
	}
	if err := reg.ActivateAll(arm, wheel); err != nil {
		t.Fatalf("activate: %v", err)
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g.Tick(context.Background(), start)
	if st := g.Tick(context.Background(), start.Add(time.Second)); st != model.StateLimiting {
		t.Fatalf("expected limiting, got %s", st)
	}
	if err := g.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	t.Cleanup(func() { _ = g.Stop() })
	return g
}

func TestStatusHandler(t *testing.T) {
	g := newLimitingGovernor(t)
	rr := httptest.NewRecorder()
	NewStatusHandler(g).ServeHTTP(rr, httptest.NewRequest("GET", "/api/governor/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["state"] != "limiting" {
		t.Fatalf("unexpected state %v", out["state"])
	}
	if out["spike_seconds"].(float64) != 1 {
		t.Fatalf("unexpected spike_seconds %v", out["spike_seconds"])
	}
	if len(out["limited"].([]any)) != 2 {
		t.Fatalf("expected 2 limited consumers, got %v", out["limited"])
	}
}

func TestStatusHandler_Method(t *testing.T) {
	g := newLimitingGovernor(t)
	rr := httptest.NewRecorder()
	NewStatusHandler(g).ServeHTTP(rr, httptest.NewRequest("POST", "/api/governor/status", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestConsumersHandler(t *testing.T) {
	g := newLimitingGovernor(t)
	rr := httptest.NewRecorder()
	NewConsumersHandler(g.Registry(), g).ServeHTTP(rr, httptest.NewRequest("GET", "/api/governor/consumers", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out []Consumer
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0].ID != "arm" || out[1].ID != "wheel" {
		t.Fatalf("unexpected consumers %#v", out)
	}
	if !out[0].Limited || out[0].LimitAmps == nil {
		t.Fatalf("arm should be limited")
	}
	sum := *out[0].LimitAmps + *out[1].LimitAmps
	if sum < 20-1e-6 || sum > 20+1e-6 {
		t.Fatalf("limits should sum to the target, got %f", sum)
	}
	if *out[0].LimitAmps <= *out[1].LimitAmps {
		t.Fatalf("higher priority should get the larger share")
	}
}

func TestConsumersHandler_Empty(t *testing.T) {
	reg := gov.NewRegistry()
	g, err := gov.New(gov.Config{}, reg, model.TelemetryFunc(func(context.Context) (float64, error) { return 0, nil }))
	if err != nil {
		t.Fatal(err)
	}
	rr := httptest.NewRecorder()
	NewConsumersHandler(reg, g).ServeHTTP(rr, httptest.NewRequest("GET", "/api/governor/consumers", nil))
	if rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty array got %s", rr.Body.String())
	}
}

func TestConfigHandler_Put(t *testing.T) {
	g := newLimitingGovernor(t)
	h := NewConfigHandler(g, "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("PUT", "/api/governor/config", strings.NewReader(`{"target_total_amps": 25}`)))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var out gov.Config
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TargetTotalAmps != 25 || out.SpikeThresholdAmps != 30 {
		t.Fatalf("partial update not merged: %#v", out)
	}
	if g.Config().TargetTotalAmps != 20 {
		t.Fatalf("config must not change before the next tick")
	}
	g.Tick(context.Background(), time.Date(2024, 1, 1, 0, 0, 2, 0, time.UTC))
	if g.Config().TargetTotalAmps != 25 {
		t.Fatalf("config not applied at the next tick")
	}
}

func TestConfigHandler_Invalid(t *testing.T) {
	g := newLimitingGovernor(t)
	h := NewConfigHandler(g, "")
	for body, code := range map[string]int{
		`{"spike_threshold_amps": -3}`: http.StatusUnprocessableEntity,
		`{"unknown": 1}`:               http.StatusBadRequest,
		`not json`:                     http.StatusBadRequest,
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("PUT", "/api/governor/config", strings.NewReader(body)))
		if rr.Code != code {
			t.Fatalf("%s: expected %d got %d", body, code, rr.Code)
		}
	}
}

func TestConfigHandler_Auth(t *testing.T) {
	g := newLimitingGovernor(t)
	h := NewConfigHandler(g, "secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/governor/config", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rr.Code)
	}
	req := httptest.NewRequest("GET", "/api/governor/config", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestRoutes(t *testing.T) {
	g := newLimitingGovernor(t)
	mux := http.NewServeMux()
	Routes(mux, g, "", nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()
	for _, p := range []string{"/api/governor/status", "/api/governor/consumers", "/api/governor/config"} {
		resp, err := http.Get(srv.URL + p)
		if err != nil {
			t.Fatalf("%s: %v", p, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", p, resp.StatusCode)
		}
	}
}
