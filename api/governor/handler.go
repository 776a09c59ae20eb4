package governor

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kilianp07/powergov/core/eventlog"
	gov "github.com/kilianp07/powergov/core/governor"
)

// StatusProvider exposes the governor status.
type StatusProvider interface {
	Status() gov.Status
}

// ConsumerLister lists registered consumers. *governor.Registry implements it.
type ConsumerLister interface {
	Snapshot() gov.Snapshot
}

// Configurable exposes the governor tunables.
type Configurable interface {
	Config() gov.Config
	UpdateConfig(gov.Config) error
}

// Consumer is one entry of GET /api/governor/consumers.
type Consumer struct {
	ID        string   `json:"id"`
	Priority  float64  `json:"priority"`
	DrawAmps  float64  `json:"draw_amps"`
	Limited   bool     `json:"limited"`
	LimitAmps *float64 `json:"limit_amps,omitempty"`
}

// NewStatusHandler serves GET /api/governor/status.
func NewStatusHandler(p StatusProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, p.Status())
	})
}

// NewConsumersHandler serves GET /api/governor/consumers. Limits come from
// the last tick's status.
func NewConsumersHandler(l ConsumerLister, p StatusProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		limits := make(map[string]float64)
		for _, lc := range p.Status().Limited {
			limits[lc.ID] = lc.LimitAmps
		}
		snap := l.Snapshot()
		out := make([]Consumer, 0, snap.Len())
		for _, s := range snap.Samples {
			c := Consumer{ID: s.ID, Priority: s.Priority, DrawAmps: s.DrawAmps}
			if amps, ok := limits[s.ID]; ok {
				c.Limited = true
				c.LimitAmps = &amps
			}
			out = append(out, c)
		}
		writeJSON(w, http.StatusOK, out)
	})
}

// NewConfigHandler serves GET and PUT /api/governor/config. PUT merges the
// JSON body into the current tunables; the result applies at the next tick.
// Requests must include "Authorization: Bearer <token>" when token is set.
func NewConfigHandler(c Configurable, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, c.Config())
		case http.MethodPut:
			cfg := c.Config()
			dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&cfg); err != nil {
				http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
				return
			}
			if err := c.UpdateConfig(cfg); err != nil {
				code := http.StatusInternalServerError
				if errors.Is(err, gov.ErrInvalidConfig) {
					code = http.StatusUnprocessableEntity
				}
				http.Error(w, err.Error(), code)
				return
			}
			cfg.SetDefaults()
			writeJSON(w, http.StatusAccepted, cfg)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

// Routes wires every governor endpoint on mux. /api/governor/events is only
// mounted when events is not nil.
func Routes(mux *http.ServeMux, g *gov.Governor, token string, events eventlog.Reader) {
	mux.Handle("/api/governor/status", NewStatusHandler(g))
	mux.Handle("/api/governor/consumers", NewConsumersHandler(g.Registry(), g))
	mux.Handle("/api/governor/config", NewConfigHandler(g, token))
	if events != nil {
		mux.Handle("/api/governor/events", NewEventsHandler(events, token))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
