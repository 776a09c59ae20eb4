package governor

import (
	"net/http"
	"time"

	"github.com/kilianp07/powergov/core/eventlog"
)

// NewEventsHandler serves GET /api/governor/events from the event log.
// Supported query parameters: start, end (RFC3339), kind, episode_id and
// consumer_id. Requests must include "Authorization: Bearer <token>" when
// token is set.
func NewEventsHandler(store eventlog.Reader, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		params := r.URL.Query()
		q := eventlog.Query{
			Kind:       eventlog.Kind(params.Get("kind")),
			EpisodeID:  params.Get("episode_id"),
			ConsumerID: params.Get("consumer_id"),
		}
		var err error
		if q.Start, err = parseTime(params.Get("start")); err != nil {
			http.Error(w, "invalid start: "+err.Error(), http.StatusBadRequest)
			return
		}
		if q.End, err = parseTime(params.Get("end")); err != nil {
			http.Error(w, "invalid end: "+err.Error(), http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []eventlog.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	})
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
