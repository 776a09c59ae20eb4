package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/powergov/core/eventlog"
)

// Formats understood by Write.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Write encodes records in the named format.
func Write(w io.Writer, format string, records []eventlog.Record) error {
	switch format {
	case FormatJSON, "":
		return WriteJSON(w, records)
	case FormatCSV:
		return WriteCSV(w, records)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes the records as a JSON array.
func WriteJSON(w io.Writer, records []eventlog.Record) error {
	if records == nil {
		records = []eventlog.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// WriteCSV writes one row per record. Allocations are flattened into a
// single "id=limit" list separated by semicolons.
func WriteCSV(w io.Writer, records []eventlog.Record) error {
	cw := csv.NewWriter(w)
	header := []string{"timestamp", "kind", "episode_id", "from", "to", "total_amps", "target_amps", "consumer_id", "op", "error", "allocations"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.Format(time.RFC3339Nano),
			string(r.Kind),
			r.EpisodeID,
			r.From,
			r.To,
			formatAmps(r.TotalAmps),
			formatAmps(r.TargetAmps),
			r.ConsumerID,
			r.Op,
			r.Error,
			allocations(r),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatAmps(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func allocations(r eventlog.Record) string {
	parts := make([]string, len(r.Allocations))
	for i, a := range r.Allocations {
		parts[i] = a.ID + "=" + formatAmps(a.LimitAmps)
	}
	return strings.Join(parts, ";")
}
