package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/powergov/config"
	"github.com/kilianp07/powergov/core/eventlog"
	"github.com/kilianp07/powergov/pkg/export"
)

var eventsFlags struct {
	kind     string
	consumer string
	episode  string
	since    time.Duration
	format   string
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Export recorded governor events",
	Long: `Read the event log configured under event_log and print the matching
records as JSON or CSV.`,
	RunE: runEvents,
}

func init() {
	f := eventsCmd.Flags()
	f.StringVar(&eventsFlags.kind, "kind", "", "transition, allocation or fault")
	f.StringVar(&eventsFlags.consumer, "consumer", "", "only events naming this consumer")
	f.StringVar(&eventsFlags.episode, "episode", "", "only events of this spike episode")
	f.DurationVar(&eventsFlags.since, "since", 0, "only events newer than this, e.g. 1h")
	f.StringVar(&eventsFlags.format, "format", export.FormatJSON, "json or csv")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.EventLog.Enabled() {
		return fmt.Errorf("event_log.backend is not configured")
	}
	store, err := eventlog.Open(cfg.EventLog)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	q := eventlog.Query{
		Kind:       eventlog.Kind(eventsFlags.kind),
		ConsumerID: eventsFlags.consumer,
		EpisodeID:  eventsFlags.episode,
	}
	if eventsFlags.since > 0 {
		q.Start = time.Now().Add(-eventsFlags.since)
	}
	records, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), eventsFlags.format, records)
}
