package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/powergov/config"
	"github.com/kilianp07/powergov/core/events"
	"github.com/kilianp07/powergov/core/governor"
	coremetrics "github.com/kilianp07/powergov/core/metrics"
	"github.com/kilianp07/powergov/core/model"
	"github.com/kilianp07/powergov/infra/logger"
	"github.com/kilianp07/powergov/infra/metrics"
	"github.com/kilianp07/powergov/infra/mqtt"
	"github.com/kilianp07/powergov/internal/eventbus"
	"github.com/kilianp07/powergov/simulator"
)

var (
	scenarioPath string
	bridgeMode   bool
	jsonOutput   bool
	chartPath    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a scenario against simulated motors",
	Long: `Replay a YAML scenario. By default the scenario runs in simulated time
against an in-process governor and a summary is printed. With --bridge the
motors and the panel are published over MQTT in real time so a separately
running service can govern them.`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().StringVarP(&scenarioPath, "scenario", "s", "", "scenario file (defaults to simulation.scenario)")
	simulateCmd.Flags().BoolVar(&bridgeMode, "bridge", false, "publish the simulated robot over MQTT")
	simulateCmd.Flags().BoolVar(&jsonOutput, "json", false, "print the summary as JSON")
	simulateCmd.Flags().StringVar(&chartPath, "chart", "", "write an HTML chart of the run to this file")
	rootCmd.AddCommand(simulateCmd)
}

// loadOptionalConfig returns defaults when the config file does not exist.
func loadOptionalConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := &config.Config{}
		cfg.SetDefaults()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadOptionalConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}
	path := scenarioPath
	if path == "" {
		path = cfg.Simulation.Scenario
	}
	if path == "" {
		return fmt.Errorf("no scenario: pass --scenario or set simulation.scenario")
	}
	sc, err := simulator.LoadScenario(path)
	if err != nil {
		return fmt.Errorf("load scenario: %w", err)
	}
	if bridgeMode || cfg.Simulation.Bridge {
		return runBridge(ctx, cfg, sc)
	}

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return fmt.Errorf("metrics sink: %w", err)
	}
	bus := eventbus.New[events.Event]()
	collectorCtx, stopCollector := context.WithCancel(context.Background())
	done := metrics.StartEventCollector(collectorCtx, bus, sink, metrics.CollectorOptions{Logger: logger.New("metrics")})
	runOpts := []simulator.RunOption{
		simulator.WithRunLogger(logger.New("simulator")),
		simulator.WithGovernorOptions(governor.WithEventBus(bus), governor.WithLogger(logger.New("governor"))),
	}
	if chartPath != "" {
		runOpts = append(runOpts, simulator.WithSamples())
	}
	res, runErr := simulator.Run(ctx, sc, cfg.Governor, runOpts...)
	bus.Close()
	<-done
	stopCollector()
	if c, ok := sink.(coremetrics.Closer); ok {
		if err := c.Close(); err != nil {
			logger.New("main").Warnf("metrics sink close: %v", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	if chartPath != "" {
		if err := writeChart(chartPath, res, cfg.Governor); err != nil {
			return err
		}
		// samples are only collected for the chart
		res.Samples = nil
	}
	return printResult(cmd.OutOrStdout(), res, sc.Tick)
}

func writeChart(path string, res simulator.Result, cfg governor.Config) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}
	if err := res.RenderChart(f, cfg); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func runBridge(ctx context.Context, cfg *config.Config, sc *simulator.Scenario) error {
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("bridge mode requires mqtt.broker")
	}
	client, err := mqtt.NewPahoClient(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Disconnect()

	motors, panel := sc.Build()
	list := make([]*simulator.Motor, 0, len(motors))
	for _, spec := range sc.Motors {
		list = append(list, motors[spec.ID])
	}
	var acker simulator.AckStrategy = simulator.AutoAck{Delay: time.Duration(cfg.Simulation.AckDelayMS) * time.Millisecond}
	if cfg.Simulation.AckDropRate > 0 {
		acker = simulator.NewRandomAck(time.Duration(cfg.Simulation.AckDelayMS)*time.Millisecond, cfg.Simulation.AckDropRate, sc.Seed)
	}
	bridge := simulator.NewBridge(client, cfg.MQTT.Topics(), cfg.PDP.Topic, panel, acker, list...)
	bridge.QoS = cfg.MQTT.QoSFor(mqtt.QoSState)
	if err := bridge.Start(ctx); err != nil {
		return err
	}
	act := simulator.ActivationPublisher{Client: client, Topic: cfg.Activation.Topic, QoS: cfg.MQTT.QoSFor(mqtt.QoSActivation)}
	sched := simulator.NewScheduler(sc, motors, panel, act)

	runCtx, cancel := context.WithTimeout(ctx, sc.Duration)
	defer cancel()
	return bridge.Run(runCtx, sc.Tick, sched)
}

func printResult(w io.Writer, res simulator.Result, tick time.Duration) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "scenario\t%s\n", res.Scenario)
	fmt.Fprintf(tw, "ticks\t%d\n", res.Ticks)
	fmt.Fprintf(tw, "limiting episodes\t%d\n", res.Episodes)
	fmt.Fprintf(tw, "time limiting\t%s\n", res.LimitingTime(tick))
	fmt.Fprintf(tw, "peak current\t%.2fA\n", res.PeakAmps)
	fmt.Fprintf(tw, "final state\t%s\n", res.Final)
	if res.Final == model.StateLimiting {
		fmt.Fprintln(tw, "warning\tscenario ended while limiting")
	}
	return tw.Flush()
}
