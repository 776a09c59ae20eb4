package simulator

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/kilianp07/powergov/core/governor"
)

// ErrNoSamples is returned by RenderChart for a run without WithSamples.
var ErrNoSamples = errors.New("result has no samples")

// RenderChart writes an HTML line chart of the total current against the
// threshold and target of cfg.
func (r Result) RenderChart(w io.Writer, cfg governor.Config) error {
	if len(r.Samples) == 0 {
		return ErrNoSamples
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: r.Scenario, Subtitle: fmt.Sprintf("%d limiting episodes", r.Episodes)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "elapsed"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "current (A)"}),
	)

	xAxis := make([]string, len(r.Samples))
	total := make([]opts.LineData, len(r.Samples))
	threshold := make([]opts.LineData, len(r.Samples))
	target := make([]opts.LineData, len(r.Samples))
	limited := make([]opts.LineData, len(r.Samples))
	for i, s := range r.Samples {
		xAxis[i] = s.Elapsed.String()
		total[i] = opts.LineData{Value: s.TotalAmps}
		threshold[i] = opts.LineData{Value: cfg.SpikeThresholdAmps}
		target[i] = opts.LineData{Value: cfg.TargetTotalAmps}
		limited[i] = opts.LineData{Value: s.Limited}
	}
	line.SetXAxis(xAxis).
		AddSeries("total", total).
		AddSeries("threshold", threshold).
		AddSeries("target", target).
		AddSeries("limited consumers", limited)

	if err := line.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}
