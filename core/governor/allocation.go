package governor

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/powergov/core/model"
)

// ScaleFactor weights a consumer's draw by how far its priority sits below
// the highest active priority: highest / e^(highest-priority).
func ScaleFactor(highest, priority float64) float64 {
	return highest / math.Exp(highest-priority)
}

// Allocate splits target amps across the sampled consumers. Each consumer's
// draw is weighted by ScaleFactor and the weights are rescaled so the limits
// sum to target. It returns nil when there is nothing to scale: no samples,
// or a zero (or non-finite) weighted total.
func Allocate(samples []model.ConsumerSample, target float64) []model.Allocation {
	if len(samples) == 0 {
		return nil
	}
	priorities := make([]float64, len(samples))
	for i, s := range samples {
		priorities[i] = s.Priority
	}
	highest := floats.Max(priorities)

	scales := make([]float64, len(samples))
	weighted := make([]float64, len(samples))
	for i, s := range samples {
		scales[i] = ScaleFactor(highest, s.Priority)
		weighted[i] = scales[i] * sanitizeDraw(s.DrawAmps)
	}
	total := floats.Sum(weighted)
	if total == 0 || math.IsNaN(total) || math.IsInf(total, 0) {
		return nil
	}

	limits := floats.ScaleTo(make([]float64, len(weighted)), target/total, weighted)
	out := make([]model.Allocation, len(samples))
	for i, s := range samples {
		out[i] = model.Allocation{
			ID:        s.ID,
			Priority:  s.Priority,
			DrawAmps:  s.DrawAmps,
			Scale:     scales[i],
			Weighted:  weighted[i],
			LimitAmps: limits[i],
		}
	}
	return out
}

// sanitizeDraw maps unusable readings to zero so one bad sensor cannot
// poison the whole allocation.
func sanitizeDraw(amps float64) float64 {
	if amps < 0 || math.IsNaN(amps) || math.IsInf(amps, 0) {
		return 0
	}
	return amps
}
