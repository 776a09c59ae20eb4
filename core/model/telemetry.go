package model

import "context"

// TelemetrySource reports the robot's total current draw, typically from the
// power distribution panel.
type TelemetrySource interface {
	TotalCurrentDraw(ctx context.Context) (float64, error)
}

// TelemetryFunc adapts a function to TelemetrySource.
type TelemetryFunc func(ctx context.Context) (float64, error)

// TotalCurrentDraw calls f.
func (f TelemetryFunc) TotalCurrentDraw(ctx context.Context) (float64, error) { return f(ctx) }
