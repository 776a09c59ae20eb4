// Package governor keeps the robot's total current draw under control.
//
// A Registry tracks which consumers are active and their aggregate priority.
// The Governor polls a TelemetrySource on a fixed interval and feeds the
// reading to a SpikeDetector. Once a spike has lasted longer than the
// configured debounce window the governor snapshots the registry, computes
// per-consumer limits with Allocate and pushes them through per-consumer
// actuators. When the spike clears every applied limit is removed.
//
// Registration calls may come from any goroutine. They only enqueue deltas;
// the governor tick is the single writer that folds them into the registry
// and the only caller of SetPowerLimit and ClearPowerLimit.
package governor
