// Package pdp reads the robot's total current from the power distribution
// panel over MQTT and exposes it as a telemetry source for the governor.
package pdp
