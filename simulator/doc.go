// Package simulator drives the governor with simulated motors and a
// simulated power distribution panel. Scenarios are YAML files replayed
// either in simulated time against an in-process governor (Run) or in real
// time over MQTT against a running service (Bridge).
package simulator
