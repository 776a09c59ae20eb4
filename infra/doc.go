// Package infra contains the adapters around the governor core: the MQTT
// transport and panel feed, zerolog logging, metrics exporters and error
// reporting. Adapters depend on the interfaces declared under core, never
// the other way round.
package infra
