// Package eventlog persists governor events (transitions, allocations and
// faults) for later inspection.
//
// Backends:
//   - jsonl: one JSON document per line in a single file
//   - rotating: jsonl with size based rotation (lumberjack)
//   - sqlite: a SQLite table (modernc.org/sqlite, no cgo)
package eventlog
