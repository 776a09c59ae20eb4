// Package events defines the governor events emitted on the event bus.
//
// Available event types:
//   - TransitionEvent: spike detector state change
//   - AllocationEvent: limits pushed during a limiting tick
//   - FaultEvent: a consumer call failed or a registry invariant was violated
package events
