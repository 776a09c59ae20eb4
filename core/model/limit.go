package model

import (
	"fmt"
	"sync"
)

// LimitState tracks whether a consumer is currently capped. It can be
// embedded in Consumer implementations to get idempotent limit handling.
// The zero value is Unlimited.
type LimitState struct {
	mu      sync.RWMutex
	limited bool
	amps    float64
}

// Apply records a limit and reports whether the state changed.
func (s *LimitState) Apply(amps float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limited && s.amps == amps {
		return false
	}
	s.limited, s.amps = true, amps
	return true
}

// Clear removes the limit and reports whether the state changed.
func (s *LimitState) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.limited {
		return false
	}
	s.limited, s.amps = false, 0
	return true
}

// Limit returns the active cap and whether one is set.
func (s *LimitState) Limit() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.amps, s.limited
}

// Cap clamps a requested draw to the active limit.
func (s *LimitState) Cap(demand float64) float64 {
	amps, ok := s.Limit()
	if ok && demand > amps {
		return amps
	}
	return demand
}

func (s *LimitState) String() string {
	amps, ok := s.Limit()
	if !ok {
		return "unlimited"
	}
	return fmt.Sprintf("limited(%.3fA)", amps)
}
