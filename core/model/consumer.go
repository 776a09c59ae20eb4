package model

// Consumer is any actuator able to draw current and accept a current ceiling.
//
// Implementations must be cheap and non-blocking for Priority and
// CurrentDraw, which are sampled on the governor goroutine. SetPowerLimit and
// ClearPowerLimit are invoked from a dedicated per-consumer goroutine and
// must be idempotent; the last call wins.
type Consumer interface {
	// ID returns a stable identifier unique within a registry.
	ID() string
	// Priority is the contribution used when the consumer is activated
	// without an explicit priority.
	Priority() float64
	// CurrentDraw reports the instantaneous draw in amps.
	CurrentDraw() float64
	// SetPowerLimit caps the consumer at the given number of amps.
	SetPowerLimit(amps float64) error
	// ClearPowerLimit removes any cap.
	ClearPowerLimit() error
}

// ConsumerSample is a point-in-time view of a registered consumer.
type ConsumerSample struct {
	ID       string  `json:"id"`
	Priority float64 `json:"priority"`
	DrawAmps float64 `json:"draw_amps"`
}
