package governor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/kilianp07/powergov/core/model"
)

var (
	// ErrInvalidPriority is returned for negative or non-finite deltas.
	ErrInvalidPriority = errors.New("invalid priority delta")
	// ErrNilConsumer is returned when registering a nil consumer.
	ErrNilConsumer = errors.New("nil consumer")
)

// priorityEpsilon absorbs floating point residue when deltas cancel out.
const priorityEpsilon = 1e-9

// DefaultMaxPending bounds the delta queue. Past it, the registering caller
// folds the queue itself.
const DefaultMaxPending = 4096

type delta struct {
	consumer model.Consumer
	amount   float64
}

type entry struct {
	consumer model.Consumer
	priority float64
}

// Removal describes an entry dropped because its aggregate priority reached
// zero. A negative Aggregate means more priority was unregistered than
// registered.
type Removal struct {
	Consumer  model.Consumer
	Aggregate float64
}

// Negative reports whether the removal hides a caller bookkeeping error.
func (r Removal) Negative() bool { return r.Aggregate < -priorityEpsilon }

// Registry tracks active consumers and their aggregate priority. Several
// activations of the same consumer stack additively.
//
// Register and Unregister only enqueue; changes become visible after Sync,
// which the governor runs once per tick.
type Registry struct {
	qmu        sync.Mutex
	pending    []delta
	maxPending int

	mu      sync.RWMutex
	entries map[string]*entry
	removed []Removal
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry), maxPending: DefaultMaxPending}
}

// Register adds priority to the consumer's aggregate, creating the entry if
// needed. A zero delta is ignored.
func (r *Registry) Register(c model.Consumer, priority float64) error {
	return r.enqueue(c, priority, 1)
}

// Unregister subtracts priority from the consumer's aggregate. The entry is
// dropped, and the consumer's limit cleared, once the aggregate reaches zero.
func (r *Registry) Unregister(c model.Consumer, priority float64) error {
	return r.enqueue(c, priority, -1)
}

// Activate registers c with its own advertised priority.
func (r *Registry) Activate(c model.Consumer) error {
	if c == nil {
		return ErrNilConsumer
	}
	return r.Register(c, c.Priority())
}

// Deactivate undoes Activate.
func (r *Registry) Deactivate(c model.Consumer) error {
	if c == nil {
		return ErrNilConsumer
	}
	return r.Unregister(c, c.Priority())
}

// ActivateAll activates every consumer, returning the joined errors.
func (r *Registry) ActivateAll(cs ...model.Consumer) error {
	var errs []error
	for _, c := range cs {
		if err := r.Activate(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeactivateAll deactivates every consumer, returning the joined errors.
func (r *Registry) DeactivateAll(cs ...model.Consumer) error {
	var errs []error
	for _, c := range cs {
		if err := r.Deactivate(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) enqueue(c model.Consumer, priority, sign float64) error {
	if c == nil {
		return ErrNilConsumer
	}
	if priority < 0 || math.IsNaN(priority) || math.IsInf(priority, 0) {
		return fmt.Errorf("%w: consumer %s: %v", ErrInvalidPriority, c.ID(), priority)
	}
	if priority == 0 {
		return nil
	}
	amount := sign * priority
	r.qmu.Lock()
	r.pending = append(r.pending, delta{consumer: c, amount: amount})
	if len(r.pending) < r.maxPending {
		r.qmu.Unlock()
		return nil
	}
	r.foldLocked()
	return nil
}

// Sync folds queued deltas in arrival order and returns the entries removed
// since the previous Sync.
func (r *Registry) Sync() []Removal {
	r.qmu.Lock()
	r.foldLocked()
	r.mu.Lock()
	removed := r.removed
	r.removed = nil
	r.mu.Unlock()
	return removed
}

// foldLocked is called with qmu held and releases it. qmu is handed over to
// mu so that batches are applied in the order they were queued.
func (r *Registry) foldLocked() {
	batch := r.pending
	r.pending = nil
	r.mu.Lock()
	r.qmu.Unlock()
	defer r.mu.Unlock()
	for _, d := range batch {
		id := d.consumer.ID()
		e, ok := r.entries[id]
		if !ok {
			e = &entry{consumer: d.consumer}
			r.entries[id] = e
		}
		e.priority += d.amount
		if e.priority <= priorityEpsilon {
			delete(r.entries, id)
			r.removed = append(r.removed, Removal{Consumer: e.consumer, Aggregate: e.priority})
		}
	}
}

// Lookup returns the folded aggregate priority for id.
func (r *Registry) Lookup(id string) (float64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return 0, false
	}
	return e.priority, true
}

// Len returns the number of folded entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot is an immutable copy of the registry taken at one instant.
type Snapshot struct {
	Samples   []model.ConsumerSample
	consumers map[string]model.Consumer
}

// Consumer returns the consumer behind a sample ID.
func (s Snapshot) Consumer(id string) (model.Consumer, bool) {
	c, ok := s.consumers[id]
	return c, ok
}

// Len returns the number of consumers in the snapshot.
func (s Snapshot) Len() int { return len(s.Samples) }

// Snapshot copies the folded entries and samples each consumer's draw.
// Samples are ordered by consumer ID.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	entries := make([]entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, *e)
	}
	r.mu.RUnlock()

	snap := Snapshot{
		Samples:   make([]model.ConsumerSample, len(entries)),
		consumers: make(map[string]model.Consumer, len(entries)),
	}
	for i, e := range entries {
		id := e.consumer.ID()
		snap.Samples[i] = model.ConsumerSample{ID: id, Priority: e.priority, DrawAmps: sanitizeDraw(e.consumer.CurrentDraw())}
		snap.consumers[id] = e.consumer
	}
	sort.Slice(snap.Samples, func(i, j int) bool { return snap.Samples[i].ID < snap.Samples[j].ID })
	return snap
}
