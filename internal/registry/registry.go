package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/veena-u/logs-distributor/internal/events"
)

// Registry holds the mutable set of analyzer records keyed by id. Many
// readers (selector, status endpoints) take consistent snapshots; writes
// (Admit/Evict) are few and serialized by the registry's own lock. Each
// record additionally carries its own lock (see outcome.go) so that
// concurrent outcome recording for distinct analyzers never contends.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record

	failureThreshold int
	successThreshold int

	bus *events.Bus
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithThresholds overrides the default 3-consecutive-failure /
// 3-consecutive-success health transition thresholds.
func WithThresholds(failure, success int) Option {
	return func(r *Registry) {
		if failure > 0 {
			r.failureThreshold = failure
		}
		if success > 0 {
			r.successThreshold = success
		}
	}
}

// New creates an empty Registry publishing lifecycle events on bus.
func New(bus *events.Bus, opts ...Option) *Registry {
	r := &Registry{
		records:          make(map[string]*Record),
		failureThreshold: defaultFailureThreshold,
		successThreshold: defaultSuccessThreshold,
		bus:              bus,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Admit adds or replaces the analyzer record for id. Re-admitting an
// existing id is equivalent to evict-then-admit: weight and endpoint are
// updated, health counters reset, and healthy is set true — admit is
// trusted and does not require successThreshold priors (spec §9).
func (r *Registry) Admit(id, endpoint string, weight float64) error {
	if err := validAdmitArgs(id, endpoint, weight); err != nil {
		return err
	}

	r.mu.Lock()
	r.records[id] = &Record{
		ID:       id,
		Endpoint: endpoint,
		Weight:   weight,
		Healthy:  true,
		LastSeen: time.Now(),
	}
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.Publish(events.Admitted, id, endpoint)
	}
	return nil
}

// Evict removes the record for id, if present. Idempotent.
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	_, existed := r.records[id]
	delete(r.records, id)
	r.mu.Unlock()

	if existed && r.bus != nil {
		r.bus.Publish(events.Evicted, id, "")
	}
}

// Snapshot returns a point-in-time, internally consistent copy of every
// record, sorted lexicographically by id so that callers needing a
// deterministic iteration order (the selector) never need to sort twice.
func (r *Registry) Snapshot() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.records))
	for _, rec := range r.records {
		rec.mu.Lock()
		out = append(out, rec.snapshot())
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a consistent snapshot of a single analyzer, or ErrNotFound.
func (r *Registry) Get(id string) (Snapshot, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return Snapshot{}, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshot(), nil
}

// AnyHealthy reports whether at least one analyzer is currently healthy.
// Used by the /ready admin endpoint.
func (r *Registry) AnyHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records {
		rec.mu.Lock()
		healthy := rec.Healthy
		rec.mu.Unlock()
		if healthy {
			return true
		}
	}
	return false
}

func (r *Registry) lookup(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	return rec, ok
}
