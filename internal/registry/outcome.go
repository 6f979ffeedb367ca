package registry

import (
	"time"

	"github.com/veena-u/logs-distributor/internal/events"
)

// Source distinguishes a probe outcome from a dispatch outcome for the
// purpose of the separated lifetime counters (spec §9: "implementers
// should expose both counters separately in stats even if the health
// transition uses their sum"). Both sources feed the same state machine.
type Source int

const (
	SourceDispatch Source = iota
	SourceProbe
)

// RecordOutcome is the single writer of per-analyzer counters and the
// healthy flag (component C6). The full update — counters, lastSeen,
// lastResponseTime, and any health transition — is applied while holding
// the record's own lock, so it is atomic to any concurrent snapshot
// reader and to a concurrent RecordOutcome call for the same analyzer.
// A call for a different analyzer takes a different record's lock and
// never blocks on this one.
//
// An outcome for an id no longer present in the registry is dropped
// without side effect, matching the invariant that eviction makes any
// in-flight send's late outcome a no-op.
func (r *Registry) RecordOutcome(id string, success bool, rtt time.Duration, src Source) {
	rec, ok := r.lookup(id)
	if !ok {
		return
	}

	rec.mu.Lock()
	var transition events.Kind
	var transitioned bool

	rec.TotalChecks++
	rec.LastResponseTime = rtt

	if success {
		rec.ConsecutiveSuccesses++
		rec.ConsecutiveFailures = 0
		rec.LastSeen = time.Now()
	} else {
		rec.ConsecutiveFailures++
		rec.ConsecutiveSuccesses = 0
		rec.TotalFailures++
		if src == SourceProbe {
			rec.ProbeFailures++
		} else {
			rec.DispatchFailures++
		}
	}

	switch {
	case !rec.Healthy && rec.ConsecutiveSuccesses >= r.successThreshold:
		rec.Healthy = true
		transition, transitioned = events.Recovered, true
	case rec.Healthy && rec.ConsecutiveFailures >= r.failureThreshold:
		rec.Healthy = false
		transition, transitioned = events.Degraded, true
	}
	rec.mu.Unlock()

	if transitioned && r.bus != nil {
		r.bus.Publish(transition, id, "")
	}
}
