// Package registry holds the analyzer pool: admission, eviction,
// consistent snapshots, and the per-analyzer health state machine fed by
// both dispatch outcomes and health probes.
package registry

import (
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidArgument is returned by Admit when id, endpoint or weight is
// malformed.
var ErrInvalidArgument = errors.New("registry: invalid argument")

// ErrNotFound is returned by operations targeting an unknown analyzer id.
var ErrNotFound = errors.New("registry: analyzer not found")

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 3
)

// Record is one analyzer pool member. Lifetime runs from Admit to Evict.
type Record struct {
	ID       string
	Endpoint string
	Weight   float64
	Healthy  bool

	ConsecutiveSuccesses int
	ConsecutiveFailures  int

	TotalChecks    int64
	TotalFailures  int64
	ProbeFailures  int64
	DispatchFailures int64

	LastResponseTime time.Duration
	LastSeen         time.Time

	// mu serializes outcome recording for this one analyzer. Distinct
	// analyzers update concurrently; the same analyzer never does.
	mu sync.Mutex
}

// Snapshot is a value copy of a Record, safe to read and retain without
// holding any lock.
type Snapshot struct {
	ID       string
	Endpoint string
	Weight   float64
	Healthy  bool

	ConsecutiveSuccesses int
	ConsecutiveFailures  int

	TotalChecks      int64
	TotalFailures    int64
	ProbeFailures    int64
	DispatchFailures int64

	LastResponseTime time.Duration
	LastSeen         time.Time
}

func (r *Record) snapshot() Snapshot {
	return Snapshot{
		ID:                   r.ID,
		Endpoint:             r.Endpoint,
		Weight:               r.Weight,
		Healthy:              r.Healthy,
		ConsecutiveSuccesses: r.ConsecutiveSuccesses,
		ConsecutiveFailures:  r.ConsecutiveFailures,
		TotalChecks:          r.TotalChecks,
		TotalFailures:        r.TotalFailures,
		ProbeFailures:        r.ProbeFailures,
		DispatchFailures:     r.DispatchFailures,
		LastResponseTime:     r.LastResponseTime,
		LastSeen:             r.LastSeen,
	}
}

// AnalyzePath returns the dispatch endpoint for this analyzer.
func (s Snapshot) AnalyzePath() string { return s.Endpoint + "/analyze" }

// HealthPath returns the probe endpoint for this analyzer.
func (s Snapshot) HealthPath() string { return s.Endpoint + "/health" }

func validAdmitArgs(id, endpoint string, weight float64) error {
	if id == "" {
		return errors.Wrap(ErrInvalidArgument, "empty id")
	}
	if weight <= 0 {
		return errors.Wrap(ErrInvalidArgument, "non-positive weight")
	}
	u, err := url.Parse(endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return errors.Wrap(ErrInvalidArgument, "malformed endpoint")
	}
	return nil
}
