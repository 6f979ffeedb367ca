// Package selector implements the weight-proportional choice among
// currently-healthy analyzers (component C2).
//
// The teacher's internal/lb package computes this deterministically —
// smooth weighted round robin keyed on accumulated currentWeights per
// server id. The spec calls for a probabilistic choice instead (uniform
// draw over the weight CDF), so the accumulation idea is kept — the
// selector still walks candidates in a stable, id-sorted order exactly
// like the teacher's candidate-building loop — but the decision rule
// changes from "largest accumulated weight wins" to "first candidate
// whose cumulative weight exceeds a drawn random threshold wins".
package selector

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"github.com/veena-u/logs-distributor/internal/registry"
)

// ErrNoHealthyAnalyzer is returned when the healthy set is empty.
var ErrNoHealthyAnalyzer = errors.New("selector: no healthy analyzer")

// ErrInvalidWeights is returned when the healthy set's total weight is
// not strictly positive (only reachable if weights were ever relaxed to
// allow zero; Admit rejects non-positive weight today).
var ErrInvalidWeights = errors.New("selector: invalid weights")

// Select picks one healthy analyzer from snapshot with probability
// proportional to its weight, drawing from rng. snapshot need not be
// pre-filtered or pre-sorted; Select does both. It is stateless: every
// call receives the registry snapshot and RNG explicitly so concurrent
// admits/evicts elsewhere never produce a torn read, and so tests can
// inject a seeded *rand.Rand for reproducible distributions.
func Select(snapshot []registry.Snapshot, rng *rand.Rand) (registry.Snapshot, error) {
	healthy := healthySorted(snapshot)

	if len(healthy) == 0 {
		return registry.Snapshot{}, ErrNoHealthyAnalyzer
	}
	if len(healthy) == 1 {
		return healthy[0], nil
	}

	total := 0.0
	for _, s := range healthy {
		total += s.Weight
	}
	if total <= 0 {
		return registry.Snapshot{}, ErrInvalidWeights
	}

	draw := rng.Float64() * total
	cumulative := 0.0
	for _, s := range healthy {
		cumulative += s.Weight
		if draw < cumulative {
			return s, nil
		}
	}
	// Defensive fallback for floating-point drift: the loop above is
	// guaranteed to select before this point for any draw in [0, total).
	return healthy[len(healthy)-1], nil
}

// healthySorted returns the healthy subset of snapshot, already sorted
// lexicographically by id. registry.Snapshot already returns its slice
// id-sorted, so this only needs to filter, but the sort is kept here too
// so Select is correct even given an unsorted or hand-built snapshot
// (e.g. in tests).
func healthySorted(snapshot []registry.Snapshot) []registry.Snapshot {
	healthy := make([]registry.Snapshot, 0, len(snapshot))
	for _, s := range snapshot {
		if s.Healthy {
			healthy = append(healthy, s)
		}
	}
	sort.Slice(healthy, func(i, j int) bool { return healthy[i].ID < healthy[j].ID })
	return healthy
}
