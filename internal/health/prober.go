// Package health implements the active liveness prober (component C5):
// a periodic GET against every analyzer's /health endpoint, feeding
// outcomes into the same state machine dispatch outcomes do.
//
// The teacher's internal/health/checker.go polls a fixed tick and
// recomputes a derived weight from simulated local metrics (CPU, memory,
// response time, error rate, ping). This is generalized to the spec's
// shape: the prober no longer computes anything itself, it only issues
// real HTTP probes and hands the 2xx/non-2xx result to the registry's
// outcome recorder — the teacher's start/stop-via-context/done-channel
// lifecycle and the "tick or ctx.Done()" select loop are kept as-is.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/veena-u/logs-distributor/internal/registry"
)

// ErrNotFound is returned by TriggerProbe for an unknown analyzer id.
var ErrNotFound = errors.New("health: analyzer not found")

// Prober periodically probes every registered analyzer's health
// endpoint and records the outcome through the registry.
type Prober struct {
	interval time.Duration
	timeout  time.Duration

	registry *registry.Registry
	client   *http.Client
	log      *zap.Logger

	doneCh chan struct{}
}

// New creates a Prober. client is expected to be the gateway's shared,
// keep-alive HTTP client (internal/httpclient), reused for dispatch
// sends too.
func New(interval, timeout time.Duration, reg *registry.Registry, client *http.Client, log *zap.Logger) *Prober {
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{
		interval: interval,
		timeout:  timeout,
		registry: reg,
		client:   client,
		log:      log,
		doneCh:   make(chan struct{}),
	}
}

// Start begins the periodic probe loop in a goroutine. ctx cancellation
// and Stop are both honored; Start itself does not block.
func (p *Prober) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.probeAll(ctx)
			case <-ctx.Done():
				return
			case <-p.doneCh:
				return
			}
		}
	}()
}

// Stop terminates the probe loop. Idempotent.
func (p *Prober) Stop() {
	select {
	case <-p.doneCh:
		// already stopped
	default:
		close(p.doneCh)
	}
}

// probeAll issues one concurrent round of probes against every analyzer
// in the current registry snapshot; a slow analyzer's probe never
// delays another's (each gets its own goroutine and timeout).
func (p *Prober) probeAll(ctx context.Context) {
	snapshot := p.registry.Snapshot()
	if len(snapshot) == 0 {
		return
	}

	results := make(chan error, len(snapshot))
	for _, analyzer := range snapshot {
		analyzer := analyzer
		go func() {
			results <- p.probeOne(ctx, analyzer)
		}()
	}

	var joined error
	for i := 0; i < len(snapshot); i++ {
		joined = multierr.Append(joined, <-results)
	}
	if joined != nil {
		p.log.Debug("health probe round completed with failures", zap.Error(joined))
	}
}

// probeOne issues a single GET {endpoint}/health with its own bounded
// timeout and records the outcome. It never returns an error to a
// caller that would abort the round — failures are recorded, not
// propagated — the returned error exists only so probeAll can log a
// joined summary.
func (p *Prober) probeOne(ctx context.Context, analyzer registry.Snapshot) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, analyzer.HealthPath(), nil)
	if err != nil {
		p.registry.RecordOutcome(analyzer.ID, false, time.Since(start), registry.SourceProbe)
		return errors.Wrapf(err, "health: building probe request for %s", analyzer.ID)
	}

	resp, err := p.client.Do(req)
	rtt := time.Since(start)
	if err != nil {
		p.registry.RecordOutcome(analyzer.ID, false, rtt, registry.SourceProbe)
		return errors.Wrapf(err, "health: probing %s", analyzer.ID)
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	p.registry.RecordOutcome(analyzer.ID, success, rtt, registry.SourceProbe)
	if !success {
		return errors.Errorf("health: %s returned status %d", analyzer.ID, resp.StatusCode)
	}
	return nil
}

// TriggerProbe runs one probe against id synchronously and returns once
// the outcome has been recorded.
func (p *Prober) TriggerProbe(ctx context.Context, id string) error {
	analyzer, err := p.registry.Get(id)
	if err != nil {
		return ErrNotFound
	}
	_ = p.probeOne(ctx, analyzer)
	return nil
}
