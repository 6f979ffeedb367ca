// Package dispatch implements the dispatch worker pool (component C4):
// one or more goroutines that drain the ingress queue and fan each
// packet's messages out to a selected analyzer over HTTP.
//
// The teacher's load balancer forwards one inbound request to one
// selected backend per call, synchronously, one at a time. Spec §5 is
// explicit that many sends must be in flight simultaneously so a slow
// analyzer never blocks progress for others; the same fan-out-per-call
// shape the teacher already uses for health checks (internal/health's
// probeAll: one goroutine per analyzer, joined on a results channel) is
// applied here too, one goroutine per message, bounded by a semaphore
// shared across the whole drained batch.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/veena-u/logs-distributor/internal/events"
	"github.com/veena-u/logs-distributor/internal/metrics"
	"github.com/veena-u/logs-distributor/internal/queue"
	"github.com/veena-u/logs-distributor/internal/registry"
	"github.com/veena-u/logs-distributor/internal/selector"
)

// analyzeRequest is the wire body POSTed to an analyzer's /analyze
// endpoint for a single message.
type analyzeRequest struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Body      string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Pool runs a configurable number of dispatch workers against a shared
// queue, registry and HTTP client.
type Pool struct {
	queue    *queue.Queue
	registry *registry.Registry
	client   *http.Client
	metrics  *metrics.Aggregate
	bus      *events.Bus
	log      *zap.Logger

	workers            int
	batchSize          int
	tickInterval       time.Duration
	sendTimeout        time.Duration
	retryOnFailure     bool
	maxConcurrentSends int

	seed int64

	inFlight int64 // atomic: messages currently mid-send, across all workers
}

// Config carries the pool's tunables. cmd/gateway fills BatchSize,
// TickInterval, SendTimeout and RetryOnFailure from the loaded
// configuration; Workers and MaxConcurrentSends are not configuration
// keys.
type Config struct {
	Workers            int
	BatchSize          int
	TickInterval       time.Duration
	SendTimeout        time.Duration
	RetryOnFailure     bool
	MaxConcurrentSends int
}

// New builds a Pool. seed parameterizes each worker's independent RNG
// stream (see Start) so a single run is reproducible in tests while
// distinct workers never share mutable rand state.
func New(q *queue.Queue, reg *registry.Registry, client *http.Client, agg *metrics.Aggregate, bus *events.Bus, log *zap.Logger, cfg Config, seed int64) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	tick := cfg.TickInterval
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	maxConcurrentSends := cfg.MaxConcurrentSends
	if maxConcurrentSends <= 0 {
		maxConcurrentSends = 64
	}
	return &Pool{
		queue:              q,
		registry:           reg,
		client:             client,
		metrics:            agg,
		bus:                bus,
		log:                log,
		workers:            workers,
		batchSize:          batchSize,
		tickInterval:       tick,
		sendTimeout:        cfg.SendTimeout,
		retryOnFailure:     cfg.RetryOnFailure,
		maxConcurrentSends: maxConcurrentSends,
		seed:               seed,
	}
}

// InFlight reports how many messages across every worker are currently
// between selection and outcome recording. Used by the shutdown
// sequence to decide whether the grace-period drain is actually done.
func (p *Pool) InFlight() int64 {
	return atomic.LoadInt64(&p.inFlight)
}

// workerRand pairs one worker's seeded *rand.Rand with a mutex. Fanning
// messages out across goroutines (drainAndDispatch, below) means more
// than one of a worker's own dispatches can now call selector.Select
// concurrently; math/rand.Rand is not safe for concurrent use, so every
// draw from this worker's stream is serialized here instead. Each
// worker still owns an independent stream (seed offset by worker
// index), so distinct workers never share state at all.
type workerRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (w *workerRand) selectAnalyzer(snapshot []registry.Snapshot) (registry.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return selector.Select(snapshot, w.rng)
}

// Start launches the worker goroutines; they run until ctx is canceled.
// Each worker gets its own seeded *rand.Rand (seed offset by worker
// index) so no two workers ever touch the same rand.Rand concurrently.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		wr := &workerRand{rng: rand.New(rand.NewSource(p.seed + int64(i)))}
		go p.runWorker(ctx, wr)
	}
}

func (p *Pool) runWorker(ctx context.Context, wr *workerRand) {
	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainAndDispatch(ctx, wr)
		}
	}
}

// drainAndDispatch pulls up to batchSize packets off the queue and
// dispatches every message in every packet concurrently: one goroutine
// per message, every packet started at once, all bounded by a single
// semaphore sized maxConcurrentSends so a slow or hanging analyzer
// blocks at most its own share of the batch's concurrency budget
// instead of serializing everything behind it (spec §5).
func (p *Pool) drainAndDispatch(ctx context.Context, wr *workerRand) {
	packets := p.queue.DrainBatch(p.batchSize)
	if len(packets) == 0 {
		return
	}

	sem := make(chan struct{}, p.maxConcurrentSends)
	var packetsWg sync.WaitGroup
	for _, packet := range packets {
		packet := packet
		packetsWg.Add(1)
		go func() {
			defer packetsWg.Done()
			p.dispatchPacket(ctx, packet, wr, sem)
		}()
	}
	packetsWg.Wait()
}

// dispatchPacket fans every message in packet out to its own goroutine,
// isolating failures at the message level so one bad message never
// aborts the rest of the packet, and records the packet as processed
// only once every one of its messages has reached an outcome.
func (p *Pool) dispatchPacket(ctx context.Context, packet queue.Packet, wr *workerRand, sem chan struct{}) {
	var messagesWg sync.WaitGroup
	for _, msg := range packet.Messages {
		msg := msg
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			continue
		}

		messagesWg.Add(1)
		go func() {
			defer func() {
				<-sem
				messagesWg.Done()
			}()
			p.dispatchOne(ctx, packet.ID, msg, wr)
		}()
	}
	messagesWg.Wait()

	if p.metrics != nil {
		p.metrics.RecordPacketProcessed(time.Since(packet.EnqueuedAt).Milliseconds())
	}
}

// outcome classifies one send attempt per spec §7's error taxonomy.
type outcome int

const (
	outcomeSuccess  outcome = iota // 2xx: healthy, no error counted
	outcomeRejected                // 4xx: AnalyzerRejected, message error but not a health signal
	outcomeFailure                 // 5xx/timeout/connection error: AnalyzerFailure, health-degrading
)

// dispatchOne selects an analyzer, sends the message, and records the
// outcome. On failure, if retryOnFailure is set, it selects again
// (excluding nothing — the selector will naturally avoid an analyzer
// that outcome recording has just marked unhealthy) and makes one
// additional attempt before giving up on the message.
func (p *Pool) dispatchOne(ctx context.Context, packetID string, msg queue.Message, wr *workerRand) {
	atomic.AddInt64(&p.inFlight, 1)
	defer atomic.AddInt64(&p.inFlight, -1)

	attempts := 1
	if p.retryOnFailure {
		attempts = 2
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		snapshot := p.registry.Snapshot()
		analyzer, err := wr.selectAnalyzer(snapshot)
		if err != nil {
			lastErr = err
			if p.metrics != nil {
				p.metrics.IncErrors()
			}
			break
		}

		result, rtt, sendErr := p.send(ctx, analyzer, msg)
		// only a true analyzer-level failure is a health-degrading
		// outcome; a 4xx rejection still counts as a successful probe
		// of the analyzer's liveness (spec §7: AnalyzerRejected is not
		// a health signal).
		p.registry.RecordOutcome(analyzer.ID, result != outcomeFailure, rtt, registry.SourceDispatch)

		if result == outcomeSuccess {
			return
		}
		lastErr = sendErr
		if p.metrics != nil {
			p.metrics.IncErrors()
		}
		if result == outcomeRejected {
			// retrying a message the analyzer explicitly rejected at
			// another analyzer would not change the outcome; give up.
			break
		}
	}

	if lastErr != nil {
		p.log.Warn("dispatch failed for message",
			zap.String("packetId", packetID),
			zap.String("messageId", msg.ID),
			zap.Error(lastErr))
		if p.bus != nil {
			p.bus.Publish(events.MessageError, "", lastErr.Error())
		}
	}
}

// send issues one POST {endpoint}/analyze and classifies the outcome:
// 2xx is success; 4xx is a rejection attributable to the message, not
// the analyzer's health; 5xx, timeouts and connection errors count
// against the analyzer's health.
func (p *Pool) send(ctx context.Context, analyzer registry.Snapshot, msg queue.Message) (result outcome, rtt time.Duration, err error) {
	body, err := json.Marshal(analyzeRequest{
		ID:        msg.ID,
		Timestamp: msg.Timestamp,
		Level:     msg.Level,
		Source:    msg.Source,
		Body:      msg.Body,
		Metadata:  msg.Metadata,
	})
	if err != nil {
		return outcomeFailure, 0, fmt.Errorf("dispatch: marshaling message %s: %w", msg.ID, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, analyzer.AnalyzePath(), bytes.NewReader(body))
	if err != nil {
		return outcomeFailure, 0, fmt.Errorf("dispatch: building request for %s: %w", analyzer.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	rtt = time.Since(start)
	if err != nil {
		return outcomeFailure, rtt, fmt.Errorf("dispatch: sending to %s: %w", analyzer.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return outcomeSuccess, rtt, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return outcomeRejected, rtt, fmt.Errorf("dispatch: %s rejected message with status %d", analyzer.ID, resp.StatusCode)
	default:
		return outcomeFailure, rtt, fmt.Errorf("dispatch: %s returned status %d", analyzer.ID, resp.StatusCode)
	}
}
