package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veena-u/logs-distributor/internal/events"
	"github.com/veena-u/logs-distributor/internal/httpclient"
	"github.com/veena-u/logs-distributor/internal/ingress"
	"github.com/veena-u/logs-distributor/internal/metrics"
	"github.com/veena-u/logs-distributor/internal/queue"
	"github.com/veena-u/logs-distributor/internal/registry"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPool_DispatchesSuccessfullyToHealthyAnalyzer(t *testing.T) {
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := registry.New(events.NewBus(16))
	require.NoError(t, reg.Admit("a1", srv.URL, 1))

	q := queue.New(10)
	require.NoError(t, q.TryEnqueue(queue.NewPacket("", "agent1", []queue.Message{
		{ID: "m1", Level: "INFO", Source: "svc", Body: "hello"},
	})))

	agg := metrics.New(prometheus.NewRegistry(), func() int { return q.Len() })
	pool := New(q, reg, httpclient.New(8), agg, nil, nil, Config{
		Workers: 1, BatchSize: 10, TickInterval: time.Millisecond, SendTimeout: time.Second,
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	waitFor(t, time.Second, func() bool { return received.Load() == 1 })

	snap, err := reg.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalChecks)
	assert.True(t, snap.Healthy)
}

func TestPool_MessageLevelFailureIsolation(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := registry.New(events.NewBus(16))
	require.NoError(t, reg.Admit("a1", srv.URL, 1))

	q := queue.New(10)
	require.NoError(t, q.TryEnqueue(queue.NewPacket("", "agent1", []queue.Message{
		{ID: "m1", Level: "ERROR", Source: "svc", Body: "first"},
		{ID: "m2", Level: "INFO", Source: "svc", Body: "second"},
	})))

	agg := metrics.New(prometheus.NewRegistry(), func() int { return q.Len() })
	pool := New(q, reg, httpclient.New(8), agg, nil, nil, Config{
		Workers: 1, BatchSize: 10, TickInterval: time.Millisecond, SendTimeout: time.Second,
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	waitFor(t, time.Second, func() bool { return calls.Load() == 2 })
}

func TestPool_RejectedMessageCountsAsErrorButNotHealthSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	reg := registry.New(events.NewBus(16))
	require.NoError(t, reg.Admit("a1", srv.URL, 1))

	q := queue.New(10)
	require.NoError(t, q.TryEnqueue(queue.NewPacket("", "agent1", []queue.Message{
		{ID: "m1", Level: "INFO", Source: "svc", Body: "malformed"},
	})))

	agg := metrics.New(prometheus.NewRegistry(), func() int { return q.Len() })
	pool := New(q, reg, httpclient.New(8), agg, nil, nil, Config{
		Workers: 1, BatchSize: 10, TickInterval: time.Millisecond, SendTimeout: time.Second,
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	waitFor(t, time.Second, func() bool { return agg.Snapshot(0).Errors >= 1 })

	// a 4xx is a message error (counted above) but per spec §7 it is not
	// a health signal: the analyzer that rejected the message must stay
	// healthy rather than trip the circuit breaker.
	snap, err := reg.Get("a1")
	require.NoError(t, err)
	assert.True(t, snap.Healthy)
	assert.Equal(t, int64(0), snap.DispatchFailures)
}

// TestPool_ConcurrentSendsDoNotSerializeWithinAPacket is a regression
// test for spec §5's "a slow analyzer must not block progress for
// other analyzers": every message in a packet used to be sent one at a
// time on the same goroutine, so three sends of sendDelay each would
// take ~3*sendDelay end to end. Fanned out concurrently they should all
// land within about one sendDelay.
func TestPool_ConcurrentSendsDoNotSerializeWithinAPacket(t *testing.T) {
	const sendDelay = 150 * time.Millisecond
	var received atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		time.Sleep(sendDelay)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := registry.New(events.NewBus(16))
	require.NoError(t, reg.Admit("a1", srv.URL, 1))

	q := queue.New(10)
	require.NoError(t, q.TryEnqueue(queue.NewPacket("", "agent1", []queue.Message{
		{ID: "m1", Level: "INFO", Source: "svc", Body: "one"},
		{ID: "m2", Level: "INFO", Source: "svc", Body: "two"},
		{ID: "m3", Level: "INFO", Source: "svc", Body: "three"},
	})))

	agg := metrics.New(prometheus.NewRegistry(), func() int { return q.Len() })
	pool := New(q, reg, httpclient.New(8), agg, nil, nil, Config{
		Workers: 1, BatchSize: 10, TickInterval: time.Millisecond, SendTimeout: time.Second,
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now()
	pool.Start(ctx)
	waitFor(t, 2*time.Second, func() bool { return received.Load() == 3 })
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 2*sendDelay, "messages within a packet must dispatch concurrently, not serially")
}

// TestPool_InFlightReturnsToZeroAfterDrain exercises the counter the
// shutdown sequence polls to decide a grace-period drain is complete.
func TestPool_InFlightReturnsToZeroAfterDrain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := registry.New(events.NewBus(16))
	require.NoError(t, reg.Admit("a1", srv.URL, 1))

	q := queue.New(10)
	require.NoError(t, q.TryEnqueue(queue.NewPacket("", "agent1", []queue.Message{
		{ID: "m1", Level: "INFO", Source: "svc", Body: "hello"},
	})))

	agg := metrics.New(prometheus.NewRegistry(), func() int { return q.Len() })
	pool := New(q, reg, httpclient.New(8), agg, nil, nil, Config{
		Workers: 1, BatchSize: 10, TickInterval: time.Millisecond, SendTimeout: time.Second,
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	waitFor(t, time.Second, func() bool { return q.Len() == 0 && pool.InFlight() == 0 })
}

// TestRoundTrip_LogMessageFieldsSurviveIngressToDispatch covers
// invariant #6: a message accepted by ingress's wire shape must reach
// the analyzer's wire shape with every field intact. ingress.go and
// worker.go each declare their own wire struct for their own direction
// of the trip; this drives a message through both so the two can't
// silently drift apart.
func TestRoundTrip_LogMessageFieldsSurviveIngressToDispatch(t *testing.T) {
	var received struct {
		ID        string         `json:"id"`
		Timestamp time.Time      `json:"timestamp"`
		Level     string         `json:"level"`
		Source    string         `json:"source"`
		Body      string         `json:"message"`
		Metadata  map[string]any `json:"metadata"`
	}
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := registry.New(events.NewBus(16))
	require.NoError(t, reg.Admit("a1", srv.URL, 1))

	q := queue.New(10)
	agg := metrics.New(prometheus.NewRegistry(), func() int { return q.Len() })
	ingressHandler := ingress.New(q, agg, nil)

	ts, err := time.Parse(time.RFC3339, "2026-01-02T15:04:05Z")
	require.NoError(t, err)
	body := fmt.Sprintf(`{"agentId":"agent1","messages":[{"id":"m1","timestamp":%q,"level":"WARN","source":"svc-a","message":"disk usage high","metadata":{"host":"node-7","pct":92.5}}]}`,
		ts.Format(time.RFC3339))

	req := httptest.NewRequest(http.MethodPost, "/logs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	ingressHandler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	pool := New(q, reg, httpclient.New(8), agg, nil, nil, Config{
		Workers: 1, BatchSize: 10, TickInterval: time.Millisecond, SendTimeout: time.Second,
	}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("analyzer never received the dispatched message")
	}

	assert.Equal(t, "m1", received.ID)
	assert.True(t, ts.Equal(received.Timestamp))
	assert.Equal(t, "WARN", received.Level)
	assert.Equal(t, "svc-a", received.Source)
	assert.Equal(t, "disk usage high", received.Body)
	assert.Equal(t, "node-7", received.Metadata["host"])
	assert.Equal(t, 92.5, received.Metadata["pct"])
}

func TestPool_NoHealthyAnalyzerIncrementsErrorsWithoutPanic(t *testing.T) {
	reg := registry.New(events.NewBus(16))

	q := queue.New(10)
	require.NoError(t, q.TryEnqueue(queue.NewPacket("", "agent1", []queue.Message{
		{ID: "m1", Level: "INFO", Source: "svc", Body: "hello"},
	})))

	agg := metrics.New(prometheus.NewRegistry(), func() int { return q.Len() })
	pool := New(q, reg, httpclient.New(8), agg, nil, nil, Config{
		Workers: 1, BatchSize: 10, TickInterval: time.Millisecond, SendTimeout: time.Second,
	}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	waitFor(t, time.Second, func() bool { return agg.Snapshot(0).Errors >= 1 })
}
