// Package metrics tracks the process-wide aggregate counters spec §3
// defines and exposes them both as a JSON snapshot (for /stats) and as
// Prometheus series (for /metrics).
//
// The teacher's MetricsManager keeps these as plain int64/float64 fields
// behind one sync.RWMutex (a circular-buffer response-time history, an
// error-rate ratio derived from it). Spec §5 instead calls for atomic
// arithmetic on the aggregate counters, with the composite average
// latency read explicitly allowed to be best-effort — so the counters
// below move to sync/atomic and the mutex is dropped entirely.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Aggregate holds the process-wide counters from spec §3.
type Aggregate struct {
	packetsReceived  int64
	packetsProcessed int64
	packetsDropped   int64
	errors           int64
	totalLatencyMs   int64

	promPacketsReceived  prometheus.Counter
	promPacketsProcessed prometheus.Counter
	promPacketsDropped   prometheus.Counter
	promErrors           prometheus.Counter
	promQueueDepth       prometheus.GaugeFunc
	promAvgLatency       prometheus.GaugeFunc
}

// New registers the gateway's Prometheus series against reg and returns
// an Aggregate. queueDepth is polled lazily by the exposition handler,
// never cached, so /metrics always reflects the live queue.
func New(reg prometheus.Registerer, queueDepth func() int) *Aggregate {
	a := &Aggregate{}

	factory := promauto.With(reg)
	a.promPacketsReceived = factory.NewCounter(prometheus.CounterOpts{
		Name: "gateway_packets_received_total",
		Help: "Packets accepted by ingress handlers, before queueing.",
	})
	a.promPacketsProcessed = factory.NewCounter(prometheus.CounterOpts{
		Name: "gateway_packets_processed_total",
		Help: "Packets whose messages have all been attempted.",
	})
	a.promPacketsDropped = factory.NewCounter(prometheus.CounterOpts{
		Name: "gateway_packets_dropped_total",
		Help: "Packets rejected at ingress (queue full or shutting down) or still queued at shutdown.",
	})
	a.promErrors = factory.NewCounter(prometheus.CounterOpts{
		Name: "gateway_message_errors_total",
		Help: "Message-level dispatch errors (NoHealthyAnalyzer, AnalyzerRejected, AnalyzerFailure) and packets rejected at ingress as invalid.",
	})
	a.promQueueDepth = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_queue_depth",
		Help: "Instantaneous dispatch queue depth.",
	}, func() float64 {
		if queueDepth == nil {
			return 0
		}
		return float64(queueDepth())
	})
	a.promAvgLatency = factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "gateway_avg_packet_latency_ms",
		Help: "Best-effort average packet latency in milliseconds.",
	}, func() float64 { return a.AvgLatencyMs() })

	return a
}

// IncPacketsReceived records one valid ingress packet, counted before
// the enqueue attempt whether or not the queue then takes it.
func (a *Aggregate) IncPacketsReceived() {
	atomic.AddInt64(&a.packetsReceived, 1)
	a.promPacketsReceived.Inc()
}

// IncPacketsDropped records one packet rejected at ingress (queue full
// or closed) or left in the queue at shutdown.
func (a *Aggregate) IncPacketsDropped() {
	atomic.AddInt64(&a.packetsDropped, 1)
	a.promPacketsDropped.Inc()
}

// IncErrors records one message-level error.
func (a *Aggregate) IncErrors() {
	atomic.AddInt64(&a.errors, 1)
	a.promErrors.Inc()
}

// RecordPacketProcessed marks one packet fully attempted and folds its
// end-to-end latency into the running total.
func (a *Aggregate) RecordPacketProcessed(latencyMs int64) {
	atomic.AddInt64(&a.packetsProcessed, 1)
	atomic.AddInt64(&a.totalLatencyMs, latencyMs)
	a.promPacketsProcessed.Inc()
}

// Snapshot is a point-in-time, independently-read copy of the aggregate
// counters suitable for JSON serving on /stats.
type Snapshot struct {
	PacketsReceived  int64   `json:"packetsReceived"`
	PacketsProcessed int64   `json:"packetsProcessed"`
	PacketsDropped   int64   `json:"packetsDropped"`
	Errors           int64   `json:"errors"`
	TotalLatencyMs   int64   `json:"totalLatencyMs"`
	AvgLatencyMs     float64 `json:"avgLatencyMs"`
	QueueSize        int     `json:"queueSize"`
}

// AvgLatencyMs computes totalLatencyMs / packetsProcessed from two
// independent atomic reads; per spec §5 this composite value is
// best-effort and may be momentarily inconsistent under concurrent
// updates.
func (a *Aggregate) AvgLatencyMs() float64 {
	processed := atomic.LoadInt64(&a.packetsProcessed)
	if processed == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&a.totalLatencyMs)) / float64(processed)
}

// Snapshot reads every counter independently and returns the result;
// queueSize is supplied by the caller (the queue owns that value).
func (a *Aggregate) Snapshot(queueSize int) Snapshot {
	return Snapshot{
		PacketsReceived:  atomic.LoadInt64(&a.packetsReceived),
		PacketsProcessed: atomic.LoadInt64(&a.packetsProcessed),
		PacketsDropped:   atomic.LoadInt64(&a.packetsDropped),
		Errors:           atomic.LoadInt64(&a.errors),
		TotalLatencyMs:   atomic.LoadInt64(&a.totalLatencyMs),
		AvgLatencyMs:     a.AvgLatencyMs(),
		QueueSize:        queueSize,
	}
}
