// Package queue implements the bounded FIFO of pending packets that
// smooths bursty ingress and enforces backpressure (component C3).
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrQueueFull is returned by TryEnqueue when the queue is at capacity.
var ErrQueueFull = errors.New("queue: full")

// ErrClosed is returned by TryEnqueue once Close has been called. Spec
// §5's shutdown sequence closes the queue before draining it, so new
// work stops arriving while already-queued packets still get a chance.
var ErrClosed = errors.New("queue: closed")

// Message is one opaque log payload carried inside a Packet. The wire
// shape (internal/ingress) maps onto this after validation; the queue
// itself never inspects message contents.
type Message struct {
	ID        string
	Timestamp time.Time
	Level     string
	Source    string
	Body      string
	Metadata  map[string]any
}

// Packet is one batch of messages accepted from a single ingress call.
type Packet struct {
	ID         string
	AgentID    string
	Messages   []Message
	EnqueuedAt time.Time
}

// NewPacket assigns a packetId (if id is empty) and stamps EnqueuedAt.
// The id parameter of an inbound envelope is honored when present; no
// uniqueness check is performed — ids are opaque and collisions are
// tolerated (spec §9).
func NewPacket(id, agentID string, messages []Message) Packet {
	if id == "" {
		id = uuid.NewString()
	}
	return Packet{
		ID:         id,
		AgentID:    agentID,
		Messages:   messages,
		EnqueuedAt: time.Now(),
	}
}

// Queue is a bounded, non-blocking FIFO backed by a ring buffer (spec
// §9: "a ring buffer with a capacity check on enqueue is sufficient").
// TryEnqueue never blocks — it either accepts the packet or reports
// QueueFull immediately — so ingress handlers never wait on the queue
// (design note, §9).
type Queue struct {
	mu       sync.Mutex
	ring     []Packet
	head     int // index of the oldest packet
	size     int // number of packets currently held
	capacity int
	closed   bool
}

// New creates a Queue with the given capacity (spec default 10,000).
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Queue{
		ring:     make([]Packet, capacity),
		capacity: capacity,
	}
}

// TryEnqueue appends p to the tail of the queue, or reports ErrQueueFull
// without mutating the queue if it is at capacity.
func (q *Queue) TryEnqueue(p Packet) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if q.size >= q.capacity {
		return ErrQueueFull
	}
	tail := (q.head + q.size) % q.capacity
	q.ring[tail] = p
	q.size++
	return nil
}

// DrainBatch removes up to maxN packets from the head of the queue in
// FIFO order. Never blocks; returns an empty (non-nil) slice if the
// queue is empty.
func (q *Queue) DrainBatch(maxN int) []Packet {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 || maxN <= 0 {
		return []Packet{}
	}

	n := maxN
	if n > q.size {
		n = q.size
	}

	batch := make([]Packet, n)
	for i := 0; i < n; i++ {
		batch[i] = q.ring[(q.head+i)%q.capacity]
	}
	q.head = (q.head + n) % q.capacity
	q.size -= n
	return batch
}

// Len reports the instantaneous queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity reports the configured bound.
func (q *Queue) Capacity() int {
	return q.capacity
}

// Close stops TryEnqueue from accepting new packets; already-queued
// packets are unaffected and DrainBatch keeps draining them. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
