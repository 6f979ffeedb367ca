// Package events carries the gateway's internal lifecycle notifications
// over a typed channel instead of a stringly-typed bus.
//
// The retrieval pack's generic event system keys a publish call on a bare
// string EventType ("info"/"warning"/...) and ships a pre-marshaled JSON
// string to subscribers. The dispatch engine's own design notes call for
// replacing that shape with a typed Event and a typed Kind enum, so
// observers (the admin SSE stream, tests) never parse a payload to know
// what happened. The pub-sub mechanics — bounded history, non-blocking
// per-subscriber buffered channel, drop-on-full — are kept as-is.
package events

import (
	"sync"
	"time"
)

// Kind identifies what happened to the pool or a dispatch attempt.
type Kind string

const (
	Admitted     Kind = "admitted"
	Evicted      Kind = "evicted"
	Degraded     Kind = "degraded"
	Recovered    Kind = "recovered"
	MessageError Kind = "message_error"
)

// Event is one lifecycle notification.
type Event struct {
	Kind       Kind      `json:"kind"`
	AnalyzerID string    `json:"analyzerId,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Subscriber receives every event published after it subscribes.
type Subscriber chan Event

// Bus is a typed pub-sub with bounded history.
type Bus struct {
	subsMu sync.RWMutex
	subs   map[Subscriber]struct{}

	histMu     sync.RWMutex
	history    []Event
	maxHistory int
}

// NewBus creates a Bus retaining up to maxHistory recent events.
func NewBus(maxHistory int) *Bus {
	if maxHistory <= 0 {
		maxHistory = 200
	}
	return &Bus{
		subs:       make(map[Subscriber]struct{}),
		history:    make([]Event, 0, maxHistory),
		maxHistory: maxHistory,
	}
}

// Subscribe registers a new subscriber channel with a small send buffer.
func (b *Bus) Subscribe() Subscriber {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	sub := make(Subscriber, 16)
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes and closes a subscriber channel. Idempotent.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub)
	}
}

// Publish records the event in history and fans it out to subscribers
// without blocking; a subscriber whose buffer is full drops the event.
func (b *Bus) Publish(kind Kind, analyzerID, detail string) {
	evt := Event{
		Kind:       kind,
		AnalyzerID: analyzerID,
		Detail:     detail,
		Timestamp:  time.Now(),
	}

	b.histMu.Lock()
	if len(b.history) >= b.maxHistory {
		b.history = append(b.history[1:], evt)
	} else {
		b.history = append(b.history, evt)
	}
	b.histMu.Unlock()

	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for sub := range b.subs {
		select {
		case sub <- evt:
		default:
		}
	}
}

// Recent returns up to limit of the most recently published events, in
// publish order. limit <= 0 returns the full retained history.
func (b *Bus) Recent(limit int) []Event {
	b.histMu.RLock()
	defer b.histMu.RUnlock()

	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	start := len(b.history) - limit
	if start < 0 {
		start = 0
	}

	result := make([]Event, len(b.history[start:]))
	copy(result, b.history[start:])
	return result
}
