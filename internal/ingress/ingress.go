// Package ingress implements the gateway's single inbound surface:
// POST /logs. It accepts either an envelope or a bare array of log
// lines, validates each message, and hands an assembled packet to the
// dispatch queue without blocking on anything downstream.
//
// The teacher has no equivalent inbound surface of its own (a load
// balancer forwards whatever request it receives); this package is
// grounded instead on the teacher's JSON-over-net/http handler style
// (api.go's json.NewEncoder/NewDecoder conventions, explicit
// method checks, http.Error for rejection) generalized to the richer
// validation and two accepted body shapes spec §6 requires.
package ingress

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/veena-u/logs-distributor/internal/metrics"
	"github.com/veena-u/logs-distributor/internal/queue"
)

var validLevels = map[string]struct{}{
	"DEBUG": {}, "INFO": {}, "WARN": {}, "ERROR": {}, "FATAL": {},
}

var errInvalidPacket = errors.New("ingress: invalid log packet")

// logMessageWire is the wire shape of one LogMessage, used both inside
// an envelope and as the object form of a bare array element.
type logMessageWire struct {
	ID        string         `json:"id,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// envelope is the object form of a POST /logs body.
type envelope struct {
	ID       string           `json:"id,omitempty"`
	AgentID  string           `json:"agentId"`
	Messages []logMessageWire `json:"messages"`
}

// acceptedResponse is the 200 response body.
type acceptedResponse struct {
	Success      bool      `json:"success"`
	PacketID     string    `json:"packetId"`
	MessageCount int       `json:"messageCount"`
	Timestamp    time.Time `json:"timestamp"`
}

// rejectedResponse is the 400 response body.
type rejectedResponse struct {
	Error    string `json:"error"`
	PacketID string `json:"packetId,omitempty"`
}

// backpressureResponse is the 429/503 response body for queue-rejected
// packets, whether the rejection is capacity-driven or shutdown-driven.
type backpressureResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Handler implements POST /logs.
type Handler struct {
	queue   *queue.Queue
	metrics *metrics.Aggregate
	log     *zap.Logger
}

// New builds the ingress Handler.
func New(q *queue.Queue, agg *metrics.Aggregate, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{queue: q, metrics: agg, log: log}
}

// ServeHTTP implements net/http.Handler so it can be mounted directly
// on a mux at POST /logs.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.reject(w, "", "Invalid log packet")
		return
	}

	agentID, id, wireMessages, err := parseBody(raw)
	if err != nil {
		h.reject(w, "", "Invalid log packet")
		return
	}

	messages, err := validateMessages(wireMessages)
	if err != nil {
		h.reject(w, id, "Invalid log packet")
		return
	}

	packet := queue.NewPacket(id, agentID, messages)
	if h.metrics != nil {
		h.metrics.IncPacketsReceived()
	}
	if err := h.queue.TryEnqueue(packet); err != nil {
		if h.metrics != nil {
			h.metrics.IncPacketsDropped()
		}
		if errors.Is(err, queue.ErrClosed) {
			// Shutdown (spec §7): the gateway has stopped accepting new
			// enqueues while it drains what is already queued.
			h.respondJSON(w, http.StatusServiceUnavailable, backpressureResponse{
				Error:   "Service shutting down",
				Message: "Gateway is draining in-flight work and no longer accepts new packets",
			})
			return
		}
		h.respondJSON(w, http.StatusTooManyRequests, backpressureResponse{
			Error:   "Service temporarily unavailable",
			Message: "Queue full, try again later",
		})
		return
	}

	h.respondJSON(w, http.StatusOK, acceptedResponse{
		Success:      true,
		PacketID:     packet.ID,
		MessageCount: len(messages),
		Timestamp:    time.Now(),
	})
}

// parseBody distinguishes envelope form from bare-array form and
// returns the common fields both eventually reduce to.
func parseBody(raw json.RawMessage) (agentID, id string, messages []logMessageWire, err error) {
	trimmed := skipLeadingSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return "", "", nil, err
		}
		out := make([]logMessageWire, 0, len(arr))
		for _, item := range arr {
			msg, err := parseArrayElement(item)
			if err != nil {
				return "", "", nil, err
			}
			out = append(out, msg)
		}
		return "unknown", "", out, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", "", nil, err
	}
	return env.AgentID, env.ID, env.Messages, nil
}

// parseArrayElement lifts a bare string element to
// {level:"INFO", source:"unknown", message:<str>} per spec §6; an
// object element is decoded as a full LogMessage.
func parseArrayElement(item json.RawMessage) (logMessageWire, error) {
	trimmed := skipLeadingSpace(item)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			return logMessageWire{}, err
		}
		return logMessageWire{Level: "INFO", Source: "unknown", Message: s}, nil
	}

	var msg logMessageWire
	if err := json.Unmarshal(item, &msg); err != nil {
		return logMessageWire{}, err
	}
	return msg, nil
}

func skipLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r') {
		i++
	}
	return b[i:]
}

// validateMessages enforces non-empty source, non-empty message and a
// recognized level for every element, and converts to queue.Message.
func validateMessages(wire []logMessageWire) ([]queue.Message, error) {
	if len(wire) == 0 {
		return nil, errInvalidPacket
	}

	out := make([]queue.Message, 0, len(wire))
	for _, w := range wire {
		if w.Source == "" || w.Message == "" {
			return nil, errInvalidPacket
		}
		if _, ok := validLevels[w.Level]; !ok {
			return nil, errInvalidPacket
		}

		ts := time.Now()
		if w.Timestamp != nil {
			ts = *w.Timestamp
		}
		out = append(out, queue.Message{
			ID:        w.ID,
			Timestamp: ts,
			Level:     w.Level,
			Source:    w.Source,
			Body:      w.Message,
			Metadata:  w.Metadata,
		})
	}
	return out, nil
}

func (h *Handler) reject(w http.ResponseWriter, packetID, reason string) {
	if h.metrics != nil {
		h.metrics.IncErrors()
	}
	h.respondJSON(w, http.StatusBadRequest, rejectedResponse{Error: reason, PacketID: packetID})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn("ingress: failed writing response", zap.Error(err))
	}
}
