// Package api implements the administrative HTTP surface: gateway and
// pool health, aggregate stats, analyzer CRUD, and a server-sent-events
// stream of registry lifecycle events.
//
// The teacher's internal/api hand-parses "/api/servers/{id}/{action}"
// by slicing r.URL.Path and scanning for the first slash. That is
// replaced here with github.com/julienschmidt/httprouter so path
// parameters are named and matched by the router instead of by string
// surgery; the handler method shapes (method check, json.Encode
// response, EventSystem.Publish-on-mutation) are kept from the
// teacher's toggleServer/resetServer/handleEvents.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/veena-u/logs-distributor/internal/events"
	"github.com/veena-u/logs-distributor/internal/health"
	"github.com/veena-u/logs-distributor/internal/metrics"
	"github.com/veena-u/logs-distributor/internal/queue"
	"github.com/veena-u/logs-distributor/internal/registry"
)

// API exposes the administrative handlers and can register them on a
// router.
type API struct {
	Registry *registry.Registry
	Queue    *queue.Queue
	Metrics  *metrics.Aggregate
	Prober   *health.Prober
	Bus      *events.Bus
}

// New builds an API.
func New(reg *registry.Registry, q *queue.Queue, agg *metrics.Aggregate, prober *health.Prober, bus *events.Bus) *API {
	return &API{Registry: reg, Queue: q, Metrics: agg, Prober: prober, Bus: bus}
}

// Register mounts every administrative endpoint on router.
func (a *API) Register(router *httprouter.Router) {
	router.GET("/health", a.liveness)
	router.GET("/ready", a.readiness)
	router.GET("/stats", a.stats)
	router.GET("/analyzers", a.listAnalyzers)
	router.POST("/analyzers", a.admitAnalyzer)
	router.DELETE("/analyzers/:id", a.evictAnalyzer)
	router.POST("/analyzers/:id/health", a.triggerProbe)
	router.GET("/events", a.streamEvents)
}

// liveness always reports the gateway process is up.
func (a *API) liveness(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness reports 200 iff at least one analyzer is healthy, else 503.
func (a *API) readiness(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if a.Registry.AnyHealthy() {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
}

// statsResponse is the /stats response body: aggregate counters plus a
// per-analyzer snapshot.
type statsResponse struct {
	metrics.Snapshot
	Analyzers []registry.Snapshot `json:"analyzers"`
}

func (a *API) stats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := a.Metrics.Snapshot(a.Queue.Len())
	respondJSON(w, http.StatusOK, statsResponse{
		Snapshot:  snap,
		Analyzers: a.Registry.Snapshot(),
	})
}

func (a *API) listAnalyzers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	respondJSON(w, http.StatusOK, a.Registry.Snapshot())
}

// admitAnalyzerRequest is the POST /analyzers body.
type admitAnalyzerRequest struct {
	ID       string  `json:"id"`
	Endpoint string  `json:"endpoint"`
	Weight   float64 `json:"weight,omitempty"`
}

func (a *API) admitAnalyzer(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req admitAnalyzerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Weight == 0 {
		req.Weight = 1
	}

	if err := a.Registry.Admit(req.ID, req.Endpoint, req.Weight); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if a.Bus != nil {
		a.Bus.Publish(events.Admitted, req.ID, fmt.Sprintf("admitted via admin API (%s)", req.Endpoint))
	}

	snap, _ := a.Registry.Get(req.ID)
	respondJSON(w, http.StatusOK, snap)
}

func (a *API) evictAnalyzer(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if _, err := a.Registry.Get(id); err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "analyzer not found"})
		return
	}

	a.Registry.Evict(id)
	respondJSON(w, http.StatusOK, map[string]string{"status": "evicted", "id": id})
}

func (a *API) triggerProbe(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if a.Prober == nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "prober unavailable"})
		return
	}

	if err := a.Prober.TriggerProbe(r.Context(), id); err != nil {
		respondJSON(w, http.StatusNotFound, map[string]string{"error": "analyzer not found"})
		return
	}

	snap, _ := a.Registry.Get(id)
	respondJSON(w, http.StatusOK, snap)
}

// streamEvents sets up a server-sent-events connection replaying recent
// history and then forwarding live events until the client disconnects.
func (a *API) streamEvents(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sub := a.Bus.Subscribe()
	defer a.Bus.Unsubscribe(sub)

	for _, evt := range a.Bus.Recent(20) {
		writeEvent(w, evt)
	}
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case <-notify:
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			writeEvent(w, evt)
			flusher.Flush()
		case <-time.After(30 * time.Second):
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, evt events.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
