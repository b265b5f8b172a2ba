package engineworker

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"pulseforum/internal/logging"
	"pulseforum/internal/research"
)

// Worker hosts one Research State Machine instance and its wire-contract
// log, and answers the cross-engine search surface named in §4.4/§4.10
// (`POST /api/search`, `GET /api/health`).
type Worker struct {
	Engine  research.Engine
	Machine *research.Machine
	Log     *LogWriter

	mux *http.ServeMux
}

// New wires a Worker's HTTP surface. The Machine's Observer is set to the
// LogWriter so every summary node mirrors onto the wire-contract log.
func New(engine research.Engine, machine *research.Machine, log *LogWriter) *Worker {
	machine.Observer = log
	w := &Worker{Engine: engine, Machine: machine, Log: log, mux: http.NewServeMux()}
	w.registerRoutes()
	return w
}

func (w *Worker) registerRoutes() {
	w.mux.HandleFunc("POST /api/search", w.handleSearch)
	w.mux.HandleFunc("GET /api/health", w.handleHealth)
}

// Handler returns the worker's http.Handler for use with http.Server.
func (w *Worker) Handler() http.Handler { return w.mux }

type searchRequest struct {
	Query string `json:"query"`
}

type searchResponse struct {
	Success bool   `json:"success"`
	Query   string `json:"query"`
	Status  string `json:"status"`
}

// handleSearch accepts a broadcast query from the orchestrator's
// SearchFanout (§4.10) and kicks off a fresh state-machine run for it;
// the run proceeds asynchronously and its progress surfaces only through
// the wire-contract log, matching the fire-and-forget cross-engine
// broadcast semantics in §4.4.
func (w *Worker) handleSearch(rw http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		respondError(rw, http.StatusBadRequest, "invalid request body")
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 240*time.Second)
		defer cancel()
		if _, err := w.Machine.Run(ctx, req.Query, w.Engine); err != nil {
			logging.For("engineworker").WithError(err).WithField("engine", string(w.Engine)).Error("research run failed")
		}
	}()

	respondJSON(rw, http.StatusOK, searchResponse{Success: true, Query: req.Query, Status: "accepted"})
}

func (w *Worker) handleHealth(rw http.ResponseWriter, r *http.Request) {
	respondJSON(rw, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "message": message})
}
