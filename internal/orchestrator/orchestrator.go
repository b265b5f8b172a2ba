// Package orchestrator wires the Supervisor (C5), Forum Moderator (C7),
// Log Tailers (C6), and Report Compositor (C9) behind the external
// operation table in §4.10, exposed as an http.ServeMux following the
// teacher's httpapi.Server shape (mux, registerRoutes,
// respondJSON/respondError envelope helpers).
package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pulseforum/internal/compositor"
	"pulseforum/internal/config"
	"pulseforum/internal/forum"
	"pulseforum/internal/logging"
	"pulseforum/internal/supervisor"
	"pulseforum/internal/tailer"
)

// systemStatus is the SystemState flags guarded by systemStateLock (§5).
type systemStatus string

const (
	systemStopped  systemStatus = "stopped"
	systemStarting systemStatus = "starting"
	systemStarted  systemStatus = "started"
)

// EngineDef describes one engine worker the orchestrator supervises.
type EngineDef struct {
	Name    string // "insight" | "media" | "query"
	Addr    string
	Cmd     string
	Args    []string
	LogPath string
}

// Orchestrator implements §4.10's operation table.
type Orchestrator struct {
	mu     sync.Mutex
	status systemStatus

	Engines     []EngineDef
	Supervisor  *supervisor.Supervisor
	ForumLog    *forum.Log
	Moderator   *forum.Moderator
	Compositor  *compositor.Compositor
	ConfigStore *config.Store

	tailers    map[string]*tailer.Tailer
	tailCancel context.CancelFunc

	mux *http.ServeMux
}

// New wires an Orchestrator and registers its HTTP routes.
func New(engines []EngineDef, sup *supervisor.Supervisor, forumLog *forum.Log, moderator *forum.Moderator, comp *compositor.Compositor, store *config.Store) *Orchestrator {
	o := &Orchestrator{
		status:      systemStopped,
		Engines:     engines,
		Supervisor:  sup,
		ForumLog:    forumLog,
		Moderator:   moderator,
		Compositor:  comp,
		ConfigStore: store,
		tailers:     make(map[string]*tailer.Tailer),
		mux:         http.NewServeMux(),
	}
	o.registerRoutes()
	return o
}

// Handler returns the orchestrator's http.Handler.
func (o *Orchestrator) Handler() http.Handler { return o.mux }

func (o *Orchestrator) registerRoutes() {
	o.mux.HandleFunc("POST /api/system/start", o.handleSystemStart)
	o.mux.HandleFunc("POST /api/engines/{name}/start", o.handleStartEngine)
	o.mux.HandleFunc("POST /api/engines/{name}/stop", o.handleStopEngine)
	o.mux.HandleFunc("GET /api/engines/status", o.handleStatus)
	o.mux.HandleFunc("POST /api/search", o.handleSearchFanout)
	o.mux.HandleFunc("POST /api/report", o.handleGenerateReport)
	o.mux.HandleFunc("GET /api/report", o.handleReportStatus)
	o.mux.HandleFunc("GET /api/config", o.handleReadConfig)
	o.mux.HandleFunc("POST /api/config", o.handleUpdateConfig)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "message": message})
}

func (o *Orchestrator) engineDef(name string) (EngineDef, bool) {
	for _, e := range o.Engines {
		if e.Name == name {
			return e, true
		}
	}
	return EngineDef{}, false
}

// SystemStart acquires the single-flight guard, stops the Moderator's
// owner (to free the forum log), starts all engine workers, health-checks
// each within 30s, starts the Tailers/Moderator, and initializes the
// Compositor's readiness baseline. It rolls back on any failure (§4.10).
func (o *Orchestrator) SystemStart(ctx context.Context) error {
	o.mu.Lock()
	switch o.status {
	case systemStarted:
		o.mu.Unlock()
		return fmt.Errorf("already_started")
	case systemStarting:
		o.mu.Unlock()
		return fmt.Errorf("starting")
	}
	o.status = systemStarting
	o.mu.Unlock()

	if o.tailCancel != nil {
		o.tailCancel()
		o.tailCancel = nil
	}

	started := make([]string, 0, len(o.Engines))
	errs := make(map[string]string)
	for _, e := range o.Engines {
		spec := supervisor.ChildSpec{Name: e.Name, Addr: e.Addr, Cmd: e.Cmd, Args: e.Args}
		if err := o.Supervisor.Start(ctx, spec, 30*time.Second); err != nil {
			errs[e.Name] = err.Error()
			continue
		}
		started = append(started, e.Name)
	}

	if len(errs) > 0 {
		for _, name := range started {
			o.Supervisor.Stop(name)
		}
		o.mu.Lock()
		o.status = systemStopped
		o.mu.Unlock()
		return fmt.Errorf("init_failed: %v", errs)
	}

	tailCtx, cancel := context.WithCancel(context.Background())
	o.tailCancel = cancel
	o.startTailers(tailCtx)

	if err := o.Compositor.Readiness.InitializeBaseline(o.Compositor.EngineDirs); err != nil {
		logging.For("orchestrator").WithError(err).Warn("failed to initialize readiness baseline")
	}

	o.mu.Lock()
	o.status = systemStarted
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) startTailers(ctx context.Context) {
	for _, e := range o.Engines {
		var source forum.Source
		switch e.Name {
		case "insight":
			source = forum.SourceInsight
		case "media":
			source = forum.SourceMedia
		case "query":
			source = forum.SourceQuery
		default:
			continue
		}
		t := tailer.New(source, e.LogPath, o.ForumLog, o.Moderator)
		o.tailers[e.Name] = t
		go t.Run(ctx)
	}
}

func (o *Orchestrator) handleSystemStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 35*time.Second)
	defer cancel()
	if err := o.SystemStart(ctx); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (o *Orchestrator) handleStartEngine(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	e, ok := o.engineDef(name)
	if !ok {
		respondError(w, http.StatusNotFound, "unknown_app")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	spec := supervisor.ChildSpec{Name: e.Name, Addr: e.Addr, Cmd: e.Cmd, Args: e.Args}
	if err := o.Supervisor.Start(ctx, spec, 15*time.Second); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (o *Orchestrator) handleStopEngine(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := o.engineDef(name); !ok {
		respondError(w, http.StatusNotFound, "unknown_app")
		return
	}
	if err := o.Supervisor.Stop(name); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses := o.Supervisor.StatusAll()
	out := make(map[string]map[string]any, len(o.Engines))
	for _, e := range o.Engines {
		st, ok := statuses[e.Name]
		if !ok {
			st = supervisor.StatusStopped
		}
		out[e.Name] = map[string]any{"status": st, "addr": e.Addr}
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "engines": out})
}

type searchFanoutRequest struct {
	Query string `json:"query"`
}

// handleSearchFanout POSTs query to every running engine's loopback
// search endpoint and aggregates their acknowledgements, using
// errgroup.Group for bounded concurrent fan-out (§4.10).
func (o *Orchestrator) handleSearchFanout(w http.ResponseWriter, r *http.Request) {
	var req searchFanoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	addrs := o.Supervisor.RunningAddrs()
	if len(addrs) == 0 {
		respondError(w, http.StatusConflict, "no_running_engines")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 240*time.Second)
	defer cancel()

	var mu sync.Mutex
	results := make(map[string]string, len(addrs))
	g, gctx := errgroup.WithContext(ctx)
	for name, addr := range addrs {
		name, addr := name, addr
		g.Go(func() error {
			status := broadcastSearch(gctx, addr, req.Query)
			mu.Lock()
			results[name] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	respondJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func broadcastSearch(ctx context.Context, addr, query string) string {
	body, _ := json.Marshal(searchFanoutRequest{Query: query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+"/api/search", bytes.NewReader(body))
	if err != nil {
		return "error: " + err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "error: " + err.Error()
	}
	defer resp.Body.Close()
	return fmt.Sprintf("status %d", resp.StatusCode)
}

type reportRequest struct {
	Query          string `json:"query"`
	CustomTemplate string `json:"custom_template"`
}

func (o *Orchestrator) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	task, err := o.Compositor.Start(r.Context(), req.Query, req.CustomTemplate)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": task.Status})
}

func (o *Orchestrator) handleReportStatus(w http.ResponseWriter, r *http.Request) {
	task := o.Compositor.Status()
	if task == nil {
		respondError(w, http.StatusNotFound, "no report task has run yet")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"status":        task.Status,
		"progress":      task.Progress,
		"error_message": task.ErrorMessage,
		"html_path":     task.HTMLPath,
		"state_path":    task.StatePath,
	})
}

func (o *Orchestrator) handleReadConfig(w http.ResponseWriter, r *http.Request) {
	values, err := o.ConfigStore.Read()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "config": values})
}

func (o *Orchestrator) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := o.ConfigStore.Update(updates); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}
