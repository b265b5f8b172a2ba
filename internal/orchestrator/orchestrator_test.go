package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseforum/internal/compositor"
	"pulseforum/internal/config"
	"pulseforum/internal/forum"
	"pulseforum/internal/readiness"
	"pulseforum/internal/supervisor"
)

type fakeCompleter struct {
	reply string
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string, role config.Role, expectJSON bool) (string, error) {
	return f.reply, nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, string) {
	t.Helper()
	root := t.TempDir()

	engineDirs := map[string]string{}
	for _, name := range []string{"insight", "media", "query"} {
		dir := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		engineDirs[name] = dir
	}

	forumLogPath := filepath.Join(root, "forum.log")
	forumLog := forum.NewLog(forumLogPath)
	require.NoError(t, os.WriteFile(forumLogPath, []byte("[00:00:00] [SYSTEM] start\n"), 0o644))

	gate := readiness.New(filepath.Join(root, "baseline.json"), forumLogPath)
	require.NoError(t, gate.InitializeBaseline(engineDirs))

	comp := &compositor.Compositor{
		Readiness:    gate,
		EngineDirs:   engineDirs,
		ForumLogPath: forumLogPath,
		TemplateDir:  filepath.Join(root, "templates"),
		OutputDir:    filepath.Join(root, "final_reports"),
		LLM:          &fakeCompleter{reply: "<html>ok</html>"},
	}

	store := config.NewStoreAt(filepath.Join(root, ".env"))

	engines := []EngineDef{
		{Name: "insight", Addr: "127.0.0.1:0", Cmd: "true", LogPath: filepath.Join(root, "insight.log")},
	}

	o := New(engines, supervisor.New(), forumLog, forum.NewModerator(forumLog, &fakeCompleter{reply: "synthesis"}), comp, store)
	return o, root
}

func TestHandleStatusReportsStoppedByDefault(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	req := httptest.NewRequest(http.MethodGet, "/api/engines/status", nil)
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["success"].(bool))
	engines := body["engines"].(map[string]any)
	insight := engines["insight"].(map[string]any)
	assert.Equal(t, "stopped", insight["status"])
}

func TestHandleSearchFanoutRejectsWhenNoEnginesRunning(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	body, _ := json.Marshal(map[string]string{"query": "climate policy"})
	req := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp["success"].(bool))
	assert.Contains(t, resp["message"].(string), "no_running_engines")
}

func TestHandleGenerateReportDelegatesToCompositor(t *testing.T) {
	o, root := newTestOrchestrator(t)
	// One new artifact per engine since the baseline, so the readiness gate passes.
	for _, name := range []string{"insight", "media", "query"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name, "report.md"), []byte("artifact"), 0o644))
	}
	body, _ := json.Marshal(map[string]string{"query": "economic trends"})
	req := httptest.NewRequest(http.MethodPost, "/api/report", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	deadline := time.Now().Add(500 * time.Millisecond)
	var status compositor.Status
	for time.Now().Before(deadline) {
		s := o.Compositor.Status()
		if s != nil {
			status = s.Status
			if status != compositor.StatusRunning {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, compositor.StatusCompleted, status)
}

func TestHandleReadAndUpdateConfig(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	updates, _ := json.Marshal(map[string]string{"MAX_REFLECTIONS": "3"})
	req2 := httptest.NewRequest(http.MethodPost, "/api/config", bytes.NewReader(updates))
	rec2 := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusOK, rec2.Code)

	values, err := o.ConfigStore.Read()
	require.NoError(t, err)
	assert.Equal(t, "3", values["MAX_REFLECTIONS"])
}

func TestHandleStartAndStopUnknownEngine(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	req := httptest.NewRequest(http.MethodPost, "/api/engines/bogus/start", nil)
	req.SetPathValue("name", "bogus")
	rec := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/api/engines/bogus/stop", nil)
	req2.SetPathValue("name", "bogus")
	rec2 := httptest.NewRecorder()
	o.Handler().ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}
