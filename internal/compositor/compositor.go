// Package compositor implements the Report Compositor (C9, §4.9): a
// single-task, progress-tracked pipeline that validates readiness, loads
// engine artifacts and the forum transcript, selects a template, and asks
// the LLM Gateway to render a final HTML report.
package compositor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"pulseforum/internal/config"
	"pulseforum/internal/readiness"
)

// Status is a TaskRecord's lifecycle (§4.9).
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// TaskRecord is the source of truth for progress polling (§4.9).
type TaskRecord struct {
	ID           string
	Status       Status
	Progress     int
	ErrorMessage string
	HTMLPath     string
	StatePath    string
}

// Completer is the narrow LLM Gateway surface the Compositor needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, role config.Role, expectJSON bool) (string, error)
}

// Compositor drives a single report-generation task at a time (§4.9,
// §5 "TaskRecord in the Compositor — guarded by TaskLock").
type Compositor struct {
	mu      sync.Mutex
	task    *TaskRecord
	cancel  context.CancelFunc

	Readiness     *readiness.Gate
	EngineDirs    map[string]string
	ForumLogPath  string
	TemplateDir   string
	OutputDir     string
	LLM           Completer
}

const defaultTemplate = "default"

// Start begins a new report-generation task for query. A start request
// while a task is running is rejected; a prior completed/error task is
// cleared (§4.9).
func (c *Compositor) Start(ctx context.Context, query, customTemplate string) (*TaskRecord, error) {
	c.mu.Lock()
	if c.task != nil && c.task.Status == StatusRunning {
		c.mu.Unlock()
		return nil, fmt.Errorf("already_running")
	}
	task := &TaskRecord{ID: uuid.New().String(), Status: StatusRunning, Progress: 0}
	c.task = task
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx, task, query, customTemplate)
	return task, nil
}

// Status returns a snapshot of the current task, or nil if none has run.
func (c *Compositor) Status() *TaskRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == nil {
		return nil
	}
	snapshot := *c.task
	return &snapshot
}

// Cancel transitions a running task to cancelled (§5 "Compositor task:
// explicit cancel transitions running -> cancelled; the worker thread is
// not forcibly killed but its output is discarded").
func (c *Compositor) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil && c.task.Status == StatusRunning {
		c.task.Status = StatusCancelled
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Compositor) setProgress(task *TaskRecord, pct int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task.Status == StatusCancelled {
		return
	}
	task.Progress = pct
}

func (c *Compositor) fail(task *TaskRecord, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if task.Status == StatusCancelled {
		return
	}
	task.Status = StatusError
	task.ErrorMessage = err.Error()
}

func (c *Compositor) run(ctx context.Context, task *TaskRecord, query, customTemplate string) {
	// 10% — validate readiness.
	result, err := c.Readiness.Check(c.EngineDirs)
	if err != nil {
		c.fail(task, fmt.Errorf("not_initialized: %w", err))
		return
	}
	if !result.Ready {
		c.fail(task, fmt.Errorf("not_ready: %v", result.Deltas))
		return
	}
	c.setProgress(task, 10)

	// 30% — load the three latest artifacts and the forum transcript.
	artifacts, forumText, err := c.loadInputs(ctx)
	if err != nil {
		c.fail(task, err)
		return
	}
	c.setProgress(task, 30)

	// 50% — template selection.
	template := c.selectTemplate(ctx, query, artifacts, forumText, customTemplate)
	c.setProgress(task, 50)

	// 90% — generate HTML.
	html, err := c.generateHTML(ctx, query, template, artifacts, forumText)
	if err != nil {
		c.fail(task, err)
		return
	}
	c.setProgress(task, 90)

	// 100% — persist.
	htmlPath, statePath, err := c.persist(query, html, task)
	if err != nil {
		c.fail(task, err)
		return
	}

	c.mu.Lock()
	if task.Status != StatusCancelled {
		task.HTMLPath = htmlPath
		task.StatePath = statePath
		task.Progress = 100
		task.Status = StatusCompleted
	}
	c.mu.Unlock()
}

// loadInputs fans artifact reads and the forum-log read out with
// errgroup (§4.9 load stage; grounded on the teacher's use of
// golang.org/x/sync for concurrent I/O).
func (c *Compositor) loadInputs(ctx context.Context) (map[string]string, string, error) {
	latest, err := c.Readiness.LatestFiles(c.EngineDirs)
	if err != nil {
		return nil, "", err
	}

	artifacts := make(map[string]string, len(latest))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for engine, file := range latest {
		engine, file := engine, file
		g.Go(func() error {
			_ = gctx
			b, err := os.ReadFile(file.Path)
			if err != nil {
				return err
			}
			mu.Lock()
			artifacts[engine] = string(b)
			mu.Unlock()
			return nil
		})
	}

	var forumText string
	g.Go(func() error {
		b, err := os.ReadFile(c.ForumLogPath)
		if err != nil {
			return err
		}
		forumText = string(b)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	return artifacts, forumText, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// selectTemplate scans TemplateDir and asks the LLM Gateway (REPORT
// role) to name the best-fit template. On LLM failure, unknown name, or
// no templates, it falls back to a named default (§4.9).
func (c *Compositor) selectTemplate(ctx context.Context, query string, artifacts map[string]string, forumText, customTemplate string) string {
	if customTemplate != "" {
		return customTemplate
	}

	names, err := listTemplates(c.TemplateDir)
	if err != nil || len(names) == 0 {
		return defaultTemplate
	}

	var artifactSummary strings.Builder
	for engine, content := range artifacts {
		fmt.Fprintf(&artifactSummary, "%s: %s\n", engine, truncate(content, 500))
	}

	system := fmt.Sprintf("Choose the best-fit report template from this list: %v. Reply with only the template name.", names)
	user := fmt.Sprintf("Query: %s\nArtifacts:\n%s\nForum transcript:\n%s", query, artifactSummary.String(), truncate(forumText, 1000))

	name, err := c.LLM.Complete(ctx, system, user, config.RoleReportEngine, false)
	name = strings.TrimSpace(name)
	if err != nil || !contains(names, name) {
		return defaultTemplate
	}
	return name
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func listTemplates(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		}
	}
	return names, nil
}

var codeFence = regexp.MustCompile("(?s)^```(?:html)?\\s*\\n?(.*?)\\n?```$")

// generateHTML asks the LLM Gateway for a single HTML document and
// strips any code-fence wrapper (§4.9).
func (c *Compositor) generateHTML(ctx context.Context, query, template string, artifacts map[string]string, forumText string) (string, error) {
	var artifactSummary strings.Builder
	for engine, content := range artifacts {
		fmt.Fprintf(&artifactSummary, "## %s\n%s\n\n", strings.ToUpper(engine), content)
	}

	system := fmt.Sprintf("You are the report compositor. Render a single complete HTML document using the %q template style. Output only raw HTML, no markdown fences.", template)
	user := fmt.Sprintf("Query: %s\n\n%s\nForum transcript:\n%s", query, artifactSummary.String(), forumText)

	html, err := c.LLM.Complete(ctx, system, user, config.RoleReportEngine, false)
	if err != nil {
		return "", fmt.Errorf("generating report html: %w", err)
	}
	if m := codeFence.FindStringSubmatch(strings.TrimSpace(html)); m != nil {
		html = m[1]
	}
	return html, nil
}

var nonSanitizedChar = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)

// sanitizeQuery keeps alphanumerics/space/hyphen/underscore, replaces
// spaces with underscores, and truncates to 30 chars (§6).
func sanitizeQuery(query string) string {
	s := nonSanitizedChar.ReplaceAllString(query, "")
	s = strings.ReplaceAll(s, " ", "_")
	return truncate(s, 30)
}

type reportState struct {
	Query     string `json:"query"`
	HTMLPath  string `json:"html_path"`
	CreatedAt string `json:"created_at"`
}

// persist writes the HTML document and a JSON state file under
// OutputDir using the naming scheme in §6.
func (c *Compositor) persist(query, html string, task *TaskRecord) (string, string, error) {
	if err := os.MkdirAll(c.OutputDir, 0o755); err != nil {
		return "", "", err
	}
	stamp := time.Now().Format("20060102_150405")
	sanitized := sanitizeQuery(query)

	htmlName := fmt.Sprintf("final_report_%s_%s.html", sanitized, stamp)
	stateName := fmt.Sprintf("report_state_%s_%s.json", sanitized, stamp)
	htmlPath := filepath.Join(c.OutputDir, htmlName)
	statePath := filepath.Join(c.OutputDir, stateName)

	if err := atomicWrite(htmlPath, []byte(html)); err != nil {
		return "", "", err
	}

	state := reportState{Query: query, HTMLPath: htmlPath, CreatedAt: time.Now().Format(time.RFC3339)}
	stateBytes, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return "", "", err
	}
	if err := atomicWrite(statePath, stateBytes); err != nil {
		return "", "", err
	}
	return htmlPath, statePath, nil
}

func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".compositor-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
