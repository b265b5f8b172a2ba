package compositor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseforum/internal/config"
	"pulseforum/internal/readiness"
)

type fakeCompleter struct {
	reply string
	err   error
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string, role config.Role, expectJSON bool) (string, error) {
	return f.reply, f.err
}

func setupReadyFixture(t *testing.T) (root string, engineDirs map[string]string, forumLog string, gate *readiness.Gate) {
	t.Helper()
	root = t.TempDir()
	engineDirs = map[string]string{}
	for _, e := range []string{"insight", "media", "query"} {
		dir := filepath.Join(root, e)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		engineDirs[e] = dir
	}
	forumLog = filepath.Join(root, "forum.log")
	gate = readiness.New(filepath.Join(root, "baseline.json"), forumLog)
	require.NoError(t, gate.InitializeBaseline(engineDirs))

	for e, dir := range engineDirs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "report.md"), []byte("artifact for "+e), 0o644))
	}
	require.NoError(t, os.WriteFile(forumLog, []byte("[00:00:00] [SYSTEM] start\n"), 0o644))
	return
}

func TestStartRejectsWhileRunning(t *testing.T) {
	root, dirs, forumLog, gate := setupReadyFixture(t)
	c := &Compositor{
		Readiness:    gate,
		EngineDirs:   dirs,
		ForumLogPath: forumLog,
		TemplateDir:  filepath.Join(root, "templates"),
		OutputDir:    filepath.Join(root, "final_reports"),
		LLM:          &fakeCompleter{reply: "<html>ok</html>"},
	}
	_, err := c.Start(context.Background(), "topic", "")
	require.NoError(t, err)

	_, err = c.Start(context.Background(), "topic2", "")
	assert.ErrorContains(t, err, "already_running")
}

func TestRunCompletesAndPersistsArtifacts(t *testing.T) {
	root, dirs, forumLog, gate := setupReadyFixture(t)
	c := &Compositor{
		Readiness:    gate,
		EngineDirs:   dirs,
		ForumLogPath: forumLog,
		TemplateDir:  filepath.Join(root, "templates"),
		OutputDir:    filepath.Join(root, "final_reports"),
		LLM:          &fakeCompleter{reply: "```html\n<html>report</html>\n```"},
	}
	_, err := c.Start(context.Background(), "my topic", "")
	require.NoError(t, err)

	var status *TaskRecord
	for i := 0; i < 50; i++ {
		status = c.Status()
		if status.Status != StatusRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Equal(t, StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)

	html, err := os.ReadFile(status.HTMLPath)
	require.NoError(t, err)
	assert.Equal(t, "<html>report</html>", string(html))

	_, err = os.Stat(status.StatePath)
	require.NoError(t, err)
}

func TestRunFailsWhenNotReady(t *testing.T) {
	root := t.TempDir()
	dirs := map[string]string{"insight": filepath.Join(root, "insight")}
	require.NoError(t, os.MkdirAll(dirs["insight"], 0o755))
	gate := readiness.New(filepath.Join(root, "baseline.json"), filepath.Join(root, "forum.log"))
	require.NoError(t, gate.InitializeBaseline(dirs))

	c := &Compositor{
		Readiness:    gate,
		EngineDirs:   dirs,
		ForumLogPath: filepath.Join(root, "forum.log"),
		TemplateDir:  filepath.Join(root, "templates"),
		OutputDir:    filepath.Join(root, "final_reports"),
		LLM:          &fakeCompleter{reply: "<html></html>"},
	}
	_, err := c.Start(context.Background(), "topic", "")
	require.NoError(t, err)

	var status *TaskRecord
	for i := 0; i < 50; i++ {
		status = c.Status()
		if status.Status != StatusRunning {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, StatusError, status.Status)
}

func TestSanitizeQueryRules(t *testing.T) {
	assert.Equal(t, "hello_world", sanitizeQuery("hello world"))
	assert.Equal(t, "ab-_cd", sanitizeQuery("ab-_cd!!!"))
	long := sanitizeQuery("this is a very long query that exceeds thirty characters for sure")
	assert.LessOrEqual(t, len(long), 30)
}
