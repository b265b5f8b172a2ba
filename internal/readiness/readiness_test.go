package readiness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMD(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("content"), 0o644))
}

func TestInitializeBaselineRecordsCurrentCounts(t *testing.T) {
	root := t.TempDir()
	insightDir := filepath.Join(root, "insight")
	require.NoError(t, os.MkdirAll(insightDir, 0o755))
	writeMD(t, insightDir, "a.md")
	writeMD(t, insightDir, "b.md")

	g := New(filepath.Join(root, "baseline.json"), filepath.Join(root, "forum.log"))
	require.NoError(t, g.InitializeBaseline(map[string]string{"insight": insightDir}))

	baseline, err := g.readBaseline()
	require.NoError(t, err)
	assert.Equal(t, 2, baseline["insight"])
}

func TestCheckReadyRequiresStrictIncreaseAndForumLog(t *testing.T) {
	root := t.TempDir()
	insightDir := filepath.Join(root, "insight")
	require.NoError(t, os.MkdirAll(insightDir, 0o755))
	writeMD(t, insightDir, "a.md")

	forumLog := filepath.Join(root, "forum.log")
	g := New(filepath.Join(root, "baseline.json"), forumLog)
	require.NoError(t, g.InitializeBaseline(map[string]string{"insight": insightDir}))

	result, err := g.Check(map[string]string{"insight": insightDir})
	require.NoError(t, err)
	assert.False(t, result.Ready, "no new file and no forum log yet")

	writeMD(t, insightDir, "b.md")
	result, err = g.Check(map[string]string{"insight": insightDir})
	require.NoError(t, err)
	assert.False(t, result.Ready, "forum log still missing")

	require.NoError(t, os.WriteFile(forumLog, []byte("[00:00:00] [SYSTEM] x\n"), 0o644))
	result, err = g.Check(map[string]string{"insight": insightDir})
	require.NoError(t, err)
	assert.True(t, result.Ready)
	assert.Equal(t, 1, result.Deltas["insight"].Delta)
}

func TestLatestFilesPicksMostRecentlyModified(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "media")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	writeMD(t, dir, "old.md")
	require.NoError(t, os.Chtimes(filepath.Join(dir, "old.md"), time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))
	writeMD(t, dir, "new.md")

	g := New(filepath.Join(root, "baseline.json"), filepath.Join(root, "forum.log"))
	latest, err := g.LatestFiles(map[string]string{"media": dir})
	require.NoError(t, err)
	assert.Equal(t, "new.md", filepath.Base(latest["media"].Path))
}
