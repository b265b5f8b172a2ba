package forum

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var lineFormat = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] \[[A-Z]+\] [^\n]*$`)

func TestAppendMatchesLineFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.log")
	log := NewLog(path)

	line, err := log.Append(SourceQuery, "hello world")
	require.NoError(t, err)
	assert.Regexp(t, lineFormat, line)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, line+"\n", string(content))
}

func TestAppendEscapesNewlines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.log")
	log := NewLog(path)

	line, err := log.Append(SourceInsight, "line one\nline two\r\n")
	require.NoError(t, err)
	assert.False(t, strings.Contains(line, "\n"))
	assert.Contains(t, line, `\n`)
	assert.Regexp(t, lineFormat, line)
}

func TestTruncateAndMarkSessionStartResetsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.log")
	log := NewLog(path)

	_, err := log.Append(SourceQuery, "before truncate")
	require.NoError(t, err)

	require.NoError(t, log.TruncateAndMarkSessionStart())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[SYSTEM]")
	assert.Contains(t, lines[0], "ForumEngine monitoring started")
}

func TestMarkSessionEndAppendsMarker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.log")
	log := NewLog(path)
	require.NoError(t, log.TruncateAndMarkSessionStart())
	require.NoError(t, log.MarkSessionEnd())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "ForumEngine forum ended")
}
