package tailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseforum/internal/forum"
)

type fakeSink struct {
	published []string
	truncated int
}

func (s *fakeSink) Append(source forum.Source, content string) (string, error) {
	line := string(source) + ": " + content
	s.published = append(s.published, line)
	return line, nil
}

func (s *fakeSink) TruncateAndMarkSessionStart() error {
	s.truncated++
	return nil
}

type fakeFeeder struct {
	fed []string
}

func (f *fakeFeeder) Feed(ctx context.Context, line string) {
	f.fed = append(f.fed, line)
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPollCapturesSingleLineCleanedOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.log")
	writeLines(t, path, []string{
		`2026-07-31 10:00:00.000 | INFO     | query.nodes.summary_node:run:1 - Generating first paragraph summary`,
		`2026-07-31 10:00:01.000 | INFO     | query.nodes.summary_node:run:1 - Cleaned output: {"paragraph_latest_state": "hello"}`,
	})
	sink := &fakeSink{}
	feeder := &fakeFeeder{}
	tl := New(forum.SourceQuery, path, sink, feeder)

	require.NoError(t, tl.Poll(context.Background()))

	require.Len(t, sink.published, 1)
	assert.Contains(t, sink.published[0], "hello")
	assert.Equal(t, 1, sink.truncated)
	require.Len(t, feeder.fed, 1)
}

func TestPollReassemblesMultilineCleanedOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "insight.log")
	writeLines(t, path, []string{
		`2026-07-31 10:00:00.000 | INFO     | insight.nodes.summary_node:run:1 - Generating reflection summary`,
		`2026-07-31 10:00:01.000 | INFO     | insight.nodes.summary_node:run:1 - Cleaned output: {`,
		`2026-07-31 10:00:01.000 | INFO     | insight.nodes.summary_node:run:1 -   "updated_paragraph_latest_state": "alpha and beta"`,
		`2026-07-31 10:00:01.000 | INFO     | insight.nodes.summary_node:run:1 - }`,
	})
	sink := &fakeSink{}
	tl := New(forum.SourceInsight, path, sink, nil)
	tl.State.waiting = false // session already active from an earlier first-summary

	require.NoError(t, tl.Poll(context.Background()))

	require.Len(t, sink.published, 1)
	assert.Contains(t, sink.published[0], "alpha and beta")
}

func TestPollDiscardsCaptureOnErrorLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "media.log")
	writeLines(t, path, []string{
		`2026-07-31 10:00:00.000 | INFO     | media.nodes.summary_node:run:1 - Cleaned output: {`,
		`2026-07-31 10:00:01.000 | ERROR    | media.nodes.summary_node:run:1 - Traceback (most recent call last):`,
		`2026-07-31 10:00:02.000 | ERROR    | media.nodes.summary_node:run:1 - File "x.py", line 1`,
		`2026-07-31 10:00:03.000 | INFO     | media.nodes.summary_node:run:1 - }`,
	})
	sink := &fakeSink{}
	tl := New(forum.SourceMedia, path, sink, nil)
	tl.State.waiting = false // isolate the ERROR-block discard from the session gate

	require.NoError(t, tl.Poll(context.Background()))
	assert.Len(t, sink.published, 0)
}

func TestPollIgnoresContentWhileWaiting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.log")
	writeLines(t, path, []string{
		`2026-07-31 10:00:00.000 | INFO     | other:run:1 - unrelated noise`,
	})
	sink := &fakeSink{}
	tl := New(forum.SourceQuery, path, sink, nil)

	require.NoError(t, tl.Poll(context.Background()))
	assert.Len(t, sink.published, 0)
	assert.Equal(t, 0, sink.truncated)
}

func TestPollResetsOnTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.log")
	writeLines(t, path, []string{
		`2026-07-31 10:00:00.000 | INFO     | query.nodes.summary_node:run:1 - Generating first paragraph summary`,
		`2026-07-31 10:00:01.000 | INFO     | query.nodes.summary_node:run:1 - Cleaned output: {"paragraph_latest_state": "first"}`,
	})
	sink := &fakeSink{}
	tl := New(forum.SourceQuery, path, sink, nil)
	require.NoError(t, tl.Poll(context.Background()))
	require.Len(t, sink.published, 1)

	writeLines(t, path, []string{`short file`})
	require.NoError(t, tl.Poll(context.Background()))
	assert.Equal(t, int64(len("short file\n")), tl.State.offset)
}
