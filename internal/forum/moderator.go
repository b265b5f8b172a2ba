package forum

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"pulseforum/internal/config"
	"pulseforum/internal/logging"
)

// Completer is the narrow LLM Gateway surface the Moderator needs
// (mirrors llm.Gateway.Complete; see research.LLM for the same pattern).
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, role config.Role, expectJSON bool) (string, error)
}

// Threshold is the default buffer size that triggers a synthesis pass
// (§4.7 "default K = 5").
const Threshold = 5

var utteranceLine = regexp.MustCompile(`^\[\d{2}:\d{2}:\d{2}\] \[([A-Z]+)\] (.*)$`)

// utterance is one parsed forum-log line (§4.7 "parsing agent utterances
// out of the buffered log-line form").
type utterance struct {
	Source  string
	Content string
}

// Moderator maintains a buffer of recent agent utterances and, once it
// reaches Threshold, synthesizes a single host reply through the LLM
// Gateway's FORUM_HOST role (§4.7). Only one synthesis runs at a time.
type Moderator struct {
	mu        sync.Mutex
	buffer    []utterance
	inFlight  bool
	threshold int

	log *Log
	llm Completer
}

// NewModerator builds a Moderator writing host replies to log via llm.
func NewModerator(log *Log, llm Completer) *Moderator {
	return &Moderator{log: log, llm: llm, threshold: Threshold}
}

// Feed offers one raw forum-log line to the Moderator's buffer. Lines
// from SYSTEM or HOST are not agent utterances and are ignored. If the
// buffer reaches the threshold and no synthesis is in flight, Feed
// triggers one synchronously in the caller's goroutine — callers
// (the Tailer) should invoke Feed from a dedicated goroutine so this
// never blocks log publication for long.
func (m *Moderator) Feed(ctx context.Context, line string) {
	match := utteranceLine.FindStringSubmatch(line)
	if match == nil {
		return
	}
	source, content := match[1], match[2]
	if source == string(SourceSystem) || source == string(SourceHost) {
		return
	}

	m.mu.Lock()
	m.buffer = append(m.buffer, utterance{Source: source, Content: content})
	ready := len(m.buffer) >= m.threshold && !m.inFlight
	if ready {
		m.inFlight = true
	}
	m.mu.Unlock()

	if ready {
		m.synthesize(ctx)
	}
}

// synthesize consumes exactly `threshold` buffered utterances (FIFO),
// asks the LLM Gateway for a host reply, and appends it under source HOST
// (§4.7). Parse/LLM failure does not block subsequent utterances — it is
// logged and the consumed utterances are still dropped, matching
// "failure to parse does not block subsequent utterances".
func (m *Moderator) synthesize(ctx context.Context) {
	m.mu.Lock()
	batch := m.buffer[:m.threshold]
	m.buffer = append([]utterance(nil), m.buffer[m.threshold:]...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	prompt := formatUtterances(batch)
	system := "You are the forum moderator. Synthesize the recent agent utterances into a short host update: " +
		"summarize the timeline, integrate differing viewpoints, predict an emerging trend, and pose one follow-up question."

	reply, err := m.llm.Complete(ctx, system, prompt, config.RoleForumHost, false)
	if err != nil || strings.TrimSpace(reply) == "" {
		logging.For("forum").WithError(err).Warn("moderator synthesis failed, dropping batch")
		return
	}

	if _, err := m.log.Append(SourceHost, reply); err != nil {
		logging.For("forum").WithError(err).Warn("failed to append host reply to forum log")
	}
}

func formatUtterances(batch []utterance) string {
	var b strings.Builder
	for _, u := range batch {
		fmt.Fprintf(&b, "[%s] %s\n", u.Source, u.Content)
	}
	return b.String()
}

// BufferLen reports the current buffer length, for tests and diagnostics.
func (m *Moderator) BufferLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffer)
}
