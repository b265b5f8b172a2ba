// Package forum implements the forum log (the single cross-engine
// transcript every engine's captured content and the moderator's
// synthesis are appended to) and the Forum Moderator (C7, §4.7).
package forum

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Source is one of the five tags a forum log line may carry (§6).
type Source string

const (
	SourceSystem  Source = "SYSTEM"
	SourceHost    Source = "HOST"
	SourceQuery   Source = "QUERY"
	SourceMedia   Source = "MEDIA"
	SourceInsight Source = "INSIGHT"
)

// Log is the single append-only forum transcript (§5 "forum.log —
// multi-writer ... every write under ForumWriteLock"). A process-wide
// mutex serializes every write so no line is ever partially overwritten.
type Log struct {
	mu   sync.Mutex
	path string
}

// NewLog opens (or creates) the forum log at path.
func NewLog(path string) *Log {
	return &Log{path: path}
}

// escape replaces literal newlines/carriage-returns with their two-char
// escape sequences, matching monitor.py's write_to_forum_log (§4.6
// publication, §8 property 2 regex `[^\n]*$`).
func escape(s string) string {
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

func (l *Log) appendRaw(line string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	return err
}

// Append writes one `[HH:MM:SS] [SOURCE] content` line (§6) and returns
// the formatted line so callers (the Tailer) can feed it straight to the
// Moderator's buffer without a re-read of the file.
func (l *Log) Append(source Source, content string) (string, error) {
	line := fmt.Sprintf("[%s] [%s] %s", time.Now().Format("15:04:05"), source, escape(content))
	if err := l.appendRaw(line); err != nil {
		return "", err
	}
	return line, nil
}

// TruncateAndMarkSessionStart truncates the forum log and writes the
// session-start SYSTEM marker (§4.6 "on transition it truncates the forum
// log and writes a SYSTEM session-start marker", §6 session delimiters).
func (l *Log) TruncateAndMarkSessionStart() error {
	l.mu.Lock()
	if err := os.WriteFile(l.path, nil, 0o644); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	marker := fmt.Sprintf("=== ForumEngine monitoring started - %s ===", time.Now().Format("2006-01-02 15:04:05"))
	_, err := l.Append(SourceSystem, marker)
	return err
}

// MarkSessionEnd writes the session-end SYSTEM marker (§6).
func (l *Log) MarkSessionEnd() error {
	marker := fmt.Sprintf("=== ForumEngine forum ended - %s ===", time.Now().Format("2006-01-02 15:04:05"))
	_, err := l.Append(SourceSystem, marker)
	return err
}
