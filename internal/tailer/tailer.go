// Package tailer implements the Log Tailer & Parser (C6, §4.6): one
// logical tail per engine log, reassembling the `Cleaned output: {...}`
// JSON blocks the Engine Worker emits and publishing their content to the
// forum log. Grounded line-for-line on
// original_source/ForumEngine/monitor.py.
package tailer

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"strings"
	"time"

	"pulseforum/internal/forum"
	"pulseforum/internal/llm"
	"pulseforum/internal/logging"
)

// linePrefix matches the wire-contract prefix
// `YYYY-MM-DD HH:mm:ss.SSS | LEVEL | logger.path:function:line - ` so it
// can be stripped from a line to recover its body (§6).
var linePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{3}\s*\|\s*(\w+)\s*\|\s*([^-]*?)\s*-\s?(.*)$`)

var bracketedTag = regexp.MustCompile(`^\[[^\]]*\]\s*`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// targetMarkers is the set of logger-path/body substrings that make a
// line a capture candidate (§4.6 target-line recognition clause c).
var targetMarkers = []string{
	"FirstSummaryNode", "ReflectionSummaryNode",
	"InsightEngine.nodes.summary_node", "MediaEngine.nodes.summary_node", "QueryEngine.nodes.summary_node",
	"nodes.summary_node",
	"Generating first paragraph summary", "Generating reflection summary",
}

var errorBodyMarkers = []string{"JSON parsing failed", "JSON repair failed", "Traceback", `File "`}

// Sink is where a Tailer publishes captured content (§4.6 publication).
// It is satisfied by *forum.Log plus an optional feed to the Moderator.
type Sink interface {
	Append(source forum.Source, content string) (string, error)
	TruncateAndMarkSessionStart() error
}

// Feeder additionally receives the formatted line so the Moderator's
// buffer stays in sync without re-reading the forum log.
type Feeder interface {
	Feed(ctx context.Context, line string)
}

// State is the per-engine mutable tailing state (§5 "TailerState (per
// engine) — owned by one tailer goroutine; no cross-goroutine sharing").
type State struct {
	offset        int64
	capturingJSON bool
	jsonBuffer    []string
	inErrorBlock  bool

	waiting       bool
	inactivePolls int
}

// NewState returns a State beginning in the "waiting" session state.
func NewState() *State { return &State{waiting: true} }

const inactivePollLimit = 7200

// Tailer watches one engine's append-only log file and republishes its
// captured summary content to the forum log (§4.6).
type Tailer struct {
	Engine  forum.Source
	LogPath string
	Sink    Sink
	Feeder  Feeder
	State   *State
}

func New(engine forum.Source, logPath string, sink Sink, feeder Feeder) *Tailer {
	return &Tailer{Engine: engine, LogPath: logPath, Sink: sink, Feeder: feeder, State: NewState()}
}

// Run polls the log file every second until ctx is cancelled (§4.6
// "wake-up cadence: 1-second polling"). Poll errors are logged and
// monitoring continues after a short sleep (§7 "on tailer errors,
// monitoring continues after a 2-second sleep").
func (t *Tailer) Run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.Poll(ctx); err != nil {
				logging.Log.WithField("component", "tailer").WithField("engine", string(t.Engine)).WithError(err).Warn("poll failed")
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// Poll performs one read-and-process cycle over new log content.
func (t *Tailer) Poll(ctx context.Context) error {
	info, err := os.Stat(t.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	s := t.State
	if info.Size() < s.offset {
		s.offset = 0
		s.capturingJSON = false
		s.jsonBuffer = nil
		s.inErrorBlock = false
		s.waiting = true
		s.inactivePolls = 0
	}

	f, err := os.Open(t.LogPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(s.offset, 0); err != nil {
		return err
	}

	sawCapture := false
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var read int64
	for scanner.Scan() {
		line := scanner.Text()
		read += int64(len(line)) + 1
		if t.processLine(ctx, line) {
			sawCapture = true
		}
	}
	s.offset += read

	if sawCapture {
		s.inactivePolls = 0
	} else {
		s.inactivePolls++
		if !s.waiting && s.inactivePolls >= inactivePollLimit {
			s.waiting = true
		}
	}
	return scanner.Err()
}

// processLine runs one raw log line through the ERROR-block filter,
// session-gate, and JSON-reassembly state machines. It returns true iff
// the line resulted in published content.
func (t *Tailer) processLine(ctx context.Context, line string) bool {
	s := t.State
	match := linePrefix.FindStringSubmatch(line)
	if match == nil {
		return false
	}
	level, loggerPath, body := match[1], match[2], match[3]

	switch strings.ToUpper(level) {
	case "ERROR":
		s.inErrorBlock = true
		if s.capturingJSON {
			s.capturingJSON = false
			s.jsonBuffer = nil
		}
		return false
	case "INFO":
		s.inErrorBlock = false
	}
	if s.inErrorBlock {
		return false
	}

	if s.capturingJSON {
		return t.continueCapture(ctx, body, line)
	}

	if isStartMarker(loggerPath, body) && s.waiting {
		s.waiting = false
		if err := t.Sink.TruncateAndMarkSessionStart(); err != nil {
			logging.Log.WithField("component", "tailer").WithError(err).Warn("failed to mark session start")
		}
	}

	if !isCandidate(level, loggerPath, body) {
		return false
	}

	const startToken = "Cleaned output: {"
	idx := strings.Index(body, startToken)
	if idx < 0 {
		return false
	}
	payload := body[idx+len("Cleaned output: "):]
	if balanced(payload) {
		if s.waiting {
			return false
		}
		t.publish(ctx, payload)
		return true
	}
	s.capturingJSON = true
	s.jsonBuffer = []string{payload}
	return false
}

// continueCapture appends a continuation line to the JSON buffer,
// finishing the capture if it is an end line (§4.6 JSON reassembly).
func (t *Tailer) continueCapture(ctx context.Context, body, rawLine string) bool {
	s := t.State
	stripped := strings.TrimSpace(body)
	if stripped == "}" || stripped == "] }" {
		s.jsonBuffer = append(s.jsonBuffer, body)
		joined := strings.Join(s.jsonBuffer, "\n")
		s.capturingJSON = false
		s.jsonBuffer = nil
		if s.waiting {
			return false
		}
		t.publish(ctx, joined)
		return true
	}
	s.jsonBuffer = append(s.jsonBuffer, body)
	return false
}

// publish parses payload as JSON, extracts its content per §4.6, and
// appends it to the forum log (and feeds the Moderator). Parse failure
// attempts repair; if still unparseable the buffer is dropped silently.
func (t *Tailer) publish(ctx context.Context, payload string) {
	content, ok := extractContent(payload)
	if !ok {
		repaired, ok2 := llm.Repair(payload)
		if !ok2 {
			return
		}
		content, ok = extractContent(repaired)
		if !ok {
			return
		}
	}
	content = cleanContent(content)

	line, err := t.Sink.Append(t.Engine, content)
	if err != nil {
		logging.Log.WithField("component", "tailer").WithError(err).Warn("failed to publish to forum log")
		return
	}
	if t.Feeder != nil {
		t.Feeder.Feed(ctx, line)
	}
}

func isStartMarker(loggerPath, body string) bool {
	return strings.Contains(loggerPath, "FirstSummaryNode") || strings.Contains(body, "Generating first paragraph summary")
}

func isCandidate(level, loggerPath, body string) bool {
	if strings.EqualFold(level, "ERROR") {
		return false
	}
	for _, bad := range errorBodyMarkers {
		if strings.Contains(body, bad) {
			return false
		}
	}
	for _, marker := range targetMarkers {
		if strings.Contains(loggerPath, marker) || strings.Contains(body, marker) {
			return true
		}
	}
	return false
}

// balanced reports whether s contains balanced braces/brackets and ends
// with a closing one, i.e. it is already a complete JSON value on one
// line (§4.6 "if that same line ends with } and brace counts balance").
func balanced(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || (s[len(s)-1] != '}' && s[len(s)-1] != ']') {
		return false
	}
	depth := 0
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return depth == 0
}

func cleanContent(s string) string {
	s = bracketedTag.ReplaceAllString(s, "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
