// Package engineworker hosts one Research State Machine (§4.3/§4.4) inside
// a long-running process: it writes the append-only wire-contract log the
// Log Tailer (§4.6) parses, and exposes the small cross-engine HTTP search
// surface.
package engineworker

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// LogWriter emits the engine log line format verbatim (§6):
//
//	YYYY-MM-DD HH:mm:ss.SSS | LEVEL | logger.path:function:line - body
//
// The level is left-aligned and padded to eight characters. Every write is
// serialized. The Tailer's prefix regex tolerates whitespace around the
// `|` separators, but the field order and separators must not change, so
// callers should only reach the log through the named methods below,
// never format their own lines.
type LogWriter struct {
	mu     sync.Mutex
	out    io.Writer
	engine string
}

// NewLogWriter opens (creating if needed) logs/{engine}.log and returns a
// LogWriter appending to it.
func NewLogWriter(path, engine string) (*LogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &LogWriter{out: f, engine: engine}, nil
}

func (w *LogWriter) writeLine(level, loggerPath, function string, line int, body string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(w.out, "%s | %-8s | %s:%s:%d - %s\n", ts, level, loggerPath, function, line, body)
}

// Info writes a single INFO line.
func (w *LogWriter) Info(loggerPath, function string, line int, body string) {
	w.writeLine("INFO", loggerPath, function, line, body)
}

// Error writes a single ERROR line. Per the tailer's ERROR-block rules
// (§4.6), any in-flight JSON capture on the reading side is discarded once
// this is observed.
func (w *LogWriter) Error(loggerPath, function string, line int, body string) {
	w.writeLine("ERROR", loggerPath, function, line, body)
}

// summaryLoggerPath builds the `nodes.summary_node`-containing logger path
// the Tailer's target-line recognition requires (§4.6 target c).
func (w *LogWriter) summaryLoggerPath() string {
	return w.engine + ".nodes.summary_node"
}

// FirstSummary emits the two-line sequence an initial paragraph summary
// produces: an announcement line containing the literal body
// `Generating first paragraph summary`, followed by the JSON emission
// line `Cleaned output: {...}` (§4.4 wire contract).
func (w *LogWriter) FirstSummary(content string) {
	w.Info(w.summaryLoggerPath(), "run", 1, "Generating first paragraph summary")
	w.emitCleanedOutput(map[string]string{"paragraph_latest_state": content})
}

// ReflectionSummary emits the reflection-summary announcement and JSON
// emission line (§4.4, §4.6 target "Generating reflection summary").
func (w *LogWriter) ReflectionSummary(content string) {
	w.Info(w.summaryLoggerPath(), "run", 1, "Generating reflection summary")
	w.emitCleanedOutput(map[string]string{"updated_paragraph_latest_state": content})
}

// emitCleanedOutput marshals obj to a single-line JSON payload and writes
// it on one `Cleaned output: {...}` line so the same line both starts and
// ends the Tailer's JSON-reassembly state machine (§4.6 "if that same line
// ends with } and brace counts balance, parse immediately").
func (w *LogWriter) emitCleanedOutput(obj map[string]string) {
	b, err := json.Marshal(obj)
	if err != nil {
		w.Error(w.summaryLoggerPath(), "run", 1, fmt.Sprintf("JSON parsing failed: %v", err))
		return
	}
	w.Info(w.summaryLoggerPath(), "run", 1, "Cleaned output: "+string(b))
}
