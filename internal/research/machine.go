package research

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"pulseforum/internal/logging"
	"pulseforum/internal/retry"
	"pulseforum/internal/sentiment"
)

// Machine drives one engine's Research State Machine run to completion
// (§4.3). It owns no engine-specific behavior beyond the Engine tag on its
// State; QUERY/MEDIA/INSIGHT differ only in which tools and prompts the
// nodes select for that Engine.
type Machine struct {
	LLM            LLM
	Searcher       Searcher
	MaxReflections int
	MaxParagraphs  int
	ReportsDir     string

	// Observer, if set, is notified after each summary node produces a
	// value (fallback or not) so a host process can mirror it onto its
	// wire-contract log (§4.4) for the Tailer to pick up.
	Observer Observer

	// Sentiment backs INSIGHT's analyze_sentiment tool (§9 supplemented).
	// Nil falls back to sentiment.DisabledClassifier.
	Sentiment sentiment.Classifier
}

// Observer receives the narrative content of summary nodes as they are
// produced. Implementations must not block the run for long; the engine
// worker's LogWriter implements this to emit the wire-contract log lines.
type Observer interface {
	FirstSummary(content string)
	ReflectionSummary(content string)
}

// NewMachine builds a Machine with the given collaborators and limits
// (§6 MAX_REFLECTIONS / MAX_PARAGRAPHS).
func NewMachine(llm LLM, searcher Searcher, maxReflections, maxParagraphs int, reportsDir string) *Machine {
	return &Machine{LLM: llm, Searcher: searcher, MaxReflections: maxReflections, MaxParagraphs: maxParagraphs, ReportsDir: reportsDir}
}

// search runs a Searcher call behind the SearchAPIProfile graceful retry
// envelope: an exhausted or fatal search failure degrades to an empty
// result set rather than aborting the run (§4.3, §7 kind 1).
// ToolAnalyzeSentiment is special-cased: it carries texts to classify,
// not a query to search, so it routes to the Sentiment classifier instead
// of the Searcher.
func (m *Machine) search(ctx context.Context, tool SearchTool, query string) []SearchResult {
	if analyze, ok := tool.(ToolAnalyzeSentiment); ok {
		return m.classifySentiment(ctx, analyze)
	}
	return retry.DoGraceful(ctx, retry.SearchAPIProfile, []SearchResult(nil), func(ctx context.Context) ([]SearchResult, error) {
		return m.Searcher.Search(ctx, tool, query)
	})
}

// classifySentiment runs each text through the Sentiment classifier,
// folding label/confidence into SearchResult so the rest of the pipeline
// (summary nodes, persistence) doesn't need to know sentiment results are
// special. A classifier error (including the disabled-mode ErrDisabled)
// drops that text rather than aborting the paragraph, matching the
// graceful-degrade treatment search failures get.
func (m *Machine) classifySentiment(ctx context.Context, tool ToolAnalyzeSentiment) []SearchResult {
	classifier := m.Sentiment
	if classifier == nil {
		classifier = sentiment.DisabledClassifier{}
	}
	results := make([]SearchResult, 0, len(tool.Texts))
	for _, text := range tool.Texts {
		label, confidence, err := classifier.Classify(ctx, text)
		if err != nil {
			continue
		}
		score := confidence
		results = append(results, SearchResult{Title: label, Content: text, Score: &score})
	}
	return results
}

// Run executes the full plan -> search -> summarize -> reflect -> finalize
// loop for a single query and persists the finished report to disk
// (§4.3 main loop, §6 persistence). It returns the terminal State; only a
// report-persistence failure is treated as fatal and surfaces as an error,
// per §7's error-handling design ("only persistence errors are fatal").
func (m *Machine) Run(ctx context.Context, query string, engine Engine) (*State, error) {
	state := NewState(query, engine)
	log := logging.For("research").WithField("engine", string(engine)).WithField("run_id", state.ID)

	state.setStatus(StatusPlanning)
	plan := ReportStructureNode(ctx, m.LLM, state, m.MaxParagraphs)
	if plan.Fallback {
		log.WithField("reason", plan.Reason).Warn("ReportStructureNode fell back to default structure")
	}
	state.ReportTitle = plan.Value.ReportTitle
	for _, p := range plan.Value.Paragraphs {
		state.Paragraphs = append(state.Paragraphs, &Paragraph{Title: p.Title, ExpectedContent: p.ExpectedContent})
	}
	state.touch()

	state.setStatus(StatusResearching)
	for _, paragraph := range state.Paragraphs {
		m.runParagraph(ctx, engine, paragraph, log)
	}

	formatted := ReportFormattingNode(ctx, m.LLM, state, roleForEngine(engine))
	if formatted.Fallback {
		log.WithField("reason", formatted.Reason).Warn("ReportFormattingNode fell back to manual formatter")
	}
	state.FinalReport = formatted.Value
	state.touch()

	if err := m.persist(state); err != nil {
		state.setStatus(StatusFailed)
		return state, fmt.Errorf("persisting report: %w", err)
	}

	now := time.Now()
	state.CompletedAt = &now
	state.setStatus(StatusCompleted)
	return state, nil
}

// runParagraph executes one paragraph's first_search -> first_summary step
// followed by MaxReflections rounds of reflection -> reflection_summary
// (§4.3), then marks it completed.
func (m *Machine) runParagraph(ctx context.Context, engine Engine, paragraph *Paragraph, log *logrus.Entry) {
	firstSearch := FirstSearchNode(ctx, m.LLM, engine, paragraph)
	if firstSearch.Fallback {
		log.WithField("reason", firstSearch.Reason).Warn("FirstSearchNode fell back")
	}
	results := m.search(ctx, firstSearch.Value.Tool, firstSearch.Value.SearchQuery)
	paragraph.Research.AppendSearch(firstSearch.Value.SearchQuery, results)

	firstSummary := FirstSummaryNode(ctx, m.LLM, engine, paragraph, firstSearch.Value.SearchQuery, results, "")
	if firstSummary.Fallback {
		log.WithField("reason", firstSummary.Reason).Warn("FirstSummaryNode fell back")
	}
	paragraph.Research.LatestSummary = firstSummary.Value
	if m.Observer != nil {
		m.Observer.FirstSummary(firstSummary.Value)
	}

	for i := 0; i < m.MaxReflections; i++ {
		reflection := ReflectionNode(ctx, m.LLM, engine, paragraph)
		if reflection.Fallback {
			log.WithField("reason", reflection.Reason).Warn("ReflectionNode fell back")
		}
		reflResults := m.search(ctx, reflection.Value.Tool, reflection.Value.SearchQuery)
		paragraph.Research.AppendSearch(reflection.Value.SearchQuery, reflResults)

		reflSummary := ReflectionSummaryNode(ctx, m.LLM, engine, paragraph, reflection.Value.SearchQuery, reflResults)
		if reflSummary.Fallback {
			log.WithField("reason", reflSummary.Reason).Warn("ReflectionSummaryNode fell back")
		}
		paragraph.Research.LatestSummary = reflSummary.Value
		if m.Observer != nil {
			m.Observer.ReflectionSummary(reflSummary.Value)
		}
		paragraph.Research.ReflectionCount++
	}

	paragraph.Completed = true
}

// persist writes the finished report to ReportsDir under a timestamped
// filename (§6). The directory is created if absent.
func (m *Machine) persist(state *State) error {
	if err := os.MkdirAll(m.ReportsDir, 0o755); err != nil {
		return err
	}
	name := fmt.Sprintf("%s_%s.md", state.CreatedAt.Format("20060102T150405"), sanitizeFilename(state.Query))
	path := filepath.Join(m.ReportsDir, name)

	tmp, err := os.CreateTemp(m.ReportsDir, ".report-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(state.FinalReport); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		case r == ' ', r == '-', r == '_':
			out = append(out, '_')
		}
		if len(out) >= 60 {
			break
		}
	}
	if len(out) == 0 {
		return "report"
	}
	return string(out)
}
