// Package research implements the Research State Machine (C3): the
// plan -> search -> summarize -> reflect -> refine -> finalize loop shared
// by the three engines, operating on a ReportState tree
// (State -> Paragraphs -> Research -> SearchHistory) that spec.md §9 notes
// has no cyclic references.
package research

import (
	"time"

	"github.com/google/uuid"
)

// Engine identifies which of the three research engines owns a run.
type Engine string

const (
	EngineQuery   Engine = "QUERY"
	EngineMedia   Engine = "MEDIA"
	EngineInsight Engine = "INSIGHT"
)

// Query is the immutable input to a research run (§3 ResearchQuery).
type Query struct {
	Topic  string
	Engine Engine
}

// Status is the ReportState lifecycle (§3).
type Status string

const (
	StatusPending     Status = "pending"
	StatusPlanning    Status = "planning"
	StatusResearching Status = "researching"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// SearchResult is a value type returned by a Searcher (§3).
type SearchResult struct {
	Title         string
	URL           string
	Content       string
	Score         *float64
	RawContent    *string
	PublishedDate *string
	Platform      *string
	Author        *string
	Engagement    map[string]any
}

// searchRecord is one entry of a Research's append-only search history.
type searchRecord struct {
	Query   string
	Results []SearchResult
}

// Research is the iterative research record owned by a single Paragraph.
type Research struct {
	LatestSummary    string
	ReflectionCount  int
	searchHistory    []searchRecord
}

// AppendSearch records one (query, results) pair in publication order. The
// search history is append-only (§3 invariant).
func (r *Research) AppendSearch(query string, results []SearchResult) {
	r.searchHistory = append(r.searchHistory, searchRecord{Query: query, Results: results})
}

// SearchHistory returns a read-only snapshot of the append-only history.
func (r *Research) SearchHistory() []searchRecord {
	out := make([]searchRecord, len(r.searchHistory))
	copy(out, r.searchHistory)
	return out
}

// Paragraph is one planned section of the report, owned by a ReportState.
type Paragraph struct {
	Title           string
	ExpectedContent string
	Research        Research
	Completed       bool
}

// State is the mutable per-run container (§3 ReportState).
type State struct {
	ID          string
	Query       string
	Engine      Engine
	ReportTitle string
	Paragraphs  []*Paragraph
	Status      Status
	FinalReport string

	CreatedAt      time.Time
	LastMutatedAt  time.Time
	CompletedAt    *time.Time
}

// NewState starts a fresh run, tagging it with a unique ID so concurrent
// runs across engines stay distinguishable in logs (§5 "ReportState ...
// one per active run").
func NewState(query string, engine Engine) *State {
	now := time.Now()
	return &State{
		ID:            uuid.New().String(),
		Query:         query,
		Engine:        engine,
		Status:        StatusPending,
		CreatedAt:     now,
		LastMutatedAt: now,
	}
}

func (s *State) touch() { s.LastMutatedAt = time.Now() }

func (s *State) setStatus(status Status) {
	s.Status = status
	s.touch()
}
