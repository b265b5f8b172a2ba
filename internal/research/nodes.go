package research

import (
	"context"
	"fmt"

	"pulseforum/internal/config"
	"pulseforum/internal/logging"
)

// NodeResult models §9's "{ok(value)} | {fallback(default, reason)}":
// infrastructure and parse errors never escape a node as exceptions; they
// become a documented fallback value plus a reason, and the state machine
// branches on that rather than on an error return.
type NodeResult[T any] struct {
	Value    T
	Fallback bool
	Reason   string
}

func ok[T any](v T) NodeResult[T]                      { return NodeResult[T]{Value: v} }
func fallback[T any](def T, reason string) NodeResult[T] { return NodeResult[T]{Value: def, Fallback: true, Reason: reason} }

// plannedParagraph is the planner's per-paragraph output shape.
type plannedParagraph struct {
	Title           string `json:"title"`
	ExpectedContent string `json:"expected_content"`
}

type structurePlan struct {
	ReportTitle string             `json:"report_title"`
	Paragraphs  []plannedParagraph `json:"paragraphs"`
}

// ReportStructureNode produces an ordered list of {title, expected_content}
// pairs, cardinality <= maxParagraphs (§4.3).
func ReportStructureNode(ctx context.Context, llm LLM, state *State, maxParagraphs int) NodeResult[structurePlan] {
	role := roleForEngine(state.Engine)
	system := fmt.Sprintf("You are the %s research planner. Produce a JSON object {\"report_title\": string, \"paragraphs\": [{\"title\": string, \"expected_content\": string}, ...]} with at most %d paragraphs.", state.Engine, maxParagraphs)
	user := fmt.Sprintf("Topic: %s", state.Query)

	var plan structurePlan
	if err := llm.CompleteJSON(ctx, system, user, role, &plan); err != nil {
		logging.For("research").WithError(err).Warn("ReportStructureNode: parse failed")
		return fallback(structurePlan{
			ReportTitle: state.Query,
			Paragraphs: []plannedParagraph{
				{Title: "Overview", ExpectedContent: "Related topic research"},
			},
		}, "parsing failed")
	}
	if len(plan.Paragraphs) > maxParagraphs {
		plan.Paragraphs = plan.Paragraphs[:maxParagraphs]
	}
	if len(plan.Paragraphs) == 0 {
		return fallback(structurePlan{
			ReportTitle: state.Query,
			Paragraphs: []plannedParagraph{
				{Title: "Overview", ExpectedContent: "Related topic research"},
			},
		}, "parsing failed")
	}
	return ok(plan)
}

// searchDecision is the shared output shape of FirstSearchNode and
// ReflectionNode (§4.3).
type searchDecision struct {
	SearchQuery string        `json:"search_query"`
	Reasoning   string        `json:"reasoning"`
	Tool        SearchTool
}

type rawSearchDecision struct {
	SearchQuery string `json:"search_query"`
	SearchTool  string `json:"search_tool"`
	Reasoning   string `json:"reasoning"`
	DateRange   struct {
		Start string `json:"start"`
		End   string `json:"end"`
	} `json:"date_range"`
	Platform string   `json:"platform"`
	Texts    []string `json:"texts"`
}

// FirstSearchNode emits the first search query/tool for a paragraph
// (§4.3).
func FirstSearchNode(ctx context.Context, llm LLM, engine Engine, paragraph *Paragraph) NodeResult[searchDecision] {
	role := roleForEngine(engine)
	system := fmt.Sprintf(
		"You are the %s first-search planner. Choose one tool from %v. Reply as JSON {\"search_query\":string,\"search_tool\":string,\"reasoning\":string,\"date_range\":{\"start\":string,\"end\":string},\"platform\":string,\"texts\":[string]}.",
		engine, ToolsForEngine(engine),
	)
	user := fmt.Sprintf("Paragraph: %s\nExpected content: %s", paragraph.Title, paragraph.ExpectedContent)

	var raw rawSearchDecision
	if err := llm.CompleteJSON(ctx, system, user, role, &raw); err != nil {
		logging.For("research").WithError(err).Warn("FirstSearchNode: parse failed")
		return fallback(searchDecision{
			SearchQuery: paragraph.Title,
			Reasoning:   "parsing failed",
			Tool:        ToolGlobalFallback,
		}, "parsing failed")
	}
	tool := BuildSearchTool(RawToolChoice{
		Name: raw.SearchTool, StartDate: raw.DateRange.Start, EndDate: raw.DateRange.End,
		Platform: raw.Platform, Texts: raw.Texts,
	}, func(reason string) { logging.For("research").Warn(reason) })

	return ok(searchDecision{SearchQuery: raw.SearchQuery, Reasoning: raw.Reasoning, Tool: tool})
}

// ReflectionNode targets an identified gap in the current latest_summary
// with another search query (§4.3). Signature mirrors FirstSearchNode; the
// current state is read from paragraph.Research.LatestSummary.
func ReflectionNode(ctx context.Context, llm LLM, engine Engine, paragraph *Paragraph) NodeResult[searchDecision] {
	role := roleForEngine(engine)
	system := fmt.Sprintf(
		"You are the %s reflection planner. Identify a gap in the current summary and choose one search tool from %v. Reply as JSON {\"search_query\":string,\"search_tool\":string,\"reasoning\":string,\"date_range\":{\"start\":string,\"end\":string},\"platform\":string,\"texts\":[string]}.",
		engine, ToolsForEngine(engine),
	)
	user := fmt.Sprintf("Paragraph: %s\nCurrent latest state: %s", paragraph.Title, paragraph.Research.LatestSummary)

	var raw rawSearchDecision
	if err := llm.CompleteJSON(ctx, system, user, role, &raw); err != nil {
		logging.For("research").WithError(err).Warn("ReflectionNode: parse failed")
		return fallback(searchDecision{
			SearchQuery: paragraph.Title,
			Reasoning:   "parsing failed",
			Tool:        ToolGlobalFallback,
		}, "parsing failed")
	}
	tool := BuildSearchTool(RawToolChoice{
		Name: raw.SearchTool, StartDate: raw.DateRange.Start, EndDate: raw.DateRange.End,
		Platform: raw.Platform, Texts: raw.Texts,
	}, func(reason string) { logging.For("research").Warn(reason) })

	return ok(searchDecision{SearchQuery: raw.SearchQuery, Reasoning: raw.Reasoning, Tool: tool})
}

func formatResults(results []SearchResult) string {
	s := ""
	for i, r := range results {
		s += fmt.Sprintf("%d. %s (%s): %s\n", i+1, r.Title, r.URL, r.Content)
	}
	if s == "" {
		s = "(no results)"
	}
	return s
}

// FirstSummaryNode consumes {paragraph, search_query, formatted_results,
// moderator_guidance?} and emits a narrative paragraph_latest_state
// (§4.3). A non-empty moderatorGuidance is appended to the user prompt as
// a reference section. Machine.Run always passes an empty string, so runs
// driven by Machine carry no moderator guidance.
func FirstSummaryNode(ctx context.Context, llm LLM, engine Engine, paragraph *Paragraph, searchQuery string, results []SearchResult, moderatorGuidance string) NodeResult[string] {
	role := roleForEngine(engine)
	system := fmt.Sprintf("You are the %s FirstSummaryNode. Generating first paragraph summary. Write a narrative paragraph_latest_state from the search results. Reply as JSON {\"paragraph_latest_state\": string}.", engine)
	user := fmt.Sprintf("Paragraph: %s\nExpected content: %s\nSearch query: %s\nResults:\n%s", paragraph.Title, paragraph.ExpectedContent, searchQuery, formatResults(results))
	if moderatorGuidance != "" {
		user += fmt.Sprintf("\n\nReference section (forum moderator guidance):\n%s", moderatorGuidance)
	}

	var out struct {
		ParagraphLatestState string `json:"paragraph_latest_state"`
	}
	if err := llm.CompleteJSON(ctx, system, user, role, &out); err != nil || out.ParagraphLatestState == "" {
		logging.For("research").WithError(err).Warn("FirstSummaryNode: parse failed")
		return fallback("Related topic research", "parsing failed")
	}
	return ok(out.ParagraphLatestState)
}

// ReflectionSummaryNode additively integrates new results into
// paragraph_latest_state (§4.3). Contract: must preserve all material
// facts from the prior state; the caller does not verify this (it is a
// prompt-level contract on the node), but the fallback path always returns
// the unmodified prior state rather than risk discarding it.
func ReflectionSummaryNode(ctx context.Context, llm LLM, engine Engine, paragraph *Paragraph, searchQuery string, results []SearchResult) NodeResult[string] {
	role := roleForEngine(engine)
	system := fmt.Sprintf("You are the %s ReflectionSummaryNode. Generating reflection summary. Additively integrate the new results into the current state — you may add and reorganize, but must preserve every material fact already present. Reply as JSON {\"updated_paragraph_latest_state\": string}.", engine)
	user := fmt.Sprintf("Paragraph: %s\nCurrent state: %s\nNew search query: %s\nNew results:\n%s", paragraph.Title, paragraph.Research.LatestSummary, searchQuery, formatResults(results))

	var out struct {
		UpdatedParagraphLatestState string `json:"updated_paragraph_latest_state"`
	}
	if err := llm.CompleteJSON(ctx, system, user, role, &out); err != nil || out.UpdatedParagraphLatestState == "" {
		logging.For("research").WithError(err).Warn("ReflectionSummaryNode: parse failed")
		return fallback(paragraph.Research.LatestSummary, "parsing failed")
	}
	return ok(out.UpdatedParagraphLatestState)
}

// ReportFormattingNode renders the finalized paragraphs as Markdown
// (§4.3). On LLM failure, a manual formatter concatenates titles and
// bodies with horizontal rules.
func ReportFormattingNode(ctx context.Context, llm LLM, state *State, role config.Role) NodeResult[string] {
	system := "You are the ReportFormattingNode. Render the finalized paragraphs into a single cohesive Markdown document with a title and section headers."
	user := ""
	for _, p := range state.Paragraphs {
		user += fmt.Sprintf("## %s\n%s\n\n", p.Title, p.Research.LatestSummary)
	}

	out, err := llm.Complete(ctx, system, user, role, false)
	if err != nil || out == "" {
		logging.For("research").WithError(err).Warn("ReportFormattingNode: falling back to manual formatter")
		return fallback(manualFormat(state), "formatting failed")
	}
	return ok(out)
}

func manualFormat(state *State) string {
	s := fmt.Sprintf("# %s\n\n", firstNonEmpty(state.ReportTitle, state.Query))
	for i, p := range state.Paragraphs {
		s += fmt.Sprintf("## %s\n\n%s\n", p.Title, p.Research.LatestSummary)
		if i != len(state.Paragraphs)-1 {
			s += "\n---\n\n"
		}
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
