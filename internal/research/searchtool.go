package research

import (
	"fmt"
	"regexp"
)

// SearchTool is the sum type called for in spec.md §9: tool-specific
// parameters belong inside their variant, not in a flat options bag.
// Each constructor below corresponds to one leaf of the union described
// there (BasicNews | DeepNews | ... | AnalyzeSentiment(texts)).
type SearchTool interface {
	ToolName() string
	isSearchTool()
}

type baseTool string

func (b baseTool) ToolName() string { return string(b) }
func (baseTool) isSearchTool()      {}

// QUERY engine tools.
const (
	ToolBasicSearchNews        baseTool = "basic_search_news"
	ToolDeepSearchNews         baseTool = "deep_search_news"
	ToolSearchNewsLast24Hours  baseTool = "search_news_last_24_hours"
	ToolSearchNewsLastWeek     baseTool = "search_news_last_week"
	ToolSearchImagesForNews    baseTool = "search_images_for_news"
)

// MEDIA engine tools.
const (
	ToolComprehensiveSearch    baseTool = "comprehensive_search"
	ToolWebSearchOnly          baseTool = "web_search_only"
	ToolSearchStructuredData   baseTool = "search_for_structured_data"
	ToolSearchLast24Hours      baseTool = "search_last_24_hours"
	ToolSearchLastWeek         baseTool = "search_last_week"
)

// INSIGHT engine tools (the non-parameterized ones).
const (
	ToolSearchHotContent      baseTool = "search_hot_content"
	ToolSearchTopicGlobally   baseTool = "search_topic_globally"
	ToolGetCommentsForTopic   baseTool = "get_comments_for_topic"
)

// ToolByDate covers QUERY's search_news_by_date and INSIGHT's
// search_topic_by_date: a date-range-parameterized variant.
type ToolByDate struct {
	Name      string
	StartDate string
	EndDate   string
}

func (t ToolByDate) ToolName() string { return t.Name }
func (ToolByDate) isSearchTool()      {}

// ToolOnPlatform covers INSIGHT's search_topic_on_platform.
type ToolOnPlatform struct {
	Platform  string
	StartDate string
	EndDate   string
}

func (ToolOnPlatform) ToolName() string { return "search_topic_on_platform" }
func (ToolOnPlatform) isSearchTool()    {}

// ToolAnalyzeSentiment covers INSIGHT's analyze_sentiment, which carries
// the texts to classify rather than a query string.
type ToolAnalyzeSentiment struct {
	Texts []string
}

func (ToolAnalyzeSentiment) ToolName() string { return "analyze_sentiment" }
func (ToolAnalyzeSentiment) isSearchTool()    {}

// ToolGlobalFallback is the generic tool a caller falls back to when a
// tool-specific required parameter is missing (§4.3 FirstSearchNode
// parameter validation, §7 kind 3 "Contract violation").
var ToolGlobalFallback baseTool = "global"

// ToolsForEngine lists the tool names the planner/search nodes may choose
// from for a given engine (§4.3).
func ToolsForEngine(engine Engine) []string {
	switch engine {
	case EngineQuery:
		return []string{
			string(ToolBasicSearchNews), string(ToolDeepSearchNews),
			string(ToolSearchNewsLast24Hours), string(ToolSearchNewsLastWeek),
			string(ToolSearchImagesForNews), "search_news_by_date",
		}
	case EngineMedia:
		return []string{
			string(ToolComprehensiveSearch), string(ToolWebSearchOnly),
			string(ToolSearchStructuredData), string(ToolSearchLast24Hours),
			string(ToolSearchLastWeek),
		}
	case EngineInsight:
		return []string{
			string(ToolSearchHotContent), string(ToolSearchTopicGlobally),
			"search_topic_by_date", string(ToolGetCommentsForTopic),
			"search_topic_on_platform", "analyze_sentiment",
		}
	default:
		return nil
	}
}

var dateFormat = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ValidDate reports whether a date string matches YYYY-MM-DD (§4.3).
func ValidDate(s string) bool { return dateFormat.MatchString(s) }

// RawToolChoice is what the planner/search LLM nodes actually emit: a tool
// name plus whatever parameters they included. BuildSearchTool validates
// it into a concrete SearchTool, falling back to the generic tool on a
// missing/invalid required parameter.
type RawToolChoice struct {
	Name      string
	StartDate string
	EndDate   string
	Platform  string
	Texts     []string
}

// BuildSearchTool validates a raw LLM tool choice into a SearchTool,
// logging-and-falling-back (not erroring) per §4.3/§7 kind 3 when a
// required parameter is missing or malformed.
func BuildSearchTool(raw RawToolChoice, warn func(reason string)) SearchTool {
	switch raw.Name {
	case "search_news_by_date", "search_topic_by_date":
		if !ValidDate(raw.StartDate) || !ValidDate(raw.EndDate) {
			warn(fmt.Sprintf("missing/invalid date range for %s, falling back to global", raw.Name))
			return ToolGlobalFallback
		}
		return ToolByDate{Name: raw.Name, StartDate: raw.StartDate, EndDate: raw.EndDate}
	case "search_topic_on_platform":
		if raw.Platform == "" {
			warn("missing platform for search_topic_on_platform, falling back to global")
			return ToolGlobalFallback
		}
		return ToolOnPlatform{Platform: raw.Platform, StartDate: raw.StartDate, EndDate: raw.EndDate}
	case "analyze_sentiment":
		if len(raw.Texts) == 0 {
			warn("missing texts for analyze_sentiment, falling back to global")
			return ToolGlobalFallback
		}
		return ToolAnalyzeSentiment{Texts: raw.Texts}
	case "":
		warn("empty tool name, falling back to global")
		return ToolGlobalFallback
	default:
		return baseTool(raw.Name)
	}
}
