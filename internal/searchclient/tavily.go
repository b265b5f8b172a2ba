// Package searchclient provides the thin default Searcher implementation
// cmd/engine wires in. The search backend itself is an out-of-scope
// external collaborator (§1); this is the same kind of minimal
// provider-specific shim llm.NewOpenAICompleter is for the LLM Gateway,
// grounded on original_source/QueryEngine/tools/search.py's
// TavilyNewsAgency._search_internal.
package searchclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pulseforum/internal/research"
)

// TavilySearcher calls the Tavily REST search endpoint. Tool-specific
// parameters (depth, time range, image inclusion, date range) are mapped
// from the requested SearchTool the way each Python tool method in
// search.py parameterized its call to _search_internal.
type TavilySearcher struct {
	APIKey     string
	BaseURL    string // defaults to "https://api.tavily.com"
	HTTPClient *http.Client
}

// NewTavilySearcher builds a TavilySearcher with a bounded HTTP timeout.
func NewTavilySearcher(apiKey string) *TavilySearcher {
	return &TavilySearcher{
		APIKey:     apiKey,
		BaseURL:    "https://api.tavily.com",
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	Topic         string `json:"topic"`
	SearchDepth   string `json:"search_depth,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
	IncludeAnswer any    `json:"include_answer,omitempty"`
	IncludeImages bool   `json:"include_images,omitempty"`
	TimeRange     string `json:"time_range,omitempty"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
}

type tavilyResult struct {
	Title         string  `json:"title"`
	URL           string  `json:"url"`
	Content       string  `json:"content"`
	Score         float64 `json:"score"`
	PublishedDate string  `json:"published_date"`
}

type tavilyResponse struct {
	Results []tavilyResult `json:"results"`
}

// Search issues one Tavily request shaped by tool, matching each Python
// tool method's parameterization of _search_internal.
func (t *TavilySearcher) Search(ctx context.Context, tool research.SearchTool, query string) ([]research.SearchResult, error) {
	req := tavilyRequest{APIKey: t.APIKey, Query: query, Topic: "general", MaxResults: 7}

	switch v := tool.(type) {
	case research.ToolByDate:
		req.StartDate, req.EndDate = v.StartDate, v.EndDate
		req.MaxResults = 15
	default:
		switch tool.ToolName() {
		case "deep_search_news", "comprehensive_search":
			req.SearchDepth = "advanced"
			req.MaxResults = 20
			req.IncludeAnswer = "advanced"
		case "search_news_last_24_hours", "search_last_24_hours":
			req.TimeRange = "d"
			req.MaxResults = 10
		case "search_news_last_week", "search_last_week":
			req.TimeRange = "w"
			req.MaxResults = 10
		case "search_images_for_news":
			req.IncludeImages = true
			req.MaxResults = 5
		default:
			req.SearchDepth = "basic"
		}
	}

	return t.doSearch(ctx, req)
}

func (t *TavilySearcher) doSearch(ctx context.Context, req tavilyRequest) ([]research.SearchResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/search", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tavily: unexpected status %d", resp.StatusCode)
	}

	var out tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	results := make([]research.SearchResult, 0, len(out.Results))
	for _, r := range out.Results {
		score := r.Score
		published := r.PublishedDate
		results = append(results, research.SearchResult{
			Title:         r.Title,
			URL:           r.URL,
			Content:       r.Content,
			Score:         &score,
			PublishedDate: &published,
		})
	}
	return results, nil
}
