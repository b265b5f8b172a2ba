package tailer

import (
	"encoding/json"

	"pulseforum/internal/llm"
)

// extractContent parses payload as a JSON object and returns the field
// content to publish (§4.6 "prefer updated_paragraph_latest_state, else
// paragraph_latest_state, else pretty-print the object").
func extractContent(payload string) (string, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return "", false
	}
	if v, ok := obj["updated_paragraph_latest_state"].(string); ok && v != "" {
		return v, true
	}
	if v, ok := obj["paragraph_latest_state"].(string); ok && v != "" {
		return v, true
	}
	return llm.PrettyPrint(payload), true
}
