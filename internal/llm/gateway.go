package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"pulseforum/internal/config"
	"pulseforum/internal/retry"
)

// Gateway is the C2 LLM Gateway: Complete(system, user, role) with
// streaming, post-processing, and JSON repair, wrapped in the LLM retry
// profile (strict — §4.2.4).
type Gateway struct {
	completers map[config.Role]Completer
	endpoints  map[config.Role]Endpoint
	retry      retry.Config
}

// NewGateway builds a Gateway from resolved per-role endpoints, defaulting
// to an OpenAI-compatible Completer per role (§4.2.1 "Selects endpoint and
// model by role").
func NewGateway(cfg config.Config) *Gateway {
	g := &Gateway{
		completers: make(map[config.Role]Completer),
		endpoints:  make(map[config.Role]Endpoint),
		retry:      retry.LLMProfile,
	}
	for role, ep := range cfg.Roles {
		endpoint := Endpoint{APIKey: ep.APIKey, BaseURL: ep.BaseURL, Model: ep.ModelName}
		g.endpoints[role] = endpoint
		g.completers[role] = NewOpenAICompleter(endpoint)
	}
	return g
}

// WithCompleter overrides the Completer for a role — used by tests and by
// callers that want a non-OpenAI-compatible backend for one role.
func (g *Gateway) WithCompleter(role config.Role, c Completer) *Gateway {
	g.completers[role] = c
	return g
}

// Complete streams a completion for (systemPrompt, userPrompt) under role,
// concatenating deltas safely across UTF-8 rune boundaries, then strips
// markdown fences and (when expectJSON) any reasoning preamble.
func (g *Gateway) Complete(ctx context.Context, systemPrompt, userPrompt string, role config.Role, expectJSON bool) (string, error) {
	completer, ok := g.completers[role]
	if !ok {
		return "", fmt.Errorf("llm: no endpoint configured for role %s", role)
	}
	endpoint := g.endpoints[role]

	text, err := retryStream(ctx, g.retry, completer, endpoint.Model, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}

	text = stripFences(text)
	if expectJSON {
		text = stripPreamble(text)
	}
	return text, nil
}

// retryStream wraps one streaming call in the strict retry envelope,
// accumulating only complete UTF-8 runes as deltas arrive.
func retryStream(ctx context.Context, cfg retry.Config, completer Completer, model, systemPrompt, userPrompt string) (string, error) {
	var out string
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		var pending []byte
		var complete []byte
		streamErr := completer.Stream(ctx, model, systemPrompt, userPrompt, func(d StreamDelta) {
			pending = append(pending, d.Text...)
			// Flush only the longest valid-UTF8 prefix; hold back any
			// trailing partial rune for the next delta (§4.2.2).
			n := len(pending)
			for n > 0 && !utf8.Valid(pending[:n]) {
				n--
			}
			complete = append(complete, pending[:n]...)
			pending = pending[n:]
		})
		if streamErr != nil {
			out = ""
			return streamErr
		}
		complete = append(complete, pending...)
		out = string(complete)
		return nil
	})
	return out, err
}

// CompleteJSON completes under role expecting a JSON object/array matching
// v's shape, running the repair pass on failure. It returns an error if,
// after repair, the output still does not parse — callers (state-machine
// nodes) are contractually required to turn that into a documented
// default rather than surface it as an infrastructure error (§4.2 "Contract
// for structured calls").
func (g *Gateway) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, role config.Role, v any) error {
	text, err := g.Complete(ctx, systemPrompt, userPrompt, role, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return nil
	}
	repaired, ok := Repair(text)
	if !ok {
		return fmt.Errorf("llm: output is not valid JSON after repair")
	}
	return json.Unmarshal([]byte(repaired), v)
}
