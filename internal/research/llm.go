package research

import (
	"context"

	"pulseforum/internal/config"
)

// LLM is the narrow surface the state machine nodes need from the LLM
// Gateway (§4.2). Accepting the interface here, rather than a concrete
// *llm.Gateway, follows spec.md §9's "accept interfaces" guidance and lets
// node tests substitute a fake.
type LLM interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, role config.Role, expectJSON bool) (string, error)
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string, role config.Role, v any) error
}

// roleForEngine maps a research Engine onto its LLM Gateway role (§6).
func roleForEngine(e Engine) config.Role {
	switch e {
	case EngineQuery:
		return config.RoleQueryEngine
	case EngineMedia:
		return config.RoleMediaEngine
	case EngineInsight:
		return config.RoleInsightEngine
	default:
		return config.RoleQueryEngine
	}
}
