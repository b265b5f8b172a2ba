// Package llm implements the LLM Gateway (spec.md §4.2): a single
// Complete(system, user, role) capability with streaming concatenation,
// markdown/preamble stripping, and JSON repair. The concrete HTTP
// transport (Completer) is an implementation detail behind this
// boundary — callers never see it, matching spec.md §1's treatment of LLM
// clients as an external capability.
package llm

import "context"

// StreamDelta is one chunk of a streamed completion.
type StreamDelta struct {
	Text string
}

// Completer is the narrow capability boundary for a single underlying LLM
// HTTP client. Implementations stream raw token deltas; the Gateway owns
// all post-processing (fence stripping, preamble removal, JSON repair).
type Completer interface {
	// Stream sends system/user prompts to model and invokes onDelta for
	// each streamed chunk, in order. It returns once the stream ends or
	// ctx is cancelled.
	Stream(ctx context.Context, model, systemPrompt, userPrompt string, onDelta func(StreamDelta)) error
}

// Endpoint is the per-role routing configuration resolved from config.Role.
type Endpoint struct {
	APIKey  string
	BaseURL string
	Model   string
}
