// Package llm defines the Provider interface for the language-model backend
// that generates tutor replies and learner feedback.
//
// Verbly's dialogue is strictly turn-based — one request per learner
// utterance, one complete reply back — so the contract is a single blocking
// Complete call rather than a token stream. Implementations must be safe for
// concurrent use and must propagate context cancellation promptly.
package llm

import "context"

// Message is a single entry in the conversation history sent to the model.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (the tutor character's name on
	// assistant messages, for multi-character prompts).
	Name string
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected ahead of the
	// conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history; the final message is the
	// learner's utterance.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the complete text of the reply.
	Content string

	// PromptTokens and CompletionTokens hold token accounting when the
	// backend reports it; zero otherwise.
	PromptTokens     int
	CompletionTokens int
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply.
	// Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
