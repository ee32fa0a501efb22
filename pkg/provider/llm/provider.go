// Package llm defines the Provider interface for text-generation backends.
//
// An LLM provider wraps a remote or local model API (Gemini, OpenAI, or any
// backend reachable through any-llm-go) and exposes a uniform request/response
// contract. The application uses it for two things: conversational replies in
// the text chat, and schema-constrained JSON output for the structured
// analysis pass.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Conversation roles understood by every provider. Providers translate them
// into their native vocabulary (e.g. Gemini's "model").
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation history.
type Message struct {
	// Role is RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is
	// typically from the user and drives the response.
	Messages []Message

	// SystemPrompt is an optional high-priority instruction. Providers without
	// a dedicated system field prepend it as a system message.
	SystemPrompt string

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the number of generated tokens. Zero means provider
	// default.
	MaxTokens int

	// ResponseSchema, when set, asks the model for a single JSON document
	// matching the schema. Providers without native structured output embed
	// the schema in the system prompt instead.
	ResponseSchema *jsonschema.Schema

	// SchemaName names the schema for providers that require one.
	SchemaName string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the reply. For schema-constrained requests
	// it holds the JSON document.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
//
// Complete must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// SchemaInstruction renders schema as a prompt suffix for providers that
// cannot enforce structured output natively.
func SchemaInstruction(schema *jsonschema.Schema) (string, error) {
	b, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("llm: marshal response schema: %w", err)
	}
	return "Respond with a single JSON document, without markdown fences, that validates against this JSON Schema:\n" + string(b), nil
}
