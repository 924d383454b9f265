// Package provider implements the Streaming Provider Client (§4.1): a
// single models.StreamChunk event model fed by four wire dialects
// (Anthropic, OpenAI chat-completions, OpenAI responses, Gemini), with a
// shared idle-timeout guard and a retry wrapper around the raw generator.
package provider

import (
	"context"

	"github.com/snowcli/snow/pkg/models"
)

// Dialect names the wire format a Provider speaks.
type Dialect string

const (
	DialectAnthropic       Dialect = "anthropic"
	DialectChatCompletions Dialect = "chat_completions"
	DialectResponses       Dialect = "responses"
	DialectGemini          Dialect = "gemini"
)

// Message is the dialect-neutral shape a Provider converts to and from its
// wire format. It mirrors pkg/models.Message closely enough that callers
// build it directly from session history after orphan repair (§4.3).
type Message struct {
	Role       models.Role
	Content    string
	ToolCalls  []models.ToolCall
	ToolCallID string
	Images     []models.Image
}

// ToolSpec is a tool's name/description/schema as advertised to the model.
// Schema is expected to already be closed (additionalProperties:false) by
// invopop/jsonschema so every dialect's strict mode accepts it unmodified.
type ToolSpec struct {
	Name        string
	Description string
	Schema      []byte
}

// Request is a single completion request, dialect-neutral.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int

	// EnableReasoning turns on extended/reasoning mode where the dialect
	// supports it (Claude extended thinking, OpenAI reasoning models,
	// Gemini thinking).
	EnableReasoning  bool
	ReasoningBudget  int
	// CacheKey is carried on the request only: none of the dialect adapters
	// in this package read it, so it is not sent to any provider, and the
	// orchestrator leaves it empty.
	CacheKey string
}

// Provider streams a single completion as models.StreamChunk events, in
// the ordering §4.1 requires: reasoning chunks before content/tool-call
// deltas, all deltas for a tool call before its terminating entry in the
// final ToolCalls chunk, Usage chunks may arrive before or after Done, and
// Done is always last.
type Provider interface {
	Name() string
	Dialect() Dialect
	Models() []ModelInfo
	SupportsTools() bool
	Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error)
}

// ModelInfo describes one selectable model.
type ModelInfo struct {
	ID             string
	ContextWindow  int
	SupportsVision bool
}
