package models

import "encoding/json"

// ChunkKind discriminates the uniform StreamChunk event emitted by every
// provider dialect.
type ChunkKind string

const (
	ChunkContent          ChunkKind = "content"
	ChunkToolCallDelta    ChunkKind = "tool_call_delta"
	ChunkToolCalls        ChunkKind = "tool_calls"
	ChunkReasoningStarted ChunkKind = "reasoning_started"
	ChunkReasoningDelta   ChunkKind = "reasoning_delta"
	ChunkReasoningData    ChunkKind = "reasoning_data"
	ChunkThinking         ChunkKind = "thinking"
	ChunkDone             ChunkKind = "done"
	ChunkUsage            ChunkKind = "usage"
	ChunkError            ChunkKind = "error"
)

// ToolCallDelta is a partial tool-call fragment, indexed by its position in
// the assistant's tool_calls array so fragments from different calls
// interleaved on the wire can be reassembled.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"argsDelta,omitempty"`
}

// StreamChunk is the internal, dialect-independent unit yielded by the
// Streaming Provider Client. Exactly one of the optional fields is
// meaningful for a given Kind.
type StreamChunk struct {
	Kind ChunkKind `json:"kind"`

	Content string          `json:"content,omitempty"`
	Delta   string          `json:"delta,omitempty"`
	Reasoning json.RawMessage `json:"reasoning,omitempty"`

	ToolCallDelta *ToolCallDelta `json:"toolCallDelta,omitempty"`
	ToolCalls     []ToolCall     `json:"toolCalls,omitempty"`

	Usage *UsageInfo `json:"usage,omitempty"`
	Err   error      `json:"-"`
}

// UsageInfo is accumulated across all rounds of one user turn.
type UsageInfo struct {
	PromptTokens             int `json:"prompt_tokens"`
	CompletionTokens         int `json:"completion_tokens"`
	TotalTokens              int `json:"total_tokens"`
	CachedTokens             int `json:"cached_tokens,omitempty"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Add accumulates one round's usage into the running total, per P3: total
// equals the sum over rounds of prompt+completion.
func (u *UsageInfo) Add(round UsageInfo) {
	u.PromptTokens += round.PromptTokens
	u.CompletionTokens += round.CompletionTokens
	u.TotalTokens += round.PromptTokens + round.CompletionTokens
	u.CachedTokens += round.CachedTokens
	u.CacheCreationInputTokens += round.CacheCreationInputTokens
	u.CacheReadInputTokens += round.CacheReadInputTokens
}

// IsBusinessChunk reports whether this chunk carries content, reasoning or
// tool-call delta data — the only chunk kinds that reset the idle-timeout
// guard. Keep-alive comments never reach this type, so this is really about
// excluding bookkeeping kinds (usage, done) from resetting the clock.
func (c *StreamChunk) IsBusinessChunk() bool {
	switch c.Kind {
	case ChunkContent, ChunkToolCallDelta, ChunkReasoningStarted, ChunkReasoningDelta, ChunkReasoningData, ChunkThinking:
		return true
	default:
		return false
	}
}
