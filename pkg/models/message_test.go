package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			require.Equal(t, tt.expected, string(tt.constant))
		})
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:        "msg-123",
		Role:      RoleAssistant,
		Content:   "Hello!",
		Timestamp: now,
		ToolCalls: []ToolCall{{ID: "tc-1", Name: "search", ArgumentsJSON: json.RawMessage(`{"q":"test"}`)}},
		Reasoning: json.RawMessage(`{"blocks":[{"type":"text","text":"thinking..."}]}`),
	}

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	require.Equal(t, original.ID, decoded.ID)
	require.Len(t, decoded.ToolCalls, 1)
	require.Equal(t, original.Reasoning, decoded.Reasoning)
}

func TestMessage_Clone_IsIndependent(t *testing.T) {
	original := &Message{
		ID:        "msg-1",
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "tc-1", Name: "x", ArgumentsJSON: json.RawMessage(`{}`)}},
		Reasoning: json.RawMessage(`{"a":1}`),
	}

	clone := original.Clone()
	clone.ToolCalls[0].Name = "mutated"
	clone.Reasoning[0] = 'X'

	require.Equal(t, "x", original.ToolCalls[0].Name, "mutating clone must not affect original")
	require.NotEqual(t, clone.Reasoning[0], original.Reasoning[0])
}

func TestSession_LastAssistantWithToolCalls(t *testing.T) {
	s := &Session{
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "a"}}},
			{Role: RoleTool, ToolCallID: "a"},
			{Role: RoleAssistant, Content: "done"},
		},
	}
	require.Equal(t, 1, s.LastAssistantWithToolCalls())

	s2 := &Session{Messages: []Message{{Role: RoleUser}}}
	require.Equal(t, -1, s2.LastAssistantWithToolCalls())
}

func TestUsageInfo_Add_Accumulates(t *testing.T) {
	var total UsageInfo
	total.Add(UsageInfo{PromptTokens: 100, CompletionTokens: 20, CachedTokens: 10})
	total.Add(UsageInfo{PromptTokens: 50, CompletionTokens: 5})

	require.Equal(t, 150, total.PromptTokens)
	require.Equal(t, 25, total.CompletionTokens)
	require.Equal(t, 175, total.TotalTokens)
	require.Equal(t, 10, total.CachedTokens)
	require.LessOrEqual(t, total.CachedTokens, total.PromptTokens)
}

func TestStreamChunk_IsBusinessChunk(t *testing.T) {
	require.True(t, (&StreamChunk{Kind: ChunkContent}).IsBusinessChunk())
	require.True(t, (&StreamChunk{Kind: ChunkToolCallDelta}).IsBusinessChunk())
	require.False(t, (&StreamChunk{Kind: ChunkDone}).IsBusinessChunk())
	require.False(t, (&StreamChunk{Kind: ChunkUsage}).IsBusinessChunk())
}
