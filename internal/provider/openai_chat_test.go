package provider

import (
	"io"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/pkg/models"
)

type fakeChatStream struct {
	responses []openai.ChatCompletionStreamResponse
	idx       int
}

func (f *fakeChatStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if f.idx >= len(f.responses) {
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	r := f.responses[f.idx]
	f.idx++
	return r, nil
}

func textChunk(s string) openai.ChatCompletionStreamResponse {
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: s}}},
	}
}

func TestPumpChatCompletions_ForwardsTextDeltas(t *testing.T) {
	stream := &fakeChatStream{responses: []openai.ChatCompletionStreamResponse{textChunk("hel"), textChunk("lo")}}
	out := make(chan *models.StreamChunk, 10)

	pumpChatCompletions(stream, out)
	close(out)

	var got []*models.StreamChunk
	for c := range out {
		got = append(got, c)
	}
	require.Len(t, got, 3)
	require.Equal(t, "hel", got[0].Delta)
	require.Equal(t, "lo", got[1].Delta)
	require.Equal(t, models.ChunkDone, got[2].Kind)
}

func TestPumpChatCompletions_AccumulatesToolCallDeltasThenFlushesOnFinish(t *testing.T) {
	idx0 := 0
	stream := &fakeChatStream{responses: []openai.ChatCompletionStreamResponse{
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &idx0, ID: "call_1", Function: openai.FunctionCall{Name: "search"}}},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{
			ToolCalls: []openai.ToolCall{{Index: &idx0, Function: openai.FunctionCall{Arguments: `{"q":"x"}`}}},
		}}}},
		{Choices: []openai.ChatCompletionStreamChoice{{FinishReason: openai.FinishReasonToolCalls}}},
	}}
	out := make(chan *models.StreamChunk, 10)

	pumpChatCompletions(stream, out)
	close(out)

	var deltas int
	var calls []*models.StreamChunk
	for c := range out {
		switch c.Kind {
		case models.ChunkToolCallDelta:
			deltas++
		case models.ChunkToolCalls:
			calls = append(calls, c)
		}
	}
	require.Equal(t, 2, deltas, "every delta must be emitted before the terminal ToolCalls chunk")
	require.Len(t, calls, 1)
	require.Len(t, calls[0].ToolCalls, 1)
	require.Equal(t, "search", calls[0].ToolCalls[0].Name)
	require.JSONEq(t, `{"q":"x"}`, string(calls[0].ToolCalls[0].ArgumentsJSON))
}
