package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/snowcli/snow/pkg/models"
)

// AnthropicProvider speaks the Anthropic Messages API dialect.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds a provider using apiKey, or the
// ANTHROPIC_API_KEY environment variable if apiKey is empty.
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Name() string     { return "anthropic" }
func (p *AnthropicProvider) Dialect() Dialect  { return DialectAnthropic }
func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "claude-opus-4-6-20260301", ContextWindow: 200_000, SupportsVision: true},
		{ID: "claude-sonnet-4-6-20260301", ContextWindow: 200_000, SupportsVision: true},
	}
}

// Stream issues one attempt per call to the outer retry wrapper; it is
// itself the Generator passed to StreamWithRetry by the caller (the
// Conversation Orchestrator), not a retrying stream on its own.
func (p *AnthropicProvider) Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error) {
	params := p.buildParams(req)

	out := make(chan *models.StreamChunk)
	go func() {
		defer close(out)
		stream := p.client.Messages.NewStreaming(ctx, params)
		p.pump(stream, out)
	}()
	return out, nil
}

func (p *AnthropicProvider) buildParams(req *Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxOr(req.MaxTokens, 4096)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, toAnthropicMessage(m))
	}
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(t.Schema, &schema)
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	if req.EnableReasoning {
		budget := req.ReasoningBudget
		if budget <= 0 {
			budget = 4096
		}
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: int64(budget)},
		}
	}
	return params
}

func toAnthropicMessage(m Message) anthropic.MessageParam {
	role := anthropic.MessageParamRoleUser
	if m.Role == models.RoleAssistant {
		role = anthropic.MessageParamRoleAssistant
	}
	var blocks []anthropic.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	for _, img := range m.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(img.MimeType, img.Data))
	}
	for _, tc := range m.ToolCalls {
		var input any
		_ = json.Unmarshal(tc.ArgumentsJSON, &input)
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
	}
	if m.ToolCallID != "" {
		blocks = append(blocks, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
	}
	return anthropic.MessageParam{Role: role, Content: blocks}
}

// anthropicStream is the subset of *ssestream.Stream[anthropic.MessageStreamEventUnion]
// this adapter needs, so pump can be unit-tested against a fake.
type anthropicStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

func (p *AnthropicProvider) pump(stream anthropicStream, out chan<- *models.StreamChunk) {
	var toolIdx int
	var calls []models.ToolCall
	var inputTokens, outputTokens int
	inThinking := false

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			inputTokens = int(ms.Message.Usage.InputTokens)

		case "content_block_start":
			cb := event.AsContentBlockStart().ContentBlock
			switch cb.Type {
			case "thinking":
				inThinking = true
				out <- &models.StreamChunk{Kind: models.ChunkReasoningStarted}
			case "tool_use":
				tu := cb.AsToolUse()
				calls = append(calls, models.ToolCall{ID: tu.ID, Name: tu.Name})
				out <- &models.StreamChunk{Kind: models.ChunkToolCallDelta, ToolCallDelta: &models.ToolCallDelta{Index: toolIdx, ID: tu.ID, Name: tu.Name}}
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					out <- &models.StreamChunk{Kind: models.ChunkContent, Delta: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					out <- &models.StreamChunk{Kind: models.ChunkReasoningDelta, Delta: delta.Thinking}
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					if n := len(calls); n > 0 {
						calls[n-1].ArgumentsJSON = append(calls[n-1].ArgumentsJSON, delta.PartialJSON...)
					}
					out <- &models.StreamChunk{Kind: models.ChunkToolCallDelta, ToolCallDelta: &models.ToolCallDelta{Index: toolIdx, ArgsDelta: delta.PartialJSON}}
				}
			}

		case "content_block_stop":
			if inThinking {
				inThinking = false
				out <- &models.StreamChunk{Kind: models.ChunkReasoningData}
			} else {
				toolIdx++
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				outputTokens = int(md.Usage.OutputTokens)
			}

		case "message_stop":
			if len(calls) > 0 {
				for i := range calls {
					if len(calls[i].ArgumentsJSON) == 0 {
						calls[i].ArgumentsJSON = json.RawMessage(`{}`)
					}
				}
				out <- &models.StreamChunk{Kind: models.ChunkToolCalls, ToolCalls: calls}
			}
			out <- &models.StreamChunk{Kind: models.ChunkUsage, Usage: &models.UsageInfo{PromptTokens: inputTokens, CompletionTokens: outputTokens}}
			out <- &models.StreamChunk{Kind: models.ChunkDone}
			return

		case "error":
			out <- &models.StreamChunk{Kind: models.ChunkError, Err: fmt.Errorf("[API_ERROR] [RETRIABLE] anthropic stream error")}
			return
		}
	}
	if err := stream.Err(); err != nil {
		out <- &models.StreamChunk{Kind: models.ChunkError, Err: err}
	}
}

func maxOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
