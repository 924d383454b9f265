package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/snowcli/snow/pkg/models"
)

// ChatCompletionsProvider speaks OpenAI's Chat Completions dialect (also
// used by most OpenAI-compatible third-party endpoints).
type ChatCompletionsProvider struct {
	client *openai.Client
}

// NewChatCompletionsProvider builds a provider against the public OpenAI
// endpoint. Use NewChatCompletionsProviderWithConfig for compatible
// third-party endpoints (custom base URL).
func NewChatCompletionsProvider(apiKey string) *ChatCompletionsProvider {
	return &ChatCompletionsProvider{client: openai.NewClient(apiKey)}
}

// NewChatCompletionsProviderWithConfig builds a provider against a custom
// base URL, for OpenAI-compatible gateways.
func NewChatCompletionsProviderWithConfig(apiKey, baseURL string) *ChatCompletionsProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatCompletionsProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *ChatCompletionsProvider) Name() string       { return "openai" }
func (p *ChatCompletionsProvider) Dialect() Dialect    { return DialectChatCompletions }
func (p *ChatCompletionsProvider) SupportsTools() bool { return true }

func (p *ChatCompletionsProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-4o", ContextWindow: 128_000, SupportsVision: true},
		{ID: "gpt-4o-mini", ContextWindow: 128_000, SupportsVision: true},
		{ID: "gpt-4-turbo", ContextWindow: 128_000, SupportsVision: true},
	}
}

func (p *ChatCompletionsProvider) Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error) {
	chatReq := p.buildRequest(req)

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, err
	}

	out := make(chan *models.StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		pumpChatCompletions(stream, out)
	}()
	return out, nil
}

func (p *ChatCompletionsProvider) buildRequest(req *Request) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Stream:   true,
		Messages: toOpenAIMessages(req),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	for _, t := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return chatReq
}

func toOpenAIMessages(req *Request) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		if m.ToolCallID != "" {
			result = append(result, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
			continue
		}
		oaiMsg := openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
		if len(m.Images) > 0 {
			parts := []openai.ChatMessagePart{}
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
			}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: "data:" + img.MimeType + ";base64," + img.Data, Detail: openai.ImageURLDetailAuto},
				})
			}
			oaiMsg.Content = ""
			oaiMsg.MultiContent = parts
		}
		for _, tc := range m.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.ArgumentsJSON),
				},
			})
		}
		result = append(result, oaiMsg)
	}
	return result
}

type chatCompletionsStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
}

// pumpChatCompletions accumulates per-index tool call deltas and flushes
// them into a single ChunkToolCalls chunk once the stream signals
// finish_reason "tool_calls" or closes, matching the contract that all
// deltas for a call precede its entry in the terminal chunk.
func pumpChatCompletions(stream chatCompletionsStream, out chan<- *models.StreamChunk) {
	type building struct {
		id, name, args string
	}
	calls := map[int]*building{}
	order := []int{}
	var usage *models.UsageInfo

	flush := func() {
		if len(order) == 0 {
			return
		}
		result := make([]models.ToolCall, 0, len(order))
		for _, idx := range order {
			b := calls[idx]
			if b.id == "" || b.name == "" {
				continue
			}
			result = append(result, models.ToolCall{ID: b.id, Name: b.name, ArgumentsJSON: json.RawMessage(b.args)})
		}
		if len(result) > 0 {
			out <- &models.StreamChunk{Kind: models.ChunkToolCalls, ToolCalls: result}
		}
		calls = map[int]*building{}
		order = nil
	}

	for {
		resp, err := stream.Recv()
		if err != nil {
			flush()
			if usage != nil {
				out <- &models.StreamChunk{Kind: models.ChunkUsage, Usage: usage}
			}
			if errors.Is(err, io.EOF) {
				out <- &models.StreamChunk{Kind: models.ChunkDone}
				return
			}
			out <- &models.StreamChunk{Kind: models.ChunkError, Err: err}
			return
		}

		if resp.Usage != nil {
			usage = &models.UsageInfo{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		delta := choice.Delta

		if delta.Content != "" {
			out <- &models.StreamChunk{Kind: models.ChunkContent, Delta: delta.Content}
		}

		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			b, ok := calls[idx]
			if !ok {
				b = &building{}
				calls[idx] = b
				order = append(order, idx)
			}
			deltaChunk := &models.ToolCallDelta{Index: idx}
			if tc.ID != "" {
				b.id = tc.ID
				deltaChunk.ID = tc.ID
			}
			if tc.Function.Name != "" {
				b.name = tc.Function.Name
				deltaChunk.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				b.args += tc.Function.Arguments
				deltaChunk.ArgsDelta = tc.Function.Arguments
			}
			out <- &models.StreamChunk{Kind: models.ChunkToolCallDelta, ToolCallDelta: deltaChunk}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}
