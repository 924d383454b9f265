package provider

import (
	"context"
	"encoding/json"
	"iter"
	"strconv"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/snowcli/snow/pkg/models"
)

// GeminiProvider speaks Google's Gemini dialect via google.golang.org/genai.
type GeminiProvider struct {
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string       { return "gemini" }
func (p *GeminiProvider) Dialect() Dialect    { return DialectGemini }
func (p *GeminiProvider) SupportsTools() bool { return true }

func (p *GeminiProvider) Models() []ModelInfo {
	return []ModelInfo{
		{ID: "gemini-2.5-pro", ContextWindow: 1_000_000, SupportsVision: true},
		{ID: "gemini-2.5-flash", ContextWindow: 1_000_000, SupportsVision: true},
	}
}

func (p *GeminiProvider) Stream(ctx context.Context, req *Request) (<-chan *models.StreamChunk, error) {
	contents := toGeminiContents(req.Messages)
	config := p.buildConfig(req)

	out := make(chan *models.StreamChunk)
	go func() {
		defer close(out)
		streamIter := p.client.Models.GenerateContentStream(ctx, req.Model, contents, config)
		pumpGemini(ctx, streamIter, out)
	}()
	return out, nil
}

func (p *GeminiProvider) buildConfig(req *Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	for _, t := range req.Tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Schema, &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		config.Tools = append(config.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: schema,
			}},
		})
	}
	if req.EnableReasoning {
		budget := int32(req.ReasoningBudget)
		config.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget}
	}
	return config
}

func toGeminiContents(messages []Message) []*genai.Content {
	var result []*genai.Content
	for _, m := range messages {
		content := &genai.Content{}
		switch {
		case m.ToolCallID != "":
			content.Role = genai.RoleUser
			var resp map[string]any
			if err := json.Unmarshal([]byte(m.Content), &resp); err != nil {
				resp = map[string]any{"result": m.Content}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: m.ToolCallID, Response: resp},
			})
		case m.Role == models.RoleAssistant:
			content.Role = genai.RoleModel
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.ArgumentsJSON, &args)
				content.Parts = append(content.Parts, &genai.Part{FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args}})
			}
		default:
			content.Role = genai.RoleUser
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, img := range m.Images {
				content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MimeType, Data: []byte(img.Data)}})
			}
		}
		result = append(result, content)
	}
	return result
}

func pumpGemini(ctx context.Context, streamIter iter.Seq2[*genai.GenerateContentResponse, error], out chan<- *models.StreamChunk) {
	var usage *models.UsageInfo
	reasoningOpen := false

	for resp, err := range streamIter {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err != nil {
			out <- &models.StreamChunk{Kind: models.ChunkError, Err: err}
			return
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			usage = &models.UsageInfo{
				PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
			}
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Thought && part.Text != "" {
					if !reasoningOpen {
						reasoningOpen = true
						out <- &models.StreamChunk{Kind: models.ChunkReasoningStarted}
					}
					out <- &models.StreamChunk{Kind: models.ChunkReasoningDelta, Delta: part.Text}
					continue
				}
				if reasoningOpen {
					reasoningOpen = false
					out <- &models.StreamChunk{Kind: models.ChunkReasoningData}
				}
				if part.Text != "" {
					out <- &models.StreamChunk{Kind: models.ChunkContent, Delta: part.Text}
				}
				if part.FunctionCall != nil {
					argsJSON, err := json.Marshal(part.FunctionCall.Args)
					if err != nil {
						argsJSON = []byte("{}")
					}
					out <- &models.StreamChunk{Kind: models.ChunkToolCalls, ToolCalls: []models.ToolCall{{
						ID:            generateGeminiToolCallID(part.FunctionCall.Name),
						Name:          part.FunctionCall.Name,
						ArgumentsJSON: argsJSON,
					}}}
				}
			}
		}
	}

	if usage != nil {
		out <- &models.StreamChunk{Kind: models.ChunkUsage, Usage: usage}
	}
	out <- &models.StreamChunk{Kind: models.ChunkDone}
}

var geminiToolCallSeq int64

// generateGeminiToolCallID synthesizes a stable-enough call ID: Gemini's
// function_call parts carry no ID of their own, unlike the other dialects.
func generateGeminiToolCallID(name string) string {
	n := atomic.AddInt64(&geminiToolCallSeq, 1)
	return name + "-call-" + strconv.FormatInt(n, 10)
}
