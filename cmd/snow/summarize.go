package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/snowcli/snow/internal/compress"
	"github.com/snowcli/snow/internal/config"
	"github.com/snowcli/snow/internal/provider"
	"github.com/snowcli/snow/internal/tool"
	"github.com/snowcli/snow/pkg/models"
)

// summarizationTailFraction keeps the newest slice of messages verbatim
// (§4.6 step 2: "a preserved tail") instead of summarizing the whole
// history; only the older portion is asked to be condensed.
const summarizationTailFraction = 4

// buildSummarizer returns a compress.Summarizer backed by the basic model,
// matching §4.6's "a Provider round with a summarization prompt" design:
// it resolves cfg.BasicModel against the provider registry, asks for a
// prose summary of the head of the history, and reports where the
// preserved tail begins.
func buildSummarizer(providers *provider.Registry, cfg config.Config) compress.Summarizer {
	return func(ctx context.Context, messages []models.Message) (string, int, error) {
		if len(messages) < 2 {
			return "", 0, fmt.Errorf("snow: too few messages to summarize")
		}
		tailStart := len(messages) - len(messages)/summarizationTailFraction
		if tailStart <= 0 {
			tailStart = len(messages) - 1
		}

		prov, err := providers.Resolve(cfg.BasicModel)
		if err != nil {
			return "", 0, err
		}

		var transcript strings.Builder
		for _, m := range messages[:tailStart] {
			fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
		}

		req := &provider.Request{
			Model: cfg.BasicModel,
			System: "Summarize the conversation below in a few dense paragraphs, " +
				"preserving file paths, decisions, and open tasks. Output prose only.",
			Messages:  []provider.Message{{Role: models.RoleUser, Content: transcript.String()}},
			MaxTokens: 2048,
		}

		var summary strings.Builder
		gen := func(ctx context.Context) (<-chan *models.StreamChunk, error) {
			return prov.Stream(ctx, req)
		}
		for chunk := range provider.StreamWithRetry(ctx, gen, 0) {
			switch chunk.Kind {
			case models.ChunkContent:
				summary.WriteString(chunk.Delta)
			case models.ChunkError:
				if chunk.Err != nil {
					return "", 0, chunk.Err
				}
			}
		}
		if summary.Len() == 0 {
			return "", 0, fmt.Errorf("snow: summarizer produced empty output")
		}
		return summary.String(), tailStart, nil
	}
}

// buildPromptRunner returns a hook.PromptRunner backed by the basic model,
// used for kind=prompt HOOK.md bundles (§4.8).
func buildPromptRunner(providers *provider.Registry, cfg config.Config) func(ctx context.Context, prompt string, sess *models.Session) (string, error) {
	return func(ctx context.Context, prompt string, sess *models.Session) (string, error) {
		prov, err := providers.Resolve(cfg.BasicModel)
		if err != nil {
			return "", err
		}
		req := &provider.Request{
			Model:     cfg.BasicModel,
			Messages:  []provider.Message{{Role: models.RoleUser, Content: prompt}},
			MaxTokens: 1024,
		}
		var reply strings.Builder
		gen := func(ctx context.Context) (<-chan *models.StreamChunk, error) {
			return prov.Stream(ctx, req)
		}
		for chunk := range provider.StreamWithRetry(ctx, gen, 0) {
			if chunk.Kind == models.ChunkContent {
				reply.WriteString(chunk.Delta)
			}
		}
		return reply.String(), nil
	}
}

// buildConfirmer returns a tool.Confirmer that prompts on stdin/stderr for
// the interactive REPL: each call needing confirmation is listed, then one
// line of input decides approve/always/reject/reject-with-reply for the
// whole batch (§4.2, P7: "exactly one confirmation prompt").
func buildConfirmer() tool.Confirmer {
	reader := bufio.NewReader(os.Stdin)
	return func(ctx context.Context, calls []models.ToolCall) ([]tool.ConfirmResponse, string) {
		fmt.Fprintln(os.Stderr, "\nThe assistant wants to run:")
		for _, c := range calls {
			fmt.Fprintf(os.Stderr, "  - %s %s\n", c.Name, string(c.ArgumentsJSON))
		}
		fmt.Fprint(os.Stderr, "Approve? [y]es / [a]lways / [n]o / [r]eply: ")
		line, _ := reader.ReadString('\n')
		line = strings.TrimSpace(strings.ToLower(line))

		var resp tool.ConfirmResponse
		var replyText string
		switch line {
		case "a", "always":
			resp = tool.ResponseApproveAlways
		case "n", "no", "":
			resp = tool.ResponseReject
		case "r", "reply":
			resp = tool.ResponseRejectWithReply
			fmt.Fprint(os.Stderr, "Reply to send instead: ")
			replyText, _ = reader.ReadString('\n')
			replyText = strings.TrimSpace(replyText)
		default:
			resp = tool.ResponseApprove
		}

		responses := make([]tool.ConfirmResponse, len(calls))
		for i := range responses {
			responses[i] = resp
		}
		return responses, replyText
	}
}
