// Package compress implements the Context Compressor (§4.6): when a
// session nears its context window, its bulk is replaced by a prose
// summary plus a preserved tail, and a new session is created pointing
// back at the old one via CompressedFrom.
package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/snowcli/snow/internal/hook"
	"github.com/snowcli/snow/internal/session"
	"github.com/snowcli/snow/pkg/models"
)

// DefaultThresholdPercent is the auto-compression trigger (§4.4 step 7f):
// once context usage crosses this fraction of the model's context window,
// compression runs before the next round.
const DefaultThresholdPercent = 80

// Summarizer produces a prose summary and a tail-start index over a
// session's message history. In production this is backed by a Provider
// round with a summarization prompt; it is injected here so the
// Compressor itself stays free of any dialect dependency.
type Summarizer func(ctx context.Context, messages []models.Message) (summary string, tailStart int, err error)

// Result reports what Compress did.
type Result struct {
	// CannotCompress is true when history was too short to be worth
	// compressing (§4.6 step 2) — the caller should continue uncompressed.
	CannotCompress bool
	// HookFailed is true when the beforeCompress hook returned exit>=2.
	HookFailed bool
	HookDetails string

	NewSession *models.Session
}

// Compressor implements §4.6's algorithm end to end.
type Compressor struct {
	store      session.Store
	hooks      *hook.Registry
	summarize  Summarizer
}

func New(store session.Store, hooks *hook.Registry, summarize Summarizer) *Compressor {
	return &Compressor{store: store, hooks: hooks, summarize: summarize}
}

// Compress runs the full algorithm: persist, hook-gate, summarize, build
// the synthetic tail message, create+persist+reload the new session, and
// migrate the TODO list. It never mutates sess in place.
func (c *Compressor) Compress(ctx context.Context, sess *models.Session) (*Result, error) {
	// Step 1: save the current session first so the compressor reads a
	// complete record, even if the caller's in-memory copy is ahead.
	if err := c.store.SaveSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("compress: persist current session: %w", err)
	}

	// Step 2: insufficient history (only one turn, no assistant response
	// yet) — nothing worth compressing.
	if !hasAssistantResponse(sess.Messages) {
		return &Result{CannotCompress: true}, nil
	}

	// Step 3: beforeCompress hook.
	if c.hooks != nil {
		outcome, err := c.hooks.RunBeforeCompress(ctx, sess)
		if err != nil {
			return nil, fmt.Errorf("compress: beforeCompress hook: %w", err)
		}
		if outcome.Blocked {
			return &Result{HookFailed: true, HookDetails: outcome.Details}, nil
		}
	}

	// Step 4: summarize.
	summary, tailStart, err := c.summarize(ctx, sess.Messages)
	if err != nil {
		return nil, fmt.Errorf("compress: summarize: %w", err)
	}
	if tailStart < 0 || tailStart > len(sess.Messages) {
		tailStart = len(sess.Messages)
	}

	// Step 5: build the synthetic user message.
	tail := sess.Messages[tailStart:]
	body := summary + "\n\n" + RenderTranscript(tail)

	// Step 6: new session, lineage, TODO migration, persist, reload.
	newSess, err := c.store.CreateSession(ctx, sess.Ephemeral)
	if err != nil {
		return nil, fmt.Errorf("compress: create new session: %w", err)
	}
	now := time.Now()
	newSess.CompressedFrom = sess.ID
	newSess.CompressedAt = &now
	newSess.OriginalMessageIndex = tailStart
	newSess.Todos = append([]models.Todo{}, sess.Todos...)
	newSess.UsefulInfo = append([]models.UsefulInfoItem{}, sess.UsefulInfo...)
	newSess.Messages = []models.Message{{
		ID:        "compressed-" + newSess.ID,
		Role:      models.RoleUser,
		Content:   body,
		Timestamp: now,
	}}
	// ReadFolders is intentionally left empty: the new session starts
	// fresh (§4.6 step 7 / §4.9).

	if err := c.store.SaveSession(ctx, newSess); err != nil {
		return nil, fmt.Errorf("compress: persist new session: %w", err)
	}
	reloaded, err := c.store.LoadSession(ctx, newSess.ID)
	if err != nil {
		return nil, fmt.Errorf("compress: reload new session: %w", err)
	}

	return &Result{NewSession: reloaded}, nil
}

// ShouldCompress reports whether contextPercent has crossed the threshold
// (§4.4 step 7f, §5's "auto-compression always happens at a quiescent
// boundary").
func ShouldCompress(contextPercent int, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultThresholdPercent
	}
	return contextPercent >= threshold
}

// EstimateContextPercent approximates how full the context window is using
// a char-per-token heuristic, avoiding a dependency on any specific
// provider's own tokenizer.
func EstimateContextPercent(messages []models.Message, contextWindow int) int {
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	total := 0
	for _, m := range messages {
		toolCallsJSON := ""
		if len(m.ToolCalls) > 0 {
			b, _ := json.Marshal(m.ToolCalls)
			toolCallsJSON = string(b)
		}
		total += estimateTokens(m.Content, toolCallsJSON)
	}
	pct := total * 100 / contextWindow
	if pct > 100 {
		pct = 100
	}
	return pct
}

func hasAssistantResponse(messages []models.Message) bool {
	for _, m := range messages {
		if m.Role == models.RoleAssistant {
			return true
		}
	}
	return false
}

// RenderTranscript renders a message tail as markdown: tool_calls and tool
// results are inlined as fenced code blocks rather than preserved as
// role:tool messages, avoiding tool_call/tool_result shape violations in
// the new history (§4.6 step 5).
func RenderTranscript(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		switch m.Role {
		case models.RoleTool:
			b.WriteString("**Tool result:**\n```\n")
			b.WriteString(m.Content)
			b.WriteString("\n```\n\n")
		case models.RoleAssistant:
			b.WriteString("**Assistant:** ")
			b.WriteString(m.Content)
			b.WriteString("\n")
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&b, "\n_calls_ `%s`:\n```json\n%s\n```\n", tc.Name, string(tc.ArgumentsJSON))
			}
			b.WriteString("\n")
		case models.RoleUser:
			b.WriteString("**User:** ")
			b.WriteString(m.Content)
			b.WriteString("\n\n")
		}
	}
	return b.String()
}
