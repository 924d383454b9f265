// Package orchestrator implements the Conversation Orchestrator (§4.4): the
// public processUserTurn operation that drives the LLM round loop, routes
// stream chunks, gates tool calls on confirmation, runs auto-compression,
// and accumulates usage across a turn. It wires together session, tool,
// provider, compress, hook, and folder, none of which import this package.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/snowcli/snow/internal/compress"
	"github.com/snowcli/snow/internal/folder"
	"github.com/snowcli/snow/internal/hook"
	"github.com/snowcli/snow/internal/metrics"
	"github.com/snowcli/snow/internal/provider"
	"github.com/snowcli/snow/internal/session"
	"github.com/snowcli/snow/internal/snapshot"
	"github.com/snowcli/snow/internal/telemetry"
	"github.com/snowcli/snow/internal/tool"
	"github.com/snowcli/snow/pkg/models"
)

// Config bounds one Orchestrator's behavior.
type Config struct {
	BasicModel    string
	AdvancedModel string
	System        string

	// ContextWindow sizes the compression threshold check (§4.4 step 7f).
	ContextWindow     int
	CompressThreshold int

	// MaxRounds bounds a single turn's LLM round-trips; reaching it without
	// a final content-only round is treated as a turn failure rather than
	// looping forever on a model that never stops calling tools.
	MaxRounds int
	// MaxEmptyRetries bounds how many times a round that produced neither
	// content nor tool_calls (§4.4 step 5) may be retried before the turn
	// gives up.
	MaxEmptyRetries int

	MaxTokens int
}

func sanitize(cfg Config) Config {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 50
	}
	if cfg.MaxEmptyRetries <= 0 {
		cfg.MaxEmptyRetries = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	return cfg
}

// Orchestrator implements processUserTurn.
type Orchestrator struct {
	sessions   *session.CurrentSessionHolder
	store      session.Store
	providers  *provider.Registry
	tools      *tool.Registry
	dispatcher *tool.Dispatcher
	compressor *compress.Compressor
	hooks      *hook.Registry
	notebook   *folder.Preprocessor
	notebookSt *folder.Store
	snapshots  *snapshot.Store
	confirm    tool.Confirmer
	metrics    *metrics.Metrics
	tracer     *telemetry.Tracer

	cfg Config
}

// SetMetrics attaches a Prometheus collector; nil is a valid no-op value
// (the zero Orchestrator records nothing).
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) { o.metrics = m }

// SetTracer attaches an OpenTelemetry tracer; nil disables span creation.
func (o *Orchestrator) SetTracer(t *telemetry.Tracer) { o.tracer = t }

// New wires an Orchestrator. snapshots and notebook may be nil (snapshotting
// and folder-notebook rendering are both optional features).
func New(
	sessions *session.CurrentSessionHolder,
	store session.Store,
	providers *provider.Registry,
	tools *tool.Registry,
	dispatcher *tool.Dispatcher,
	compressor *compress.Compressor,
	hooks *hook.Registry,
	notebook *folder.Preprocessor,
	notebookSt *folder.Store,
	snapshots *snapshot.Store,
	confirm tool.Confirmer,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		sessions: sessions, store: store, providers: providers, tools: tools,
		dispatcher: dispatcher, compressor: compressor, hooks: hooks,
		notebook: notebook, notebookSt: notebookSt, snapshots: snapshots,
		confirm: confirm, cfg: sanitize(cfg),
	}
}

// ProcessUserTurn implements §4.4's processUserTurn(userText, images,
// signal) → UsageInfo. ctx carries the external cancellation signal.
func (o *Orchestrator) ProcessUserTurn(ctx context.Context, userText string, images []models.Image, useBasicModel bool) (*models.UsageInfo, error) {
	if strings.TrimSpace(userText) == "" && len(images) == 0 {
		return nil, fmt.Errorf("orchestrator: userText and images cannot both be empty")
	}

	sess, err := o.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartTurn(ctx, sess.ID)
		defer span.End()
	}

	// Step 1: persist the user message exactly once, before any retry loop.
	userMsg := models.Message{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   userText,
		Images:    images,
		Timestamp: time.Now(),
	}
	if err := o.store.SaveMessage(ctx, sess.ID, &userMsg); err != nil {
		return nil, fmt.Errorf("orchestrator: persist user message: %w", err)
	}
	sess.Messages = append(sess.Messages, userMsg)

	usage := &models.UsageInfo{}
	emptyRetries := 0

	for round := 0; round < o.cfg.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return usage, err
		}

		req, err := o.buildRequest(sess, useBasicModel)
		if err != nil {
			return usage, err
		}

		prov, err := o.providers.Resolve(req.Model)
		if err != nil {
			return usage, err
		}

		content, toolCalls, reasoning, roundUsage, err := o.streamRound(ctx, prov, req)
		if err != nil {
			return usage, err
		}
		usage.Add(roundUsage)

		// Step 5: empty-response guard.
		if content == "" && len(toolCalls) == 0 {
			emptyRetries++
			o.metrics.ObserveRound("empty_retry")
			if emptyRetries > o.cfg.MaxEmptyRetries {
				return usage, fmt.Errorf("orchestrator: empty response after %d retries", o.cfg.MaxEmptyRetries)
			}
			continue
		}
		emptyRetries = 0

		// Step 6: no tool_calls path.
		if len(toolCalls) == 0 {
			o.metrics.ObserveRound("content")
			assistantMsg := models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleAssistant,
				Content:   content,
				Reasoning: reasoning,
				Timestamp: time.Now(),
			}
			if err := o.store.SaveMessage(ctx, sess.ID, &assistantMsg); err != nil {
				return usage, fmt.Errorf("orchestrator: persist assistant message: %w", err)
			}
			sess.Messages = append(sess.Messages, assistantMsg)

			decision, err := o.runOnStop(ctx, sess)
			if err != nil {
				return usage, err
			}
			if decision == nil || !decision.Continue {
				if decision != nil && decision.InjectText != "" {
					o.appendSystemNote(ctx, sess, decision.InjectAs, decision.InjectText)
				}
				return usage, nil
			}
			followUp := models.Message{ID: uuid.NewString(), Role: decision.InjectAs, Content: decision.InjectText, Timestamp: time.Now()}
			if err := o.store.SaveMessage(ctx, sess.ID, &followUp); err != nil {
				return usage, fmt.Errorf("orchestrator: persist onStop follow-up: %w", err)
			}
			sess.Messages = append(sess.Messages, followUp)
			continue
		}

		o.metrics.ObserveRound("tool_calls")

		// Step 7a: append + persist the assistant message with tool_calls
		// and reasoning before anything else, so a future compression keeps
		// this turn's tool_calls context.
		assistantMsg := models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
			Reasoning: reasoning,
			Timestamp: time.Now(),
		}
		if err := o.store.SaveMessage(ctx, sess.ID, &assistantMsg); err != nil {
			return usage, fmt.Errorf("orchestrator: persist assistant message: %w", err)
		}
		sess.Messages = append(sess.Messages, assistantMsg)

		// Step 7b-d: classify, confirm once per round, execute concurrently.
		results := o.dispatcher.Dispatch(ctx, toolCalls, o.confirm, nil)

		// Step 7e: append each tool result in the original order.
		for _, res := range results {
			toolMsg := models.Message{
				ID:         uuid.NewString(),
				Role:       models.RoleTool,
				Content:    res.Content,
				ToolCallID: res.ToolCallID,
				Timestamp:  time.Now(),
			}
			if err := o.store.SaveMessage(ctx, sess.ID, &toolMsg); err != nil {
				return usage, fmt.Errorf("orchestrator: persist tool result: %w", err)
			}
			sess.Messages = append(sess.Messages, toolMsg)
		}

		if err := o.store.SaveSession(ctx, sess); err != nil {
			return usage, fmt.Errorf("orchestrator: persist session after tool round: %w", err)
		}

		if err := ctx.Err(); err != nil {
			// Step 8: results for the in-flight batch are already
			// synthesized as aborted by the dispatcher; nothing more to do.
			return usage, err
		}

		// Step 7f: auto-compression checkpoint.
		if o.compressor != nil {
			pct := compress.EstimateContextPercent(sess.Messages, o.cfg.ContextWindow)
			if o.metrics != nil {
				o.metrics.ContextWindowPercent.Observe(float64(pct))
			}
			if compress.ShouldCompress(pct, o.cfg.CompressThreshold) {
				result, err := o.compressor.Compress(ctx, sess)
				if err != nil {
					return usage, fmt.Errorf("orchestrator: auto-compress: %w", err)
				}
				if o.metrics != nil {
					o.metrics.CompressionsTotal.WithLabelValues("auto").Inc()
				}
				if result.HookFailed {
					return usage, fmt.Errorf("orchestrator: beforeCompress hook blocked: %s", result.HookDetails)
				}
				if !result.CannotCompress && result.NewSession != nil {
					o.sessions.SetCurrent(result.NewSession)
					sess = result.NewSession
				}
			}
		}
	}

	return usage, fmt.Errorf("orchestrator: turn exceeded %d rounds without completing", o.cfg.MaxRounds)
}

func (o *Orchestrator) ensureSession(ctx context.Context) (*models.Session, error) {
	if sess := o.sessions.Current(); sess != nil {
		return sess, nil
	}
	sess, err := o.store.CreateSession(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: create session: %w", err)
	}
	o.sessions.SetCurrent(sess)
	return sess, nil
}

// buildRequest implements §4.4 step 3.
func (o *Orchestrator) buildRequest(sess *models.Session, useBasicModel bool) (*provider.Request, error) {
	repaired, _ := session.OrphanRepair(sess.Messages)

	history := make([]provider.Message, 0, len(repaired)+3)

	if pinned := renderTodoPin(sess.Todos); pinned != "" {
		history = append(history, provider.Message{Role: models.RoleUser, Content: pinned})
	}
	if pinned := renderUsefulInfoPin(sess.UsefulInfo); pinned != "" {
		history = append(history, provider.Message{Role: models.RoleUser, Content: pinned})
	}
	if pinned := o.renderFolderPin(sess); pinned != "" {
		history = append(history, provider.Message{Role: models.RoleUser, Content: pinned})
	}

	for _, m := range repaired {
		if m.SubAgentInternal {
			continue
		}
		history = append(history, provider.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Images:     m.Images,
		})
	}

	model := o.cfg.AdvancedModel
	if useBasicModel {
		model = o.cfg.BasicModel
	}

	var tools []provider.ToolSpec
	for _, t := range o.tools.List() {
		tools = append(tools, provider.ToolSpec{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}

	return &provider.Request{
		Model:     model,
		System:    o.cfg.System,
		Messages:  history,
		Tools:     tools,
		MaxTokens: o.cfg.MaxTokens,
	}, nil
}

// streamRound implements §4.4 step 4: drives one retried stream attempt to
// completion and collects its content, terminal tool_calls, reasoning blob,
// and usage.
func (o *Orchestrator) streamRound(ctx context.Context, prov provider.Provider, req *provider.Request) (content string, toolCalls []models.ToolCall, reasoning []byte, usage models.UsageInfo, err error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartRound(ctx, req.Model)
		defer func() { telemetry.End(span, err) }()
	}

	gen := func(ctx context.Context) (<-chan *models.StreamChunk, error) {
		return prov.Stream(ctx, req)
	}

	var text strings.Builder
	var reasoningBuf strings.Builder

	for chunk := range provider.StreamWithRetry(ctx, gen, 0) {
		switch chunk.Kind {
		case models.ChunkContent:
			text.WriteString(chunk.Delta)
		case models.ChunkReasoningDelta:
			reasoningBuf.WriteString(chunk.Delta)
		case models.ChunkToolCalls:
			toolCalls = append(toolCalls, chunk.ToolCalls...)
		case models.ChunkUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case models.ChunkError:
			if chunk.Err != nil {
				err = chunk.Err
			} else {
				err = fmt.Errorf("orchestrator: stream error")
			}
		case models.ChunkDone:
		}
	}
	if err != nil {
		return "", nil, nil, usage, err
	}
	if reasoningBuf.Len() > 0 {
		encoded, encErr := json.Marshal(reasoningBuf.String())
		if encErr == nil {
			reasoning = encoded
		}
	}
	return text.String(), toolCalls, reasoning, usage, nil
}

func (o *Orchestrator) runOnStop(ctx context.Context, sess *models.Session) (*hook.StopDecision, error) {
	if o.hooks == nil {
		return nil, nil
	}
	return o.hooks.RunOnStop(ctx, sess)
}

func (o *Orchestrator) appendSystemNote(ctx context.Context, sess *models.Session, role models.Role, text string) {
	msg := models.Message{ID: uuid.NewString(), Role: role, Content: text, Timestamp: time.Now()}
	_ = o.store.SaveMessage(ctx, sess.ID, &msg)
	sess.Messages = append(sess.Messages, msg)
}

// Clear implements the /clear command: runs onSessionStart hooks, then
// clears the current session and the folder-notebook read set (§4.8, §4.9).
func (o *Orchestrator) Clear(ctx context.Context) error {
	if o.hooks != nil {
		outcome, err := o.hooks.RunOnSessionStart(ctx)
		if err != nil {
			return fmt.Errorf("orchestrator: onSessionStart hook: %w", err)
		}
		if outcome.Blocked {
			return fmt.Errorf("orchestrator: onSessionStart hook blocked /clear: %s", outcome.Details)
		}
	}
	o.sessions.Clear()
	return nil
}

// Compact implements the manual /compact command, sharing §4.6's routine
// with the automatic trigger.
func (o *Orchestrator) Compact(ctx context.Context) (*compress.Result, error) {
	sess := o.sessions.Current()
	if sess == nil {
		return nil, fmt.Errorf("orchestrator: no active session to compact")
	}
	result, err := o.compressor.Compress(ctx, sess)
	if err != nil {
		return nil, err
	}
	if !result.CannotCompress && !result.HookFailed && result.NewSession != nil {
		o.sessions.SetCurrent(result.NewSession)
		if o.metrics != nil {
			o.metrics.CompressionsTotal.WithLabelValues("manual").Inc()
		}
	}
	return result, nil
}

func renderTodoPin(todos []models.Todo) string {
	if len(todos) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Current TODOs:\n")
	for _, t := range todos {
		mark := " "
		if t.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", mark, t.Text)
	}
	return b.String()
}

func renderUsefulInfoPin(info []models.UsefulInfoItem) string {
	if len(info) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Remembered notes:\n")
	for _, n := range info {
		fmt.Fprintf(&b, "- %s\n", n.Text)
	}
	return b.String()
}

// renderFolderPin implements §4.4 step 3 / §4.9: render the notebook
// contents of every folder the session has read from so far this session.
func (o *Orchestrator) renderFolderPin(sess *models.Session) string {
	if o.notebook == nil || o.notebookSt == nil || len(sess.ReadFolders) == 0 {
		return ""
	}
	var redisplay []folder.Redisplay
	for folderPath := range sess.ReadFolders {
		notes, err := o.notebookSt.Notes(folderPath)
		if err != nil || len(notes) == 0 {
			continue
		}
		redisplay = append(redisplay, folder.Redisplay{Folder: folderPath, Notes: notes})
	}
	return folder.RenderPinned(redisplay)
}

// OnFileRead lets a filesystem tool report a read so the folder-notebook
// preprocessor can decide whether to flag its parents for redisplay next
// round (§4.9). Safe to call with a nil notebook (no-op).
func (o *Orchestrator) OnFileRead(sess *models.Session, filePath string) error {
	if o.notebook == nil {
		return nil
	}
	_, err := o.notebook.OnFileRead(sess, filePath)
	return err
}
