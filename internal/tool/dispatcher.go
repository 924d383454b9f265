package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/snowcli/snow/internal/metrics"
	"github.com/snowcli/snow/pkg/models"
)

// DispatchConfig bounds one round of concurrent tool execution.
type DispatchConfig struct {
	Concurrency    int
	PerToolTimeout time.Duration
}

// DefaultDispatchConfig matches the teacher's tool executor defaults.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{Concurrency: 4, PerToolTimeout: 30 * time.Second}
}

// Dispatcher runs a round of tool calls against a Registry, gated by a
// confirmation Policy, emitting two-step (pending/done) models.ToolEvent
// values for the UI per §4.2.
type Dispatcher struct {
	registry *Registry
	policy   *Policy
	config   DispatchConfig
	metrics  *metrics.Metrics

	statsMu sync.Mutex
	stats   ExecutorMetricsSnapshot
}

// SetMetrics attaches a Prometheus collector; nil disables recording.
func (d *Dispatcher) SetMetrics(m *metrics.Metrics) { d.metrics = m }

// ExecutorMetricsSnapshot is a per-process summary of every tool call this
// Dispatcher has run, exposed to the CLI's /review command. Adapted from
// the teacher's agent-loop ExecutorMetrics() concept; this is diagnostics,
// not user-facing billing data.
type ExecutorMetricsSnapshot struct {
	CallCount    int
	FailureCount int
	durations    []time.Duration
}

// MetricsSnapshot returns a copy of the running executor metrics.
func (d *Dispatcher) MetricsSnapshot() ExecutorMetricsSnapshot {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	snap := d.stats
	snap.durations = append([]time.Duration(nil), d.stats.durations...)
	return snap
}

// P50 returns the median call duration, or 0 if no calls have run.
func (s ExecutorMetricsSnapshot) P50() time.Duration { return percentile(s.durations, 0.50) }

// P99 returns the 99th-percentile call duration, or 0 if no calls have run.
func (s ExecutorMetricsSnapshot) P99() time.Duration { return percentile(s.durations, 0.99) }

func percentile(durations []time.Duration, p float64) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), durations...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j] < sorted[j-1]; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func (d *Dispatcher) recordCall(dur time.Duration, failed bool) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	d.stats.CallCount++
	if failed {
		d.stats.FailureCount++
	}
	d.stats.durations = append(d.stats.durations, dur)
}

// NewDispatcher builds a Dispatcher over registry, gated by policy.
func NewDispatcher(registry *Registry, policy *Policy, config DispatchConfig) *Dispatcher {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	return &Dispatcher{registry: registry, policy: policy, config: config}
}

// Confirmer asks the user to resolve a batch of calls that need
// confirmation this round, returning one ConfirmResponse per call, in the
// same order. It is invoked at most once per Dispatch call (§4.2: "one
// prompt per round").
type Confirmer func(ctx context.Context, calls []models.ToolCall) ([]ConfirmResponse, string)

// Dispatch runs toolCalls to completion (or cancellation), returning one
// models.ToolResult per call in the original order. emit is called with
// pending (requested/started/approval_required/denied) and terminal
// (succeeded/failed) events; it may be nil.
//
// If ctx is cancelled mid-round, every call that has not yet produced a
// result gets a synthetic error result instead of being left dangling, so
// the session never persists an assistant message with an unmatched
// tool_call (Invariant S1).
func (d *Dispatcher) Dispatch(ctx context.Context, calls []models.ToolCall, confirm Confirmer, emit func(*models.ToolEvent)) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	byID := make(map[string]int, len(calls))
	for i, c := range calls {
		byID[c.ID] = i
	}

	genericCalls := make([]Call, len(calls))
	for i, c := range calls {
		genericCalls[i] = Call{ID: c.ID, Name: c.Name, Args: c.ArgumentsJSON}
	}
	autoRun, needsConfirm := d.policy.PartitionForConfirmation(genericCalls)

	runnable := make([]models.ToolCall, 0, len(calls))
	for _, c := range autoRun {
		runnable = append(runnable, calls[byID[c.ID]])
	}

	if len(needsConfirm) > 0 {
		toAsk := make([]models.ToolCall, len(needsConfirm))
		for i, c := range needsConfirm {
			toAsk[i] = calls[byID[c.ID]]
			emitStage(emit, toAsk[i], models.ToolEventApprovalRequired, "", "")
		}
		var responses []ConfirmResponse
		var replyText string
		if confirm != nil {
			responses, replyText = confirm(ctx, toAsk)
		}
		for i, tc := range toAsk {
			var resp ConfirmResponse = ResponseReject
			if i < len(responses) {
				resp = responses[i]
			}
			_ = d.policy.Record(tc.Name, resp)
			switch resp {
			case ResponseApprove, ResponseApproveAlways:
				runnable = append(runnable, tc)
			case ResponseRejectWithReply:
				results[byID[tc.ID]] = models.ToolResult{ToolCallID: tc.ID, Content: replyText, IsError: true}
				emitStage(emit, tc, models.ToolEventDenied, replyText, "rejected with reply")
			default: // ResponseReject
				results[byID[tc.ID]] = models.ToolResult{ToolCallID: tc.ID, Content: "user rejected this tool call", IsError: true}
				emitStage(emit, tc, models.ToolEventDenied, "", "rejected")
			}
		}
	}

	if len(runnable) == 0 {
		return results
	}

	sem := make(chan struct{}, d.config.Concurrency)
	var wg sync.WaitGroup
	for _, tc := range runnable {
		wg.Add(1)
		go func(call models.ToolCall) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[byID[call.ID]] = abortedResult(call)
				return
			}

			emitStage(emit, call, models.ToolEventRequested, "", "")
			start := time.Now()
			emitStage(emit, call, models.ToolEventStarted, "", "")

			toolCtx, cancel := context.WithTimeout(ctx, d.config.PerToolTimeout)
			defer cancel()
			res, err := d.registry.Execute(toolCtx, call.Name, call.ArgumentsJSON)

			var result models.ToolResult
			switch {
			case toolCtx.Err() == context.DeadlineExceeded:
				result = models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("tool execution timed out after %v", d.config.PerToolTimeout), IsError: true}
			case ctx.Err() != nil:
				result = abortedResult(call)
			case err != nil:
				result = models.ToolResult{ToolCallID: call.ID, Content: err.Error(), IsError: true}
			default:
				result = models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: res.IsError}
			}
			results[byID[call.ID]] = result

			stage := models.ToolEventSucceeded
			status := "success"
			if result.IsError {
				stage = models.ToolEventFailed
				status = "error"
			}
			elapsed := time.Since(start)
			d.metrics.ObserveToolDuration(call.Name, status, elapsed)
			d.recordCall(elapsed, result.IsError)
			ev := &models.ToolEvent{
				ToolCallID: call.ID, ToolName: call.Name, Stage: stage,
				Output: result.Content, StartedAt: start, FinishedAt: time.Now(),
			}
			if result.IsError {
				ev.Error = result.Content
			}
			if emit != nil {
				emit(ev)
			}
		}(tc)
	}
	wg.Wait()

	// Any slot a cancelled context left unfilled (e.g. the wg.Wait above
	// returned because every goroutine bailed into the ctx.Done() branch
	// before assigning) still needs a synthetic result.
	for i, r := range results {
		if r.ToolCallID == "" {
			results[i] = abortedResult(calls[i])
		}
	}
	return results
}

func abortedResult(call models.ToolCall) models.ToolResult {
	return models.ToolResult{ToolCallID: call.ID, Content: "turn cancelled before this tool call completed", IsError: true}
}

func emitStage(emit func(*models.ToolEvent), call models.ToolCall, stage models.ToolEventStage, output, reason string) {
	if emit == nil {
		return
	}
	emit(&models.ToolEvent{
		ToolCallID:   call.ID,
		ToolName:     call.Name,
		Stage:        stage,
		Input:        call.ArgumentsJSON,
		Output:       output,
		PolicyReason: reason,
	})
}
