package tool

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/snowcli/snow/pkg/models"
)

type echoTool struct{ name string }

func (e *echoTool) Name() string               { return e.name }
func (e *echoTool) Description() string        { return "echoes its input" }
func (e *echoTool) Schema() json.RawMessage    { return json.RawMessage(`{"type":"object"}`) }
func (e *echoTool) Execute(_ context.Context, args json.RawMessage) (*Result, error) {
	return &Result{Content: string(args)}, nil
}

type slowTool struct{ delay time.Duration }

func (s *slowTool) Name() string            { return "slow" }
func (s *slowTool) Description() string     { return "sleeps" }
func (s *slowTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (s *slowTool) Execute(ctx context.Context, _ json.RawMessage) (*Result, error) {
	select {
	case <-time.After(s.delay):
		return &Result{Content: "done"}, nil
	case <-ctx.Done():
		return &Result{Content: "cancelled", IsError: true}, nil
	}
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	t.Helper()
	reg := NewRegistry()
	reg.Register(&echoTool{name: "todo-write"})
	policy, err := NewPolicy("", nil)
	require.NoError(t, err)
	return NewDispatcher(reg, policy, DefaultDispatchConfig()), reg
}

func TestDispatcher_AutoApprovedToolRunsWithoutConfirmer(t *testing.T) {
	d, _ := newTestDispatcher(t)
	calls := []models.ToolCall{{ID: "1", Name: "todo-write", ArgumentsJSON: json.RawMessage(`{"x":1}`)}}

	results := d.Dispatch(context.Background(), calls, nil, nil)
	require.Len(t, results, 1)
	require.False(t, results[0].IsError)
	require.JSONEq(t, `{"x":1}`, results[0].Content)
}

func TestDispatcher_ConfirmedTool_ApproveRuns(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "write-file"})
	policy, err := NewPolicy("", nil)
	require.NoError(t, err)
	d := NewDispatcher(reg, policy, DefaultDispatchConfig())

	calls := []models.ToolCall{{ID: "1", Name: "write-file", ArgumentsJSON: json.RawMessage(`{}`)}}
	confirmCalls := 0
	confirm := func(_ context.Context, toAsk []models.ToolCall) ([]ConfirmResponse, string) {
		confirmCalls++
		require.Len(t, toAsk, 1)
		return []ConfirmResponse{ResponseApprove}, ""
	}

	results := d.Dispatch(context.Background(), calls, confirm, nil)
	require.Equal(t, 1, confirmCalls)
	require.False(t, results[0].IsError)
}

func TestDispatcher_Reject_EndsWithErrorResult(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "write-file"})
	policy, err := NewPolicy("", nil)
	require.NoError(t, err)
	d := NewDispatcher(reg, policy, DefaultDispatchConfig())

	calls := []models.ToolCall{{ID: "1", Name: "write-file"}}
	confirm := func(_ context.Context, _ []models.ToolCall) ([]ConfirmResponse, string) {
		return []ConfirmResponse{ResponseReject}, ""
	}

	results := d.Dispatch(context.Background(), calls, confirm, nil)
	require.True(t, results[0].IsError)
}

func TestDispatcher_RejectWithReply_UsesReplyAsContent(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&echoTool{name: "write-file"})
	policy, err := NewPolicy("", nil)
	require.NoError(t, err)
	d := NewDispatcher(reg, policy, DefaultDispatchConfig())

	calls := []models.ToolCall{{ID: "1", Name: "write-file"}}
	confirm := func(_ context.Context, _ []models.ToolCall) ([]ConfirmResponse, string) {
		return []ConfirmResponse{ResponseRejectWithReply}, "use a different path instead"
	}

	results := d.Dispatch(context.Background(), calls, confirm, nil)
	require.True(t, results[0].IsError)
	require.Equal(t, "use a different path instead", results[0].Content)
}

func TestDispatcher_CancelledContext_SynthesizesAbortedResults(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&slowTool{delay: time.Second})
	policy, err := NewPolicy("", nil)
	require.NoError(t, err)
	d := NewDispatcher(reg, policy, DispatchConfig{Concurrency: 2, PerToolTimeout: 5 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	calls := []models.ToolCall{{ID: "1", Name: "slow"}}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results := d.Dispatch(ctx, calls, nil, nil)
	require.Len(t, results, 1)
	require.True(t, results[0].IsError)
	require.Equal(t, "1", results[0].ToolCallID, "every tool_call must still get a matching result (invariant S1)")
}

func TestDispatcher_EmitsLifecycleEvents(t *testing.T) {
	d, _ := newTestDispatcher(t)
	calls := []models.ToolCall{{ID: "1", Name: "todo-write"}}

	var events []*models.ToolEvent
	d.Dispatch(context.Background(), calls, nil, func(e *models.ToolEvent) { events = append(events, e) })

	var sawStarted, sawSucceeded bool
	for _, e := range events {
		if e.Stage == models.ToolEventStarted {
			sawStarted = true
		}
		if e.Stage == models.ToolEventSucceeded {
			sawSucceeded = true
		}
	}
	require.True(t, sawStarted)
	require.True(t, sawSucceeded)
}

func TestDispatcher_MetricsSnapshotTracksCallsAndFailures(t *testing.T) {
	d, reg := newTestDispatcher(t)
	reg.Register(&failingTool{})
	calls := []models.ToolCall{
		{ID: "1", Name: "todo-write"},
		{ID: "2", Name: "fails"},
	}

	d.Dispatch(context.Background(), calls, nil, nil)

	snap := d.MetricsSnapshot()
	require.Equal(t, 2, snap.CallCount)
	require.Equal(t, 1, snap.FailureCount)
	require.GreaterOrEqual(t, snap.P99(), snap.P50())
}

type failingTool struct{}

func (failingTool) Name() string            { return "fails" }
func (failingTool) Description() string     { return "always fails" }
func (failingTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (failingTool) Execute(context.Context, json.RawMessage) (*Result, error) {
	return &Result{Content: "boom", IsError: true}, nil
}
