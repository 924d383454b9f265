package tool

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPolicy_AutoApprovedPatterns_NeverConfirm(t *testing.T) {
	p, err := NewPolicy("", nil)
	require.NoError(t, err)

	d, _ := p.Evaluate("todo-write", json.RawMessage(`{}`))
	require.Equal(t, DecisionAllow, d)

	d, _ = p.Evaluate("subagent-spawn", json.RawMessage(`{}`))
	require.Equal(t, DecisionAllow, d)
}

func TestPolicy_Sensitive_AlwaysConfirms_EvenUnderYOLO(t *testing.T) {
	classifier := func(name string, args json.RawMessage) (bool, string) {
		return name == "terminal-execute", "dangerous"
	}
	p, err := NewPolicy("", classifier)
	require.NoError(t, err)
	p.YOLO = true

	d, reason := p.Evaluate("terminal-execute", json.RawMessage(`{"command":"rm -rf /"}`))
	require.Equal(t, DecisionConfirm, d)
	require.Equal(t, "dangerous", reason)
}

func TestPolicy_YOLO_AllowsOrdinaryTools(t *testing.T) {
	p, err := NewPolicy("", nil)
	require.NoError(t, err)
	p.YOLO = true

	d, _ := p.Evaluate("read-file", json.RawMessage(`{}`))
	require.Equal(t, DecisionAllow, d)
}

func TestPolicy_ApproveAlways_PersistsAndOverlaysImmediately(t *testing.T) {
	file := filepath.Join(t.TempDir(), "approved.json")
	p, err := NewPolicy(file, nil)
	require.NoError(t, err)

	d, _ := p.Evaluate("write-file", json.RawMessage(`{}`))
	require.Equal(t, DecisionConfirm, d)

	require.NoError(t, p.Record("write-file", ResponseApproveAlways))

	d, _ = p.Evaluate("write-file", json.RawMessage(`{}`))
	require.Equal(t, DecisionAllow, d)

	reloaded, err := NewPolicy(file, nil)
	require.NoError(t, err)
	d, _ = reloaded.Evaluate("write-file", json.RawMessage(`{}`))
	require.Equal(t, DecisionAllow, d, "approval must survive a reload from the persisted project file")
}

func TestPolicy_PartitionForConfirmation(t *testing.T) {
	p, err := NewPolicy("", nil)
	require.NoError(t, err)

	calls := []Call{
		{ID: "1", Name: "todo-write"},
		{ID: "2", Name: "write-file"},
	}
	autoRun, needsConfirm := p.PartitionForConfirmation(calls)
	require.Len(t, autoRun, 1)
	require.Len(t, needsConfirm, 1)
	require.Equal(t, "todo-write", autoRun[0].Name)
	require.Equal(t, "write-file", needsConfirm[0].Name)
}
