package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/snowcli/snow/internal/term"
)

// TerminalExecuteTool exposes the Terminal Executor (§4.7) as a Tool.
// Grounded on internal/tools/exec.ExecTool's schema shape, generalized to
// the new term.Executor.
type TerminalExecuteTool struct {
	executor *term.Executor
}

// NewTerminalExecuteTool wraps executor as a Tool named "terminal-execute".
func NewTerminalExecuteTool(executor *term.Executor) *TerminalExecuteTool {
	return &TerminalExecuteTool{executor: executor}
}

func (t *TerminalExecuteTool) Name() string { return "terminal-execute" }

func (t *TerminalExecuteTool) Description() string {
	return "Run a shell command in the workspace. Supports a working directory, environment overrides, a timeout, and moving a long-running command to the background."
}

// terminalExecuteInput mirrors the wire shape of a terminal-execute call.
type terminalExecuteInput struct {
	Command   string            `json:"command" jsonschema:"required,description=Shell command to execute."`
	CWD       string            `json:"cwd,omitempty" jsonschema:"description=Working directory, or ssh://user@host:port/path to run over SSH."`
	Env       map[string]string `json:"env,omitempty" jsonschema:"description=Environment variable overrides."`
	TimeoutMs int               `json:"timeout_ms,omitempty" jsonschema:"minimum=0,description=Timeout in milliseconds (0 = no command-specific timeout)."`
}

func (t *TerminalExecuteTool) Schema() json.RawMessage { return GenerateSchema(terminalExecuteInput{}) }

func (t *TerminalExecuteTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input struct {
		Command   string            `json:"command"`
		CWD       string            `json:"cwd"`
		Env       map[string]string `json:"env"`
		TimeoutMs int               `json:"timeout_ms"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return &Result{Content: "invalid arguments: " + err.Error(), IsError: true}, nil
	}
	if input.Command == "" {
		return &Result{Content: "command is required", IsError: true}, nil
	}

	var res term.ExecResult
	var err error
	if term.IsRemoteCWD(input.CWD) {
		target, perr := term.ParseRemoteCWD(input.CWD)
		if perr != nil {
			return &Result{Content: perr.Error(), IsError: true}, nil
		}
		res, err = term.RunRemote(target, input.Command, time.Duration(input.TimeoutMs)*time.Millisecond)
	} else {
		res, err = t.executor.Run(ctx, input.Command, term.Options{
			CWD:       input.CWD,
			Env:       input.Env,
			TimeoutMs: input.TimeoutMs,
		})
	}
	if err != nil {
		return &Result{Content: err.Error(), IsError: true}, nil
	}
	if res.Backgrounded {
		return &Result{Content: fmt.Sprintf("moved to background (session %s)", res.SessionID)}, nil
	}

	content := res.Stdout
	if res.Stderr != "" {
		content += "\n--- stderr ---\n" + res.Stderr
	}
	isError := res.ExitCode != 0 || res.TimedOut
	if res.TimedOut {
		content += fmt.Sprintf("\n[%s]", res.Error)
	}
	return &Result{Content: content, IsError: isError}, nil
}

// IsSensitive classifies terminal-execute calls for the confirmation
// policy's shared sensitivity predicate (§4.2, §4.7): the same denylist
// that pre-flight-rejects a command here also forces confirmation there.
func IsSensitive(toolName string, args json.RawMessage) (bool, string) {
	if toolName != "terminal-execute" {
		return false, ""
	}
	var input struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return true, "unparseable terminal-execute arguments"
	}
	if term.IsDangerous(input.Command) {
		return true, "command matches the dangerous-command denylist"
	}
	if term.IsSelfDestructive(input.Command) {
		return true, "command targets this process"
	}
	return false, ""
}
