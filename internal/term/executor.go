package term

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	safety "github.com/snowcli/snow/internal/exec"
)

// ExecResult is the terminal outcome of a single Run call, per §4.7 and §6
// ("Terminal Executor result").
type ExecResult struct {
	SessionID    string
	Command      string
	ExitCode     int
	Stdout       string
	Stderr       string
	Truncated    bool
	TimedOut     bool
	Backgrounded bool
	Finished     bool
	Error        string
	Duration     time.Duration
}

// Options configures a single Run call.
type Options struct {
	CWD       string
	TimeoutMs int
	Env       map[string]string
	// OnInteractivePrompt is invoked at most once per running command, after
	// 500ms of output silence matching an interactive-prompt pattern
	// (password:, [y/n], ?:). A nil callback disables the watcher.
	OnInteractivePrompt func(sessionID, promptText string)
}

var interactivePromptPatterns = []string{"password:", "passphrase:", "[y/n]", "(y/n)", "?:", "continue?"}

const (
	terminateGrace   = 100 * time.Millisecond
	idleWatchTick    = 200 * time.Millisecond
	idleWatchSilence = 500 * time.Millisecond
	maxOutputChars   = 100_000
)

// Executor spawns shell commands, appends their output line by line to a
// shared ProcessRegistry (no line-count or silence-based batching is
// applied), and supports cooperative cancellation, timeouts, and move-to-background.
type Executor struct {
	registry *ProcessRegistry
	logger   *slog.Logger

	mu         sync.Mutex
	background map[string]chan struct{}
}

// NewExecutor builds an Executor around a fresh process registry.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	reg := NewProcessRegistry(logger)
	reg.StartSweeper()
	return &Executor{
		registry:   reg,
		logger:     logger,
		background: map[string]chan struct{}{},
	}
}

// Registry exposes the underlying process registry so the Command Layer and
// tool dispatcher can inspect running/backgrounded sessions (e.g. for a
// `/jobs` style listing) without the executor re-exposing every accessor.
func (e *Executor) Registry() *ProcessRegistry { return e.registry }

// Background moves a running session into the background: its process keeps
// running and streaming into the registry's buffers, but Run returns
// immediately with Backgrounded set. This mirrors the Ctrl+B UX in §4.7.
func (e *Executor) Background(sessionID string) bool {
	e.mu.Lock()
	ch, ok := e.background[sessionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- struct{}{}:
	default:
	}
	return true
}

// Run executes command in a shell, returning once it exits, times out, is
// cancelled, or is moved to the background.
func (e *Executor) Run(ctx context.Context, command string, opts Options) (ExecResult, error) {
	if IsDangerous(command) {
		return Reject(command, "command matches the dangerous-command denylist"), nil
	}
	if IsSelfDestructive(command) {
		return Reject(command, "command targets this process's own pid/pgid"), nil
	}
	for k, v := range opts.Env {
		if !safety.IsSafeExecutableValue(v) {
			return Reject(command, fmt.Sprintf("env value for %s fails safety validation", k)), nil
		}
	}

	sessionID := uuid.NewString()
	bgSignal := make(chan struct{}, 1)
	e.mu.Lock()
	e.background[sessionID] = bgSignal
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.background, sessionID)
		e.mu.Unlock()
	}()

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if opts.TimeoutMs > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancelTimeout()
	}

	cmd := shellCommand(command)
	cmd.Dir = opts.CWD
	cmd.Env = withEnv(opts.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return ExecResult{}, fmt.Errorf("term: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return ExecResult{}, fmt.Errorf("term: stderr pipe: %w", err)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return ExecResult{Command: command, ExitCode: -1, Error: err.Error(), Finished: true}, nil
	}

	session := &ProcessSession{
		ID:        sessionID,
		Command:   command,
		PID:       cmd.Process.Pid,
		StartedAt: start,
		CWD:       opts.CWD,
	}
	e.registry.AddSession(session)

	var lastBusiness sync.Mutex
	lastBusinessAt := time.Now()
	touch := func() {
		lastBusiness.Lock()
		lastBusinessAt = time.Now()
		lastBusiness.Unlock()
	}
	sinceTouch := func() time.Duration {
		lastBusiness.Lock()
		defer lastBusiness.Unlock()
		return time.Since(lastBusinessAt)
	}

	var wg sync.WaitGroup
	pump := func(r io.Reader, stream string) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			e.registry.AppendOutput(session, stream, line+"\n")
			touch()
		}
	}
	wg.Add(2)
	go pump(stdout, "stdout")
	go pump(stderr, "stderr")

	promptFired := false
	watchDone := make(chan struct{})
	if opts.OnInteractivePrompt != nil {
		go func() {
			ticker := time.NewTicker(idleWatchTick)
			defer ticker.Stop()
			for {
				select {
				case <-watchDone:
					return
				case <-ticker.C:
					if promptFired || sinceTouch() < idleWatchSilence {
						continue
					}
					tail := strings.ToLower(Tail(session.Aggregated+strings.Join(session.PendingStdout, ""), 200))
					for _, pat := range interactivePromptPatterns {
						if strings.Contains(tail, pat) {
							promptFired = true
							opts.OnInteractivePrompt(sessionID, tail)
							break
						}
					}
				}
			}
		}()
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	result := ExecResult{SessionID: sessionID, Command: command}

	select {
	case <-bgSignal:
		e.registry.MarkBackgrounded(session)
		close(watchDone)
		result.Backgrounded = true
		result.Finished = false
		return result, nil

	case err := <-waitErr:
		close(watchDone)
		wg.Wait()
		result.Duration = time.Since(start)
		result.Finished = true
		stdoutOut, stderrOut := e.registry.DrainSession(session)
		result.Stdout = TrimWithCap(stdoutOut, maxOutputChars)
		result.Stderr = TrimWithCap(stderrOut, maxOutputChars)
		result.Truncated = session.Truncated
		exitCode, exitSignal, status := exitInfo(err)
		result.ExitCode = exitCode
		e.registry.MarkExited(session, &exitCode, exitSignal, status)
		if err != nil && exitCode == -1 {
			result.Error = err.Error()
		}
		return result, nil

	case <-runCtx.Done():
		close(watchDone)
		terminated := terminate(cmd)
		wg.Wait()
		<-waitErr
		stdoutOut, stderrOut := e.registry.DrainSession(session)
		result.Stdout = TrimWithCap(stdoutOut, maxOutputChars)
		result.Stderr = TrimWithCap(stderrOut, maxOutputChars)
		result.Duration = time.Since(start)
		result.Finished = true
		if opts.TimeoutMs > 0 && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			result.TimedOut = true
			result.Error = "ETIMEDOUT"
			result.ExitCode = -1
			e.registry.MarkExited(session, nil, "", ProcessStatusKilled)
		} else {
			result.Error = "cancelled"
			result.ExitCode = -1
			e.registry.MarkExited(session, nil, "", ProcessStatusKilled)
		}
		_ = terminated
		return result, nil
	}
}

// terminate sends SIGTERM, waits terminateGrace, then SIGKILL (or
// taskkill /T /F on Windows, which has no signal semantics).
func terminate(cmd *exec.Cmd) bool {
	if cmd.Process == nil {
		return false
	}
	if runtime.GOOS == "windows" {
		kill := exec.Command("taskkill", "/PID", fmt.Sprint(cmd.Process.Pid), "/T", "/F")
		return kill.Run() == nil
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(terminateGrace):
		_ = cmd.Process.Kill()
		return true
	}
}

func exitInfo(err error) (code int, signal string, status ProcessStatus) {
	if err == nil {
		return 0, "", ProcessStatusCompleted
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				return -1, ws.Signal().String(), ProcessStatusKilled
			}
			return ws.ExitStatus(), "", ProcessStatusFailed
		}
		return exitErr.ExitCode(), "", ProcessStatusFailed
	}
	return -1, "", ProcessStatusFailed
}
