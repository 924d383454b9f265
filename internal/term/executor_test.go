package term

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestExecutor_Run_CapturesStdout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell assumptions")
	}
	e := NewExecutor(nil)
	res, err := e.Run(context.Background(), "echo hello", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d (stderr=%q)", res.ExitCode, res.Stderr)
	}
	if !strings.Contains(res.Stdout, "hello") {
		t.Errorf("expected stdout to contain hello, got %q", res.Stdout)
	}
}

func TestExecutor_Run_NonZeroExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell assumptions")
	}
	e := NewExecutor(nil)
	res, err := e.Run(context.Background(), "exit 3", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("expected exit 3, got %d", res.ExitCode)
	}
}

func TestExecutor_Run_RejectsDangerousCommand(t *testing.T) {
	e := NewExecutor(nil)
	res, err := e.Run(context.Background(), "rm -rf /", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ExitCode == 0 {
		t.Error("expected rejected command to report non-zero exit")
	}
	if res.Error == "" {
		t.Error("expected a rejection reason")
	}
}

func TestExecutor_Run_HonoursTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell assumptions")
	}
	e := NewExecutor(nil)
	res, err := e.Run(context.Background(), "sleep 5", Options{TimeoutMs: 100})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected command to time out")
	}
}

func TestExecutor_Background_ReturnsWithoutWaiting(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix shell assumptions")
	}
	e := NewExecutor(nil)
	done := make(chan ExecResult, 1)
	go func() {
		res, _ := e.Run(context.Background(), "sleep 2", Options{})
		done <- res
	}()

	// Give the command a moment to register before backgrounding it.
	time.Sleep(50 * time.Millisecond)
	moved := false
	for i := 0; i < 20 && !moved; i++ {
		// ListRunningSessions only reports already-backgrounded sessions, so
		// look the foreground session up in the registry directly.
		reg := e.Registry()
		var ids []string
		reg.mu.RLock()
		for _, s := range reg.runningSessions {
			if s.Command == "sleep 2" {
				ids = append(ids, s.ID)
			}
		}
		reg.mu.RUnlock()
		for _, id := range ids {
			moved = e.Background(id)
		}
		if !moved {
			time.Sleep(10 * time.Millisecond)
		}
	}
	if !moved {
		t.Fatal("expected to find and background the running session")
	}

	select {
	case res := <-done:
		if !res.Backgrounded {
			t.Error("expected Backgrounded to be set")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after Background()")
	}
}
