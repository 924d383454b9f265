package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/snowcli/snow/internal/format"
	termexec "github.com/snowcli/snow/internal/term"
)

// shellEscapeRe matches the `!`cmd`` / `!!`cmd`` REPL passthrough syntax
// (§6), with an optional `<timeoutMs>` suffix after the closing backtick.
var shellEscapeRe = regexp.MustCompile("^(!{1,2})`([^`]*)`(?:<(\\d+)>)?$")

// runREPL drives the interactive loop: plain lines become user turns,
// slash-commands invoke the Command Layer, and `!`/`!!` lines run a shell
// command via the Terminal Executor outside of any tool-call confirmation
// flow.
func runREPL(parent context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	rt, err := buildRuntime(ctx, configPath)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "snow ready. Type /compact, /clear, /review, /export, /ide, or a message. Ctrl-D to exit.")
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := shellEscapeRe.FindStringSubmatch(trimmed); m != nil {
			runShellEscape(ctx, rt, m)
			continue
		}

		if strings.HasPrefix(trimmed, "/") {
			if err := dispatchSlashCommand(ctx, rt, trimmed); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			continue
		}

		start := time.Now()
		usage, err := rt.orchestrator.ProcessUserTurn(ctx, line, nil, false)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(os.Stderr, "[%s, %d tokens]\n", format.FormatDurationMsInt(time.Since(start).Milliseconds()), usage.TotalTokens)
	}
	return scanner.Err()
}

// runShellEscape handles a `!`cmd`` (feed output back to the LLM as the
// next user message) or `!!`cmd`` (run only, never sent to the LLM) line.
func runShellEscape(ctx context.Context, rt *runtime, m []string) {
	bang, command, timeoutStr := m[1], m[2], m[3]
	timeoutMs := 0
	if timeoutStr != "" {
		timeoutMs, _ = strconv.Atoi(timeoutStr)
	}

	res, err := rt.executor.Run(ctx, command, termexec.Options{TimeoutMs: timeoutMs})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	fmt.Fprint(os.Stdout, res.Stdout)
	if res.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Stderr)
	}

	if bang == "!!" {
		return
	}

	next := fmt.Sprintf("Output of `%s`:\n%s", command, res.Stdout)
	if res.Stderr != "" {
		next += "\n--- stderr ---\n" + res.Stderr
	}
	if _, err := rt.orchestrator.ProcessUserTurn(ctx, next, nil, false); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func dispatchSlashCommand(ctx context.Context, rt *runtime, line string) error {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/compact":
		return runCompact(ctx, rt)
	case "/clear":
		return runClear(ctx, rt)
	case "/review":
		return runReview(ctx, rt)
	case "/export":
		format := "markdown"
		if len(fields) > 1 {
			format = fields[1]
		}
		return runExport(ctx, rt, format, os.Stdout)
	case "/ide":
		return runIDE(ctx, rt)
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}
}
