package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/snowcli/snow/internal/format"
	"github.com/snowcli/snow/internal/ide"
	"github.com/snowcli/snow/internal/markdown"
)

// buildCompactCmd wraps runCompact (§4.6) as a one-shot subcommand, for
// scripting outside the REPL.
func buildCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "summarize the current session and replace it with the summary plus a preserved tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			return runCompact(cmd.Context(), rt)
		},
	}
}

func buildClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "start a fresh session, discarding the current one",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			return runClear(cmd.Context(), rt)
		},
	}
}

func buildReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "print the tool executor's call-count, failure-count, and latency percentiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			return runReview(cmd.Context(), rt)
		},
	}
}

func buildExportCmd() *cobra.Command {
	var exportFormat, outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "render the current session's transcript to stdout or a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())

			out := io.Writer(os.Stdout)
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return runExport(cmd.Context(), rt, exportFormat, out)
		},
	}
	cmd.Flags().StringVar(&exportFormat, "format", "markdown", "output format: markdown, text, or html")
	cmd.Flags().StringVar(&outPath, "out", "", "output file (default stdout)")
	return cmd
}

func buildIDECmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ide",
		Short: "run the IDE bridge in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := buildRuntime(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer rt.Close(cmd.Context())
			return runIDE(cmd.Context(), rt)
		},
	}
}

// runCompact invokes the orchestrator's §4.6 compression path directly
// (outside of the auto-compress-before-overflow trigger) and reports the
// new session's message count and summary.
func runCompact(ctx context.Context, rt *runtime) error {
	result, err := rt.orchestrator.Compact(ctx)
	if err != nil {
		return fmt.Errorf("snow: compact: %w", err)
	}
	if result.CannotCompress {
		fmt.Fprintln(os.Stderr, "session too short to compact")
		return nil
	}
	if result.HookFailed {
		fmt.Fprintf(os.Stderr, "beforeCompress hook blocked compaction: %s\n", result.HookDetails)
		return nil
	}
	fmt.Fprintf(os.Stderr, "compacted: session now has %d messages\n", len(result.NewSession.Messages))
	fmt.Fprintf(os.Stderr, "summary:\n%s\n", result.NewSession.Summary)
	return nil
}

func runClear(ctx context.Context, rt *runtime) error {
	if err := rt.orchestrator.Clear(ctx); err != nil {
		return fmt.Errorf("snow: clear: %w", err)
	}
	fmt.Fprintln(os.Stderr, "session cleared")
	return nil
}

// runReview surfaces the Executor metrics snapshot SUPPLEMENTED FEATURE.
func runReview(ctx context.Context, rt *runtime) error {
	snap := rt.dispatcher.MetricsSnapshot()
	fmt.Fprintf(os.Stdout, "tool calls:   %d\n", snap.CallCount)
	fmt.Fprintf(os.Stdout, "failures:     %d\n", snap.FailureCount)
	fmt.Fprintf(os.Stdout, "p50 latency:  %s\n", format.FormatDurationMsInt(snap.P50().Milliseconds()))
	fmt.Fprintf(os.Stdout, "p99 latency:  %s\n", format.FormatDurationMsInt(snap.P99().Milliseconds()))
	return nil
}

// runExport renders the current session's transcript, rewriting any
// markdown tables per the chosen format's DefaultTableModeForExportFormat
// (plain text can't render a pipe table; markdown/html pass through).
func runExport(ctx context.Context, rt *runtime, exportFormat string, w io.Writer) error {
	sess := rt.sessions.Current()
	if sess == nil {
		return fmt.Errorf("snow: no active session to export")
	}
	mode := markdown.DefaultTableModeForExportFormat(exportFormat)

	switch exportFormat {
	case "html":
		fmt.Fprintln(w, "<!doctype html><html><body>")
		for _, m := range sess.Messages {
			fmt.Fprintf(w, "<h3>%s</h3><pre>%s</pre>\n", m.Role, markdown.ConvertTables(m.Content, mode))
		}
		fmt.Fprintln(w, "</body></html>")
	default: // markdown, text
		for _, m := range sess.Messages {
			fmt.Fprintf(w, "## %s\n\n%s\n\n", m.Role, markdown.ConvertTables(m.Content, mode))
		}
	}
	return nil
}

// runIDE starts the IDE Bridge bound to the configured port range and
// blocks until ctx is cancelled, at which point it unregisters its port
// file entry and shuts down cleanly.
func runIDE(ctx context.Context, rt *runtime) error {
	workspaceFolder, err := os.Getwd()
	if err != nil {
		return err
	}
	portFile := filepath.Join(os.TempDir(), "snow-cli-ports.json")

	bridge := ide.New(&gitHandler{root: workspaceFolder}, rt.logger)
	port, err := bridge.Listen(workspaceFolder, portFile, rt.cfg.IDEPortRangeStart, rt.cfg.IDEPortRangeEnd)
	if err != nil {
		return fmt.Errorf("snow: ide bridge: %w", err)
	}
	fmt.Fprintf(os.Stderr, "ide bridge listening on 127.0.0.1:%d\n", port)

	<-ctx.Done()
	return bridge.Shutdown(context.Background(), portFile, workspaceFolder)
}

// gitHandler answers ide.Handler requests using the local git checkout
// (snow has no embedded language server, so Diagnostics always returns an
// empty set).
type gitHandler struct{ root string }

func (g *gitHandler) Diagnostics(filePath string) ([]ide.Diagnostic, error) {
	return nil, nil
}

func (g *gitHandler) GoToDefinition(filePath string, line, column int) ([]ide.Location, error) {
	return nil, fmt.Errorf("snow: go-to-definition requires a language server, none is configured")
}

func (g *gitHandler) FindReferences(filePath string, line, column int) ([]ide.Location, error) {
	return nil, fmt.Errorf("snow: find-references requires a language server, none is configured")
}

func (g *gitHandler) Symbols(filePath string) ([]ide.Symbol, error) {
	return nil, fmt.Errorf("snow: document symbols require a language server, none is configured")
}

func (g *gitHandler) GitShowHEAD(filePath string) (string, error) {
	rel, err := filepath.Rel(g.root, filePath)
	if err != nil {
		rel = filePath
	}
	cmd := exec.Command("git", "show", "HEAD:"+filepath.ToSlash(rel))
	cmd.Dir = g.root
	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return out.String(), nil
}
