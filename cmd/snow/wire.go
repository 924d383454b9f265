package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/snowcli/snow/internal/compress"
	"github.com/snowcli/snow/internal/config"
	"github.com/snowcli/snow/internal/folder"
	"github.com/snowcli/snow/internal/hook"
	"github.com/snowcli/snow/internal/metrics"
	"github.com/snowcli/snow/internal/orchestrator"
	"github.com/snowcli/snow/internal/provider"
	"github.com/snowcli/snow/internal/session"
	"github.com/snowcli/snow/internal/snapshot"
	"github.com/snowcli/snow/internal/telemetry"
	"github.com/snowcli/snow/internal/term"
	"github.com/snowcli/snow/internal/tool"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"net/http"
)

// runtime bundles every wired component a CLI command or the REPL needs.
// It is built once per process invocation.
type runtime struct {
	cfg          config.Config
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
	sessions     *session.CurrentSessionHolder
	store        session.Store
	policy       *tool.Policy
	dispatcher   *tool.Dispatcher
	executor     *term.Executor
	hooks        *hook.Registry
	scheduler    *hook.Scheduler
	snapshots    *snapshot.Store
	watcher      *config.Watcher
	tracerShut   func(context.Context) error
}

// defaultConfigPath resolves --config / SNOW_CONFIG / the built-in default,
// in that precedence order.
func defaultConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv("SNOW_CONFIG"); env != "" {
		return env
	}
	return filepath.Join(".snow", "config.yaml")
}

// buildRuntime wires every component per SPEC_FULL.md's DOMAIN STACK table:
// provider registry, tool registry + dispatcher, session store, compressor,
// hook registry (+ cron-scheduled maintenance sweep), folder notebook,
// snapshot store, metrics, and tracing, finally assembled into the
// Conversation Orchestrator.
func buildRuntime(ctx context.Context, flagConfigPath string) (*runtime, error) {
	logger := slog.Default()

	cfgPath := defaultConfigPath(flagConfigPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if home, err := os.UserHomeDir(); err == nil {
		profile, perr := config.LoadProfile(filepath.Join(home, ".config", "snow", "profile.toml"))
		if perr == nil {
			cfg = config.ApplyProfile(cfg, profile)
		}
	}

	dataDir := cfg.DataDir
	sessionsDir := filepath.Join(dataDir, "sessions")
	snapshotsDir := filepath.Join(dataDir, "snapshots")
	notebooksDir := filepath.Join(dataDir, "notebooks")

	store, err := session.NewFileStore(sessionsDir)
	if err != nil {
		return nil, fmt.Errorf("snow: open session store: %w", err)
	}
	sessions := session.NewCurrentSessionHolder(store)

	providers := provider.NewRegistry()
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		providers.Add(provider.NewAnthropicProvider(key))
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		providers.Add(provider.NewChatCompletionsProvider(key))
		providers.Add(provider.NewResponsesProvider(key))
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if gem, gerr := provider.NewGeminiProvider(ctx, key); gerr == nil {
			providers.Add(gem)
		} else {
			logger.Warn("snow: gemini provider init failed", "error", gerr)
		}
	}

	executor := term.NewExecutor(logger)

	toolRegistry := tool.NewRegistry()
	toolRegistry.Register(tool.NewTodoWriteTool(sessions))
	toolRegistry.Register(tool.NewUsefulInfoWriteTool(sessions))
	toolRegistry.Register(tool.NewTerminalExecuteTool(executor))

	permissionsFile := filepath.Join(dataDir, "permissions.json")
	policy, err := tool.NewPolicy(permissionsFile, tool.IsSensitive)
	if err != nil {
		return nil, fmt.Errorf("snow: load permissions: %w", err)
	}
	policy.YOLO = cfg.YOLO

	dispatcher := tool.NewDispatcher(toolRegistry, policy, tool.DefaultDispatchConfig())

	hookDefs, hookErrs := hook.Discover(cfg.HookDir)
	for _, herr := range hookErrs {
		logger.Warn("snow: hook discovery error", "error", herr)
	}
	promptRunner := buildPromptRunner(providers, cfg)
	hooks := hook.NewRegistry(executor, promptRunner, hookDefs)

	notebookStore, err := folder.NewStore(notebooksDir)
	if err != nil {
		return nil, fmt.Errorf("snow: open folder notebook store: %w", err)
	}
	notebook := folder.NewPreprocessor(notebookStore)

	snapshots, err := snapshot.NewStore(snapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("snow: open snapshot store: %w", err)
	}

	summarizer := buildSummarizer(providers, cfg)
	compressor := compress.New(store, hooks, summarizer)

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	met := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		go serveMetrics(logger, cfg.MetricsAddr)
	}

	var tracerShut func(context.Context) error = func(context.Context) error { return nil }
	tracer, shut, terr := telemetry.New(ctx, telemetry.Config{
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		Insecure:       cfg.OTLPInsecure,
	})
	if terr != nil {
		logger.Warn("snow: telemetry init failed, continuing without tracing", "error", terr)
	} else {
		tracerShut = shut
	}

	orch := orchestrator.New(
		sessions, store, providers, toolRegistry, dispatcher, compressor,
		hooks, notebook, notebookStore, snapshots, buildConfirmer(),
		orchestrator.Config{
			BasicModel:        cfg.BasicModel,
			AdvancedModel:     cfg.AdvancedModel,
			System:            cfg.System,
			ContextWindow:     cfg.ContextWindow,
			CompressThreshold: cfg.CompressThreshold,
			MaxRounds:         cfg.MaxRounds,
			MaxEmptyRetries:   cfg.MaxEmptyRetries,
			MaxTokens:         cfg.MaxTokens,
		},
	)
	orch.SetMetrics(met)
	if tracer != nil {
		orch.SetTracer(tracer)
	}
	dispatcher.SetMetrics(met)

	scheduler := hook.NewScheduler(logger)
	_ = scheduler.AddJob("snapshot-gc", "0 * * * *", func() error {
		return snapshotGC(snapshotsDir)
	})
	_ = scheduler.AddJob("approval-prune", "*/15 * * * *", func() error {
		return pruneApprovalRequests(permissionsFile)
	})
	scheduler.Start()

	watcher, werr := config.NewWatcher(logger, func(path string) {
		if path == permissionsFile {
			if err := policy.Reload(); err != nil {
				logger.Warn("snow: permissions reload failed", "error", err)
			}
			return
		}
		logger.Info("snow: config file changed on disk, restart to apply", "path", path)
	}, cfgPath, permissionsFile)
	if werr != nil {
		logger.Warn("snow: config watcher disabled", "error", werr)
	}

	if os.Getenv("SNOW_TASK_MODE") == "true" {
		sess, cerr := store.CreateSession(ctx, true)
		if cerr != nil {
			return nil, fmt.Errorf("snow: create ephemeral session: %w", cerr)
		}
		sessions.SetCurrent(sess)
	}

	return &runtime{
		cfg: cfg, logger: logger, orchestrator: orch, sessions: sessions,
		store: store, policy: policy, dispatcher: dispatcher, executor: executor,
		hooks: hooks, scheduler: scheduler, snapshots: snapshots, watcher: watcher,
		tracerShut: tracerShut,
	}, nil
}

// Close releases background resources: the cron scheduler, config watcher,
// and OpenTelemetry exporter.
func (r *runtime) Close(ctx context.Context) {
	if r.scheduler != nil {
		r.scheduler.Stop()
	}
	if r.watcher != nil {
		_ = r.watcher.Close()
	}
	if r.tracerShut != nil {
		_ = r.tracerShut(ctx)
	}
}

func serveMetrics(logger *slog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("snow: metrics server stopped", "error", err)
	}
}

