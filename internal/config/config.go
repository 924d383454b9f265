// Package config implements snow's configuration layer: a YAML-first
// config struct, an optional TOML machine-local profile overlay, a JSON
// Schema export for editor tooling, and an fsnotify watcher that reports
// external edits to the permissions file and the config file (cmd/snow
// reloads the permissions file on such an edit; a config file edit is only
// logged and takes effect on restart). Grounded on the teacher's internal/config (YAML struct +
// invopop/jsonschema export) and goclaw/nexus's fsnotify usage.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Config is snow's durable configuration, one YAML file per workspace
// (default .snow/config.yaml under the working directory).
type Config struct {
	// BasicModel and AdvancedModel are model IDs resolved against the
	// provider registry (§4.4 step 1's "useBasicModel" switch).
	BasicModel    string `yaml:"basicModel" jsonschema:"required,description=Model ID used for lightweight turns."`
	AdvancedModel string `yaml:"advancedModel" jsonschema:"required,description=Model ID used for full-capability turns."`
	System        string `yaml:"system,omitempty" jsonschema:"description=System prompt prefix."`

	ContextWindow     int `yaml:"contextWindow,omitempty" jsonschema:"minimum=1"`
	CompressThreshold int `yaml:"compressThreshold,omitempty" jsonschema:"minimum=1,maximum=100"`
	MaxRounds         int `yaml:"maxRounds,omitempty" jsonschema:"minimum=1"`
	MaxEmptyRetries   int `yaml:"maxEmptyRetries,omitempty" jsonschema:"minimum=0"`
	MaxTokens         int `yaml:"maxTokens,omitempty" jsonschema:"minimum=1"`

	// YOLO disables confirmation prompts except for the sensitive-command
	// denylist, which is never bypassed (§4.2).
	YOLO bool `yaml:"yolo,omitempty"`

	// DataDir roots sessions, snapshots, and folder notebooks.
	DataDir string `yaml:"dataDir,omitempty" jsonschema:"description=Root directory for sessions, snapshots, and notebooks."`
	// HookDir holds discovered HOOK.md bundles (§4.8).
	HookDir string `yaml:"hookDir,omitempty"`

	// IDEPortRangeStart/End bound the port scan for the IDE bridge (§4.10).
	IDEPortRangeStart int `yaml:"idePortRangeStart,omitempty"`
	IDEPortRangeEnd   int `yaml:"idePortRangeEnd,omitempty"`

	// MetricsAddr, if set, serves Prometheus /metrics on this address.
	MetricsAddr string `yaml:"metricsAddr,omitempty"`
	// OTLPEndpoint, if set, exports traces to this OTLP/HTTP collector.
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
	OTLPInsecure bool   `yaml:"otlpInsecure,omitempty"`
}

// Default returns snow's built-in defaults, overridden by whatever a
// loaded Config sets explicitly.
func Default() Config {
	return Config{
		BasicModel:        "claude-haiku-4-5",
		AdvancedModel:     "claude-sonnet-4-5",
		ContextWindow:     200_000,
		CompressThreshold: 80,
		MaxRounds:         50,
		MaxEmptyRetries:   3,
		MaxTokens:         8192,
		DataDir:           ".snow",
		HookDir:           ".snow/hooks",
		IDEPortRangeStart: 9527,
		IDEPortRangeEnd:   9537,
	}
}

// Load reads a YAML config file at path, applying Default() for any field
// left zero-valued. A missing file is not an error: Default() alone is
// returned.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	var loaded Config
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	mergeNonZero(&cfg, loaded)
	return cfg, nil
}

func mergeNonZero(dst *Config, src Config) {
	if src.BasicModel != "" {
		dst.BasicModel = src.BasicModel
	}
	if src.AdvancedModel != "" {
		dst.AdvancedModel = src.AdvancedModel
	}
	if src.System != "" {
		dst.System = src.System
	}
	if src.ContextWindow != 0 {
		dst.ContextWindow = src.ContextWindow
	}
	if src.CompressThreshold != 0 {
		dst.CompressThreshold = src.CompressThreshold
	}
	if src.MaxRounds != 0 {
		dst.MaxRounds = src.MaxRounds
	}
	if src.MaxEmptyRetries != 0 {
		dst.MaxEmptyRetries = src.MaxEmptyRetries
	}
	if src.MaxTokens != 0 {
		dst.MaxTokens = src.MaxTokens
	}
	if src.DataDir != "" {
		dst.DataDir = src.DataDir
	}
	if src.HookDir != "" {
		dst.HookDir = src.HookDir
	}
	if src.IDEPortRangeStart != 0 {
		dst.IDEPortRangeStart = src.IDEPortRangeStart
	}
	if src.IDEPortRangeEnd != 0 {
		dst.IDEPortRangeEnd = src.IDEPortRangeEnd
	}
	if src.MetricsAddr != "" {
		dst.MetricsAddr = src.MetricsAddr
	}
	if src.OTLPEndpoint != "" {
		dst.OTLPEndpoint = src.OTLPEndpoint
	}
	dst.YOLO = dst.YOLO || src.YOLO
	dst.OTLPInsecure = dst.OTLPInsecure || src.OTLPInsecure
}

// Profile is a small machine-local override layer, analogous to the
// teacher's internal/profile: unlike the shared, checked-in YAML config,
// a profile lives outside the workspace (e.g. ~/.config/snow/profile.toml)
// and carries per-machine knobs like YOLO mode or a local metrics address.
type Profile struct {
	YOLO        bool   `toml:"yolo"`
	MetricsAddr string `toml:"metrics_addr"`
}

// LoadProfile reads a TOML profile file. A missing file yields a
// zero-value Profile, not an error.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return p, nil
	}
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return p, fmt.Errorf("config: parse profile %s: %w", path, err)
	}
	return p, nil
}

// ApplyProfile overlays a machine-local Profile onto cfg.
func ApplyProfile(cfg Config, p Profile) Config {
	if p.YOLO {
		cfg.YOLO = true
	}
	if p.MetricsAddr != "" {
		cfg.MetricsAddr = p.MetricsAddr
	}
	return cfg
}

var schemaReflector = &jsonschema.Reflector{DoNotReference: true}

// Schema reflects Config's JSON Schema for editor tooling and validation,
// mirroring the teacher's own config-schema export.
func Schema() json.RawMessage {
	s := schemaReflector.Reflect(&Config{})
	payload, err := json.Marshal(s)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return payload
}

// Watcher watches the config file and the permissions file for external
// edits and invokes onChange with which one fired. It debounces bursts of
// fsnotify events (editors often emit write+chmod+rename for one save)
// into a single callback per settle window.
type Watcher struct {
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	done    chan struct{}
}

// NewWatcher watches configPath and permissionsPath (either may be empty
// to skip it) and calls onChange(path) at most once per 250ms burst.
func NewWatcher(logger *slog.Logger, onChange func(path string), paths ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: start watcher: %w", err)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := w.Add(p); err != nil && logger != nil {
			logger.Warn("config: watch failed", "path", p, "error", err)
		}
	}
	watcher := &Watcher{watcher: w, logger: logger, done: make(chan struct{})}

	go func() {
		var pending string
		timer := time.NewTimer(time.Hour)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case <-watcher.done:
				timer.Stop()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = ev.Name
				timer.Reset(250 * time.Millisecond)
			case <-timer.C:
				if pending != "" {
					onChange(pending)
					pending = ""
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if logger != nil {
					logger.Warn("config: watcher error", "error", err)
				}
			}
		}
	}()

	return watcher, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
