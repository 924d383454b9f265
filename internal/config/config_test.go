package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoad_OverridesOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("advancedModel: gpt-5\nyolo: true\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "gpt-5", cfg.AdvancedModel)
	require.True(t, cfg.YOLO)
	require.Equal(t, Default().BasicModel, cfg.BasicModel)
	require.Equal(t, Default().ContextWindow, cfg.ContextWindow)
}

func TestLoadProfile_MissingFileIsZeroValue(t *testing.T) {
	p, err := LoadProfile(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Profile{}, p)
}

func TestApplyProfile_OverlaysYOLOAndMetricsAddr(t *testing.T) {
	cfg := Default()
	cfg = ApplyProfile(cfg, Profile{YOLO: true, MetricsAddr: "127.0.0.1:9090"})
	require.True(t, cfg.YOLO)
	require.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr)
}

func TestSchema_IsValidJSON(t *testing.T) {
	raw := Schema()
	require.NotEmpty(t, raw)
	require.Contains(t, string(raw), "basicModel")
}

func TestWatcher_FiresOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("yolo: false\n"), 0o644))

	changed := make(chan string, 1)
	w, err := NewWatcher(nil, func(p string) { changed <- p }, path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("yolo: true\n"), 0o644))

	select {
	case p := <-changed:
		require.Equal(t, path, p)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not fire within timeout")
	}
}
