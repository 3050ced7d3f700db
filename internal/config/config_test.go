package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bwbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nbridge:\n  port: 6112\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 6112, cfg.Bridge.Port)
	// Unset fields still come from defaults.
	require.Equal(t, Default().Relay, cfg.Relay)
}

func TestLoadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o644))

	t.Setenv(EnvOverride, path)
	cfg, err := Load("/nonexistent/path.yaml")
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
}

func TestWireConfigMaxPayloadSize(t *testing.T) {
	w := WireConfig{MTUFloor: 1200, UDPIPOverhead: 68, RelayOverhead: 13}
	require.Equal(t, 1200-68-13-25, w.MaxPayloadSize(25))
}

func TestWireConfigMaxPayloadSizeFloorsAtZero(t *testing.T) {
	w := WireConfig{MTUFloor: 100, UDPIPOverhead: 68, RelayOverhead: 13}
	require.Equal(t, 0, w.MaxPayloadSize(1000))
}
