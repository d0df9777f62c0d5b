package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spaghettifunk/anima-rhi/engine/core"
	"github.com/spaghettifunk/anima-rhi/engine/renderer"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, uint32(5), cfg.Streamer.MaxLoaderInstancesPerType)
	require.Equal(t, time.Millisecond, cfg.Streamer.FlushPollInterval.Duration)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[log]
level = "debug"

[streamer]
max_loader_instances_per_type = 2
flush_poll_interval = "250us"

[renderer]
backend = "null"
upload_latency = "0s"
`))
	require.NoError(t, err)

	level, err := cfg.LogLevel()
	require.NoError(t, err)
	require.Equal(t, core.DebugLevel, level)
	require.Equal(t, uint32(2), cfg.Streamer.MaxLoaderInstancesPerType)
	require.Equal(t, 250*time.Microsecond, cfg.Streamer.FlushPollInterval.Duration)
	require.Equal(t, time.Duration(0), cfg.Renderer.UploadLatency.Duration)

	// untouched sections keep their defaults
	require.Equal(t, "assets", cfg.Assets.Directory)
	require.Equal(t, uint32(1024), cfg.Resources.MaxTextures)

	bt, err := cfg.BackendType()
	require.NoError(t, err)
	require.Equal(t, renderer.BackendTypeNull, bt)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("[streamer]\nmax_loader_instances_per_type = 0\n"))
	require.ErrorContains(t, err, "max_loader_instances_per_type")

	_, err = Parse([]byte("[streamer]\nflush_poll_interval = \"soon\"\n"))
	require.Error(t, err)

	_, err = Parse([]byte("[renderer]\nbackend = \"metal\"\n"))
	require.ErrorContains(t, err, "renderer.backend")

	_, err = Parse([]byte("[streamer]\nunknown_key = 1\n"))
	require.Error(t, err)
}

func TestLoad_RoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Application.Name = "round trip"
	cfg.Streamer.FlushPollInterval = Duration{3 * time.Millisecond}

	data, err := Encode(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "anima.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
