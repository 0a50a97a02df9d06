package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.Presence.TTL)
	assert.Equal(t, "hearth-", cfg.LiveKit.RoomPrefix)
	assert.Empty(t, cfg.Store.PostgresDSN)
	assert.Equal(t, 100*time.Millisecond, cfg.Agent.Motion.SampleInterval)
	assert.Equal(t, uint8(32), cfg.Agent.Motion.PixelThreshold)
	assert.Equal(t, 64, cfg.Agent.Motion.FrameWidth)
}

func TestLoadReadsEnvSelectedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	yaml := `
port: 9090
presence:
  ttl: 45s
agent:
  device_id: cam-kitchen
  group_id: fam
  motion:
    local_timeout: 12s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "config.test.yaml"), []byte(yaml), 0o644))
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 45*time.Second, cfg.Presence.TTL)
	assert.Equal(t, "cam-kitchen", cfg.Agent.DeviceID)
	assert.Equal(t, "fam", cfg.Agent.GroupID)
	assert.Equal(t, 12*time.Second, cfg.Agent.Motion.LocalTimeout)
	// Unset keys still fall back to defaults.
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 15*time.Second, cfg.Agent.Motion.HeartbeatInterval)
}
