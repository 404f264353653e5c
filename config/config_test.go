package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadPartialOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[ack]\ninit_retry_count = 3\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), cfg.Ack.InitRetryCount)
	assert.Equal(t, uint32(8), cfg.Ack.TimeoutCheckDuration)
}

func TestLoadDebugConfigDefaults(t *testing.T) {
	os.Unsetenv("ENABLE_LOOPBACK")
	os.Unsetenv("DROP_THRESHOLD")
	os.Unsetenv("SEED")
	dc := LoadDebugConfig()
	assert.False(t, dc.EnableLoopback)
	assert.Equal(t, float64(0), dc.DropThreshold)
}
