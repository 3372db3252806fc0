package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sim", cfg.Device.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Sequencer.SettleDelay)
	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchqc.yaml")
	yaml := `device:
  selector: DINO-QA
  scan_timeout: 5s
sequencer:
  settle_delay: 100ms
store:
  path: /tmp/results.db
logger:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "DINO-QA", cfg.Device.Selector)
	assert.Equal(t, 5*time.Second, cfg.Device.ScanTimeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Sequencer.SettleDelay)
	assert.Equal(t, "/tmp/results.db", cfg.Store.Path)
	assert.Equal(t, "json", cfg.Logger.Format)
	// Untouched fields keep their defaults.
	assert.Equal(t, "6e400001-b5a3-f393-e0a9-e50e24dcca9e", cfg.Device.ServiceUUID)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "benchqc.yaml")
	yaml := `device:
  backend: carrier-pigeon
logger:
  level: loud
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	_, err := Load(path)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok, "expected *ValidationError, got %T", err)
	assert.Len(t, ve.Errors, 2)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("BENCHQC_LOG_LEVEL", "debug")
	t.Setenv("BENCHQC_DB_PATH", "/var/lib/benchqc/results.db")
	t.Setenv("BENCHQC_DEVICE", "AA:BB:CC:DD:EE:FF")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, "/var/lib/benchqc/results.db", cfg.Store.Path)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", cfg.Device.Selector)
}

func TestValidateSettleDelay(t *testing.T) {
	cfg := Defaults()
	cfg.Sequencer.SettleDelay = -1 * time.Second
	err := Validate(cfg)
	require.Error(t, err)
}

func TestValidateStoreDisabledSkipsPathCheck(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Enabled = false
	cfg.Store.Path = ""
	require.NoError(t, Validate(cfg))
}
