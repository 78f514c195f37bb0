package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, configFileName), []byte(content), 0644))
}

func TestLoadConfig_DefaultOnly(t *testing.T) {
	tempDir := t.TempDir()

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	want := GetDefaultConfig()
	assert.Equal(t, want.Supervision, cfg.Supervision)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(tempDir, templatesDirName), cfg.Templates.Directory)
}

func TestLoadConfig_Override(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
supervision:
  operationTimeout: 30s
  maxRetries: 0
storage:
  driver: bolt
  path: state.db
logging:
  level: debug
  format: json
participants:
  - id: sim-1
    supportedElementTypes: [helm]
    simulator:
      delay: 250ms
      fail: [DEPLOY]
`)

	cfg, err := LoadConfig(tempDir)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Supervision.OperationTimeout)
	assert.Equal(t, 0, cfg.Supervision.MaxRetries)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, DefaultScanInterval, cfg.Supervision.ScanInterval)
	assert.Equal(t, filepath.Join(tempDir, "state.db"), cfg.Storage.Path)
	assert.Equal(t, "json", cfg.Logging.Format)

	require.Len(t, cfg.Participants, 1)
	p := cfg.Participants[0]
	assert.Equal(t, ParticipantSimulator, p.Kind)
	assert.Equal(t, DefaultHeartbeatInterval, p.HeartbeatInterval)
	assert.Equal(t, 250*time.Millisecond, p.Simulator.Delay)
	assert.Equal(t, []string{"DEPLOY"}, p.Simulator.Fail)
}

func TestLoadConfig_Malformed(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, "supervision: [not, a, map")

	_, err := LoadConfig(tempDir)
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, `
storage:
  driver: postgres
`)

	_, err := LoadConfig(tempDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.driver")
}
