package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0, cfg.WorkerCount)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.False(t, cfg.VerifyMigrations)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"worker_count": 8, "verify_migrations": true}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.True(t, cfg.VerifyMigrations)
}

func TestEnvironmentOverridesTakePrecedenceOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"worker_count": 8}`), 0o644))

	t.Setenv("TASKRUN_WORKERS", "16")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.WorkerCount)
}

func TestValidateRejectsNegativeWorkerCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"worker_count": -1}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveToFileRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := DefaultConfig()
	cfg.WorkerCount = 4
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.WorkerCount)
}
