package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cloud.yaml")
	content := `
port: "7070"
storage:
  type: fs
  config:
    base_dir: ` + filepath.Join(dir, "blobs") + `
limits:
  max_object_bytes: 1024
  quota_ceiling_bytes: 4096
  max_recipients: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(WithFile(path))
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "fs", cfg.Storage.Type)
	assert.Equal(t, int64(4096), cfg.Limits.QuotaCeilingBytes)
	assert.Equal(t, 7, cfg.Limits.MaxRecipients)
	// untouched keys keep defaults
	assert.Equal(t, "memory", cfg.DatabaseType)

	fsCfg, err := cfg.fsConfig()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "blobs"), fsCfg.BaseDir)
}

func TestWithFileMissing(t *testing.T) {
	_, err := Load(WithFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)

	_, err = Load(WithFile(""))
	assert.Error(t, err)
}

func TestWithFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = \"7070\"\n"), 0o600))
	t.Setenv("CLOUD_PORT", "6060")

	cfg, err := Load(WithFile(path), WithEnv())
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Port)
}
