package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/antisplit/pkg/errors"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte("log:\n  level: debug\n"), 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.True(t, cfg.Merge.Sign)
	assert.GreaterOrEqual(t, cfg.Merge.Workers, 1)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.NotEmpty(t, cfg.Database.Path)
	assert.Equal(t, "rsa", cfg.Signing.Algorithm)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 3, cfg.Storage.Retries)
	assert.True(t, cfg.Device.IsZero())
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.yaml")
	content := `
merge:
  work_dir: /tmp/antisplit-work
  sign: false
  workers: 3
  splits: [config.en]
device:
  abis: [arm64-v8a, armeabi-v7a]
  density: 480
  locales: [en-US]
signing:
  cert: cert.pem
  key: key.pem
database:
  type: postgres
  host: db.example.com
  port: 5432
  database: antisplit
storage:
  type: cos
  bucket: test-bucket
  region: ap-guangzhou
  secret_id: test-id
  secret_key: test-key
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0o644))

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/antisplit-work", cfg.Merge.WorkDir)
	assert.False(t, cfg.Merge.Sign)
	assert.Equal(t, 3, cfg.Merge.Workers)
	assert.Equal(t, []string{"config.en"}, cfg.Merge.Splits)
	assert.Equal(t, []string{"arm64-v8a", "armeabi-v7a"}, cfg.Device.ABIs)
	assert.Equal(t, 480, cfg.Device.Density)
	assert.Equal(t, []string{"en"}, cfg.Device.Languages())
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, "test-bucket", cfg.Storage.Bucket)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ANTISPLIT_MERGE_SIGN", "false")
	t.Setenv("ANTISPLIT_DEVICE_DENSITY", "320")

	cfg, err := LoadFromReader("yaml", []byte("merge:\n  sign: true\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Merge.Sign)
	assert.Equal(t, 320, cfg.Device.Density)
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Merge:    MergeConfig{Workers: 1},
			Database: DatabaseConfig{Type: "sqlite", Path: "h.db"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown database", func(c *Config) { c.Database.Type = "oracle" }, "unsupported database type"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database path is required"},
		{"mysql without host", func(c *Config) { c.Database.Type = "mysql" }, "database host is required"},
		{"no workers", func(c *Config) { c.Merge.Workers = 0 }, "merge workers must be at least 1"},
		{"negative density", func(c *Config) { c.Device.Density = -1 }, "density must not be negative"},
		{"cert without key", func(c *Config) { c.Signing.Cert = "c.pem" }, "must be given together"},
		{"bad algorithm", func(c *Config) { c.Signing.Algorithm = "dsa" }, "unsupported signing algorithm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRunDir(t *testing.T) {
	cfg := &Config{Merge: MergeConfig{WorkDir: "/tmp/work"}}
	assert.Equal(t, "/tmp/work/task-uuid-123", cfg.RunDir("task-uuid-123"))
}

func TestEnsureWorkDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	cfg := &Config{Merge: MergeConfig{WorkDir: dir}}
	require.NoError(t, cfg.EnsureWorkDir())
	_, err := os.Stat(dir)
	assert.NoError(t, err)
}
