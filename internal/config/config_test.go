package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func noEnv(string) (string, bool) { return "", false }

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "docker", cfg.Docker.Bin)
	assert.GreaterOrEqual(t, cfg.Run.Parallelism, 1)
	assert.Equal(t, filepath.Join(".cibox", "cache"), cfg.Cache.Dir)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Docker, cfg.Docker)
}

func TestLoad_LocalOverride(t *testing.T) {
	dir := t.TempDir()
	path := DefaultPath(dir)
	writeConfig(t, path, `
log:
  level: debug
run:
  parallelism: 3
cache:
  max_age: 48h
policy:
  allowed_bases: ["python:*"]
`)
	writeConfig(t, filepath.Join(dir, ".cibox", "config.local.yaml"), `
run:
  parallelism: 6
docker:
  bin: podman
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset fields keep defaults")
	assert.Equal(t, 6, cfg.Run.Parallelism)
	assert.Equal(t, "podman", cfg.Docker.Bin)
	assert.Equal(t, 48*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, []string{"python:*"}, cfg.Policy.AllowedBases)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "run: [unclosed")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigInvalid, errors.CodeOf(err))
}

func TestLoad_InvalidParallelism(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "run:\n  parallelism: -1\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigRunnerSettings, errors.CodeOf(err))
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CIBOX_LOG_FORMAT":    "json",
		"CIBOX_PARALLELISM":   "5",
		"CIBOX_REGISTRY":      "registry.example.com/ci",
		"CIBOX_OTLP_ENDPOINT": "localhost:4318",
		"CIBOX_S3_BUCKET":     "artifacts",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Run.Parallelism)
	assert.Equal(t, "registry.example.com/ci", cfg.Registry.Repository)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "artifacts", cfg.Export.S3.Bucket)
}

func TestApplyEnv_BadParallelism(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "CIBOX_PARALLELISM" {
			return "many", true
		}
		return "", false
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConfigRunnerSettings, errors.CodeOf(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr errors.ErrorCode
	}{
		{"defaults", func(*Config) {}, ""},
		{"zero parallelism", func(c *Config) { c.Run.Parallelism = 0 }, errors.ErrCodeConfigRunnerSettings},
		{"empty docker bin", func(c *Config) { c.Docker.Bin = "" }, errors.ErrCodeConfigRunnerSettings},
		{"s3 without bucket", func(c *Config) { c.Export.S3.Endpoint = "localhost:9000" }, errors.ErrCodeConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.ApplyEnv(noEnv))
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.wantErr, errors.CodeOf(err))
		})
	}
}

func TestLocalPath(t *testing.T) {
	assert.Equal(t, filepath.Join("a", "config.local.yaml"), localPath(filepath.Join("a", "config.yaml")))
}
