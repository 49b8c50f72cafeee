// Package config loads runner settings from .cibox/config.yaml, layered
// with an optional config.local.yaml and CIBOX_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/shirou/gopsutil/v4/cpu"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/cibox/internal/artifact"
	"github.com/felixgeelhaar/cibox/internal/errors"
	"github.com/felixgeelhaar/cibox/internal/exec"
	"github.com/felixgeelhaar/cibox/internal/telemetry"
)

// Dir is the project-local configuration directory.
const Dir = ".cibox"

// Config holds every runner setting that is not part of a pipeline.
type Config struct {
	Log       LogConfig        `yaml:"log,omitempty"`
	Docker    DockerConfig     `yaml:"docker,omitempty"`
	Run       RunConfig        `yaml:"run,omitempty"`
	Cache     CacheConfig      `yaml:"cache,omitempty"`
	Registry  RegistryConfig   `yaml:"registry,omitempty"`
	Policy    exec.Policy      `yaml:"policy,omitempty"`
	Export    ExportConfig     `yaml:"export,omitempty"`
	Telemetry telemetry.Config `yaml:"telemetry,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format,omitempty"` // "text", "json"
}

type DockerConfig struct {
	Bin  string `yaml:"bin,omitempty"`
	Pull bool   `yaml:"pull,omitempty"` // always pull base images on build
}

type RunConfig struct {
	Parallelism int    `yaml:"parallelism,omitempty"`
	Workspace   string `yaml:"workspace,omitempty"`
	AuditDir    string `yaml:"audit_dir,omitempty"`
	ReportDir   string `yaml:"report_dir,omitempty"`
}

type CacheConfig struct {
	Dir    string        `yaml:"dir,omitempty"`
	MaxAge time.Duration `yaml:"max_age,omitempty"`
}

// RegistryConfig enables pushing built images. An empty Repository
// disables pushing.
type RegistryConfig struct {
	Repository  string        `yaml:"repository,omitempty"`
	Insecure    bool          `yaml:"insecure,omitempty"`
	PushTimeout time.Duration `yaml:"push_timeout,omitempty"`
}

// ExportConfig selects where artifacts go after a run.
type ExportConfig struct {
	Dir string            `yaml:"dir,omitempty"`
	S3  artifact.S3Config `yaml:"s3,omitempty"`
}

// Default returns the built-in configuration. Parallelism follows the
// number of logical CPUs.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Docker: DockerConfig{Bin: "docker"},
		Run: RunConfig{
			Parallelism: DefaultParallelism(),
			ReportDir:   filepath.Join(Dir, "reports"),
		},
		Cache: CacheConfig{
			Dir:    filepath.Join(Dir, "cache"),
			MaxAge: 30 * 24 * time.Hour,
		},
		Registry:  RegistryConfig{PushTimeout: 10 * time.Minute},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// DefaultParallelism returns the logical CPU count, or 2 when it cannot be
// determined.
func DefaultParallelism() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return 2
	}
	return n
}

// Load reads path and its .local sibling over the defaults, then applies
// environment overrides. A missing file is not an error; the defaults are
// used.
func Load(path string) (*Config, error) {
	cfg := Default()
	for _, p := range []string{path, localPath(path)} {
		override, err := readFile(p)
		if err != nil {
			return nil, err
		}
		if override == nil {
			continue
		}
		if err := mergo.Merge(cfg, *override, mergo.WithOverride); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("merge %s", p), err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// DefaultPath returns .cibox/config.yaml under dir.
func DefaultPath(dir string) string {
	return filepath.Join(dir, Dir, "config.yaml")
}

func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, fmt.Sprintf("read config %s", path), err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, fmt.Sprintf("parse config %s", path), err).
			WithSuggestion("Check the YAML syntax of the configuration file")
	}
	return &cfg, nil
}

// ApplyEnv overrides settings from CIBOX_* variables looked up with
// lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("CIBOX_LOG_LEVEL", &c.Log.Level)
	str("CIBOX_LOG_FORMAT", &c.Log.Format)
	str("CIBOX_DOCKER_BIN", &c.Docker.Bin)
	str("CIBOX_WORKSPACE", &c.Run.Workspace)
	str("CIBOX_AUDIT_DIR", &c.Run.AuditDir)
	str("CIBOX_CACHE_DIR", &c.Cache.Dir)
	str("CIBOX_REGISTRY", &c.Registry.Repository)
	str("CIBOX_EXPORT_DIR", &c.Export.Dir)
	str("CIBOX_S3_ENDPOINT", &c.Export.S3.Endpoint)
	str("CIBOX_S3_BUCKET", &c.Export.S3.Bucket)
	str("CIBOX_S3_ACCESS_KEY", &c.Export.S3.AccessKey)
	str("CIBOX_S3_SECRET_KEY", &c.Export.S3.SecretKey)
	str("CIBOX_OTLP_ENDPOINT", &c.Telemetry.Endpoint)

	if v, ok := lookup("CIBOX_PARALLELISM"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(errors.ErrCodeConfigRunnerSettings, "CIBOX_PARALLELISM must be an integer", err)
		}
		c.Run.Parallelism = n
	}
	if c.Telemetry.Endpoint != "" {
		c.Telemetry.Enabled = true
	}
	return nil
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	if c.Run.Parallelism < 1 {
		return errors.Newf(errors.ErrCodeConfigRunnerSettings, "parallelism must be at least 1, got %d", c.Run.Parallelism)
	}
	if c.Docker.Bin == "" {
		return errors.New(errors.ErrCodeConfigRunnerSettings, "docker binary must not be empty")
	}
	if c.Export.S3.Endpoint != "" {
		if err := c.Export.S3.Validate(); err != nil {
			return err
		}
	}
	return nil
}
