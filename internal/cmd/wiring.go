package cmd

import (
	"github.com/felixgeelhaar/cibox/internal/artifact"
	"github.com/felixgeelhaar/cibox/internal/config"
	"github.com/felixgeelhaar/cibox/internal/exec"
	"github.com/felixgeelhaar/cibox/internal/image"
	"github.com/felixgeelhaar/cibox/internal/log"
	"github.com/felixgeelhaar/cibox/internal/metrics"
)

// newResolver builds the image resolver described by cfg. The persisted
// cache manifest is loaded; a corrupt manifest only costs rebuilds.
func newResolver(cfg *config.Config, logger *log.Logger, m *metrics.Metrics) *image.Resolver {
	cache := image.NewCache(cfg.Cache.Dir)
	if err := cache.Load(); err != nil {
		logger.WithError(err).Warn("ignoring unreadable image cache manifest")
	}

	builder := image.NewDockerBuilder(cfg.Docker.Bin)
	builder.Pull = cfg.Docker.Pull

	opts := []image.Option{image.WithLogger(logger), image.WithMetrics(m)}
	if cfg.Registry.Repository != "" {
		opts = append(opts,
			image.WithPusher(image.NewRegistryPusher(cfg.Registry.Repository, cfg.Docker.Bin, cfg.Registry.Insecure)),
			image.WithPushTimeout(cfg.Registry.PushTimeout),
		)
	}
	return image.NewResolver(cache, builder, opts...)
}

func newRunner(cfg *config.Config, logger *log.Logger) *exec.DockerRunner {
	runner := exec.NewDockerRunner(cfg.Docker.Bin)
	runner.Logger = logger
	policy := cfg.Policy
	runner.Policy = &policy
	return runner
}

// newExporters returns the artifact exporters enabled in cfg, with dir
// overriding the configured export directory when set.
func newExporters(cfg *config.Config, dir string) ([]artifact.Exporter, error) {
	var out []artifact.Exporter
	if dir == "" {
		dir = cfg.Export.Dir
	}
	if dir != "" {
		out = append(out, &artifact.DirExporter{Dir: dir})
	}
	if cfg.Export.S3.Endpoint != "" {
		s3, err := artifact.NewS3Exporter(cfg.Export.S3)
		if err != nil {
			return nil, err
		}
		out = append(out, s3)
	}
	return out, nil
}
