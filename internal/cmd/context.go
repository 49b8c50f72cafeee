package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cibox/internal/config"
	"github.com/felixgeelhaar/cibox/internal/log"
)

// CommandContext holds the persistent flags and the configuration they
// select, so commands do not read globals.
type CommandContext struct {
	Verbose bool
	Format  string
	NoColor bool

	Config *config.Config
	Logger *log.Logger
}

// NewCommandContext loads the configuration and applies flag overrides.
// Commands should call this first in their RunE function.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	flags := cmd.Flags()

	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, err
	}
	format, err := flags.GetString("format")
	if err != nil {
		return nil, err
	}
	noColor, err := flags.GetBool("no-color")
	if err != nil {
		return nil, err
	}
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = config.DefaultPath(".")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v, _ := flags.GetString("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		noColor = true
	}

	logger := log.New(log.FromStrings(cfg.Log.Level, cfg.Log.Format))
	log.SetDefaultLogger(logger)

	return &CommandContext{
		Verbose: verbose,
		Format:  format,
		NoColor: noColor,
		Config:  cfg,
		Logger:  logger,
	}, nil
}
