// Package cmd implements the CLI commands for gopdec.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/gopdec/internal/config"
	"github.com/jmylchreest/gopdec/internal/engine"
	"github.com/jmylchreest/gopdec/internal/gopcache"
	"github.com/jmylchreest/gopdec/internal/observability"
	"github.com/jmylchreest/gopdec/internal/version"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:     "gopdec",
	Short:   "On-demand GOP-based video frame decoding",
	Version: version.Short(),
	Long: `gopdec decodes arbitrary frames from video files without linear
playback: it indexes key frames, seeks to the group of pictures
containing each requested frame, and decodes only that GOP.

GOPs can also be extracted into self-describing packet bundles,
cached on disk, and decoded later without touching the source file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initConfig()
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ~/.config/gopdec, /etc/gopdec)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// initConfig loads configuration and builds the logger.
// Priority: CLI flag > GOPDEC_* env > config file > default.
func initConfig() error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags override config/env only when explicitly set, so the
	// flag defaults never shadow GOPDEC_LOGGING_LEVEL and friends.
	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ := rootCmd.PersistentFlags().GetString("log-level")
		cfg.Logging.Level = strings.ToLower(level)
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ := rootCmd.PersistentFlags().GetString("log-format")
		cfg.Logging.Format = strings.ToLower(format)
	}

	logger = observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	observability.SetDefault(logger)
	return nil
}

// newEngine builds an engine from the loaded config, wiring in the
// bundle cache when it is enabled. The returned closer tears down the
// engine and the cache janitor.
func newEngine() (*engine.Engine, func(), error) {
	opts := &engine.Options{Logger: observability.WithComponent(logger, "engine")}
	var cache *gopcache.Cache
	if cfg.Cache.Enabled {
		var err error
		cache, err = gopcache.New(cfg.Cache, cfg.Database, observability.WithComponent(logger, "gopcache"))
		if err != nil {
			return nil, nil, fmt.Errorf("opening gop cache: %w", err)
		}
		opts.Cache = cache
	}
	e := engine.New(cfg.Engine, opts)
	return e, func() {
		e.Close()
		if cache != nil {
			cache.Close()
		}
	}, nil
}
