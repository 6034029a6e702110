// Package config provides configuration loading and validation for gopdec.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultCacheMaxSize   = ByteSize(10 * 1024 * 1024 * 1024)
	defaultCacheRetention = Duration(30 * 24 * time.Hour)
)

// Output pixel formats for decoded surfaces.
const (
	OutputFormatRGB  = "rgb"
	OutputFormatNV12 = "nv12"
)

// Config is the root configuration structure.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig controls the decoding engine.
type EngineConfig struct {
	// MaxFiles is the maximum number of distinct source files the reader
	// pool keeps open at once. Zero means unbounded.
	MaxFiles int `mapstructure:"max_files"`

	// ReadersPerFile is the number of readers created per source file.
	ReadersPerFile int `mapstructure:"readers_per_file"`

	// GPUID selects the decode device.
	GPUID int `mapstructure:"gpu_id"`

	// UseDeviceMemPool enables the grow-only device memory pool for
	// decoded surfaces.
	UseDeviceMemPool bool `mapstructure:"use_device_mem_pool"`

	// OutputFormat is the pixel format surfaces are converted to.
	// One of "rgb", "nv12".
	OutputFormat string `mapstructure:"output_format"`

	// SuppressNoColorRangeWarning silences the warning logged when a
	// stream carries no color range metadata.
	SuppressNoColorRangeWarning bool `mapstructure:"suppress_no_color_range_warning"`

	// WorkerQueueSize bounds each pipeline worker's pending task queue.
	WorkerQueueSize int `mapstructure:"worker_queue_size"`
}

// CacheConfig controls the on-disk GOP bundle cache.
type CacheConfig struct {
	// Enabled turns the bundle cache on.
	Enabled bool `mapstructure:"enabled"`

	// Dir is the cache directory.
	Dir string `mapstructure:"dir"`

	// Compression selects the codec for cached bundles.
	// One of "none", "gzip", "xz", "brotli", "bzip2".
	Compression string `mapstructure:"compression"`

	// MaxSize caps the total cache size on disk.
	MaxSize ByteSize `mapstructure:"max_size"`

	// Retention is how long unused cache entries are kept.
	Retention Duration `mapstructure:"retention"`

	// CleanupSchedule is a cron expression for the cache janitor.
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

// DatabaseConfig controls the cache manifest store.
type DatabaseConfig struct {
	// Driver is one of "sqlite", "postgres", "mysql".
	Driver string `mapstructure:"driver"`

	// DSN is the driver-specific connection string. For sqlite this is
	// a file path; empty means a file under the cache directory.
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of "trace", "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`

	// Format is one of "text", "json".
	Format string `mapstructure:"format"`

	// AddSource includes source file/line in log records.
	AddSource bool `mapstructure:"add_source"`

	// TimeFormat is a Go time layout for log timestamps. Empty keeps the
	// handler's default.
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from the given file path (optional) and the
// environment. Environment variables use the GOPDEC_ prefix with
// underscores for nesting, e.g. GOPDEC_ENGINE_MAX_FILES.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gopdec")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/gopdec")
		v.AddConfigPath("/etc/gopdec")
	}

	v.SetEnvPrefix("GOPDEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine when no explicit path was given;
		// defaults plus environment are enough.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	// Engine
	v.SetDefault("engine.max_files", 0)
	v.SetDefault("engine.readers_per_file", 1)
	v.SetDefault("engine.gpu_id", 0)
	v.SetDefault("engine.use_device_mem_pool", true)
	v.SetDefault("engine.output_format", "rgb")
	v.SetDefault("engine.suppress_no_color_range_warning", false)
	v.SetDefault("engine.worker_queue_size", 64)

	// Cache
	v.SetDefault("cache.enabled", false)
	v.SetDefault("cache.dir", "./gopdec-cache")
	v.SetDefault("cache.compression", "none")
	v.SetDefault("cache.max_size", int64(defaultCacheMaxSize))
	v.SetDefault("cache.retention", int64(defaultCacheRetention))
	v.SetDefault("cache.cleanup_schedule", "0 * * * *")

	// Database
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")
}

// Validate checks configuration values for consistency.
func (c *Config) Validate() error {
	if c.Engine.MaxFiles < 0 {
		return fmt.Errorf("engine.max_files must be >= 0, got %d", c.Engine.MaxFiles)
	}
	if c.Engine.ReadersPerFile < 1 {
		return fmt.Errorf("engine.readers_per_file must be >= 1, got %d", c.Engine.ReadersPerFile)
	}
	if c.Engine.GPUID < 0 {
		return fmt.Errorf("engine.gpu_id must be >= 0, got %d", c.Engine.GPUID)
	}
	if c.Engine.WorkerQueueSize < 1 {
		return fmt.Errorf("engine.worker_queue_size must be >= 1, got %d", c.Engine.WorkerQueueSize)
	}

	validFormats := map[string]bool{OutputFormatRGB: true, OutputFormatNV12: true}
	if !validFormats[c.Engine.OutputFormat] {
		return fmt.Errorf("engine.output_format must be one of rgb, nv12; got %q", c.Engine.OutputFormat)
	}

	validCompression := map[string]bool{"none": true, "gzip": true, "xz": true, "brotli": true, "bzip2": true}
	if !validCompression[c.Cache.Compression] {
		return fmt.Errorf("cache.compression must be one of none, gzip, xz, brotli, bzip2; got %q", c.Cache.Compression)
	}
	if c.Cache.Enabled && c.Cache.Dir == "" {
		return fmt.Errorf("cache.dir must be set when cache is enabled")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must be >= 0")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of sqlite, postgres, mysql; got %q", c.Database.Driver)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of trace, debug, info, warn, error; got %q", c.Logging.Level)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("logging.format must be one of text, json; got %q", c.Logging.Format)
	}

	return nil
}
