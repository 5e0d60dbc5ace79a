// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sethvargo/go-envconfig"

	"github.com/maauso/trimflow/internal/media"
	"github.com/maauso/trimflow/internal/silence"
	"github.com/maauso/trimflow/internal/storage"
)

// ErrInvalidConfig is returned when a loaded value is out of range.
var ErrInvalidConfig = errors.New("config: invalid value")

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port      int `env:"PORT, default=8080" json:"port" validate:"min=1,max=65535"`
	QueueSize int `env:"QUEUE_SIZE, default=16" json:"queue_size" validate:"min=1"`
	// MediaRoot confines the paths jobs may read and write. Required by serve.
	MediaRoot string `env:"MEDIA_ROOT" json:"media_root,omitempty"`
	// CORSOrigins is a comma-separated list; "*" allows any origin. Empty allows none.
	CORSOrigins []string `env:"CORS_ALLOWED_ORIGINS" json:"cors_allowed_origins,omitempty"`

	// Tool settings
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path" validate:"required"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path" validate:"required"`

	// Storage settings
	TempDir         string        `env:"TEMP_DIR, default=/tmp/trimflow" json:"temp_dir" validate:"required"`
	CleanupAttempts int           `env:"CLEANUP_ATTEMPTS, default=3" json:"cleanup_attempts" validate:"min=1"`
	CleanupBackoff  time.Duration `env:"CLEANUP_BACKOFF, default=500ms" json:"cleanup_backoff" validate:"gte=0"`

	// Processing settings
	SilenceThresholdDB float64       `env:"SILENCE_THRESHOLD_DB, default=-30" json:"silence_threshold_db" validate:"gte=-120,lte=0"`
	MinSilenceDuration float64       `env:"MIN_SILENCE_DURATION, default=0.5" json:"min_silence_duration" validate:"gt=0"`
	OutputSuffix       string        `env:"OUTPUT_SUFFIX, default=_trimmed" json:"output_suffix" validate:"required"`
	EncodePreset       string        `env:"ENCODE_PRESET, default=ultrafast" json:"encode_preset" validate:"oneof=ultrafast superfast veryfast faster fast medium slow slower veryslow"`
	AnalysisTimeout    time.Duration `env:"ANALYSIS_TIMEOUT, default=0s" json:"analysis_timeout" validate:"gte=0"`
	ExtractTimeout     time.Duration `env:"EXTRACT_TIMEOUT, default=30s" json:"extract_timeout" validate:"gt=0"`
	ConcatTimeout      time.Duration `env:"CONCAT_TIMEOUT, default=60s" json:"concat_timeout" validate:"gt=0"`
	KillGrace          time.Duration `env:"KILL_GRACE, default=2s" json:"kill_grace" validate:"gt=0"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty" validate:"omitempty,url"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// S3Config returns the settings for storage.NewS3Publisher.
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Bucket:          c.S3Bucket,
		Region:          c.S3Region,
		Endpoint:        c.S3Endpoint,
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
	}
}

// SilenceOptions returns the default detection settings.
func (c *Config) SilenceOptions() silence.Options {
	return silence.Options{ThresholdDB: c.SilenceThresholdDB, MinDuration: c.MinSilenceDuration}
}

// EncodeOptions returns the clip encoding settings.
func (c *Config) EncodeOptions() media.EncodeOptions {
	opts := media.DefaultEncodeOptions()
	opts.Preset = c.EncodePreset
	return opts
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(ctx, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// NewLogger creates a structured logger writing to stdout.
func (c *Config) NewLogger() *slog.Logger {
	return c.NewLoggerTo(os.Stdout)
}

// NewLoggerTo creates a structured logger writing to w. When LogFormat is
// "json", it outputs JSON logs suitable for production. Otherwise, it outputs
// human-readable text logs.
func (c *Config) NewLoggerTo(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, MediaRoot: %s, TempDir: %s, FFmpegPath: %s, FFprobePath: %s, SilenceThresholdDB: %g, MinSilenceDuration: %g, ExtractTimeout: %s, ConcatTimeout: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.MediaRoot,
		c.TempDir,
		c.FFmpegPath,
		c.FFprobePath,
		c.SilenceThresholdDB,
		c.MinSilenceDuration,
		c.ExtractTimeout,
		c.ConcatTimeout,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
