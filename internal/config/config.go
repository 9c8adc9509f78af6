// Package config provides configuration management for vodarr using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8765
	defaultRequestTimeout  = 30 * time.Second
	defaultServerTimeout   = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second

	defaultSegmentDuration = 4
	defaultABRMaxVariants  = 4
	defaultRetryCount      = 3
	defaultStallTimeout    = 120

	defaultJobRetention    = 2 * time.Minute
	defaultJobsMaxTotal    = 50
	defaultJobsMaxTerminal = 10

	defaultWSMaxSubscribers = 1000
	defaultAPIRatePerMinute = 600
)

// Config holds all configuration for the application.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Transcoding TranscodingConfig `mapstructure:"transcoding"`
	Hardware    HardwareConfig    `mapstructure:"hardware"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	FFmpeg      FFmpegConfig      `mapstructure:"ffmpeg"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// BaseURL overrides the scheme://host used when building absolute
	// stream and download URLs. Empty derives them from the request.
	BaseURL string `mapstructure:"base_url"`
}

// TranscodingConfig holds job execution configuration.
type TranscodingConfig struct {
	// MaxConcurrentJobs caps simultaneous transcodes. 0 means derive the
	// cap from the detected hardware tier.
	MaxConcurrentJobs int    `mapstructure:"max_concurrent_jobs"`
	SegmentDurationS  int    `mapstructure:"segment_duration_s"`
	TempDirectory     string `mapstructure:"temp_directory"`
	EnableABR         bool   `mapstructure:"enable_abr"`
	ABRMaxVariants    int    `mapstructure:"abr_max_variants"`
	ToneMapHDR        bool   `mapstructure:"tone_map_hdr"`
	RetryCount        int    `mapstructure:"retry_count"`
	StallTimeoutS     int    `mapstructure:"stall_timeout_s"`
}

// HardwareConfig holds encoder selection configuration.
type HardwareConfig struct {
	PreferHWAccel      bool   `mapstructure:"prefer_hw_accel"`
	FallbackToSoftware bool   `mapstructure:"fallback_to_software"`
	NVENCPreset        string `mapstructure:"nvenc_preset"`
}

// SecurityConfig holds API authentication configuration.
type SecurityConfig struct {
	// APIKey protects the API and WebSocket surface when non-empty.
	APIKey string `mapstructure:"api_key" masq:"secret"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// JobsConfig holds registry retention configuration.
type JobsConfig struct {
	Retention   time.Duration `mapstructure:"retention"`
	MaxTotal    int           `mapstructure:"max_total"`
	MaxTerminal int           `mapstructure:"max_terminal"`
}

// LimitsConfig holds connection and rate limits.
type LimitsConfig struct {
	WSMaxSubscribers int `mapstructure:"ws_max_subscribers"`
	APIRatePerMinute int `mapstructure:"api_rate_per_minute"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // path to ffmpeg (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // path to ffprobe (empty = auto-detect)
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with VODARR_, using underscores for nesting.
// Example: VODARR_SERVER_PORT=8765.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vodarr")
		v.AddConfigPath("$HOME/.vodarr")
	}

	v.SetEnvPrefix("VODARR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// A missing config file is fine, defaults and env vars apply.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.request_timeout", defaultRequestTimeout)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.base_url", "")

	v.SetDefault("transcoding.max_concurrent_jobs", 0)
	v.SetDefault("transcoding.segment_duration_s", defaultSegmentDuration)
	v.SetDefault("transcoding.temp_directory", filepath.Join(os.TempDir(), "vodarr"))
	v.SetDefault("transcoding.enable_abr", true)
	v.SetDefault("transcoding.abr_max_variants", defaultABRMaxVariants)
	v.SetDefault("transcoding.tone_map_hdr", true)
	v.SetDefault("transcoding.retry_count", defaultRetryCount)
	v.SetDefault("transcoding.stall_timeout_s", defaultStallTimeout)

	v.SetDefault("hardware.prefer_hw_accel", true)
	v.SetDefault("hardware.fallback_to_software", true)
	v.SetDefault("hardware.nvenc_preset", "p4")

	v.SetDefault("security.api_key", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("jobs.retention", defaultJobRetention)
	v.SetDefault("jobs.max_total", defaultJobsMaxTotal)
	v.SetDefault("jobs.max_terminal", defaultJobsMaxTerminal)

	v.SetDefault("limits.ws_max_subscribers", defaultWSMaxSubscribers)
	v.SetDefault("limits.api_rate_per_minute", defaultAPIRatePerMinute)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}

	if c.Transcoding.MaxConcurrentJobs < 0 {
		return fmt.Errorf("transcoding.max_concurrent_jobs must be >= 0 (0 = auto)")
	}
	if c.Transcoding.SegmentDurationS < 1 || c.Transcoding.SegmentDurationS > 30 {
		return fmt.Errorf("transcoding.segment_duration_s must be between 1 and 30")
	}
	if c.Transcoding.TempDirectory == "" {
		return fmt.Errorf("transcoding.temp_directory is required")
	}
	if c.Transcoding.ABRMaxVariants < 1 {
		return fmt.Errorf("transcoding.abr_max_variants must be at least 1")
	}
	if c.Transcoding.RetryCount < 0 {
		return fmt.Errorf("transcoding.retry_count must be >= 0")
	}
	if c.Transcoding.StallTimeoutS < 1 {
		return fmt.Errorf("transcoding.stall_timeout_s must be at least 1")
	}

	validPresets := map[string]bool{
		"p1": true, "p2": true, "p3": true, "p4": true,
		"p5": true, "p6": true, "p7": true,
	}
	if !validPresets[c.Hardware.NVENCPreset] {
		return fmt.Errorf("hardware.nvenc_preset must be one of p1..p7")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("jobs.retention must be positive")
	}
	if c.Jobs.MaxTotal < 1 {
		return fmt.Errorf("jobs.max_total must be at least 1")
	}
	if c.Jobs.MaxTerminal < 1 || c.Jobs.MaxTerminal > c.Jobs.MaxTotal {
		return fmt.Errorf("jobs.max_terminal must be between 1 and jobs.max_total")
	}

	if c.Limits.WSMaxSubscribers < 1 {
		return fmt.Errorf("limits.ws_max_subscribers must be at least 1")
	}
	if c.Limits.APIRatePerMinute < 1 {
		return fmt.Errorf("limits.api_rate_per_minute must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StallTimeout returns the stall watchdog timeout as a duration.
func (c *TranscodingConfig) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutS) * time.Second
}

// SegmentDuration returns the HLS segment target duration.
func (c *TranscodingConfig) SegmentDuration() time.Duration {
	return time.Duration(c.SegmentDurationS) * time.Second
}
