package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Config is the typed view of every mediaconv setting.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Data      DataConfig      `mapstructure:"data"`
	Serve     ServeConfig     `mapstructure:"serve"`
	Workers   int             `mapstructure:"workers"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Limits    LimitsConfig    `mapstructure:"limits"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Retention RetentionConfig `mapstructure:"retention"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

type ServeConfig struct {
	Dir string `mapstructure:"dir"`
}

// RateLimitConfig configures the fixed-window admission limiter.
type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

// QueueConfig configures scheduler behavior around admission denials and
// per-job deadlines.
type QueueConfig struct {
	DenyPolicy     string        `mapstructure:"deny_policy"` // "requeue" or "fail"
	RequeueBackoff time.Duration `mapstructure:"requeue_backoff"`
	JobTimeout     time.Duration `mapstructure:"job_timeout"`
}

type LimitsConfig struct {
	MaxImageBytes int64 `mapstructure:"max_image_bytes"`
	MaxVideoBytes int64 `mapstructure:"max_video_bytes"`
}

type TranscodeConfig struct {
	FFmpeg  string `mapstructure:"ffmpeg"`
	FFprobe string `mapstructure:"ffprobe"`
	TempDir string `mapstructure:"temp_dir"`
}

// AuthConfig enables bearer JWT verification on uploads when JWTSecret is
// set.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	ClockSkew time.Duration `mapstructure:"clock_skew"`
}

type RetentionConfig struct {
	MaxAge   time.Duration `mapstructure:"max_age"`
	Interval time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

var (
	viperInstance *viper.Viper
	viperMu       sync.Mutex
)

// GetViper returns the process-wide Viper instance, creating it on first
// use with defaults and MEDIACONV_* environment binding.
func GetViper() *viper.Viper {
	viperMu.Lock()
	defer viperMu.Unlock()
	if viperInstance == nil {
		viperInstance = newViper()
	}
	return viperInstance
}

// Reset drops the cached Viper instance (used by tests).
func Reset() {
	viperMu.Lock()
	defer viperMu.Unlock()
	viperInstance = nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MEDIACONV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads the process-wide configuration. A TOML file named by the
// "config" key (--config flag or MEDIACONV_CONFIG) is merged when present.
func Load() (*Config, error) {
	v := GetViper()
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	return LoadWithViper(v)
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a specific TOML file on top of the
// defaults. Environment variables are not consulted.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return LoadWithViper(v)
}

// Validate rejects values the scheduler and limiter cannot work with.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.RateLimit.Limit < 1 {
		return fmt.Errorf("rate_limit.limit must be at least 1, got %d", c.RateLimit.Limit)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive, got %s", c.RateLimit.Window)
	}
	switch c.Queue.DenyPolicy {
	case "requeue", "fail":
	default:
		return fmt.Errorf("queue.deny_policy must be requeue or fail, got %q", c.Queue.DenyPolicy)
	}
	if c.Queue.JobTimeout < 0 {
		return fmt.Errorf("queue.job_timeout must not be negative")
	}
	if c.Limits.MaxImageBytes <= 0 || c.Limits.MaxVideoBytes <= 0 {
		return fmt.Errorf("limits must be positive")
	}
	if c.Retention.MaxAge <= 0 || c.Retention.Interval <= 0 {
		return fmt.Errorf("retention.max_age and retention.interval must be positive")
	}
	return nil
}
