package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultMaxImageBytes = 20 * 1024 * 1024
	DefaultMaxVideoBytes = 100 * 1024 * 1024
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("data.dir", "./data")
	v.SetDefault("serve.dir", "./serve")

	v.SetDefault("workers", 2)
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.window", 60*time.Second)

	v.SetDefault("queue.deny_policy", "requeue")
	v.SetDefault("queue.requeue_backoff", time.Second)
	v.SetDefault("queue.job_timeout", 10*time.Minute)

	v.SetDefault("limits.max_image_bytes", DefaultMaxImageBytes)
	v.SetDefault("limits.max_video_bytes", DefaultMaxVideoBytes)

	v.SetDefault("transcode.ffmpeg", "ffmpeg")
	v.SetDefault("transcode.ffprobe", "ffprobe")
	v.SetDefault("transcode.temp_dir", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.clock_skew", 30*time.Second)

	v.SetDefault("retention.max_age", 30*24*time.Hour)
	v.SetDefault("retention.interval", 24*time.Hour)

	v.SetDefault("log.file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}
