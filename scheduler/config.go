package scheduler

import (
	"time"

	"mediaconv/models"
)

// DenyPolicy decides what happens to a job the limiter refuses.
type DenyPolicy string

const (
	// DenyRequeue puts the job back at the tail of the queue.
	DenyRequeue DenyPolicy = "requeue"
	// DenyFail ends the job in Error with the rate-limit message.
	DenyFail DenyPolicy = "fail"
)

const (
	DefaultWorkers        = 2
	DefaultRequeueBackoff = time.Second
	DefaultMaxImageBytes  = 20 * 1024 * 1024
	DefaultMaxVideoBytes  = 100 * 1024 * 1024
)

// Config contains configuration for the scheduler. Zero values take the
// defaults.
type Config struct {
	Workers        int           `json:"workers"`
	DenyPolicy     DenyPolicy    `json:"deny_policy"`
	RequeueBackoff time.Duration `json:"requeue_backoff"` // longest a worker waits after a denial
	JobTimeout     time.Duration `json:"job_timeout"`     // 0 = no deadline
	MaxImageBytes  int64         `json:"max_image_bytes"`
	MaxVideoBytes  int64         `json:"max_video_bytes"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.DenyPolicy != DenyFail {
		c.DenyPolicy = DenyRequeue
	}
	if c.RequeueBackoff <= 0 {
		c.RequeueBackoff = DefaultRequeueBackoff
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = DefaultMaxImageBytes
	}
	if c.MaxVideoBytes <= 0 {
		c.MaxVideoBytes = DefaultMaxVideoBytes
	}
	return c
}

func (c Config) maxBytes(kind models.Kind) int64 {
	if kind == models.KindVideo {
		return c.MaxVideoBytes
	}
	return c.MaxImageBytes
}
