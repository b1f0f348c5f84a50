// Package fanout consumes post-created events and pushes them into follower
// feed caches.
package fanout

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fan-out worker configuration, loaded from YAML and merged
// over defaults.
type Config struct {
	Kafka KafkaConfig `yaml:"kafka"`
	Redis RedisConfig `yaml:"redis"`
	Graph GraphConfig `yaml:"graph"`

	// CelebrityThreshold is the follower count at or above which an author's
	// posts are not pushed; their followers pull at read time instead.
	CelebrityThreshold int64 `yaml:"celebrity_threshold"`

	// HotWindow is the per-user feed size retained in the cache.
	HotWindow int `yaml:"hot_window"`

	// DedupTTL must comfortably exceed the worst-case redelivery horizon.
	DedupTTL time.Duration `yaml:"dedup_ttl"`

	// FollowersPerSecond throttles feed writes per worker instance.
	FollowersPerSecond int `yaml:"followers_per_second"`

	// MaxConcurrentWrites bounds in-flight Redis writes within one event.
	MaxConcurrentWrites int64 `yaml:"max_concurrent_writes"`

	// MaxConcurrentEvents bounds events processed concurrently across
	// partitions.
	MaxConcurrentEvents int64 `yaml:"max_concurrent_events"`

	// FailureBackoff is how long a partition pauses after a failed event
	// before its offset is retried.
	FailureBackoff time.Duration `yaml:"failure_backoff"`

	// MaxFailureRewinds caps retries of a single offset. Zero retries
	// forever; with a positive value the record is committed and dropped
	// after that many rewinds.
	MaxFailureRewinds int `yaml:"max_failure_rewinds"`

	// MaxLag pauses intake when group lag exceeds it. Zero disables the
	// probe.
	MaxLag           int64         `yaml:"max_lag"`
	LagCheckInterval time.Duration `yaml:"lag_check_interval"`
	LagCooldown      time.Duration `yaml:"lag_cooldown"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Group   string `yaml:"group"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GraphConfig struct {
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	FollowerPageSize int           `yaml:"follower_page_size"`
	FollowerMaxPages int           `yaml:"follower_max_pages"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Kafka: KafkaConfig{
			Brokers: "localhost:9092",
			Group:   "fanout-workers",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Graph: GraphConfig{
			BaseURL:          "http://localhost:8081",
			Timeout:          5 * time.Second,
			FollowerPageSize: 200,
			FollowerMaxPages: 0,
		},
		CelebrityThreshold:  100000,
		HotWindow:           1000,
		DedupTTL:            7 * 24 * time.Hour,
		FollowersPerSecond:  500,
		MaxConcurrentWrites: 32,
		MaxConcurrentEvents: 8,
		FailureBackoff:      time.Second,
		MaxFailureRewinds:   0,
		MaxLag:              0,
		LagCheckInterval:    30 * time.Second,
		LagCooldown:         10 * time.Second,
	}
}

// LoadConfig reads a YAML file over DefaultConfig. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values that would stall or livelock the worker.
func (c Config) Validate() error {
	if c.Kafka.Brokers == "" {
		return fmt.Errorf("kafka.brokers is required")
	}
	if c.Kafka.Group == "" {
		return fmt.Errorf("kafka.group is required")
	}
	if c.CelebrityThreshold <= 0 {
		return fmt.Errorf("celebrity_threshold must be positive")
	}
	if c.HotWindow <= 0 {
		return fmt.Errorf("hot_window must be positive")
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("dedup_ttl must be positive")
	}
	if c.FollowersPerSecond <= 0 {
		return fmt.Errorf("followers_per_second must be positive")
	}
	if c.MaxConcurrentWrites <= 0 {
		return fmt.Errorf("max_concurrent_writes must be positive")
	}
	if c.MaxConcurrentEvents <= 0 {
		return fmt.Errorf("max_concurrent_events must be positive")
	}
	if c.FailureBackoff <= 0 {
		return fmt.Errorf("failure_backoff must be positive")
	}
	return nil
}
