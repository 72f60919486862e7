package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	ListenAddr       string `toml:"listen_addr"`
	LogLevel         string `toml:"log_level"`
	RedisURL         string `toml:"redis_url"`
	DeadLetterStream string `toml:"dead_letter_stream"`
	Codec            string `toml:"codec"`
	MetricsBackend   string `toml:"metrics_backend"`
	BreakerFailures  int    `toml:"breaker_failures"`
	BreakerTimeout   string `toml:"breaker_timeout"`
	WriteTimeout     string `toml:"write_timeout"`
	ShutdownTimeout  string `toml:"shutdown_timeout"`
	WatchConfig      *bool  `toml:"watch_config"`

	Batching BatchingFileConfig `toml:"batching"`
}

// BatchingFileConfig is the [batching] table.
type BatchingFileConfig struct {
	MaxBatchSize            int     `toml:"max_batch_size"`
	MaxBatchDelay           string  `toml:"max_batch_delay"`
	PriorityBypassThreshold int     `toml:"priority_bypass_threshold"`
	MemoryThresholdPercent  float64 `toml:"memory_threshold_percent"`
	CompressionEnabled      *bool   `toml:"compression_enabled"`
	MaxQueueSize            int     `toml:"max_queue_size_per_recipient"`
	StaleMessageAge         string  `toml:"stale_message_age"`
	AdaptiveBatching        *bool   `toml:"adaptive_batching_enabled"`
	MaxRetries              *int    `toml:"max_retries"`
	MemoryCheckInterval     string  `toml:"memory_check_interval"`
	CleanupInterval         string  `toml:"cleanup_interval"`
	DuplicateWindow         *int    `toml:"duplicate_window"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns ~/.notibatch/config.toml, or "" when the home
// directory is unknown.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".notibatch", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("redis-url", fc.RedisURL, &cfg.RedisURL)
	s.setString("dead-letter-stream", fc.DeadLetterStream, &cfg.DeadLetterStream)
	s.setString("codec", fc.Codec, &cfg.Codec)
	s.setString("metrics", fc.MetricsBackend, &cfg.MetricsBackend)
	s.setInt("breaker-failures", fc.BreakerFailures, &cfg.BreakerFailures)
	s.setBool("watch-config", fc.WatchConfig, &cfg.WatchConfig)

	if err := s.setDuration("breaker-timeout", fc.BreakerTimeout, &cfg.BreakerTimeout); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", fc.WriteTimeout, &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout); err != nil {
		return err
	}

	return applyBatchingFile(s, cfg, fc.Batching)
}

func applyBatchingFile(s *configSetter, cfg *Config, b BatchingFileConfig) error {
	s.setInt("max-batch-size", b.MaxBatchSize, &cfg.MaxBatchSize)
	s.setInt("bypass-threshold", b.PriorityBypassThreshold, &cfg.PriorityBypassThreshold)
	s.setFloat("memory-threshold", b.MemoryThresholdPercent, &cfg.MemoryThresholdPercent)
	s.setBool("compression", b.CompressionEnabled, &cfg.CompressionEnabled)
	s.setInt("max-queue-size", b.MaxQueueSize, &cfg.MaxQueueSize)
	s.setBool("adaptive", b.AdaptiveBatching, &cfg.AdaptiveBatching)
	s.setIntPtr("max-retries", b.MaxRetries, &cfg.MaxRetries)
	s.setIntPtr("duplicate-window", b.DuplicateWindow, &cfg.DuplicateWindow)

	if err := s.setDuration("max-batch-delay", b.MaxBatchDelay, &cfg.MaxBatchDelay); err != nil {
		return err
	}
	if err := s.setDuration("stale-age", b.StaleMessageAge, &cfg.StaleMessageAge); err != nil {
		return err
	}
	if err := s.setDuration("memory-check-interval", b.MemoryCheckInterval, &cfg.MemoryCheckInterval); err != nil {
		return err
	}
	return s.setDuration("cleanup-interval", b.CleanupInterval, &cfg.CleanupInterval)
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
