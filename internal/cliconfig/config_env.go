package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (NOTIBATCH_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("listen", os.Getenv("NOTIBATCH_LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("log-level", os.Getenv("NOTIBATCH_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("redis-url", os.Getenv("NOTIBATCH_REDIS_URL"), &cfg.RedisURL)
	s.setString("dead-letter-stream", os.Getenv("NOTIBATCH_DEAD_LETTER_STREAM"), &cfg.DeadLetterStream)
	s.setString("codec", os.Getenv("NOTIBATCH_CODEC"), &cfg.Codec)
	s.setString("metrics", os.Getenv("NOTIBATCH_METRICS_BACKEND"), &cfg.MetricsBackend)
	s.setBoolFromString("watch-config", os.Getenv("NOTIBATCH_WATCH_CONFIG"), &cfg.WatchConfig)
	s.setBoolFromString("compression", os.Getenv("NOTIBATCH_COMPRESSION_ENABLED"), &cfg.CompressionEnabled)
	s.setBoolFromString("adaptive", os.Getenv("NOTIBATCH_ADAPTIVE_BATCHING"), &cfg.AdaptiveBatching)

	for _, v := range []struct {
		flag, env string
		dst       *int
	}{
		{"breaker-failures", "NOTIBATCH_BREAKER_FAILURES", &cfg.BreakerFailures},
		{"max-batch-size", "NOTIBATCH_MAX_BATCH_SIZE", &cfg.MaxBatchSize},
		{"bypass-threshold", "NOTIBATCH_PRIORITY_BYPASS_THRESHOLD", &cfg.PriorityBypassThreshold},
		{"max-queue-size", "NOTIBATCH_MAX_QUEUE_SIZE", &cfg.MaxQueueSize},
		{"max-retries", "NOTIBATCH_MAX_RETRIES", &cfg.MaxRetries},
		{"duplicate-window", "NOTIBATCH_DUPLICATE_WINDOW", &cfg.DuplicateWindow},
	} {
		if err := s.setIntFromString(v.flag, os.Getenv(v.env), v.dst); err != nil {
			return err
		}
	}

	if err := s.setFloatFromString("memory-threshold", os.Getenv("NOTIBATCH_MEMORY_THRESHOLD_PERCENT"), &cfg.MemoryThresholdPercent); err != nil {
		return err
	}

	if err := s.setDuration("breaker-timeout", os.Getenv("NOTIBATCH_BREAKER_TIMEOUT"), &cfg.BreakerTimeout); err != nil {
		return err
	}
	if err := s.setDuration("write-timeout", os.Getenv("NOTIBATCH_WRITE_TIMEOUT"), &cfg.WriteTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-timeout", os.Getenv("NOTIBATCH_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setDuration("max-batch-delay", os.Getenv("NOTIBATCH_MAX_BATCH_DELAY"), &cfg.MaxBatchDelay); err != nil {
		return err
	}
	if err := s.setDuration("stale-age", os.Getenv("NOTIBATCH_STALE_MESSAGE_AGE"), &cfg.StaleMessageAge); err != nil {
		return err
	}
	if err := s.setDuration("memory-check-interval", os.Getenv("NOTIBATCH_MEMORY_CHECK_INTERVAL"), &cfg.MemoryCheckInterval); err != nil {
		return err
	}
	if err := s.setDuration("cleanup-interval", os.Getenv("NOTIBATCH_CLEANUP_INTERVAL"), &cfg.CleanupInterval); err != nil {
		return err
	}

	return nil
}
