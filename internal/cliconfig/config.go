package cliconfig

import (
	"fmt"
	"strconv"
	"time"

	"github.com/bft-labs/notibatch/internal/compression"
	"github.com/bft-labs/notibatch/internal/domain"
)

// Metrics backends.
const (
	MetricsPrometheus = "prometheus"
	MetricsOTel       = "otel"
	MetricsNone       = "none"
)

// DefaultListenAddr is the default HTTP listen address.
const DefaultListenAddr = ":8080"

// Config holds CLI configuration for notibatch.
type Config struct {
	ListenAddr string
	LogLevel   string

	RedisURL         string
	DeadLetterStream string

	Codec          string
	MetricsBackend string

	BreakerFailures int
	BreakerTimeout  time.Duration
	WriteTimeout    time.Duration

	ShutdownTimeout time.Duration
	WatchConfig     bool

	MaxBatchSize            int
	MaxBatchDelay           time.Duration
	PriorityBypassThreshold int
	MemoryThresholdPercent  float64
	CompressionEnabled      bool
	MaxQueueSize            int
	StaleMessageAge         time.Duration
	AdaptiveBatching        bool
	MaxRetries              int
	MemoryCheckInterval     time.Duration
	CleanupInterval         time.Duration
	DuplicateWindow         int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	b := domain.DefaultConfig()
	return Config{
		ListenAddr:       DefaultListenAddr,
		LogLevel:         "info",
		DeadLetterStream: "notibatch:dead-letters",
		Codec:            compression.CodecZstd,
		MetricsBackend:   MetricsPrometheus,
		BreakerFailures:  5,
		BreakerTimeout:   30 * time.Second,
		WriteTimeout:     5 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		WatchConfig:      true,

		MaxBatchSize:            b.MaxBatchSize,
		MaxBatchDelay:           b.MaxBatchDelay,
		PriorityBypassThreshold: b.PriorityBypassThreshold,
		MemoryThresholdPercent:  b.MemoryThresholdPercent,
		CompressionEnabled:      b.CompressionEnabled,
		MaxQueueSize:            b.MaxQueueSizePerRecipient,
		StaleMessageAge:         b.StaleMessageAge,
		AdaptiveBatching:        b.AdaptiveBatchingEnabled,
		MaxRetries:              b.MaxRetries,
		MemoryCheckInterval:     b.MemoryCheckInterval,
		CleanupInterval:         b.CleanupInterval,
		DuplicateWindow:         b.DuplicateWindow,
	}
}

// Batching returns the batching configuration.
func (c Config) Batching() domain.Config {
	return domain.Config{
		MaxBatchSize:             c.MaxBatchSize,
		MaxBatchDelay:            c.MaxBatchDelay,
		PriorityBypassThreshold:  c.PriorityBypassThreshold,
		MemoryThresholdPercent:   c.MemoryThresholdPercent,
		CompressionEnabled:       c.CompressionEnabled,
		MaxQueueSizePerRecipient: c.MaxQueueSize,
		StaleMessageAge:          c.StaleMessageAge,
		AdaptiveBatchingEnabled:  c.AdaptiveBatching,
		MaxRetries:               c.MaxRetries,
		MemoryCheckInterval:      c.MemoryCheckInterval,
		CleanupInterval:          c.CleanupInterval,
		DuplicateWindow:          c.DuplicateWindow,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}

	switch c.MetricsBackend {
	case MetricsPrometheus, MetricsOTel, MetricsNone:
	default:
		return fmt.Errorf("unknown metrics backend %q", c.MetricsBackend)
	}

	if _, err := compression.ByName(c.Codec); err != nil {
		return err
	}

	if c.BreakerFailures <= 0 {
		return fmt.Errorf("breaker failures must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return c.Batching().Validate()
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setIntPtr sets an int value, zero included, if present and flag not changed.
func (s *configSetter) setIntPtr(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Negative values are ignored; zero is kept for fields where it means "off".
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return nil
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
