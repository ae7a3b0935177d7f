// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Storage.
	DataDir string

	// WAL tuning.
	WALSegmentBytes  int64
	WALBatchMaxBytes int
	WALBatchMaxMs    time.Duration

	// Watch fan-out tuning.
	WatchBufferEvents int
	WatchBufferBytes  int
	WatchRetryMinMs   int
	WatchRetryMaxMs   int

	// TTL sweeper.
	TTLSweepIntervalMs time.Duration

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Vector mirror (optional; disabled when MirrorQdrantURL is empty).
	MirrorQdrantURL        string
	MirrorQdrantAPIKey     string
	MirrorQdrantCollection string
	MirrorVectorField      string
	MirrorVectorDims       int
	MirrorPollIntervalMs   time.Duration
	MirrorBatchSize        int

	// Operational settings.
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables with sensible defaults.
// Returns an error if any environment variable contains an unparseable value,
// or if the parsed configuration fails Validate (non-positive tunables, or
// MIRROR_QDRANT_URL set without MIRROR_VECTOR_DIMS). Missing variables use
// sensible defaults.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		DataDir:                envStr("DATA_DIR", "./data"),
		OTELEndpoint:           envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:            envStr("OTEL_SERVICE_NAME", "kioku"),
		MirrorQdrantURL:        envStr("MIRROR_QDRANT_URL", ""),
		MirrorQdrantAPIKey:     envStr("MIRROR_QDRANT_API_KEY", ""),
		MirrorQdrantCollection: envStr("MIRROR_QDRANT_COLLECTION", "kioku_objects"),
		MirrorVectorField:      envStr("MIRROR_VECTOR_FIELD", "embedding"),
		LogLevel:               envStr("LOG_LEVEL", "info"),
		LogFormat:              envStr("LOG_FORMAT", "json"),
	}

	var walSegmentBytes int
	walSegmentBytes, errs = collectInt(errs, "WAL_SEGMENT_BYTES", 256<<20)
	cfg.WALSegmentBytes = int64(walSegmentBytes)

	cfg.WALBatchMaxBytes, errs = collectInt(errs, "WAL_BATCH_MAX_BYTES", 256<<10)
	cfg.WatchBufferEvents, errs = collectInt(errs, "WATCH_BUFFER_EVENTS", 10_000)
	cfg.WatchBufferBytes, errs = collectInt(errs, "WATCH_BUFFER_BYTES", 64<<20)
	cfg.WatchRetryMinMs, errs = collectInt(errs, "WATCH_RETRY_MIN_MS", 250)
	cfg.WatchRetryMaxMs, errs = collectInt(errs, "WATCH_RETRY_MAX_MS", 4000)
	cfg.MirrorVectorDims, errs = collectInt(errs, "MIRROR_VECTOR_DIMS", 0)
	cfg.MirrorBatchSize, errs = collectInt(errs, "MIRROR_BATCH_SIZE", 100)

	cfg.OTELInsecure, errs = collectBool(errs, "OTEL_INSECURE", false)

	cfg.WALBatchMaxMs, errs = collectDuration(errs, "WAL_BATCH_MAX_MS", 3*time.Millisecond)
	cfg.TTLSweepIntervalMs, errs = collectDuration(errs, "TTL_SWEEP_INTERVAL_MS", 30*time.Second)
	cfg.MirrorPollIntervalMs, errs = collectDuration(errs, "MIRROR_POLL_INTERVAL_MS", time.Second)

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return Config{}, fmt.Errorf("config: invalid environment variables:\n  %s", strings.Join(msgs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// collectInt parses an int env var, appending any error to the accumulator.
func collectInt(errs []error, key string, fallback int) (int, []error) {
	v, err := envInt(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectBool parses a bool env var, appending any error to the accumulator.
func collectBool(errs []error, key string, fallback bool) (bool, []error) {
	v, err := envBool(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// collectDuration parses a duration env var given in plain milliseconds (to
// match the spec's *_MS naming), appending any error to the accumulator.
func collectDuration(errs []error, key string, fallback time.Duration) (time.Duration, []error) {
	v, err := envMillis(key, fallback)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("config: DATA_DIR is required"))
	}
	if c.WALSegmentBytes <= 0 {
		errs = append(errs, errors.New("config: WAL_SEGMENT_BYTES must be positive"))
	}
	if c.WALBatchMaxBytes <= 0 {
		errs = append(errs, errors.New("config: WAL_BATCH_MAX_BYTES must be positive"))
	}
	if c.WALBatchMaxMs <= 0 {
		errs = append(errs, errors.New("config: WAL_BATCH_MAX_MS must be positive"))
	}
	if c.WatchBufferEvents <= 0 {
		errs = append(errs, errors.New("config: WATCH_BUFFER_EVENTS must be positive"))
	}
	if c.WatchBufferBytes <= 0 {
		errs = append(errs, errors.New("config: WATCH_BUFFER_BYTES must be positive"))
	}
	if c.WatchRetryMinMs <= 0 || c.WatchRetryMaxMs < c.WatchRetryMinMs {
		errs = append(errs, errors.New("config: WATCH_RETRY_MIN_MS/WATCH_RETRY_MAX_MS must be positive and min <= max"))
	}
	if c.TTLSweepIntervalMs <= 0 {
		errs = append(errs, errors.New("config: TTL_SWEEP_INTERVAL_MS must be positive"))
	}
	if c.MirrorQdrantURL != "" {
		if c.MirrorVectorDims <= 0 {
			errs = append(errs, errors.New("config: MIRROR_VECTOR_DIMS must be positive when MIRROR_QDRANT_URL is set"))
		}
		if c.MirrorPollIntervalMs <= 0 {
			errs = append(errs, errors.New("config: MIRROR_POLL_INTERVAL_MS must be positive"))
		}
		if c.MirrorBatchSize <= 0 {
			errs = append(errs, errors.New("config: MIRROR_BATCH_SIZE must be positive"))
		}
	}

	return errors.Join(errs...)
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

// envMillis parses a plain-integer milliseconds env var (the spec's *_MS
// convention) into a time.Duration.
func envMillis(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer number of milliseconds", key, v)
	}
	return time.Duration(n) * time.Millisecond, nil
}
