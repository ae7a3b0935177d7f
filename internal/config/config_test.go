package config

import (
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolValid(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v {
		t.Fatal("expected true")
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvMillisValid(t *testing.T) {
	t.Setenv("TEST_MS", "5000")
	v, err := envMillis("TEST_MS", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestEnvMillisInvalid(t *testing.T) {
	t.Setenv("TEST_MS_BAD", "five-seconds")
	_, err := envMillis("TEST_MS_BAD", 0)
	if err == nil {
		t.Fatal("expected error for invalid value, got nil")
	}
	if got := err.Error(); got != `TEST_MS_BAD="five-seconds" is not a valid integer number of milliseconds` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestLoadFailsOnInvalidWALSegmentBytes(t *testing.T) {
	t.Setenv("WAL_SEGMENT_BYTES", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid WAL_SEGMENT_BYTES")
	}
	if got := err.Error(); !contains(got, "WAL_SEGMENT_BYTES") || !contains(got, "abc") {
		t.Fatalf("error should mention WAL_SEGMENT_BYTES and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("WAL_SEGMENT_BYTES", "abc")
	t.Setenv("WATCH_BUFFER_EVENTS", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !contains(got, "WAL_SEGMENT_BYTES") {
		t.Fatalf("error should mention WAL_SEGMENT_BYTES, got: %s", got)
	}
	if !contains(got, "WATCH_BUFFER_EVENTS") {
		t.Fatalf("error should mention WATCH_BUFFER_EVENTS, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("expected default DataDir './data', got %q", cfg.DataDir)
	}
	if cfg.WALSegmentBytes != 256<<20 {
		t.Fatalf("expected default WALSegmentBytes 256MiB, got %d", cfg.WALSegmentBytes)
	}
	if cfg.MirrorQdrantURL != "" {
		t.Fatal("expected mirror disabled by default")
	}
}

func TestLoad_OTELEndpointParsing(t *testing.T) {
	endpoint := "https://otel.example.com:4317"
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", endpoint)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}
	if cfg.OTELEndpoint != endpoint {
		t.Fatalf("expected OTELEndpoint %q, got %q", endpoint, cfg.OTELEndpoint)
	}
}

func TestLoad_MirrorRequiresVectorDimsWhenURLSet(t *testing.T) {
	t.Setenv("MIRROR_QDRANT_URL", "http://localhost:6334")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail when MIRROR_QDRANT_URL is set without MIRROR_VECTOR_DIMS")
	}
	if !contains(err.Error(), "MIRROR_VECTOR_DIMS") {
		t.Fatalf("error should mention MIRROR_VECTOR_DIMS, got: %s", err.Error())
	}
}

func TestLoad_MirrorDisabledSkipsValidation(t *testing.T) {
	// MIRROR_QDRANT_URL unset: MIRROR_VECTOR_DIMS absence should not fail.
	_, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with mirror disabled, got: %v", err)
	}
}

func TestLoad_AllEnvVarsHonored(t *testing.T) {
	t.Setenv("DATA_DIR", "/var/lib/kioku")
	t.Setenv("WAL_SEGMENT_BYTES", "1048576")
	t.Setenv("WAL_BATCH_MAX_BYTES", "65536")
	t.Setenv("WAL_BATCH_MAX_MS", "5")
	t.Setenv("WATCH_BUFFER_EVENTS", "500")
	t.Setenv("WATCH_BUFFER_BYTES", "1048576")
	t.Setenv("WATCH_RETRY_MIN_MS", "100")
	t.Setenv("WATCH_RETRY_MAX_MS", "2000")
	t.Setenv("TTL_SWEEP_INTERVAL_MS", "10000")
	t.Setenv("OTEL_SERVICE_NAME", "kioku-test")
	t.Setenv("OTEL_INSECURE", "true")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("MIRROR_QDRANT_URL", "http://localhost:6334")
	t.Setenv("MIRROR_QDRANT_COLLECTION", "test_objects")
	t.Setenv("MIRROR_VECTOR_FIELD", "vec")
	t.Setenv("MIRROR_VECTOR_DIMS", "384")
	t.Setenv("MIRROR_POLL_INTERVAL_MS", "500")
	t.Setenv("MIRROR_BATCH_SIZE", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed, got: %v", err)
	}

	if cfg.DataDir != "/var/lib/kioku" {
		t.Fatalf("expected DataDir %q, got %q", "/var/lib/kioku", cfg.DataDir)
	}
	if cfg.WALSegmentBytes != 1048576 {
		t.Fatalf("expected WALSegmentBytes 1048576, got %d", cfg.WALSegmentBytes)
	}
	if cfg.WALBatchMaxBytes != 65536 {
		t.Fatalf("expected WALBatchMaxBytes 65536, got %d", cfg.WALBatchMaxBytes)
	}
	if cfg.WALBatchMaxMs != 5*time.Millisecond {
		t.Fatalf("expected WALBatchMaxMs 5ms, got %s", cfg.WALBatchMaxMs)
	}
	if cfg.WatchBufferEvents != 500 {
		t.Fatalf("expected WatchBufferEvents 500, got %d", cfg.WatchBufferEvents)
	}
	if cfg.WatchRetryMinMs != 100 || cfg.WatchRetryMaxMs != 2000 {
		t.Fatalf("expected retry bounds 100/2000, got %d/%d", cfg.WatchRetryMinMs, cfg.WatchRetryMaxMs)
	}
	if cfg.TTLSweepIntervalMs != 10*time.Second {
		t.Fatalf("expected TTLSweepIntervalMs 10s, got %s", cfg.TTLSweepIntervalMs)
	}
	if cfg.ServiceName != "kioku-test" {
		t.Fatalf("expected ServiceName %q, got %q", "kioku-test", cfg.ServiceName)
	}
	if !cfg.OTELInsecure {
		t.Fatal("expected OTELInsecure true")
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
		t.Fatalf("expected log level/format debug/text, got %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.MirrorQdrantCollection != "test_objects" {
		t.Fatalf("expected MirrorQdrantCollection %q, got %q", "test_objects", cfg.MirrorQdrantCollection)
	}
	if cfg.MirrorVectorDims != 384 {
		t.Fatalf("expected MirrorVectorDims 384, got %d", cfg.MirrorVectorDims)
	}
	if cfg.MirrorPollIntervalMs != 500*time.Millisecond {
		t.Fatalf("expected MirrorPollIntervalMs 500ms, got %s", cfg.MirrorPollIntervalMs)
	}
	if cfg.MirrorBatchSize != 50 {
		t.Fatalf("expected MirrorBatchSize 50, got %d", cfg.MirrorBatchSize)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && searchSubstring(s, substr)
}

func searchSubstring(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
