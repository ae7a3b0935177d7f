package kioku

import (
	"log/slog"
	"time"
)

// Option configures a Store.
type Option func(*resolvedOptions)

// resolvedOptions holds every extension point after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	dataDir string
	logger  *slog.Logger
	version string

	walSegmentBytes  int64
	walBatchMaxBytes int
	walBatchMaxWait  time.Duration

	vectorMirror VectorMirror
	eventHooks   []EventHook
}

// WithDataDir overrides the data directory from config (DATA_DIR env var).
func WithDataDir(dir string) Option {
	return func(o *resolvedOptions) { o.dataDir = dir }
}

// WithLogger sets the structured logger for the Store.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithWALSegmentBytes overrides the WAL segment rotation size from config
// (WAL_SEGMENT_BYTES env var).
func WithWALSegmentBytes(n int64) Option {
	return func(o *resolvedOptions) { o.walSegmentBytes = n }
}

// WithWALBatchMaxBytes overrides the fsync worker's max batch size from
// config (WAL_BATCH_MAX_BYTES env var).
func WithWALBatchMaxBytes(n int) Option {
	return func(o *resolvedOptions) { o.walBatchMaxBytes = n }
}

// WithWALBatchMaxWait overrides the fsync worker's max batch linger from
// config (WAL_BATCH_MAX_MS env var).
func WithWALBatchMaxWait(d time.Duration) Option {
	return func(o *resolvedOptions) { o.walBatchMaxWait = d }
}

// WithVectorMirror replaces the auto-detected Qdrant vector mirror with a
// caller-supplied implementation. Only the last call wins.
func WithVectorMirror(m VectorMirror) Option {
	return func(o *resolvedOptions) { o.vectorMirror = m }
}

// WithEventHook registers a hook to receive put/delete notifications.
// Multiple hooks may be registered; all registered hooks receive every
// event.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}
