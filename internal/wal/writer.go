package wal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultSegmentBytes  = 256 << 20
	DefaultBatchMaxBytes = 256 << 10
	DefaultBatchMaxWait  = 3 * time.Millisecond
	submitQueueDepth     = 4096
)

// Config tunes the writer's rotation and group-commit thresholds. Zero
// values fall back to the documented defaults.
type Config struct {
	Dir           string
	SegmentBytes  int64
	BatchMaxBytes int
	BatchMaxWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.SegmentBytes <= 0 {
		c.SegmentBytes = DefaultSegmentBytes
	}
	if c.BatchMaxBytes <= 0 {
		c.BatchMaxBytes = DefaultBatchMaxBytes
	}
	if c.BatchMaxWait <= 0 {
		c.BatchMaxWait = DefaultBatchMaxWait
	}
	return c
}

type submission struct {
	frame []byte
	seq   uint64
	ack   chan error
}

// Writer owns the active segment file and manifest, and serializes all
// mutation of segment bytes behind a single fsync worker goroutine. Append
// is safe for concurrent callers; the worker is the only goroutine that
// touches segment bytes. manifestMu additionally guards the manifest
// itself, since SetSnapshot (called by admin/snapshot tooling) mutates it
// from outside the fsync worker goroutine.
type Writer struct {
	dir    string
	cfg    Config
	logger *slog.Logger

	submitCh chan submission
	doneCh   chan struct{}
	started  atomic.Bool
	drainCh  chan struct{}
	drainMu  sync.Mutex

	current      *os.File
	currentName  string
	currentBytes int64

	manifestMu sync.Mutex
	manifest   *Manifest

	recordsTotal  metric.Int64Counter
	bytesTotal    metric.Int64Counter
	fsyncTotal    metric.Int64Counter
	batchBytes    metric.Int64Histogram
	fsyncSeconds  metric.Float64Histogram
	pendingGauge  metric.Int64ObservableGauge
	segmentGauge  metric.Int64ObservableGauge
}

// Open loads (or initializes) the manifest and current segment under dir,
// and starts the fsync worker goroutine.
func Open(dir string, cfg Config, logger *slog.Logger) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("wal: mkdir %s: %w", dir, err)
	}
	m, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	if m.CurrentSegment == "" {
		names, err := listSegmentFiles(dir)
		if err != nil {
			return nil, err
		}
		if len(names) > 0 {
			m.CurrentSegment = names[len(names)-1]
			existing := false
			for _, s := range m.Segments {
				if s.Name == m.CurrentSegment {
					existing = true
					break
				}
			}
			if !existing {
				m.Segments = append(m.Segments, SegmentMeta{Name: m.CurrentSegment})
			}
		} else {
			m.CurrentSegment = segmentName(1)
			m.Segments = []SegmentMeta{{Name: m.CurrentSegment}}
		}
	}

	f, size, err := openSegmentForAppend(dir, m.CurrentSegment)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:          dir,
		cfg:          cfg.withDefaults(),
		logger:       logger,
		submitCh:     make(chan submission, submitQueueDepth),
		doneCh:       make(chan struct{}),
		drainCh:      make(chan struct{}, 1),
		current:      f,
		currentName:  m.CurrentSegment,
		currentBytes: size,
		manifest:     m,
	}
	w.registerMetrics()
	w.started.Store(true)
	go w.fsyncWorker()
	return w, nil
}

// Append encodes rec, enqueues it for the fsync worker, and blocks until
// the batch containing it has been fsync'd (or ctx is done). The
// acknowledgement never precedes the fsync returning.
func (w *Writer) Append(ctx context.Context, rec Record) error {
	frame, err := Encode(rec)
	if err != nil {
		return fmt.Errorf("wal: encode record seq=%d: %w", rec.Seq, err)
	}
	sub := submission{frame: frame, seq: rec.Seq, ack: make(chan error, 1)}

	select {
	case w.submitCh <- sub:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.doneCh:
		return fmt.Errorf("wal: writer closed")
	}

	select {
	case err := <-sub.ack:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fsyncWorker is the single cooperative goroutine that owns segment bytes
// and the manifest. It drains one submission, then coalesces further
// submissions until either BatchMaxBytes or BatchMaxWait elapses, writes
// the whole batch, fsyncs once, persists the manifest, and acks everyone.
func (w *Writer) fsyncWorker() {
	defer close(w.doneCh)
	for {
		first, ok := <-w.submitCh
		if !ok {
			return
		}
		if first.frame == nil && first.ack == nil {
			// drain sentinel
			return
		}
		batch := []submission{first}
		batchBytes := len(first.frame)
		draining := false

		timer := time.NewTimer(w.cfg.BatchMaxWait)
	coalesce:
		for batchBytes < w.cfg.BatchMaxBytes {
			select {
			case sub, ok := <-w.submitCh:
				if !ok {
					break coalesce
				}
				if sub.frame == nil && sub.ack == nil {
					draining = true
					break coalesce
				}
				batch = append(batch, sub)
				batchBytes += len(sub.frame)
			case <-timer.C:
				break coalesce
			}
		}
		timer.Stop()

		err := w.commitBatch(batch, batchBytes)
		for _, sub := range batch {
			sub.ack <- err
		}

		if draining {
			return
		}
	}
}

func (w *Writer) commitBatch(batch []submission, batchBytes int) error {
	start := time.Now()
	for _, sub := range batch {
		if _, err := w.current.Write(sub.frame); err != nil {
			return fmt.Errorf("wal: write segment %s: %w", w.currentName, err)
		}
		w.currentBytes += int64(len(sub.frame))
	}
	if err := w.current.Sync(); err != nil {
		return fmt.Errorf("wal: fsync segment %s: %w", w.currentName, err)
	}

	maxSeq := batch[len(batch)-1].seq
	for _, sub := range batch {
		if sub.seq > maxSeq {
			maxSeq = sub.seq
		}
	}

	w.manifestMu.Lock()
	w.manifest.LastSeq = maxSeq
	w.setCurrentSegmentMaxSeq(maxSeq)

	if w.currentBytes >= w.cfg.SegmentBytes {
		if err := w.rotate(); err != nil {
			w.manifestMu.Unlock()
			return err
		}
	}

	err := w.manifest.Persist(w.dir)
	w.manifestMu.Unlock()
	if err != nil {
		return err
	}

	if w.recordsTotal != nil {
		ctx := context.Background()
		w.recordsTotal.Add(ctx, int64(len(batch)))
		w.bytesTotal.Add(ctx, int64(batchBytes))
		w.fsyncTotal.Add(ctx, 1)
		w.batchBytes.Record(ctx, int64(batchBytes))
		w.fsyncSeconds.Record(ctx, time.Since(start).Seconds())
	}
	return nil
}

// setCurrentSegmentMaxSeq and rotate assume the caller holds manifestMu.
func (w *Writer) setCurrentSegmentMaxSeq(seq uint64) {
	for i := range w.manifest.Segments {
		if w.manifest.Segments[i].Name == w.currentName {
			if seq > w.manifest.Segments[i].MaxSeq {
				w.manifest.Segments[i].MaxSeq = seq
			}
			return
		}
	}
	w.manifest.Segments = append(w.manifest.Segments, SegmentMeta{Name: w.currentName, MaxSeq: seq})
}

// rotate closes the current segment and opens the next monotonically
// numbered one. Only ever called from the fsync worker goroutine (the sole
// owner of segment state), with manifestMu already held by commitBatch.
func (w *Writer) rotate() error {
	if err := w.current.Close(); err != nil {
		return fmt.Errorf("wal: close segment %s: %w", w.currentName, err)
	}
	num, _ := segmentNumber(w.currentName)
	nextName := segmentName(num + 1)

	f, err := os.OpenFile(filepath.Join(w.dir, nextName), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("wal: create segment %s: %w", nextName, err)
	}
	w.current = f
	w.currentName = nextName
	w.currentBytes = 0
	w.manifest.CurrentSegment = nextName
	w.manifest.Segments = append(w.manifest.Segments, SegmentMeta{Name: nextName, MaxSeq: w.manifest.LastSeq})
	return nil
}

// Manifest returns a shallow copy of the current manifest.
func (w *Writer) Manifest() Manifest {
	w.manifestMu.Lock()
	defer w.manifestMu.Unlock()
	return *w.manifest
}

// SetSnapshot records snapshotID as the manifest's current_snapshot,
// bookmarked at the given commit_seq, and persists it immediately. Used by
// internal/snapshot right after it finishes writing a new snapshot file;
// safe to call concurrently with in-flight Append calls since it takes the
// same manifestMu the fsync worker uses for its own manifest mutations.
func (w *Writer) SetSnapshot(snapshotID string, bookmark uint64) error {
	w.manifestMu.Lock()
	defer w.manifestMu.Unlock()
	w.manifest.CurrentSnapshot = snapshotID
	w.manifest.SnapshotBookmark = &bookmark
	return w.manifest.Persist(w.dir)
}

// Drain stops accepting new appends after the current queue empties and
// waits for the fsync worker to exit. Idempotent.
func (w *Writer) Drain(ctx context.Context) error {
	w.drainMu.Lock()
	defer w.drainMu.Unlock()
	select {
	case <-w.doneCh:
		return nil
	default:
	}
	select {
	case w.drainCh <- struct{}{}:
	default:
	}
	select {
	case w.submitCh <- submission{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the current segment file handle. Call after Drain.
func (w *Writer) Close() error {
	if w.current != nil {
		err := w.current.Close()
		w.current = nil
		return err
	}
	return nil
}
