package wal

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// registerMetrics wires OTEL instruments for the WAL writer, following the
// teacher's trace.WAL.registerMetrics pattern: counters/histograms updated
// inline from commitBatch, plus observable gauges sampled on demand.
func (w *Writer) registerMetrics() {
	meter := otel.GetMeterProvider().Meter("kioku.wal")

	w.recordsTotal, _ = meter.Int64Counter("kioku.wal.records_total",
		metric.WithDescription("WAL records appended"))
	w.bytesTotal, _ = meter.Int64Counter("kioku.wal.bytes_total",
		metric.WithDescription("WAL bytes written"))
	w.fsyncTotal, _ = meter.Int64Counter("kioku.wal.fsync_total",
		metric.WithDescription("fsync calls issued by the group-commit worker"))
	w.batchBytes, _ = meter.Int64Histogram("kioku.wal.batch_bytes",
		metric.WithDescription("bytes written per group-commit batch"))
	w.fsyncSeconds, _ = meter.Float64Histogram("kioku.wal.fsync_seconds",
		metric.WithDescription("fsync latency per group-commit batch"))

	w.pendingGauge, _ = meter.Int64ObservableGauge("kioku.wal.pending_bytes",
		metric.WithDescription("bytes written to the current segment since rotation"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(w.currentBytes)
			return nil
		}))
	w.segmentGauge, _ = meter.Int64ObservableGauge("kioku.wal.segment_count",
		metric.WithDescription("retained WAL segment count"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(len(w.manifest.Segments)))
			return nil
		}))
}
