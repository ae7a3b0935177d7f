package mirror

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/metric"

	"github.com/kioku-io/kioku/internal/model"
	"github.com/kioku-io/kioku/internal/telemetry"
)

// maxQueueDepth bounds the in-memory outbox so a sustained Qdrant outage
// can't grow it without bound; once full, enqueue drops the oldest entry.
const maxQueueDepth = 50_000

// Worker polls the in-memory outbox and syncs changes to Qdrant. Wire
// EnqueuePut/EnqueueDelete into engine.Engine.SetMirrorHooks so every
// successful put/delete feeds the mirror without blocking the write path.
type Worker struct {
	index        *Index
	logger       *slog.Logger
	vectorField  string
	dims         int
	pollInterval time.Duration
	batchSize    int

	q *queue

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainOnce  sync.Once
	drainCh    chan context.Context

	depthGauge metric.Int64ObservableGauge
}

// NewWorker builds a mirror worker against an already-connected Index.
func NewWorker(index *Index, cfg Config, logger *slog.Logger) *Worker {
	return &Worker{
		index:        index,
		logger:       logger,
		vectorField:  cfg.VectorField,
		dims:         cfg.Dims,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		q:            newQueue(maxQueueDepth, logger),
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// EnqueuePut extracts the embedding from obj.Body[VectorField] and queues an
// upsert. Objects without a well-formed embedding of the configured
// dimensionality are silently skipped — the mirror only ever holds
// vector-bearing objects.
func (w *Worker) EnqueuePut(ns string, obj model.Object) {
	emb, ok := extractEmbedding(obj.Body, w.vectorField, w.dims)
	if !ok {
		return
	}
	w.q.enqueue(entry{
		op: opUpsert,
		point: Point{
			Ns: ns, ID: obj.ID, Type: obj.Type, TsUnix: obj.Ts.Unix(), Embedding: emb,
		},
		key: key{Ns: ns, ID: obj.ID},
	})
}

// EnqueueDelete queues removal of (ns,id) from the mirror. Harmless if the
// object was never mirrored (e.g. it had no embedding).
func (w *Worker) EnqueueDelete(ns, id string) {
	w.q.enqueue(entry{op: opDelete, key: key{Ns: ns, ID: id}})
}

// extractEmbedding pulls a float32 array out of body[field]. Returns
// ok=false when the field is missing, not an array, or its length doesn't
// match want.
func extractEmbedding(body []byte, field string, want int) ([]float32, bool) {
	res := gjson.GetBytes(body, field)
	if !res.IsArray() {
		return nil, false
	}
	arr := res.Array()
	if want > 0 && len(arr) != want {
		return nil, false
	}
	out := make([]float32, len(arr))
	for i, v := range arr {
		out[i] = float32(v.Float())
	}
	return out, true
}

// Start begins the background poll loop. Safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("mirror: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, flushes remaining entries, and
// blocks until done or ctx expires. Safe to call multiple times; only the
// first call triggers the drain.
func (w *Worker) Drain(ctx context.Context) {
	w.drainOnce.Do(func() {
		sendCtx, sendCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		select {
		case w.drainCh <- ctx:
		case <-sendCtx.Done():
			w.logger.Warn("mirror: drain context channel busy, final poll will use fallback timeout")
		}
		sendCancel()
		if w.cancelLoop != nil {
			w.cancelLoop()
		}
	})
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("mirror: drain timed out")
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.processBatch(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.processBatch(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.processBatch(batchCtx)
			cancel()
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) {
	now := time.Now()
	batch := w.q.drainReady(w.batchSize, now)
	if len(batch) == 0 {
		return
	}

	var upserts, deletes []entry
	for _, e := range batch {
		switch e.op {
		case opUpsert:
			upserts = append(upserts, e)
		case opDelete:
			deletes = append(deletes, e)
		}
	}

	if len(upserts) > 0 {
		points := make([]Point, len(upserts))
		for i, e := range upserts {
			points[i] = e.point
		}
		if err := w.index.Upsert(ctx, points); err != nil {
			w.logger.Error("mirror: qdrant upsert", "error", err, "count", len(points))
			for _, e := range upserts {
				w.q.requeue(e, now)
			}
		} else {
			w.logger.Debug("mirror: upserted", "count", len(points))
		}
	}

	if len(deletes) > 0 {
		keys := make([]key, len(deletes))
		for i, e := range deletes {
			keys[i] = e.key
		}
		if err := w.index.DeleteByKeys(ctx, keys); err != nil {
			w.logger.Error("mirror: qdrant delete", "error", err, "count", len(keys))
			for _, e := range deletes {
				w.q.requeue(e, now)
			}
		} else {
			w.logger.Debug("mirror: deleted", "count", len(keys))
		}
	}
}

// registerMetrics registers an observable gauge for outbox depth.
func (w *Worker) registerMetrics() {
	meter := telemetry.Meter("kioku/mirror")

	gauge, err := meter.Int64ObservableGauge("kioku.mirror.outbox_depth",
		metric.WithDescription("Pending entries in the in-memory mirror outbox"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			o.Observe(int64(w.q.depth()))
			return nil
		}),
	)
	if err != nil {
		w.logger.Warn("mirror: register metrics", "error", err)
		return
	}
	w.depthGauge = gauge
}
