// Package kioku is the public API for embedding the namespaced object
// store described by SPEC_FULL.md: durable WAL commit, monotonic
// per-namespace sequencing, resumable watch subscriptions, and
// owner-fenced leases.
//
// Host processes import this package to run the store in-process without
// depending on internal/*:
//
//	store, err := kioku.New(
//	    kioku.WithDataDir("./data"),
//	    kioku.WithLogger(logger),
//	    kioku.WithEventHook(myAuditHook{}),
//	)
//	if err != nil { ... }
//	go store.Run(ctx)
//	obj, err := store.Put(ctx, "agents/123", kioku.PutRequest{Type: "note", Body: body})
//
// The import graph enforces a strict no-cycle rule: kioku (root) imports
// internal/*, but internal/* never imports kioku (root). Public types
// (Object, Lease, etc.) are standalone structs with no internal imports;
// conversion helpers (toPublicObject, toPublicLease, ...) live here
// because this is the only file that sees both sides of the boundary.
package kioku

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/kioku-io/kioku/internal/config"
	"github.com/kioku-io/kioku/internal/engine"
	"github.com/kioku-io/kioku/internal/mirror"
	"github.com/kioku-io/kioku/internal/model"
	"github.com/kioku-io/kioku/internal/telemetry"
	"github.com/kioku-io/kioku/internal/wal"
)

// Store is the object-store lifecycle. Construct with New(), start
// background workers with Run(), shut down with Shutdown() (called
// automatically when Run's context is cancelled).
type Store struct {
	cfg     config.Config
	eng     *engine.Persistent
	logger  *slog.Logger
	version string

	mirrorIndex  *mirror.Index // non-nil only when the built-in Qdrant mirror is active
	mirrorWorker *mirror.Worker

	vectorMirror VectorMirror // non-nil only when WithVectorMirror overrides the built-in mirror
	eventHooks   []EventHook

	otelShutdown func(context.Context) error
}

// New constructs a Store: it loads configuration, opens the WAL-backed
// engine (replaying dataDir's WAL if present), and wires the vector
// mirror. Opening the engine starts the WAL fsync worker goroutine; the
// TTL sweeper and the built-in mirror worker start only in Run().
func New(opts ...Option) (*Store, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// .env is optional; production deployments won't have one.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.walSegmentBytes != 0 {
		cfg.WALSegmentBytes = o.walSegmentBytes
	}
	if o.walBatchMaxBytes != 0 {
		cfg.WALBatchMaxBytes = o.walBatchMaxBytes
	}
	if o.walBatchMaxWait != 0 {
		cfg.WALBatchMaxMs = o.walBatchMaxWait
	}

	version := o.version
	if version == "" {
		version = "dev"
	}
	logger.Info("kioku store starting", "version", version, "data_dir", cfg.DataDir)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	eng, err := engine.OpenPersistent(cfg.DataDir, wal.Config{
		SegmentBytes:  cfg.WALSegmentBytes,
		BatchMaxBytes: cfg.WALBatchMaxBytes,
		BatchMaxWait:  cfg.WALBatchMaxMs,
	}, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("engine: %w", err)
	}
	eng.SetWatchDefaults(engine.WatchConfig{
		MaxEvents:  cfg.WatchBufferEvents,
		MaxBytes:   cfg.WatchBufferBytes,
		RetryMinMs: cfg.WatchRetryMinMs,
		RetryMaxMs: cfg.WatchRetryMaxMs,
	})

	s := &Store{
		cfg:          cfg,
		eng:          eng,
		logger:       logger,
		version:      version,
		vectorMirror: o.vectorMirror,
		eventHooks:   o.eventHooks,
		otelShutdown: otelShutdown,
	}

	if o.vectorMirror != nil {
		logger.Info("vector mirror: external implementation", "type", fmt.Sprintf("%T", o.vectorMirror))
		eng.SetMirrorHooks(s.dispatchExternalMirrorPut, s.dispatchExternalMirrorDelete)
	} else if cfg.MirrorQdrantURL != "" {
		idx, err := mirror.NewIndex(mirror.Config{
			URL:        cfg.MirrorQdrantURL,
			APIKey:     cfg.MirrorQdrantAPIKey,
			Collection: cfg.MirrorQdrantCollection,
			Dims:       cfg.MirrorVectorDims,
		}, logger)
		if err != nil {
			_ = eng.Drain(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("mirror: %w", err)
		}
		if err := idx.EnsureCollection(context.Background()); err != nil {
			_ = idx.Close()
			_ = eng.Drain(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("mirror ensure collection: %w", err)
		}
		worker := mirror.NewWorker(idx, mirror.Config{
			VectorField:  cfg.MirrorVectorField,
			Dims:         cfg.MirrorVectorDims,
			PollInterval: cfg.MirrorPollIntervalMs,
			BatchSize:    cfg.MirrorBatchSize,
		}, logger)
		eng.SetMirrorHooks(worker.EnqueuePut, worker.EnqueueDelete)
		s.mirrorIndex = idx
		s.mirrorWorker = worker
		logger.Info("mirror: enabled", "collection", cfg.MirrorQdrantCollection)
	} else {
		logger.Info("mirror: disabled (no MIRROR_QDRANT_URL)")
	}

	if len(s.eventHooks) > 0 {
		// Compose the registered EventHooks on top of whichever mirror hook
		// was just installed above (worker-backed, external-mirror-backed,
		// or none), following the teacher's pattern of firing lifecycle
		// hooks from a timeout-bounded goroutine so a slow or hanging hook
		// can never stall a write.
		mirrorOnPut, mirrorOnDelete := s.mirrorHooks()
		eng.SetMirrorHooks(func(ns string, obj model.Object) {
			if mirrorOnPut != nil {
				mirrorOnPut(ns, obj)
			}
			s.fireOnPut(ns, obj)
		}, func(ns, id string) {
			if mirrorOnDelete != nil {
				mirrorOnDelete(ns, id)
			}
			s.fireOnDelete(ns, id)
		})
	}

	return s, nil
}

func (s *Store) fireOnPut(ns string, obj model.Object) {
	hooks := s.eventHooks
	pub := toPublicObject(obj)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, h := range hooks {
			if err := h.OnPut(ctx, ns, pub); err != nil {
				s.logger.Warn("event hook OnPut failed", "error", err, "ns", ns, "id", obj.ID)
			}
		}
	}()
}

func (s *Store) fireOnDelete(ns, id string) {
	hooks := s.eventHooks
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, h := range hooks {
			if err := h.OnDelete(ctx, ns, id); err != nil {
				s.logger.Warn("event hook OnDelete failed", "error", err, "ns", ns, "id", id)
			}
		}
	}()
}

func (s *Store) dispatchExternalMirrorPut(ns string, obj model.Object) {
	emb, objType, ok := extractMirrorEmbedding(obj, s.cfg.MirrorVectorField, s.cfg.MirrorVectorDims)
	if !ok {
		return
	}
	m := s.vectorMirror
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Upsert(ctx, ns, obj.ID, objType, obj.Ts, emb); err != nil {
			s.logger.Warn("vector mirror upsert failed", "error", err, "ns", ns, "id", obj.ID)
		}
	}()
}

func (s *Store) dispatchExternalMirrorDelete(ns, id string) {
	m := s.vectorMirror
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.Delete(ctx, ns, id); err != nil {
			s.logger.Warn("vector mirror delete failed", "error", err, "ns", ns, "id", id)
		}
	}()
}

// extractMirrorEmbedding pulls the configured vector field out of obj's
// body for the external-mirror dispatch path. Duplicated from
// internal/mirror's helper of the same shape rather than imported, to
// keep this file's dispatch logic independent of mirror's outbox
// internals (the only things shared are the field name and dimension).
func extractMirrorEmbedding(obj model.Object, field string, wantDims int) ([]float32, string, bool) {
	if field == "" {
		return nil, "", false
	}
	res := gjson.GetBytes(obj.Body, field)
	if !res.IsArray() {
		return nil, "", false
	}
	arr := res.Array()
	if wantDims > 0 && len(arr) != wantDims {
		return nil, "", false
	}
	emb := make([]float32, len(arr))
	for i, v := range arr {
		emb[i] = float32(v.Float())
	}
	return emb, obj.Type, true
}

// mirrorHooks reports the put/delete callbacks New installed for the
// active mirror (if any), so the event-hook composition step in New can
// layer on top of them instead of clobbering them.
func (s *Store) mirrorHooks() (func(string, model.Object), func(string, string)) {
	if s.vectorMirror != nil {
		return s.dispatchExternalMirrorPut, s.dispatchExternalMirrorDelete
	}
	if s.mirrorWorker != nil {
		return s.mirrorWorker.EnqueuePut, s.mirrorWorker.EnqueueDelete
	}
	return nil, nil
}

// Run starts the TTL sweeper (and the built-in mirror worker, if active),
// then blocks until ctx is cancelled. On return, Shutdown has already been
// called — callers should not call Shutdown separately.
func (s *Store) Run(ctx context.Context) error {
	if s.mirrorWorker != nil {
		s.mirrorWorker.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.eng.RunTTLSweeper(gctx, s.cfg.TTLSweepIntervalMs)
		return nil
	})

	<-ctx.Done()
	_ = g.Wait()

	return s.Shutdown(context.Background())
}

// Shutdown drains the WAL fsync worker and, if active, the mirror outbox,
// then stops the OTEL provider. Safe to call after Run returns (Run
// already calls it); calling it a second time re-runs the drains, which
// are themselves idempotent.
func (s *Store) Shutdown(ctx context.Context) error {
	s.logger.Info("kioku store shutting down")

	drainCtx, drainCancel := context.WithTimeout(ctx, 30*time.Second)
	err := s.eng.Drain(drainCtx)
	drainCancel()
	if err != nil {
		s.logger.Error("wal drain error", "error", err)
	}

	if s.mirrorWorker != nil {
		mirrorCtx, mirrorCancel := context.WithTimeout(ctx, 30*time.Second)
		s.mirrorWorker.Drain(mirrorCtx)
		mirrorCancel()
	}
	if s.mirrorIndex != nil {
		_ = s.mirrorIndex.Close()
	}
	if s.vectorMirror != nil {
		_ = s.vectorMirror.Close()
	}
	_ = s.otelShutdown(context.Background())

	s.logger.Info("kioku store stopped")
	return err
}

// Put constructs and durably commits a new version for (ns, req.ID).
func (s *Store) Put(ctx context.Context, ns string, req PutRequest) (Object, error) {
	obj, err := s.eng.Put(ctx, ns, fromPublicPutRequest(req))
	if err != nil {
		return Object{}, toPublicError(err)
	}
	return toPublicObject(obj), nil
}

// Get returns the current (or point-in-time) version of (ns, id).
func (s *Store) Get(ns, id string, opts GetOptions) (Object, error) {
	obj, err := s.eng.Get(ns, id, model.GetOptions{AtTs: opts.AtTs})
	if err != nil {
		return Object{}, toPublicError(err)
	}
	return toPublicObject(obj), nil
}

// Delete removes every version of (ns, id).
func (s *Store) Delete(ctx context.Context, ns, id string) error {
	if err := s.eng.Delete(ctx, ns, id); err != nil {
		return toPublicError(err)
	}
	return nil
}

// Query resolves candidates via the tag/JSON-path indexes, drops expired
// objects, and optionally rescales by vector similarity.
func (s *Store) Query(ns string, req QueryRequest) ([]QueryResult, error) {
	internalReq := model.QueryRequest{
		TagFilter:      model.TagFilter(req.TagFilter),
		JsonPathFilter: model.JsonPathFilter(req.JsonPathFilter),
		Limit:          req.Limit,
	}
	if req.Vector != nil {
		internalReq.Vector = &model.VectorQuery{
			Field:     req.Vector.Field,
			TopK:      req.Vector.TopK,
			Embedding: req.Vector.Embedding,
		}
	}
	results, err := s.eng.Query(ns, internalReq)
	if err != nil {
		return nil, toPublicError(err)
	}
	out := make([]QueryResult, len(results))
	for i, r := range results {
		out[i] = QueryResult{Object: toPublicObject(r.Object), Score: r.Score}
	}
	return out, nil
}

// RegisterJSONPath registers a dotted path ("$.a.b") for JSON-path
// indexing within ns. Registration is runtime-only and does not survive a
// restart.
func (s *Store) RegisterJSONPath(ns, path string) error {
	if err := s.eng.RegisterJSONPath(ns, path); err != nil {
		return toPublicError(err)
	}
	return nil
}

// LeaseAcquire installs a new lease for (ns, key) if none exists, the
// existing one has expired, or it is held by the same owner.
func (s *Store) LeaseAcquire(ctx context.Context, ns, key, owner string, ttl time.Duration) (Lease, error) {
	lease, err := s.eng.LeaseAcquire(ctx, ns, key, owner, ttl)
	if err != nil {
		return Lease{}, toPublicError(err)
	}
	return toPublicLease(lease), nil
}

// LeaseRenew extends an existing lease's expiry, requiring an exact
// (owner, token) match.
func (s *Store) LeaseRenew(ctx context.Context, ns, key, owner string, token uint64, ttl time.Duration) (Lease, error) {
	lease, err := s.eng.LeaseRenew(ctx, ns, key, owner, token, ttl)
	if err != nil {
		return Lease{}, toPublicError(err)
	}
	return toPublicLease(lease), nil
}

// LeaseRelease removes a lease, requiring an exact (owner, token) match.
func (s *Store) LeaseRelease(ctx context.Context, ns, key, owner string, token uint64) error {
	if err := s.eng.LeaseRelease(ctx, ns, key, owner, token); err != nil {
		return toPublicError(err)
	}
	return nil
}

// ValidateFence checks that the current lease for (ns, resource) carries
// exactly fence as its token and has not expired.
func (s *Store) ValidateFence(ns, resource string, fence uint64) error {
	if err := s.eng.ValidateFence(ns, resource, fence); err != nil {
		return toPublicError(err)
	}
	return nil
}

// IdempotencyLookup returns the cached record for (ns, key) if one exists
// and its body hash matches.
func (s *Store) IdempotencyLookup(ns, key, bodyHash string) (IdempotencyRecord, error) {
	rec, err := s.eng.IdempotencyLookup(ns, key, bodyHash)
	if err != nil {
		return IdempotencyRecord{}, toPublicError(err)
	}
	return toPublicIdempotencyRecord(rec), nil
}

// IdempotencyCommit stores the outcome of a successful write under key.
func (s *Store) IdempotencyCommit(ctx context.Context, ns, key, bodyHash string, response []byte, commitSeq uint64, ttl time.Duration) (IdempotencyRecord, error) {
	rec, err := s.eng.IdempotencyCommit(ctx, ns, key, bodyHash, response, commitSeq, ttl)
	if err != nil {
		return IdempotencyRecord{}, toPublicError(err)
	}
	return toPublicIdempotencyRecord(rec), nil
}

// HashBody computes the digest IdempotencyCommit/IdempotencyLookup use to
// correlate an idempotency key with the request body that first claimed it.
func HashBody(body []byte) string { return engine.HashBody(body) }

// DataDir returns the directory this store persists to.
func (s *Store) DataDir() string { return s.eng.DataDir() }

// Version returns the version string this Store was constructed with
// (WithVersion, or "dev" if unset).
func (s *Store) Version() string { return s.version }

// ── Type converters ─────────────────────────────────────────────────────

func toPublicObject(o model.Object) Object {
	return Object{
		ID:         o.ID,
		Ns:         o.Ns,
		Type:       o.Type,
		Body:       o.Body,
		Tags:       o.Tags.Map(),
		TTLSeconds: o.TTLSeconds,
		Parents:    o.Parents,
		Commit:     o.Commit,
		Ts:         o.Ts,
		CommitSeq:  o.CommitSeq,
	}
}

func fromPublicPutRequest(req PutRequest) model.PutRequest {
	return model.PutRequest{
		ID:         req.ID,
		Type:       req.Type,
		Body:       req.Body,
		Tags:       model.NewTags(req.Tags),
		TTLSeconds: req.TTLSeconds,
		Parents:    req.Parents,
	}
}

func toPublicLease(l model.Lease) Lease {
	return Lease{Ns: l.Ns, Key: l.Key, Owner: l.Owner, Token: l.Token, ExpiresAt: l.ExpiresAt}
}

func toPublicIdempotencyRecord(r model.IdempotencyRecord) IdempotencyRecord {
	return IdempotencyRecord{
		Ns: r.Ns, Key: r.Key, BodyHash: r.BodyHash, Response: r.Response,
		ResponseHash: r.ResponseHash, CommitSeq: r.CommitSeq, ExpiresAt: r.ExpiresAt,
	}
}

func toPublicWatchEvent(ev model.WatchEvent) WatchEvent {
	out := WatchEvent{Ns: ev.Ns, ID: ev.ID, Type: EventType(ev.Type), CommitSeq: ev.CommitSeq}
	if ev.Object != nil {
		obj := toPublicObject(*ev.Object)
		out.Object = &obj
	}
	return out
}
