// Package engine implements the in-memory object/index core, watch
// fan-out, leases, and idempotency store described by the storage
// engine specification, plus a persistent variant that layers the
// write-ahead log and snapshot/trim/restore machinery on top.
package engine

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kioku-io/kioku/internal/model"
)

// namespaceState holds every piece of per-namespace state: the version
// table, secondary indexes, the monotonic commit counter (shared with
// lease fence tokens), the commit log used to seed resuming subscribers,
// leases, and idempotency records.
type namespaceState struct {
	objects     map[string][]model.Object // id -> versions ascending by CommitSeq
	index       *namespaceIndex
	commitSeq   uint64
	commitLog   []model.WatchEvent
	leases      map[string]*model.Lease
	idempotency map[string]*model.IdempotencyRecord
}

func newNamespaceState() *namespaceState {
	return &namespaceState{
		objects:     make(map[string][]model.Object),
		index:       newNamespaceIndex(),
		leases:      make(map[string]*model.Lease),
		idempotency: make(map[string]*model.IdempotencyRecord),
	}
}

func (n *namespaceState) current(id string) *model.Object {
	versions := n.objects[id]
	if len(versions) == 0 {
		return nil
	}
	return &versions[len(versions)-1]
}

// Clock abstracts time.Now so tests can control TTL/lease expiry.
type Clock func() time.Time

// Engine is the in-memory object/index/watch/lease/idempotency core. It
// has no durability of its own; Persistent (persistent.go) wraps an Engine
// with a WAL writer and snapshot machinery to provide that.
type Engine struct {
	mu sync.RWMutex
	ns map[string]*namespaceState

	broker *broker

	clock  Clock
	logger *slog.Logger

	// watchDefaults is the fallback Subscribe applies to any unset
	// WatchConfig field; SetWatchDefaults overrides it from config.Config.
	watchDefaults WatchConfig

	// onPut/onDelete are best-effort hooks for additive components (the
	// vector mirror) that must never block or fail a write.
	onPut    func(ns string, obj model.Object)
	onDelete func(ns, id string)
}

// New constructs an empty in-memory Engine. Watch subscriptions default
// to the package-level buffer/retry constants until SetWatchDefaults is
// called with the process's configured values.
func New(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ns:            make(map[string]*namespaceState),
		broker:        newBroker(),
		clock:         time.Now,
		logger:        logger,
		watchDefaults: packageDefaults,
	}
}

// SetMirrorHooks wires best-effort callbacks invoked after a successful
// put/delete, used by internal/mirror to feed its outbox without the core
// engine depending on it.
func (e *Engine) SetMirrorHooks(onPut func(ns string, obj model.Object), onDelete func(ns, id string)) {
	e.onPut = onPut
	e.onDelete = onDelete
}

func (e *Engine) namespace(ns string) *namespaceState {
	n, ok := e.ns[ns]
	if !ok {
		n = newNamespaceState()
		e.ns[ns] = n
	}
	return n
}

// RegisterJSONPath registers a dotted path ("$.a.b") for JSON-path
// indexing within ns. Array indices are rejected (MVP restriction, see
// DESIGN NOTES). Registration is runtime-only: it is not WAL-backed and
// does not survive a restart.
func (e *Engine) RegisterJSONPath(ns, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.namespace(ns).index.registerPath(path)
}

// Put constructs and stores a new version for the given namespace,
// returning the resulting Object and the WatchEvent fanned out to
// subscribers. Commit sequence, id assignment, and commit-hash computation
// all happen here under the single writer lock.
func (e *Engine) Put(ns string, req model.PutRequest) (model.Object, model.WatchEvent, error) {
	if err := model.ValidateNamespace(ns); err != nil {
		return model.Object{}, model.WatchEvent{}, err
	}
	if req.Body == nil {
		req.Body = json.RawMessage("null")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.namespace(ns)
	now := e.clock()

	id := req.ID
	if id == "" {
		id = model.NewObjectID(now)
	} else if err := model.ValidateObjectID(id); err != nil {
		return model.Object{}, model.WatchEvent{}, err
	}

	seq := n.commitSeq + 1
	n.commitSeq = seq

	obj := model.Object{
		ID:         id,
		Ns:         ns,
		Type:       req.Type,
		Body:       req.Body,
		Tags:       req.Tags,
		TTLSeconds: req.TTLSeconds,
		Parents:    req.Parents,
		Ts:         now,
		CommitSeq:  seq,
	}
	obj.Commit = model.CommitHash(ns, id, req.Type, now, obj.Body)

	if prev := n.current(id); prev != nil {
		n.index.unindexObject(id, prev)
	}
	n.objects[id] = append(n.objects[id], obj)
	n.index.indexObject(id, &obj)

	evObj := obj
	ev := model.WatchEvent{Ns: ns, ID: id, Type: model.EventPut, CommitSeq: seq, Object: &evObj}
	n.commitLog = append(n.commitLog, ev)
	e.broker.publish(ns, ev)

	if e.onPut != nil {
		e.onPut(ns, obj)
	}
	return obj, ev, nil
}

// Get returns the current (or, with AtTs set, the most recent version at
// or before that time) version of (ns,id), skipping expired versions.
func (e *Engine) Get(ns, id string, opts model.GetOptions) (model.Object, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, ok := e.ns[ns]
	if !ok {
		return model.Object{}, model.NotFoundf("namespace %q not found", ns)
	}
	versions := n.objects[id]
	now := e.clock()
	for i := len(versions) - 1; i >= 0; i-- {
		v := versions[i]
		if opts.AtTs != nil && v.Ts.After(time.Unix(*opts.AtTs, 0)) {
			continue
		}
		if v.Expired(now) {
			continue
		}
		return v, nil
	}
	return model.Object{}, model.NotFoundf("object %s/%s not found", ns, id)
}

// Delete removes every version of (ns,id), bumping commit_seq and emitting
// a Delete event. Returns NotFound if the object did not exist.
func (e *Engine) Delete(ns, id string) (model.WatchEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	n, ok := e.ns[ns]
	if !ok {
		return model.WatchEvent{}, model.NotFoundf("namespace %q not found", ns)
	}
	cur := n.current(id)
	if cur == nil {
		return model.WatchEvent{}, model.NotFoundf("object %s/%s not found", ns, id)
	}
	n.index.unindexObject(id, cur)
	delete(n.objects, id)

	seq := n.commitSeq + 1
	n.commitSeq = seq

	ev := model.WatchEvent{Ns: ns, ID: id, Type: model.EventDelete, CommitSeq: seq}
	n.commitLog = append(n.commitLog, ev)
	e.broker.publish(ns, ev)

	if e.onDelete != nil {
		e.onDelete(ns, id)
	}
	return ev, nil
}

// Query resolves candidates via the tag/JSON-path indexes (or a full
// namespace scan when no filters are given), drops expired objects, and
// optionally rescales by vector similarity.
func (e *Engine) Query(ns string, req model.QueryRequest) ([]model.QueryResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, ok := e.ns[ns]
	if !ok {
		return nil, nil
	}
	now := e.clock()

	ids, filtered := n.index.candidates(req.TagFilter, req.JsonPathFilter)

	var results []model.QueryResult
	collect := func(id string) {
		cur := n.current(id)
		if cur == nil || cur.Expired(now) {
			return
		}
		results = append(results, model.QueryResult{Object: *cur})
	}
	if filtered {
		for id := range ids {
			collect(id)
		}
	} else {
		for id := range n.objects {
			collect(id)
		}
	}

	if req.Vector != nil {
		scored := results[:0]
		for _, r := range results {
			emb, ok := extractEmbedding(r.Object.Body, req.Vector.Field, len(req.Vector.Embedding))
			if !ok {
				continue
			}
			r.Score = cosineSimilarity(req.Vector.Embedding, emb)
			scored = append(scored, r)
		}
		results = scored
		sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
		topK := req.Vector.TopK
		if topK > 0 && len(results) > topK {
			results = results[:topK]
		}
		return results, nil
	}

	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// AllObjects returns every current, unexpired version across every
// namespace, used by snapshot and the restore report.
func (e *Engine) AllObjects() []model.Object {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.clock()
	var out []model.Object
	for _, n := range e.ns {
		for _, versions := range n.objects {
			if len(versions) == 0 {
				continue
			}
			cur := versions[len(versions)-1]
			if cur.Expired(now) {
				continue
			}
			out = append(out, cur)
		}
	}
	return out
}

// BacklogMap reports, per namespace, how many commit-log entries have
// accumulated in this process's lifetime — an observability surface for
// the façade layer, not used internally.
func (e *Engine) BacklogMap() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.ns))
	for ns, n := range e.ns {
		out[ns] = len(n.commitLog)
	}
	return out
}
