package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/kioku-io/kioku/internal/model"
)

// HashBody computes the sha256 hex digest used to correlate an
// idempotency key with the request body that first claimed it, following
// the teacher's requestHash convention.
func HashBody(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// IdempotencyLookup returns the cached record for (ns,key) if one exists
// and its body hash matches. A matching record is a signal to replay its
// cached response rather than performing the write again. A present
// record with a different body hash is a Conflict ("idempotency body
// mismatch"); a missing record returns NotFound so the caller proceeds.
func (e *Engine) IdempotencyLookup(ns, key, bodyHash string) (model.IdempotencyRecord, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	n, ok := e.ns[ns]
	if !ok {
		return model.IdempotencyRecord{}, model.NotFoundf("idempotency key %s/%s not found", ns, key)
	}
	rec, ok := n.idempotency[key]
	if !ok || rec.Expired(e.clock()) {
		return model.IdempotencyRecord{}, model.NotFoundf("idempotency key %s/%s not found", ns, key)
	}
	if rec.BodyHash != bodyHash {
		return model.IdempotencyRecord{}, model.Conflictf("idempotency key %s/%s: body mismatch", ns, key)
	}
	return *rec, nil
}

// IdempotencyCommit stores the outcome of a successful write under key,
// computing its response hash. The caller is responsible for also
// persisting an Idempotency WAL record (see persistent.go) so replay
// reinstalls it.
func (e *Engine) IdempotencyCommit(ns, key, bodyHash string, response []byte, commitSeq uint64, ttl time.Duration) model.IdempotencyRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.namespace(ns)
	rec := &model.IdempotencyRecord{
		Ns:           ns,
		Key:          key,
		BodyHash:     bodyHash,
		Response:     response,
		ResponseHash: HashBody(response),
		CommitSeq:    commitSeq,
		ExpiresAt:    e.clock().Add(ttl),
	}
	n.idempotency[key] = rec
	return *rec
}

// RestoreLease and RestoreIdempotency re-install state decoded from WAL
// replay without touching commit_seq (which replay tracks separately from
// the max observed Put/Delete sequence — lease/idempotency tokens are
// folded into the same per-namespace counter, see persistent.go and
// replay.go). Exported so internal/snapshot's restore-report tooling can
// rebuild an Engine from a snapshot plus WAL tail without duplicating this
// logic.
func (e *Engine) RestoreLease(lease model.Lease) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.namespace(lease.Ns)
	n.leases[lease.Key] = &lease
}

func (e *Engine) RestoreLeaseRelease(ns, key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n, ok := e.ns[ns]; ok {
		delete(n.leases, key)
	}
}

func (e *Engine) RestoreIdempotency(rec model.IdempotencyRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.namespace(rec.Ns)
	n.idempotency[rec.Key] = &rec
}

// BumpReplaySeq advances ns's commit_seq to at least seq, used while
// replaying WAL records of any type (Put/Delete/Lease*/Idempotency all
// share the counter).
func (e *Engine) BumpReplaySeq(ns string, seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.namespace(ns)
	if seq > n.commitSeq {
		n.commitSeq = seq
	}
}

// RestoreObject re-inserts a decoded Put version during replay, indexing
// it and tracking it in the commit log exactly as a live Put would, but
// without minting a new sequence number (the WAL record already carries
// the true one) or fanning out to subscribers (there are none yet during
// replay).
func (e *Engine) RestoreObject(obj model.Object) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.namespace(obj.Ns)
	if prev := n.current(obj.ID); prev != nil {
		n.index.unindexObject(obj.ID, prev)
	}
	n.objects[obj.ID] = append(n.objects[obj.ID], obj)
	n.index.indexObject(obj.ID, &obj)
	if obj.CommitSeq > n.commitSeq {
		n.commitSeq = obj.CommitSeq
	}
	n.commitLog = append(n.commitLog, model.WatchEvent{Ns: obj.Ns, ID: obj.ID, Type: model.EventPut, CommitSeq: obj.CommitSeq, Object: &obj})
}

// RestoreDelete mirrors Delete during replay: removes every version of
// (ns,id) and records the tombstone in the commit log.
func (e *Engine) RestoreDelete(ns, id string, seq uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.namespace(ns)
	if cur := n.current(id); cur != nil {
		n.index.unindexObject(id, cur)
	}
	delete(n.objects, id)
	if seq > n.commitSeq {
		n.commitSeq = seq
	}
	n.commitLog = append(n.commitLog, model.WatchEvent{Ns: ns, ID: id, Type: model.EventDelete, CommitSeq: seq})
}
