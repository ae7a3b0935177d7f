package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kioku-io/kioku/internal/model"
	"github.com/kioku-io/kioku/internal/wal"
)

// Persistent layers a wal.Writer and full replay-on-open over the
// in-memory Engine core. Visibility is immediate (the embedded Engine's
// mutation lands before the WAL record is even built); the WAL append is
// the durability point. A write whose in-memory mutation succeeds but
// whose WAL append fails returns an Internal error without rolling back
// the mutation — the relaxed durability model this engine follows (see
// SPEC_FULL.md §2).
type Persistent struct {
	*Engine

	writer  *wal.Writer
	dataDir string
}

// OpenPersistent replays dataDir's WAL into a fresh Engine, then opens the
// writer for new appends. Replay reconstructs every record type — objects,
// deletes, leases, and idempotency records all restore commit_seq, unlike
// a replay that only rebuilds the object table and leaves lease/idempotency
// state to be rebuilt from nothing.
func OpenPersistent(dataDir string, cfg wal.Config, logger *slog.Logger) (*Persistent, error) {
	eng := New(logger)
	p := &Persistent{Engine: eng, dataDir: dataDir}

	if err := wal.Replay(dataDir, func(rec wal.Record) error { return ApplyWALRecord(p.Engine, rec) }); err != nil {
		return nil, fmt.Errorf("engine: replay %s: %w", dataDir, err)
	}

	cfg.Dir = dataDir
	w, err := wal.Open(dataDir, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: open wal %s: %w", dataDir, err)
	}
	p.writer = w
	return p, nil
}

// Put mutates the in-memory core, then appends and durably fsyncs a Put
// WAL record before returning.
func (p *Persistent) Put(ctx context.Context, ns string, req model.PutRequest) (model.Object, error) {
	obj, _, err := p.Engine.Put(ns, req)
	if err != nil {
		return model.Object{}, err
	}
	body, err := wal.EncodeBody(wal.PutBody{Object: obj})
	if err != nil {
		return obj, model.Internalf(err, "wal encode put %s/%s", ns, obj.ID)
	}
	rec := wal.Record{Type: wal.RecPut, Seq: obj.CommitSeq, TsUnix: uint64(obj.Ts.Unix()), Body: body}
	if err := p.writer.Append(ctx, rec); err != nil {
		return obj, model.Internalf(err, "wal append put %s/%s", ns, obj.ID)
	}
	return obj, nil
}

// Delete mutates the in-memory core, then appends a Delete WAL record
// carrying the true bumped commit_seq (never a placeholder sequence).
func (p *Persistent) Delete(ctx context.Context, ns, id string) error {
	ev, err := p.Engine.Delete(ns, id)
	if err != nil {
		return err
	}
	body, err := wal.EncodeBody(wal.DeleteBody{Ns: ns, ID: id})
	if err != nil {
		return model.Internalf(err, "wal encode delete %s/%s", ns, id)
	}
	rec := wal.Record{Type: wal.RecDelete, Seq: ev.CommitSeq, TsUnix: uint64(time.Now().Unix()), Body: body}
	if err := p.writer.Append(ctx, rec); err != nil {
		return model.Internalf(err, "wal append delete %s/%s", ns, id)
	}
	return nil
}

// LeaseAcquire mutates the in-memory core, then appends a LeaseAcquire WAL
// record.
func (p *Persistent) LeaseAcquire(ctx context.Context, ns, key, owner string, ttl time.Duration) (model.Lease, error) {
	lease, err := p.Engine.LeaseAcquire(ns, key, owner, ttl)
	if err != nil {
		return model.Lease{}, err
	}
	body, err := wal.EncodeBody(wal.LeaseAcquireBody{
		Ns: ns, Key: key, Owner: owner, Token: lease.Token, ExpiresAtUnix: lease.ExpiresAt.Unix(),
	})
	if err != nil {
		return lease, model.Internalf(err, "wal encode lease acquire %s/%s", ns, key)
	}
	rec := wal.Record{Type: wal.RecLeaseAcquire, Seq: lease.Token, TsUnix: uint64(time.Now().Unix()), Body: body}
	if err := p.writer.Append(ctx, rec); err != nil {
		return lease, model.Internalf(err, "wal append lease acquire %s/%s", ns, key)
	}
	return lease, nil
}

// LeaseRenew mutates the in-memory core, then appends a LeaseRenew WAL
// record.
func (p *Persistent) LeaseRenew(ctx context.Context, ns, key, owner string, token uint64, ttl time.Duration) (model.Lease, error) {
	lease, err := p.Engine.LeaseRenew(ns, key, owner, token, ttl)
	if err != nil {
		return model.Lease{}, err
	}
	body, err := wal.EncodeBody(wal.LeaseRenewBody{
		Ns: ns, Key: key, Owner: owner, Token: lease.Token, ExpiresAtUnix: lease.ExpiresAt.Unix(),
	})
	if err != nil {
		return lease, model.Internalf(err, "wal encode lease renew %s/%s", ns, key)
	}
	rec := wal.Record{Type: wal.RecLeaseRenew, Seq: lease.Token, TsUnix: uint64(time.Now().Unix()), Body: body}
	if err := p.writer.Append(ctx, rec); err != nil {
		return lease, model.Internalf(err, "wal append lease renew %s/%s", ns, key)
	}
	return lease, nil
}

// LeaseRelease mutates the in-memory core, then appends a LeaseRelease WAL
// record.
func (p *Persistent) LeaseRelease(ctx context.Context, ns, key, owner string, token uint64) error {
	if err := p.Engine.LeaseRelease(ns, key, owner, token); err != nil {
		return err
	}
	body, err := wal.EncodeBody(wal.LeaseReleaseBody{Ns: ns, Key: key, Owner: owner, Token: token})
	if err != nil {
		return model.Internalf(err, "wal encode lease release %s/%s", ns, key)
	}
	rec := wal.Record{Type: wal.RecLeaseRelease, Seq: token, TsUnix: uint64(time.Now().Unix()), Body: body}
	if err := p.writer.Append(ctx, rec); err != nil {
		return model.Internalf(err, "wal append lease release %s/%s", ns, key)
	}
	return nil
}

// IdempotencyCommit mutates the in-memory core, then appends an Idempotency
// WAL record so a subsequent replay restores the cached response.
func (p *Persistent) IdempotencyCommit(ctx context.Context, ns, key, bodyHash string, response []byte, commitSeq uint64, ttl time.Duration) (model.IdempotencyRecord, error) {
	rec := p.Engine.IdempotencyCommit(ns, key, bodyHash, response, commitSeq, ttl)
	body, err := wal.EncodeBody(wal.IdempotencyBody{
		Ns: ns, Key: key, BodyHash: rec.BodyHash, Response: rec.Response,
		ResponseHash: rec.ResponseHash, CommitSeq: rec.CommitSeq, ExpiresAtUnix: rec.ExpiresAt.Unix(),
	})
	if err != nil {
		return rec, model.Internalf(err, "wal encode idempotency %s/%s", ns, key)
	}
	walRec := wal.Record{Type: wal.RecIdempotency, Seq: commitSeq, TsUnix: uint64(time.Now().Unix()), Body: body}
	if err := p.writer.Append(ctx, walRec); err != nil {
		return rec, model.Internalf(err, "wal append idempotency %s/%s", ns, key)
	}
	return rec, nil
}

// AdminManifest exposes the WAL manifest for observability/admin tooling.
func (p *Persistent) AdminManifest() wal.Manifest { return p.writer.Manifest() }

// DataDir returns the directory this engine persists to, used by the
// snapshot and admin-restore tooling that shares it.
func (p *Persistent) DataDir() string { return p.dataDir }

// RecordSnapshot marks snapshotID as the manifest's current_snapshot with
// bookmark as the commit_seq it covers, called by internal/snapshot right
// after it finishes writing a new snapshot file.
func (p *Persistent) RecordSnapshot(snapshotID string, bookmark uint64) error {
	return p.writer.SetSnapshot(snapshotID, bookmark)
}

// Drain stops accepting new WAL appends and waits for the fsync worker to
// flush and exit, then closes the segment file. Call during graceful
// shutdown before the process exits.
func (p *Persistent) Drain(ctx context.Context) error {
	if err := p.writer.Drain(ctx); err != nil {
		return err
	}
	return p.writer.Close()
}
