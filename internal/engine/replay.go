package engine

import (
	"fmt"
	"time"

	"github.com/kioku-io/kioku/internal/model"
	"github.com/kioku-io/kioku/internal/wal"
)

// ApplyWALRecord decodes one WAL record and applies it to e, restoring
// whichever piece of state it represents (object version, tombstone,
// lease, or idempotency record) and advancing e's per-namespace commit_seq
// watermark to at least the record's Seq. Shared by Persistent's
// replay-on-open and internal/snapshot's restore-report tooling so both
// rebuild state identically.
func ApplyWALRecord(e *Engine, rec wal.Record) error {
	ns, err := applyWALRecord(e, rec)
	if err != nil {
		return err
	}
	if ns != "" {
		e.BumpReplaySeq(ns, rec.Seq)
	}
	return nil
}

func applyWALRecord(e *Engine, rec wal.Record) (string, error) {
	switch rec.Type {
	case wal.RecPut:
		body, err := wal.DecodePutBody(rec.Body)
		if err != nil {
			return "", fmt.Errorf("decode put body: %w", err)
		}
		e.RestoreObject(body.Object)
		return body.Object.Ns, nil
	case wal.RecDelete:
		body, err := wal.DecodeDeleteBody(rec.Body)
		if err != nil {
			return "", fmt.Errorf("decode delete body: %w", err)
		}
		e.RestoreDelete(body.Ns, body.ID, rec.Seq)
		return body.Ns, nil
	case wal.RecLeaseAcquire:
		body, err := wal.DecodeLeaseAcquireBody(rec.Body)
		if err != nil {
			return "", fmt.Errorf("decode lease acquire body: %w", err)
		}
		e.RestoreLease(model.Lease{
			Ns: body.Ns, Key: body.Key, Owner: body.Owner, Token: body.Token,
			ExpiresAt: time.Unix(body.ExpiresAtUnix, 0),
		})
		return body.Ns, nil
	case wal.RecLeaseRenew:
		body, err := wal.DecodeLeaseRenewBody(rec.Body)
		if err != nil {
			return "", fmt.Errorf("decode lease renew body: %w", err)
		}
		e.RestoreLease(model.Lease{
			Ns: body.Ns, Key: body.Key, Owner: body.Owner, Token: body.Token,
			ExpiresAt: time.Unix(body.ExpiresAtUnix, 0),
		})
		return body.Ns, nil
	case wal.RecLeaseRelease:
		body, err := wal.DecodeLeaseReleaseBody(rec.Body)
		if err != nil {
			return "", fmt.Errorf("decode lease release body: %w", err)
		}
		e.RestoreLeaseRelease(body.Ns, body.Key)
		return body.Ns, nil
	case wal.RecIdempotency:
		body, err := wal.DecodeIdempotencyBody(rec.Body)
		if err != nil {
			return "", fmt.Errorf("decode idempotency body: %w", err)
		}
		e.RestoreIdempotency(model.IdempotencyRecord{
			Ns: body.Ns, Key: body.Key, BodyHash: body.BodyHash, Response: body.Response,
			ResponseHash: body.ResponseHash, CommitSeq: body.CommitSeq,
			ExpiresAt: time.Unix(body.ExpiresAtUnix, 0),
		})
		return body.Ns, nil
	default:
		return "", fmt.Errorf("unknown record type %d", rec.Type)
	}
}
