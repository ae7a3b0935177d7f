package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kioku-io/kioku/internal/model"
	"github.com/kioku-io/kioku/internal/wal"
)

func newTestPersistent(t *testing.T, dir string) *Persistent {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	p, err := OpenPersistent(dir, wal.Config{}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = p.Drain(ctx)
	})
	return p
}

func TestPersistentPutSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := newTestPersistent(t, dir)
	obj, err := p.Put(ctx, "ns1", model.PutRequest{ID: "fixed", Type: "note", Body: json.RawMessage(`{"v":1}`)})
	require.NoError(t, err)
	require.NoError(t, p.Drain(ctx))

	reopened := newTestPersistent(t, dir)
	got, err := reopened.Get("ns1", obj.ID, model.GetOptions{})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(got.Body))
	require.Equal(t, obj.CommitSeq, got.CommitSeq)
}

func TestPersistentDeleteSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := newTestPersistent(t, dir)
	obj, err := p.Put(ctx, "ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, p.Delete(ctx, "ns1", obj.ID))
	require.NoError(t, p.Drain(ctx))

	reopened := newTestPersistent(t, dir)
	_, err = reopened.Get("ns1", obj.ID, model.GetOptions{})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestPersistentLeaseAndIdempotencySurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := newTestPersistent(t, dir)
	lease, err := p.LeaseAcquire(ctx, "ns1", "res1", "alice", time.Hour)
	require.NoError(t, err)

	hash := HashBody([]byte("body"))
	_, err = p.IdempotencyCommit(ctx, "ns1", "key1", hash, []byte(`{"ok":true}`), lease.Token+1, time.Hour)
	require.NoError(t, err)
	require.NoError(t, p.Drain(ctx))

	reopened := newTestPersistent(t, dir)
	require.NoError(t, reopened.ValidateFence("ns1", "res1", lease.Token))

	rec, err := reopened.IdempotencyLookup("ns1", "key1", hash)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"ok":true}`), rec.Response)
}

func TestPersistentCommitSeqContinuesAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	p := newTestPersistent(t, dir)
	obj1, err := p.Put(ctx, "ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, p.Drain(ctx))

	reopened := newTestPersistent(t, dir)
	obj2, err := reopened.Put(ctx, "ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.Greater(t, obj2.CommitSeq, obj1.CommitSeq)
}
