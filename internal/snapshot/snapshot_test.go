package snapshot

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kioku-io/kioku/internal/engine"
	"github.com/kioku-io/kioku/internal/model"
	"github.com/kioku-io/kioku/internal/wal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	objects := []model.Object{
		{ID: "a", Ns: "ns1", Type: "note", Body: json.RawMessage(`{"v":1}`), CommitSeq: 1, Ts: now},
		{ID: "b", Ns: "ns1", Type: "note", Body: json.RawMessage(`{"v":2}`), CommitSeq: 2, Ts: now},
	}
	name, err := Write(dir, objects, now)
	require.NoError(t, err)
	require.FileExists(t, dir+"/snapshots/"+name)

	got, err := Read(dir, name)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0].ID)
	require.JSONEq(t, `{"v":2}`, string(got[1].Body))
}

func TestCreateAndTrimAndRestore(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	logger := testLogger()

	p, err := engine.OpenPersistent(dir, wal.Config{}, logger)
	require.NoError(t, err)

	var last model.Object
	for i := 0; i < 3; i++ {
		obj, err := p.Put(ctx, "ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
		require.NoError(t, err)
		last = obj
	}

	name, err := Create(p, time.Now().UTC())
	require.NoError(t, err)
	require.NotEmpty(t, name)

	m := p.AdminManifest()
	require.Equal(t, name, m.CurrentSnapshot)
	require.NotNil(t, m.SnapshotBookmark)
	require.Equal(t, last.CommitSeq, *m.SnapshotBookmark)

	// Everything so far sits in the single current segment, which Trim
	// never removes.
	removed, err := Trim(dir, name)
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	// A write after the snapshot should still be captured by the WAL tail
	// on restore even though it postdates the bookmark.
	postSnapshot, err := p.Put(ctx, "ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{"post":true}`)})
	require.NoError(t, err)

	require.NoError(t, p.Drain(ctx))

	report, restored, err := Restore(dir, "", logger)
	require.NoError(t, err)
	require.True(t, report.CrcOK)
	require.Equal(t, postSnapshot.CommitSeq, report.LastSeq)
	require.Equal(t, 4, report.Objects)

	got, err := restored.Get("ns1", postSnapshot.ID, model.GetOptions{})
	require.NoError(t, err)
	require.JSONEq(t, `{"post":true}`, string(got.Body))

	// Passing the snapshot name explicitly (as the admin CLI does) must
	// reach the identical final state, bookmark fast-forward or not.
	reportExplicit, restoredExplicit, err := Restore(dir, name, logger)
	require.NoError(t, err)
	require.Equal(t, report.LastSeq, reportExplicit.LastSeq)
	require.Equal(t, report.Objects, reportExplicit.Objects)
	gotExplicit, err := restoredExplicit.Get("ns1", postSnapshot.ID, model.GetOptions{})
	require.NoError(t, err)
	require.JSONEq(t, `{"post":true}`, string(gotExplicit.Body))
}

func TestTrimRefusesWithoutMatchingCurrentSnapshot(t *testing.T) {
	dir := t.TempDir()
	_, err := Trim(dir, "snap-does-not-exist")
	require.Error(t, err)
}
