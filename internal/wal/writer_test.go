package wal

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestWriter(t *testing.T, cfg Config) *Writer {
	t.Helper()
	dir := t.TempDir()
	cfg.Dir = dir
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := Open(dir, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.Drain(ctx)
		_ = w.Close()
	})
	return w
}

func TestWriterAppendPersistsManifest(t *testing.T) {
	w := newTestWriter(t, Config{})
	ctx := context.Background()

	for i := uint64(1); i <= 5; i++ {
		body, err := EncodeBody(DeleteBody{Ns: "a", ID: "x"})
		require.NoError(t, err)
		err = w.Append(ctx, Record{Type: RecDelete, Seq: i, TsUnix: uint64(time.Now().Unix()), Body: body})
		require.NoError(t, err)
	}

	m := w.Manifest()
	require.Equal(t, uint64(5), m.LastSeq)
	require.NotEmpty(t, m.CurrentSegment)

	loaded, err := LoadManifest(w.dir)
	require.NoError(t, err)
	require.Equal(t, uint64(5), loaded.LastSeq)
}

func TestWriterRotatesOnSize(t *testing.T) {
	w := newTestWriter(t, Config{SegmentBytes: 128, BatchMaxBytes: 1})
	ctx := context.Background()

	for i := uint64(1); i <= 10; i++ {
		body, err := EncodeBody(DeleteBody{Ns: "a", ID: "object-with-a-longer-id-to-force-rotation"})
		require.NoError(t, err)
		require.NoError(t, w.Append(ctx, Record{Type: RecDelete, Seq: i, TsUnix: 1, Body: body}))
	}

	names, err := listSegmentFiles(w.dir)
	require.NoError(t, err)
	require.Greater(t, len(names), 1, "expected rotation to produce more than one segment")
}

func TestReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := Open(dir, Config{}, logger)
	require.NoError(t, err)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		body, err := EncodeBody(DeleteBody{Ns: "a", ID: "id"})
		require.NoError(t, err)
		require.NoError(t, w.Append(ctx, Record{Type: RecDelete, Seq: i, TsUnix: 1, Body: body}))
	}
	require.NoError(t, w.Drain(ctx))
	require.NoError(t, w.Close())

	var seqs []uint64
	err = Replay(dir, func(rec Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 3}, seqs)
}

func TestReplayTornSegmentStopsCleanly(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	w, err := Open(dir, Config{}, logger)
	require.NoError(t, err)
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		body, err := EncodeBody(DeleteBody{Ns: "a", ID: "id"})
		require.NoError(t, err)
		require.NoError(t, w.Append(ctx, Record{Type: RecDelete, Seq: i, TsUnix: 1, Body: body}))
	}
	m := w.Manifest()
	require.NoError(t, w.Drain(ctx))
	require.NoError(t, w.Close())

	segPath := filepath.Join(dir, m.CurrentSegment)
	info, err := os.Stat(segPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(segPath, info.Size()-3))

	var seqs []uint64
	err = Replay(dir, func(rec Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2}, seqs)
}
