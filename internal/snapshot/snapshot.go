// Package snapshot implements the compressed newline-delimited snapshot of
// current object versions, WAL trim, and the shared restore routine used
// by both the persistent engine and the admin restore CLI.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"

	"github.com/kioku-io/kioku/internal/model"
	"github.com/kioku-io/kioku/internal/wal"
)

const zstdLevel = zstd.SpeedDefault // level 3 equivalent; klauspost/compress exposes named speed tiers rather than numeric levels

// Dir returns the snapshots subdirectory under a data dir. It does not
// create it; Write does.
func Dir(dataDir string) string { return filepath.Join(dataDir, "snapshots") }

// Write serializes every object as one JSON line, zstd-compresses the
// stream at the teacher-matching compression level, and writes it to
// snapshots/snap-<ULID>.zst. Returns the snapshot's filename (not full
// path), suitable for Manifest.CurrentSnapshot.
func Write(dataDir string, objects []model.Object, now time.Time) (string, error) {
	dir := Dir(dataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}
	name := fmt.Sprintf("snap-%s.zst", ulid.MustNew(ulid.Timestamp(now), nil).String())
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("snapshot: create %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstdLevel))
	if err != nil {
		return "", fmt.Errorf("snapshot: new zstd writer: %w", err)
	}

	enc := json.NewEncoder(zw)
	for _, obj := range objects {
		if err := enc.Encode(obj); err != nil {
			zw.Close()
			return "", fmt.Errorf("snapshot: encode object %s/%s: %w", obj.Ns, obj.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("snapshot: close zstd writer: %w", err)
	}
	return name, nil
}

// Read decompresses and decodes every object version out of a snapshot
// file named name under dataDir.
func Read(dataDir, name string) ([]model.Object, error) {
	path := filepath.Join(Dir(dataDir), name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r *os.File) ([]model.Object, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("snapshot: new zstd reader: %w", err)
	}
	defer zr.Close()

	var out []model.Object
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var obj model.Object
		if err := json.Unmarshal(line, &obj); err != nil {
			return nil, fmt.Errorf("snapshot: decode line: %w", err)
		}
		out = append(out, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: scan: %w", err)
	}
	return out, nil
}

// Manifest re-exports wal.Manifest so callers of this package don't need
// to import internal/wal directly for the common case of reading it.
type Manifest = wal.Manifest
