package snapshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kioku-io/kioku/internal/wal"
)

// Trim deletes WAL segments fully covered by snapshotID, keeping one
// segment below the cutoff as a safety margin (so a replay that starts
// one segment early never misses a record the snapshot already covers,
// it just redoes harmless idempotent work). Requires the manifest's
// current_snapshot to already equal snapshotID — trimming without first
// recording the snapshot as current would risk discarding unrecoverable
// history.
func Trim(dataDir, snapshotID string) (int, error) {
	m, err := wal.LoadManifest(dataDir)
	if err != nil {
		return 0, err
	}
	if m.CurrentSnapshot != snapshotID {
		return 0, fmt.Errorf("snapshot: trim refused: manifest current_snapshot=%q != %q", m.CurrentSnapshot, snapshotID)
	}
	if m.SnapshotBookmark == nil {
		return 0, fmt.Errorf("snapshot: trim refused: manifest has no snapshot_bookmark")
	}
	cutoff := *m.SnapshotBookmark

	// Sort by implicit append order (manifest.Segments is already
	// maintained in creation order by the writer); find segments strictly
	// below the cutoff, excluding the last such one as the safety margin.
	var below []int
	for i, seg := range m.Segments {
		if seg.MaxSeq < cutoff && seg.Name != m.CurrentSegment {
			below = append(below, i)
		}
	}
	if len(below) <= 1 {
		return 0, nil
	}
	toRemove := below[:len(below)-1]

	removed := 0
	keep := make([]wal.SegmentMeta, 0, len(m.Segments))
	removeSet := make(map[int]bool, len(toRemove))
	for _, i := range toRemove {
		removeSet[i] = true
	}
	for i, seg := range m.Segments {
		if removeSet[i] {
			path := filepath.Join(dataDir, seg.Name)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("snapshot: remove segment %s: %w", seg.Name, err)
			}
			removed++
			continue
		}
		keep = append(keep, seg)
	}
	m.Segments = keep
	if err := m.Persist(dataDir); err != nil {
		return removed, err
	}
	return removed, nil
}
