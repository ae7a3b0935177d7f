package wal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Replay decodes every record in every segment listed in the manifest, in
// order, and hands each to visit. On the first structural error or CRC
// mismatch within a segment, that segment's remaining bytes (and any
// segments the manifest lists after it) are discarded — the crash-torn-tail
// semantics required by the durability invariants.
//
// visit receives records strictly in the order they were appended; it is
// the caller's job (the object/index core rebuilder, or the restore tool)
// to apply Put/Delete/Lease*/Idempotency semantics and track per-namespace
// max commit_seq.
func Replay(dir string, visit func(Record) error) error {
	_, err := ReplayReport(dir, visit)
	return err
}

// ReplayReport behaves like Replay but also reports whether a torn/corrupt
// tail was encountered and the remaining segments were discarded, so
// callers that surface a restore report (internal/snapshot) can say so.
func ReplayReport(dir string, visit func(Record) error) (tornTail bool, err error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return false, err
	}

	segments := m.Segments
	if len(segments) == 0 {
		names, err := listSegmentFiles(dir)
		if err != nil {
			return false, err
		}
		for _, n := range names {
			segments = append(segments, SegmentMeta{Name: n})
		}
	}

	for _, seg := range segments {
		stop, err := replaySegment(filepath.Join(dir, seg.Name), visit)
		if err != nil {
			return false, err
		}
		if stop {
			// Torn/corrupt tail: everything after this segment, if any,
			// postdates a crash we've already accounted for.
			return true, nil
		}
	}
	return false, nil
}

// replaySegment reads path record-by-record. It returns (true, nil) when a
// torn/corrupt tail was encountered (clean stop, not an error), and
// (false, nil) when the segment was read to a clean EOF.
func replaySegment(path string, visit func(Record) error) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("wal: open segment %s: %w", path, err)
	}
	defer f.Close()

	for {
		rec, err := Decode(f)
		switch {
		case err == nil:
			if visitErr := visit(rec); visitErr != nil {
				return false, fmt.Errorf("wal: apply record seq=%d: %w", rec.Seq, visitErr)
			}
		case errors.Is(err, io.EOF):
			return false, nil
		case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, ErrCRCMismatch), errors.Is(err, ErrBodyTooLarge):
			return true, nil
		default:
			return false, fmt.Errorf("wal: decode segment %s: %w", path, err)
		}
	}
}
