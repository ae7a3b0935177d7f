package snapshot

import (
	"fmt"
	"time"

	"github.com/kioku-io/kioku/internal/engine"
)

// Create writes a new snapshot of p's current state and records it as the
// manifest's current snapshot, bookmarked at the highest commit_seq the
// snapshot reflects (the WAL's own last_seq at the moment of the call —
// slightly ahead of any single namespace's counter is fine, Trim only
// drops segments strictly below it). Returns the new snapshot's filename.
func Create(p *engine.Persistent, now time.Time) (string, error) {
	objects := p.AllObjects()
	name, err := Write(p.DataDir(), objects, now)
	if err != nil {
		return "", err
	}
	bookmark := p.AdminManifest().LastSeq
	if err := p.RecordSnapshot(name, bookmark); err != nil {
		return "", fmt.Errorf("snapshot: record %s: %w", name, err)
	}
	return name, nil
}

// TrimWAL deletes WAL segments already covered by p's current snapshot.
func TrimWAL(p *engine.Persistent) (int, error) {
	m := p.AdminManifest()
	if m.CurrentSnapshot == "" {
		return 0, fmt.Errorf("snapshot: no current snapshot to trim against")
	}
	return Trim(p.DataDir(), m.CurrentSnapshot)
}
