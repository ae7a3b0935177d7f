package kioku

import "github.com/kioku-io/kioku/internal/engine"

// WatchConfig bounds a single subscriber's buffer and overflow-retry hint.
type WatchConfig struct {
	MaxEvents  int
	MaxBytes   int
	RetryMinMs int
	RetryMaxMs int
}

// WatchHandle is a resumable, bounded subscription to a namespace's
// commit log. Poll with TryNext; on OverflowMeta().Overflowed, stop and
// resume by calling Store.Subscribe again with FromCommit set to
// LastCommit.
type WatchHandle struct {
	sub *engine.Subscription
}

// Subscribe registers a new bounded subscription for ns. If fromCommit is
// non-nil, the handle is seeded with every commit-log entry whose
// CommitSeq exceeds it — the common resume-after-disconnect path.
func (s *Store) Subscribe(ns string, fromCommit *uint64, cfg WatchConfig) *WatchHandle {
	sub := s.eng.Subscribe(ns, fromCommit, engine.WatchConfig{
		MaxEvents:  cfg.MaxEvents,
		MaxBytes:   cfg.MaxBytes,
		RetryMinMs: cfg.RetryMinMs,
		RetryMaxMs: cfg.RetryMaxMs,
	})
	return &WatchHandle{sub: sub}
}

// TryNext pops the oldest buffered event, if any. Non-blocking: callers poll.
func (h *WatchHandle) TryNext() (WatchEvent, bool) {
	ev, ok := h.sub.TryNext()
	if !ok {
		return WatchEvent{}, false
	}
	return toPublicWatchEvent(ev), true
}

// LastCommit returns the commit_seq of the most recently consumed event
// (or fromCommit if nothing has been consumed yet after a resume).
func (h *WatchHandle) LastCommit() uint64 { return h.sub.LastCommit() }

// OverflowMeta reports the poison state of this handle.
func (h *WatchHandle) OverflowMeta() OverflowMeta {
	m := h.sub.OverflowMeta()
	return OverflowMeta{LastCommit: m.LastCommit, RetryAfter: m.RetryAfter, Overflowed: m.Overflowed}
}

// Close releases the subscription. Idempotent and safe to call multiple
// times.
func (h *WatchHandle) Close() { h.sub.Close() }
