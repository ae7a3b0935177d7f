package engine

import (
	"sync"

	"github.com/kioku-io/kioku/internal/model"
)

const (
	DefaultWatchBufferEvents = 10_000
	DefaultWatchBufferBytes  = 64 << 20
	DefaultWatchRetryMinMs   = 250
	DefaultWatchRetryMaxMs   = 4000
)

// WatchConfig bounds a single subscriber's buffer and overflow-retry hint.
type WatchConfig struct {
	MaxEvents  int
	MaxBytes   int
	RetryMinMs int
	RetryMaxMs int
}

func (c WatchConfig) withDefaults(fallback WatchConfig) WatchConfig {
	if c.MaxEvents <= 0 {
		c.MaxEvents = fallback.MaxEvents
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = fallback.MaxBytes
	}
	if c.RetryMinMs <= 0 {
		c.RetryMinMs = fallback.RetryMinMs
	}
	if c.RetryMaxMs <= 0 {
		c.RetryMaxMs = fallback.RetryMaxMs
	}
	return c
}

// packageDefaults is the fallback Engine.New seeds watchDefaults with,
// used verbatim until a caller overrides it via SetWatchDefaults.
var packageDefaults = WatchConfig{
	MaxEvents:  DefaultWatchBufferEvents,
	MaxBytes:   DefaultWatchBufferBytes,
	RetryMinMs: DefaultWatchRetryMinMs,
	RetryMaxMs: DefaultWatchRetryMaxMs,
}

// broker fans published events out to every namespace's registered
// subscriptions. Kept separate from namespaceState so publish (called
// while the engine's writer lock is held) never needs to reach back into
// index/object bookkeeping — it only ever touches the subscriber list.
type broker struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

func newBroker() *broker { return &broker{subs: make(map[string][]*Subscription)} }

func (b *broker) publish(ns string, ev model.WatchEvent) {
	b.mu.RLock()
	subs := append([]*Subscription(nil), b.subs[ns]...)
	b.mu.RUnlock()
	for _, s := range subs {
		s.push(ev)
	}
}

func (b *broker) subscribe(ns string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ns] = append(b.subs[ns], sub)
}

func (b *broker) unsubscribe(ns string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[ns]
	for i, s := range list {
		if s == sub {
			b.subs[ns] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Subscription is a single watcher's bounded event buffer. A dedicated
// RWMutex guards its cursor/byte/overflow bookkeeping so producers
// (broker.publish) and the one consumer calling TryNext never contend with
// the engine's main writer lock.
type Subscription struct {
	mu sync.RWMutex

	buf        []model.WatchEvent
	bytesUsed  int
	overflow   bool
	lastCommit uint64

	cfg WatchConfig

	closeOnce sync.Once
	closeFn   func()
}

func newSubscription(cfg, fallback WatchConfig) *Subscription {
	return &Subscription{cfg: cfg.withDefaults(fallback)}
}

// push enqueues ev, setting the overflow flag (and dropping the event)
// if either the event-count or byte cap would be exceeded. Once poisoned,
// a subscription silently drops everything until the consumer resumes by
// re-subscribing (per spec, the handle does not auto-heal).
func (s *Subscription) push(ev model.WatchEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.overflow {
		return
	}
	weight := ev.ByteWeight()
	if len(s.buf)+1 > s.cfg.MaxEvents || s.bytesUsed+weight > s.cfg.MaxBytes {
		s.overflow = true
		return
	}
	s.buf = append(s.buf, ev)
	s.bytesUsed += weight
}

// TryNext pops the oldest buffered event, if any, advancing the cursor and
// LastCommit. Non-blocking: callers poll (see DESIGN NOTES re: polling vs
// a condition variable).
func (s *Subscription) TryNext() (model.WatchEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return model.WatchEvent{}, false
	}
	ev := s.buf[0]
	s.buf = s.buf[1:]
	s.bytesUsed -= ev.ByteWeight()
	if s.bytesUsed < 0 {
		s.bytesUsed = 0
	}
	s.lastCommit = ev.CommitSeq
	return ev, true
}

// LastCommit returns the commit_seq of the most recently consumed event
// (or the seed watermark if nothing has been consumed yet after a resume).
func (s *Subscription) LastCommit() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastCommit
}

// OverflowMeta reports the poison state: when Overflowed, the consumer
// must stop and resume by re-subscribing with from_commit=LastCommit after
// waiting roughly RetryAfter milliseconds (the midpoint of the configured
// min/max retry window).
func (s *Subscription) OverflowMeta() model.OverflowMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.OverflowMeta{
		LastCommit: s.lastCommit,
		RetryAfter: (s.cfg.RetryMinMs + s.cfg.RetryMaxMs) / 2,
		Overflowed: s.overflow,
	}
}

// Close releases the subscription from its namespace's broker. Idempotent
// and safe to call multiple times, matching the teacher's Drain idiom.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// SetWatchDefaults overrides the fallback Subscribe applies to any
// WatchConfig field a caller leaves unset (<=0), sourced from
// config.Config's WATCH_BUFFER_EVENTS/WATCH_BUFFER_BYTES/
// WATCH_RETRY_MIN_MS/WATCH_RETRY_MAX_MS. A zero-valued field in cfg still
// falls back to the package constants. Call before any Subscribe; not
// safe for concurrent use with an in-flight Subscribe.
func (e *Engine) SetWatchDefaults(cfg WatchConfig) {
	e.watchDefaults = cfg.withDefaults(packageDefaults)
}

// Subscribe registers a new bounded subscription for ns. If fromCommit is
// non-nil, the buffer is seeded with every commit-log entry whose
// CommitSeq exceeds it before the subscription is linked into the broker —
// done under the same writer lock Put uses, so no event can be missed or
// duplicated between the seed scan and live registration.
func (e *Engine) Subscribe(ns string, fromCommit *uint64, cfg WatchConfig) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := e.namespace(ns)
	sub := newSubscription(cfg, e.watchDefaults)
	if fromCommit != nil {
		sub.lastCommit = *fromCommit
		for _, ev := range n.commitLog {
			if ev.CommitSeq > *fromCommit {
				sub.push(ev)
			}
		}
	}
	e.broker.subscribe(ns, sub)
	sub.closeFn = func() { e.broker.unsubscribe(ns, sub) }
	return sub
}
