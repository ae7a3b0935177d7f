package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kioku-io/kioku/internal/model"
)

func TestSubscribeLiveReceivesEvents(t *testing.T) {
	e := newTestEngine(t)
	sub := e.Subscribe("ns1", nil, WatchConfig{})
	defer sub.Close()

	obj, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)

	ev, ok := sub.TryNext()
	require.True(t, ok)
	require.Equal(t, model.EventPut, ev.Type)
	require.Equal(t, obj.ID, ev.ID)
	require.Equal(t, obj.CommitSeq, sub.LastCommit())
}

func TestSubscribeResumeFromCommitSeedsOnlyLaterEvents(t *testing.T) {
	e := newTestEngine(t)
	obj1, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	obj2, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)

	from := obj1.CommitSeq
	sub := e.Subscribe("ns1", &from, WatchConfig{})
	defer sub.Close()

	ev, ok := sub.TryNext()
	require.True(t, ok)
	require.Equal(t, obj2.ID, ev.ID)

	_, ok = sub.TryNext()
	require.False(t, ok, "resume must not replay events at or before from_commit")
}

func TestSubscribeResumeFromZeroSeedsEverySeenEvent(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, _, err = e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)

	from := uint64(0)
	sub := e.Subscribe("ns1", &from, WatchConfig{})
	defer sub.Close()

	var count int
	for {
		if _, ok := sub.TryNext(); !ok {
			break
		}
		count++
	}
	require.Equal(t, 2, count)
}

func TestSubscribeOverflowPoisonsHandle(t *testing.T) {
	e := newTestEngine(t)
	sub := e.Subscribe("ns1", nil, WatchConfig{MaxEvents: 1})
	defer sub.Close()

	_, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, _, err = e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)

	meta := sub.OverflowMeta()
	require.True(t, meta.Overflowed)

	// Further pushes are silently dropped once poisoned.
	_, _, err = e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)

	var drained int
	for {
		if _, ok := sub.TryNext(); !ok {
			break
		}
		drained++
	}
	require.Equal(t, 1, drained, "overflow must not grow the buffer past its cap")
}

func TestSetWatchDefaultsAppliesToZeroValuedConfig(t *testing.T) {
	e := newTestEngine(t)
	e.SetWatchDefaults(WatchConfig{MaxEvents: 3, MaxBytes: 1 << 20, RetryMinMs: 10, RetryMaxMs: 20})

	sub := e.Subscribe("ns1", nil, WatchConfig{})
	defer sub.Close()

	for i := 0; i < 5; i++ {
		_, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
		require.NoError(t, err)
	}

	meta := sub.OverflowMeta()
	require.True(t, meta.Overflowed, "configured MaxEvents=3 must still cap the buffer")
	require.Equal(t, 15, meta.RetryAfter)
}

func TestSubscribeExplicitConfigOverridesEngineDefaults(t *testing.T) {
	e := newTestEngine(t)
	e.SetWatchDefaults(WatchConfig{MaxEvents: 3, MaxBytes: 1 << 20, RetryMinMs: 10, RetryMaxMs: 20})

	sub := e.Subscribe("ns1", nil, WatchConfig{MaxEvents: 100, MaxBytes: 1 << 20, RetryMinMs: 10, RetryMaxMs: 20})
	defer sub.Close()

	for i := 0; i < 5; i++ {
		_, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
		require.NoError(t, err)
	}

	require.False(t, sub.OverflowMeta().Overflowed, "a caller-supplied MaxEvents must win over the engine default")
}

func TestSubscribeCloseUnregistersFromBroker(t *testing.T) {
	e := newTestEngine(t)
	sub := e.Subscribe("ns1", nil, WatchConfig{})
	sub.Close()

	_, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)

	_, ok := sub.TryNext()
	require.False(t, ok, "closed subscription must not receive further events")
}
