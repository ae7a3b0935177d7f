package engine

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kioku-io/kioku/internal/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return New(slog.Default())
}

func TestPutAssignsSeqAndCommitHash(t *testing.T) {
	e := newTestEngine(t)
	obj, ev, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	require.Equal(t, uint64(1), obj.CommitSeq)
	require.NotEmpty(t, obj.ID)
	require.NotEmpty(t, obj.Commit)
	require.Equal(t, model.EventPut, ev.Type)
	require.Equal(t, obj.CommitSeq, ev.CommitSeq)

	obj2, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{"a":2}`)})
	require.NoError(t, err)
	require.Equal(t, uint64(2), obj2.CommitSeq)
}

func TestPutOverwriteKeepsOnlyCurrentVersionVisible(t *testing.T) {
	e := newTestEngine(t)
	obj, _, err := e.Put("ns1", model.PutRequest{ID: "fixed", Type: "note", Body: json.RawMessage(`{"v":1}`)})
	require.NoError(t, err)

	_, _, err = e.Put("ns1", model.PutRequest{ID: obj.ID, Type: "note", Body: json.RawMessage(`{"v":2}`)})
	require.NoError(t, err)

	got, err := e.Get("ns1", obj.ID, model.GetOptions{})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":2}`, string(got.Body))
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Get("ns1", "missing", model.GetOptions{})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteRemovesObjectAndBumpsSeq(t *testing.T) {
	e := newTestEngine(t)
	obj, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`)})
	require.NoError(t, err)

	ev, err := e.Delete("ns1", obj.ID)
	require.NoError(t, err)
	require.Equal(t, model.EventDelete, ev.Type)
	require.Greater(t, ev.CommitSeq, obj.CommitSeq)

	_, err = e.Get("ns1", obj.ID, model.GetOptions{})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Delete("ns1", "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestQueryByTagFilter(t *testing.T) {
	e := newTestEngine(t)
	tags := model.NewTags(map[string]string{"kind": "task", "owner": "alice"})
	_, _, err := e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`), Tags: tags})
	require.NoError(t, err)
	_, _, err = e.Put("ns1", model.PutRequest{Type: "note", Body: json.RawMessage(`{}`), Tags: model.NewTags(map[string]string{"kind": "task", "owner": "bob"})})
	require.NoError(t, err)

	results, err := e.Query("ns1", model.QueryRequest{TagFilter: model.TagFilter{"owner": "alice"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestQueryByJSONPathFilter(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.RegisterJSONPath("ns1", "$.status"))

	_, _, err := e.Put("ns1", model.PutRequest{Type: "task", Body: json.RawMessage(`{"status":"open"}`)})
	require.NoError(t, err)
	_, _, err = e.Put("ns1", model.PutRequest{Type: "task", Body: json.RawMessage(`{"status":"closed"}`)})
	require.NoError(t, err)

	results, err := e.Query("ns1", model.QueryRequest{JsonPathFilter: model.JsonPathFilter{"$.status": "open"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.JSONEq(t, `{"status":"open"}`, string(results[0].Object.Body))
}

func TestRegisterJSONPathRejectsArrayIndex(t *testing.T) {
	e := newTestEngine(t)
	err := e.RegisterJSONPath("ns1", "$.items[0].name")
	require.ErrorIs(t, err, model.ErrInvalid)
}

func TestQueryVectorRescoresAndLimitsTopK(t *testing.T) {
	e := newTestEngine(t)
	_, _, err := e.Put("ns1", model.PutRequest{Type: "doc", Body: json.RawMessage(`{"embedding":[1,0,0]}`)})
	require.NoError(t, err)
	_, _, err = e.Put("ns1", model.PutRequest{Type: "doc", Body: json.RawMessage(`{"embedding":[0,1,0]}`)})
	require.NoError(t, err)

	results, err := e.Query("ns1", model.QueryRequest{
		Vector: &model.VectorQuery{Field: "embedding", TopK: 1, Embedding: []float32{1, 0, 0}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestGetAtTsReturnsHistoricalVersion(t *testing.T) {
	e := newTestEngine(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := base
	e.clock = func() time.Time { return tick }

	obj1, _, err := e.Put("ns1", model.PutRequest{ID: "x", Type: "note", Body: json.RawMessage(`{"v":1}`)})
	require.NoError(t, err)

	tick = base.Add(time.Hour)
	_, _, err = e.Put("ns1", model.PutRequest{ID: "x", Type: "note", Body: json.RawMessage(`{"v":2}`)})
	require.NoError(t, err)

	at := obj1.Ts.Unix()
	got, err := e.Get("ns1", "x", model.GetOptions{AtTs: &at})
	require.NoError(t, err)
	require.JSONEq(t, `{"v":1}`, string(got.Body))
}
