package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"lukechampine.com/blake3"
)

// Tags is an ordered map of string to string. Go maps don't preserve
// insertion order, so Tags keeps parallel slices to make commit-seed
// hashing and WAL encoding deterministic.
type Tags struct {
	keys   []string
	values []string
}

// NewTags builds a Tags value from an unordered map, sorting keys for a
// deterministic iteration order (callers that need insertion order should
// use Set directly).
func NewTags(m map[string]string) Tags {
	t := Tags{}
	for k, v := range m {
		t.Set(k, v)
	}
	return t
}

func (t *Tags) Set(k, v string) {
	for i, existing := range t.keys {
		if existing == k {
			t.values[i] = v
			return
		}
	}
	t.keys = append(t.keys, k)
	t.values = append(t.values, v)
}

func (t Tags) Len() int { return len(t.keys) }

// Each calls fn for every (key, value) pair in insertion order.
func (t Tags) Each(fn func(k, v string)) {
	for i, k := range t.keys {
		fn(k, t.values[i])
	}
}

func (t Tags) Map() map[string]string {
	out := make(map[string]string, len(t.keys))
	t.Each(func(k, v string) { out[k] = v })
	return out
}

func (t Tags) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Map())
}

func (t *Tags) UnmarshalJSON(b []byte) error {
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*t = NewTags(m)
	return nil
}

// MarshalCBOR encodes the keys and values as two parallel arrays, so a WAL
// record carries the tags in their stored order.
func (t Tags) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal([2][]string{t.keys, t.values})
}

func (t *Tags) UnmarshalCBOR(b []byte) error {
	var kv [2][]string
	if err := cbor.Unmarshal(b, &kv); err != nil {
		return err
	}
	if len(kv[0]) != len(kv[1]) {
		return fmt.Errorf("tags: %d keys but %d values", len(kv[0]), len(kv[1]))
	}
	t.keys, t.values = kv[0], kv[1]
	return nil
}

// Object is a single immutable version of a (ns, id) object.
type Object struct {
	ID         string          `json:"id"`
	Ns         string          `json:"ns"`
	Type       string          `json:"type"`
	Body       json.RawMessage `json:"body"`
	Tags       Tags            `json:"tags,omitempty"`
	TTLSeconds *int64          `json:"ttl_seconds,omitempty"`
	Parents    []string        `json:"parents,omitempty"`
	Commit     string          `json:"commit"`
	Ts         time.Time       `json:"ts"`
	CommitSeq  uint64          `json:"commit_seq"`
}

// Expired reports whether this version's TTL has elapsed as of now.
func (o *Object) Expired(now time.Time) bool {
	if o.TTLSeconds == nil {
		return false
	}
	deadline := o.Ts.Add(time.Duration(*o.TTLSeconds) * time.Second)
	return now.After(deadline)
}

// PutRequest is the caller-supplied payload for a put operation. ID is
// optional; when empty the engine assigns a ULID.
type PutRequest struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Body       json.RawMessage `json:"body"`
	Tags       Tags            `json:"tags,omitempty"`
	TTLSeconds *int64          `json:"ttl_seconds,omitempty"`
	Parents    []string        `json:"parents,omitempty"`
}

// NewObjectID mints a ULID object id seeded from now, used when a
// PutRequest omits one.
func NewObjectID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), nil).String()
}

// CommitHash computes the content-addressed commit id for a version:
// blake3-hex of "ns:id:type:ts_rfc3339" followed by the serialized body.
func CommitHash(ns, id, typ string, ts time.Time, body json.RawMessage) string {
	seed := fmt.Sprintf("%s:%s:%s:%s", ns, id, typ, ts.UTC().Format(time.RFC3339Nano))
	h := blake3.New(32, nil)
	h.Write([]byte(seed))
	h.Write(body)
	return fmt.Sprintf("%x", h.Sum(nil))
}
