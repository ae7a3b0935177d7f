package engine

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kioku-io/kioku/internal/model"
)

type idSet map[string]struct{}

func (s idSet) add(id string)      { s[id] = struct{}{} }
func (s idSet) remove(id string)   { delete(s, id) }
func (s idSet) has(id string) bool { _, ok := s[id]; return ok }

// tagKey and pathKey build the composite index keys described in the data
// model table: (ns, tag_k, tag_v) and (ns, path, stringified_value).
func tagKey(k, v string) string { return k + "\x1f" + v }
func pathKey(path, value string) string { return path + "\x1f" + value }

// gjsonPath converts the registered dotted-path form ("$.a.b") into the
// path syntax tidwall/gjson expects ("a.b"). Array indices are rejected at
// registration time (model.ValidateJSONPath), so this is a plain prefix
// strip.
func gjsonPath(path string) string {
	return strings.TrimPrefix(path, "$.")
}

// resolveJSONPath returns the stringified value at path within body, and
// whether the path resolved to a scalar at all (missing paths and
// non-scalar values are not indexed).
func resolveJSONPath(body []byte, path string) (string, bool) {
	res := gjson.GetBytes(body, gjsonPath(path))
	if !res.Exists() || res.IsArray() || res.IsObject() {
		return "", false
	}
	return res.String(), true
}

// namespaceIndex holds the tag and JSON-path secondary indexes for a single
// namespace, plus the set of paths registered for JSON-path indexing.
type namespaceIndex struct {
	tags        map[string]idSet // tagKey -> ids
	paths       map[string]idSet // pathKey -> ids
	registered  map[string]struct{}
}

func newNamespaceIndex() *namespaceIndex {
	return &namespaceIndex{
		tags:       make(map[string]idSet),
		paths:      make(map[string]idSet),
		registered: make(map[string]struct{}),
	}
}

func (ni *namespaceIndex) registerPath(path string) error {
	if err := model.ValidateJSONPath(path); err != nil {
		return err
	}
	ni.registered[path] = struct{}{}
	return nil
}

// indexObject inserts id under every (tag, value) and registered-path entry
// the object's current version carries.
func (ni *namespaceIndex) indexObject(id string, obj *model.Object) {
	obj.Tags.Each(func(k, v string) {
		key := tagKey(k, v)
		s, ok := ni.tags[key]
		if !ok {
			s = make(idSet)
			ni.tags[key] = s
		}
		s.add(id)
	})
	for path := range ni.registered {
		val, ok := resolveJSONPath(obj.Body, path)
		if !ok {
			continue
		}
		key := pathKey(path, val)
		s, ok := ni.paths[key]
		if !ok {
			s = make(idSet)
			ni.paths[key] = s
		}
		s.add(id)
	}
}

// unindexObject removes id from every index entry the given (now stale or
// deleted) version carried. Called with the previous current version before
// a new one is indexed, or on delete/expiry.
func (ni *namespaceIndex) unindexObject(id string, obj *model.Object) {
	obj.Tags.Each(func(k, v string) {
		if s, ok := ni.tags[tagKey(k, v)]; ok {
			s.remove(id)
			if len(s) == 0 {
				delete(ni.tags, tagKey(k, v))
			}
		}
	})
	for path := range ni.registered {
		val, ok := resolveJSONPath(obj.Body, path)
		if !ok {
			continue
		}
		key := pathKey(path, val)
		if s, ok := ni.paths[key]; ok {
			s.remove(id)
			if len(s) == 0 {
				delete(ni.paths, key)
			}
		}
	}
}

// candidates intersects tag and JSON-path filter lookups. A nil return with
// filtered=false distinguishes "no filters supplied, scan everything" from
// "some filter matched zero ids".
func (ni *namespaceIndex) candidates(tf model.TagFilter, jf model.JsonPathFilter) (ids idSet, filtered bool) {
	if len(tf) == 0 && len(jf) == 0 {
		return nil, false
	}
	result := idSet(nil)
	intersect := func(s idSet) {
		if result == nil {
			result = make(idSet, len(s))
			for id := range s {
				result.add(id)
			}
			return
		}
		for id := range result {
			if !s.has(id) {
				result.remove(id)
			}
		}
	}

	for k, v := range tf {
		s := ni.tags[tagKey(k, v)]
		intersect(s)
		if len(result) == 0 {
			return result, true
		}
	}
	for path, v := range jf {
		s := ni.paths[pathKey(path, stringifyFilterValue(v))]
		intersect(s)
		if len(result) == 0 {
			return result, true
		}
	}
	if result == nil {
		result = make(idSet)
	}
	return result, true
}

// stringifyFilterValue round-trips a filter value through JSON so its
// stringified form matches what resolveJSONPath produces for the same
// underlying value (numbers, bools, strings).
func stringifyFilterValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return gjson.ParseBytes(b).String()
}
