package model

// ValidateNamespace requires a non-empty namespace of at most 128 bytes
// with no control characters; any other character, including '/', is
// accepted.
func ValidateNamespace(ns string) error {
	return validateToken("namespace", ns, 128)
}

// ValidateObjectID enforces the client-optional object id character class.
// Callers that omit an id get a ULID assigned instead.
func ValidateObjectID(id string) error {
	return validateToken("id", id, 256)
}

// ValidateTagKey bounds the tag key character class; tag keys
// are free-form enough to include spaces and punctuation but not control
// characters or the separators the tag index relies on.
func ValidateTagKey(k string) error {
	return validateToken("tag key", k, 128)
}

func validateToken(label, s string, maxLen int) error {
	if s == "" {
		return Invalidf("%s must not be empty", label)
	}
	if len(s) > maxLen {
		return Invalidf("%s exceeds %d bytes", label, maxLen)
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			return Invalidf("%s contains control character", label)
		}
	}
	return nil
}

// ValidateJSONPath rejects array-indexed paths; the JSON-path index is
// dotted-path-only in this implementation (see DESIGN NOTES).
func ValidateJSONPath(path string) error {
	if path == "" {
		return Invalidf("json path must not be empty")
	}
	if len(path) < 2 || path[0] != '$' || path[1] != '.' {
		return Invalidf("json path %q must start with \"$.\"", path)
	}
	for i, r := range path {
		switch {
		case r == '[' || r == ']':
			return Invalidf("json path %q: array indices are not supported", path)
		case r == '.' && i > 0 && path[i-1] == '.':
			return Invalidf("json path %q: empty segment", path)
		}
	}
	return nil
}
