package kioku

import (
	"errors"
	"fmt"

	"github.com/kioku-io/kioku/internal/model"
)

// Kind classifies a Store error so callers can branch with errors.Is
// without parsing messages. Mirrors internal/model.Kind at the public
// boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	default:
		return "internal"
	}
}

// Error is the error type every Store method returns.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is implements errors.Is by matching on Kind alone, so a constructed
// *Error with a specific message still compares equal to the sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel kinds for errors.Is comparisons.
var (
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}
	ErrConflict = &Error{Kind: KindConflict, Message: "conflict"}
	ErrInvalid  = &Error{Kind: KindInvalid, Message: "invalid"}
	ErrInternal = &Error{Kind: KindInternal, Message: "internal"}
)

// toPublicError converts an internal *model.Error to its public twin. Any
// other error (should not happen — every engine/Persistent method returns
// *model.Error) is wrapped as KindInternal rather than dropped.
func toPublicError(err error) error {
	if err == nil {
		return nil
	}
	var me *model.Error
	if !errors.As(err, &me) {
		return &Error{Kind: KindInternal, Message: err.Error()}
	}
	kind := KindInternal
	switch me.Kind {
	case model.KindNotFound:
		kind = KindNotFound
	case model.KindConflict:
		kind = KindConflict
	case model.KindInvalid:
		kind = KindInvalid
	}
	return &Error{Kind: kind, Message: me.Message, Err: me.Err}
}
