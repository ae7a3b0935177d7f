package kioku

import (
	"context"
	"time"
)

// VectorMirror projects current object versions into an external vector
// index. When supplied via WithVectorMirror, it replaces the built-in
// Qdrant-backed mirror (internal/mirror) entirely — Store dispatches to it
// directly from the put/delete hook path rather than routing through the
// bounded outbox, so a custom implementation owns its own buffering and
// retry policy.
//
// Upsert/Delete are called from a best-effort goroutine per write: a slow
// or failing mirror must never block or fail the originating Put/Delete.
type VectorMirror interface {
	Upsert(ctx context.Context, ns, id, objType string, ts time.Time, embedding []float32) error
	Delete(ctx context.Context, ns, id string) error
	Healthy(ctx context.Context) error
	Close() error
}

// EventHook receives best-effort notifications when an object is put or
// deleted. Multiple hooks may be registered via multiple WithEventHook
// calls. Hook methods run in a goroutine with a bounded timeout — they
// must not block indefinitely, and their failures are logged but never
// fail the originating write.
type EventHook interface {
	OnPut(ctx context.Context, ns string, obj Object) error
	OnDelete(ctx context.Context, ns, id string) error
}
