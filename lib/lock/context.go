package lock

import (
	"context"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Logical Context Identity
// --------------------------------------------------------------------------

// ctxIDKey is the private context key under which the flow identity is stored.
type ctxIDKey struct{}

// ContextID returns the logical flow identity carried by ctx. The boolean
// return value indicates whether ctx carries an identity at all.
//
// The identity decides re-entrancy: two acquisitions with the same ContextID
// are treated as the same logical caller, no matter which goroutine they
// run on.
func ContextID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(ctxIDKey{}).(uuid.UUID)
	return id, ok
}

// WithContextID returns a context that carries a logical flow identity and
// the identity itself. If ctx already carries one it is returned unchanged,
// so the call is idempotent and cheap on the hot path.
//
// The returned context must be used for all nested calls that should be
// considered part of the same logical flow. Child goroutines that receive
// the context inherit the identity by default.
func WithContextID(ctx context.Context) (context.Context, uuid.UUID) {
	if id, ok := ContextID(ctx); ok {
		return ctx, id
	}
	id := uuid.New()
	return context.WithValue(ctx, ctxIDKey{}, id), id
}

// Barrier returns a context carrying a fresh flow identity, regardless of
// any identity the parent carries.
//
// A flow that hands work to a child which must NOT inherit the parent's
// lock ownership calls Barrier at the child's entry point. Everything
// derived from the returned context is a new logical caller.
func Barrier(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxIDKey{}, uuid.New())
}
