package lock

import (
	"context"
	"testing"
)

// TestWithContextIDIdempotent verifies that an existing identity is reused
// rather than replaced.
func TestWithContextIDIdempotent(t *testing.T) {
	ctx, id := WithContextID(context.Background())

	ctx2, id2 := WithContextID(ctx)
	if ctx2 != ctx {
		t.Errorf("WithContextID replaced a context that already carries an identity")
	}
	if id2 != id {
		t.Errorf("identity changed on repeated WithContextID")
	}
}

// TestContextIDAbsent verifies the ok-flag on bare contexts.
func TestContextIDAbsent(t *testing.T) {
	if _, ok := ContextID(context.Background()); ok {
		t.Errorf("bare context reports an identity")
	}

	ctx, id := WithContextID(context.Background())
	got, ok := ContextID(ctx)
	if !ok || got != id {
		t.Errorf("identity not readable after WithContextID")
	}
}

// TestContextIDInheritance verifies that derived contexts keep the
// identity.
func TestContextIDInheritance(t *testing.T) {
	ctx, id := WithContextID(context.Background())

	child, cancel := context.WithCancel(ctx)
	defer cancel()

	got, ok := ContextID(child)
	if !ok || got != id {
		t.Errorf("child context lost the flow identity")
	}
}

// TestBarrier verifies that a barrier installs a fresh identity.
func TestBarrier(t *testing.T) {
	ctx, id := WithContextID(context.Background())

	child := Barrier(ctx)
	got, ok := ContextID(child)
	if !ok {
		t.Fatalf("barrier context carries no identity")
	}
	if got == id {
		t.Errorf("barrier did not install a fresh identity")
	}

	// The parent keeps its identity.
	if parent, _ := ContextID(ctx); parent != id {
		t.Errorf("barrier mutated the parent's identity")
	}

	// Barrier works on bare contexts too.
	if _, ok := ContextID(Barrier(context.Background())); !ok {
		t.Errorf("barrier on a bare context carries no identity")
	}
}
