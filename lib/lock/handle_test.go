package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testHandle(name string, id uuid.UUID) *Handle {
	return newHandle(name, "tester", id, context.Background(), true)
}

// TestGrantSecondaryValidation covers the guards around re-entrant grants.
func TestGrantSecondaryValidation(t *testing.T) {
	id := uuid.New()

	t.Run("ForeignContext", func(t *testing.T) {
		primary := testHandle("L", id)
		primary.grantPrimary()

		secondary := testHandle("L", uuid.New())
		err := secondary.grantSecondaryOf(primary)
		var lockErr *Error
		if !errors.As(err, &lockErr) || lockErr.Code != RetCWrongContext {
			t.Errorf("expected RetCWrongContext, got %v", err)
		}
		if secondary.IsGranted() {
			t.Errorf("rejected secondary is granted")
		}
	})

	t.Run("ForeignName", func(t *testing.T) {
		primary := testHandle("L", id)
		primary.grantPrimary()

		secondary := testHandle("other", id)
		err := secondary.grantSecondaryOf(primary)
		var lockErr *Error
		if !errors.As(err, &lockErr) || lockErr.Code != RetCInvalidArgument {
			t.Errorf("expected RetCInvalidArgument, got %v", err)
		}
	})

	t.Run("DisposedPrimary", func(t *testing.T) {
		primary := testHandle("L", id)
		primary.grantPrimary()
		primary.Release()

		// Granting against a dead primary would create a hold that nobody
		// owns.
		secondary := testHandle("L", id)
		err := secondary.grantSecondaryOf(primary)
		var lockErr *Error
		if !errors.As(err, &lockErr) || lockErr.Code != RetCDisposed {
			t.Errorf("expected RetCDisposed, got %v", err)
		}
	})

	t.Run("CaseInsensitiveName", func(t *testing.T) {
		primary := testHandle("Lock", id)
		primary.grantPrimary()

		secondary := testHandle("LOCK", id)
		if err := secondary.grantSecondaryOf(primary); err != nil {
			t.Errorf("differently-cased secondary rejected: %v", err)
		}
		if !secondary.IsSecondary() {
			t.Errorf("secondary does not report IsSecondary")
		}
	})
}

// TestDisposedObserverFiresOnce verifies the exactly-once contract of the
// disposal notification.
func TestDisposedObserverFiresOnce(t *testing.T) {
	h := testHandle("L", uuid.New())

	fired := 0
	h.onDisposed(func(*Handle) { fired++ })

	h.Release()
	h.Release()
	h.Release()

	if fired != 1 {
		t.Fatalf("disposal observer fired %d times", fired)
	}
}

// TestObserverOnDisposedHandle verifies that subscribing to an already
// disposed handle fires immediately.
func TestObserverOnDisposedHandle(t *testing.T) {
	h := testHandle("L", uuid.New())
	h.Release()

	fired := false
	h.onDisposed(func(*Handle) { fired = true })
	if !fired {
		t.Fatalf("observer on disposed handle never fired")
	}
}

// TestAwaitTurnWakeups covers the three ways out of awaitTurn.
func TestAwaitTurnWakeups(t *testing.T) {
	t.Run("SignalTurn", func(t *testing.T) {
		h := testHandle("L", uuid.New())
		done := make(chan bool, 1)
		go func() {
			done <- h.awaitTurn(context.Background())
		}()
		time.Sleep(20 * time.Millisecond)
		h.signalTurn()
		if got := <-done; !got {
			t.Errorf("awaitTurn = false after signalTurn")
		}
	})

	t.Run("Cancellation", func(t *testing.T) {
		h := testHandle("L", uuid.New())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan bool, 1)
		go func() {
			done <- h.awaitTurn(ctx)
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		select {
		case got := <-done:
			if got {
				t.Errorf("awaitTurn = true after cancellation")
			}
		case <-time.After(time.Second):
			t.Fatalf("awaitTurn did not wake on cancellation")
		}
	})

	t.Run("Dispose", func(t *testing.T) {
		h := testHandle("L", uuid.New())
		done := make(chan bool, 1)
		go func() {
			done <- h.awaitTurn(context.Background())
		}()
		time.Sleep(20 * time.Millisecond)
		h.Release()
		select {
		case got := <-done:
			if got {
				t.Errorf("awaitTurn = true after dispose")
			}
		case <-time.After(time.Second):
			t.Fatalf("awaitTurn did not wake on dispose")
		}
	})
}

// TestExpired covers the queue-skip predicate.
func TestExpired(t *testing.T) {
	// Live handle with live context: not expired.
	h := testHandle("L", uuid.New())
	if h.expired() {
		t.Errorf("fresh handle reported expired")
	}

	// Cancelled before grant: expired.
	ctx, cancel := context.WithCancel(context.Background())
	h = newHandle("L", "tester", uuid.New(), ctx, true)
	cancel()
	if !h.expired() {
		t.Errorf("cancelled ungranted handle not expired")
	}

	// Cancelled after grant: the hold survives, not expired.
	ctx, cancel = context.WithCancel(context.Background())
	h = newHandle("L", "tester", uuid.New(), ctx, true)
	h.grantPrimary()
	cancel()
	if h.expired() {
		t.Errorf("granted handle expired by cancellation")
	}

	// Disposed: always expired.
	h.Release()
	if !h.expired() {
		t.Errorf("disposed handle not expired")
	}
}
