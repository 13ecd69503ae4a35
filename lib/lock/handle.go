package lock

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Handle Type
// --------------------------------------------------------------------------

// Handle represents one acquisition request and, once granted, the hold on
// the named lock. The caller obtains a Handle from the Manager and gives
// the lock back by calling Release.
//
// A Handle is either the primary holder (it owns the external lock token
// through its proxy) or a secondary: a re-entrant grant that shares the
// primary's hold. Releasing a secondary never releases the external lock;
// releasing the primary does, even if secondaries are still alive.
type Handle struct {
	name      string
	owner     string
	contextID uuid.UUID

	// ctx is the cancellation signal governing the ACQUISITION of this
	// handle. Cancellation after the grant has no effect on the hold.
	ctx context.Context

	// proxyOnClose reports the registry policy of the proxy that served
	// this handle (see Manager).
	proxyOnClose bool

	mu   sync.Mutex
	cond *sync.Cond

	actualHolder *Handle // non-nil iff granted; self when primary
	myTurn       bool
	granted      bool
	disposed     bool
	observers    []func(*Handle)
}

// newHandle creates an ungranted Handle bound to a logical context and a
// cancellation signal. Only the Manager creates handles.
func newHandle(name, owner string, contextID uuid.UUID, ctx context.Context, proxyOnClose bool) *Handle {
	h := &Handle{
		name:         name,
		owner:        owner,
		contextID:    contextID,
		ctx:          ctx,
		proxyOnClose: proxyOnClose,
	}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// --------------------------------------------------------------------------
// Observational Methods
// --------------------------------------------------------------------------

// Name returns the lock name this handle was acquired for.
func (h *Handle) Name() string { return h.name }

// Owner returns the caller-supplied owner tag. It is diagnostic only and
// has no influence on lock semantics.
func (h *Handle) Owner() string { return h.owner }

// OwningContextID returns the logical context the handle was created on.
// It is set at creation and never changes.
func (h *Handle) OwningContextID() uuid.UUID { return h.contextID }

// IsGranted reports whether the handle currently represents a hold on the
// lock. A disposed handle is never granted.
func (h *Handle) IsGranted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.granted && !h.disposed
}

// IsSecondary reports whether this handle is a re-entrant grant sharing
// another handle's hold.
func (h *Handle) IsSecondary() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.actualHolder != nil && h.actualHolder != h
}

// IsDisposed reports whether Release has been called.
func (h *Handle) IsDisposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

// DisposeProxyOnClose reports whether the per-name proxy that served this
// handle is removed from the manager's registry once its last waiter is
// gone.
func (h *Handle) DisposeProxyOnClose() bool { return h.proxyOnClose }

// --------------------------------------------------------------------------
// Release
// --------------------------------------------------------------------------

// Release gives the handle back. It is idempotent: only the first call has
// an effect. All goroutines blocked on this handle are woken, and the
// disposal observers (the proxy among them) fire exactly once, outside the
// handle's monitor.
//
// If this handle is the primary holder, the proxy's release pathway runs:
// the external lock is handed to the next in-process waiter, or released
// entirely (with a back-off window if another process signalled demand).
// If it is a secondary, only this handle is retired.
func (h *Handle) Release() {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		return
	}
	h.disposed = true
	obs := h.observers
	h.observers = nil
	h.cond.Broadcast()
	h.mu.Unlock()

	// Observers run unlocked so they may call back into the handle.
	for _, fn := range obs {
		fn(h)
	}
}

// Close releases the handle. It exists so a Handle satisfies io.Closer.
func (h *Handle) Close() error {
	h.Release()
	return nil
}

// --------------------------------------------------------------------------
// Internal Methods (called by the proxy)
// --------------------------------------------------------------------------

// onDisposed registers fn to run when the handle is released. If the
// handle is already disposed, fn runs immediately on the calling
// goroutine.
func (h *Handle) onDisposed(fn func(*Handle)) {
	h.mu.Lock()
	if h.disposed {
		h.mu.Unlock()
		fn(h)
		return
	}
	h.observers = append(h.observers, fn)
	h.mu.Unlock()
}

// grantPrimary marks the handle as the primary holder.
func (h *Handle) grantPrimary() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actualHolder = h
	h.granted = true
}

// grantSecondaryOf marks the handle as a re-entrant grant sharing the
// primary's hold. The primary must be alive, granted, and belong to the
// same logical context and (case-insensitive) lock name.
func (h *Handle) grantSecondaryOf(primary *Handle) error {
	if primary.contextID != h.contextID {
		return NewError(RetCWrongContext, "re-entrant grant across logical contexts")
	}
	if !strings.EqualFold(primary.name, h.name) {
		return NewError(RetCInvalidArgument, "re-entrant grant across lock names")
	}

	primary.mu.Lock()
	alive := primary.granted && !primary.disposed
	primary.mu.Unlock()
	if !alive {
		// The primary raced into Release; a grant now would produce a
		// zombie secondary whose hold nobody owns.
		return NewError(RetCDisposed, "primary holder already disposed")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.actualHolder = primary
	h.granted = true
	return nil
}

// signalTurn marks the handle as head of the proxy's queue and wakes its
// waiter. Called with the proxy's monitor held.
func (h *Handle) signalTurn() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.myTurn = true
	h.cond.Broadcast()
}

// awaitTurn blocks until the handle becomes head of queue, is disposed, or
// the acquisition context fires. It reports whether the turn arrived.
func (h *Handle) awaitTurn(ctx context.Context) bool {
	// The condition variable cannot select on the context, so a helper
	// goroutine turns cancellation into a broadcast. It is shut down as
	// soon as the wait is over.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			h.cond.Broadcast()
			h.mu.Unlock()
		case <-stop:
		}
	}()
	defer close(stop)

	h.mu.Lock()
	defer h.mu.Unlock()
	for !h.myTurn && !h.disposed && ctx.Err() == nil {
		h.cond.Wait()
	}
	return h.myTurn
}

// expired reports whether the handle can no longer be served: it was
// disposed, or its cancellation fired before it was ever granted.
func (h *Handle) expired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return true
	}
	return !h.granted && h.ctx.Err() != nil
}
