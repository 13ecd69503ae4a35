// Package lock implements a re-entrant, named advisory lock manager that
// multiplexes an external cross-process lock onto any number of in-process
// callers.
//
// The package is built from three collaborating pieces:
//
//   - Manager: the public entry point. It maps lock names to proxies,
//     creates handles, and converts second-based timeouts into
//     cancellation contexts.
//
//   - lockProxy (internal): one per lock name. It owns the external lock
//     token, serializes in-process waiters through a FIFO queue, and
//     arbitrates with other processes via a shared "request marker" plus a
//     back-off window.
//
//   - Handle: the caller-visible object for one acquisition. Releasing the
//     handle gives the lock back (or, for re-entrant secondaries, just
//     retires the handle).
//
// # Two-tier locking
//
// Contention within one process never hits the external facility: waiters
// queue in memory and the external token is handed from one to the next
// directly. Only cross-process contention involves the provider. When a
// holder observes a request marker placed by another process, it releases
// the external token on its next handoff and suppresses reacquisition for
// BackoffDelay, so the other process can win the lock. This keeps the
// common single-process case cheap while preventing one process from
// starving its peers indefinitely.
//
// # Re-entrancy by logical context
//
// Re-entrancy is keyed by a logical flow identity carried in the
// context.Context (see ContextID, WithContextID, Barrier), not by
// goroutine identity: code that hops goroutines but threads its context
// through keeps its lock ownership, while unrelated flows never observe it.
//
// Usage Example:
//
//	p, err := fs.NewFSLockProvider("/run/myapp/locks")
//	if err != nil {
//	    // the lock directory could not be created
//	}
//	mgr := lock.NewLockManager(p)
//
//	ctx, _ := lock.WithContextID(context.Background())
//
//	h, err := mgr.Acquire(ctx, "worker-1", "resource:42")
//	if err != nil {
//	    // *lock.TimeoutError or invalid use
//	}
//	defer h.Release()
//
//	// Nested acquisitions on the same ctx return immediately:
//	inner, _ := mgr.Acquire(ctx, "worker-1", "resource:42")
//	inner.Release() // does not release the lock, the outer handle holds it
package lock
