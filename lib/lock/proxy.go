package lock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ValentinKolb/dLock/lib/provider"
)

// --------------------------------------------------------------------------
// Timing Constants
// --------------------------------------------------------------------------

const (
	// PollInterval is the delay between attempts to obtain the external
	// lock from the provider.
	PollInterval = 16 * time.Millisecond

	// BackoffDelay is the window after a voluntary handoff during which
	// this process will not try to reacquire the external lock, so that
	// the requesting process gets a chance to win it.
	BackoffDelay = 3 * PollInterval
)

// --------------------------------------------------------------------------
// Proxy Type
// --------------------------------------------------------------------------

// lockProxy multiplexes ONE external lock onto many in-process waiters.
// There is at most one live proxy per (manager, lock name).
//
// The proxy holds the external token on behalf of whichever handle is at
// the head of its FIFO queue (the "current turn"). In-process waiters are
// handed the token directly, without a provider round trip, unless another
// process has placed a request marker; then the token is released for a
// back-off window first.
//
// All fields below mu are guarded by it. The proxy never calls into the
// provider while holding mu: tokens are acquired or released outside the
// monitor and swapped in or out under it.
type lockProxy struct {
	name     string
	provider provider.ILockProvider

	// onDisposed unregisters the proxy from the manager. Called exactly
	// once, outside the monitor.
	onDisposed func(*lockProxy)

	// disposeOnIdle removes the proxy once the queue drains.
	disposeOnIdle bool

	mu               sync.Mutex
	queue            []*Handle
	currentTurn      *Handle
	externalLock     provider.IToken
	requestMarker    provider.IToken
	minNextAcquireAt time.Time
	disposed         bool
}

func newLockProxy(name string, p provider.ILockProvider, disposeOnIdle bool, onDisposed func(*lockProxy)) *lockProxy {
	return &lockProxy{
		name:          name,
		provider:      p,
		disposeOnIdle: disposeOnIdle,
		onDisposed:    onDisposed,
	}
}

// errProxyDisposed is returned by submit when the proxy lost the race
// against its own removal; the manager reacts by creating a fresh proxy.
var errProxyDisposed = NewError(RetCDisposed, "lock proxy already disposed")

// --------------------------------------------------------------------------
// Enqueueing
// --------------------------------------------------------------------------

// submit registers the candidate with the proxy. Three outcomes:
//
//   - (true, nil):  the candidate was granted immediately as a re-entrant
//     secondary of the current turn; it must not wait.
//   - (false, nil): the candidate was appended to the queue (and possibly
//     already signalled as the new head); the caller must proceed to
//     awaitTurnOrTimeout.
//   - (false, err): the proxy is disposed or the candidate is invalid.
func (p *lockProxy) submit(candidate *Handle) (secondary bool, err error) {
	if !strings.EqualFold(candidate.name, p.name) {
		return false, NewError(RetCInvalidArgument, "candidate enqueued on foreign proxy")
	}

	p.mu.Lock()

	if p.disposed {
		p.mu.Unlock()
		return false, errProxyDisposed
	}

	// Re-entrancy fast path: the current turn belongs to the candidate's
	// logical context and has been granted, so the candidate shares the
	// hold instead of queueing behind it (it would deadlock otherwise).
	if ct := p.currentTurn; ct != nil && ct.contextID == candidate.contextID {
		primary := ct.holder()
		if primary != nil {
			err := candidate.grantSecondaryOf(primary)
			p.mu.Unlock()
			if err != nil {
				return false, err
			}
			reentrantTotal.Inc()
			return true, nil
		}
		// Turn exists but is not granted yet: the context is still
		// acquiring on another goroutine. Fall through and queue.
	}

	candidate.onDisposed(p.handleDisposed)

	// With no current turn the queue is empty (the release pathway never
	// leaves a turnless proxy with waiters behind), so the candidate takes
	// the turn immediately. This also holds for try-once candidates whose
	// cancellation is already triggered: they still get their single
	// provider attempt.
	if p.currentTurn == nil {
		p.currentTurn = candidate
		candidate.signalTurn()
	} else {
		p.queue = append(p.queue, candidate)
	}
	p.mu.Unlock()

	return false, nil
}

// holder returns the handle whose hold a secondary would share, or nil if
// this handle is not (or no longer) a live primary grant.
func (h *Handle) holder() *Handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.granted || h.disposed {
		return nil
	}
	return h.actualHolder
}

// --------------------------------------------------------------------------
// Waiting and Acquiring
// --------------------------------------------------------------------------

// awaitTurnOrTimeout blocks until the candidate is head of queue and the
// external lock is obtained, or until the candidate's cancellation fires.
// On failure the candidate is disposed before returning.
func (p *lockProxy) awaitTurnOrTimeout(ctx context.Context, candidate *Handle) bool {
	p.mu.Lock()
	isHead := p.currentTurn == candidate
	p.mu.Unlock()

	if !isHead {
		if !candidate.awaitTurn(ctx) {
			// Cancelled or disposed before the turn arrived. Release
			// triggers the proxy's cleanup via the disposal observer.
			candidate.Release()
			return false
		}
	}

	if !p.tryGetLock(ctx, candidate) {
		candidate.Release()
		return false
	}
	return true
}

// tryGetLock obtains the external lock for the candidate, which must be
// the proxy's current turn. It polls the provider every PollInterval,
// honours the back-off window, and places a request marker once it knows
// it will keep waiting. The provider is attempted at least once even if
// the context is already cancelled (try-once semantics for timeout 0).
func (p *lockProxy) tryGetLock(ctx context.Context, candidate *Handle) bool {
	for {
		p.mu.Lock()
		if p.disposed || p.currentTurn != candidate {
			p.mu.Unlock()
			return false
		}
		if p.externalLock != nil {
			// Direct handoff: the proxy still owns the token from the
			// previous turn, no provider round trip needed.
			candidate.grantPrimary()
			p.mu.Unlock()
			return true
		}
		notBefore := p.minNextAcquireAt
		p.mu.Unlock()

		// Back-off window after a voluntary handoff: acquisition attempts
		// are suppressed so other processes get a chance.
		if time.Now().Before(notBefore) {
			time.Sleep(PollInterval)
			continue
		}

		tok, err := p.provider.GetLock(p.name)
		if err != nil {
			Logger.Warningf("provider %s failed to acquire %q: %v", p.provider.Name(), p.name, err)
			tok = nil
		}

		if tok != nil {
			var marker provider.IToken
			p.mu.Lock()
			if p.disposed || p.currentTurn != candidate {
				// Lost the turn while talking to the provider.
				p.mu.Unlock()
				releaseToken(tok, p.provider.Name(), p.name)
				return false
			}
			p.externalLock = tok
			marker, p.requestMarker = p.requestMarker, nil
			candidate.grantPrimary()
			p.mu.Unlock()
			releaseToken(marker, p.provider.Name(), p.name)
			return true
		}

		// The lock is held elsewhere.
		if ctx.Err() != nil {
			return false
		}

		// We will keep waiting, so announce the demand to the current
		// holder (once).
		p.placeRequestMarker()

		select {
		case <-ctx.Done():
			return false
		case <-time.After(PollInterval):
		}
	}
}

// placeRequestMarker acquires the shared request marker if the proxy does
// not hold one yet.
func (p *lockProxy) placeRequestMarker() {
	p.mu.Lock()
	held := p.requestMarker != nil || p.disposed
	p.mu.Unlock()
	if held {
		return
	}

	marker, err := p.provider.GetLockRequest(p.name)
	if err != nil {
		Logger.Warningf("provider %s failed to place request marker for %q: %v", p.provider.Name(), p.name, err)
		return
	}
	if marker == nil {
		return
	}

	p.mu.Lock()
	if p.requestMarker == nil && !p.disposed {
		p.requestMarker = marker
		marker = nil
	}
	p.mu.Unlock()
	releaseToken(marker, p.provider.Name(), p.name)
}

// --------------------------------------------------------------------------
// Release Pathway
// --------------------------------------------------------------------------

// handleDisposed is the disposal observer the proxy registers on every
// queued handle. It runs outside the handle's monitor.
func (p *lockProxy) handleDisposed(h *Handle) {
	p.mu.Lock()
	for i, queued := range p.queue {
		if queued == h {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	if p.currentTurn != h {
		// A queued waiter or an already-superseded turn; nothing held on
		// its behalf.
		p.mu.Unlock()
		return
	}
	ext := p.externalLock
	p.mu.Unlock()

	if ext != nil {
		// The primary held the external lock. If another process placed a
		// request marker, hand the lock off: release it and suppress
		// reacquisition for BackoffDelay, even if our own queue is
		// non-empty.
		pending, err := p.provider.CheckLockRequest(p.name)
		if err != nil {
			Logger.Warningf("provider %s failed to probe request marker for %q: %v", p.provider.Name(), p.name, err)
			pending = false
		}
		if pending {
			p.mu.Lock()
			if p.externalLock == ext {
				p.externalLock = nil
				p.minNextAcquireAt = time.Now().Add(BackoffDelay)
			} else {
				ext = nil
			}
			p.mu.Unlock()
			if ext != nil {
				backoffTotal.Inc()
				releaseToken(ext, p.provider.Name(), p.name)
			}
		}
	}

	p.mu.Lock()
	var cleanup proxyCleanup
	if p.currentTurn == h {
		p.currentTurn = nil
		cleanup = p.popNextLocked()
	}
	p.mu.Unlock()
	cleanup.run()
}

// proxyCleanup collects work that must happen after the proxy's monitor is
// released: disposing expired queue entries, returning tokens, and the
// manager unregistration callback.
type proxyCleanup struct {
	expired  []*Handle
	tokens   []provider.IToken
	disposed func(*lockProxy)
	proxy    *lockProxy
}

func (c proxyCleanup) run() {
	for _, h := range c.expired {
		h.Release()
	}
	for _, tok := range c.tokens {
		releaseToken(tok, c.proxy.provider.Name(), c.proxy.name)
	}
	if c.disposed != nil {
		c.disposed(c.proxy)
	}
}

// popNextLocked advances the turn to the next live waiter. Expired entries
// are skipped (and handed to the caller for disposal). If the queue drains
// the proxy goes idle: tokens are surrendered and, with disposeOnIdle set,
// the proxy retires itself. Must be called with mu held and currentTurn
// unset.
func (p *lockProxy) popNextLocked() proxyCleanup {
	cleanup := proxyCleanup{proxy: p}

	for len(p.queue) > 0 {
		h := p.queue[0]
		p.queue = p.queue[1:]
		if h.expired() {
			cleanup.expired = append(cleanup.expired, h)
			continue
		}
		p.currentTurn = h
		h.signalTurn()
		return cleanup
	}

	// Idle: nobody is waiting, give everything back.
	if p.externalLock != nil {
		cleanup.tokens = append(cleanup.tokens, p.externalLock)
		p.externalLock = nil
	}
	if p.requestMarker != nil {
		cleanup.tokens = append(cleanup.tokens, p.requestMarker)
		p.requestMarker = nil
	}
	if p.disposeOnIdle && !p.disposed {
		p.disposed = true
		cleanup.disposed = p.onDisposed
	}
	return cleanup
}

// releaseToken returns a token to the provider, logging instead of failing
// since release runs on cleanup paths that have nowhere to report to.
func releaseToken(tok provider.IToken, providerName, lockName string) {
	if tok == nil {
		return
	}
	if err := tok.Release(); err != nil {
		Logger.Errorf("provider %s failed to release token for %q: %v", providerName, lockName, err)
	}
}
