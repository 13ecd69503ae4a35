package lock

import (
	"context"
	"strings"
	"time"

	"github.com/ValentinKolb/dLock/lib/provider"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("lock")

// --------------------------------------------------------------------------
// Manager Type
// --------------------------------------------------------------------------

// Manager is the public entry point of the lock core. It maps lock names
// (case-insensitive) to their proxies, creates handles, and translates
// second-based timeouts into cancellation contexts.
//
// A Manager is safe for concurrent use. All acquisitions through the same
// Manager share one provider and therefore one cross-process lock space.
type Manager struct {
	provider    provider.ILockProvider
	proxies     *xsync.MapOf[string, *lockProxy]
	keepProxies bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeepProxies keeps per-name proxies registered after their last
// waiter is gone. This trades memory for cheaper reacquisition of a fixed
// set of hot lock names.
func WithKeepProxies() Option {
	return func(m *Manager) {
		m.keepProxies = true
	}
}

// NewLockManager creates a Manager on top of the given provider.
func NewLockManager(p provider.ILockProvider, opts ...Option) *Manager {
	m := &Manager{
		provider: p,
		proxies:  xsync.NewMapOf[string, *lockProxy](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the name of the underlying provider.
func (m *Manager) Name() string {
	return m.provider.Name()
}

// --------------------------------------------------------------------------
// Acquisition API
// --------------------------------------------------------------------------

// Acquire obtains the named lock for the logical context carried by ctx
// (materializing a fresh context identity if ctx carries none). It blocks
// until the lock is granted or ctx fires; in the latter case it returns a
// *TimeoutError.
//
// If the calling context already holds the lock, Acquire returns
// immediately with a secondary handle sharing the existing hold.
//
// Cancellation of ctx only governs the acquisition: once granted, the
// hold lives until Release is called on the handle.
func (m *Manager) Acquire(ctx context.Context, owner, name string) (*Handle, error) {
	start := time.Now()
	h, err := m.acquire(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	if h == nil {
		acquireTimeoutTotal.Inc()
		return nil, &TimeoutError{
			Provider: m.provider.Name(),
			Lock:     name,
			Waited:   time.Since(start),
		}
	}
	return h, nil
}

// AcquireTimeout is Acquire with a seconds-based deadline instead of a
// context. A timeout of 0 tries exactly once and fails immediately if the
// lock is contended.
//
// Because AcquireTimeout builds its own context, every call is its own
// logical flow: it never re-enters a hold established elsewhere. Use
// Acquire with a shared context for re-entrancy.
func (m *Manager) AcquireTimeout(owner, name string, timeoutSeconds uint64) (*Handle, error) {
	ctx, cancel := timeoutContext(timeoutSeconds)
	defer cancel()
	return m.Acquire(ctx, owner, name)
}

// TryAcquire behaves like Acquire but reports contention through its
// boolean return value instead of a *TimeoutError. Errors are reserved for
// invalid use.
func (m *Manager) TryAcquire(ctx context.Context, owner, name string) (*Handle, bool, error) {
	h, err := m.acquire(ctx, owner, name)
	if err != nil {
		return nil, false, err
	}
	if h == nil {
		acquireTimeoutTotal.Inc()
		return nil, false, nil
	}
	return h, true, nil
}

// TryAcquireTimeout is TryAcquire with a seconds-based deadline; 0 means
// try-once.
func (m *Manager) TryAcquireTimeout(owner, name string, timeoutSeconds uint64) (*Handle, bool, error) {
	ctx, cancel := timeoutContext(timeoutSeconds)
	defer cancel()
	return m.TryAcquire(ctx, owner, name)
}

// timeoutContext converts the seconds API into a cancellation signal. A
// zero timeout yields an already-cancelled context, which the proxy treats
// as "attempt the provider once, then give up".
func timeoutContext(timeoutSeconds uint64) (context.Context, context.CancelFunc) {
	if timeoutSeconds == 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx, cancel
	}
	return context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
}

// --------------------------------------------------------------------------
// Acquisition Algorithm
// --------------------------------------------------------------------------

// acquire implements the shared acquisition path. It returns a nil handle
// (and nil error) when the acquisition timed out or was cancelled.
func (m *Manager) acquire(ctx context.Context, owner, name string) (*Handle, error) {
	if name == "" {
		return nil, NewError(RetCInvalidArgument, "lock name must not be empty")
	}
	if owner == "" {
		return nil, NewError(RetCInvalidArgument, "owner tag must not be empty")
	}

	ctx, contextID := WithContextID(ctx)
	start := time.Now()

	for {
		p := m.proxyFor(name)
		candidate := newHandle(name, owner, contextID, ctx, !m.keepProxies)

		secondary, err := p.submit(candidate)
		if err == errProxyDisposed {
			// The proxy retired between lookup and submit; the registry
			// entry is gone (or replaced) by now, so simply retry.
			continue
		}
		if err != nil {
			return nil, err
		}
		if secondary {
			return candidate, nil
		}

		if !p.awaitTurnOrTimeout(ctx, candidate) {
			return nil, nil
		}
		acquireTotal.Inc()
		acquireWaitSeconds.UpdateDuration(start)
		return candidate, nil
	}
}

// proxyFor resolves (or creates) the proxy serving the given name.
func (m *Manager) proxyFor(name string) *lockProxy {
	key := strings.ToLower(name)
	p, _ := m.proxies.LoadOrCompute(key, func() *lockProxy {
		// The proxy (and with it the provider) works on the canonical
		// lower-case name, so differently-cased callers share one lock.
		return newLockProxy(key, m.provider, !m.keepProxies, func(disposed *lockProxy) {
			m.removeProxy(key, disposed)
		})
	})
	return p
}

// removeProxy drops the registry entry for key, but only while it still
// refers to the disposing proxy. A concurrent acquisition may already have
// replaced the entry with a fresh proxy; that one must survive.
func (m *Manager) removeProxy(key string, disposed *lockProxy) {
	m.proxies.Compute(key, func(current *lockProxy, loaded bool) (*lockProxy, bool) {
		if loaded && current == disposed {
			return nil, true
		}
		return current, !loaded
	})
}
