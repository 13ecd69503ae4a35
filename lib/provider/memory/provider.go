package memory

import (
	"sync"

	"github.com/ValentinKolb/dLock/lib/provider"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Memory Provider
// --------------------------------------------------------------------------

// memoryProvider is a process-local lock facility. It backs tests, the
// conformance suite, and single-process deployments where the "processes"
// to coordinate are just multiple managers in one binary.
type memoryProvider struct {
	locks    *xsync.MapOf[string, *memToken]
	requests *xsync.MapOf[string, int]
}

// NewMemoryProvider creates a new in-process lock provider. Managers that
// share the same provider instance share the same lock space.
func NewMemoryProvider() provider.ILockProvider {
	return &memoryProvider{
		locks:    xsync.NewMapOf[string, *memToken](),
		requests: xsync.NewMapOf[string, int](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see provider/interface.go)
// --------------------------------------------------------------------------

func (p *memoryProvider) Name() string {
	return "memory"
}

func (p *memoryProvider) GetLock(name string) (provider.IToken, error) {
	tok := &memToken{provider: p, name: name, exclusive: true}
	if _, loaded := p.locks.LoadOrStore(name, tok); loaded {
		// Held by someone else.
		return nil, nil
	}
	return tok, nil
}

func (p *memoryProvider) GetLockRequest(name string) (provider.IToken, error) {
	p.requests.Compute(name, func(old int, _ bool) (int, bool) {
		return old + 1, false
	})
	return &memToken{provider: p, name: name}, nil
}

func (p *memoryProvider) CheckLockRequest(name string) (bool, error) {
	count, _ := p.requests.Load(name)
	return count > 0, nil
}

// --------------------------------------------------------------------------
// Token
// --------------------------------------------------------------------------

// memToken is a held exclusive lock or request marker. The sync.Once makes
// double release harmless.
type memToken struct {
	provider  *memoryProvider
	name      string
	exclusive bool
	once      sync.Once
}

func (t *memToken) Release() error {
	t.once.Do(func() {
		if t.exclusive {
			// Delete only while the entry is still ours.
			t.provider.locks.Compute(t.name, func(current *memToken, loaded bool) (*memToken, bool) {
				if loaded && current == t {
					return nil, true
				}
				return current, !loaded
			})
			return
		}
		t.provider.requests.Compute(t.name, func(old int, loaded bool) (int, bool) {
			if !loaded || old <= 1 {
				return 0, true
			}
			return old - 1, false
		})
	})
	return nil
}
