package memory

import (
	"testing"

	"github.com/ValentinKolb/dLock/lib/provider"
	providertesting "github.com/ValentinKolb/dLock/lib/provider/testing"
)

func TestMemoryProviderConformance(t *testing.T) {
	providertesting.RunProviderTests(t, "memory", func(t *testing.T) (provider.ILockProvider, provider.ILockProvider) {
		// Two "processes" sharing one facility is simply the same
		// instance used twice.
		p := NewMemoryProvider()
		return p, p
	})
}

func TestMemoryProviderMarkerCounting(t *testing.T) {
	p := NewMemoryProvider()

	// Several markers can coexist; the demand signal clears only after
	// the last one is gone.
	m1, err := p.GetLockRequest("shared")
	if err != nil || m1 == nil {
		t.Fatalf("GetLockRequest failed: %v", err)
	}
	m2, err := p.GetLockRequest("shared")
	if err != nil || m2 == nil {
		t.Fatalf("GetLockRequest failed: %v", err)
	}

	if pending, _ := p.CheckLockRequest("shared"); !pending {
		t.Fatalf("markers not reported")
	}

	if err := m1.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if pending, _ := p.CheckLockRequest("shared"); !pending {
		t.Fatalf("demand signal cleared while a marker is still held")
	}

	if err := m2.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if pending, _ := p.CheckLockRequest("shared"); pending {
		t.Fatalf("demand signal not cleared after the last marker")
	}
}
