package testing

import (
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/dLock/lib/provider"
)

// ProviderFactory creates two connected provider instances: both must be
// backed by the SAME facility, so that locks and markers placed through
// one are observable through the other. The two instances play the role of
// two independent processes in the tests.
type ProviderFactory func(t *testing.T) (a, b provider.ILockProvider)

// RunProviderTests runs the conformance suite every ILockProvider
// implementation must pass.
func RunProviderTests(t *testing.T, name string, factory ProviderFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Exclusivity", func(t *testing.T) {
			testExclusivity(t, factory)
		})

		t.Run("ReacquireAfterRelease", func(t *testing.T) {
			testReacquireAfterRelease(t, factory)
		})

		t.Run("RequestMarkerVisibility", func(t *testing.T) {
			testRequestMarkerVisibility(t, factory)
		})

		t.Run("LockAndMarkerIndependent", func(t *testing.T) {
			testLockAndMarkerIndependent(t, factory)
		})

		t.Run("DistinctNames", func(t *testing.T) {
			testDistinctNames(t, factory)
		})

		t.Run("DoubleRelease", func(t *testing.T) {
			testDoubleRelease(t, factory)
		})

		t.Run("ConcurrentDistinctNames", func(t *testing.T) {
			testConcurrentDistinctNames(t, factory)
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// mustLock acquires the exclusive lock and fails the test if it is busy or
// errors.
func mustLock(t *testing.T, p provider.ILockProvider, name string) provider.IToken {
	t.Helper()
	tok, err := p.GetLock(name)
	if err != nil {
		t.Fatalf("GetLock(%q) failed: %v", name, err)
	}
	if tok == nil {
		t.Fatalf("GetLock(%q) unexpectedly busy", name)
	}
	return tok
}

// mustRelease releases a token and fails the test on error.
func mustRelease(t *testing.T, tok provider.IToken) {
	t.Helper()
	if err := tok.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testExclusivity(t *testing.T, factory ProviderFactory) {
	a, b := factory(t)

	tok := mustLock(t, a, "excl")

	// The same name must be busy for the other party...
	busy, err := b.GetLock("excl")
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if busy != nil {
		t.Fatalf("two parties hold the exclusive lock at once")
	}

	// ...and for the holder itself.
	busy, err = a.GetLock("excl")
	if err != nil {
		t.Fatalf("GetLock failed: %v", err)
	}
	if busy != nil {
		t.Fatalf("holder acquired its own lock a second time")
	}

	mustRelease(t, tok)

	// After release the other party wins.
	tok = mustLock(t, b, "excl")
	mustRelease(t, tok)
}

func testReacquireAfterRelease(t *testing.T, factory ProviderFactory) {
	a, _ := factory(t)

	for i := 0; i < 100; i++ {
		tok := mustLock(t, a, "cycle")
		mustRelease(t, tok)
	}
}

func testRequestMarkerVisibility(t *testing.T, factory ProviderFactory) {
	a, b := factory(t)

	// No markers yet.
	pending, err := a.CheckLockRequest("marker")
	if err != nil {
		t.Fatalf("CheckLockRequest failed: %v", err)
	}
	if pending {
		t.Fatalf("CheckLockRequest reported a marker before any was placed")
	}

	// A marker placed by the other party must be visible.
	marker, err := b.GetLockRequest("marker")
	if err != nil {
		t.Fatalf("GetLockRequest failed: %v", err)
	}
	if marker == nil {
		t.Fatalf("GetLockRequest unexpectedly unavailable")
	}

	pending, err = a.CheckLockRequest("marker")
	if err != nil {
		t.Fatalf("CheckLockRequest failed: %v", err)
	}
	if !pending {
		t.Fatalf("CheckLockRequest did not report the other party's marker")
	}

	// Releasing the marker clears the demand signal.
	mustRelease(t, marker)

	pending, err = a.CheckLockRequest("marker")
	if err != nil {
		t.Fatalf("CheckLockRequest failed: %v", err)
	}
	if pending {
		t.Fatalf("CheckLockRequest still reports a released marker")
	}
}

func testLockAndMarkerIndependent(t *testing.T, factory ProviderFactory) {
	a, b := factory(t)

	// Holding the exclusive lock must not preclude a marker placed by the
	// other party, and the holder must see that marker.
	tok := mustLock(t, a, "indep")

	marker, err := b.GetLockRequest("indep")
	if err != nil {
		t.Fatalf("GetLockRequest failed while lock is held: %v", err)
	}
	if marker == nil {
		t.Fatalf("GetLockRequest unavailable while lock is held")
	}

	pending, err := a.CheckLockRequest("indep")
	if err != nil {
		t.Fatalf("CheckLockRequest failed: %v", err)
	}
	if !pending {
		t.Fatalf("holder does not see the waiter's marker")
	}

	mustRelease(t, marker)
	mustRelease(t, tok)
}

func testDistinctNames(t *testing.T, factory ProviderFactory) {
	a, b := factory(t)

	tokA := mustLock(t, a, "name-a")
	tokB := mustLock(t, b, "name-b")

	mustRelease(t, tokA)
	mustRelease(t, tokB)
}

func testDoubleRelease(t *testing.T, factory ProviderFactory) {
	a, _ := factory(t)

	tok := mustLock(t, a, "double")
	mustRelease(t, tok)
	// The second release must be a no-op, not an error or a release of
	// somebody else's lock.
	if err := tok.Release(); err != nil {
		t.Fatalf("second Release errored: %v", err)
	}

	tok = mustLock(t, a, "double")
	mustRelease(t, tok)
}

func testConcurrentDistinctNames(t *testing.T, factory ProviderFactory) {
	a, _ := factory(t)

	const workers = 8
	const cycles = 50

	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			name := fmt.Sprintf("conc-%d", w)
			for i := 0; i < cycles; i++ {
				tok, err := a.GetLock(name)
				if err != nil {
					t.Errorf("GetLock(%q) failed: %v", name, err)
					return
				}
				if tok == nil {
					t.Errorf("GetLock(%q) busy although the name is private to this worker", name)
					return
				}
				if err := tok.Release(); err != nil {
					t.Errorf("Release(%q) failed: %v", name, err)
					return
				}
			}
		}(w)
	}

	wg.Wait()
}
