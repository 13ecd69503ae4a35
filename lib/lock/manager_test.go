package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/provider/memory"
)

// newTestManager creates a manager over a fresh in-process facility.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewLockManager(memory.NewMemoryProvider())
}

// TestAcquireRelease covers the simplest possible cycle: a try-once
// acquire on an uncontended name, followed by a release.
func TestAcquireRelease(t *testing.T) {
	mgr := newTestManager(t)

	h, err := mgr.AcquireTimeout("tester", "L", 0)
	if err != nil {
		t.Fatalf("uncontended acquire failed: %v", err)
	}
	if !h.IsGranted() {
		t.Errorf("handle not granted")
	}
	if h.IsSecondary() {
		t.Errorf("sole handle reported as secondary")
	}
	if h.Name() != "L" || h.Owner() != "tester" {
		t.Errorf("handle identity mismatch: name=%q owner=%q", h.Name(), h.Owner())
	}

	h.Release()
	if !h.IsDisposed() {
		t.Errorf("handle not disposed after release")
	}
	if h.IsGranted() {
		t.Errorf("disposed handle still reports granted")
	}
}

// TestReentrancy verifies that nested acquisitions on the same logical
// context succeed immediately and share one hold.
func TestReentrancy(t *testing.T) {
	mgr := newTestManager(t)
	ctx, _ := WithContextID(context.Background())

	outer, err := mgr.Acquire(ctx, "tester", "L")
	if err != nil {
		t.Fatalf("outer acquire failed: %v", err)
	}

	inner, err := mgr.Acquire(ctx, "tester", "L")
	if err != nil {
		t.Fatalf("nested acquire failed: %v", err)
	}
	if !inner.IsSecondary() {
		t.Errorf("nested handle is not a secondary")
	}
	if inner.OwningContextID() != outer.OwningContextID() {
		t.Errorf("nested handle has foreign context id")
	}

	// Releasing the secondary must not release the lock.
	inner.Release()
	other := NewLockManager(mgr.provider)
	if _, ok, _ := other.TryAcquireTimeout("intruder", "L", 0); ok {
		t.Fatalf("lock free after releasing only the secondary")
	}

	// Releasing the primary does.
	outer.Release()
	h, ok, err := other.TryAcquireTimeout("intruder", "L", 0)
	if err != nil || !ok {
		t.Fatalf("lock not free after releasing the primary: %v", err)
	}
	h.Release()
}

// TestReentrancyCaseInsensitive verifies that lock names are compared
// case-insensitively for re-entrancy.
func TestReentrancyCaseInsensitive(t *testing.T) {
	mgr := newTestManager(t)
	ctx, _ := WithContextID(context.Background())

	outer, err := mgr.Acquire(ctx, "tester", "Resource")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	inner, err := mgr.Acquire(ctx, "tester", "RESOURCE")
	if err != nil {
		t.Fatalf("differently-cased nested acquire failed: %v", err)
	}
	if !inner.IsSecondary() {
		t.Errorf("differently-cased nested handle is not a secondary")
	}
	inner.Release()
	outer.Release()
}

// TestBarrierIsolatesContext verifies that a barrier cuts a child flow off
// from the parent's lock ownership.
func TestBarrierIsolatesContext(t *testing.T) {
	mgr := newTestManager(t)
	ctx, _ := WithContextID(context.Background())

	h, err := mgr.Acquire(ctx, "parent", "L")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer h.Release()

	// Try once on the child flow: a re-entrant grant would return at once,
	// while a queued candidate gives up on its already-cancelled context.
	child, cancel := context.WithCancel(Barrier(ctx))
	cancel()
	if _, ok, err := mgr.TryAcquire(child, "child", "L"); err != nil || ok {
		t.Fatalf("child flow behind a barrier re-entered the parent's hold (ok=%v, err=%v)", ok, err)
	}
}

// TestTryAcquireContention covers the try-once path under contention:
// a second caller fails immediately, and succeeds after the holder is
// gone.
func TestTryAcquireContention(t *testing.T) {
	mgr := newTestManager(t)

	holder, err := mgr.AcquireTimeout("t1", "L", 60)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h, ok, err := mgr.TryAcquireTimeout("t2", "L", 0)
		if err != nil {
			t.Errorf("try-once errored: %v", err)
			return
		}
		if ok || h != nil {
			t.Errorf("try-once succeeded although the lock is held")
		}
	}()
	<-done

	holder.Release()

	h, err := mgr.AcquireTimeout("t2", "L", 60)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	h.Release()
}

// TestAcquireTimeout verifies that a contended Acquire returns a
// *TimeoutError after roughly the requested deadline.
func TestAcquireTimeout(t *testing.T) {
	mgr := newTestManager(t)

	holder, err := mgr.AcquireTimeout("t1", "L", 60)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer holder.Release()

	start := time.Now()
	_, err = mgr.AcquireTimeout("t2", "L", 1)
	elapsed := time.Since(start)

	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected *TimeoutError, got %v", err)
	}
	if timeout.Lock != "L" || timeout.Provider != "memory" {
		t.Errorf("timeout error misreports lock/provider: %+v", timeout)
	}
	if elapsed < 900*time.Millisecond || elapsed > 1800*time.Millisecond {
		t.Errorf("timeout after %s, expected about 1s", elapsed)
	}
}

// TestDistinctNamesDoNotInterfere verifies that locks on different names
// can be held concurrently.
func TestDistinctNamesDoNotInterfere(t *testing.T) {
	mgr := newTestManager(t)

	a, err := mgr.AcquireTimeout("t1", "A", 0)
	if err != nil {
		t.Fatalf("acquire A failed: %v", err)
	}
	b, err := mgr.AcquireTimeout("t2", "B", 0)
	if err != nil {
		t.Fatalf("acquire B failed while A is held: %v", err)
	}

	if !a.IsGranted() || !b.IsGranted() {
		t.Errorf("concurrent holds on distinct names not granted")
	}

	a.Release()
	b.Release()
}

// TestRepeatedAcquisition runs many sequential cycles on one name.
func TestRepeatedAcquisition(t *testing.T) {
	mgr := newTestManager(t)

	for i := 0; i < 1000; i++ {
		h, err := mgr.AcquireTimeout("cycler", "L", 10)
		if err != nil {
			t.Fatalf("cycle %d failed: %v", i, err)
		}
		h.Release()
	}
}

// TestFIFOOrder verifies that in-process waiters are granted in enqueue
// order.
func TestFIFOOrder(t *testing.T) {
	mgr := newTestManager(t)

	holder, err := mgr.AcquireTimeout("holder", "L", 60)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	const waiters = 5
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(waiters)

	for i := 0; i < waiters; i++ {
		go func(i int) {
			defer wg.Done()
			h, err := mgr.AcquireTimeout(fmt.Sprintf("waiter-%d", i), "L", 60)
			if err != nil {
				t.Errorf("waiter %d failed: %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			h.Release()
		}(i)
		// Stagger the enqueueing so the queue order is deterministic.
		time.Sleep(100 * time.Millisecond)
	}

	holder.Release()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("grant order %v, expected FIFO", order)
		}
	}
}

// TestCancelBeforeGrant verifies that cancelling a queued waiter disposes
// it and does not corrupt the queue.
func TestCancelBeforeGrant(t *testing.T) {
	mgr := newTestManager(t)

	holder, err := mgr.AcquireTimeout("holder", "L", 60)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := mgr.Acquire(ctx, "cancelled", "L")
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	var timeout *TimeoutError
	if err := <-done; !errors.As(err, &timeout) {
		t.Fatalf("cancelled waiter returned %v, expected *TimeoutError", err)
	}

	// The queue must still work for later waiters.
	holder.Release()
	h, err := mgr.AcquireTimeout("after", "L", 10)
	if err != nil {
		t.Fatalf("acquire after cancelled waiter failed: %v", err)
	}
	h.Release()
}

// TestCancelAfterGrantKeepsHold verifies that cancellation only governs
// the acquisition, never the hold.
func TestCancelAfterGrantKeepsHold(t *testing.T) {
	mgr := newTestManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	h, err := mgr.Acquire(ctx, "tester", "L")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	cancel()
	time.Sleep(50 * time.Millisecond)

	if !h.IsGranted() {
		t.Fatalf("hold lost on context cancellation")
	}
	if _, ok, _ := mgr.TryAcquireTimeout("intruder", "L", 0); ok {
		t.Fatalf("lock acquirable although the (cancelled) holder never released")
	}

	h.Release()
}

// TestReleaseIdempotent verifies that releasing a handle repeatedly has
// the same effect as releasing it once.
func TestReleaseIdempotent(t *testing.T) {
	mgr := newTestManager(t)

	h, err := mgr.AcquireTimeout("tester", "L", 0)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		h.Release()
	}
	if err := h.Close(); err != nil {
		t.Errorf("Close after Release errored: %v", err)
	}

	// The name must be acquirable exactly once afterwards, i.e. the
	// repeated releases did not release anybody else's hold.
	h2, err := mgr.AcquireTimeout("tester", "L", 0)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	if _, ok, _ := mgr.TryAcquireTimeout("intruder", "L", 0); ok {
		t.Fatalf("double release broke mutual exclusion")
	}
	h2.Release()
}

// TestInvalidArguments verifies the programmer-error surface.
func TestInvalidArguments(t *testing.T) {
	mgr := newTestManager(t)

	if _, err := mgr.AcquireTimeout("tester", "", 0); err == nil {
		t.Errorf("empty lock name accepted")
	}
	if _, err := mgr.AcquireTimeout("", "L", 0); err == nil {
		t.Errorf("empty owner tag accepted")
	}

	var lockErr *Error
	_, err := mgr.AcquireTimeout("tester", "", 0)
	if !errors.As(err, &lockErr) || lockErr.Code != RetCInvalidArgument {
		t.Errorf("expected RetCInvalidArgument, got %v", err)
	}
}

// TestMutualExclusionStress hammers one name from many goroutines across
// two managers sharing the facility and checks that the critical section
// is never entered concurrently.
func TestMutualExclusionStress(t *testing.T) {
	facility := memory.NewMemoryProvider()
	managers := []*Manager{
		NewLockManager(facility),
		NewLockManager(facility),
	}

	const workers = 8
	const cycles = 15

	// counter is intentionally unprotected; the lock must serialize all
	// increments.
	counter := 0

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			mgr := managers[w%len(managers)]
			for i := 0; i < cycles; i++ {
				h, err := mgr.AcquireTimeout(fmt.Sprintf("worker-%d", w), "counter", 60)
				if err != nil {
					t.Errorf("worker %d cycle %d: %v", w, i, err)
					return
				}
				v := counter
				time.Sleep(time.Millisecond)
				counter = v + 1
				h.Release()
			}
		}(w)
	}
	wg.Wait()

	if counter != workers*cycles {
		t.Fatalf("counter = %d, expected %d: mutual exclusion violated", counter, workers*cycles)
	}
}

// TestCrossManagerHandoff verifies that a waiter in a second manager
// (modelling a second process) obtains the lock promptly after the first
// manager's holder releases.
func TestCrossManagerHandoff(t *testing.T) {
	facility := memory.NewMemoryProvider()
	mgrA := NewLockManager(facility)
	mgrB := NewLockManager(facility)

	holder, err := mgrA.AcquireTimeout("a", "L", 60)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	acquired := make(chan time.Time, 1)
	go func() {
		h, err := mgrB.AcquireTimeout("b", "L", 60)
		if err != nil {
			t.Errorf("waiter failed: %v", err)
			return
		}
		acquired <- time.Now()
		h.Release()
	}()

	// Give the waiter time to place its request marker.
	time.Sleep(100 * time.Millisecond)
	released := time.Now()
	holder.Release()

	select {
	case when := <-acquired:
		// Handoff must happen within the back-off window plus polling
		// slack.
		if d := when.Sub(released); d > BackoffDelay+20*PollInterval {
			t.Errorf("handoff took %s", d)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("waiter starved after holder release")
	}
}

// BenchmarkUncontendedAcquire measures the fast path: acquire and release
// of an uncontended lock.
func BenchmarkUncontendedAcquire(b *testing.B) {
	mgr := NewLockManager(memory.NewMemoryProvider())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := mgr.AcquireTimeout("bench", "L", 10)
		if err != nil {
			b.Fatal(err)
		}
		h.Release()
	}
}

// BenchmarkReentrantAcquire measures the re-entrancy fast path.
func BenchmarkReentrantAcquire(b *testing.B) {
	mgr := NewLockManager(memory.NewMemoryProvider())
	ctx, _ := WithContextID(context.Background())

	outer, err := mgr.Acquire(ctx, "bench", "L")
	if err != nil {
		b.Fatal(err)
	}
	defer outer.Release()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := mgr.Acquire(ctx, "bench", "L")
		if err != nil {
			b.Fatal(err)
		}
		h.Release()
	}
}
