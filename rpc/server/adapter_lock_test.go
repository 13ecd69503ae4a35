package server

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/ValentinKolb/dLock/lib/provider/memory"
	"github.com/ValentinKolb/dLock/rpc/common"
)

func newTestShard(maxHold time.Duration) (*lock.Manager, IRPCServerAdapter) {
	return lock.NewLockManager(memory.NewMemoryProvider()), NewLockServerAdapter(maxHold)
}

func TestAdapterAcquireRelease(t *testing.T) {
	mgr, adapter := newTestShard(0)

	// Acquire issues a lease.
	resp := adapter.Handle(common.NewAcquireRequest("L", "tester", 0), mgr)
	if resp.Err != "" || !resp.Ok {
		t.Fatalf("acquire failed: %+v", resp)
	}
	if resp.LeaseID == "" {
		t.Fatalf("acquire response carries no lease ID")
	}

	// The lock is actually held: a foreign try-once must lose.
	tryResp := adapter.Handle(common.NewTryAcquireRequest("L", "intruder", 0), mgr)
	if tryResp.Err != "" {
		t.Fatalf("try-acquire errored: %v", tryResp.Err)
	}
	if tryResp.Ok {
		t.Fatalf("try-acquire succeeded although the lock is leased")
	}

	// Release by lease ID frees it.
	relResp := adapter.Handle(common.NewReleaseRequest("L", resp.LeaseID), mgr)
	if relResp.Err != "" || !relResp.Ok {
		t.Fatalf("release failed: %+v", relResp)
	}

	tryResp = adapter.Handle(common.NewTryAcquireRequest("L", "intruder", 0), mgr)
	if !tryResp.Ok {
		t.Fatalf("lock still held after release")
	}
}

func TestAdapterAcquireTimeout(t *testing.T) {
	mgr, adapter := newTestShard(0)

	resp := adapter.Handle(common.NewAcquireRequest("L", "holder", 0), mgr)
	if !resp.Ok {
		t.Fatalf("acquire failed: %+v", resp)
	}

	// A blocking acquire against the held lock must come back with an
	// error after its timeout.
	start := time.Now()
	blocked := adapter.Handle(common.NewAcquireRequest("L", "blocked", 1), mgr)
	if blocked.Err == "" {
		t.Fatalf("contended acquire returned no error: %+v", blocked)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("contended acquire returned after %s, expected about 1s", elapsed)
	}
}

func TestAdapterUnknownLease(t *testing.T) {
	mgr, adapter := newTestShard(0)

	resp := adapter.Handle(common.NewReleaseRequest("L", "no-such-lease"), mgr)
	if resp.Err != "" {
		t.Fatalf("unknown lease reported as error: %v", resp.Err)
	}
	if resp.Ok {
		t.Fatalf("unknown lease released successfully")
	}

	// Double release: second call must report ok=false.
	acq := adapter.Handle(common.NewAcquireRequest("L", "tester", 0), mgr)
	if !acq.Ok {
		t.Fatalf("acquire failed: %+v", acq)
	}
	first := adapter.Handle(common.NewReleaseRequest("L", acq.LeaseID), mgr)
	second := adapter.Handle(common.NewReleaseRequest("L", acq.LeaseID), mgr)
	if !first.Ok || second.Ok {
		t.Fatalf("double release: first=%v second=%v", first.Ok, second.Ok)
	}
}

func TestAdapterMaxHold(t *testing.T) {
	mgr, adapter := newTestShard(200 * time.Millisecond)

	resp := adapter.Handle(common.NewAcquireRequest("L", "leaky", 0), mgr)
	if !resp.Ok {
		t.Fatalf("acquire failed: %+v", resp)
	}

	// The client "crashes" without releasing; the hold limit must free
	// the lock.
	deadline := time.Now().Add(2 * time.Second)
	for {
		tryResp := adapter.Handle(common.NewTryAcquireRequest("L", "next", 0), mgr)
		if tryResp.Ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("lock not force-released after max hold time")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The stale lease is gone.
	rel := adapter.Handle(common.NewReleaseRequest("L", resp.LeaseID), mgr)
	if rel.Ok {
		t.Fatalf("force-released lease still releasable")
	}
}

func TestAdapterUnsupportedMessage(t *testing.T) {
	mgr, adapter := newTestShard(0)

	resp := adapter.Handle(&common.Message{MsgType: common.MsgTSuccess}, mgr)
	if resp.MsgType != common.MsgTError || resp.Err == "" {
		t.Fatalf("unsupported message type not rejected: %+v", resp)
	}
}

func TestProviderFromSpec(t *testing.T) {
	if _, err := providerFromSpec("memory"); err != nil {
		t.Errorf("memory spec rejected: %v", err)
	}
	if p, err := providerFromSpec("fs(" + t.TempDir() + ")"); err != nil || p.Name() != "fs" {
		t.Errorf("fs spec rejected: %v", err)
	}
	if p, err := providerFromSpec("redis(localhost:6379)"); err != nil || p.Name() != "redis" {
		t.Errorf("redis spec rejected: %v", err)
	}

	for _, invalid := range []string{"", "fs", "fs()", "redis", "redis()", "etcd(foo)"} {
		if _, err := providerFromSpec(invalid); err == nil {
			t.Errorf("invalid spec %q accepted", invalid)
		}
	}
}
