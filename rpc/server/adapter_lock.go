package server

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dLock/lib/lock"
	"github.com/ValentinKolb/dLock/rpc/common"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// NewLockServerAdapter creates the adapter translating lock messages into
// manager calls. maxHold > 0 force-releases leases that are held longer,
// protecting the server against clients that crash without releasing; 0
// disables the limit.
func NewLockServerAdapter(maxHold time.Duration) IRPCServerAdapter {
	return &lockServerAdapter{
		leases:  xsync.NewMapOf[string, *lock.Handle](),
		maxHold: maxHold,
	}
}

// lockServerAdapter maps lease IDs to the server-side handles held on
// behalf of remote clients.
//
// Every acquire request runs on its own logical context: remote callers
// are separate processes, so no two requests may ever be considered
// re-entrant with each other. Re-entrancy remains an in-process concept of
// the client libraries.
type lockServerAdapter struct {
	leases  *xsync.MapOf[string, *lock.Handle]
	maxHold time.Duration
}

func (adapter *lockServerAdapter) Handle(req *common.Message, mgr *lock.Manager) (resp *common.Message) {

	// Check for nil manager
	if mgr == nil {
		return common.NewErrorResponse("handler: lock manager is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTLCKAcquire:
		h, err := mgr.AcquireTimeout(adapter.ownerTag(req), req.Name, req.TimeoutSec)
		if err != nil {
			return common.NewAcquireResponse(common.MsgTLCKAcquire, false, "", err)
		}
		return common.NewAcquireResponse(common.MsgTLCKAcquire, true, adapter.lease(h), nil)

	case common.MsgTLCKTryAcquire:
		h, ok, err := mgr.TryAcquireTimeout(adapter.ownerTag(req), req.Name, req.TimeoutSec)
		if err != nil {
			return common.NewAcquireResponse(common.MsgTLCKTryAcquire, false, "", err)
		}
		if !ok {
			return common.NewAcquireResponse(common.MsgTLCKTryAcquire, false, "", nil)
		}
		return common.NewAcquireResponse(common.MsgTLCKTryAcquire, true, adapter.lease(h), nil)

	case common.MsgTLCKRelease:
		h, ok := adapter.leases.LoadAndDelete(req.LeaseID)
		if !ok {
			// Unknown lease: already released, expired via maxHold, or
			// never issued. Not an error, the lock is not held by it.
			return common.NewReleaseResponse(false, nil)
		}
		h.Release()
		return common.NewReleaseResponse(true, nil)

	default:
		return common.NewErrorResponse(fmt.Sprintf("RPC LockAdapter - Unsupported message type: %s", req.MsgType))
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// ownerTag derives the diagnostic owner tag for a request.
func (adapter *lockServerAdapter) ownerTag(req *common.Message) string {
	if req.Owner != "" {
		return req.Owner
	}
	return "rpc-client"
}

// lease registers a granted handle and returns its lease ID. With maxHold
// configured, a timer force-releases the handle when the limit lapses;
// racing with a regular release is harmless since Release is idempotent.
func (adapter *lockServerAdapter) lease(h *lock.Handle) string {
	leaseID := uuid.NewString()
	adapter.leases.Store(leaseID, h)

	if adapter.maxHold > 0 {
		time.AfterFunc(adapter.maxHold, func() {
			if stale, ok := adapter.leases.LoadAndDelete(leaseID); ok {
				Logger.Warningf("force-releasing lease %s for %q after %s", leaseID, stale.Name(), adapter.maxHold)
				stale.Release()
			}
		})
	}

	return leaseID
}
