package lock

import (
	"github.com/VictoriaMetrics/metrics"
)

// --------------------------------------------------------------------------
// Metrics
// --------------------------------------------------------------------------

// The lock core exports its counters through the default metrics set; the
// RPC server exposes them in Prometheus text format (see rpc/server).
var (
	// acquireTotal counts primary grants (re-entrant grants excluded).
	acquireTotal = metrics.NewCounter(`dlock_acquire_total`)

	// reentrantTotal counts secondary (re-entrant) grants.
	reentrantTotal = metrics.NewCounter(`dlock_acquire_reentrant_total`)

	// acquireTimeoutTotal counts acquisitions that were cancelled or timed
	// out before a grant.
	acquireTimeoutTotal = metrics.NewCounter(`dlock_acquire_timeout_total`)

	// backoffTotal counts voluntary handoffs to other processes triggered
	// by a request marker probe.
	backoffTotal = metrics.NewCounter(`dlock_backoff_handoff_total`)

	// acquireWaitSeconds tracks how long successful acquisitions waited.
	acquireWaitSeconds = metrics.NewHistogram(`dlock_acquire_wait_seconds`)
)
