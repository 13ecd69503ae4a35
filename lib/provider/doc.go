// Package provider defines the contract between the lock core and the
// external facilities that actually hold cross-process state.
//
// A provider exposes two parallel channels per lock name:
//
//   - The exclusive lock itself (GetLock). At most one process system-wide
//     can hold it at a time. Acquisition is always try-once; the lock core
//     is responsible for polling, queueing and back-off.
//
//   - A shared request marker (GetLockRequest / CheckLockRequest). Any
//     number of processes can place a marker to signal that they are
//     waiting for the exclusive lock. A current holder probes the marker
//     to decide whether it should hand the lock off between its own
//     in-process waiters.
//
// The split matters: a holder can cheaply detect cross-process demand
// without ever blocking on the exclusive channel, and waiters can announce
// themselves without interfering with each other.
//
// Implementations in this module:
//
//   - memory: process-local facility for tests and single-process use
//   - fs:     flock(2) based facility for processes sharing a host
//   - redis:  Redis based facility for processes on different hosts
//
// All implementations must pass the conformance suite in
// lib/provider/testing.
package provider
