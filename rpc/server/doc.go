// Package server implements the RPC server of the lock service.
//
// A server hosts one or more shards. Each shard owns a lock manager over
// its configured provider (memory, fs, redis), and the lock adapter
// translates wire messages into manager calls. Remote holds are tracked in
// a lease table: an acquire response carries a lease ID, and the lock is
// held server-side until a release request (or the configured maximum
// lease hold time) retires it.
package server
