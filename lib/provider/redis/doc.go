// Package redis implements the Redis-backed lock provider for processes
// on different hosts.
//
// Exclusive locks are redislock leases; request markers are volatile keys
// tagged with the owning provider instance. All tokens carry a TTL and are
// refreshed while held, so a crashed process frees its locks within the
// TTL instead of wedging the system.
package redis
