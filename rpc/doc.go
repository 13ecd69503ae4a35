// Package rpc provides the remote procedure call layer of the lock
// service. It lets processes that cannot (or should not) talk to the lock
// facility directly coordinate through a dLock server instead: the server
// multiplexes all remote callers onto its in-process lock managers, so
// cross-client serialization rides the same core as library use.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC
//     system, including the Message protocol, configuration structures,
//     and logging.
//
//   - transport: Network communication abstractions with pluggable
//     implementations (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization with multiple format options
//     (JSON, GOB) for converting between Message objects and byte arrays.
//
//   - client: The RPC lock client, which acquires and releases locks on a
//     remote shard through lease IDs.
//
//   - server: RPC server components that handle incoming requests,
//     including the adapter mapping lock messages onto a lock manager and
//     the lease table tracking remote holds.
package rpc
