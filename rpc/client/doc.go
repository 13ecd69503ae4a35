// Package client implements the RPC lock client. It speaks the Message
// protocol over a pluggable transport and serializer and exposes the
// remote shard through the ILockClient interface: acquire returns a lease
// ID, release retires it.
package client
