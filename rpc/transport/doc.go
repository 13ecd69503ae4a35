// Package transport provides the network communication abstractions of
// the RPC layer with pluggable implementations.
//
// The stream transports (tcp, unix) share a base implementation that
// frames messages with a shard ID, a request ID and a length prefix. The
// request ID allows pipelining: a connection can have many requests in
// flight, and responses are matched back to their callers as they arrive.
// This matters for a lock service, where one request may block server-side
// for its whole acquisition timeout while later requests on the same
// connection complete immediately.
//
// The http transport maps each request onto one POST and leaves
// concurrency to the HTTP client; it trades throughput for easy debugging
// and proxyability.
package transport
