// Package http provides the HTTP implementation of the RPC transport
// layer. Each request is one POST to /{shardId}; concurrency and
// connection pooling are left to net/http.
package http
