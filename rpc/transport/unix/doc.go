// Package unix provides the Unix domain socket implementation of the RPC
// transport layer, built on the shared base transport. It is the fastest
// option for clients on the same host as the server.
package unix
