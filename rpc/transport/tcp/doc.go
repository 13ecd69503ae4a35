// Package tcp provides the TCP implementation of the RPC transport
// layer, built on the shared base transport with TCP-specific socket
// tuning (no-delay, keep-alive, linger, buffer sizes).
package tcp
