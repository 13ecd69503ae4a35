// Package common contains the data structures shared across the RPC
// system: the wire Message protocol for lock operations, the server and
// client configuration structs, and the logger factory used by all
// subsystems.
package common
