// Package cmd implements the command-line interface for the dLock
// distributed advisory lock service. It provides a hierarchical command
// structure with operations for running the server and interacting with
// it as a client.
//
// The package is organized into several subpackages:
//
//   - lock: Commands for lock operations (acquire, release, run)
//   - serve: Commands for starting and configuring the dLock server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dlock -help for a list of all commands.
package cmd
