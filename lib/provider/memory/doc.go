// Package memory implements the process-local lock provider. It keeps all
// state in concurrent maps and is intended for tests and for deployments
// where all lock users live in one binary (e.g. behind a single dLock
// server).
package memory
