// Package fs implements the flock(2) based lock provider for processes
// sharing one host.
//
// The exclusive lock and the request marker live in two separate files per
// lock name, because flock serializes access per file: the marker file is
// held shared by waiters and probed with a non-blocking exclusive attempt
// by the holder. Lock files are never deleted; they are empty and the
// kernel reclaims the locks when their holders exit.
package fs
