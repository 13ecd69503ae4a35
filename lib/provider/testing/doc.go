// Package testing provides the conformance suite for ILockProvider
// implementations. New providers should call RunProviderTests from their
// own test file; the suite checks the contract the lock core depends on
// (exclusivity, marker visibility, channel independence, name isolation).
package testing
