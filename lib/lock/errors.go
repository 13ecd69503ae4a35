package lock

import (
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message. It reports invalid use of the lock API, not
// contention (see TimeoutError for that).
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface.
func (e *Error) Error() string {
	errorCode := ""
	switch e.Code {
	case RetCInvalidArgument:
		errorCode = "InvalidArgument"
	case RetCWrongContext:
		errorCode = "WrongContext"
	case RetCDisposed:
		errorCode = "Disposed"
	default:
		errorCode = "Unknown"
	}

	return fmt.Sprintf("LockError (code %s): %s", errorCode, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess         RetCode = iota // 0: Operation executed successfully.
	RetCInvalidArgument                // 1: Empty lock name or owner tag, mismatched lock name.
	RetCWrongContext                   // 2: Handle used from a foreign logical context.
	RetCDisposed                       // 3: Operation on a disposed handle or proxy.
)

// --------------------------------------------------------------------------
// Timeout Error
// --------------------------------------------------------------------------

// TimeoutError reports that an acquisition did not succeed within its
// cancellation window. It is returned by Acquire and AcquireTimeout only;
// the TryAcquire variants report the same condition via their boolean
// return value instead.
type TimeoutError struct {
	Provider string        // Name of the lock provider
	Lock     string        // Name of the contended lock
	Waited   time.Duration // How long the caller waited before giving up
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock %q (provider %s) not acquired after %s", e.Lock, e.Provider, e.Waited)
}
