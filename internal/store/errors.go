package store

import "errors"

// TransientError wraps a retriable Store failure (e.g. lock contention).
// The Scheduler treats it the same as a TransientFetchError from a
// collector: backoff, don't disable.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return "store: transient: " + e.Op + ": " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// FatalError wraps an unrecoverable Store failure (corruption, disk full).
// The Scheduler pauses the affected task until an operator intervenes.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string { return "store: fatal: " + e.Op + ": " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err (or anything it wraps) is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
