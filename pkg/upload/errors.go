package upload

import (
	"errors"
	"fmt"
)

// ErrCancelled indicates the caller aborted the session. Distinct from any
// server-side failure: the session moves to Failed with this cause.
var ErrCancelled = errors.New("upload: cancelled by caller")

// ChunkFailure reports a chunk that exhausted its retries or was rejected
// permanently. The index is part of the message to aid resumption.
type ChunkFailure struct {
	Index    int
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ChunkFailure) Error() string {
	return fmt.Sprintf("upload: chunk %d failed after %d attempts: %v", e.Index, e.Attempts, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ChunkFailure) Unwrap() error {
	return e.Err
}

// FinalizeFailure reports a failed finalize call. ChecksumMismatch marks the
// non-retryable case where the local file changed mid-transfer; the caller
// must restart with a fresh read.
type FinalizeFailure struct {
	ChecksumMismatch bool
	Err              error
}

// Error implements the error interface.
func (e *FinalizeFailure) Error() string {
	if e.ChecksumMismatch {
		return fmt.Sprintf("upload: finalize rejected, file changed during transfer: %v", e.Err)
	}

	return fmt.Sprintf("upload: finalize failed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *FinalizeFailure) Unwrap() error {
	return e.Err
}

// SessionFailure is the session-level terminal error, aggregating whichever
// chunk or finalize failure ended the session.
type SessionFailure struct {
	Err error
}

// Error implements the error interface.
func (e *SessionFailure) Error() string {
	return fmt.Sprintf("upload: session failed: %v", e.Err)
}

// Unwrap returns the underlying cause.
func (e *SessionFailure) Unwrap() error {
	return e.Err
}
