package domain

import (
	"errors"
	"fmt"
	"time"
)

// Common domain errors
var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrNoSpace                = errors.New("no data directory has space available")
	ErrDirectoryQuery         = errors.New("directory free space query failed")
	ErrTerminating            = errors.New("node is terminating")
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// Container errors
	ErrContainerNotFound = errors.New("block container not found")
	ErrContainerNoRoom   = errors.New("block container has no room")
)

// NoSpaceError is returned by block allocation when every data directory is
// over its reservation or has no usable container.
type NoSpaceError struct {
	Purpose     AllocationPurpose
	SizeHint    uint64
	Directories []DirectoryStatus
}

// Error returns the error message
func (e *NoSpaceError) Error() string {
	unavailable := 0
	for _, d := range e.Directories {
		if d.Availability != Available {
			unavailable++
		}
	}
	return fmt.Sprintf("%s allocation of %d bytes: %d of %d data directories unavailable: %s",
		e.Purpose, e.SizeHint, unavailable, len(e.Directories), ErrNoSpace.Error())
}

// Unwrap returns ErrNoSpace
func (e *NoSpaceError) Unwrap() error {
	return ErrNoSpace
}

// IsNoSpace returns true if the error is an allocation capacity failure
func IsNoSpace(err error) bool {
	return errors.Is(err, ErrNoSpace)
}

// DirectoryQueryError is recorded when the free space of a directory could not
// be read. It stays local to the monitor.
type DirectoryQueryError struct {
	Path string
	Err  error
}

// Error returns the error message
func (e *DirectoryQueryError) Error() string {
	return fmt.Sprintf("query free space of %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *DirectoryQueryError) Unwrap() error {
	return e.Err
}

// Is matches ErrDirectoryQuery
func (e *DirectoryQueryError) Is(target error) bool {
	return target == ErrDirectoryQuery
}

// FatalKind tells which subsystem raised a fatal condition
type FatalKind string

// Fatal condition kinds
const (
	FatalWAL   FatalKind = "wal"
	FatalBlock FatalKind = "block"
)

// FatalCondition is an unrecoverable space exhaustion. It is never meant to be
// handled by callers; the escalator terminates the process when one is raised.
type FatalCondition struct {
	Kind          FatalKind
	Directory     string
	ReservedBytes uint64
	FreeBytes     uint64
	BytesNeeded   uint64
	Reason        string
	Directories   []DirectoryStatus
	Err           error
}

// Error returns the error message
func (e *FatalCondition) Error() string {
	msg := fmt.Sprintf("fatal %s space condition on %s: %s (free=%d reserved=%d needed=%d)",
		e.Kind, e.Directory, e.Reason, e.FreeBytes, e.ReservedBytes, e.BytesNeeded)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *FatalCondition) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error carries a fatal condition
func IsFatal(err error) bool {
	var fc *FatalCondition
	return errors.As(err, &fc)
}

// NewBlockFatalCondition converts a critical allocation failure into a fatal
// condition. The reported directory is the one closest to being usable.
func NewBlockFatalCondition(nse *NoSpaceError) *FatalCondition {
	fc := &FatalCondition{
		Kind:        FatalBlock,
		BytesNeeded: nse.SizeHint,
		Reason:      fmt.Sprintf("%s cannot allocate block space", nse.Purpose),
		Directories: nse.Directories,
		Err:         nse,
	}
	for i, st := range nse.Directories {
		if i == 0 || st.Sample.FreeBytes > fc.FreeBytes {
			fc.Directory = st.Directory.Path
			fc.ReservedBytes = st.Directory.ReservedBytes
			fc.FreeBytes = st.Sample.FreeBytes
		}
	}
	return fc
}

// RetryableError represents an error that should trigger a retry.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
