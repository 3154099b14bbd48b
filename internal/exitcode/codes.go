// Package exitcode defines structured exit codes for sidecar commands.
// The desktop shell and scripts branch on these codes to tell a busy port
// from a failed stage or a worker that never became healthy, without parsing
// error messages.
//
// # Exit Code Ranges
//
//   - 0: Success
//   - 1-9: General errors (usage, internal)
//   - 10-19: Resource not found (worker binary, bundle, config file)
//   - 20-29: Permission/access errors
//   - 30-39: Startup resource errors (ports, staging)
//   - 40-49: Timeout errors
//   - 50-59: Conflict/state errors
//
// # Usage
//
//	return exitcode.Wrap(exitcode.ErrStaging, "staging worker bundle", err)
//	code := exitcode.Code(err) // ErrGeneral for non-coded errors
package exitcode

import (
	"errors"
	"fmt"
)

// Exit codes for sidecar commands.
const (
	// Success indicates the command completed successfully.
	Success = 0

	// General errors (1-9)
	ErrGeneral  = 1 // General/unknown error
	ErrUsage    = 2 // Invalid arguments or usage
	ErrInternal = 3 // Internal error (bug)

	// Resource not found (10-19)
	ErrWorkerNotFound = 10 // Worker executable could not be resolved
	ErrBundleNotFound = 11 // Packaged bundle or support directory missing
	ErrFileNotFound   = 13 // File or path not found

	// Permission/access errors (20-29)
	ErrPermission = 20 // Permission denied

	// Startup resource errors (30-39)
	ErrPortUnavailable = 30 // No loopback port could be bound at all
	ErrStaging         = 31 // Artifact staging failed
	ErrSpawn           = 32 // Worker process could not be started
	ErrWorkerExited    = 33 // Worker exited on its own while supervised

	// Timeout errors (40-49)
	ErrTimeout = 40 // Operation timed out (e.g. health gate)

	// Conflict/state errors (50-59)
	ErrConflict = 50 // Resource conflict
	ErrBusy     = 52 // Another supervisor holds the instance lock
)

// Error wraps an error with a specific exit code.
type Error struct {
	Code    int
	Message string
	Cause   error
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new coded error.
func New(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap wraps an existing error with a code and message.
func Wrap(code int, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Wrapf wraps an existing error with a code and printf-style message.
func Wrapf(code int, cause error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Code extracts the exit code from an error.
// Returns ErrGeneral (1) if the error doesn't have a code.
func Code(err error) int {
	if err == nil {
		return Success
	}
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ErrGeneral
}

// Is checks if an error has a specific exit code.
func Is(err error, code int) bool {
	return Code(err) == code
}

// Newf creates a new coded error with printf-style formatting.
func Newf(code int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WorkerNotFound returns an error for an unresolvable worker executable.
func WorkerNotFound(name string) *Error {
	return Newf(ErrWorkerNotFound, "worker executable not found: %s", name)
}

// FileNotFound returns an error for a missing file.
func FileNotFound(path string) *Error {
	return Newf(ErrFileNotFound, "file not found: %s", path)
}

// Busy returns an error when a single-instance resource is held elsewhere.
func Busy(resource string) *Error {
	return Newf(ErrBusy, "%s is held by another process", resource)
}
