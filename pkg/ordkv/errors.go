package ordkv

import "errors"

// Error classification sentinels.
//
// Callers MUST classify errors with errors.Is; implementations may wrap
// these with additional context via fmt.Errorf("...: %w", ErrX).
var (
	// ErrDone signals iteration exhaustion. It is not a failure and is
	// distinct from ErrNotFound (which means a specific key was absent).
	// Foreach returns nil, not ErrDone, when it reaches the end of its
	// range; a WalkFunc may return ErrDone to stop early, and Foreach then
	// returns it.
	ErrDone = errors.New("ordkv: done")

	// ErrExists is returned by a conditional store (IfNotExist) when the
	// key is already present.
	ErrExists = errors.New("ordkv: key exists")

	// ErrNotFound is returned when a key is absent, the database file does
	// not exist and Create was not requested, or a conditional store
	// (IfExist) was refused because the key was absent.
	ErrNotFound = errors.New("ordkv: not found")

	// ErrLocked is returned when a non-blocking lock acquisition failed,
	// or when Yield is called on a write transaction.
	ErrLocked = errors.New("ordkv: locked")

	// ErrReadOnly is returned when a write is attempted on a handle opened
	// with ReadOnly.
	ErrReadOnly = errors.New("ordkv: read-only")

	// ErrBadFormat is returned when the magic, version, checksum engine,
	// comparator, or a structural invariant check fails.
	ErrBadFormat = errors.New("ordkv: bad format")

	// ErrBadChecksum is returned when a record's head or tail checksum
	// does not match its contents.
	ErrBadChecksum = errors.New("ordkv: bad checksum")

	// ErrBadUsage is returned for a nil required argument, a missing
	// callback, or an invalid combination of flags/options.
	ErrBadUsage = errors.New("ordkv: bad usage")

	// ErrInternal is returned when a consistency assertion is violated.
	// Seeing this indicates a bug in the engine or a corrupted file that
	// slipped past the checks that normally yield ErrBadFormat.
	ErrInternal = errors.New("ordkv: internal error")
)

// IoError wraps an underlying filesystem/syscall error. Callers that need
// to distinguish I/O failures from format failures can use errors.As with
// *IoError, or errors.Is against the wrapped error directly since IoError
// implements Unwrap.
type IoError struct {
	Op  string
	Err error
}

func (e *IoError) Error() string { return "ordkv: " + e.Op + ": " + e.Err.Error() }

func (e *IoError) Unwrap() error { return e.Err }

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}

	return &IoError{Op: op, Err: err}
}
