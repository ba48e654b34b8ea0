package metadata

import "errors"

// The error kinds the handler surfaces, per the error handling design: an
// error of one of these kinds wraps the matching sentinel, checkable with
// errors.Is; filesystem (I/O) failures carry no sentinel of their own and
// wrap the underlying error instead. This follows the teacher's
// plain-stdlib error wrapping convention (no github.com/pkg/errors).
var (
	// ErrNotFound indicates that a looked-up input or output artifact
	// resolved to a missing or omitted value.
	ErrNotFound = errors.New("artifact metadata not found")
	// ErrSymlinkCycle indicates that resolving a symbolic link reported its
	// real path as identical to its no-follow path.
	ErrSymlinkCycle = errors.New("symbolic link cycle detected")
	// ErrInvariantViolation indicates a programmer error: injection outside
	// the execution phase, a double plain-output omission, an
	// archived-representation mismatch, a conflicting injected digest, or a
	// second call to PrepareForActionExecution.
	ErrInvariantViolation = errors.New("metadata handler invariant violation")
	// ErrInterrupted indicates that cooperative cancellation was observed
	// during a blocking operation; no partial result was cached.
	ErrInterrupted = errors.New("metadata operation interrupted")
)
