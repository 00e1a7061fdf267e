package heap

import (
	"github.com/cockroachdb/errors"
	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrOutOfMemory is returned when an allocation cannot be satisfied, even after a full collection
	ErrOutOfMemory = errors.New("out of memory")
	// ErrInvalidHandle is returned when a handle does not refer to a live cell
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrBoundsViolation is returned when a field offset falls outside of a cell's payload
	ErrBoundsViolation = errors.New("bounds violation")
	// ErrHeapCorruption is returned when an internal heap invariant has been broken. It is never recoverable.
	ErrHeapCorruption = errors.New("heap corruption")
	// ErrInvalidRequest is returned when an allocation request carries an unknown type tag or an
	// unusable size
	ErrInvalidRequest = errors.New("invalid allocation request")
)

// Corruptionf builds an error describing a broken heap invariant. The result matches
// ErrHeapCorruption with errors.Is.
func Corruptionf(format string, args ...any) error {
	return errors.Mark(pkgerrors.Errorf(format, args...), ErrHeapCorruption)
}

func boundsf(format string, args ...any) error {
	return errors.Wrapf(ErrBoundsViolation, format, args...)
}
