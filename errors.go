package cellgc

import (
	"github.com/vkngwrapper/cellgc/heap"
	"github.com/vkngwrapper/cellgc/roots"
)

// Error kinds surfaced by the Allocator. Every error it returns matches one of these with
// errors.Is, except for configuration errors from New.
var (
	ErrEmptyRootStack  = roots.ErrEmptyStack
	ErrOutOfMemory     = heap.ErrOutOfMemory
	ErrInvalidHandle   = heap.ErrInvalidHandle
	ErrBoundsViolation = heap.ErrBoundsViolation
	ErrHeapCorruption  = heap.ErrHeapCorruption
	ErrInvalidRequest  = heap.ErrInvalidRequest
)

// Handle refers to the payload of a cell returned by Allocate. It stays valid until the next
// collection, which may move the cell: handles held across a collection must be read back from
// the root stack.
type Handle heap.Addr

// NilHandle is the null reference. It can be stored in pointer fields and pushed as a root.
const NilHandle Handle = Handle(heap.Nil)
