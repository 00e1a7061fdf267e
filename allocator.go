package cellgc

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/cellgc/alloc"
	"github.com/vkngwrapper/cellgc/collect"
	"github.com/vkngwrapper/cellgc/heap"
	"github.com/vkngwrapper/cellgc/roots"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// Allocator is the mutator's view of a garbage collected heap. It hands out cells, mediates
// every access to their payloads, owns the root stack and runs the collector when the active
// space is exhausted.
//
// An Allocator is not safe for concurrent use. Collection is stop-the-world: Allocate and
// Collect do not return until the pause is over.
type Allocator struct {
	logger   *slog.Logger
	heap     *heap.Heap
	strategy collect.Strategy
	stack    roots.Stack

	handles         *swiss.Map[Handle, heap.Addr]
	stats           collect.Stats
	implicitCollect bool

	// corruption is set when a collection finds the heap corrupt. The heap is unusable from
	// then on.
	corruption error
}

// Strategy returns the collection strategy this allocator was created with
func (a *Allocator) Strategy() collect.Strategy {
	return a.strategy
}

// Allocate creates a cell with a zeroed payload of size bytes, holding elements of type typ.
// size must be a multiple of the element width of typ. A reused free cell too small to split
// keeps its leftover bytes as slack, so the payload may be slightly larger than size: SizeOf
// reports the real payload size, and field accesses are bounded by it rather than by size.
//
// When the active space cannot hold the cell, exactly one collection is run and the request is
// retried once. If it still cannot be satisfied, ErrOutOfMemory is returned. Any handle not
// read back from the root stack is invalid after a collection.
func (a *Allocator) Allocate(size int, typ heap.Type) (Handle, error) {
	if a.corruption != nil {
		return NilHandle, a.corruption
	}

	err := alloc.CheckRequest(size, typ)
	if err != nil {
		return NilHandle, err
	}

	a.logger.Debug("Allocator::Allocate", slog.Int("Size", size), slog.String("Type", typ.String()))

	if size > a.strategy.Active().Capacity()-heap.HeaderSize {
		return NilHandle, a.outOfMemory(size, typ, "the cell is larger than a whole space")
	}

	success, req, err := alloc.CreateRequest(a.heap, a.strategy.Active(), size, typ)
	if err != nil {
		return NilHandle, err
	}

	if !success {
		if !a.implicitCollect {
			return NilHandle, a.outOfMemory(size, typ, "the active space is exhausted")
		}

		a.logger.Debug("  Allocate exhausted the active space, collecting",
			slog.Int("Remaining", a.strategy.Active().Remaining()))

		_, err = a.collect()
		if err != nil {
			return NilHandle, err
		}

		success, req, err = alloc.CreateRequest(a.heap, a.strategy.Active(), size, typ)
		if err != nil {
			return NilHandle, err
		}

		if !success {
			return NilHandle, a.outOfMemory(size, typ, "the active space is exhausted after a collection")
		}
	}

	payload := alloc.Commit(a.heap, a.strategy.Active(), req)
	handle := Handle(payload)
	a.handles.Put(handle, heap.CellAddress(payload))

	a.logger.Debug("    Allocated",
		slog.Int("Handle", int(handle)),
		slog.String("Request", req.Kind.String()))

	return handle, nil
}

func (a *Allocator) outOfMemory(size int, typ heap.Type, reason string) error {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "Allocate FAILED",
		slog.Int("Size", size),
		slog.String("Type", typ.String()),
		slog.String("Reason", reason))

	return errors.Wrapf(ErrOutOfMemory, "cannot allocate %d bytes of %s: %s", size, typ, reason)
}

// Collect runs a full collection. Unreachable cells are reclaimed and reachable cells may be
// moved; root stack entries and pointer fields are updated to follow them.
func (a *Allocator) Collect() (collect.Stats, error) {
	if a.corruption != nil {
		return collect.Stats{}, a.corruption
	}

	return a.collect()
}

func (a *Allocator) collect() (collect.Stats, error) {
	stats, err := a.strategy.Collect(a.heap, &a.stack)
	if err != nil {
		return stats, a.corrupt(err)
	}

	a.stats.Add(stats)

	err = a.rebuildHandles()
	if err != nil {
		return stats, a.corrupt(err)
	}

	return stats, nil
}

func (a *Allocator) corrupt(err error) error {
	a.corruption = errors.Wrapf(err, "%s collection failed", a.strategy.Kind())
	a.logger.LogAttrs(context.Background(), slog.LevelError, "Collect FAILED",
		slog.String("Strategy", a.strategy.Kind().String()),
		slog.Any("error", err))
	return a.corruption
}

func (a *Allocator) rebuildHandles() error {
	a.handles = swiss.NewMap[Handle, heap.Addr](42)

	return a.heap.Cells(a.strategy.Active(), func(addr heap.Addr, hdr heap.Header) error {
		if hdr.Used() {
			a.handles.Put(Handle(heap.PayloadAddress(addr)), addr)
		}
		return nil
	})
}

// Release returns a cell to the allocator without waiting for a collection. The cell must not
// be reachable: a root or pointer field still referring to it is reported as ErrHeapCorruption
// by the next collection.
func (a *Allocator) Release(handle Handle) error {
	cell, _, err := a.lookup(handle)
	if err != nil {
		return err
	}

	a.logger.Debug("Allocator::Release", slog.Int("Handle", int(handle)))

	alloc.Release(a.heap, a.strategy.Active(), cell)
	a.handles.Delete(handle)
	return nil
}

func (a *Allocator) lookup(handle Handle) (heap.Addr, heap.Header, error) {
	cell, ok := a.handles.Get(handle)
	if !ok {
		return heap.NoAddr, heap.Header{}, errors.Wrapf(ErrInvalidHandle, "handle %d does not refer to a live cell", handle)
	}

	return cell, a.heap.ReadHeader(cell), nil
}

func (a *Allocator) checkTarget(target Handle) error {
	if target == NilHandle {
		return nil
	}

	_, _, err := a.lookup(target)
	return err
}

// SizeOf returns the payload size of a cell in bytes. It may exceed the requested size when the
// cell reused a slightly larger free cell.
func (a *Allocator) SizeOf(handle Handle) (int, error) {
	_, hdr, err := a.lookup(handle)
	if err != nil {
		return 0, err
	}
	return hdr.Size, nil
}

// TypeOf returns the type tag a cell was allocated with
func (a *Allocator) TypeOf(handle Handle) (heap.Type, error) {
	_, hdr, err := a.lookup(handle)
	if err != nil {
		return 0, err
	}
	return hdr.Type, nil
}

// Bytes returns a copy of a cell's payload
func (a *Allocator) Bytes(handle Handle) ([]byte, error) {
	cell, _, err := a.lookup(handle)
	if err != nil {
		return nil, err
	}
	return slices.Clone(a.heap.Payload(cell)), nil
}

// ReadField reads the element at a byte offset of a cell's payload. The offset must be aligned
// to the cell's element width.
func (a *Allocator) ReadField(handle Handle, offset int) (uint32, error) {
	_, hdr, err := a.lookup(handle)
	if err != nil {
		return 0, err
	}

	err = hdr.CheckOffset(offset)
	if err != nil {
		return 0, err
	}

	return a.heap.LoadField(heap.Addr(handle), offset), nil
}

// WriteField writes the element at a byte offset of a cell's payload, truncating value to the
// element width. Values written to pointer cells must be NilHandle or a live handle.
func (a *Allocator) WriteField(handle Handle, offset int, value uint32) error {
	_, hdr, err := a.lookup(handle)
	if err != nil {
		return err
	}

	err = hdr.CheckOffset(offset)
	if err != nil {
		return err
	}

	if hdr.Type == heap.TypePointer {
		err = a.checkTarget(Handle(value))
		if err != nil {
			return err
		}
	}

	a.heap.StoreField(heap.Addr(handle), offset, value)
	return nil
}

func (a *Allocator) pointerSlot(handle Handle, index int) (heap.Header, error) {
	_, hdr, err := a.lookup(handle)
	if err != nil {
		return hdr, err
	}

	if hdr.Type != heap.TypePointer {
		return hdr, errors.Wrapf(ErrBoundsViolation, "handle %d refers to a %s cell, which has no pointer slots", handle, hdr.Type)
	}

	if index < 0 || index >= hdr.Size/heap.PointerSize {
		return hdr, errors.Wrapf(ErrBoundsViolation, "slot %d is outside of a cell with %d pointer slots", index, hdr.Size/heap.PointerSize)
	}

	return hdr, nil
}

// ReadPointer reads the reference held in slot index of a pointer cell
func (a *Allocator) ReadPointer(handle Handle, index int) (Handle, error) {
	_, err := a.pointerSlot(handle, index)
	if err != nil {
		return NilHandle, err
	}

	return Handle(a.heap.LoadField(heap.Addr(handle), index*heap.PointerSize)), nil
}

// WritePointer stores target, which must be NilHandle or a live handle, in slot index of a
// pointer cell
func (a *Allocator) WritePointer(handle Handle, index int, target Handle) error {
	_, err := a.pointerSlot(handle, index)
	if err != nil {
		return err
	}

	err = a.checkTarget(target)
	if err != nil {
		return err
	}

	a.heap.StoreField(heap.Addr(handle), index*heap.PointerSize, uint32(target))
	return nil
}

// PushRoot adds an entry to the root stack. Entries tagged heap.TypePointer keep their target
// alive and are rewritten when it moves, so they must be NilHandle or a live handle. Entries
// with any other tag are scalars and are never examined.
func (a *Allocator) PushRoot(value Handle, typ heap.Type) error {
	if !typ.Valid() {
		return errors.Wrapf(ErrInvalidRequest, "unknown type tag %d", uint8(typ))
	}

	if typ == heap.TypePointer {
		err := a.checkTarget(value)
		if err != nil {
			return err
		}
	}

	a.stack.Push(heap.Addr(value), typ)
	return nil
}

// PopRoot removes the entry on top of the root stack
func (a *Allocator) PopRoot() (Handle, heap.Type, error) {
	root, err := a.stack.Pop()
	if err != nil {
		return NilHandle, 0, err
	}
	return Handle(root.Value), root.Type, nil
}

// Root returns the entry depth positions below the top of the root stack without removing it.
// After a collection, this is how the mutator recovers the current handle of a moved cell.
func (a *Allocator) Root(depth int) (Handle, heap.Type, error) {
	root, err := a.stack.Peek(depth)
	if err != nil {
		return NilHandle, 0, err
	}
	return Handle(root.Value), root.Type, nil
}

// RootCount returns the number of entries on the root stack
func (a *Allocator) RootCount() int {
	return a.stack.Len()
}
