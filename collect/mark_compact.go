package collect

import (
	"context"

	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/cellgc/heap"
	"github.com/vkngwrapper/cellgc/roots"
	"golang.org/x/exp/slog"
)

// MarkCompact is a Lisp2 style collector working in place over a single space covering the
// whole heap. A collection marks every reachable cell, assigns each marked cell its address in
// the compacted layout, slides the marked cells down to those addresses in address order, and
// finally rewrites every pointer slot and root through the forwarding table.
//
// The relative order of live cells is preserved and no gaps remain between them. Every pass
// walks the whole space, so pause time is proportional to the heap size.
type MarkCompact struct {
	logger     *slog.Logger
	space      *heap.Space
	phase      Phase
	work       []heap.Addr
	forwarding *swiss.Map[heap.Addr, heap.Addr]
}

var _ Strategy = &MarkCompact{}

// NewMarkCompact creates a mark-and-compact Strategy. Init must be called before it is used.
func NewMarkCompact(logger *slog.Logger) *MarkCompact {
	return &MarkCompact{logger: logger}
}

func (c *MarkCompact) Kind() Kind { return KindMarkCompact }

func (c *MarkCompact) Phase() Phase { return c.phase }

func (c *MarkCompact) Active() *heap.Space { return c.space }

func (c *MarkCompact) Init(h *heap.Heap) error {
	c.space = heap.NewSpace(0, heap.Addr(h.Capacity()))
	c.forwarding = swiss.NewMap[heap.Addr, heap.Addr](42)
	c.phase = PhaseIdle
	return nil
}

func (c *MarkCompact) Collect(h *heap.Heap, stack *roots.Stack) (Stats, error) {
	var stats Stats
	defer func() { c.phase = PhaseIdle }()

	index, err := IndexCells(h, c.space)
	if err != nil {
		return stats, c.fail(err)
	}

	oldTop := c.space.Top()

	err = c.mark(h, stack, index)
	if err != nil {
		return stats, c.fail(err)
	}

	c.computeForwarding(h, &stats)
	c.relocate(h, &stats)

	err = c.updateReferences(h, stack)
	if err != nil {
		return stats, c.fail(err)
	}

	stats.Collections = 1
	stats.CellsReclaimed = index.Count() - stats.CellsRetained
	stats.BytesReclaimed = int(oldTop-c.space.Start()) - stats.BytesRetained

	c.logger.Debug("MarkCompactCollector::Collect",
		slog.Int("CellsRetained", stats.CellsRetained),
		slog.Int("CellsReclaimed", stats.CellsReclaimed),
		slog.Int("CellsMoved", stats.CellsMoved),
		slog.Int("BytesReclaimed", stats.BytesReclaimed))

	heap.DebugValidate(heap.SpaceValidator{Heap: h, Space: c.space})

	return stats, nil
}

func (c *MarkCompact) mark(h *heap.Heap, stack *roots.Stack, index *swiss.Map[heap.Addr, heap.Addr]) error {
	c.phase = PhaseMarking
	c.work = c.work[:0]

	markTarget := func(target heap.Addr) error {
		cell, err := resolve(index, target)
		if err != nil {
			return err
		}

		hdr := h.ReadHeader(cell)
		if hdr.Marked() {
			return nil
		}

		h.SetFlags(cell, hdr.Flags|heap.FlagMarked)
		c.work = append(c.work, cell)
		return nil
	}

	err := stack.ForEachPointer(func(slot *heap.Addr) error {
		return markTarget(*slot)
	})
	if err != nil {
		return err
	}

	for len(c.work) > 0 {
		cell := c.work[len(c.work)-1]
		c.work = c.work[:len(c.work)-1]

		err = h.PointerSlots(cell, h.ReadHeader(cell), func(slot heap.Addr) error {
			target := heap.Addr(h.ReadUint32(slot))
			if target == heap.Nil {
				return nil
			}
			return markTarget(target)
		})
		if err != nil {
			return err
		}
	}

	c.logger.Debug("MarkCompactCollector::Collect", slog.String("Phase", c.phase.String()))
	return nil
}

func (c *MarkCompact) computeForwarding(h *heap.Heap, stats *Stats) {
	c.phase = PhaseComputingForwarding
	c.forwarding = swiss.NewMap[heap.Addr, heap.Addr](42)

	cursor := c.space.Start()
	for addr := c.space.First(); addr != heap.NoAddr; {
		hdr := h.ReadHeader(addr)
		if hdr.Marked() {
			h.SetForward(addr, cursor)
			c.forwarding.Put(heap.PayloadAddress(addr), heap.PayloadAddress(cursor))

			stats.CellsRetained++
			stats.BytesRetained += hdr.Span()
			cursor += heap.Addr(hdr.Span())
		}
		addr = hdr.Next
	}

	c.logger.Debug("MarkCompactCollector::Collect",
		slog.String("Phase", c.phase.String()),
		slog.Int("CompactedTop", int(cursor)))
}

func (c *MarkCompact) relocate(h *heap.Heap, stats *Stats) {
	c.phase = PhaseRelocating

	first := c.space.First()
	c.space.Reset()

	// Forwarding addresses never exceed the source address, so moving cells in ascending
	// order only ever overwrites cells that have already been moved or are dead
	for addr := first; addr != heap.NoAddr; {
		hdr := h.ReadHeader(addr)
		next := hdr.Next

		if hdr.Marked() {
			dst := hdr.Forward
			if dst != addr {
				h.Move(dst, addr, hdr.Span())
				stats.CellsMoved++
				stats.BytesMoved += hdr.Span()
			}

			hdr.Flags &^= heap.FlagMarked
			hdr.Forward = dst
			hdr.Next = heap.NoAddr
			h.WriteHeader(dst, hdr)
			h.Link(c.space, dst)
		}

		addr = next
	}

	c.logger.Debug("MarkCompactCollector::Collect",
		slog.String("Phase", c.phase.String()),
		slog.Int("CellsMoved", stats.CellsMoved))
}

func (c *MarkCompact) updateReferences(h *heap.Heap, stack *roots.Stack) error {
	c.phase = PhaseUpdatingReferences

	lookup := func(target heap.Addr) (heap.Addr, error) {
		forward, ok := c.forwarding.Get(target)
		if !ok {
			return heap.NoAddr, heap.Corruptionf("pointer %d has no forwarding address", target)
		}
		return forward, nil
	}

	err := h.Cells(c.space, func(addr heap.Addr, hdr heap.Header) error {
		return h.PointerSlots(addr, hdr, func(slot heap.Addr) error {
			target := heap.Addr(h.ReadUint32(slot))
			if target == heap.Nil {
				return nil
			}

			forward, err := lookup(target)
			if err != nil {
				return err
			}

			h.WriteUint32(slot, uint32(forward))
			return nil
		})
	})
	if err != nil {
		return err
	}

	return stack.ForEachPointer(func(slot *heap.Addr) error {
		forward, err := lookup(*slot)
		if err != nil {
			return err
		}

		*slot = forward
		return nil
	})
}

func (c *MarkCompact) fail(err error) error {
	c.logger.LogAttrs(context.Background(), slog.LevelError, "collection aborted",
		slog.String("Strategy", c.Kind().String()),
		slog.String("Phase", c.phase.String()),
		slog.Any("error", err))
	return err
}
