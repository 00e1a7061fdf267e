package collect

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/cellgc/heap"
	"github.com/vkngwrapper/cellgc/roots"
	"golang.org/x/exp/slog"
)

// Copying is a two-space Cheney collector. The heap is split into two equal halves. The
// mutator allocates in one of them (from-space) while the other (to-space) stays empty. A
// collection copies every reachable cell into to-space, leaving a forwarding address behind in
// the original header, then the halves swap roles.
//
// Pause time is proportional to the amount of live data, not to the size of the heap, but
// only half of the heap is ever available to the mutator.
type Copying struct {
	logger *slog.Logger
	spaces [2]*heap.Space
	active int
	phase  Phase
}

var _ Strategy = &Copying{}

// NewCopying creates a copying Strategy. Init must be called before it is used.
func NewCopying(logger *slog.Logger) *Copying {
	return &Copying{logger: logger}
}

func (c *Copying) Kind() Kind { return KindCopying }

func (c *Copying) Phase() Phase { return c.phase }

func (c *Copying) Active() *heap.Space { return c.spaces[c.active] }

func (c *Copying) Init(h *heap.Heap) error {
	half := h.Capacity() / 2
	if half < heap.HeaderSize {
		return errors.Wrapf(heap.ErrInvalidRequest, "a %d byte heap is too small to split into two spaces", h.Capacity())
	}

	c.spaces[0] = heap.NewSpace(0, heap.Addr(half))
	c.spaces[1] = heap.NewSpace(heap.Addr(half), heap.Addr(2*half))
	c.active = 0
	c.phase = PhaseIdle

	return nil
}

func (c *Copying) Collect(h *heap.Heap, stack *roots.Stack) (Stats, error) {
	var stats Stats
	defer func() { c.phase = PhaseIdle }()

	from := c.spaces[c.active]
	to := c.spaces[1-c.active]
	to.Reset()

	index, err := IndexCells(h, from)
	if err != nil {
		return stats, c.fail(err)
	}

	c.phase = PhaseTracing
	c.logger.Debug("CopyingCollector::Collect",
		slog.String("Phase", c.phase.String()),
		slog.Int("FromSpace", int(from.Start())),
		slog.Int("ToSpace", int(to.Start())),
		slog.Int("UsedCells", index.Count()))

	forward := func(slot *heap.Addr) error {
		cell, err := resolve(index, *slot)
		if err != nil {
			return err
		}

		hdr := h.ReadHeader(cell)
		if hdr.Forward == cell {
			dst := to.Top()
			if hdr.Span() > to.Remaining() {
				return heap.Corruptionf("live cell at %d does not fit in to-space: %d bytes left", cell, to.Remaining())
			}

			h.Move(dst, cell, hdr.Span())
			h.SetForward(dst, dst)
			h.Link(to, dst)
			h.SetForward(cell, dst)

			stats.CellsMoved++
			stats.BytesMoved += hdr.Span()
			hdr.Forward = dst
		}

		*slot = heap.PayloadAddress(hdr.Forward)
		return nil
	}

	err = stack.ForEachPointer(forward)
	if err != nil {
		return stats, c.fail(err)
	}

	// Cheney scan: every cell between scan and the top of to-space has been copied but its
	// pointer slots still refer to from-space
	for scan := to.First(); scan != heap.NoAddr; scan = h.ReadHeader(scan).Next {
		err = h.PointerSlots(scan, h.ReadHeader(scan), func(slot heap.Addr) error {
			target := heap.Addr(h.ReadUint32(slot))
			if target == heap.Nil {
				return nil
			}

			err := forward(&target)
			if err != nil {
				return err
			}

			h.WriteUint32(slot, uint32(target))
			return nil
		})
		if err != nil {
			return stats, c.fail(err)
		}
	}

	c.phase = PhaseRelocating

	stats.Collections = 1
	stats.CellsRetained = stats.CellsMoved
	stats.BytesRetained = stats.BytesMoved
	stats.CellsReclaimed = index.Count() - stats.CellsRetained
	stats.BytesReclaimed = int(from.Top()-from.Start()) - stats.BytesRetained

	from.Reset()
	c.active = 1 - c.active

	c.logger.Debug("CopyingCollector::Collect",
		slog.String("Phase", c.phase.String()),
		slog.Int("CellsRetained", stats.CellsRetained),
		slog.Int("CellsReclaimed", stats.CellsReclaimed),
		slog.Int("BytesReclaimed", stats.BytesReclaimed))

	heap.DebugValidate(heap.SpaceValidator{Heap: h, Space: to})

	return stats, nil
}

func (c *Copying) fail(err error) error {
	c.logger.LogAttrs(context.Background(), slog.LevelError, "collection aborted",
		slog.String("Strategy", c.Kind().String()),
		slog.String("Phase", c.phase.String()),
		slog.Any("error", err))
	return err
}
