package heap

import "fmt"

// Space is a contiguous region [Start, End) of a Heap holding its own chain of cells.
// Cells tile the region from Start: the chain is never sparse, and every byte between
// Start and Top belongs to exactly one cell. Bytes between Top and End are unclaimed.
type Space struct {
	start Addr
	end   Addr
	last  Addr
	top   Addr
}

// NewSpace creates an empty region covering [start, end)
func NewSpace(start, end Addr) *Space {
	if end < start {
		panic(fmt.Sprintf("space end %d precedes its start %d", end, start))
	}

	return &Space{
		start: start,
		end:   end,
		last:  NoAddr,
		top:   start,
	}
}

// Start is the first address of the region
func (s *Space) Start() Addr { return s.start }

// End is the first address past the region
func (s *Space) End() Addr { return s.end }

// Capacity is the size of the region in bytes
func (s *Space) Capacity() int { return int(s.end - s.start) }

// Empty returns true if the region holds no cells
func (s *Space) Empty() bool { return s.last == NoAddr }

// First returns the address of the first cell, or NoAddr if the region is empty
func (s *Space) First() Addr {
	if s.Empty() {
		return NoAddr
	}
	return s.start
}

// Last returns the address of the final cell, or NoAddr if the region is empty
func (s *Space) Last() Addr { return s.last }

// Top is the first address past the final cell
func (s *Space) Top() Addr { return s.top }

// Remaining is the number of unclaimed bytes after Top
func (s *Space) Remaining() int { return int(s.end - s.top) }

// Contains returns true if addr lies inside the region
func (s *Space) Contains(addr Addr) bool {
	return addr >= s.start && addr < s.end
}

// Reset forgets every cell in the region. The bytes themselves are left as they are.
func (s *Space) Reset() {
	s.last = NoAddr
	s.top = s.start
}

// Link appends the cell whose header has already been written at the region's Top to the
// end of the chain
func (h *Heap) Link(space *Space, addr Addr) {
	if addr != space.top {
		panic(fmt.Sprintf("attempted to link cell %d, but the top of the space is %d", addr, space.top))
	}

	hdr := h.ReadHeader(addr)
	if int(addr)+hdr.Span() > int(space.end) {
		panic(fmt.Sprintf("attempted to link a %d byte cell at %d past the end of the space at %d", hdr.Span(), addr, space.end))
	}

	if space.last != NoAddr {
		h.SetNext(space.last, addr)
	}
	h.SetNext(addr, NoAddr)

	space.last = addr
	space.top = addr + Addr(hdr.Span())
}

// Append writes a fresh used cell of the given payload size and type at the region's Top
// and links it. The payload is zeroed. The caller must have checked that the cell fits.
func (h *Heap) Append(space *Space, size int, typ Type) Addr {
	addr := space.top
	h.WriteHeader(addr, Header{
		Next:    NoAddr,
		Forward: addr,
		Size:    size,
		Type:    typ,
		Flags:   FlagUsed,
	})
	h.Zero(PayloadAddress(addr), size)
	h.Link(space, addr)

	return addr
}

// Truncate drops every cell after last, which becomes the final cell of the chain. Passing
// NoAddr empties the region.
func (h *Heap) Truncate(space *Space, last Addr) {
	if last == NoAddr {
		space.Reset()
		return
	}

	h.SetNext(last, NoAddr)
	space.last = last
	space.top = last + Addr(h.ReadHeader(last).Span())
}

// Split carves the cell at addr down to a payload of size bytes. The bytes after it become a
// new free cell, which is returned. The caller must have checked that the remainder can hold
// a header.
func (h *Heap) Split(space *Space, addr Addr, size int) Addr {
	hdr := h.ReadHeader(addr)
	remainder := hdr.Size - size - HeaderSize
	if remainder < 0 {
		panic(fmt.Sprintf("attempted to split a %d byte cell at %d into a %d byte cell and a header", hdr.Size, addr, size))
	}

	rest := addr + HeaderSize + Addr(size)
	h.WriteHeader(rest, Header{
		Next:    hdr.Next,
		Forward: rest,
		Size:    remainder,
		Type:    TypeByte,
	})

	hdr.Size = size
	hdr.Next = rest
	h.WriteHeader(addr, hdr)

	if space.last == addr {
		space.last = rest
	}

	return rest
}

// Merge folds every free cell directly following the cell at addr into it and returns the
// resulting header
func (h *Heap) Merge(space *Space, addr Addr) Header {
	hdr := h.ReadHeader(addr)

	for hdr.Next != NoAddr {
		next := h.ReadHeader(hdr.Next)
		if next.Used() {
			break
		}

		if space.last == hdr.Next {
			space.last = addr
		}
		hdr.Size += next.Span()
		hdr.Next = next.Next
	}

	h.WriteHeader(addr, hdr)
	return hdr
}

// Cells walks the chain of space in address order, calling fn with each cell and its
// decoded header. fn may rewrite header fields but must not relink the chain. A chain that
// does not tile the region is reported as heap corruption.
func (h *Heap) Cells(space *Space, fn func(addr Addr, hdr Header) error) error {
	if space.Empty() {
		if space.top != space.start {
			return Corruptionf("empty space starting at %d has its top at %d", space.start, space.top)
		}
		return nil
	}

	addr := space.start
	for {
		if int(addr)+HeaderSize > int(space.top) {
			return Corruptionf("cell at %d does not fit below the top of its space at %d", addr, space.top)
		}

		hdr := h.ReadHeader(addr)
		end := int(addr) + hdr.Span()
		if end > int(space.top) {
			return Corruptionf("cell at %d with size %d extends past the top of its space at %d", addr, hdr.Size, space.top)
		}

		err := fn(addr, hdr)
		if err != nil {
			return err
		}

		if hdr.Next == NoAddr {
			if addr != space.last || end != int(space.top) {
				return Corruptionf("chain ends at cell %d, but the space's final cell is %d ending at %d", addr, space.last, space.top)
			}
			return nil
		}

		if int(hdr.Next) != end {
			return Corruptionf("cell at %d with size %d links to %d instead of %d", addr, hdr.Size, hdr.Next, end)
		}

		addr = hdr.Next
	}
}
