package heap

import (
	"github.com/dolthub/swiss"
)

// Validatable is used by DebugValidate to act upon all types with a Validate method
type Validatable interface {
	Validate() error
}

// Validate performs consistency checks on the chain of space: cells tile the region in
// strictly increasing address order, every tag is recognized, and every pointer slot of a
// used pointer cell is either Nil or the payload address of a used cell in the same space.
// When the heap is functioning correctly it should not be possible for this to fail.
func (h *Heap) Validate(space *Space) error {
	payloads := swiss.NewMap[Addr, Type](42)

	var prev Addr = NoAddr
	err := h.Cells(space, func(addr Addr, hdr Header) error {
		if prev != NoAddr && addr <= prev {
			return Corruptionf("cell at %d follows cell at %d", addr, prev)
		}
		prev = addr

		if !hdr.Type.Valid() {
			return Corruptionf("cell at %d has unknown type tag %d", addr, uint8(hdr.Type))
		}

		if hdr.Used() {
			if hdr.Size%hdr.Type.ElemSize() != 0 {
				return Corruptionf("%s cell at %d has size %d, which is not a whole number of elements", hdr.Type, addr, hdr.Size)
			}
			if hdr.Forward != addr {
				return Corruptionf("cell at %d is forwarded to %d outside of a collection", addr, hdr.Forward)
			}
			payloads.Put(PayloadAddress(addr), hdr.Type)
		}

		if hdr.Marked() {
			return Corruptionf("cell at %d is still marked outside of a collection", addr)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return h.Cells(space, func(addr Addr, hdr Header) error {
		if !hdr.Used() {
			return nil
		}

		return h.PointerSlots(addr, hdr, func(slot Addr) error {
			target := Addr(h.ReadUint32(slot))
			if target == Nil {
				return nil
			}

			if !payloads.Has(target) {
				return Corruptionf("pointer slot at %d of cell %d refers to %d, which is not a live cell", slot, addr, target)
			}
			return nil
		})
	})
}

// SpaceValidator binds a Heap to one of its spaces so the pair can be passed to DebugValidate
type SpaceValidator struct {
	Heap  *Heap
	Space *Space
}

func (v SpaceValidator) Validate() error {
	return v.Heap.Validate(v.Space)
}
