package heap

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Heap is a fixed-capacity byte arena divided into cells. Each cell is a Header followed
// by its payload. Cells are grouped into one or more Space regions, each with its own chain.
//
// Addresses passed to Heap methods must be cell boundaries (or payload addresses, where noted).
// Heap does not check this: the allocator and collectors are trusted to keep to it, and
// boundary checks happen once, when a handle crosses into the mutator interface.
type Heap struct {
	data []byte
}

// New allocates a heap of capacity bytes. The heap is never resized.
func New(capacity int) (*Heap, error) {
	if capacity < HeaderSize {
		return nil, errors.Wrapf(ErrInvalidRequest, "heap capacity %d cannot hold a single cell header", capacity)
	}
	if uint64(capacity) >= uint64(NoAddr) {
		return nil, errors.Wrapf(ErrInvalidRequest, "heap capacity %d is not addressable", capacity)
	}

	return &Heap{
		data: make([]byte, capacity),
	}, nil
}

// Capacity is the size of the heap in bytes
func (h *Heap) Capacity() int { return len(h.data) }

// Bytes exposes the raw arena. It should only be read, for dumps and diagnostics.
func (h *Heap) Bytes() []byte { return h.data }

// ReadHeader decodes the header of the cell at addr
func (h *Heap) ReadHeader(addr Addr) Header {
	return decodeHeader(h.data[addr : addr+HeaderSize])
}

// WriteHeader encodes hdr into the cell at addr
func (h *Heap) WriteHeader(addr Addr, hdr Header) {
	encodeHeader(h.data[addr:addr+HeaderSize], hdr)
}

// SetNext overwrites only the next link of the cell at addr
func (h *Heap) SetNext(addr Addr, next Addr) {
	binary.LittleEndian.PutUint32(h.data[addr+headerNextOffset:], uint32(next))
}

// SetForward overwrites only the forwarding address of the cell at addr
func (h *Heap) SetForward(addr Addr, forward Addr) {
	binary.LittleEndian.PutUint32(h.data[addr+headerForwardOffset:], uint32(forward))
}

// SetFlags overwrites only the flags of the cell at addr
func (h *Heap) SetFlags(addr Addr, flags Flags) {
	h.data[addr+headerFlagsOffset] = byte(flags)
}

// PayloadAddress returns the address of the first payload byte of the cell at addr
func PayloadAddress(addr Addr) Addr {
	return addr + HeaderSize
}

// CellAddress returns the address of the cell owning the payload at payload
func CellAddress(payload Addr) Addr {
	return payload - HeaderSize
}

// Payload returns the payload bytes of the cell at addr. The slice aliases the heap.
func (h *Heap) Payload(addr Addr) []byte {
	size := h.ReadHeader(addr).Size
	start := PayloadAddress(addr)
	return h.data[start : int(start)+size]
}

// ReadUint32 reads a little-endian word at addr
func (h *Heap) ReadUint32(addr Addr) uint32 {
	return binary.LittleEndian.Uint32(h.data[addr:])
}

// WriteUint32 writes a little-endian word at addr
func (h *Heap) WriteUint32(addr Addr, value uint32) {
	binary.LittleEndian.PutUint32(h.data[addr:], value)
}

// Move copies n bytes from src to dst. The ranges may overlap.
func (h *Heap) Move(dst, src Addr, n int) {
	copy(h.data[dst:int(dst)+n], h.data[src:int(src)+n])
}

// Zero clears n bytes starting at addr
func (h *Heap) Zero(addr Addr, n int) {
	clear(h.data[addr : int(addr)+n])
}

// LoadField reads the payload element at the byte offset of the cell whose payload starts at
// payload. The offset must already have been checked with Header.CheckOffset.
func (h *Heap) LoadField(payload Addr, offset int) uint32 {
	hdr := h.ReadHeader(CellAddress(payload))
	at := int(payload) + offset

	switch hdr.Type {
	case TypeByte:
		return uint32(h.data[at])
	case TypeChar:
		return uint32(binary.LittleEndian.Uint16(h.data[at:]))
	case TypePointer:
		return binary.LittleEndian.Uint32(h.data[at:])
	default:
		panic(fmt.Sprintf("unknown cell type %s at address %d", hdr.Type, CellAddress(payload)))
	}
}

// StoreField writes the payload element at the byte offset of the cell whose payload starts
// at payload, truncating value to the element width. The offset must already have been
// checked with Header.CheckOffset.
func (h *Heap) StoreField(payload Addr, offset int, value uint32) {
	hdr := h.ReadHeader(CellAddress(payload))
	at := int(payload) + offset

	switch hdr.Type {
	case TypeByte:
		h.data[at] = byte(value)
	case TypeChar:
		binary.LittleEndian.PutUint16(h.data[at:], uint16(value))
	case TypePointer:
		binary.LittleEndian.PutUint32(h.data[at:], value)
	default:
		panic(fmt.Sprintf("unknown cell type %s at address %d", hdr.Type, CellAddress(payload)))
	}
}

// PointerSlots calls fn with the address of every pointer slot in the cell at addr. Cells
// whose type is not scannable have no slots.
func (h *Heap) PointerSlots(addr Addr, hdr Header, fn func(slot Addr) error) error {
	if !hdr.Type.Scannable() {
		return nil
	}

	payload := PayloadAddress(addr)
	for offset := 0; offset+PointerSize <= hdr.Size; offset += PointerSize {
		err := fn(payload + Addr(offset))
		if err != nil {
			return err
		}
	}

	return nil
}
