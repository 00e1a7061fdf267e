package heap

import "encoding/binary"

// HeaderSize is the number of bytes prefixed to every cell's payload
const HeaderSize = 16

const (
	headerNextOffset    = 0
	headerForwardOffset = 4
	headerSizeOffset    = 8
	headerTypeOffset    = 12
	headerFlagsOffset   = 13
)

// Header is the decoded form of the metadata stored in front of every cell
type Header struct {
	// Next is the address of the following cell in the chain, or NoAddr for the last cell
	Next Addr
	// Forward is the cell's own address unless the cell has been relocated, in which
	// case it is the address of the copy
	Forward Addr
	// Size is the payload length in bytes
	Size int
	// Type describes how the payload is interpreted
	Type Type
	// Flags are the used and marked bits
	Flags Flags
}

// Used returns true if the cell holds mutator data
func (h Header) Used() bool {
	return h.Flags&FlagUsed != 0
}

// Marked returns true if the cell was reached during marking
func (h Header) Marked() bool {
	return h.Flags&FlagMarked != 0
}

// Span is the number of bytes occupied by the cell, header included
func (h Header) Span() int {
	return HeaderSize + h.Size
}

// CheckOffset verifies that offset addresses a whole element inside the payload
func (h Header) CheckOffset(offset int) error {
	if offset < 0 || offset >= h.Size {
		return boundsf("offset %d is outside of a %d byte %s cell", offset, h.Size, h.Type)
	}

	elemSize := h.Type.ElemSize()
	if offset%elemSize != 0 || offset+elemSize > h.Size {
		return boundsf("offset %d is not aligned to the %d byte elements of a %s cell", offset, elemSize, h.Type)
	}

	return nil
}

func encodeHeader(b []byte, hdr Header) {
	binary.LittleEndian.PutUint32(b[headerNextOffset:], uint32(hdr.Next))
	binary.LittleEndian.PutUint32(b[headerForwardOffset:], uint32(hdr.Forward))
	binary.LittleEndian.PutUint32(b[headerSizeOffset:], uint32(hdr.Size))
	b[headerTypeOffset] = byte(hdr.Type)
	b[headerFlagsOffset] = byte(hdr.Flags)
	b[headerFlagsOffset+1] = 0
	b[headerFlagsOffset+2] = 0
}

func decodeHeader(b []byte) Header {
	return Header{
		Next:    Addr(binary.LittleEndian.Uint32(b[headerNextOffset:])),
		Forward: Addr(binary.LittleEndian.Uint32(b[headerForwardOffset:])),
		Size:    int(binary.LittleEndian.Uint32(b[headerSizeOffset:])),
		Type:    Type(b[headerTypeOffset]),
		Flags:   Flags(b[headerFlagsOffset]),
	}
}
