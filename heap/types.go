package heap

import (
	"fmt"
	"math"
)

// Addr is a byte offset into a Heap
type Addr uint32

const (
	// NoAddr terminates a cell chain. It is never the address of a cell.
	NoAddr Addr = math.MaxUint32
	// Nil is the null value of a pointer slot or pointer root. Payload addresses always
	// follow a header, so no live handle is ever Nil.
	Nil Addr = 0
)

// Type is the tag stored in each cell header, describing how the payload is interpreted
// and whether the collector scans it
type Type uint8

const (
	TypeByte Type = iota + 1
	TypeChar
	TypePointer
)

// PointerSize is the width in bytes of a pointer slot
const PointerSize = 4

var typeMapping = map[Type]string{
	TypeByte:    "byte",
	TypeChar:    "char",
	TypePointer: "pointer",
}

func (t Type) String() string {
	str, ok := typeMapping[t]
	if !ok {
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
	return str
}

// Valid returns true if t is one of the recognized tags
func (t Type) Valid() bool {
	_, ok := typeMapping[t]
	return ok
}

// ElemSize is the width in bytes of a single payload element of this type
func (t Type) ElemSize() int {
	switch t {
	case TypeByte:
		return 1
	case TypeChar:
		return 2
	case TypePointer:
		return PointerSize
	default:
		panic(fmt.Sprintf("unknown cell type: %s", t))
	}
}

// Scannable returns true if the collector must trace through payloads of this type
func (t Type) Scannable() bool {
	switch t {
	case TypeByte, TypeChar:
		return false
	case TypePointer:
		return true
	default:
		panic(fmt.Sprintf("unknown cell type: %s", t))
	}
}

// Flags hold the allocator and collector bookkeeping bits of a cell
type Flags uint8

const (
	// FlagUsed is set on cells holding mutator data. Cells without it are free.
	FlagUsed Flags = 1 << iota
	// FlagMarked is set on reachable cells during the marking phase of a mark-and-compact collection
	FlagMarked
)

var flagsMapping = map[Flags]string{
	FlagUsed:   "FlagUsed",
	FlagMarked: "FlagMarked",
}

func (f Flags) String() string {
	if f == 0 {
		return "None"
	}

	var str string
	for _, flag := range []Flags{FlagUsed, FlagMarked} {
		if f&flag == 0 {
			continue
		}
		if str != "" {
			str += "|"
		}
		str += flagsMapping[flag]
	}
	return str
}
