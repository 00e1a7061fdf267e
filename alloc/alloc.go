package alloc

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/cellgc/heap"
)

// RequestKind identifies how an allocation request will be satisfied
type RequestKind uint32

const (
	// RequestReuse indicates that the request reuses a free cell found by the first-fit scan
	RequestReuse RequestKind = iota
	// RequestBump indicates that the request appends a fresh cell at the top of the space
	RequestBump
)

var requestKindMapping = map[RequestKind]string{
	RequestReuse: "Reuse",
	RequestBump:  "Bump",
}

func (k RequestKind) String() string {
	return requestKindMapping[k]
}

// Request is returned from CreateRequest and indicates where and how a cell will be placed.
// It can be passed to Commit to write the cell into the heap.
type Request struct {
	Kind RequestKind
	// Cell is the address of the cell that will be used: a free cell for RequestReuse, the top
	// of the space for RequestBump
	Cell heap.Addr
	// Size is the requested payload size in bytes
	Size int
	// Type is the requested type tag
	Type heap.Type
	// Available is the payload size of the reused free cell. When it exceeds Size by at least
	// a header, the remainder is split off as a new free cell; otherwise the cell keeps the
	// extra bytes as slack.
	Available int
}

// Split returns true if committing the request will split the remainder of the reused cell
// into a new free cell
func (r Request) Split() bool {
	return r.Kind == RequestReuse && r.Available-r.Size >= heap.HeaderSize
}

// CheckRequest verifies that a size and type tag can be allocated at all
func CheckRequest(size int, typ heap.Type) error {
	if !typ.Valid() {
		return errors.Wrapf(heap.ErrInvalidRequest, "unknown type tag %d", uint8(typ))
	}

	if size < 0 {
		return errors.Wrapf(heap.ErrInvalidRequest, "negative size %d", size)
	}

	if size%typ.ElemSize() != 0 {
		return errors.Wrapf(heap.ErrInvalidRequest, "size %d is not a whole number of %d byte %s elements", size, typ.ElemSize(), typ)
	}

	return nil
}

func fits(available, size int, typ heap.Type) bool {
	if available < size {
		return false
	}

	slack := available - size
	return slack >= heap.HeaderSize || slack%typ.ElemSize() == 0
}

// CreateRequest finds a place for a cell of the given payload size and type in space. Free
// cells are considered first, in address order, and the first one that is large enough wins.
// Runs of adjacent free cells are coalesced as the scan passes over them. If no free cell
// fits, the cell is placed at the top of the space. The boolean return is false if the space
// cannot hold the cell.
func CreateRequest(h *heap.Heap, space *heap.Space, size int, typ heap.Type) (bool, Request, error) {
	var req Request

	err := CheckRequest(size, typ)
	if err != nil {
		return false, req, err
	}

	for addr := space.First(); addr != heap.NoAddr; {
		hdr := h.ReadHeader(addr)

		if !hdr.Used() {
			hdr = h.Merge(space, addr)

			if fits(hdr.Size, size, typ) {
				req = Request{
					Kind:      RequestReuse,
					Cell:      addr,
					Size:      size,
					Type:      typ,
					Available: hdr.Size,
				}
				return true, req, nil
			}
		}

		addr = hdr.Next
	}

	if size > space.Remaining()-heap.HeaderSize {
		return false, req, nil
	}

	req = Request{
		Kind: RequestBump,
		Cell: space.Top(),
		Size: size,
		Type: typ,
	}
	return true, req, nil
}

// Commit writes the cell described by req into the heap and returns its payload address,
// which is the handle given to the mutator. The payload is zeroed.
func Commit(h *heap.Heap, space *heap.Space, req Request) heap.Addr {
	switch req.Kind {
	case RequestBump:
		if req.Cell != space.Top() {
			panic(fmt.Sprintf("bump request for cell %d is stale: the top of the space is now %d", req.Cell, space.Top()))
		}
		return heap.PayloadAddress(h.Append(space, req.Size, req.Type))

	case RequestReuse:
		hdr := h.ReadHeader(req.Cell)
		if hdr.Used() || hdr.Size != req.Available {
			panic(fmt.Sprintf("reuse request for cell %d is stale", req.Cell))
		}

		if req.Split() {
			h.Split(space, req.Cell, req.Size)
			hdr = h.ReadHeader(req.Cell)
		}

		hdr.Forward = req.Cell
		hdr.Type = req.Type
		hdr.Flags = heap.FlagUsed
		h.WriteHeader(req.Cell, hdr)
		h.Zero(heap.PayloadAddress(req.Cell), hdr.Size)

		return heap.PayloadAddress(req.Cell)

	default:
		panic(fmt.Sprintf("unknown allocation request kind: %s", req.Kind))
	}
}

// Release turns the used cell at addr into a free cell and merges it with any free cells that
// follow it. If that leaves only free cells at the end of the chain, they are dropped so that
// the bytes return to the top of the space.
func Release(h *heap.Heap, space *heap.Space, addr heap.Addr) {
	hdr := h.ReadHeader(addr)
	if !hdr.Used() {
		panic(fmt.Sprintf("attempted to release cell %d, which is already free", addr))
	}

	hdr.Flags = 0
	hdr.Type = heap.TypeByte
	hdr.Forward = addr
	h.WriteHeader(addr, hdr)
	h.Zero(heap.PayloadAddress(addr), hdr.Size)

	hdr = h.Merge(space, addr)
	if hdr.Next != heap.NoAddr {
		return
	}

	lastUsed := heap.NoAddr
	for cell := space.First(); cell != heap.NoAddr; {
		cellHdr := h.ReadHeader(cell)
		if cellHdr.Used() {
			lastUsed = cell
		}
		cell = cellHdr.Next
	}

	h.Truncate(space, lastUsed)
}
