package collect

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/cellgc/heap"
	"github.com/vkngwrapper/cellgc/roots"
	"golang.org/x/exp/slog"
)

// Kind identifies a collection strategy. It is chosen once, when the allocator is created.
type Kind uint32

const (
	// KindCopying selects the two-space copying collector
	KindCopying Kind = iota + 1
	// KindMarkCompact selects the single-space mark-and-compact collector
	KindMarkCompact
)

var kindMapping = map[Kind]string{
	KindCopying:     "copying",
	KindMarkCompact: "mark-and-compact",
}

func (k Kind) String() string {
	str, ok := kindMapping[k]
	if !ok {
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
	return str
}

// ParseKind returns the Kind whose String matches str
func ParseKind(str string) (Kind, error) {
	for kind, name := range kindMapping {
		if name == str {
			return kind, nil
		}
	}

	return 0, errors.Newf("unknown collection strategy %q", str)
}

// UnmarshalText allows a Kind to be read from configuration
func (k *Kind) UnmarshalText(text []byte) error {
	kind, err := ParseKind(string(text))
	if err != nil {
		return err
	}

	*k = kind
	return nil
}

// MarshalText writes a Kind in the form accepted by UnmarshalText
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Phase is the step of a collection currently in progress
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseTracing
	PhaseMarking
	PhaseComputingForwarding
	PhaseRelocating
	PhaseUpdatingReferences
)

var phaseMapping = map[Phase]string{
	PhaseIdle:                "Idle",
	PhaseTracing:             "Tracing",
	PhaseMarking:             "Marking",
	PhaseComputingForwarding: "ComputingForwarding",
	PhaseRelocating:          "Relocating",
	PhaseUpdatingReferences:  "UpdatingReferences",
}

func (p Phase) String() string {
	return phaseMapping[p]
}

// Stats contains basic metrics for one or more collections. Byte counts include cell headers.
type Stats struct {
	// Collections is the number of completed collections
	Collections int
	// CellsRetained is the number of live cells found
	CellsRetained int
	// BytesRetained is the number of bytes held by live cells
	BytesRetained int
	// CellsReclaimed is the number of used cells found to be unreachable
	CellsReclaimed int
	// BytesReclaimed is the number of bytes returned to the allocator: unreachable cells and
	// free cells alike
	BytesReclaimed int
	// CellsMoved is the number of live cells whose address changed
	CellsMoved int
	// BytesMoved is the number of bytes copied while relocating live cells
	BytesMoved int
}

func (s *Stats) Add(stats Stats) {
	s.Collections += stats.Collections
	s.CellsRetained += stats.CellsRetained
	s.BytesRetained += stats.BytesRetained
	s.CellsReclaimed += stats.CellsReclaimed
	s.BytesReclaimed += stats.BytesReclaimed
	s.CellsMoved += stats.CellsMoved
	s.BytesMoved += stats.BytesMoved
}

//go:generate mockgen -destination mocks/strategy.go -package mock_collect github.com/vkngwrapper/cellgc/collect Strategy

// Strategy is a stop-the-world collection algorithm. It owns the division of the heap into
// spaces, and reports which space the allocator should currently place cells in.
type Strategy interface {
	// Kind identifies the algorithm
	Kind() Kind
	// Init must be called once before the Strategy is used. It lays out the strategy's spaces
	// over the heap.
	Init(h *heap.Heap) error
	// Active returns the space new cells are allocated in. It may change after Collect.
	Active() *heap.Space
	// Phase returns the step of the collection in progress, or PhaseIdle
	Phase() Phase
	// Collect reclaims every cell of the active space that cannot be reached from the pointer
	// entries of stack, redirecting stack entries and pointer slots to the surviving cells'
	// new addresses. An error means the heap was found to be corrupt and cannot be used again.
	Collect(h *heap.Heap, stack *roots.Stack) (Stats, error)
}

// New creates the Strategy identified by kind
func New(kind Kind, logger *slog.Logger) (Strategy, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	switch kind {
	case KindCopying:
		return NewCopying(logger), nil
	case KindMarkCompact:
		return NewMarkCompact(logger), nil
	default:
		return nil, errors.Newf("unknown collection strategy: %s", kind)
	}
}

// IndexCells maps the payload address of every used cell in space to the cell's address.
// Tracing uses it to reject pointers that do not land on the start of a live payload.
func IndexCells(h *heap.Heap, space *heap.Space) (*swiss.Map[heap.Addr, heap.Addr], error) {
	index := swiss.NewMap[heap.Addr, heap.Addr](42)

	err := h.Cells(space, func(addr heap.Addr, hdr heap.Header) error {
		if hdr.Used() {
			index.Put(heap.PayloadAddress(addr), addr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return index, nil
}

func resolve(index *swiss.Map[heap.Addr, heap.Addr], target heap.Addr) (heap.Addr, error) {
	cell, ok := index.Get(target)
	if !ok {
		return heap.NoAddr, heap.Corruptionf("pointer %d does not refer to a live cell", target)
	}
	return cell, nil
}
