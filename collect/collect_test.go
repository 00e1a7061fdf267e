package collect_test

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/cellgc/alloc"
	"github.com/vkngwrapper/cellgc/collect"
	"github.com/vkngwrapper/cellgc/heap"
	"github.com/vkngwrapper/cellgc/roots"
	"golang.org/x/exp/slog"
)

type fixture struct {
	h        *heap.Heap
	strategy collect.Strategy
	stack    roots.Stack
}

func newFixture(t *testing.T, kind collect.Kind, capacity int) *fixture {
	h, err := heap.New(capacity)
	require.NoError(t, err)

	strategy, err := collect.New(kind, nil)
	require.NoError(t, err)
	require.NoError(t, strategy.Init(h))

	return &fixture{h: h, strategy: strategy}
}

func (f *fixture) allocate(t *testing.T, size int, typ heap.Type) heap.Addr {
	success, req, err := alloc.CreateRequest(f.h, f.strategy.Active(), size, typ)
	require.NoError(t, err)
	require.True(t, success)

	return alloc.Commit(f.h, f.strategy.Active(), req)
}

func (f *fixture) collect(t *testing.T) collect.Stats {
	stats, err := f.strategy.Collect(f.h, &f.stack)
	require.NoError(t, err)
	require.NoError(t, f.h.Validate(f.strategy.Active()))
	require.Equal(t, collect.PhaseIdle, f.strategy.Phase())
	return stats
}

func (f *fixture) root(t *testing.T, depth int) heap.Addr {
	root, err := f.stack.Peek(depth)
	require.NoError(t, err)
	return root.Value
}

func forEachKind(t *testing.T, test func(t *testing.T, kind collect.Kind)) {
	for _, kind := range []collect.Kind{collect.KindCopying, collect.KindMarkCompact} {
		t.Run(kind.String(), func(t *testing.T) {
			test(t, kind)
		})
	}
}

func TestCopyingReclaimsUnrootedCell(t *testing.T) {
	f := newFixture(t, collect.KindCopying, 100)

	a := f.allocate(t, 2, heap.TypeChar)
	f.h.StoreField(a, 0, 'A')
	b := f.allocate(t, 2, heap.TypeChar)
	f.h.StoreField(b, 0, 'B')
	f.stack.Push(b, heap.TypePointer)

	stats := f.collect(t)
	require.Equal(t, collect.Stats{
		Collections:    1,
		CellsRetained:  1,
		BytesRetained:  18,
		CellsReclaimed: 1,
		BytesReclaimed: 18,
		CellsMoved:     1,
		BytesMoved:     18,
	}, stats)

	moved := f.root(t, 0)
	require.Equal(t, heap.Addr(50+heap.HeaderSize), moved)
	require.True(t, f.strategy.Active().Contains(moved))
	require.Equal(t, uint32('B'), f.h.LoadField(moved, 0))
	require.Equal(t, heap.Addr(68), f.strategy.Active().Top())
}

func TestMarkCompactReclaimsUnrootedCell(t *testing.T) {
	f := newFixture(t, collect.KindMarkCompact, 100)

	a := f.allocate(t, 2, heap.TypeChar)
	f.h.StoreField(a, 0, 'A')
	b := f.allocate(t, 2, heap.TypeChar)
	f.h.StoreField(b, 0, 'B')
	f.stack.Push(b, heap.TypePointer)

	stats := f.collect(t)
	require.Equal(t, collect.Stats{
		Collections:    1,
		CellsRetained:  1,
		BytesRetained:  18,
		CellsReclaimed: 1,
		BytesReclaimed: 18,
		CellsMoved:     1,
		BytesMoved:     18,
	}, stats)

	moved := f.root(t, 0)
	require.Equal(t, heap.Addr(heap.HeaderSize), moved)
	require.Equal(t, uint32('B'), f.h.LoadField(moved, 0))
	require.Equal(t, heap.Addr(18), f.strategy.Active().Top())
}

func TestReclaimedSpaceIsAllocatable(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind collect.Kind) {
		// Each space holds exactly two 2 byte char cells
		capacity := 36
		if kind == collect.KindCopying {
			capacity = 72
		}
		f := newFixture(t, kind, capacity)

		f.allocate(t, 2, heap.TypeChar)
		b := f.allocate(t, 2, heap.TypeChar)
		f.h.StoreField(b, 0, 'B')
		f.stack.Push(b, heap.TypePointer)

		success, _, err := alloc.CreateRequest(f.h, f.strategy.Active(), 2, heap.TypeChar)
		require.NoError(t, err)
		require.False(t, success)

		f.collect(t)

		c := f.allocate(t, 2, heap.TypeChar)
		require.Equal(t, uint32(0), f.h.LoadField(c, 0))
		require.Equal(t, uint32('B'), f.h.LoadField(f.root(t, 0), 0))
		require.Equal(t, 0, f.strategy.Active().Remaining())
	})
}

// buildGraph lays out a cyclic structure with garbage interleaved:
//
//	list -> [node, text]
//	node -> [list, nil]
//	text = "hi"
func buildGraph(t *testing.T, f *fixture) {
	f.allocate(t, 8, heap.TypeByte)
	list := f.allocate(t, 8, heap.TypePointer)
	f.allocate(t, 4, heap.TypePointer)
	node := f.allocate(t, 8, heap.TypePointer)
	text := f.allocate(t, 4, heap.TypeChar)
	f.allocate(t, 12, heap.TypeByte)

	f.h.StoreField(list, 0, uint32(node))
	f.h.StoreField(list, 4, uint32(text))
	f.h.StoreField(node, 0, uint32(list))
	f.h.StoreField(text, 0, 'h')
	f.h.StoreField(text, 2, 'i')

	f.stack.Push(42, heap.TypeByte)
	f.stack.Push(list, heap.TypePointer)
}

func checkGraph(t *testing.T, f *fixture) {
	list := f.root(t, 0)
	require.Equal(t, heap.TypePointer, f.h.ReadHeader(heap.CellAddress(list)).Type)

	node := heap.Addr(f.h.LoadField(list, 0))
	text := heap.Addr(f.h.LoadField(list, 4))

	require.Equal(t, uint32(list), f.h.LoadField(node, 0))
	require.Equal(t, uint32(heap.Nil), f.h.LoadField(node, 4))
	require.Equal(t, uint32('h'), f.h.LoadField(text, 0))
	require.Equal(t, uint32('i'), f.h.LoadField(text, 2))

	scalar, err := f.stack.Peek(1)
	require.NoError(t, err)
	require.Equal(t, roots.Root{Value: 42, Type: heap.TypeByte}, scalar)
}

func TestCollectPreservesReachableGraph(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind collect.Kind) {
		f := newFixture(t, kind, 400)
		buildGraph(t, f)

		stats := f.collect(t)
		require.Equal(t, 3, stats.CellsRetained)
		require.Equal(t, 3, stats.CellsReclaimed)
		require.Equal(t, 3*heap.HeaderSize+8+8+4, stats.BytesRetained)

		checkGraph(t, f)
	})
}

func TestRepeatedCollectionChangesNothing(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind collect.Kind) {
		f := newFixture(t, kind, 400)
		buildGraph(t, f)

		f.collect(t)
		checkGraph(t, f)
		first := f.stack.Snapshot()

		stats := f.collect(t)
		require.Equal(t, 0, stats.CellsReclaimed)
		require.Equal(t, 0, stats.BytesReclaimed)
		require.Equal(t, 3, stats.CellsRetained)
		checkGraph(t, f)

		if kind == collect.KindMarkCompact {
			require.Equal(t, 0, stats.CellsMoved)
			require.Equal(t, first, f.stack.Snapshot())
		}
	})
}

func TestMarkCompactIsStableAndGapFree(t *testing.T) {
	f := newFixture(t, collect.KindMarkCompact, 400)

	var kept []byte
	for i := 0; i < 8; i++ {
		cell := f.allocate(t, 1+i, heap.TypeByte)
		f.h.StoreField(cell, 0, uint32('a'+i))
		if i%3 != 1 {
			f.stack.Push(cell, heap.TypePointer)
			kept = append(kept, byte('a'+i))
		}
	}

	f.collect(t)

	space := f.strategy.Active()
	var order []byte
	expected := space.Start()
	err := f.h.Cells(space, func(addr heap.Addr, hdr heap.Header) error {
		require.Equal(t, expected, addr)
		require.True(t, hdr.Used())
		expected = addr + heap.Addr(hdr.Span())
		order = append(order, f.h.Payload(addr)[0])
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, kept, order)
	require.Equal(t, expected, space.Top())
}

func TestCopyingSwapsSpaces(t *testing.T) {
	f := newFixture(t, collect.KindCopying, 200)

	first := f.strategy.Active()
	f.allocate(t, 30, heap.TypeByte)
	kept := f.allocate(t, 10, heap.TypeByte)
	f.stack.Push(kept, heap.TypePointer)

	f.collect(t)

	second := f.strategy.Active()
	require.NotSame(t, first, second)
	require.True(t, first.Empty())
	require.True(t, second.Contains(f.root(t, 0)))

	f.stack.Reset()
	f.collect(t)
	require.Same(t, first, f.strategy.Active())
	require.True(t, f.strategy.Active().Empty())

	// the whole space is reusable by a single cell
	f.allocate(t, 100-heap.HeaderSize, heap.TypeByte)
	require.Equal(t, 0, f.strategy.Active().Remaining())
}

func TestScalarRootsAreNotTraced(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind collect.Kind) {
		f := newFixture(t, kind, 200)

		target := f.allocate(t, 4, heap.TypeByte)
		holder := f.allocate(t, 4, heap.TypeByte)
		// an address stored in a byte cell is just data
		f.h.StoreField(holder, 0, uint32(target)&0xff)

		f.stack.Push(target, heap.TypeChar)

		stats := f.collect(t)
		require.Equal(t, 0, stats.CellsRetained)
		require.Equal(t, 2, stats.CellsReclaimed)
		require.True(t, f.strategy.Active().Empty())

		root := f.root(t, 0)
		require.Equal(t, target, root)
	})
}

func TestCorruptPointerIsReported(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind collect.Kind) {
		f := newFixture(t, kind, 200)

		cell := f.allocate(t, 4, heap.TypePointer)
		f.h.StoreField(cell, 0, uint32(cell)+1)
		f.stack.Push(cell, heap.TypePointer)

		_, err := f.strategy.Collect(f.h, &f.stack)
		require.Error(t, err)
		require.True(t, errors.Is(err, heap.ErrHeapCorruption))
		require.Equal(t, collect.PhaseIdle, f.strategy.Phase())
	})
}

func TestBrokenChainIsLogged(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind collect.Kind) {
		var logs bytes.Buffer
		logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelError}))

		h, err := heap.New(200)
		require.NoError(t, err)
		strategy, err := collect.New(kind, logger)
		require.NoError(t, err)
		require.NoError(t, strategy.Init(h))
		f := &fixture{h: h, strategy: strategy}

		cell := heap.CellAddress(f.allocate(t, 4, heap.TypeByte))
		hdr := h.ReadHeader(cell)
		hdr.Size = 1000
		h.WriteHeader(cell, hdr)

		_, err = strategy.Collect(h, &f.stack)
		require.True(t, errors.Is(err, heap.ErrHeapCorruption))
		require.Contains(t, logs.String(), "level=ERROR")
		require.Contains(t, logs.String(), "collection aborted")
		require.Equal(t, collect.PhaseIdle, strategy.Phase())
	})
}

func TestFreeCellsAreReclaimed(t *testing.T) {
	forEachKind(t, func(t *testing.T, kind collect.Kind) {
		f := newFixture(t, kind, 400)

		a := f.allocate(t, 20, heap.TypeByte)
		b := f.allocate(t, 4, heap.TypeByte)
		f.allocate(t, 4, heap.TypeByte)
		alloc.Release(f.h, f.strategy.Active(), heap.CellAddress(a))
		f.stack.Push(b, heap.TypePointer)

		stats := f.collect(t)
		require.Equal(t, 1, stats.CellsRetained)
		require.Equal(t, 1, stats.CellsReclaimed)
		require.Equal(t, 36+20, stats.BytesReclaimed)
	})
}

func TestParseKind(t *testing.T) {
	kind, err := collect.ParseKind("mark-and-compact")
	require.NoError(t, err)
	require.Equal(t, collect.KindMarkCompact, kind)

	var parsed collect.Kind
	require.NoError(t, parsed.UnmarshalText([]byte("copying")))
	require.Equal(t, collect.KindCopying, parsed)

	_, err = collect.ParseKind("generational")
	require.Error(t, err)

	_, err = collect.New(collect.Kind(9), nil)
	require.Error(t, err)
}
