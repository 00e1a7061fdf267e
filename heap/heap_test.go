package heap_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/cellgc/heap"
)

func newHeap(t *testing.T, capacity int) (*heap.Heap, *heap.Space) {
	h, err := heap.New(capacity)
	require.NoError(t, err)

	return h, heap.NewSpace(0, heap.Addr(capacity))
}

func TestHeaderRoundTrip(t *testing.T) {
	h, _ := newHeap(t, 64)

	h.WriteHeader(16, heap.Header{
		Next:    48,
		Forward: 16,
		Size:    12,
		Type:    heap.TypePointer,
		Flags:   heap.FlagUsed | heap.FlagMarked,
	})

	hdr := h.ReadHeader(16)
	require.Equal(t, heap.Addr(48), hdr.Next)
	require.Equal(t, heap.Addr(16), hdr.Forward)
	require.Equal(t, 12, hdr.Size)
	require.Equal(t, heap.TypePointer, hdr.Type)
	require.True(t, hdr.Used())
	require.True(t, hdr.Marked())
	require.Equal(t, 28, hdr.Span())

	h.SetFlags(16, heap.FlagUsed)
	h.SetForward(16, 32)
	h.SetNext(16, heap.NoAddr)
	hdr = h.ReadHeader(16)
	require.False(t, hdr.Marked())
	require.Equal(t, heap.Addr(32), hdr.Forward)
	require.Equal(t, heap.NoAddr, hdr.Next)
}

func TestNewRejectsTinyCapacity(t *testing.T) {
	_, err := heap.New(heap.HeaderSize - 1)
	require.True(t, errors.Is(err, heap.ErrInvalidRequest))
}

func TestAppendTilesSpace(t *testing.T) {
	h, space := newHeap(t, 100)

	require.True(t, space.Empty())
	require.Equal(t, heap.NoAddr, space.First())

	a := h.Append(space, 2, heap.TypeChar)
	b := h.Append(space, 4, heap.TypePointer)
	c := h.Append(space, 3, heap.TypeByte)

	require.Equal(t, heap.Addr(0), a)
	require.Equal(t, heap.Addr(18), b)
	require.Equal(t, heap.Addr(38), c)
	require.Equal(t, heap.Addr(57), space.Top())
	require.Equal(t, c, space.Last())
	require.Equal(t, 43, space.Remaining())

	var visited []heap.Addr
	err := h.Cells(space, func(addr heap.Addr, hdr heap.Header) error {
		visited = append(visited, addr)
		require.Equal(t, addr, hdr.Forward)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []heap.Addr{a, b, c}, visited)
	require.Equal(t, heap.NoAddr, h.ReadHeader(c).Next)
	require.NoError(t, h.Validate(space))
}

func TestTruncate(t *testing.T) {
	h, space := newHeap(t, 100)

	a := h.Append(space, 2, heap.TypeChar)
	h.Append(space, 4, heap.TypeByte)

	h.Truncate(space, a)
	require.Equal(t, a, space.Last())
	require.Equal(t, heap.Addr(18), space.Top())
	require.NoError(t, h.Validate(space))

	h.Truncate(space, heap.NoAddr)
	require.True(t, space.Empty())
	require.Equal(t, heap.Addr(0), space.Top())
	require.NoError(t, h.Validate(space))
}

func TestSplitAndMerge(t *testing.T) {
	h, space := newHeap(t, 200)

	a := h.Append(space, 40, heap.TypeByte)
	b := h.Append(space, 4, heap.TypeByte)

	rest := h.Split(space, a, 8)
	require.Equal(t, heap.Addr(24), rest)
	require.Equal(t, 8, h.ReadHeader(a).Size)
	require.Equal(t, 16, h.ReadHeader(rest).Size)
	require.False(t, h.ReadHeader(rest).Used())
	require.Equal(t, b, h.ReadHeader(rest).Next)
	require.NoError(t, h.Validate(space))

	// free b so that rest and b form a run ending the chain
	h.SetFlags(b, 0)
	hdr := h.Merge(space, rest)
	require.Equal(t, 16+heap.HeaderSize+4, hdr.Size)
	require.Equal(t, heap.NoAddr, hdr.Next)
	require.Equal(t, rest, space.Last())
	require.Equal(t, space.Top(), rest+heap.Addr(hdr.Span()))
	require.NoError(t, h.Validate(space))
}

func TestFieldAccess(t *testing.T) {
	h, space := newHeap(t, 100)

	chars := heap.PayloadAddress(h.Append(space, 4, heap.TypeChar))
	h.StoreField(chars, 2, 'Z')
	require.Equal(t, uint32('Z'), h.LoadField(chars, 2))
	require.Equal(t, uint32(0), h.LoadField(chars, 0))

	hdr := h.ReadHeader(heap.CellAddress(chars))
	require.NoError(t, hdr.CheckOffset(2))
	require.True(t, errors.Is(hdr.CheckOffset(1), heap.ErrBoundsViolation))
	require.True(t, errors.Is(hdr.CheckOffset(4), heap.ErrBoundsViolation))
	require.True(t, errors.Is(hdr.CheckOffset(-1), heap.ErrBoundsViolation))

	ptrs := heap.PayloadAddress(h.Append(space, 8, heap.TypePointer))
	h.StoreField(ptrs, 4, uint32(chars))
	require.Equal(t, uint32(chars), h.LoadField(ptrs, 4))

	var slots []heap.Addr
	err := h.PointerSlots(heap.CellAddress(ptrs), h.ReadHeader(heap.CellAddress(ptrs)), func(slot heap.Addr) error {
		slots = append(slots, slot)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []heap.Addr{ptrs, ptrs + 4}, slots)
	require.NoError(t, h.Validate(space))
}

func TestValidateDetectsDanglingPointer(t *testing.T) {
	h, space := newHeap(t, 100)

	ptrs := heap.PayloadAddress(h.Append(space, 4, heap.TypePointer))
	h.StoreField(ptrs, 0, 7)

	err := h.Validate(space)
	require.Error(t, err)
	require.True(t, errors.Is(err, heap.ErrHeapCorruption))
}

func TestValidateDetectsBrokenChain(t *testing.T) {
	h, space := newHeap(t, 100)

	a := h.Append(space, 4, heap.TypeByte)
	h.Append(space, 4, heap.TypeByte)
	h.SetNext(a, 60)

	err := h.Validate(space)
	require.True(t, errors.Is(err, heap.ErrHeapCorruption))
}

func TestDetailedStatistics(t *testing.T) {
	h, space := newHeap(t, 100)

	stats, err := h.DetailedStatistics(space)
	require.NoError(t, err)
	require.Equal(t, heap.DetailedStatistics{
		Statistics:       heap.Statistics{SpaceBytes: 100},
		FreeRangeCount:   1,
		FreeBytes:        100,
		FreeRangeSizeMin: 100,
		FreeRangeSizeMax: 100,
	}, stats)

	h.Append(space, 2, heap.TypeChar)
	h.Append(space, 8, heap.TypeByte)

	stats, err = h.DetailedStatistics(space)
	require.NoError(t, err)
	require.Equal(t, heap.DetailedStatistics{
		Statistics: heap.Statistics{
			SpaceBytes: 100,
			CellCount:  2,
			CellBytes:  42,
		},
		FreeRangeCount:   1,
		FreeBytes:        58,
		CellSizeMin:      18,
		CellSizeMax:      24,
		FreeRangeSizeMin: 58,
		FreeRangeSizeMax: 58,
	}, stats)
}

func TestStatisticsJoinFreeRuns(t *testing.T) {
	h, space := newHeap(t, 100)

	a := h.Append(space, 4, heap.TypeByte)
	b := h.Append(space, 4, heap.TypeByte)
	h.Append(space, 8, heap.TypeByte)
	d := h.Append(space, 2, heap.TypeChar)
	h.SetFlags(a, 0)
	h.SetFlags(b, 0)
	h.SetFlags(d, 0)

	// a and b form one range, d joins the unclaimed bytes after Top
	stats, err := h.DetailedStatistics(space)
	require.NoError(t, err)
	require.Equal(t, heap.DetailedStatistics{
		Statistics: heap.Statistics{
			SpaceBytes: 100,
			CellCount:  1,
			CellBytes:  24,
		},
		FreeRangeCount:   2,
		FreeBytes:        76,
		CellSizeMin:      24,
		CellSizeMax:      24,
		FreeRangeSizeMin: 36,
		FreeRangeSizeMax: 40,
	}, stats)

	totals, err := h.Statistics(space)
	require.NoError(t, err)
	require.Equal(t, stats.Statistics, totals)
}

func TestSpaceJSON(t *testing.T) {
	h, space := newHeap(t, 64)
	h.Append(space, 2, heap.TypeChar)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	require.NoError(t, h.SpaceJSON(space, obj))
	obj.End()
	require.NoError(t, writer.Error())

	require.JSONEq(t, `{
		"Start": 0, "End": 64, "Top": 18, "TotalBytes": 64, "UnusedBytes": 46,
		"Cells": 1, "UnusedRanges": 1,
		"Chain": [{"Offset": 0, "Size": 2, "Used": true, "Type": "char"}]
	}`, string(writer.Bytes()))
}

func TestTypeTags(t *testing.T) {
	require.Equal(t, "byte", heap.TypeByte.String())
	require.Equal(t, "pointer", heap.TypePointer.String())
	require.Equal(t, "Type(9)", heap.Type(9).String())
	require.False(t, heap.Type(0).Valid())
	require.True(t, heap.TypePointer.Scannable())
	require.False(t, heap.TypeChar.Scannable())
	require.Equal(t, 2, heap.TypeChar.ElemSize())
	require.Equal(t, "FlagUsed|FlagMarked", (heap.FlagUsed | heap.FlagMarked).String())
}
