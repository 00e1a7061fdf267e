package cellgc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/cellgc/collect"
	"github.com/vkngwrapper/cellgc/heap"
)

// Stats returns the totals of every collection this allocator has run, implicit or explicit
func (a *Allocator) Stats() collect.Stats {
	return a.stats
}

// Validate verifies every heap invariant over the active space: cells tile the space, headers
// carry valid tags and every pointer field or root refers to a live cell. It returns an error
// matching ErrHeapCorruption on failure.
func (a *Allocator) Validate() error {
	err := a.heap.Validate(a.strategy.Active())
	if err != nil {
		return err
	}

	return a.stack.ForEachPointer(func(slot *heap.Addr) error {
		_, ok := a.handles.Get(Handle(*slot))
		if !ok {
			return heap.Corruptionf("root %d does not refer to a live cell", *slot)
		}
		return nil
	})
}

// CalculateStatistics sums the cells of the active space
func (a *Allocator) CalculateStatistics(stats *heap.Statistics) error {
	var err error
	*stats, err = a.heap.Statistics(a.strategy.Active())
	return err
}

// DetailedStatistics sums the cells and free ranges of the active space
func (a *Allocator) DetailedStatistics() (heap.DetailedStatistics, error) {
	return a.heap.DetailedStatistics(a.strategy.Active())
}

// BuildStatsString produces a JSON description of the allocator: the strategy, the cumulative
// collection totals and the state of the active space. If detailed is true, every cell of the
// active space is listed as well.
func (a *Allocator) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()
	a.writeStats(&writer, detailed)
	return string(writer.Bytes())
}

func (a *Allocator) writeStats(writer *jwriter.Writer, detailed bool) {
	rootObj := writer.Object()
	defer rootObj.End()

	rootObj.Name("Strategy").String(a.strategy.Kind().String())
	rootObj.Name("Capacity").Int(a.heap.Capacity())
	rootObj.Name("Roots").Int(a.stack.Len())
	if a.corruption != nil {
		rootObj.Name("Corruption").String(a.corruption.Error())
	}

	collections := rootObj.Name("Collections").Object()
	collections.Name("Count").Int(a.stats.Collections)
	collections.Name("CellsRetained").Int(a.stats.CellsRetained)
	collections.Name("BytesRetained").Int(a.stats.BytesRetained)
	collections.Name("CellsReclaimed").Int(a.stats.CellsReclaimed)
	collections.Name("BytesReclaimed").Int(a.stats.BytesReclaimed)
	collections.Name("CellsMoved").Int(a.stats.CellsMoved)
	collections.Name("BytesMoved").Int(a.stats.BytesMoved)
	collections.End()

	stats, err := a.DetailedStatistics()
	if err != nil {
		rootObj.Name("Error").String(err.Error())
		return
	}

	total := rootObj.Name("Total").Object()
	total.Name("Cells").Int(stats.CellCount)
	total.Name("CellBytes").Int(stats.CellBytes)
	total.Name("FreeRanges").Int(stats.FreeRangeCount)
	total.Name("FreeBytes").Int(stats.FreeBytes)
	if stats.CellCount > 0 {
		total.Name("CellSizeMin").Int(stats.CellSizeMin)
		total.Name("CellSizeMax").Int(stats.CellSizeMax)
	}
	if stats.FreeRangeCount > 0 {
		total.Name("FreeRangeSizeMin").Int(stats.FreeRangeSizeMin)
		total.Name("FreeRangeSizeMax").Int(stats.FreeRangeSizeMax)
	}
	total.End()

	if detailed {
		active := rootObj.Name("ActiveSpace").Object()
		err = a.heap.SpaceJSON(a.strategy.Active(), active)
		active.End()
		if err != nil {
			rootObj.Name("Error").String(err.Error())
		}
	}
}
