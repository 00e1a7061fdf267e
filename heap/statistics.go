package heap

// Statistics summarise the used cells of a space. Byte counts include cell headers.
type Statistics struct {
	SpaceBytes int
	CellCount  int
	CellBytes  int
}

// DetailedStatistics add the size distribution of cells and free ranges. A free range is a
// run of adjacent free cells, and the unclaimed bytes after a space's Top extend the last
// run. Min and max fields are zero when there is nothing to measure.
type DetailedStatistics struct {
	Statistics
	FreeRangeCount   int
	FreeBytes        int
	CellSizeMin      int
	CellSizeMax      int
	FreeRangeSizeMin int
	FreeRangeSizeMax int
}

// Statistics walks space and sums its used cells
func (h *Heap) Statistics(space *Space) (Statistics, error) {
	detailed, err := h.DetailedStatistics(space)
	return detailed.Statistics, err
}

// DetailedStatistics walks space and measures its cells and free ranges
func (h *Heap) DetailedStatistics(space *Space) (DetailedStatistics, error) {
	stats := DetailedStatistics{
		Statistics: Statistics{SpaceBytes: space.Capacity()},
	}

	freeRun := 0
	closeRun := func() {
		if freeRun == 0 {
			return
		}

		stats.FreeRangeCount++
		stats.FreeBytes += freeRun
		stats.FreeRangeSizeMin, stats.FreeRangeSizeMax = widen(stats.FreeRangeSizeMin, stats.FreeRangeSizeMax, stats.FreeRangeCount, freeRun)
		freeRun = 0
	}

	err := h.Cells(space, func(addr Addr, hdr Header) error {
		if !hdr.Used() {
			freeRun += hdr.Span()
			return nil
		}

		closeRun()
		stats.CellCount++
		stats.CellBytes += hdr.Span()
		stats.CellSizeMin, stats.CellSizeMax = widen(stats.CellSizeMin, stats.CellSizeMax, stats.CellCount, hdr.Span())
		return nil
	})
	if err != nil {
		return stats, err
	}

	freeRun += space.Remaining()
	closeRun()

	return stats, nil
}

// widen extends [lo, hi] to cover size, the nth size measured
func widen(lo, hi, n, size int) (int, int) {
	if n == 1 {
		return size, size
	}
	return min(lo, size), max(hi, size)
}
