package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// SpaceJSON populates a json object with the totals of space and a description of every cell
// in its chain
func (h *Heap) SpaceJSON(space *Space, json jwriter.ObjectState) error {
	stats, err := h.DetailedStatistics(space)
	if err != nil {
		return err
	}

	json.Name("Start").Int(int(space.Start()))
	json.Name("End").Int(int(space.End()))
	json.Name("Top").Int(int(space.Top()))
	json.Name("TotalBytes").Int(space.Capacity())
	json.Name("UnusedBytes").Int(stats.FreeBytes)
	json.Name("Cells").Int(stats.CellCount)
	json.Name("UnusedRanges").Int(stats.FreeRangeCount)

	arrayState := json.Name("Chain").Array()
	defer arrayState.End()

	return h.Cells(space, func(addr Addr, hdr Header) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(addr))
		obj.Name("Size").Int(hdr.Size)
		obj.Name("Used").Bool(hdr.Used())
		if hdr.Used() {
			obj.Name("Type").String(hdr.Type.String())
		}
		if hdr.Forward != addr {
			obj.Name("Forward").Int(int(hdr.Forward))
		}
		return nil
	})
}
