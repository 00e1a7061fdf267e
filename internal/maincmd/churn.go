package maincmd

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cockroachdb/errors"
	"github.com/mna/mainer"
	"github.com/vkngwrapper/cellgc"
	"github.com/vkngwrapper/cellgc/heap"
)

const (
	defaultChurnCells  = 1000
	defaultChurnWindow = 4
	maxChurnElements   = 8
)

var churnTypes = []heap.Type{heap.TypeByte, heap.TypeChar, heap.TypePointer}

func (c *Cmd) Churn(ctx context.Context, stdio mainer.Stdio, args []string) error {
	cfg, err := c.settings()
	if err != nil {
		return printError(stdio, err)
	}

	allocator, err := c.newAllocator(stdio, cfg)
	if err != nil {
		return printError(stdio, err)
	}

	cells, window, seed := c.Cells, c.Window, int64(c.Seed)
	if !c.flags["n"] && !c.flags["cells"] {
		cells = defaultChurnCells
	}
	if !c.flags["window"] {
		window = defaultChurnWindow
	}
	if !c.flags["seed"] {
		seed = 1
	}

	err = RunChurn(ctx, allocator, cells, window, seed)
	if err != nil {
		return printError(stdio, err)
	}

	fmt.Fprintln(stdio.Stdout, allocator.BuildStatsString(false))
	return nil
}

// RunChurn allocates count cells of random type and size. A single rooted pointer cell with
// window slots keeps the most recent cells alive, so every older cell becomes garbage as soon
// as its slot is reused.
func RunChurn(ctx context.Context, allocator *cellgc.Allocator, count, window int, seed int64) error {
	if count < 0 || window <= 0 {
		return errors.Newf("churn: invalid cell count %d or window %d", count, window)
	}

	slots, err := allocator.Allocate(window*heap.PointerSize, heap.TypePointer)
	if err != nil {
		return err
	}
	if err := allocator.PushRoot(slots, heap.TypePointer); err != nil {
		return err
	}

	random := rand.New(rand.NewSource(seed))
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		typ := churnTypes[random.Intn(len(churnTypes))]
		size := random.Intn(maxChurnElements+1) * typ.ElemSize()

		cell, err := allocator.Allocate(size, typ)
		if err != nil {
			return err
		}

		// the slot cell may have moved during the allocation
		slots, _, err = allocator.Root(0)
		if err != nil {
			return err
		}

		if err := allocator.WritePointer(slots, i%window, cell); err != nil {
			return err
		}
	}

	return allocator.Validate()
}
