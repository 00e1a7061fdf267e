package maincmd

import (
	"context"
	"fmt"

	"github.com/mna/mainer"
	"github.com/vkngwrapper/cellgc"
	"github.com/vkngwrapper/cellgc/collect"
	"github.com/vkngwrapper/cellgc/heap"
)

func (c *Cmd) Demo(ctx context.Context, stdio mainer.Stdio, args []string) error {
	cfg, err := c.settings()
	if err != nil {
		return printError(stdio, err)
	}

	allocator, err := c.newAllocator(stdio, cfg)
	if err != nil {
		return printError(stdio, err)
	}

	return printError(stdio, RunDemo(ctx, stdio, allocator))
}

// RunDemo allocates two char cells, roots only the second one and collects, printing each
// step. The first cell's storage is then allocated again.
func RunDemo(ctx context.Context, stdio mainer.Stdio, allocator *cellgc.Allocator) error {
	fmt.Fprintf(stdio.Stdout, "strategy %s\n", allocator.Strategy().Kind())

	a, err := allocator.Allocate(2, heap.TypeChar)
	if err != nil {
		return err
	}
	if err := allocator.WriteField(a, 0, 'A'); err != nil {
		return err
	}
	fmt.Fprintf(stdio.Stdout, "A = %d\n", a)

	b, err := allocator.Allocate(2, heap.TypeChar)
	if err != nil {
		return err
	}
	if err := allocator.WriteField(b, 0, 'B'); err != nil {
		return err
	}
	fmt.Fprintf(stdio.Stdout, "B = %d\n", b)

	if err := allocator.PushRoot(b, heap.TypePointer); err != nil {
		return err
	}
	fmt.Fprintln(stdio.Stdout, "push B")

	if err := ctx.Err(); err != nil {
		return err
	}

	stats, err := allocator.Collect()
	if err != nil {
		return err
	}
	printCollection(stdio, stats)

	b, _, err = allocator.Root(0)
	if err != nil {
		return err
	}
	value, err := allocator.ReadField(b, 0)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdio.Stdout, "B = %d, B[0] = %q\n", b, rune(value))

	c, err := allocator.Allocate(2, heap.TypeChar)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdio.Stdout, "C = %d\n", c)

	return allocator.Validate()
}

func printCollection(stdio mainer.Stdio, stats collect.Stats) {
	fmt.Fprintf(stdio.Stdout, "collect: %d retained (%d bytes), %d reclaimed (%d bytes), %d moved (%d bytes)\n",
		stats.CellsRetained, stats.BytesRetained,
		stats.CellsReclaimed, stats.BytesReclaimed,
		stats.CellsMoved, stats.BytesMoved)
}
