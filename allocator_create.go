package cellgc

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/cellgc/collect"
	"github.com/vkngwrapper/cellgc/heap"
	"golang.org/x/exp/slog"
)

const (
	// DefaultCapacity is the heap capacity used when none is provided via CreateOptions
	DefaultCapacity int = 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Capacity is the size of the heap in bytes, headers included. The copying strategy only
	// ever allocates in half of it. Zero selects DefaultCapacity.
	Capacity int
	// Strategy selects the collection algorithm. Zero selects collect.KindCopying.
	Strategy collect.Kind
	// DisableImplicitCollect makes Allocate fail with ErrOutOfMemory as soon as the active
	// space is exhausted, rather than collecting and retrying. Collect can still be called
	// explicitly.
	DisableImplicitCollect bool
}

// New creates a new Allocator with its own heap
//
// logger - Receives debug records for allocations and collections, and error records for
// out of memory and corruption failures. It may be nil.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	capacity := options.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	kind := options.Strategy
	if kind == 0 {
		kind = collect.KindCopying
	}

	strategy, err := collect.New(kind, logger)
	if err != nil {
		return nil, err
	}

	allocator, err := NewWithStrategy(logger, capacity, strategy)
	if err != nil {
		return nil, err
	}

	allocator.implicitCollect = !options.DisableImplicitCollect
	return allocator, nil
}

// NewWithStrategy creates a new Allocator that collects with a caller-provided Strategy.
// strategy.Init is called with the new heap before NewWithStrategy returns.
func NewWithStrategy(logger *slog.Logger, capacity int, strategy collect.Strategy) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if strategy == nil {
		return nil, errors.New("cellgc.NewWithStrategy requires a collection strategy")
	}

	h, err := heap.New(capacity)
	if err != nil {
		return nil, err
	}

	err = strategy.Init(h)
	if err != nil {
		return nil, err
	}

	logger.Debug("Allocator::New",
		slog.Int("Capacity", capacity),
		slog.String("Strategy", strategy.Kind().String()))

	return &Allocator{
		logger:          logger,
		heap:            h,
		strategy:        strategy,
		handles:         swiss.NewMap[Handle, heap.Addr](42),
		implicitCollect: true,
	}, nil
}
