/*
Package driver generates the host program that evaluates a problem of any size
by running the merged wrapper over consecutive batches that fit in memory.
*/
package driver

import (
	"math"

	"github.com/notargets/kernelgen/memory"
	"github.com/notargets/kernelgen/merge"
	"github.com/notargets/kernelgen/types"
	"github.com/notargets/kernelgen/utils"
	"github.com/notargets/kernelgen/workbuffer"
	"github.com/pkg/errors"
)

// MaxItemsPerBatch is the largest number of conditions every memory category
// holds, rounded down to a multiple of the vector width so no batch splits a
// vector.
func MaxItemsPerBatch(budget *memory.Budget, vecWidth int) (n int64, err error) {
	var (
		w   = int64(max(vecWidth, 1))
		fit = int64(math.MaxInt64)
	)
	for _, c := range memory.Categories {
		fit = min(fit, budget.CanFit(c))
	}
	if n = fit / w * w; n < 1 {
		err = errors.Wrapf(types.ErrMemoryInfeasible,
			"memory holds %d conditions, less than one vector of %d", fit, w)
		n = 0
	}
	return
}

// BatchSize is the number of conditions per wrapper call, published as
// MAX_PER_RUN. A pinned work size is used as is when it fits; otherwise the
// memory bound applies, capped so every working buffer is indexable by a C int.
func BatchSize(out *merge.Output) (n int64, err error) {
	var (
		opts = out.Backend.Options()
		w    = int64(max(opts.VectorWidth(), 1))
	)
	if n, err = MaxItemsPerBatch(out.Budget, opts.VectorWidth()); err != nil {
		return
	}
	n = min(n, IndexLimit(out.Packing)/w*w)
	if n < 1 {
		err = errors.Wrapf(types.ErrMemoryInfeasible, "one vector of %d conditions overflows an int index", w)
		return
	}
	if opts.WorkSize > 0 {
		pinned := int64(opts.WorkSize)
		switch {
		case pinned%w != 0:
			err = errors.Wrapf(types.ErrConfiguration, "work size %d is not a multiple of the vector width %d",
				pinned, w)
		case pinned > n:
			err = errors.Wrapf(types.ErrMemoryInfeasible, "work size %d exceeds the %d conditions that fit",
				pinned, n)
		}
		n = pinned
	}
	return
}

// IndexLimit is the largest batch whose working buffers all have at most
// INT_MAX elements, the range of the int offsets and indices the kernels use.
func IndexLimit(p *workbuffer.Packing) (n int64) {
	n = math.MaxInt32
	for _, b := range p.Buffers {
		if b.Size.PerItem > 0 {
			n = min(n, (math.MaxInt32-b.Size.Static)/b.Size.PerItem)
		}
	}
	return
}

// Plan is the batch walk the generated driver performs for a problem size
func (d *Driver) Plan(problemSize int) (*utils.BatchMap, error) {
	return utils.NewBatchMap(int(d.BatchSize), problemSize)
}
