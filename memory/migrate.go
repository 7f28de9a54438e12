package memory

import (
	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// MigrateConstants moves constant arrays to global scope, largest first, until the
// constant category fits. Ties go to the array listed first. Names in protected are
// never moved; they are read by inlined preamble code that has no pointer to them.
// The moved arrays are returned as host constants, in the order they were moved.
func (b *Budget) MigrateConstants(protected []string) (hostConstants []types.Argument, err error) {
	for b.CanFit(Constant) < 0 {
		var host types.Argument
		if host, err = b.migrateOne(protected); err != nil {
			return
		}
		hostConstants = append(hostConstants, host)
	}
	return
}

func (b *Budget) migrateOne(protected []string) (host types.Argument, err error) {
	candidates := lo.Reject(b.args[Constant], func(a types.Argument, _ int) bool {
		return lo.Contains(protected, a.Name)
	})
	if len(candidates) == 0 {
		err = errors.Wrapf(types.ErrMemoryInfeasible,
			"constant memory needs %s bytes of %d and no array is left to migrate",
			b.used[Constant], b.Limits.Bytes[Constant])
		return
	}
	largest := lo.MaxBy(candidates, func(a, cur types.Argument) bool {
		sa, _ := sizeOf(a)
		sc, _ := sizeOf(cur)
		return sa.Static > sc.Static
	})
	b.args[Constant] = lo.Reject(b.args[Constant], func(a types.Argument, _ int) bool {
		return a.Name == largest.Name
	})
	host = largest
	host.Scope = types.Global
	host.ReadOnly = true
	b.args[Global] = append(b.args[Global], host)
	err = b.recompute()
	return
}
