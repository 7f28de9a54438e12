package merge

import (
	"strings"

	"github.com/notargets/kernelgen/kernel"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Barrier synchronizes between the calls of two kernels of a group
type Barrier struct {
	First, Second string
	Kind          target.BarrierKind
}

// FakeCall stands in for a call that cannot be written until the real callee
// exists. The emitted source of ReplaceIn (a kernel or a group) must contain Dummy
// verbatim; it is replaced by ReplaceWith after emission.
type FakeCall struct {
	Dummy       string
	ReplaceIn   string
	ReplaceWith string
}

func (fc FakeCall) Apply(src string) (out string, err error) {
	if !strings.Contains(src, fc.Dummy) {
		err = errors.Wrapf(types.ErrInternal, "placeholder %q not found in %s", fc.Dummy, fc.ReplaceIn)
		return
	}
	out = strings.ReplaceAll(src, fc.Dummy, fc.ReplaceWith)
	return
}

// Group is one generator: a set of kernels merged into a wrapper of the same name,
// and the groups whose kernels it needs. A kernel listed by several groups is
// emitted once, by the first of them reached walking dependencies first.
type Group struct {
	Name      string
	Kernels   []*kernel.Descriptor
	DependsOn []*Group
	Barriers  []Barrier
	FakeCalls []FakeCall
}

// walk returns the groups below and including root, dependencies first
func walk(root *Group) (order []*Group, err error) {
	var (
		done   = make(map[*Group]bool)
		onPath = make(map[*Group]bool)
		names  = make(map[string]*Group)
		visit  func(g *Group) error
	)
	visit = func(g *Group) error {
		if done[g] {
			return nil
		}
		if onPath[g] {
			return errors.Wrapf(types.ErrConfiguration, "group %s depends on itself", g.Name)
		}
		if other, ok := names[g.Name]; ok && other != g {
			return errors.Wrapf(types.ErrConfiguration, "two groups are named %s", g.Name)
		}
		names[g.Name] = g
		onPath[g] = true
		for _, dep := range g.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		onPath[g] = false
		done[g] = true
		order = append(order, g)
		return nil
	}
	err = visit(root)
	return
}

// owners maps every kernel name to the group emitting its definition: the first
// group declaring it in dependency order. The kernels are returned in that order.
func owners(order []*Group) (own map[string]*Group, kernels []*kernel.Descriptor, err error) {
	own = make(map[string]*Group)
	seen := make(map[string]*kernel.Descriptor)
	for _, g := range order {
		for _, d := range g.Kernels {
			if prev, ok := seen[d.Name]; ok {
				if prev != d {
					err = errors.Wrapf(types.ErrConfiguration,
						"kernel %s is defined differently in groups %s and %s", d.Name, own[d.Name].Name, g.Name)
					return
				}
				continue
			}
			seen[d.Name] = d
			own[d.Name] = g
			kernels = append(kernels, d)
		}
	}
	return
}

// callOrder lists the kernels a group's wrapper calls: its dependencies' first
func callOrder(g *Group) (names []string) {
	order, _ := walk(g)
	for _, sub := range order {
		for _, d := range sub.Kernels {
			names = append(names, d.Name)
		}
	}
	return lo.Uniq(names)
}
