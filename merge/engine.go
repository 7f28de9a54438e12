/*
Package merge stitches groups of kernels into wrapper kernels. Generation runs a
fixed sequence of stages over one record: argument resolution, read-only
marking, temporary deduplication, specialization, local hoisting, memory
accounting with packing, and emission.
*/
package merge

import (
	"fmt"

	"github.com/notargets/kernelgen/kernel"
	"github.com/notargets/kernelgen/memory"
	"github.com/notargets/kernelgen/splitter"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"github.com/notargets/kernelgen/workbuffer"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type Engine struct {
	backend  target.Backend
	splitter *splitter.Splitter
	limits   memory.Limits
}

// New resolves the backend for the target options. Limits override the backend
// defaults category by category; nil keeps the defaults.
func New(opts target.Options, limits *memory.Limits) (e *Engine, err error) {
	var b target.Backend
	if b, err = target.New(opts); err != nil {
		return
	}
	o := b.Options()
	e = &Engine{backend: b}
	if e.splitter, err = splitter.New(o.Width, o.Depth, o.Order); err != nil {
		return nil, err
	}
	e.limits = memory.Limits{Bytes: make(map[memory.Category]int64)}
	for c, v := range b.DefaultLimits().Bytes {
		e.limits.Bytes[c] = v
	}
	if limits != nil {
		for c, v := range limits.Bytes {
			e.limits.Bytes[c] = v
		}
		e.limits.LimitIntOverflow = limits.LimitIntOverflow
	}
	return
}

func (e *Engine) Backend() target.Backend { return e.backend }
func (e *Engine) Limits() memory.Limits    { return e.limits }

// record is the state threaded through the stages of one Generate call
type record struct {
	root      *Group
	order     []*Group
	owner     map[string]*Group
	kernels   []*kernel.Descriptor
	args      []types.Argument // reconciled, in first use order
	temps     []types.Argument
	lowered   map[string]*kernel.Lowered
	hoisted   []types.Argument
	protected []string
	hosts     []types.Argument
	budget    *memory.Budget
	packing   *workbuffer.Packing
}

func (r *record) arg(name string) (types.Argument, bool) {
	return lo.Find(r.args, func(a types.Argument) bool { return a.Name == name })
}

// Generate merges the group tree below root. Nothing is written; the returned
// Output holds every file.
func (e *Engine) Generate(root *Group) (out *Output, err error) {
	rec := &record{root: root, lowered: make(map[string]*kernel.Lowered)}
	if rec.order, err = walk(root); err != nil {
		return
	}
	if rec.owner, rec.kernels, err = owners(rec.order); err != nil {
		return
	}
	if len(rec.kernels) == 0 {
		err = errors.Wrapf(types.ErrConfiguration, "group %s has no kernels", root.Name)
		return
	}
	for _, stage := range []func(*record) error{
		e.resolveArguments,
		e.markReadOnly,
		e.deduplicateTemporaries,
		e.specialize,
		e.hoistLocals,
		e.packMemory,
	} {
		if err = stage(rec); err != nil {
			return
		}
	}
	return e.emit(rec)
}

// resolveArguments reduces every argument name to one definition
func (e *Engine) resolveArguments(rec *record) (err error) {
	var (
		names  []string
		defs   = make(map[string][]types.Argument)
		owners = make(map[string][]string)
	)
	for _, d := range rec.kernels {
		for _, a := range d.Args {
			names = append(names, a.Name)
			defs[a.Name] = append(defs[a.Name], a)
			owners[a.Name] = append(owners[a.Name], d.Name)
		}
	}
	for _, name := range lo.Uniq(names) {
		var a types.Argument
		if a, err = types.Reconcile(defs[name], owners[name]); err != nil {
			return
		}
		switch {
		case a.IsValue:
		case a.Scope == types.Constant:
			return errors.Wrapf(types.ErrConfiguration,
				"argument %s: constant data must be a temporary with initializer values", name)
		case a.Scope == types.Private:
			return errors.Wrapf(types.ErrConfiguration, "argument %s: private arrays must be temporaries", name)
		case a.Scope == types.Local && a.Shape.Symbol() != "":
			// local memory belongs to one work-group, it cannot hold a slot per condition
			return errors.Wrapf(types.ErrConfiguration, "argument %s: local arrays cannot scale with %s",
				name, a.Shape.Symbol())
		}
		rec.args = append(rec.args, a)
	}
	return
}

// markReadOnly flags every argument no kernel of the tree writes
func (e *Engine) markReadOnly(rec *record) (err error) {
	for i, a := range rec.args {
		if a.IsValue {
			continue
		}
		rec.args[i].ReadOnly = !lo.ContainsBy(rec.kernels, func(d *kernel.Descriptor) bool {
			return d.WritesTo(a.Name)
		})
	}
	return
}

func (e *Engine) deduplicateTemporaries(rec *record) (err error) {
	var (
		first  = make(map[string]types.Argument)
		owners = make(map[string]string)
	)
	for _, d := range rec.kernels {
		for _, t := range d.Temporaries {
			if _, ok := rec.arg(t.Name); ok {
				return errors.Wrapf(types.ErrArgumentConflict,
					"%s is a temporary of kernel %s and an argument elsewhere", t.Name, d.Name)
			}
			prev, ok := first[t.Name]
			if !ok {
				if _, perItem, _ := t.Shape.Elements(); perItem != 0 {
					return errors.Wrapf(types.ErrConfiguration,
						"temporary %s of kernel %s scales with %s", t.Name, d.Name, types.BatchSymbol)
				}
				first[t.Name], owners[t.Name] = t, d.Name
				rec.temps = append(rec.temps, t)
				continue
			}
			if !prev.Equal(t) {
				return errors.Wrapf(types.ErrArgumentConflict,
					"temporary %s differs between kernels %s and %s", t.Name, owners[t.Name], d.Name)
			}
		}
		rec.protected = append(rec.protected, d.Protected...)
	}
	rec.protected = lo.Uniq(rec.protected)
	return
}

// specialize lowers every kernel and points it at the reconciled arguments
func (e *Engine) specialize(rec *record) (err error) {
	for _, d := range rec.kernels {
		var l *kernel.Lowered
		if l, err = kernel.Specialize(d, e.backend, e.splitter); err != nil {
			return
		}
		for i, a := range l.Args {
			l.Args[i], _ = rec.arg(a.Name)
		}
		rec.lowered[d.Name] = l
	}
	return
}

// hoistLocals turns local temporaries into parameters on targets where a function
// cannot declare local memory. The wrapper declares them once and passes them
// down.
func (e *Engine) hoistLocals(rec *record) (err error) {
	if !e.backend.HoistLocals() {
		return
	}
	isLocal := func(t types.Argument, _ int) bool {
		return t.Scope == types.Local && t.Init == nil && !t.IsValue
	}
	for _, d := range rec.kernels {
		l := rec.lowered[d.Name]
		locals := lo.Filter(l.Temporaries, isLocal)
		l.Temporaries = lo.Reject(l.Temporaries, isLocal)
		l.Args = append(l.Args, locals...)
		for _, t := range locals {
			if !lo.ContainsBy(rec.hoisted, func(h types.Argument) bool { return h.Name == t.Name }) {
				rec.hoisted = append(rec.hoisted, t)
			}
		}
	}
	return
}

// packMemory accounts every array of the tree against the limits, migrates
// constants that do not fit to host constants, and packs the remaining arguments
// into working buffers. It runs once, for the root: dependencies share its layout.
func (e *Engine) packMemory(rec *record) (err error) {
	cats := make(map[memory.Category][]types.Argument)
	for _, a := range rec.args {
		if a.IsValue {
			continue
		}
		c := memory.CategoryOf(a)
		cats[c] = append(cats[c], a)
	}
	cats[memory.Local] = append(cats[memory.Local], rec.hoisted...)
	for _, t := range rec.temps {
		if t.Init != nil {
			cats[memory.Constant] = append(cats[memory.Constant], t)
		}
	}
	if rec.budget, err = memory.ComputeLimits(e.limits, cats); err != nil {
		return
	}
	if rec.hosts, err = rec.budget.MigrateConstants(rec.protected); err != nil {
		return errors.Wrapf(err, "group %s", rec.root.Name)
	}
	if !rec.budget.Feasible() {
		return errors.Wrapf(types.ErrMemoryInfeasible, "group %s does not fit:\n%s", rec.root.Name, rec.budget)
	}
	for _, d := range rec.kernels {
		l := rec.lowered[d.Name]
		for _, h := range rec.hosts {
			if lo.ContainsBy(l.Temporaries, func(t types.Argument) bool { return t.Name == h.Name }) {
				l.Temporaries = lo.Reject(l.Temporaries, func(t types.Argument, _ int) bool { return t.Name == h.Name })
				l.Args = append(l.Args, h)
			}
		}
	}
	arrays := lo.Reject(rec.args, func(a types.Argument, _ int) bool { return a.IsValue })
	if rec.packing, err = workbuffer.Pack(arrays, types.BatchSymbol, e.splitter.VectorWidth()); err != nil {
		return errors.Wrapf(err, "group %s", rec.root.Name)
	}
	return
}

func (e *Engine) String() string {
	o := e.backend.Options()
	return fmt.Sprintf("%s width=%d depth=%d order=%s", o.Lang, o.Width, o.Depth, o.Order)
}
