package kernel

import (
	"fmt"

	"github.com/notargets/kernelgen/codegen"
	"github.com/notargets/kernelgen/splitter"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
)

// Lowered is a kernel after vectorization, ready to be emitted as a function. The
// merge engine rewrites Args (reconciled definitions, readonly flags, hoisted
// locals) before emission; Desc is left untouched.
type Lowered struct {
	Name        string
	Desc        *Descriptor
	Args        []types.Argument
	Temporaries []types.Argument
	Outer       []target.Loop // condition loop nest, outermost first
	Inner       []target.Loop // per-kernel loop nest
	// LoopSplit maps a split loop variable to its outer and inner index
	LoopSplit   map[string][2]string
	VectorWidth int
	LocalSize   int
	Preambles   []Preamble
	recombine   map[string]codegen.Gen
	guards      map[string]string
	splitter    *splitter.Splitter
}

// Specialize lowers a descriptor for a backend. With a vector width, the condition
// loop is split into j_outer/j_inner; with a vector depth, the inner loop is split
// instead. The inner index of a split is lane parallel, and the condition loop is
// group parallel whenever the backend supports it. Kernels that cannot be split
// automatically must bring a Specializer.
func Specialize(d *Descriptor, b target.Backend, s *splitter.Splitter) (l *Lowered, err error) {
	if err = d.Validate(); err != nil {
		return
	}
	var (
		opts = b.Options()
		vw   = s.VectorWidth()
	)
	l = &Lowered{
		Name:        d.Name,
		Desc:        d,
		Args:        append([]types.Argument{}, d.Args...),
		Temporaries: append([]types.Argument{}, d.Temporaries...),
		LoopSplit:   make(map[string][2]string),
		VectorWidth: vw,
		LocalSize:   1,
		Preambles:   append([]Preamble{}, d.Preambles...),
		recombine:   make(map[string]codegen.Gen),
		guards:      make(map[string]string),
		splitter:    s,
	}
	cond := target.Loop{Iname: ConditionVar, Lower: "0", Upper: types.BatchSymbol}
	if b.GroupParallel() {
		cond.Tag = target.GroupTag
	}
	l.Outer = []target.Loop{cond}
	if d.LoopVar != "" {
		inner := target.Loop{Iname: d.LoopVar, Lower: "0", Upper: d.Extent.String()}
		switch {
		case opts.Unroll > 1:
			inner.Tag, inner.Unroll = target.UnrollTag, opts.Unroll
		case opts.ILP:
			inner.Tag = target.ILPTag
		}
		l.Inner = []target.Loop{inner}
	}
	if vw == 0 {
		return
	}
	if !b.CanVectorize() {
		err = errors.Wrapf(types.ErrConfiguration, "language %s cannot be vectorized", b.Lang())
		return nil, err
	}
	if !d.CanVectorize {
		if d.Specializer == nil {
			err = errors.Wrapf(types.ErrConfiguration,
				"kernel %s cannot be vectorized automatically and has no specializer", d.Name)
			return nil, err
		}
		if err = d.Specializer(l, vw); err != nil {
			return nil, errors.Wrapf(err, "specializing kernel %s", d.Name)
		}
		l.LocalSize = l.gridLocalSize(opts.IsSIMD)
		return
	}
	lane := target.LaneTag
	if opts.IsSIMD {
		lane = target.VecTag
	}
	switch {
	case s.IsWide():
		exact := d.hasDivisibility(types.BatchSymbol, vw)
		l.Outer = l.SplitLoop(l.Outer, ConditionVar, vw, lane, types.BatchSymbol, exact)
	case s.IsDeep() && d.LoopVar != "":
		exact := !d.Extent.IsSymbolic() && d.Extent.Size%int64(vw) == 0 ||
			d.Extent.IsSymbolic() && d.hasDivisibility(d.Extent.String(), vw)
		l.Inner = l.SplitLoop(l.Inner, d.LoopVar, vw, lane, d.Extent.String(), exact)
	}
	l.LocalSize = l.gridLocalSize(opts.IsSIMD)
	return
}

// SplitLoop replaces the loop over iname by an outer loop over iname_outer and an
// inner loop of width w over iname_inner tagged tag. Inside the split the original
// index is recombined; unless the split is known to be exact, a guard skips the
// lanes past extent.
func (l *Lowered) SplitLoop(loops []target.Loop, iname string, w int, tag target.Tag,
	extent string, exact bool) (split []target.Loop) {
	var (
		outer = iname + "_outer"
		inner = iname + "_inner"
	)
	for _, lp := range loops {
		if lp.Iname != iname {
			split = append(split, lp)
			continue
		}
		upper := fmt.Sprintf("%s / %d", extent, w)
		if !exact {
			upper = fmt.Sprintf("(%s + %d) / %d", extent, w-1, w)
			l.guards[iname] = fmt.Sprintf("%s < %s", iname, extent)
		}
		outerTag := target.NoTag
		if lp.Tag == target.GroupTag {
			outerTag = target.GroupTag
		}
		split = append(split,
			target.Loop{Iname: outer, Lower: "0", Upper: upper, Tag: outerTag},
			target.Loop{Iname: inner, Lower: "0", Upper: fmt.Sprintf("%d", w), Tag: tag},
		)
		l.LoopSplit[iname] = [2]string{outer, inner}
		l.recombine[iname] = codegen.Decl{
			Type: codegen.Raw("int const"),
			What: codegen.Raw(iname),
			Init: codegen.Raw(fmt.Sprintf("%s * %d + %s", outer, w, inner)),
		}
	}
	return
}

// gridLocalSize is the work-group size of the vectorized kernel. The lane
// count never drops below the vector width, even when the loop being split is
// shorter than the width.
func (l *Lowered) gridLocalSize(simd bool) int {
	if l.VectorWidth == 0 || simd {
		return 1
	}
	local := l.VectorWidth
	if d := l.Desc; l.splitter.IsDeep() && d.LoopVar != "" && !d.Extent.IsSymbolic() &&
		d.Extent.Size < int64(local) {
		local = int(d.Extent.Size)
	}
	return fixVectorWidth(local, l.VectorWidth)
}

func fixVectorWidth(local, width int) int {
	if local < width {
		return width
	}
	return local
}
