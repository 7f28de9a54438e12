package merge

import (
	"fmt"
	"strings"

	"github.com/notargets/kernelgen/codegen"
	"github.com/notargets/kernelgen/kernel"
	"github.com/notargets/kernelgen/memory"
	"github.com/notargets/kernelgen/splitter"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"github.com/notargets/kernelgen/workbuffer"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

type Initializer struct {
	Name string
	Text string
}

// Result is the merge of one group
type Result struct {
	Group        string
	Statements   []string         // wrapper body, in order
	Preambles    []string         // owned helper code, deduplicated by text
	Kernels      []string         // owned sub-kernel definitions
	Args         []types.Argument // wrapper arguments in call order
	Initializers []Initializer
	Wrapper      string
}

type File struct {
	Name string
	Data []byte
}

type Output struct {
	Root          string
	Backend       target.Backend
	Splitter      *splitter.Splitter
	Arguments     []types.Argument // reconciled arguments of the whole tree
	Results       []*Result // dependencies first, root last
	Files         []File
	Owners        map[string]string
	Packing       *workbuffer.Packing
	Budget        *memory.Budget
	HostConstants []types.Argument
	Hoisted       []types.Argument
	Kernels       []*kernel.Descriptor
	LocalSize     int
}

func (o *Output) Result() *Result {
	return o.Results[len(o.Results)-1]
}

func (o *Output) File(name string) (f File, ok bool) {
	return lo.Find(o.Files, func(f File) bool { return f.Name == name })
}

// Reads reports whether some kernel of the tree reads the argument
func (o *Output) Reads(name string) bool {
	return lo.ContainsBy(o.Kernels, func(d *kernel.Descriptor) bool { return d.ReadsFrom(name) })
}

// Header is the name of the root's companion header
func (o *Output) Header() string {
	return o.Root + ".h"
}

// emitState holds the dedup caches of one traversal
type emitState struct {
	initializers map[string]bool
	preambles    map[string]bool
	fakeCalls    []FakeCall
	applied      []bool
}

func (e *Engine) emit(rec *record) (out *Output, err error) {
	out = &Output{
		Root:          rec.root.Name,
		Backend:       e.backend,
		Splitter:      e.splitter,
		Arguments:     rec.args,
		Owners:        make(map[string]string),
		Packing:       rec.packing,
		Budget:        rec.budget,
		HostConstants: rec.hosts,
		Hoisted:       rec.hoisted,
		Kernels:       rec.kernels,
		LocalSize:     1,
	}
	for name, g := range rec.owner {
		out.Owners[name] = g.Name
	}
	for _, l := range rec.lowered {
		out.LocalSize = max(out.LocalSize, l.LocalSize)
	}
	st := &emitState{
		initializers: make(map[string]bool),
		preambles:    make(map[string]bool),
	}
	for _, g := range rec.order {
		st.fakeCalls = append(st.fakeCalls, g.FakeCalls...)
	}
	st.applied = make([]bool, len(st.fakeCalls))
	for _, g := range rec.order {
		var res *Result
		if res, err = e.emitGroup(rec, g, st); err != nil {
			return nil, errors.Wrapf(err, "group %s", g.Name)
		}
		out.Results = append(out.Results, res)
		out.Files = append(out.Files, File{Name: g.Name + e.backend.SourceExt(), Data: e.source(rec, g, res)})
	}
	for i, fc := range st.fakeCalls {
		if !st.applied[i] {
			return nil, errors.Wrapf(types.ErrInternal, "placeholder %q: no kernel or group named %s",
				fc.Dummy, fc.ReplaceIn)
		}
	}
	return
}

func (st *emitState) replace(owner, src string) (out string, err error) {
	out = src
	for i, fc := range st.fakeCalls {
		if fc.ReplaceIn != owner {
			continue
		}
		if out, err = fc.Apply(out); err != nil {
			return
		}
		st.applied[i] = true
	}
	return
}

func (e *Engine) emitGroup(rec *record, g *Group, st *emitState) (res *Result, err error) {
	var (
		b     = e.backend
		owned = lo.Filter(g.Kernels, func(d *kernel.Descriptor, _ int) bool { return rec.owner[d.Name] == g })
	)
	res = &Result{Group: g.Name}
	// shared constants are emitted by the first group reached from the leaves
	for _, d := range owned {
		for _, c := range rec.lowered[d.Name].Constants() {
			if st.initializers[c.Name] {
				continue
			}
			st.initializers[c.Name] = true
			res.Initializers = append(res.Initializers,
				Initializer{Name: c.Name, Text: codegen.RenderString(kernel.Initializer(b, c))})
		}
	}
	for _, d := range owned {
		for _, p := range rec.lowered[d.Name].Preambles {
			if st.preambles[p.Code] {
				continue
			}
			st.preambles[p.Code] = true
			res.Preambles = append(res.Preambles, p.Code)
		}
	}
	for _, d := range owned {
		var (
			f   codegen.FuncDef
			src string
		)
		if f, err = rec.lowered[d.Name].Function(b); err != nil {
			return
		}
		if src, err = st.replace(d.Name, codegen.RenderString(f)); err != nil {
			return
		}
		res.Kernels = append(res.Kernels, src)
	}
	var body codegen.Stmts
	if body, res.Args, err = e.wrapper(rec, g); err != nil {
		return
	}
	for _, s := range body {
		res.Statements = append(res.Statements, strings.TrimSpace(codegen.RenderString(codegen.Stmts{s})))
	}
	wrapper := codegen.FuncDef{
		Qualifier:  b.KernelQualifier(),
		ReturnType: codegen.Raw("void"),
		Name:       g.Name,
		Params:     lo.Map(res.Args, func(a types.Argument, _ int) codegen.Gen { return b.ParamDecl(a) }),
		Body:       body,
	}
	res.Wrapper, err = st.replace(g.Name, codegen.RenderString(wrapper))
	return
}

// wrapper builds the call sequence of a group: pointer unpacks, hoisted local
// declarations, then one call per kernel of its tree with the declared barriers
// after the first kernel of each pair. The arguments are the working buffers in
// use, then host constants, then values.
func (e *Engine) wrapper(rec *record, g *Group) (body codegen.Stmts, args []types.Argument, err error) {
	var (
		b     = e.backend
		calls = callOrder(g)
		used  []string
	)
	for _, name := range calls {
		used = append(used, lo.Map(rec.lowered[name].Args, func(a types.Argument, _ int) string { return a.Name })...)
	}
	used = lo.Uniq(used)
	isUsed := func(a types.Argument, _ int) bool { return lo.Contains(used, a.Name) }

	for _, buf := range rec.packing.Uses(used) {
		args = append(args, types.Argument{Name: buf.Name, DType: buf.DType, Scope: buf.Scope})
	}
	args = append(args, lo.Filter(rec.hosts, isUsed)...)
	args = append(args, lo.Filter(rec.args, func(a types.Argument, i int) bool { return a.IsValue && isUsed(a, i) })...)

	body = append(body, rec.packing.UnpacksOf(b, used)...)
	for _, h := range lo.Filter(rec.hoisted, isUsed) {
		static, _, _ := h.Shape.Elements()
		body = append(body, b.LocalDecl(h.Name, h.DType, fmt.Sprintf("%d", static)))
	}

	after := make(map[string][]target.BarrierKind)
	sub, _ := walk(g)
	for _, grp := range sub {
		for _, bar := range grp.Barriers {
			var (
				first  = lo.IndexOf(calls, bar.First)
				second = lo.IndexOf(calls, bar.Second)
			)
			if first < 0 || second < 0 || first >= second {
				err = errors.Wrapf(types.ErrConfiguration,
					"group %s: barrier between %s and %s does not separate two calls", grp.Name, bar.First, bar.Second)
				return
			}
			if !lo.Contains(after[bar.First], bar.Kind) {
				after[bar.First] = append(after[bar.First], bar.Kind)
			}
		}
	}
	for _, name := range calls {
		body = append(body, rec.lowered[name].Call())
		for _, kind := range after[name] {
			if stmt, ok := b.Barrier(kind); ok {
				body = append(body, stmt)
			}
		}
	}
	return
}

// source lays out one group's file. Dependencies are included textually so
// the root compiles as a single unit.
func (e *Engine) source(rec *record, g *Group, res *Result) []byte {
	var (
		b     = e.backend
		parts []string
		guard = strings.ToUpper(g.Name) + "_" + strings.ToUpper(strings.TrimPrefix(b.SourceExt(), "."))
	)
	add := func(gen codegen.Gen) {
		if gen != nil {
			if s := codegen.RenderString(gen); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if g == rec.root {
		add(b.Preamble())
		add(b.KernelIncludes(g.Name + ".h"))
		add(b.WorkSizePreamble())
	} else {
		add(codegen.Gens{
			codegen.Directive{Head: "ifndef", Tail: codegen.Raw(guard)},
			codegen.Define(guard, nil),
		})
	}
	var includes codegen.Gens
	for _, dep := range g.DependsOn {
		includes = append(includes, codegen.Include(dep.Name+b.SourceExt()))
	}
	if len(includes) > 0 {
		add(includes)
	}
	for _, in := range res.Initializers {
		parts = append(parts, in.Text)
	}
	parts = append(parts, res.Preambles...)
	parts = append(parts, res.Kernels...)
	parts = append(parts, res.Wrapper)
	if g != rec.root {
		add(codegen.Directive{Head: "endif"})
	}
	parts = lo.Map(parts, func(p string, _ int) string { return strings.TrimRight(p, "\n") })
	return []byte(strings.Join(parts, "\n\n") + "\n")
}
