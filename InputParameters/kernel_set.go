package InputParameters

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/notargets/kernelgen/kernel"
	"github.com/notargets/kernelgen/merge"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"gonum.org/v1/gonum/mat"
)

type ArgumentSpec struct {
	Name   string    `json:"name"`
	DType  string    `json:"dtype"`
	Shape  []string  `json:"shape"` // extents, or the batch symbol work_size
	Scope  string    `json:"scope"`
	Value  bool      `json:"value"`
	Atomic bool      `json:"atomic"`
	Values []float64 `json:"values"` // constant initializer, row major over Shape
}

type PreambleSpec struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

// SparsitySpec is a sparse pattern turned into an indirect lookup function
type SparsitySpec struct {
	Name     string   `json:"name"`
	Rows     int      `json:"rows"`
	Cols     int      `json:"cols"`
	Nonzeros [][2]int `json:"nonzeros"`
}

type KernelSpec struct {
	Name         string         `json:"name"`
	LoopVar      string         `json:"loop_var"`
	Extent       string         `json:"extent"`
	Pre          []string       `json:"pre"`
	Instructions []string       `json:"instructions"`
	Post         []string       `json:"post"`
	Args         []ArgumentSpec `json:"args"`
	Temporaries  []ArgumentSpec `json:"temporaries"`
	Assumptions  []string       `json:"assumptions"`
	CanVectorize bool           `json:"can_vectorize"`
	Preambles    []PreambleSpec `json:"preambles"`
	Protected    []string       `json:"protected"`
	Sparsity     []SparsitySpec `json:"sparsity"`
}

type BarrierSpec struct {
	First  string `json:"first"`
	Second string `json:"second"`
	Kind   string `json:"kind"`
}

type FakeCallSpec struct {
	Dummy       string `json:"dummy"`
	ReplaceIn   string `json:"replace_in"`
	ReplaceWith string `json:"replace_with"`
}

type GroupSpec struct {
	Name      string         `json:"name"`
	Kernels   []string       `json:"kernels"`
	DependsOn []string       `json:"depends_on"`
	Barriers  []BarrierSpec  `json:"barriers"`
	FakeCalls []FakeCallSpec `json:"fake_calls"`
}

// KernelSet is a tree of generator groups over named kernels
type KernelSet struct {
	Root    string       `json:"root"` // defaults to the last group
	Groups  []GroupSpec  `json:"groups"`
	Kernels []KernelSpec `json:"kernels"`
}

func (ks *KernelSet) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, ks); err != nil {
		return fmt.Errorf("kernel set: %w", err)
	}
	return nil
}

func ReadKernelSet(path string) (ks *KernelSet, err error) {
	ks = &KernelSet{}
	if err = readYAML(path, ks); err != nil {
		return nil, err
	}
	return
}

func parseDim(s string) types.Dim {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return types.Fixed(n)
	}
	return types.Symbolic(s)
}

func (as ArgumentSpec) Argument() (a types.Argument, err error) {
	var dt types.DataType
	if dt, err = types.ParseDataType(as.DType); err != nil {
		return a, fmt.Errorf("argument %s: %w: %w", as.Name, types.ErrConfiguration, err)
	}
	if as.Value {
		a = types.NewValue(as.Name, dt)
		return
	}
	a = types.Argument{Name: as.Name, DType: dt, Atomic: as.Atomic}
	if a.Scope, err = types.ParseScope(as.Scope); err != nil {
		return a, fmt.Errorf("argument %s: %w: %w", as.Name, types.ErrConfiguration, err)
	}
	for _, s := range as.Shape {
		a.Shape = append(a.Shape, parseDim(s))
	}
	if len(as.Values) == 0 {
		return
	}
	if len(a.Shape) == 0 {
		a.Shape = types.NewShape(len(as.Values))
	}
	static, perItem, _ := a.Shape.Elements()
	switch {
	case perItem != 0 || len(a.Shape) > 2:
		err = fmt.Errorf("constant %s: shape %s must be one or two fixed extents: %w",
			as.Name, a.Shape, types.ErrConfiguration)
	case static != int64(len(as.Values)):
		err = fmt.Errorf("constant %s: %d values for shape %s: %w",
			as.Name, len(as.Values), a.Shape, types.ErrConfiguration)
	case len(a.Shape) == 2:
		a.Init = mat.NewDense(int(a.Shape[0].Size), int(a.Shape[1].Size), as.Values)
	default:
		a.Init = mat.NewVecDense(len(as.Values), as.Values)
	}
	a.Scope, a.ReadOnly = types.Constant, true
	return
}

func (sp SparsitySpec) pattern() (m *mat.Dense, err error) {
	if sp.Rows < 1 || sp.Cols < 1 {
		return nil, fmt.Errorf("sparsity %s: empty %dx%d pattern: %w", sp.Name, sp.Rows, sp.Cols,
			types.ErrConfiguration)
	}
	m = mat.NewDense(sp.Rows, sp.Cols, nil)
	for _, nz := range sp.Nonzeros {
		if nz[0] < 0 || nz[0] >= sp.Rows || nz[1] < 0 || nz[1] >= sp.Cols {
			return nil, fmt.Errorf("sparsity %s: entry %v outside %dx%d: %w", sp.Name, nz, sp.Rows, sp.Cols,
				types.ErrConfiguration)
		}
		m.Set(nz[0], nz[1], 1)
	}
	return
}

// Descriptor builds the kernel; sparsity lookups follow the data order
func (ks KernelSpec) Descriptor(order types.Order) (d *kernel.Descriptor, err error) {
	d = &kernel.Descriptor{
		Name:         ks.Name,
		LoopVar:      ks.LoopVar,
		Pre:          ks.Pre,
		Instructions: ks.Instructions,
		Post:         ks.Post,
		Assumptions:  ks.Assumptions,
		CanVectorize: ks.CanVectorize,
		Protected:    ks.Protected,
	}
	if ks.Extent != "" {
		d.Extent = parseDim(ks.Extent)
	}
	for _, spec := range ks.Args {
		var a types.Argument
		if a, err = spec.Argument(); err != nil {
			return nil, fmt.Errorf("kernel %s: %w", ks.Name, err)
		}
		d.Args = append(d.Args, a)
	}
	for _, spec := range ks.Temporaries {
		var a types.Argument
		if a, err = spec.Argument(); err != nil {
			return nil, fmt.Errorf("kernel %s: %w", ks.Name, err)
		}
		d.Temporaries = append(d.Temporaries, a)
	}
	for _, p := range ks.Preambles {
		d.Preambles = append(d.Preambles, kernel.Preamble{Name: p.Name, Code: p.Code})
	}
	for _, sp := range ks.Sparsity {
		var (
			m  *mat.Dense
			lk *kernel.SparsityLookup
		)
		if m, err = sp.pattern(); err != nil {
			return nil, fmt.Errorf("kernel %s: %w", ks.Name, err)
		}
		if lk, err = kernel.NewSparsityLookup(sp.Name, m, order); err != nil {
			return nil, fmt.Errorf("kernel %s: %w", ks.Name, err)
		}
		lk.Attach(d)
	}
	return
}

// Build links the groups into a tree and returns its root. Every group and kernel
// name must resolve; a kernel listed by several groups is one descriptor.
func (ks *KernelSet) Build(order types.Order) (root *merge.Group, err error) {
	var (
		kernels = make(map[string]*kernel.Descriptor)
		groups  = make(map[string]*merge.Group)
	)
	for _, spec := range ks.Kernels {
		if _, ok := kernels[spec.Name]; ok {
			return nil, fmt.Errorf("kernel set: kernel %s defined twice: %w", spec.Name, types.ErrConfiguration)
		}
		if kernels[spec.Name], err = spec.Descriptor(order); err != nil {
			return nil, fmt.Errorf("kernel set: %w", err)
		}
	}
	for _, spec := range ks.Groups {
		if _, ok := groups[spec.Name]; ok {
			return nil, fmt.Errorf("kernel set: group %s defined twice: %w", spec.Name, types.ErrConfiguration)
		}
		g := &merge.Group{Name: spec.Name}
		for _, name := range spec.Kernels {
			d, ok := kernels[name]
			if !ok {
				return nil, fmt.Errorf("kernel set: group %s: unknown kernel %s: %w", spec.Name, name,
					types.ErrConfiguration)
			}
			g.Kernels = append(g.Kernels, d)
		}
		for _, b := range spec.Barriers {
			var kind target.BarrierKind
			if kind, err = target.ParseBarrierKind(b.Kind); err != nil {
				return nil, fmt.Errorf("kernel set: group %s: %w", spec.Name, err)
			}
			g.Barriers = append(g.Barriers, merge.Barrier{First: b.First, Second: b.Second, Kind: kind})
		}
		for _, fc := range spec.FakeCalls {
			g.FakeCalls = append(g.FakeCalls, merge.FakeCall{
				Dummy: fc.Dummy, ReplaceIn: fc.ReplaceIn, ReplaceWith: fc.ReplaceWith,
			})
		}
		groups[spec.Name] = g
	}
	for _, spec := range ks.Groups {
		for _, name := range spec.DependsOn {
			dep, ok := groups[name]
			if !ok {
				return nil, fmt.Errorf("kernel set: group %s depends on unknown group %s: %w", spec.Name, name,
					types.ErrConfiguration)
			}
			groups[spec.Name].DependsOn = append(groups[spec.Name].DependsOn, dep)
		}
	}
	rootName := ks.Root
	if rootName == "" && len(ks.Groups) > 0 {
		rootName = ks.Groups[len(ks.Groups)-1].Name
	}
	var ok bool
	if root, ok = groups[rootName]; !ok {
		return nil, fmt.Errorf("kernel set: no root group %q: %w", rootName, types.ErrConfiguration)
	}
	return
}

func (ks *KernelSet) Print(w io.Writer) {
	printField(w, "Root", "["+ks.Root+"]")
	for _, g := range ks.Groups {
		fmt.Fprintf(w, "Group[%s] = %v", g.Name, g.Kernels)
		if len(g.DependsOn) > 0 {
			fmt.Fprintf(w, " after %v", g.DependsOn)
		}
		fmt.Fprintln(w)
	}
	byName := make(map[string]KernelSpec)
	for _, k := range ks.Kernels {
		byName[k.Name] = k
	}
	for _, name := range sortedKeys(byName) {
		k := byName[name]
		fmt.Fprintf(w, "Kernel[%s] = %d instructions, %d args, %d temporaries\n",
			name, len(k.Pre)+len(k.Instructions)+len(k.Post), len(k.Args), len(k.Temporaries))
	}
}
