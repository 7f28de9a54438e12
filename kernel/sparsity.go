package kernel

import (
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/notargets/kernelgen/codegen"
	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
)

// SparsityLookup resolves a (row, col) entry of a sparse matrix to its position in
// the compressed storage. The tables are compressed rows for row-major data and
// compressed columns for column-major data, and are read by an inlined lookup
// function, so they must stay compile-time constants.
type SparsityLookup struct {
	Name     string
	Order    types.Order
	Pointers types.Argument
	Indices  types.Argument
	NNZ      int
}

func NewSparsityLookup(name string, pattern mat.Matrix, order types.Order) (lk *SparsityLookup, err error) {
	var (
		nr, nc = pattern.Dims()
		dok    *sparse.DOK
		nnz    int
	)
	if order == types.ColumnMajor {
		dok = sparse.NewDOK(nc, nr)
	} else {
		dok = sparse.NewDOK(nr, nc)
	}
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			if pattern.At(i, j) == 0 {
				continue
			}
			nnz++
			if order == types.ColumnMajor {
				dok.Set(j, i, 1)
			} else {
				dok.Set(i, j, 1)
			}
		}
	}
	if nnz == 0 {
		err = errors.Wrapf(types.ErrConfiguration, "sparsity pattern %s has no entries", name)
		return
	}
	var (
		raw = dok.ToCSR().RawMatrix()
		ptr = append([]int{}, raw.Indptr...)
		ind = append([]int{}, raw.Ind...)
	)
	for r := 0; r+1 < len(ptr); r++ {
		sort.Ints(ind[ptr[r]:ptr[r+1]])
	}
	toFloat := func(v int, _ int) float64 { return float64(v) }
	lk = &SparsityLookup{
		Name:     name,
		Order:    order,
		Pointers: types.NewConstant(name+"_ptr", types.Int32, lo.Map(ptr, toFloat)),
		Indices:  types.NewConstant(name+"_inds", types.Int32, lo.Map(ind, toFloat)),
		NNZ:      len(ind),
	}
	return
}

func (lk *SparsityLookup) Tables() []types.Argument {
	return []types.Argument{lk.Pointers, lk.Indices}
}

// Protected names the tables that must not become host constants
func (lk *SparsityLookup) Protected() []string {
	return []string{lk.Pointers.Name, lk.Indices.Name}
}

func (lk *SparsityLookup) FuncName() string {
	return lk.Name + "_lookup"
}

// Preamble is the lookup function, returning -1 for entries outside the pattern
func (lk *SparsityLookup) Preamble() Preamble {
	major, minor := "row", "col"
	if lk.Order == types.ColumnMajor {
		major, minor = "col", "row"
	}
	f := codegen.FuncDef{
		Qualifier:  "static",
		ReturnType: codegen.Raw("int"),
		Name:       lk.FuncName(),
		Params:     []codegen.Gen{codegen.Raw("int const row"), codegen.Raw("int const col")},
		Body: codegen.Stmts{
			codegen.For{
				Init: codegen.Decl{Type: codegen.Raw("int"), What: codegen.Raw("k"),
					Init: codegen.Raw(lk.Pointers.Name + "[" + major + "]")},
				Cond: codegen.Raw("k < " + lk.Pointers.Name + "[" + major + " + 1]"),
				Post: codegen.Raw("++k"),
				Body: codegen.Stmts{codegen.If{
					Cond: codegen.Raw(lk.Indices.Name + "[k] == " + minor),
					Then: codegen.Stmts{codegen.Raw("return k")},
				}},
			},
			codegen.Raw("return -1"),
		},
	}
	return Preamble{Name: lk.FuncName(), Code: codegen.RenderString(f)}
}

// Attach adds the tables and the lookup function to a kernel that uses them
func (lk *SparsityLookup) Attach(d *Descriptor) {
	d.Temporaries = append(d.Temporaries, lk.Tables()...)
	d.Preambles = append(d.Preambles, lk.Preamble())
	d.Protected = append(d.Protected, lk.Protected()...)
}

