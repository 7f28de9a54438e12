package kernel

import (
	"testing"

	"github.com/notargets/kernelgen/codegen"
	"github.com/notargets/kernelgen/splitter"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func newBackend(t *testing.T, opts target.Options) (target.Backend, *splitter.Splitter) {
	b, err := target.New(opts)
	require.NoError(t, err)
	o := b.Options()
	s, err := splitter.New(o.Width, o.Depth, o.Order)
	require.NoError(t, err)
	return b, s
}

func scaleKernel(n int) *Descriptor {
	return &Descriptor{
		Name:         "scale",
		LoopVar:      "i",
		Extent:       types.Fixed(int64(n)),
		Instructions: []string{"y[j, i] = 2 * x[j, i]"},
		Args: []types.Argument{
			types.NewArray("x", types.Float64, types.Global, types.BatchSymbol, n),
			types.NewArray("y", types.Float64, types.Global, types.BatchSymbol, n),
		},
		CanVectorize: true,
	}
}

func TestWrites(t *testing.T) {
	d := &Descriptor{
		Name: "k",
		Pre:  []string{"flag = x[j] == 0"},
		Instructions: []string{
			"phi[j, i] = a[j, i] + 1",
			"out[j] += phi[j, 0]",
			"x[j] <= 3",
			"phi[j, i] *= 2",
		},
	}
	assert.Equal(t, []string{"flag", "phi", "out"}, d.Writes())
	assert.True(t, d.WritesTo("out"))
	assert.False(t, d.WritesTo("a"))
	assert.False(t, d.WritesTo("x"))

	assert.Equal(t, []string{"x", "j", "i", "a", "out", "phi"}, d.Reads())
	assert.True(t, d.ReadsFrom("out"))
	assert.False(t, d.ReadsFrom("flag"))

	store := &Descriptor{Name: "store", Instructions: []string{"y[j, i] = 1e-3 * x[j, i]"}}
	assert.Equal(t, []string{"j", "i", "x"}, store.Reads())
	assert.False(t, store.ReadsFrom("y"))
	assert.False(t, store.ReadsFrom("e"))
}

func TestValidate(t *testing.T) {
	x := types.NewArray("x", types.Float64, types.Global, types.BatchSymbol)
	tests := []struct {
		name string
		d    Descriptor
		ok   bool
	}{
		{"good", Descriptor{Name: "k", LoopVar: "i", Extent: types.Fixed(3)}, true},
		{"no loop", Descriptor{Name: "k"}, true},
		{"bad name", Descriptor{Name: "1k"}, false},
		{"condition var reused", Descriptor{Name: "k", LoopVar: "j", Extent: types.Fixed(3)}, false},
		{"no extent", Descriptor{Name: "k", LoopVar: "i"}, false},
		{"duplicate", Descriptor{Name: "k", Args: []types.Argument{x}, Temporaries: []types.Argument{x}}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.d.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, types.ErrConfiguration))
		})
	}
}

func TestSpecialize(t *testing.T) {
	t.Run("unvectorized C", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.C})
		l, err := Specialize(scaleKernel(53), b, s)
		require.NoError(t, err)
		assert.Equal(t, []target.Loop{{Iname: "j", Lower: "0", Upper: "work_size", Tag: target.GroupTag}}, l.Outer)
		assert.Equal(t, []target.Loop{{Iname: "i", Lower: "0", Upper: "53"}}, l.Inner)
		assert.Equal(t, 1, l.LocalSize)
		assert.Empty(t, l.LoopSplit)
	})
	t.Run("wide", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Width: 4})
		l, err := Specialize(scaleKernel(53), b, s)
		require.NoError(t, err)
		assert.Equal(t, []target.Loop{
			{Iname: "j_outer", Lower: "0", Upper: "(work_size + 3) / 4", Tag: target.GroupTag},
			{Iname: "j_inner", Lower: "0", Upper: "4", Tag: target.LaneTag},
		}, l.Outer)
		assert.Equal(t, [2]string{"j_outer", "j_inner"}, l.LoopSplit["j"])
		assert.Equal(t, "j < work_size", l.guards["j"])
		assert.Equal(t, 4, l.LocalSize)
	})
	t.Run("wide exact", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Width: 4})
		d := scaleKernel(53)
		d.Assumptions = []string{"work_size > 0", "work_size  mod 4 = 0"}
		l, err := Specialize(d, b, s)
		require.NoError(t, err)
		assert.Equal(t, "work_size / 4", l.Outer[0].Upper)
		assert.NotContains(t, l.guards, "j")
	})
	t.Run("deep", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Depth: 4, Order: types.ColumnMajor})
		l, err := Specialize(scaleKernel(53), b, s)
		require.NoError(t, err)
		assert.Len(t, l.Outer, 1)
		assert.Equal(t, []target.Loop{
			{Iname: "i_outer", Lower: "0", Upper: "(53 + 3) / 4"},
			{Iname: "i_inner", Lower: "0", Upper: "4", Tag: target.LaneTag},
		}, l.Inner)
		assert.Equal(t, "i < 53", l.guards["i"])
	})
	t.Run("deep exact", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Depth: 4, Order: types.ColumnMajor})
		l, err := Specialize(scaleKernel(52), b, s)
		require.NoError(t, err)
		assert.Equal(t, "52 / 4", l.Inner[0].Upper)
		assert.Empty(t, l.guards)
	})
	t.Run("vector width fixer", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Depth: 4, Order: types.ColumnMajor})
		l, err := Specialize(scaleKernel(2), b, s)
		require.NoError(t, err)
		assert.Equal(t, 4, l.LocalSize)
	})
	t.Run("simd", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Width: 8, IsSIMD: true})
		l, err := Specialize(scaleKernel(3), b, s)
		require.NoError(t, err)
		assert.Equal(t, target.VecTag, l.Outer[1].Tag)
		assert.Equal(t, 1, l.LocalSize)
	})
	t.Run("unroll", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.C, Unroll: 4})
		l, err := Specialize(scaleKernel(3), b, s)
		require.NoError(t, err)
		assert.Equal(t, target.UnrollTag, l.Inner[0].Tag)
		assert.Equal(t, 4, l.Inner[0].Unroll)
	})
	t.Run("missing specializer", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Width: 4})
		d := scaleKernel(3)
		d.CanVectorize = false
		_, err := Specialize(d, b, s)
		assert.True(t, errors.Is(err, types.ErrConfiguration))
	})
	t.Run("specializer", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Width: 4})
		d := scaleKernel(3)
		d.CanVectorize = false
		var called int
		d.Specializer = func(l *Lowered, w int) error {
			called = w
			l.Outer = l.SplitLoop(l.Outer, ConditionVar, w, target.LaneTag, types.BatchSymbol, true)
			return nil
		}
		l, err := Specialize(d, b, s)
		require.NoError(t, err)
		assert.Equal(t, 4, called)
		assert.Equal(t, "work_size / 4", l.Outer[0].Upper)
		assert.Equal(t, 4, l.LocalSize)
	})
	t.Run("no specializer needed unvectorized", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL})
		d := scaleKernel(3)
		d.CanVectorize = false
		_, err := Specialize(d, b, s)
		assert.NoError(t, err)
	})
}

func TestFunction(t *testing.T) {
	t.Run("C", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.C})
		l, err := Specialize(scaleKernel(3), b, s)
		require.NoError(t, err)
		f, err := l.Function(b)
		require.NoError(t, err)
		assert.Equal(t, `void scale(double *__restrict__ x, double *__restrict__ y)
{
#pragma omp parallel for
    for (int j = 0; j < work_size; ++j) {
        for (int i = 0; i < 3; ++i) {
            y[j * 3 + i] = 2 * x[j * 3 + i];
        }
    }
}

`, codegen.RenderString(f))
		assert.Equal(t, "scale(x, y)", codegen.RenderString(l.Call()))
	})
	t.Run("OpenCL wide", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Width: 4})
		l, err := Specialize(scaleKernel(53), b, s)
		require.NoError(t, err)
		f, err := l.Function(b)
		require.NoError(t, err)
		src := codegen.RenderString(f)
		assert.Contains(t, src, "__global double *__restrict__ x")
		assert.Contains(t, src, "int const j_outer = get_group_id(0);")
		assert.Contains(t, src, "int const j_inner = get_local_id(0);")
		assert.Contains(t, src, "int const j = j_outer * 4 + j_inner;")
		assert.Contains(t, src, "if (j < work_size) {")
		assert.Contains(t, src, "y[(j_outer * 53 + i) * 4 + j_inner] = 2 * x[(j_outer * 53 + i) * 4 + j_inner];")
	})
	t.Run("OpenCL deep", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.OpenCL, Depth: 4, Order: types.ColumnMajor})
		d := scaleKernel(53)
		d.Assumptions = []string{"work_size > 0"}
		d.Temporaries = []types.Argument{types.NewValue("tmp", types.Float64)}
		l, err := Specialize(d, b, s)
		require.NoError(t, err)
		f, err := l.Function(b)
		require.NoError(t, err)
		src := codegen.RenderString(f)
		assert.Contains(t, src, "/* assumes: work_size > 0 */")
		assert.Contains(t, src, "double tmp;")
		assert.Contains(t, src, "int const i = i_outer * 4 + i_inner;")
		assert.Contains(t, src, "if (i < 53) {")
		assert.Contains(t, src, "y[i_inner + 4 * (j + work_size * i_outer)]")
	})
	t.Run("rank mismatch", func(t *testing.T) {
		b, s := newBackend(t, target.Options{Lang: target.C})
		d := scaleKernel(3)
		d.Instructions = []string{"y[j] = 1"}
		l, err := Specialize(d, b, s)
		require.NoError(t, err)
		_, err = l.Function(b)
		assert.True(t, errors.Is(err, types.ErrConfiguration))
	})
}

func TestRewrite(t *testing.T) {
	s, err := splitter.New(0, 0, types.RowMajor)
	require.NoError(t, err)
	lays := map[string]splitter.Layout{
		"x":   s.SplitShape(types.NewShape(types.BatchSymbol, 3)),
		"y":   s.SplitShape(types.NewShape(types.BatchSymbol, 3)),
		"idx": s.SplitShape(types.NewShape(5)),
	}
	tests := []struct {
		in, out string
	}{
		{"y[j, i] = x[j, i]", "y[j * 3 + i] = x[j * 3 + i]"},
		{"y[j, i] = x[j, idx[i]] + foo(z)", "y[j * 3 + i] = x[j * 3 + (idx[i])] + foo(z)"},
		{"xy[j, i] = w[j]", "xy[j, i] = w[j]"},
		{"y [j, 2] = 0", "y[j * 3 + 2] = 0"},
	}
	for _, tc := range tests {
		out, err := rewrite(tc.in, lays, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.out, out)
	}
	_, err = rewrite("y[j, i = 1", lays, nil)
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestInitializer(t *testing.T) {
	t.Run("C row major", func(t *testing.T) {
		b, _ := newBackend(t, target.Options{Lang: target.C})
		a := types.NewConstant("A", types.Float64, []float64{1, 2, 3, 4, 5})
		assert.Equal(t, `static double const A[5] = {
    1.000000000000000e+00, 2.000000000000000e+00, 3.000000000000000e+00, 4.000000000000000e+00,
    5.000000000000000e+00
};
`, codegen.RenderString(Initializer(b, a)))
	})
	t.Run("OpenCL column major", func(t *testing.T) {
		b, _ := newBackend(t, target.Options{Lang: target.OpenCL, Order: types.ColumnMajor})
		a := types.Argument{
			Name:     "B",
			DType:    types.Int32,
			Shape:    types.NewShape(2, 2),
			Scope:    types.Constant,
			ReadOnly: true,
			Init:     mat.NewDense(2, 2, []float64{1, 2, 3, 4}),
		}
		assert.Equal(t, "__constant int const B[4] = {\n    1, 3, 2, 4\n};\n", codegen.RenderString(Initializer(b, a)))
	})
}

func TestConstants(t *testing.T) {
	b, s := newBackend(t, target.Options{Lang: target.C})
	d := scaleKernel(3)
	d.Temporaries = []types.Argument{
		types.NewConstant("A", types.Float64, []float64{1, 2}),
		types.NewValue("tmp", types.Float64),
	}
	l, err := Specialize(d, b, s)
	require.NoError(t, err)
	consts := l.Constants()
	require.Len(t, consts, 1)
	assert.Equal(t, "A", consts[0].Name)
}

func TestSparsityLookup(t *testing.T) {
	pattern := mat.NewDense(3, 3, []float64{
		1, 1, 0,
		0, 1, 0,
		0, 0, 1,
	})
	column := func(a types.Argument) (vals []int) {
		r, _ := a.Init.Dims()
		for i := 0; i < r; i++ {
			vals = append(vals, int(a.Init.At(i, 0)))
		}
		return
	}
	tests := []struct {
		order     types.Order
		ptr, inds []int
		major     string
	}{
		{types.RowMajor, []int{0, 2, 3, 4}, []int{0, 1, 1, 2}, "jac_ptr[row]"},
		{types.ColumnMajor, []int{0, 1, 3, 4}, []int{0, 0, 1, 2}, "jac_ptr[col]"},
	}
	for _, tc := range tests {
		t.Run(string(tc.order), func(t *testing.T) {
			lk, err := NewSparsityLookup("jac", pattern, tc.order)
			require.NoError(t, err)
			assert.Equal(t, 4, lk.NNZ)
			assert.Equal(t, tc.ptr, column(lk.Pointers))
			assert.Equal(t, tc.inds, column(lk.Indices))
			assert.Equal(t, types.Int32, lk.Indices.DType)
			assert.Equal(t, []string{"jac_ptr", "jac_inds"}, lk.Protected())
			p := lk.Preamble()
			assert.Equal(t, "jac_lookup", p.Name)
			assert.Contains(t, p.Code, "static int jac_lookup(int const row, int const col)")
			assert.Contains(t, p.Code, tc.major)
			assert.Contains(t, p.Code, "return -1;")

			d := scaleKernel(3)
			lk.Attach(d)
			assert.Len(t, d.Temporaries, 2)
			assert.Len(t, d.Preambles, 1)
			assert.Equal(t, lk.Protected(), d.Protected)
		})
	}
	_, err := NewSparsityLookup("empty", mat.NewDense(2, 2, nil), types.RowMajor)
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}
