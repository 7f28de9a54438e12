package InputParameters

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/notargets/kernelgen/memory"
	"github.com/notargets/kernelgen/merge"
	"github.com/notargets/kernelgen/target"
	"github.com/notargets/kernelgen/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTargetProfile(t *testing.T) {
	var (
		tp   TargetProfile
		data = []byte(`
language: opencl
width: 4
order: C
platform: Intel
device_type: cpu
unroll: 2
cflags: [-O2]
limits: limits.yaml
`)
	)
	require.NoError(t, tp.Parse(data))
	assert.Equal(t, "4", tp.Width)
	opts, err := tp.Options()
	require.NoError(t, err)
	assert.Equal(t, target.Options{
		Lang:       target.OpenCL,
		Width:      4,
		Order:      types.RowMajor,
		Platform:   "Intel",
		DeviceType: target.CPU,
		Unroll:     2,
		CFlags:     []string{"-O2"},
	}, opts)
	var buf bytes.Buffer
	tp.Print(&buf)
	assert.Contains(t, buf.String(), "= Language\n")
	assert.Contains(t, buf.String(), "\"limits.yaml\"")

	tests := []struct {
		name string
		yaml string
		ok   bool
	}{
		{"auto on c stays scalar", "language: c\nwidth: auto\n", true},
		{"bad width", "language: opencl\nwidth: wide\n", false},
		{"bad order", "language: c\norder: Z\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tp TargetProfile
			require.NoError(t, tp.Parse([]byte(tt.yaml)))
			opts, err := tp.Options()
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Zero(t, opts.Width)
		})
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"512", 512, true},
		{"64kB", 64 << 10, true},
		{"1.5 GB", 3 << 29, true},
		{"2mb", 2 << 20, true},
		{"12 parsecs", 0, false},
		{"kB", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := ParseBytes(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestMemoryLimits(t *testing.T) {
	var ml MemoryLimits
	require.NoError(t, ml.Parse([]byte("global: 65536\nconstant: 64kB\nlimit_int_overflow: true\n")))
	limits, err := ml.Limits()
	require.NoError(t, err)
	assert.Equal(t, map[memory.Category]int64{memory.Global: 65536, memory.Constant: 64 << 10}, limits.Bytes)
	assert.True(t, limits.LimitIntOverflow)

	var buf bytes.Buffer
	ml.Print(&buf)
	assert.Equal(t, "64kB                    = Limit[constant]\n"+
		"65536                   = Limit[global]\n"+
		"true                    = LimitIntOverflow\n", buf.String())

	ml.Local = "lots"
	_, err = ml.Limits()
	assert.Error(t, err)
}

const kernelSet = `
root: jac
kernels:
  - name: kf
    instructions: ["rates[j] = k[j]"]
    can_vectorize: true
    args:
      - {name: rates, dtype: double, shape: [work_size]}
      - {name: k, dtype: double, shape: [work_size]}
  - name: kc
    loop_var: i
    extent: 3
    instructions: ["out[j, i] = nu[i] * rates[j] * pres"]
    can_vectorize: true
    args:
      - {name: rates, dtype: double, shape: [work_size]}
      - {name: out, dtype: double, shape: [work_size, 3]}
      - {name: pres, dtype: double, value: true}
    temporaries:
      - {name: nu, dtype: double, values: [1, 2, 3]}
      - {name: stoich, dtype: int, shape: [2, 2], values: [1, 0, 0, 1]}
    sparsity:
      - {name: jac, rows: 3, cols: 3, nonzeros: [[0, 0], [1, 1], [2, 1], [2, 2]]}
groups:
  - name: fwd
    kernels: [kf]
  - name: jac
    kernels: [kc]
    depends_on: [fwd]
    barriers:
      - {first: kf, second: kc, kind: global}
`

func TestKernelSet(t *testing.T) {
	var ks KernelSet
	require.NoError(t, ks.Parse([]byte(kernelSet)))
	root, err := ks.Build(types.RowMajor)
	require.NoError(t, err)
	assert.Equal(t, "jac", root.Name)
	require.Len(t, root.DependsOn, 1)
	assert.Equal(t, "fwd", root.DependsOn[0].Name)
	assert.Equal(t, []merge.Barrier{{First: "kf", Second: "kc", Kind: target.GlobalBarrier}}, root.Barriers)

	kc := root.Kernels[0]
	assert.Equal(t, types.Fixed(3), kc.Extent)
	assert.Equal(t, types.NewShape(types.BatchSymbol, 3), kc.Args[1].Shape)
	assert.True(t, kc.Args[2].IsValue)
	nu := kc.Temporaries[0]
	assert.Equal(t, types.Constant, nu.Scope)
	assert.Equal(t, 2.0, nu.Init.At(1, 0))
	stoich := kc.Temporaries[1]
	assert.Equal(t, types.Int32, stoich.DType)
	r, c := stoich.Init.Dims()
	assert.Equal(t, []int{2, 2}, []int{r, c})
	// sparsity tables are appended after the declared temporaries
	assert.Len(t, kc.Temporaries, 4)
	assert.Equal(t, []string{"jac_ptr", "jac_inds"}, kc.Protected)
	require.Len(t, kc.Preambles, 1)
	assert.Contains(t, kc.Preambles[0].Code, "jac_lookup")

	var buf bytes.Buffer
	ks.Print(&buf)
	assert.Contains(t, buf.String(), "Group[jac] = [kc] after [fwd]\n")
	assert.Contains(t, buf.String(), "Kernel[kc] = 1 instructions, 3 args, 2 temporaries\n")
}

func TestKernelSetErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown kernel", "groups: [{name: g, kernels: [nope]}]"},
		{"unknown dependency", "groups: [{name: g, depends_on: [h]}]"},
		{"unknown root", "root: h\ngroups: [{name: g}]"},
		{"no groups", "kernels: []"},
		{"bad barrier", "groups: [{name: g, barriers: [{first: a, second: b, kind: sideways}]}]"},
		{"bad dtype", "kernels: [{name: k, args: [{name: x, dtype: complex}]}]\ngroups: [{name: g, kernels: [k]}]"},
		{"value count", "kernels: [{name: k, temporaries: [{name: c, dtype: double, shape: [4], values: [1]}]}]\n" +
			"groups: [{name: g, kernels: [k]}]"},
		{"empty sparsity", "kernels: [{name: k, sparsity: [{name: s, rows: 2, cols: 2}]}]\n" +
			"groups: [{name: g, kernels: [k]}]"},
		{"duplicate kernel", "kernels: [{name: k}, {name: k}]\ngroups: [{name: g, kernels: [k]}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ks KernelSet
			require.NoError(t, ks.Parse([]byte(tt.yaml)))
			_, err := ks.Build(types.RowMajor)
			assert.True(t, errors.Is(err, types.ErrConfiguration), "%v", err)
		})
	}
}

func TestReadFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte("language: c\norder: F\n"), 0o644))
	tp, err := ReadTargetProfile(path)
	require.NoError(t, err)
	assert.Equal(t, "F", tp.Order)

	_, err = ReadMemoryLimits(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	path = filepath.Join(dir, "set.yaml")
	require.NoError(t, os.WriteFile(path, []byte(kernelSet), 0o644))
	ks, err := ReadKernelSet(path)
	require.NoError(t, err)
	assert.Len(t, ks.Kernels, 2)
}
