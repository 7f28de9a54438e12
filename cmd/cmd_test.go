package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const kernelSet = `
kernels:
  - name: scale
    loop_var: i
    extent: 3
    instructions: ["y[j, i] = A[i] * pres * x[j, i]"]
    can_vectorize: true
    args:
      - {name: x, dtype: double, shape: [work_size, 3]}
      - {name: y, dtype: double, shape: [work_size, 3]}
      - {name: pres, dtype: double, value: true}
    temporaries:
      - {name: A, dtype: double, values: [1, 2, 3]}
groups:
  - name: jac
    kernels: [scale]
`

// inputs writes a C profile whose limits hold 100 conditions and push A to the host
func inputs(t *testing.T) (dir, profile, set string) {
	dir = t.TempDir()
	profile = filepath.Join(dir, "profile.yaml")
	set = filepath.Join(dir, "kernels.yaml")
	require.NoError(t, os.WriteFile(profile, []byte("language: c\norder: C\nlimits: limits.yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "limits.yaml"), []byte("global: 4824\nconstant: 16\n"), 0o644))
	require.NoError(t, os.WriteFile(set, []byte(kernelSet), 0o644))
	return
}

func run(args ...string) (string, error) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestGenerate(t *testing.T) {
	dir, profile, set := inputs(t)
	outDir := filepath.Join(dir, "out")
	stdout, err := run("generate", "--target", profile, "--limits=", "-o", outDir, "--quiet=false", set)
	require.NoError(t, err)
	for _, name := range []string{"jac.c", "jac.h", "jac_driver.c", "build.sh"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}
	info, err := os.Stat(filepath.Join(outDir, "build.sh"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&0o111)
	assert.Contains(t, stdout, "host constant A (3)\n")
	assert.Contains(t, stdout, "100 conditions per call\n")

	hdr, err := os.ReadFile(filepath.Join(outDir, "jac.h"))
	require.NoError(t, err)
	assert.Contains(t, string(hdr), "#define MAX_PER_RUN (100)")

	stdout, err = run("generate", "--target", profile, "--limits=", "-o", outDir, "--quiet", set)
	require.NoError(t, err)
	assert.Empty(t, stdout)
}

func TestLimits(t *testing.T) {
	dir, profile, set := inputs(t)
	stdout, err := run("limits", "--target", profile, "--limits=", "--verbose=false", set)
	require.NoError(t, err)
	assert.Contains(t, stdout, "MAX_PER_RUN = 100\n")
	assert.Contains(t, stdout, "host constant A (3)\n")

	// an explicit limits file replaces the profile's
	other := filepath.Join(dir, "small.yaml")
	require.NoError(t, os.WriteFile(other, []byte("global: 1224\nconstant: 16\n"), 0o644))
	stdout, err = run("limits", "--target", profile, "--limits", other, "-v", set)
	require.NoError(t, err)
	assert.Contains(t, stdout, "MAX_PER_RUN = 25\n")
	assert.Contains(t, stdout, "= Language\n")
}

func TestPlan(t *testing.T) {
	_, profile, set := inputs(t)
	stdout, err := run("plan", "--target", profile, "--limits=", "-n", "250", "-k", "150", set)
	require.NoError(t, err)
	assert.Contains(t, stdout, "250 conditions in 3 batches of at most 100\n")
	assert.Contains(t, stdout, "batch 2: [200, 250)\n")
	assert.Contains(t, stdout, "condition 150: batch 1 slot 50 of 100\n")

	_, err = run("plan", "--target", profile, "--limits=", "-n", "250", "-k", "300", set)
	assert.Error(t, err)
}

func TestMissingProfile(t *testing.T) {
	_, _, set := inputs(t)
	_, err := run("limits", "--target=", "--limits=", set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must supply a target profile")
}
