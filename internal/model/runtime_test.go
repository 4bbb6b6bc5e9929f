package model

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testdata/add_sequence.onnx computes scores = features + float(sequence) with
// inputs features float32[1,3] and sequence int64[1,3].
func loadAddModel(t *testing.T, env *Environment) Runner {
	t.Helper()
	onnxBytes, err := os.ReadFile("testdata/add_sequence.onnx")
	require.NoError(t, err)
	runner, err := env.Load("add model", onnxBytes)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, runner.Close()) })
	return runner
}

func checkAddModel(t *testing.T, runner Runner) {
	t.Helper()
	meta := runner.Metadata()
	require.Len(t, meta.Inputs, 2)
	assert.Equal(t, "features", meta.Inputs[0].Name)
	assert.Equal(t, "sequence", meta.Inputs[1].Name)
	assert.Equal(t, []int64{1, 3}, meta.Inputs[1].Dimensions)
	require.Len(t, meta.Outputs, 1)
	assert.Equal(t, "scores", meta.Outputs[0].Name)

	features := []float32{0.5, 1, 1.5}

	// bound by position
	out, err := runner.Run(FloatTensor("", features, 1, 3), IntTensor("", []int64{1, 2, 3}, 1, 3))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{1.5, 3, 4.5}, out, 1e-6)

	// bound by name, in any order
	out, err = runner.Run(IntTensor("sequence", []int64{0, 0, 7}, 1, 3), FloatTensor("features", features, 1, 3))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.5, 1, 8.5}, out, 1e-6)

	// results are copies owned by the caller
	out[0] = 100
	again, err := runner.Run(FloatTensor("", features, 1, 3), IntTensor("", []int64{0, 0, 0}, 1, 3))
	require.NoError(t, err)
	assert.InDeltaSlice(t, features, again, 1e-6)

	_, err = runner.Run(FloatTensor("features", features, 1, 3))
	assert.ErrorContains(t, err, "expects 2 inputs")
}

func TestGoRunnerRunsModel(t *testing.T) {
	env, err := NewEnvironment(Options{Backend: BackendGo})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, env.Close()) })

	checkAddModel(t, loadAddModel(t, env))
}

func TestORTRunnerRunsModel(t *testing.T) {
	lib := os.Getenv("ORT_LIBRARY_PATH")
	if lib == "" {
		lib = "/usr/lib/onnxruntime.so"
	}
	if _, err := os.Stat(lib); err != nil {
		t.Skipf("onnxruntime shared library not available at %s", lib)
	}

	env, err := NewEnvironment(Options{Backend: BackendORT, LibraryPath: lib, IntraOpNumThreads: 1})
	require.NoError(t, err)
	// cleanups run last-in first-out, so the session goes before the environment
	t.Cleanup(func() { assert.NoError(t, env.Close()) })

	runner := loadAddModel(t, env)
	checkAddModel(t, runner)
	assert.Equal(t, Int64, runner.Metadata().Inputs[1].Type)

	// float sequences are converted to the declared int64 input
	out, err := runner.Run(FloatTensor("", []float32{0, 0, 0}, 1, 3), FloatTensor("", []float32{4, 5, 6}, 1, 3))
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{4, 5, 6}, out, 1e-6)
}
