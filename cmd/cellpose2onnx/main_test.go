package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/cellpose2onnx/internal/config"
	"github.com/born-ml/cellpose2onnx/internal/convert"
	"github.com/born-ml/cellpose2onnx/internal/cpnet"
	"github.com/born-ml/cellpose2onnx/internal/weights"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func modelsDir(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv(config.CellposeModelsEnv, dir)
	return dir
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "cellpose2onnx "+version+"\n", out)
}

func TestInvalidMeanDiameter(t *testing.T) {
	root := modelsDir(t)
	outDir := filepath.Join(root, "out")

	_, err := execute(t,
		"--model_path", filepath.Join(root, "cyto3"),
		"--output_directory", outDir,
		"--mean_diameter", "5.0",
	)
	require.ErrorIs(t, err, convert.ErrInvalidMeanDiameter)
	assert.NoDirExists(t, outDir)
}

func TestMissingMeanDiameter(t *testing.T) {
	root := modelsDir(t)

	_, err := execute(t, "--model_path", filepath.Join(root, "cyto3"))
	require.ErrorIs(t, err, convert.ErrInvalidMeanDiameter)
	assert.NoDirExists(t, filepath.Join(root, "output"))
}

func TestConvertAndInspect(t *testing.T) {
	root := modelsDir(t)
	weightsPath := filepath.Join(root, "cyto2torch_1")
	net, err := cpnet.New(cpnet.DefaultConfig(30))
	require.NoError(t, err)
	require.NoError(t, weights.WriteSafeTensors(weightsPath, net.InitStateDict(5), nil))

	out, err := execute(t, "--model_path", weightsPath, "--mean_diameter", "30", "--log-level", "error")
	require.NoError(t, err)

	outDir := filepath.Join(root, "output")
	assert.Equal(t, "Output models are saved here:  "+outDir+"\nConversion completed.\n", out)
	artifact := filepath.Join(outDir, "cyto2torch_1.onnx")
	require.FileExists(t, artifact)

	out, err = execute(t, "inspect", artifact)
	require.NoError(t, err)
	assert.Contains(t, out, "IR version: 7\n")
	assert.Contains(t, out, "Opset version: 12\n")
	assert.Contains(t, out, "Metadata diam_mean: 30\n")
	assert.Contains(t, out, "Input input [-1 2 224 224]\n")
	assert.Contains(t, out, "Output output [-1 3 224 224]\n")
	assert.Contains(t, out, "Output style [-1 256]\n")
	assert.Contains(t, out, "  Resize: 3\n")
	assert.NotContains(t, out, "Constant")
}

func TestInspectErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, "inspect", filepath.Join(dir, "missing.onnx"))
	assert.Error(t, err)

	_, err = execute(t, "inspect")
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	root := modelsDir(t)
	t.Setenv("CELLPOSE2ONNX_BUILTIN_MODELS", "cyto nuclei")
	require.NoError(t, os.WriteFile(filepath.Join(root, "gui_models.txt"), []byte("custom1\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "custom1"), nil, 0o600))

	out, err := execute(t, "list")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1+4+4+1)
	assert.Equal(t, []string{"MODEL", "DIAMETER", "FOLD", "WEIGHTS"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"cyto", "30.0", "0", "cytotorch_0", "(missing)"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"nuclei", "17.0", "3", "nucleitorch_3", "(missing)"}, strings.Fields(lines[8]))
	assert.Equal(t, []string{"custom1", "30.0", "0", filepath.Join(root, "custom1")}, strings.Fields(lines[9]))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "list never downloads")
}
