package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/quant"
)

func testModel() *quant.Model {
	return &quant.Model{
		Name:   "test",
		Format: quant.FormatInt8,
		Tensors: []quant.Tensor{
			{Name: "layer0.weight", Shape: []int{3, 4}, DType: "int8", Scale: 127,
				Data: []byte{0, 1, 2, 3, 10, 11, 12, 13, 20, 21, 22, 23}},
			{Name: "layer0.bias", Shape: []int{4}, DType: "fp32",
				Data: make([]byte, 16)},
		},
	}
}

func TestBuildAndOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.engine")
	files, err := Build(testModel(), path, 1)
	require.NoError(t, err)
	require.Equal(t, []string{path}, files)

	e, err := Open(path)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, "test", e.Name)
	assert.Equal(t, "int8", e.Format)
	assert.Equal(t, 0, e.Rank)
	assert.Equal(t, 1, e.World)
	assert.Equal(t, []string{"layer0.weight", "layer0.bias"}, e.TensorNames())

	info, data, err := e.Tensor("layer0.weight")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, info.Shape)
	assert.Equal(t, float32(127), info.Scale)
	assert.Equal(t, []byte{0, 1, 2, 3, 10, 11, 12, 13, 20, 21, 22, 23}, data)

	_, _, err = e.Tensor("missing")
	require.Error(t, err)
}

func TestBuildSharded(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.engine")
	files, err := Build(testModel(), path, 2)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, path+"-00001-of-00002", files[0])
	assert.Equal(t, path+"-00002-of-00002", files[1])

	// 3 rows over 2 ranks: first rank takes the extra row
	e0, err := Open(files[0])
	require.NoError(t, err)
	defer e0.Close()
	info, data, err := e0.Tensor("layer0.weight")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, info.Shape)
	assert.Equal(t, []byte{0, 1, 2, 3, 10, 11, 12, 13}, data)

	e1, err := Open(files[1])
	require.NoError(t, err)
	defer e1.Close()
	info, data, err = e1.Tensor("layer0.weight")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4}, info.Shape)
	assert.Equal(t, []byte{20, 21, 22, 23}, data)
	assert.Equal(t, 1, e1.Rank)
	assert.Equal(t, 2, e1.World)

	// 1D tensors are replicated on every rank
	_, bias, err := e1.Tensor("layer0.bias")
	require.NoError(t, err)
	assert.Len(t, bias, 16)
}

func TestBuildErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Build(testModel(), filepath.Join(dir, "x"), 0)
	require.Error(t, err)

	// more ranks than rows cannot be split
	_, err = Build(testModel(), filepath.Join(dir, "y"), 4)
	require.Error(t, err)
}

func TestOpenBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk")
	require.NoError(t, os.WriteFile(path, []byte("not an engine"), 0644))
	_, err := Open(path)
	require.Error(t, err)
}
