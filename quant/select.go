package quant

import "strings"

// minimum elements for quantization to be worthwhile
const minTensorSize = 1024

// ShouldQuantize returns true if a tensor should be quantized based on its
// name: weights only, skipping embeddings, norm scales and biases.
func ShouldQuantize(name string) bool {
	if strings.Contains(name, "embed") {
		return false
	}
	if strings.Contains(name, "norm") || strings.Contains(name, "ln_") {
		return false
	}
	if strings.HasSuffix(name, ".bias") {
		return false
	}
	return strings.HasSuffix(name, ".weight")
}

// ShouldQuantizeTensor also considers the tensor shape: only 2 dimensional
// tensors above a minimum size are quantized.
func ShouldQuantizeTensor(name string, shape []int) bool {
	if !ShouldQuantize(name) {
		return false
	}
	if len(shape) != 2 {
		return false
	}
	return shape[0]*shape[1] >= minTensorSize
}
