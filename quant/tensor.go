// Package quant implements post training quantization of model weights:
// symmetric integer quantization from a calibrated absolute maximum, affine
// quantization from a min/max range, and half precision float conversion.
package quant

import (
	"errors"
	"fmt"
	"math"
)

var ErrNegativeUnsigned = errors.New("negative values encountered in unsigned quantization")

// Bounds returns the integer grid limits for the given bit width.
// With narrow set the signed grid is symmetric: [-(2^(b-1)-1), 2^(b-1)-1],
// otherwise the low bound extends to -2^(b-1). Unsigned grids start at 0
// with an extra bit of positive range.
func Bounds(numBits int, unsigned, narrow bool) (min, max float64) {
	if unsigned {
		max = math.Exp2(float64(numBits)) - 1
		return 0, max
	}
	max = math.Exp2(float64(numBits-1)) - 1
	if narrow {
		return -max, max
	}
	return -max - 1, max
}

// TensorQuant quantizes x to the integer grid, returning the quantized
// values and the scale such that x ~= q / scale. amax must be positive.
func TensorQuant(x []float32, amax float32, numBits int, unsigned, narrow bool) ([]float32, float32, error) {
	if amax <= 0 {
		return nil, 0, fmt.Errorf("invalid amax %v for quantization", amax)
	}
	if unsigned {
		for _, v := range x {
			if v < 0 {
				return nil, 0, ErrNegativeUnsigned
			}
		}
	}
	minB, maxB := Bounds(numBits, unsigned, narrow)
	scale := maxB / float64(amax)
	out := make([]float32, len(x))
	for i, v := range x {
		q := math.Round(float64(v) * scale)
		if q < minB {
			q = minB
		} else if q > maxB {
			q = maxB
		}
		out[i] = float32(q)
	}
	return out, float32(scale), nil
}

// FakeTensorQuant quantizes and dequantizes x, returning values on the
// quantization grid in the original float range.
func FakeTensorQuant(x []float32, amax float32, numBits int, unsigned, narrow bool) ([]float32, error) {
	q, scale, err := TensorQuant(x, amax, numBits, unsigned, narrow)
	if err != nil {
		return nil, err
	}
	for i := range q {
		q[i] /= scale
	}
	return q, nil
}

// FakeTensorQuantPerChannel applies fake quantization row by row with a
// separate amax per channel. x is rows*cols values in row major order,
// len(amax) must equal rows.
func FakeTensorQuantPerChannel(x []float32, amax []float32, rows, cols, numBits int, unsigned, narrow bool) ([]float32, error) {
	if len(x) != rows*cols {
		return nil, fmt.Errorf("data length %d does not match %dx%d", len(x), rows, cols)
	}
	if len(amax) != rows {
		return nil, fmt.Errorf("got %d amax values for %d channels", len(amax), rows)
	}
	out := make([]float32, len(x))
	for r := 0; r < rows; r++ {
		row, err := FakeTensorQuant(x[r*cols:(r+1)*cols], amax[r], numBits, unsigned, narrow)
		if err != nil {
			return nil, err
		}
		copy(out[r*cols:], row)
	}
	return out, nil
}

// FakeAffineTensorQuant quantizes x on an affine grid spanning [xmin, xmax]
// and dequantizes it again. Values on the grid pass through unchanged.
func FakeAffineTensorQuant(x []float32, xmin, xmax float32, numBits int) []float32 {
	levels := math.Exp2(float64(numBits)) - 1
	scale := (float64(xmax) - float64(xmin)) / levels
	if scale == 0 {
		return append([]float32{}, x...)
	}
	zero := math.Round(-float64(xmin) / scale)
	out := make([]float32, len(x))
	for i, v := range x {
		q := math.Round(float64(v)/scale) + zero
		if q < 0 {
			q = 0
		} else if q > levels {
			q = levels
		}
		out[i] = float32((q - zero) * scale)
	}
	return out
}

// QuantizeInt8 quantizes x to signed 8 bit with a symmetric narrow range
// grid, returning the bytes and the scale.
func QuantizeInt8(x []float32, amax float32) ([]int8, float32, error) {
	q, scale, err := TensorQuant(x, amax, 8, false, true)
	if err != nil {
		return nil, 0, err
	}
	out := make([]int8, len(q))
	for i, v := range q {
		out[i] = int8(v)
	}
	return out, scale, nil
}

// Dequantize expands int8 values back to float32 using the scale from
// QuantizeInt8.
func Dequantize(q []int8, scale float32) []float32 {
	out := make([]float32, len(q))
	for i, v := range q {
		out[i] = float32(v) / scale
	}
	return out
}

// AbsMax returns the largest absolute value in x.
func AbsMax(x []float32) float32 {
	max := float32(0)
	for _, v := range x {
		if v < 0 {
			v = -v
		}
		if v > max {
			max = v
		}
	}
	return max
}

// ChannelAbsMax returns the absolute maximum of each row of a rows*cols
// matrix in row major order.
func ChannelAbsMax(x []float32, rows, cols int) []float32 {
	amax := make([]float32, rows)
	for r := 0; r < rows; r++ {
		amax[r] = AbsMax(x[r*cols : (r+1)*cols])
	}
	return amax
}
