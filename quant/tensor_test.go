package quant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounds(t *testing.T) {
	cases := []struct {
		bits             int
		unsigned, narrow bool
		min, max         float64
	}{
		{8, false, false, -128, 127},
		{8, false, true, -127, 127},
		{8, true, false, 0, 255},
		{4, false, true, -7, 7},
		{4, true, false, 0, 15},
	}
	for _, c := range cases {
		min, max := Bounds(c.bits, c.unsigned, c.narrow)
		assert.Equal(t, c.min, min, "min for %d bits", c.bits)
		assert.Equal(t, c.max, max, "max for %d bits", c.bits)
	}
}

func TestTensorQuant(t *testing.T) {
	x := []float32{-1, 0, 0.5, 1}
	q, scale, err := TensorQuant(x, 1, 8, false, true)
	require.NoError(t, err)
	assert.Equal(t, float32(127), scale)
	assert.Equal(t, []float32{-127, 0, 64, 127}, q)
}

func TestTensorQuantClamps(t *testing.T) {
	q, _, err := TensorQuant([]float32{2, -2}, 1, 8, false, true)
	require.NoError(t, err)
	assert.Equal(t, []float32{127, -127}, q)
}

func TestTensorQuantUnsigned(t *testing.T) {
	q, scale, err := TensorQuant([]float32{0, 1, 2}, 2, 8, true, false)
	require.NoError(t, err)
	assert.Equal(t, float32(127.5), scale)
	assert.Equal(t, []float32{0, 128, 255}, q)

	_, _, err = TensorQuant([]float32{-0.5, 1}, 1, 8, true, false)
	require.ErrorIs(t, err, ErrNegativeUnsigned)
}

func TestTensorQuantBadAmax(t *testing.T) {
	_, _, err := TensorQuant([]float32{1}, 0, 8, false, true)
	require.Error(t, err)
	_, _, err = TensorQuant([]float32{1}, -1, 8, false, true)
	require.Error(t, err)
}

func TestFakeTensorQuant(t *testing.T) {
	x := []float32{-0.9, -0.1, 0, 0.3, 0.8}
	out, err := FakeTensorQuant(x, 1, 8, false, true)
	require.NoError(t, err)
	// dequantized values stay within half a quantization step
	step := 1.0 / 127
	for i := range x {
		assert.InDelta(t, x[i], out[i], step/2, "index %d", i)
	}
	// idempotent: grid values pass through unchanged
	again, err := FakeTensorQuant(out, 1, 8, false, true)
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestFakeTensorQuantPerChannel(t *testing.T) {
	x := []float32{
		1, -2, 0.5,
		10, -20, 5,
	}
	amax := ChannelAbsMax(x, 2, 3)
	assert.Equal(t, []float32{2, 20}, amax)

	out, err := FakeTensorQuantPerChannel(x, amax, 2, 3, 8, false, true)
	require.NoError(t, err)
	for i := range x {
		assert.InDelta(t, x[i], out[i], float64(amax[i/3])/127, "index %d", i)
	}

	_, err = FakeTensorQuantPerChannel(x, amax, 3, 2, 8, false, true)
	require.Error(t, err, "amax length must match rows")
}

func TestFakeAffineTensorQuant(t *testing.T) {
	// grid values pass through unchanged
	x := []float32{0, 1, -1}
	scale := float32(2.0 / 255)
	grid := []float32{0, scale * 10, -scale * 20}
	out := FakeAffineTensorQuant(grid, -1, 1, 8)
	for i := range grid {
		assert.InDelta(t, grid[i], out[i], 1e-6)
	}
	// degenerate range is the identity
	out = FakeAffineTensorQuant(x, 0.5, 0.5, 8)
	assert.Equal(t, x, out)
}

func TestInt8RoundTrip(t *testing.T) {
	x := []float32{-1, -0.5, 0, 0.25, 1}
	q, scale, err := QuantizeInt8(x, AbsMax(x))
	require.NoError(t, err)
	assert.Equal(t, int8(-127), q[0])
	out := Dequantize(q, scale)
	for i := range x {
		assert.InDelta(t, x[i], out[i], 1.0/127, "index %d", i)
	}
}

func TestMaxCalibrator(t *testing.T) {
	c := NewMaxCalibrator()
	c.Collect([]float32{1, -3, 2})
	c.Collect([]float32{0.5})
	assert.Equal(t, float32(3), c.Amax())
	c.Reset()
	assert.Equal(t, float32(0), c.Amax())
}

func TestHistogramCalibrator(t *testing.T) {
	c := NewHistogramCalibrator(99)
	vals := make([]float32, 100)
	for i := range vals {
		vals[i] = float32(i + 1)
	}
	c.Collect(vals)
	assert.Equal(t, float32(99), c.Amax())

	c.Reset()
	assert.Equal(t, float32(0), c.Amax())
}

func TestHalfRoundTrip(t *testing.T) {
	x := []float32{0, 1, -1, 0.5, 65504}
	assert.Equal(t, x, FromFloat16(ToFloat16(x)))

	// bfloat16 keeps the exponent but truncates the mantissa
	b := FromBFloat16(ToBFloat16([]float32{1, -2, 0.5}))
	assert.Equal(t, []float32{1, -2, 0.5}, b)
}
