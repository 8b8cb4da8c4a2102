package quant

import (
	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// ToFloat16 converts to IEEE 754 half precision bit patterns with round to
// nearest even.
func ToFloat16(x []float32) []uint16 {
	out := make([]uint16, len(x))
	for i, v := range x {
		out[i] = float16.Fromfloat32(v).Bits()
	}
	return out
}

// FromFloat16 expands half precision bit patterns back to float32.
func FromFloat16(x []uint16) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float16.Frombits(v).Float32()
	}
	return out
}

// ToBFloat16 converts to packed bfloat16 bytes by truncation.
func ToBFloat16(x []float32) []byte {
	return bfloat16.EncodeFloat32(x)
}

// FromBFloat16 expands packed bfloat16 bytes back to float32.
func FromBFloat16(b []byte) []float32 {
	return bfloat16.DecodeFloat32(b)
}
