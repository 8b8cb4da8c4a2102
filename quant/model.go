package quant

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"
)

// Format selects the target precision for quantized tensors.
type Format string

const (
	FormatFP32 Format = "fp32"
	FormatFP16 Format = "fp16"
	FormatBF16 Format = "bf16"
	FormatInt8 Format = "int8"
)

// Tensor is one serialized model tensor. Data layout is little endian, row
// major. Scale is only set for int8 tensors.
type Tensor struct {
	Name  string
	Shape []int
	DType string
	Scale float32
	Data  []byte
}

// Model is a quantized network ready for engine building.
type Model struct {
	Name    string
	Format  Format
	Tensors []Tensor
}

// QuantizeNetwork applies post training quantization to the network weights.
// Tensors that fail the selection rules (biases, small weights) are kept in
// fp32. calib may be nil, in which case a max calibrator is used for int8.
func QuantizeNetwork(net *nnet.Network, name string, format Format, calib Calibrator) (*Model, error) {
	m := &Model{Name: name, Format: format}
	for i, l := range net.ParamLayers() {
		w, b := l.Params()
		rows, cols := w.Dims()
		wName := fmt.Sprintf("layer%d.weight", i)
		wData := toFloat32(w.RawMatrix().Data)
		t := Tensor{Name: wName, Shape: []int{rows, cols}}
		if format == FormatFP32 || !ShouldQuantizeTensor(wName, t.Shape) {
			t.DType = "fp32"
			t.Data = encodeFloat32(wData)
		} else {
			var err error
			if t, err = quantizeTensor(t, wData, format, calib); err != nil {
				return nil, fmt.Errorf("tensor %s: %w", wName, err)
			}
		}
		m.Tensors = append(m.Tensors, t)
		m.Tensors = append(m.Tensors, Tensor{
			Name:  fmt.Sprintf("layer%d.bias", i),
			Shape: []int{len(b)},
			DType: "fp32",
			Data:  encodeFloat32(toFloat32(b)),
		})
	}
	return m, nil
}

func quantizeTensor(t Tensor, data []float32, format Format, calib Calibrator) (Tensor, error) {
	switch format {
	case FormatFP16:
		t.DType = "fp16"
		t.Data = encodeUint16(ToFloat16(data))
	case FormatBF16:
		t.DType = "bf16"
		t.Data = ToBFloat16(data)
	case FormatInt8:
		if calib == nil {
			calib = NewMaxCalibrator()
		}
		calib.Reset()
		calib.Collect(data)
		q, scale, err := QuantizeInt8(data, calib.Amax())
		if err != nil {
			return t, err
		}
		t.DType = "int8"
		t.Scale = scale
		t.Data = make([]byte, len(q))
		for i, v := range q {
			t.Data[i] = byte(v)
		}
	default:
		return t, fmt.Errorf("unknown quantization format %q", format)
	}
	return t, nil
}

// Float32 decodes the tensor data back to float32 regardless of precision.
func (t Tensor) Float32() ([]float32, error) {
	switch t.DType {
	case "fp32":
		return decodeFloat32(t.Data), nil
	case "fp16":
		return FromFloat16(decodeUint16(t.Data)), nil
	case "bf16":
		return FromBFloat16(t.Data), nil
	case "int8":
		q := make([]int8, len(t.Data))
		for i, v := range t.Data {
			q[i] = int8(v)
		}
		return Dequantize(q, t.Scale), nil
	}
	return nil, fmt.Errorf("unknown tensor dtype %q", t.DType)
}

// Size returns the serialized data size in bytes.
func (t Tensor) Size() int { return len(t.Data) }

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

func encodeFloat32(x []float32) []byte {
	buf := make([]byte, 4*len(x))
	for i, v := range x {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}

func encodeUint16(x []uint16) []byte {
	buf := make([]byte, 2*len(x))
	for i, v := range x {
		binary.LittleEndian.PutUint16(buf[2*i:], v)
	}
	return buf
}

func decodeUint16(buf []byte) []uint16 {
	out := make([]uint16, len(buf)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(buf[2*i:])
	}
	return out
}
