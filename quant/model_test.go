package quant

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"
)

func testNet(t *testing.T, nout int) *nnet.Network {
	t.Helper()
	conf := nnet.Config{TrainBatch: 10}.AddLayers(
		nnet.Linear{Nout: nout},
		nnet.Softmax{},
	)
	net := nnet.New(conf, 10, []int{64})
	net.InitWeights(rand.New(rand.NewSource(1)))
	return net
}

func TestQuantizeNetworkInt8(t *testing.T) {
	net := testNet(t, 64)
	m, err := QuantizeNetwork(net, "test", FormatInt8, nil)
	require.NoError(t, err)
	assert.Equal(t, "test", m.Name)
	require.Len(t, m.Tensors, 2)

	w := m.Tensors[0]
	assert.Equal(t, "layer0.weight", w.Name)
	assert.Equal(t, "int8", w.DType)
	assert.Equal(t, []int{64, 64}, w.Shape)
	assert.Equal(t, 64*64, w.Size())
	assert.Greater(t, w.Scale, float32(0))

	b := m.Tensors[1]
	assert.Equal(t, "layer0.bias", b.Name)
	assert.Equal(t, "fp32", b.DType)

	// dequantized weights are close to the originals
	orig, _ := net.ParamLayers()[0].Params()
	out, err := w.Float32()
	require.NoError(t, err)
	amax := AbsMax(toFloat32(orig.RawMatrix().Data))
	for i, v := range toFloat32(orig.RawMatrix().Data) {
		assert.InDelta(t, v, out[i], float64(amax)/127)
	}
}

func TestQuantizeNetworkSmallTensor(t *testing.T) {
	// a 64x4 weight is below the size cutoff and stays in fp32
	net := testNet(t, 4)
	m, err := QuantizeNetwork(net, "small", FormatInt8, nil)
	require.NoError(t, err)
	assert.Equal(t, "fp32", m.Tensors[0].DType)
}

func TestQuantizeNetworkHalf(t *testing.T) {
	for _, format := range []Format{FormatFP16, FormatBF16} {
		net := testNet(t, 64)
		m, err := QuantizeNetwork(net, "half", format, nil)
		require.NoError(t, err)
		w := m.Tensors[0]
		assert.Equal(t, string(format), w.DType)
		out, err := w.Float32()
		require.NoError(t, err)
		require.Len(t, out, 64*64)
		w64, _ := net.ParamLayers()[0].Params()
		for i, v := range toFloat32(w64.RawMatrix().Data) {
			assert.InDelta(t, v, out[i], 0.01)
		}
	}
}

func TestQuantizeNetworkBadFormat(t *testing.T) {
	net := testNet(t, 64)
	_, err := QuantizeNetwork(net, "bad", Format("int4"), nil)
	require.Error(t, err)
}
