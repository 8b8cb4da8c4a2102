package nnet

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

const eps = 1e-8

func compareMatrix(t *testing.T, title string, m *mat.Dense, expect []float64) {
	t.Helper()
	t.Logf("== %s ==\n%v", title, mat.Formatted(m))
	data := m.RawMatrix().Data
	if len(data) != len(expect) {
		t.Fatal(title, "size mismatch!")
	}
	for i := range data {
		if math.Abs(data[i]-expect[i]) > eps {
			t.Errorf("%s mismatch at %d: got %g expect %g", title, i, data[i], expect[i])
			return
		}
	}
}

func testLinear() *linear {
	l := Linear{Nout: 2}.Marshal().Unmarshal().(*linear)
	l.Init([]int{2, 3})
	W := mat.NewDense(3, 2, []float64{1, 0, 0, 1, 1, 1})
	l.SetParams(W, []float64{0.1, 0.2})
	return l
}

func TestLinearFprop(t *testing.T) {
	lin := testLinear()
	relu := Activation{Atype: "relu"}.Marshal().Unmarshal()

	in := mat.NewDense(2, 3, []float64{1, 2, 3, 0, 1, -1})
	out := relu.Fprop(lin.Fprop(in))

	compareMatrix(t, "output", out, []float64{4.1, 5.2, 0, 0.2})
}

func TestLinearBprop(t *testing.T) {
	lin := testLinear()
	relu := Activation{Atype: "relu"}.Marshal().Unmarshal()

	in := mat.NewDense(2, 3, []float64{1, 2, 3, 0, 1, -1})
	relu.Fprop(lin.Fprop(in))

	grad := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	dsrc := lin.Bprop(relu.Bprop(grad))

	dW, dB := lin.ParamGrads()
	compareMatrix(t, "dW", dW, []float64{1, 1, 2, 3, 3, 2})
	if math.Abs(dB[0]-1) > eps || math.Abs(dB[1]-2) > eps {
		t.Error("dB mismatch: got", dB)
	}
	compareMatrix(t, "dsrc", dsrc, []float64{1, 1, 2, 0, 1, 1})
}

func TestSoftmax(t *testing.T) {
	sm := Softmax{}.Marshal().Unmarshal().(OutputLayer)
	in := mat.NewDense(2, 2, []float64{0, 0, 3, 3})
	out := sm.Fprop(in)
	compareMatrix(t, "softmax", out, []float64{0.5, 0.5, 0.5, 0.5})

	yOneHot := mat.NewDense(2, 2, []float64{1, 0, 0, 1})
	loss := sm.Loss(yOneHot, out)
	if math.Abs(loss-2*math.Log(2)) > eps {
		t.Error("loss mismatch: got", loss)
	}
}

func TestResidual(t *testing.T) {
	cfg := AddLayer([]ConfigLayer{Linear{Nout: 3}}, nil)
	layer := cfg.Marshal().Unmarshal().(*residual)
	layer.Init([]int{2, 3})

	// identity weights so the block output equals its input
	lin := layer.block[0].(*linear)
	lin.SetParams(mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), []float64{0, 0, 0})

	in := mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})
	out := layer.Fprop(in)
	compareMatrix(t, "output", out, []float64{2, 4, 6, 8, 10, 12})

	grad := mat.NewDense(2, 3, []float64{1, 0, 1, 0, 1, 0})
	dsrc := layer.Bprop(grad)
	compareMatrix(t, "dsrc", dsrc, []float64{2, 0, 2, 0, 2, 0})
}

func TestConfigRoundTrip(t *testing.T) {
	conf := Config{Eta: 0.1, TrainBatch: 10}.AddLayers(
		Linear{Nout: 8},
		Activation{Atype: "relu"},
		AddLayer([]ConfigLayer{Linear{Nout: 4}, Activation{Atype: "relu"}, Linear{Nout: 8}}, nil),
		Linear{Nout: 2},
		Softmax{},
	)
	for i, typ := range []string{"linear", "activation", "residual", "linear", "softmax"} {
		if conf.Layers[i].Type != typ {
			t.Errorf("layer %d: got type %s expect %s", i, conf.Layers[i].Type, typ)
		}
	}
	net := New(conf, 10, []int{4})
	if len(net.Layers) != 5 {
		t.Fatal("expect 5 layers, got", len(net.Layers))
	}
	if n := len(net.ParamLayers()); n != 4 {
		t.Error("expect 4 param layers, got", n)
	}
}
