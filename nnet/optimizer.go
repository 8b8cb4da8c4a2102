package nnet

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SGD is a momentum gradient descent optimizer. Velocity buffers are
// allocated lazily on the first step, one per param layer.
type SGD struct {
	Momentum    float64
	Nesterov    bool
	WeightDecay float64
	vW          []*mat.Dense
	vB          [][]float64
}

// NewSGD creates the optimizer from the training config. Lambda is scaled
// to a per sample weight decay by the trainer.
func NewSGD(conf Config) *SGD {
	return &SGD{Momentum: conf.Momentum, Nesterov: conf.Nesterov, WeightDecay: conf.Lambda}
}

// Step applies one update to each param layer. Gradients are averaged over
// the batch, weight decay is applied to the weights but not the biases.
func (o *SGD) Step(net *Network, lr float64, batchSize int) {
	layers := net.ParamLayers()
	if o.vW == nil {
		o.vW = make([]*mat.Dense, len(layers))
		o.vB = make([][]float64, len(layers))
		for i, l := range layers {
			w, b := l.Params()
			r, c := w.Dims()
			o.vW[i] = mat.NewDense(r, c, nil)
			o.vB[i] = make([]float64, len(b))
		}
	}
	scale := 1 / float64(batchSize)
	for i, l := range layers {
		w, b := l.Params()
		dw, db := l.ParamGrads()
		wData := w.RawMatrix().Data
		gData := dw.RawMatrix().Data
		v := o.vW[i].RawMatrix().Data
		for j := range wData {
			g := gData[j]*scale + o.WeightDecay*wData[j]
			v[j] = o.Momentum*v[j] + g
			if o.Nesterov {
				wData[j] -= lr * (g + o.Momentum*v[j])
			} else {
				wData[j] -= lr * v[j]
			}
		}
		vb := o.vB[i]
		for j := range b {
			g := db[j] * scale
			vb[j] = o.Momentum*vb[j] + g
			if o.Nesterov {
				b[j] -= lr * (g + o.Momentum*vb[j])
			} else {
				b[j] -= lr * vb[j]
			}
		}
	}
}

// GradNorm returns the L2 norm over all parameter gradients, used for debug
// logging.
func GradNorm(net *Network) float64 {
	sum := 0.0
	for _, l := range net.ParamLayers() {
		dw, db := l.ParamGrads()
		d := dw.RawMatrix().Data
		sum += floats.Dot(d, d)
		sum += floats.Dot(db, db)
	}
	return math.Sqrt(sum)
}
