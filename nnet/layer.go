package nnet

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Layer interface type represents one layer of the network. Inputs and
// outputs are batch major: row per sample, column per feature.
type Layer interface {
	Init(inShape []int) Layer
	OutShape(inShape []int) []int
	Fprop(in *mat.Dense) *mat.Dense
	Bprop(grad *mat.Dense) *mat.Dense
	ToString() string
}

// ParamLayer is a layer with weight and bias parameters
type ParamLayer interface {
	Layer
	InitParams(scale, bias float64, normal bool, rng *rand.Rand)
	Params() (W *mat.Dense, B []float64)
	ParamGrads() (dW *mat.Dense, dB []float64)
	SetParams(W *mat.Dense, B []float64)
}

// OutputLayer is the final layer in the stack, Loss returns the summed loss
// over the batch.
type OutputLayer interface {
	Layer
	Loss(yOneHot, yPred *mat.Dense) float64
}

// Layer configuration details
type LayerConfig struct {
	Type string
	Data json.RawMessage
}

type ConfigLayer interface {
	Marshal() LayerConfig
}

// Unmarshal JSON data and construct new layer
func (l LayerConfig) Unmarshal() Layer {
	switch l.Type {
	case "linear":
		cfg := new(Linear)
		unmarshal(l.Data, cfg)
		return &linear{Linear: *cfg}
	case "activation":
		cfg := new(Activation)
		unmarshal(l.Data, cfg)
		return newActivation(*cfg)
	case "residual":
		cfg := new(Residual)
		unmarshal(l.Data, cfg)
		return newResidual(*cfg)
	case "softmax":
		return &softmax{}
	default:
		panic("invalid layer type: " + l.Type)
	}
}

func (l LayerConfig) String() string {
	return l.Unmarshal().ToString()
}

// Linear fully connected layer, implements ParamLayer interface.
type Linear struct {
	Nout int
}

func (c Linear) Marshal() LayerConfig {
	return LayerConfig{Type: "linear", Data: marshal(c)}
}

func (c Linear) ToString() string {
	return fmt.Sprintf("linear %+v", c)
}

// Sigmoid, tanh or relu activation layer.
type Activation struct {
	Atype string
}

func (c Activation) Marshal() LayerConfig {
	return LayerConfig{Type: "activation", Data: marshal(c)}
}

func (c Activation) ToString() string {
	return fmt.Sprintf("activation %+v", c)
}

// Residual block: output is the sum of a stack of layers applied to the
// input and a shortcut. The shortcut is the identity unless Project is set,
// in which case it is its own layer stack.
type Residual struct {
	Block   []LayerConfig
	Project []LayerConfig
}

func (c Residual) Marshal() LayerConfig {
	return LayerConfig{Type: "residual", Data: marshal(c)}
}

func (c Residual) ToString() string {
	return fmt.Sprintf("residual [%d block, %d project]", len(c.Block), len(c.Project))
}

// AddLayer builds a residual block config from block and optional projection
// shortcut layers.
func AddLayer(block, project []ConfigLayer) Residual {
	c := Residual{}
	for _, l := range block {
		c.Block = append(c.Block, l.Marshal())
	}
	for _, l := range project {
		c.Project = append(c.Project, l.Marshal())
	}
	return c
}

// Softmax output layer with cross entropy loss.
type Softmax struct{}

func (c Softmax) Marshal() LayerConfig {
	return LayerConfig{Type: "softmax"}
}

func (c Softmax) ToString() string { return "softmax" }

// linear layer implementation
type linear struct {
	Linear
	paramBase
	src *mat.Dense
}

func (l *linear) OutShape(inShape []int) []int {
	return []int{inShape[0], l.Nout}
}

func (l *linear) Init(inShape []int) Layer {
	if len(inShape) != 2 {
		panic("Linear: expect 2 dimensional input")
	}
	l.paramBase = newParams(inShape[1], l.Nout)
	return l
}

func (l *linear) Fprop(in *mat.Dense) *mat.Dense {
	l.src = in
	nBatch, _ := in.Dims()
	dst := mat.NewDense(nBatch, l.Nout, nil)
	dst.Mul(in, l.w)
	for i := 0; i < nBatch; i++ {
		row := dst.RawRowView(i)
		for j, b := range l.b {
			row[j] += b
		}
	}
	return dst
}

func (l *linear) Bprop(grad *mat.Dense) *mat.Dense {
	nBatch, nIn := l.src.Dims()
	l.dw.Mul(l.src.T(), grad)
	for j := range l.db {
		l.db[j] = 0
	}
	for i := 0; i < nBatch; i++ {
		row := grad.RawRowView(i)
		for j := range l.db {
			l.db[j] += row[j]
		}
	}
	dsrc := mat.NewDense(nBatch, nIn, nil)
	dsrc.Mul(grad, l.w.T())
	return dsrc
}

// activation layer implementation
type activation struct {
	Activation
	src   *mat.Dense
	activ func(x float64) float64
	deriv func(x float64) float64
}

func newActivation(c Activation) *activation {
	l := &activation{Activation: c}
	switch c.Atype {
	case "sigmoid":
		l.activ = sigmoid
		l.deriv = sigmoidD
	case "tanh":
		l.activ = math.Tanh
		l.deriv = tanhD
	case "relu":
		l.activ = relu
		l.deriv = reluD
	default:
		panic(fmt.Sprintf("activation type %s invalid", c.Atype))
	}
	return l
}

func (l *activation) OutShape(inShape []int) []int { return inShape }

func (l *activation) Init(inShape []int) Layer { return l }

func (l *activation) Fprop(in *mat.Dense) *mat.Dense {
	l.src = in
	r, c := in.Dims()
	dst := mat.NewDense(r, c, nil)
	dst.Apply(func(i, j int, v float64) float64 { return l.activ(v) }, in)
	return dst
}

func (l *activation) Bprop(grad *mat.Dense) *mat.Dense {
	r, c := grad.Dims()
	dsrc := mat.NewDense(r, c, nil)
	dsrc.Apply(func(i, j int, v float64) float64 {
		return v * l.deriv(l.src.At(i, j))
	}, grad)
	return dsrc
}

// residual block implementation
type residual struct {
	Residual
	block   []Layer
	project []Layer
}

func newResidual(c Residual) *residual {
	l := &residual{Residual: c}
	for _, cfg := range c.Block {
		l.block = append(l.block, cfg.Unmarshal())
	}
	for _, cfg := range c.Project {
		l.project = append(l.project, cfg.Unmarshal())
	}
	return l
}

func (l *residual) OutShape(inShape []int) []int {
	shape := inShape
	for _, layer := range l.block {
		shape = layer.OutShape(shape)
	}
	return shape
}

func (l *residual) ToString() string { return l.Residual.ToString() }

func (l *residual) Init(inShape []int) Layer {
	shape := inShape
	for _, layer := range l.block {
		layer.Init(shape)
		shape = layer.OutShape(shape)
	}
	shape = inShape
	for _, layer := range l.project {
		layer.Init(shape)
		shape = layer.OutShape(shape)
	}
	return l
}

func (l *residual) Fprop(in *mat.Dense) *mat.Dense {
	out := in
	for _, layer := range l.block {
		out = layer.Fprop(out)
	}
	short := in
	for _, layer := range l.project {
		short = layer.Fprop(short)
	}
	r, c := out.Dims()
	dst := mat.NewDense(r, c, nil)
	dst.Add(out, short)
	return dst
}

func (l *residual) Bprop(grad *mat.Dense) *mat.Dense {
	g1 := grad
	for i := len(l.block) - 1; i >= 0; i-- {
		g1 = l.block[i].Bprop(g1)
	}
	g2 := grad
	for i := len(l.project) - 1; i >= 0; i-- {
		g2 = l.project[i].Bprop(g2)
	}
	r, c := g1.Dims()
	dsrc := mat.NewDense(r, c, nil)
	dsrc.Add(g1, g2)
	return dsrc
}

// paramLayersOf appends the param layers in the stack, descending into
// residual blocks in fprop order.
func paramLayersOf(list []ParamLayer, layers []Layer) []ParamLayer {
	for _, layer := range layers {
		switch l := layer.(type) {
		case *residual:
			list = paramLayersOf(list, l.block)
			list = paramLayersOf(list, l.project)
		case ParamLayer:
			list = append(list, l)
		}
	}
	return list
}

// softmax output layer
type softmax struct{}

func (l *softmax) ToString() string { return "softmax" }

func (l *softmax) OutShape(inShape []int) []int { return inShape }

func (l *softmax) Init(inShape []int) Layer { return l }

func (l *softmax) Fprop(in *mat.Dense) *mat.Dense {
	r, c := in.Dims()
	dst := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		row := in.RawRowView(i)
		max := row[0]
		for _, v := range row[1:] {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		out := dst.RawRowView(i)
		for j, v := range row {
			out[j] = math.Exp(v - max)
			sum += out[j]
		}
		for j := range out {
			out[j] /= sum
		}
	}
	return dst
}

// gradient at the output is computed by the trainer as yPred - yOneHot
func (l *softmax) Bprop(grad *mat.Dense) *mat.Dense {
	return grad
}

func (l *softmax) Loss(yOneHot, yPred *mat.Dense) float64 {
	r, c := yPred.Dims()
	loss := 0.0
	for i := 0; i < r; i++ {
		y := yOneHot.RawRowView(i)
		p := yPred.RawRowView(i)
		for j := 0; j < c; j++ {
			if y[j] != 0 {
				loss -= y[j] * math.Log(math.Max(p[j], 1e-12))
			}
		}
	}
	return loss
}

// weight and bias parameters
type paramBase struct {
	w, dw *mat.Dense
	b, db []float64
}

func newParams(nin, nout int) paramBase {
	return paramBase{
		w:  mat.NewDense(nin, nout, nil),
		dw: mat.NewDense(nin, nout, nil),
		b:  make([]float64, nout),
		db: make([]float64, nout),
	}
}

func (p paramBase) Params() (W *mat.Dense, B []float64) {
	return p.w, p.b
}

func (p paramBase) ParamGrads() (dW *mat.Dense, dB []float64) {
	return p.dw, p.db
}

func (p paramBase) InitParams(scale, bias float64, normal bool, rng *rand.Rand) {
	data := p.w.RawMatrix().Data
	for i := range data {
		if normal {
			data[i] = rng.NormFloat64() * scale
		} else {
			data[i] = (2*rng.Float64() - 1) * scale
		}
	}
	for i := range p.b {
		p.b[i] = bias
	}
}

func (p paramBase) SetParams(W *mat.Dense, B []float64) {
	p.w.Copy(W)
	copy(p.b, B)
}

func relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func reluD(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

func sigmoidD(x float64) float64 {
	s := sigmoid(x)
	return s * (1 - s)
}

func tanhD(x float64) float64 {
	t := math.Tanh(x)
	return 1 - t*t
}

func marshal(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshal(data json.RawMessage, v interface{}) {
	if len(data) == 0 {
		return
	}
	err := json.Unmarshal(data, v)
	if err != nil {
		panic(err)
	}
}
