// Package nnet contains routines for constructing, training and testing
// neural network classifiers.
package nnet

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Network type represents a multilayer neural network model.
type Network struct {
	Config
	Layers  []Layer
	inShape []int
}

// New function creates a new network with layers from the config.
// inShape is the per sample feature shape, inputs are flattened to one
// feature dimension.
func New(conf Config, batchSize int, inShape []int) *Network {
	n := &Network{Config: conf}
	n.inShape = []int{batchSize, Prod(inShape)}
	shape := n.inShape
	for _, l := range conf.Layers {
		layer := l.Unmarshal()
		layer.Init(shape)
		n.Layers = append(n.Layers, layer)
		shape = layer.OutShape(shape)
	}
	return n
}

// Initialise network weights using a uniform or normal distribution.
// Weights for each layer are scaled by 1/sqrt(nin)
func (n *Network) InitWeights(rng *rand.Rand) {
	initWeights(n.Layers, n.inShape, n.Bias, n.NormalWeights, rng)
}

func initWeights(layers []Layer, shape []int, bias float64, normal bool, rng *rand.Rand) {
	for _, layer := range layers {
		switch l := layer.(type) {
		case *residual:
			initWeights(l.block, shape, bias, normal, rng)
			initWeights(l.project, shape, bias, normal, rng)
		case ParamLayer:
			scale := 1 / math.Sqrt(float64(shape[1]))
			l.InitParams(scale, bias, normal, rng)
		}
		shape = layer.OutShape(shape)
	}
}

// ParamLayers returns the layers with weights in fprop order, descending
// into residual blocks.
func (n *Network) ParamLayers() []ParamLayer {
	return paramLayersOf(nil, n.Layers)
}

// InShape returns the batch input shape: batch size, features.
func (n *Network) InShape() []int {
	return n.inShape
}

// Accessor for output layer
func (n *Network) OutLayer() OutputLayer {
	return n.Layers[len(n.Layers)-1].(OutputLayer)
}

// Feed forward the input to get the predicted output
func (n *Network) Fprop(input *mat.Dense) *mat.Dense {
	pred := input
	for i, layer := range n.Layers {
		if n.DebugLevel >= 3 {
			fmt.Printf("layer %d input %v\n", i, mat.Formatted(pred))
		}
		pred = layer.Fprop(pred)
	}
	return pred
}

// Predict the class for each sample in the batch, writing the argmax of the
// output distribution to classes if it is not nil.
func (n *Network) Predict(input *mat.Dense, classes []int32) *mat.Dense {
	yPred := n.Fprop(input)
	if classes != nil {
		Argmax(yPred, classes)
	}
	return yPred
}

// Error returns the classification error on the dataset: fraction of top-1
// mispredictions. If pred is not nil the predicted classes are written to it.
func (n *Network) Error(dset *Dataset, pred []int32) (float64, error) {
	errors := 0
	classes := make([]int32, dset.BatchSize)
	dset.Rewind()
	for batch := 0; batch < dset.Batches; batch++ {
		x, y, _, err := dset.NextBatch()
		if err != nil {
			return 0, err
		}
		nBatch, _ := x.Dims()
		n.Predict(x, classes[:nBatch])
		for i := 0; i < nBatch; i++ {
			if classes[i] != y[i] {
				errors++
			}
		}
		if pred != nil {
			copy(pred[batch*dset.BatchSize:], classes[:nBatch])
		}
	}
	return float64(errors) / float64(dset.Samples), nil
}

// Accuracy returns the percentage of exact top-1 label matches on the
// dataset. The model is not mutated: evaluation runs forward only.
func (n *Network) Accuracy(dset *Dataset) (float64, error) {
	errVal, err := n.Error(dset, nil)
	if err != nil {
		return 0, err
	}
	return 100 * (1 - errVal), nil
}

// Copy weights and bias values to the destination net, which must have the
// same layer config.
func (n *Network) CopyTo(net *Network) {
	src := n.ParamLayers()
	dst := net.ParamLayers()
	for i, l := range src {
		W, B := l.Params()
		dst[i].SetParams(W, B)
	}
}

// Print network description
func (n *Network) String() string {
	s := make([]string, len(n.Layers))
	shape := n.inShape
	for i, layer := range n.Layers {
		s[i] = fmt.Sprintf("%2d: %-30s %v", i, layer.ToString(), shape)
		shape = layer.OutShape(shape)
	}
	return fmt.Sprintf("== Config ==\n%s\n== Network ==\n%s", n.Config, strings.Join(s, "\n"))
}

// Argmax writes the index of the max value in each row of m to classes.
func Argmax(m *mat.Dense, classes []int32) {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		best, bestVal := 0, row[0]
		for j := 1; j < c; j++ {
			if row[j] > bestVal {
				best, bestVal = j, row[j]
			}
		}
		classes[i] = int32(best)
	}
}

// Onehot encodes the labels as a one hot matrix with classes columns.
func Onehot(labels []int32, classes int) *mat.Dense {
	m := mat.NewDense(len(labels), classes, nil)
	for i, l := range labels {
		m.Set(i, int(l), 1)
	}
	return m
}

// Prod returns the product of the dimensions.
func Prod(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// Exit in case of error
func CheckErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
