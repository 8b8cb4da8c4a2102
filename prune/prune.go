// Package prune implements width search and pruning of trained networks.
// The search scores the hidden units of each residual block by weight
// magnitude, evaluates a set of width multipliers against a parameter
// budget and rebuilds the network with only the most important units kept.
// The pruned network is then fine tuned by the nnet trainer.
package prune

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"
)

// target is a prunable hidden width: the bottleneck between the two linear
// layers of a residual block.
type target struct {
	layerIx int // index of the residual in the top level config
	w1, w2  int // param layer indices of producer and consumer
	hidden  int // current width
}

// findTargets locates the prunable blocks and their param layer indices.
// Only residual blocks with exactly two linear layers are prunable: the
// block in/out widths are pinned by the shortcut, the bottleneck is free.
func findTargets(conf nnet.Config) []target {
	var targets []target
	pi := 0
	for ix, l := range conf.Layers {
		switch l.Type {
		case "linear":
			pi++
		case "residual":
			var res nnet.Residual
			if err := json.Unmarshal(l.Data, &res); err != nil {
				panic(err)
			}
			var linears []int
			var widths []int
			for _, bl := range res.Block {
				if bl.Type == "linear" {
					var lin nnet.Linear
					if err := json.Unmarshal(bl.Data, &lin); err != nil {
						panic(err)
					}
					linears = append(linears, pi)
					widths = append(widths, lin.Nout)
					pi++
				}
			}
			for _, bl := range res.Project {
				if bl.Type == "linear" {
					pi++
				}
			}
			if len(linears) == 2 {
				targets = append(targets, target{layerIx: ix, w1: linears[0], w2: linears[1], hidden: widths[0]})
			}
		}
	}
	return targets
}

// unitScores returns the importance of each hidden unit of a target: the L1
// norm of its incoming weights and bias plus its outgoing weights.
func unitScores(layers []nnet.ParamLayer, t target) []float64 {
	w1, b1 := layers[t.w1].Params()
	w2, _ := layers[t.w2].Params()
	nin, h := w1.Dims()
	_, nout := w2.Dims()
	scores := make([]float64, h)
	for j := 0; j < h; j++ {
		s := math.Abs(b1[j])
		for i := 0; i < nin; i++ {
			s += math.Abs(w1.At(i, j))
		}
		for k := 0; k < nout; k++ {
			s += math.Abs(w2.At(j, k))
		}
		scores[j] = s
	}
	return scores
}

// keepUnits returns the indices of the keep highest scoring units in
// ascending order.
func keepUnits(scores []float64, keep int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	kept := append([]int{}, idx[:keep]...)
	sort.Ints(kept)
	return kept
}

func prunedWidth(hidden int, mult float64) int {
	h := int(math.Round(float64(hidden) * mult))
	if h < 1 {
		h = 1
	}
	return h
}

// prunedConfig rebuilds the layer config with each target's hidden width
// scaled by mult.
func prunedConfig(conf nnet.Config, targets []target, mult float64) nnet.Config {
	out := conf
	out.Layers = append([]nnet.LayerConfig{}, conf.Layers...)
	for _, t := range targets {
		var res nnet.Residual
		if err := json.Unmarshal(out.Layers[t.layerIx].Data, &res); err != nil {
			panic(err)
		}
		seen := false
		for i, bl := range res.Block {
			if bl.Type != "linear" {
				continue
			}
			if seen {
				break // second linear keeps the block output width
			}
			var lin nnet.Linear
			if err := json.Unmarshal(bl.Data, &lin); err != nil {
				panic(err)
			}
			lin.Nout = prunedWidth(t.hidden, mult)
			res.Block[i] = lin.Marshal()
			seen = true
		}
		out.Layers[t.layerIx] = res.Marshal()
	}
	return out
}

// Apply rebuilds the network with each prunable hidden width scaled by mult,
// keeping the highest scoring units and copying their weights. The result
// needs fine tuning to recover accuracy.
func Apply(net *nnet.Network, mult float64) (*nnet.Network, error) {
	targets := findTargets(net.Config)
	if len(targets) == 0 {
		return nil, fmt.Errorf("no prunable residual blocks in network")
	}
	conf := prunedConfig(net.Config, targets, mult)
	batch, nfeat := net.InShape()[0], net.InShape()[1]
	pruned := nnet.New(conf, batch, []int{nfeat})

	src := net.ParamLayers()
	dst := pruned.ParamLayers()
	if len(src) != len(dst) {
		return nil, fmt.Errorf("pruned network has %d param layers, expected %d", len(dst), len(src))
	}
	kept := map[int][]int{} // param index of producer -> kept unit indexes
	for _, t := range targets {
		keep := prunedWidth(t.hidden, mult)
		kept[t.w1] = keepUnits(unitScores(src, t), keep)
	}
	consumer := map[int][]int{}
	for _, t := range targets {
		consumer[t.w2] = kept[t.w1]
	}
	for i := range src {
		w, b := src[i].Params()
		if units, ok := kept[i]; ok {
			// producer: keep selected columns and biases
			nin, _ := w.Dims()
			nw := mat.NewDense(nin, len(units), nil)
			nb := make([]float64, len(units))
			for jj, j := range units {
				for r := 0; r < nin; r++ {
					nw.Set(r, jj, w.At(r, j))
				}
				nb[jj] = b[j]
			}
			dst[i].SetParams(nw, nb)
		} else if units, ok := consumer[i]; ok {
			// consumer: keep selected rows
			_, nout := w.Dims()
			nw := mat.NewDense(len(units), nout, nil)
			for jj, j := range units {
				for c := 0; c < nout; c++ {
					nw.Set(jj, c, w.At(j, c))
				}
			}
			dst[i].SetParams(nw, b)
		} else {
			dst[i].SetParams(w, b)
		}
	}
	return pruned, nil
}

// ParamCount returns the total number of weight and bias parameters.
func ParamCount(net *nnet.Network) int {
	count := 0
	for _, l := range net.ParamLayers() {
		w, b := l.Params()
		r, c := w.Dims()
		count += r*c + len(b)
	}
	return count
}
