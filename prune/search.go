package prune

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/olekukonko/tablewriter"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"
)

// Candidate is one evaluated point in the width search space.
type Candidate struct {
	Mult       float64
	Hidden     []int
	Params     int
	Importance float64 // fraction of unit importance retained
	Feasible   bool
}

// Result holds the evaluated search space. Best is an index into Candidates
// or -1 if no candidate meets the constraint.
type Result struct {
	Candidates []Candidate
	MaxParams  int
	Best       int
}

// Search evaluates each width multiplier against the parameter budget and
// selects the feasible candidate retaining the most unit importance.
func Search(net *nnet.Network, space []float64, maxParams int) Result {
	targets := findTargets(net.Config)
	layers := net.ParamLayers()
	base := ParamCount(net)

	scores := make([][]float64, len(targets))
	totals := make([]float64, len(targets))
	for i, t := range targets {
		scores[i] = unitScores(layers, t)
		for _, s := range scores[i] {
			totals[i] += s
		}
	}

	mults := append([]float64{}, space...)
	sort.Float64s(mults)
	res := Result{MaxParams: maxParams, Best: -1}
	for _, mult := range mults {
		cand := Candidate{Mult: mult, Params: base}
		retained, total := 0.0, 0.0
		for i, t := range targets {
			h := prunedWidth(t.hidden, mult)
			cand.Hidden = append(cand.Hidden, h)
			w1, _ := layers[t.w1].Params()
			nin, _ := w1.Dims()
			w2, _ := layers[t.w2].Params()
			_, nout := w2.Dims()
			removed := t.hidden - h
			cand.Params -= removed * (nin + 1 + nout)
			for _, j := range keepUnits(scores[i], h) {
				retained += scores[i][j]
			}
			total += totals[i]
		}
		if total > 0 {
			cand.Importance = retained / total
		} else {
			cand.Importance = 1
		}
		cand.Feasible = cand.Params <= maxParams
		res.Candidates = append(res.Candidates, cand)
		if cand.Feasible && (res.Best < 0 || cand.Importance > res.Candidates[res.Best].Importance) {
			res.Best = len(res.Candidates) - 1
		}
	}
	return res
}

// Report writes the search space and constraint table.
func (r Result) Report(w io.Writer) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"width mult", "hidden", "params", "importance", "constraint"})
	for i, c := range r.Candidates {
		status := "exceeded"
		if c.Feasible {
			status = "satisfied"
		}
		if i == r.Best {
			status += " *"
		}
		table.Append([]string{
			fmt.Sprintf("%.2f", c.Mult),
			fmt.Sprint(c.Hidden),
			fmt.Sprint(c.Params),
			fmt.Sprintf("%.1f%%", 100*c.Importance),
			status,
		})
	}
	table.SetFooter([]string{"", "", fmt.Sprintf("budget %d", r.MaxParams), "", ""})
	table.Render()
}

// DefaultSpace is the width multiplier search space used when none is given.
func DefaultSpace() []float64 {
	var space []float64
	for m := 0.25; m <= 1.0+1e-9; m += 0.25 {
		space = append(space, math.Round(m*100)/100)
	}
	return space
}
