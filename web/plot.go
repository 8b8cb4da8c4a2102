package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgsvg"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"
)

const (
	plotWidth  = 5 * vg.Inch
	plotHeight = 3 * vg.Inch
)

func (s *Server) plotHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	stats := s.Stats()
	plt := newPlot()
	plt.X.Label.Text = "epoch"
	switch name {
	case "loss":
		line := newLinePlot(stats, func(s nnet.Stats) float64 { return s.Loss })
		plt.Add(line)
		plt.Legend.Add("training loss ", line)
	case "accuracy":
		valid := newLinePlot(stats, func(s nnet.Stats) float64 { return s.ValidAcc })
		plt.Add(valid)
		plt.Legend.Add("valid % ", valid)
		test := newLinePlot(stats, func(s nnet.Stats) float64 { return s.TestAcc })
		test.Color = plotutil.Color(1)
		plt.Add(test)
		plt.Legend.Add("test % ", test)
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	writePlot(w, plt)
}

func newPlot() *plot.Plot {
	p := plot.New()
	p.X.Padding, p.Y.Padding = 0, 0
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	return p
}

func newLinePlot(stats []nnet.Stats, get func(nnet.Stats) float64) *plotter.Line {
	pts := make(plotter.XYs, len(stats))
	for i, s := range stats {
		pts[i].X, pts[i].Y = float64(s.Epoch), get(s)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		panic(err)
	}
	line.Color = plotutil.Color(0)
	return line
}

func writePlot(w http.ResponseWriter, p *plot.Plot) {
	c := vgsvg.New(plotWidth, plotHeight)
	p.Draw(draw.New(c))
	if _, err := c.WriteTo(w); err != nil {
		logError(w, err)
	}
}
