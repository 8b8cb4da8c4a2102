package quant

import (
	"math"
	"sort"
)

// Calibrator collects value statistics and produces the amax used to scale
// the quantization grid.
type Calibrator interface {
	Collect(x []float32)
	Amax() float32
	Reset()
}

// MaxCalibrator tracks the global absolute maximum.
type MaxCalibrator struct {
	amax float32
}

func NewMaxCalibrator() *MaxCalibrator { return &MaxCalibrator{} }

func (c *MaxCalibrator) Collect(x []float32) {
	if m := AbsMax(x); m > c.amax {
		c.amax = m
	}
}

func (c *MaxCalibrator) Amax() float32 { return c.amax }

func (c *MaxCalibrator) Reset() { c.amax = 0 }

// HistogramCalibrator builds a histogram of absolute values and reports the
// given percentile as amax, which clips outliers that would otherwise
// stretch the grid.
type HistogramCalibrator struct {
	Percentile float64
	values     []float32
}

// NewHistogramCalibrator creates a calibrator reporting the given
// percentile, e.g. 99.9.
func NewHistogramCalibrator(percentile float64) *HistogramCalibrator {
	return &HistogramCalibrator{Percentile: percentile}
}

func (c *HistogramCalibrator) Collect(x []float32) {
	for _, v := range x {
		c.values = append(c.values, float32(math.Abs(float64(v))))
	}
}

func (c *HistogramCalibrator) Amax() float32 {
	if len(c.values) == 0 {
		return 0
	}
	sort.Slice(c.values, func(i, j int) bool { return c.values[i] < c.values[j] })
	ix := int(math.Ceil(c.Percentile/100*float64(len(c.values)))) - 1
	if ix < 0 {
		ix = 0
	}
	if ix >= len(c.values) {
		ix = len(c.values) - 1
	}
	return c.values[ix]
}

func (c *HistogramCalibrator) Reset() { c.values = c.values[:0] }
