package stats

import (
	"math"
	"testing"
)

func TestAverage(t *testing.T) {
	s := new(Average)
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Add(x)
	}
	if s.Count != 8 || math.Abs(s.Mean-5) > 1e-9 {
		t.Error("expect mean 5 over 8 values, got", s.Mean)
	}
	expect := math.Sqrt(32.0 / 7.0)
	if math.Abs(s.StdDev-expect) > 1e-9 {
		t.Errorf("expect stddev %g, got %g", expect, s.StdDev)
	}
}

func TestEMA(t *testing.T) {
	var e EMA
	if v := e.Add(10, 5); v != 10 {
		t.Error("first value should pass through, got", v)
	}
	e = EMA(10)
	v := e.Add(13, 5)
	// k = 2/6, so 13/3 + 10*2/3
	if math.Abs(v-11) > 1e-9 {
		t.Error("expect 11, got", v)
	}
}
