package nnet

import (
	"math"
	"testing"
)

const rateEps = 1e-10

func TestScheduleWarmup(t *testing.T) {
	s := NewSchedule(0.1, 0.01, 10, 40)
	if r := s.RateAt(0); math.Abs(r-0.01) > rateEps {
		t.Error("rate at step 0 should be the warmup rate, got", r)
	}
	if r := s.RateAt(10); math.Abs(r-0.1) > rateEps {
		t.Error("rate at end of warmup should be the base rate, got", r)
	}
	// linear ramp is strictly increasing
	prev := s.RateAt(0)
	for i := 1; i < 10; i++ {
		r := s.RateAt(i)
		if r <= prev {
			t.Errorf("warmup rate not increasing at step %d: %g <= %g", i, r, prev)
		}
		prev = r
	}
}

func TestScheduleDecay(t *testing.T) {
	s := NewSchedule(0.1, 0.01, 10, 40)
	if r := s.RateAt(50); math.Abs(r) > rateEps {
		t.Error("rate at end of decay should be zero, got", r)
	}
	// cosine midpoint is half the base rate
	if r := s.RateAt(30); math.Abs(r-0.05) > rateEps {
		t.Error("rate at decay midpoint should be eta/2, got", r)
	}
	prev := s.RateAt(10)
	for i := 11; i <= 50; i++ {
		r := s.RateAt(i)
		if r > prev+rateEps {
			t.Errorf("decay rate increased at step %d: %g > %g", i, r, prev)
		}
		prev = r
	}
}

func TestScheduleStep(t *testing.T) {
	s := NewSchedule(0.1, 0.01, 4, 16)
	for i := 0; i < 20; i++ {
		if r, r2 := s.Rate(), s.RateAt(i); r != r2 {
			t.Fatalf("step %d: Rate()=%g but RateAt=%g", i, r, r2)
		}
		s2 := s.Step()
		if s2.Steps != s.Steps+1 {
			t.Fatal("Step should advance the counter by one")
		}
		s = s2
	}
}

func TestScheduleNoWarmup(t *testing.T) {
	s := NewSchedule(0.1, 0, 0, 10)
	if r := s.RateAt(0); math.Abs(r-0.1) > rateEps {
		t.Error("with no warmup the first rate is the base rate, got", r)
	}
}
