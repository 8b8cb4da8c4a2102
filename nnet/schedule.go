package nnet

import "math"

// Schedule is a learning rate schedule with linear warmup followed by cosine
// decay. It is a value: Step returns an advanced copy so a schedule can be
// shared or replayed without hidden state.
type Schedule struct {
	BaseRate    float64
	WarmupRate  float64
	WarmupSteps int
	DecaySteps  int
	Steps       int
}

// NewSchedule creates a schedule which ramps linearly from warmup to base
// over warmupSteps optimizer steps, then decays to zero over decaySteps.
func NewSchedule(base, warmup float64, warmupSteps, decaySteps int) Schedule {
	return Schedule{BaseRate: base, WarmupRate: warmup, WarmupSteps: warmupSteps, DecaySteps: decaySteps}
}

// Rate is the learning rate at the current step.
func (s Schedule) Rate() float64 {
	return s.RateAt(s.Steps)
}

// RateAt returns the learning rate at step t. During warmup the rate ramps
// linearly from WarmupRate at t=0 to BaseRate at t=WarmupSteps, after that it
// follows a half cosine from BaseRate down to zero at WarmupSteps+DecaySteps.
func (s Schedule) RateAt(t int) float64 {
	if t < s.WarmupSteps {
		return s.WarmupRate + (s.BaseRate-s.WarmupRate)*float64(t)/float64(s.WarmupSteps)
	}
	u := float64(t - s.WarmupSteps)
	d := float64(s.DecaySteps)
	if d <= 0 {
		d = 1
	}
	return 0.5 * s.BaseRate * (1 + math.Cos(math.Pi*u/d))
}

// Step returns a copy of the schedule advanced by one optimizer step.
func (s Schedule) Step() Schedule {
	s.Steps++
	return s
}
