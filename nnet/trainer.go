package nnet

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/stats"
)

// Training statistics per epoch. Accuracy values are percentages.
type Stats struct {
	Epoch     int
	Loss      float64
	ValidAcc  float64
	TestAcc   float64
	AvgValid  float64
	BestSince int
	Elapsed   time.Duration
}

func (s Stats) Format() string {
	msg := fmt.Sprintf("epoch %3d:  loss =%7.4f  valid =%6.2f%%", s.Epoch, s.Loss, s.ValidAcc)
	if s.TestAcc != 0 {
		msg += fmt.Sprintf("  test =%6.2f%%", s.TestAcc)
	}
	if s.BestSince > 0 {
		msg += fmt.Sprintf(" [%d]", s.BestSince)
	}
	return msg
}

// Tester interface to evaluate performance after each epoch, Test method
// returns true if training should stop.
type Tester interface {
	Test(net *Network, epoch int, loss float64, start time.Time) bool
}

// Tester which evaluates validation and test accuracy for each epoch,
// checkpoints the weights whenever validation accuracy reaches a new
// maximum and can restore the best snapshot at the end of the run.
type TestBase struct {
	Valid      *Dataset
	TestData   *Dataset
	Stats      []Stats
	BestEpoch  int
	BestAcc    float64
	Checkpoint string
}

// Create a tester from the validation and optional test partition. path is
// the checkpoint file location.
func NewTestBase(valid, test *Dataset, path string) *TestBase {
	return &TestBase{Valid: valid, TestData: test, Checkpoint: path}
}

// Reset stats prior to a new run
func (t *TestBase) Reset() {
	t.Stats = t.Stats[:0]
	t.BestEpoch = 0
	t.BestAcc = 0
}

// Test performance of the network, called on completion of each epoch.
// Overwrites the checkpoint when validation accuracy >= the best so far,
// so a tie is resolved in favour of the later epoch.
func (t *TestBase) Test(net *Network, epoch int, loss float64, start time.Time) bool {
	s := Stats{Epoch: epoch, Loss: loss}
	acc, err := net.Accuracy(t.Valid)
	CheckErr(err)
	s.ValidAcc = acc
	if t.TestData != nil {
		acc, err = net.Accuracy(t.TestData)
		CheckErr(err)
		s.TestAcc = acc
	}
	if len(t.Stats) > 0 {
		s.AvgValid = stats.EMA(t.Stats[len(t.Stats)-1].AvgValid).Add(s.ValidAcc, emaN)
	} else {
		s.AvgValid = s.ValidAcc
	}
	if s.ValidAcc >= t.BestAcc {
		t.BestAcc = s.ValidAcc
		t.BestEpoch = epoch
		if t.Checkpoint != "" {
			CheckErr(SaveCheckpoint(net, epoch, s.ValidAcc, t.Checkpoint))
		}
	}
	s.BestSince = epoch - t.BestEpoch
	s.Elapsed = time.Since(start)
	t.Stats = append(t.Stats, s)
	return epoch >= net.MaxEpoch || loss <= net.MinLoss ||
		(net.StopAfter > 0 && s.BestSince >= net.StopAfter)
}

// Restore reloads the best checkpoint into the network, discarding the
// final epoch's weights if they were not the best.
func (t *TestBase) Restore(net *Network) error {
	if t.Checkpoint == "" || t.BestEpoch == 0 {
		return nil
	}
	c, err := LoadCheckpoint(t.Checkpoint)
	if err != nil {
		return err
	}
	return c.Apply(net)
}

const emaN = 10

type testLogger struct {
	*TestBase
}

// Create a new tester which logs stats to stdout.
func NewTestLogger(valid, test *Dataset, path string) Tester {
	return testLogger{TestBase: NewTestBase(valid, test, path)}
}

func (t testLogger) Test(net *Network, epoch int, loss float64, start time.Time) bool {
	done := t.TestBase.Test(net, epoch, loss, start)
	s := t.Stats[len(t.Stats)-1]
	if done || net.LogEvery == 0 || epoch%net.LogEvery == 0 {
		fmt.Println(s.Format())
	}
	if done {
		fmt.Printf("run time: %s\n", s.Elapsed.Round(10*time.Millisecond))
	}
	return done
}

// Train the network on the training set. One optimizer step and one schedule
// step are applied per batch. After the last epoch the weights are restored
// from the best checkpoint if the tester keeps one.
func Train(net *Network, sched Schedule, dset *Dataset, test Tester) error {
	opt := NewSGD(net.Config)
	if dset.Samples > 0 {
		opt.WeightDecay = net.Lambda / float64(dset.Samples)
	}
	start := time.Now()
	done := false
	for epoch := 1; epoch <= net.MaxEpoch && !done; epoch++ {
		loss, s, err := TrainEpoch(net, dset, sched, opt)
		if err != nil {
			return err
		}
		sched = s
		done = test.Test(net, epoch, loss, start)
	}
	if t, ok := test.(interface{ Restore(*Network) error }); ok {
		return t.Restore(net)
	}
	return nil
}

// Perform one training epoch on the dataset, returns the average loss per
// sample and the advanced schedule.
func TrainEpoch(net *Network, dset *Dataset, sched Schedule, opt *SGD) (float64, Schedule, error) {
	if net.Shuffle {
		dset.Shuffle()
	}
	dset.Rewind()
	lossSum := 0.0
	for batch := 0; batch < dset.Batches; batch++ {
		x, _, yOneHot, err := dset.NextBatch()
		if err != nil {
			return 0, sched, err
		}
		yPred := net.Fprop(x)
		lossSum += net.OutLayer().Loss(yOneHot, yPred)
		// gradient at the output
		r, c := yPred.Dims()
		grad := mat.NewDense(r, c, nil)
		grad.Sub(yPred, yOneHot)
		for i := len(net.Layers) - 1; i >= 0; i-- {
			grad = net.Layers[i].Bprop(grad)
		}
		opt.Step(net, sched.Rate(), r)
		sched = sched.Step()
		if net.DebugLevel >= 2 {
			fmt.Printf("batch %d: rate=%.6f |grad|=%.4f\n", batch, sched.Rate(), GradNorm(net))
		}
	}
	return lossSum / float64(dset.Samples), sched, nil
}
