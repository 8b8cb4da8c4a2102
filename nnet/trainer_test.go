package nnet

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/mat"
)

// two linearly separable clusters
func clusterData(n int, rng *rand.Rand) Data {
	labels := make([]int32, n)
	inputs := make([]float64, n*2)
	for i := 0; i < n; i++ {
		class := int32(i % 2)
		labels[i] = class
		sign := float64(2*class - 1)
		inputs[2*i] = sign*2 + rng.NormFloat64()*0.3
		inputs[2*i+1] = rng.NormFloat64() * 0.3
	}
	return NewData(2, []int{2}, labels, inputs)
}

func testConfig() Config {
	return Config{
		Eta:        0.1,
		Momentum:   0.9,
		MaxEpoch:   2,
		TrainBatch: 2,
		RandSeed:   42,
	}.AddLayers(
		Linear{Nout: 2},
		Softmax{},
	)
}

func TestTrainTwoEpochs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	conf := testConfig()
	dset := NewDataset(clusterData(4, rng), conf.TrainBatch, 0, rng)
	valid := NewDataset(clusterData(4, rng), 0, 0, rng)

	net := New(conf, conf.TrainBatch, []int{2})
	net.InitWeights(rng)
	ckpt := filepath.Join(t.TempDir(), "tiny.ckpt")
	tb := NewTestBase(valid, nil, ckpt)

	err := Train(net, conf.Schedule(dset.Batches), dset, tb)
	if err != nil {
		t.Fatal(err)
	}
	if len(tb.Stats) != 2 {
		t.Fatal("expect stats for 2 epochs, got", len(tb.Stats))
	}
	best := 0.0
	for _, s := range tb.Stats {
		if math.IsNaN(s.Loss) || s.Loss <= 0 {
			t.Error("epoch", s.Epoch, "invalid loss", s.Loss)
		}
		best = math.Max(best, s.ValidAcc)
	}
	// restored weights reproduce the best recorded accuracy
	acc, err := net.Accuracy(valid)
	if err != nil {
		t.Fatal(err)
	}
	if acc != best {
		t.Errorf("restored accuracy %v, best recorded %v", acc, best)
	}
	if _, err = LoadCheckpoint(ckpt); err != nil {
		t.Error("expect a checkpoint file:", err)
	}
}

func TestTrainConverges(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	conf := testConfig()
	conf.MaxEpoch = 30
	conf.TrainBatch = 10
	conf.Shuffle = true
	dset := NewDataset(clusterData(100, rng), conf.TrainBatch, 0, rng)
	valid := NewDataset(clusterData(50, rng), 0, 0, rng)

	net := New(conf, conf.TrainBatch, []int{2})
	net.InitWeights(rng)
	tb := NewTestBase(valid, nil, filepath.Join(t.TempDir(), "test.ckpt"))

	err := Train(net, conf.Schedule(dset.Batches), dset, tb)
	if err != nil {
		t.Fatal(err)
	}
	if tb.BestAcc < 95 {
		t.Error("expect at least 95% accuracy on separable data, got", tb.BestAcc)
	}
	// restored weights reproduce the checkpointed accuracy
	acc, err := net.Accuracy(valid)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(acc-tb.BestAcc) > 1e-9 {
		t.Errorf("restored accuracy %v != best %v", acc, tb.BestAcc)
	}
}

func TestBestEpochTieBreak(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	conf := testConfig()
	conf.MaxEpoch = 5
	valid := NewDataset(clusterData(10, rng), 0, 0, rng)
	net := New(conf, 2, []int{2})
	net.InitWeights(rng)

	// identical accuracy each epoch: the later epoch wins the tie
	tb := NewTestBase(valid, nil, "")
	start := time.Now()
	for epoch := 1; epoch <= 3; epoch++ {
		tb.Test(net, epoch, 1.0, start)
	}
	if tb.BestEpoch != 3 {
		t.Error("tie should resolve to the last epoch, got", tb.BestEpoch)
	}
	if s := tb.Stats[len(tb.Stats)-1]; s.BestSince != 0 {
		t.Error("expect BestSince 0, got", s.BestSince)
	}
}

func TestEarlyStop(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	conf := testConfig()
	conf.MaxEpoch = 100
	conf.MinLoss = 1e-9
	conf.StopAfter = 3
	valid := NewDataset(clusterData(10, rng), 0, 0, rng)
	net := New(conf, 2, []int{2})
	net.InitWeights(rng)

	start := time.Now()
	// pin the best accuracy out of reach so BestSince grows every epoch
	tb2 := NewTestBase(valid, nil, "")
	tb2.BestAcc = 200
	tb2.BestEpoch = 1
	done := false
	epoch := 1
	for !done {
		epoch++
		done = tb2.Test(net, epoch, 1.0, start)
	}
	if epoch != 4 {
		t.Error("expect stop 3 epochs after the best, got epoch", epoch)
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	conf := testConfig()
	net := New(conf, 2, []int{2})
	net.InitWeights(rng)
	w0, _ := net.ParamLayers()[0].Params()
	saved := mat.DenseCopyOf(w0)

	path := filepath.Join(t.TempDir(), "net.ckpt")
	if err := SaveCheckpoint(net, 7, 99.5, path); err != nil {
		t.Fatal(err)
	}
	// clobber the weights then restore
	net.InitWeights(rng)
	c, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Epoch != 7 || c.Accuracy != 99.5 {
		t.Errorf("bad checkpoint metadata: epoch %d acc %v", c.Epoch, c.Accuracy)
	}
	if err = c.Apply(net); err != nil {
		t.Fatal(err)
	}
	w1, _ := net.ParamLayers()[0].Params()
	if !mat.EqualApprox(saved, w1, 1e-12) {
		t.Error("restored weights differ from saved")
	}
}
