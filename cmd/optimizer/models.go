package main

import (
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/img"
	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"

	"github.com/spf13/cobra"
)

// builtin model definitions
var models = map[string]func() nnet.Config{
	"mlp":      mlpNet,
	"res":      func() nnet.Config { return resNet(2, 1) },
	"res_wide": func() nnet.Config { return resNet(2, 2) },
	"res_deep": func() nnet.Config { return resNet(4, 1) },
}

func modelNames() []string {
	names := make([]string, 0, len(models))
	for name := range models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func baseConf() nnet.Config {
	return nnet.Config{
		DataSet:     "blobs",
		Eta:         0.1,
		EtaWarmup:   0.01,
		WarmupSteps: 20,
		Lambda:      1,
		Momentum:    0.9,
		Nesterov:    true,
		MaxEpoch:    50,
		StopAfter:   10,
		TrainBatch:  32,
		TestBatch:   100,
		ValidSplit:  0.1,
		Shuffle:     true,
		Normalise:   true,
		RandSeed:    42,
	}
}

// mlpNet is a plain multilayer perceptron.
func mlpNet() nnet.Config {
	return baseConf().AddLayers(
		nnet.Linear{Nout: 64},
		nnet.Activation{Atype: "relu"},
		nnet.Linear{Nout: 10},
		nnet.Softmax{},
	)
}

// resBlock is a bottleneck residual block: the trunk width is preserved by
// the shortcut so pruning only touches the hidden layer.
func resBlock(hidden, trunk int) nnet.ConfigLayer {
	return nnet.AddLayer([]nnet.ConfigLayer{
		nnet.Linear{Nout: hidden},
		nnet.Activation{Atype: "relu"},
		nnet.Linear{Nout: trunk},
	}, nil)
}

// resNet stacks residual blocks on a fixed width trunk.
func resNet(stack, width int) nnet.Config {
	trunk := 64
	hidden := 64 * width
	c := baseConf().AddLayers(
		nnet.Linear{Nout: trunk},
		nnet.Activation{Atype: "relu"},
	)
	for i := 0; i < stack; i++ {
		c = c.AddLayers(resBlock(hidden, trunk))
	}
	return c.AddLayers(
		nnet.Linear{Nout: 10},
		nnet.Softmax{},
	)
}

func synthCmd() *cobra.Command {
	var samples int
	var seed int64
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "generate the synthetic blobs dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(nnet.DataDir, 0755); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(seed))
			for _, typ := range []string{"train", "test"} {
				n := samples
				if typ == "test" {
					n = samples / 5
				}
				data := blobs(n, rng)
				fmt.Printf("writing %d %s samples\n", n, typ)
				if err := nnet.SaveDataFile(data, "blobs_"+typ); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&samples, "samples", 5000, "number of training samples")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random number seed")
	return cmd
}

// blobs draws samples from 10 gaussian clusters laid out on a circle in the
// first 2 of 16 dimensions, the rest is noise.
func blobs(n int, rng *rand.Rand) *img.Data {
	const classes = 10
	const dim = 16
	names := make([]string, classes)
	for i := range names {
		names[i] = fmt.Sprintf("c%d", i)
	}
	labels := make([]int32, n)
	images := make([][]float64, n)
	for i := range images {
		class := int32(i % classes)
		labels[i] = class
		angle := 2 * math.Pi * float64(class) / classes
		vec := make([]float64, dim)
		vec[0] = 3*math.Cos(angle) + rng.NormFloat64()*0.5
		vec[1] = 3*math.Sin(angle) + rng.NormFloat64()*0.5
		for j := 2; j < dim; j++ {
			vec[j] = rng.NormFloat64() * 0.5
		}
		images[i] = vec
	}
	return img.NewData(names, []int{dim}, labels, images)
}
