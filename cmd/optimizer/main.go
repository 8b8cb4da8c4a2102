// Command optimizer drives the model optimization pipeline: train a
// classifier, prune it with a width search, quantize the weights and build
// a deployable engine.
package main

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/engine"
	"github.com/ishan-modi/TensorRT-Model-Optimizer/img"
	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"
	"github.com/ishan-modi/TensorRT-Model-Optimizer/prune"
	"github.com/ishan-modi/TensorRT-Model-Optimizer/quant"
	"github.com/ishan-modi/TensorRT-Model-Optimizer/web"
)

func main() {
	root := &cobra.Command{
		Use:          "optimizer",
		Short:        "train, prune, quantize and build engines for neural network classifiers",
		SilenceUsage: true,
	}
	root.AddCommand(initCmd(), synthCmd(), trainCmd(), pruneCmd(), quantizeCmd(), buildCmd(), serveCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <model>",
		Short: "write the default config for a builtin model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			build, ok := models[args[0]]
			if !ok {
				return fmt.Errorf("unknown model %q, have: %s", args[0], strings.Join(modelNames(), " "))
			}
			if err := os.MkdirAll(nnet.DataDir, 0755); err != nil {
				return err
			}
			conf := build()
			fmt.Println(conf)
			return conf.Save(args[0] + ".net")
		},
	}
}

func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train <model>",
		Short: "train the network and checkpoint the best weights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			conf, err := nnet.LoadConfig(model + ".net")
			if err != nil {
				return err
			}
			conf = applyOverrides(cmd, conf)
			net, trainData, tester, err := setup(model, conf)
			if err != nil {
				return err
			}
			fmt.Println(net)
			sched := conf.Schedule(trainData.Batches)
			return nnet.Train(net, sched, trainData, tester)
		},
	}
	addOverrideFlags(cmd)
	return cmd
}

func pruneCmd() *cobra.Command {
	var budget int
	var space []float64
	var epochs int
	cmd := &cobra.Command{
		Use:   "prune <model>",
		Short: "search for a pruned width under a parameter budget and fine tune",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			conf, net, err := loadTrained(model)
			if err != nil {
				return err
			}
			if len(space) == 0 {
				space = prune.DefaultSpace()
			}
			if budget <= 0 {
				budget = prune.ParamCount(net) / 2
			}
			res := prune.Search(net, space, budget)
			res.Report(os.Stdout)
			if res.Best < 0 {
				return fmt.Errorf("no candidate satisfies the %d parameter budget", budget)
			}
			best := res.Candidates[res.Best]
			fmt.Printf("pruning with width multiplier %.2f\n", best.Mult)
			pruned, err := prune.Apply(net, best.Mult)
			if err != nil {
				return err
			}
			// fine tune the pruned network
			prunedModel := model + "_pruned"
			conf = pruned.Config
			if epochs > 0 {
				conf.MaxEpoch = epochs
			}
			pruned.Config = conf
			if err = conf.Save(prunedModel + ".net"); err != nil {
				return err
			}
			_, trainData, tester, err := setupWith(pruned, prunedModel, conf)
			if err != nil {
				return err
			}
			sched := conf.Schedule(trainData.Batches)
			return nnet.Train(pruned, sched, trainData, tester)
		},
	}
	cmd.Flags().IntVar(&budget, "params", 0, "parameter budget, defaults to half the current count")
	cmd.Flags().Float64SliceVar(&space, "space", nil, "width multiplier search space")
	cmd.Flags().IntVar(&epochs, "epochs", 0, "fine tune epochs")
	return cmd
}

func quantizeCmd() *cobra.Command {
	var format string
	var percentile float64
	cmd := &cobra.Command{
		Use:   "quantize <model>",
		Short: "post training quantization of the trained weights",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			_, net, err := loadTrained(model)
			if err != nil {
				return err
			}
			var calib quant.Calibrator
			if percentile > 0 {
				calib = quant.NewHistogramCalibrator(percentile)
			}
			m, err := quant.QuantizeNetwork(net, model, quant.Format(format), calib)
			if err != nil {
				return err
			}
			filePath := path.Join(nnet.DataDir, model+".quant")
			f, err := os.Create(filePath)
			if err != nil {
				return err
			}
			defer f.Close()
			fmt.Printf("saving %s quantized model to %s\n", format, filePath)
			return gob.NewEncoder(f).Encode(m)
		},
	}
	cmd.Flags().StringVar(&format, "format", "int8", "quantization format: int8 fp16 bf16 fp32")
	cmd.Flags().Float64Var(&percentile, "percentile", 0, "histogram calibration percentile, 0 for max calibration")
	return cmd
}

func buildCmd() *cobra.Command {
	var tp int
	var output string
	cmd := &cobra.Command{
		Use:   "build <model>",
		Short: "build deployable engine files from the quantized model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			f, err := os.Open(path.Join(nnet.DataDir, model+".quant"))
			if err != nil {
				return fmt.Errorf("no quantized model, run quantize first: %w", err)
			}
			defer f.Close()
			m := new(quant.Model)
			if err = gob.NewDecoder(f).Decode(m); err != nil {
				return err
			}
			if output == "" {
				output = path.Join(nnet.DataDir, model+".engine")
			}
			files, err := engine.Build(m, output, tp)
			if err != nil {
				return err
			}
			for _, name := range files {
				if info, err := os.Stat(name); err == nil {
					fmt.Printf("built %s  %d bytes\n", name, info.Size())
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tp, "tp", 1, "tensor parallel degree")
	cmd.Flags().StringVar(&output, "output", "", "engine file path")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, user, pass string
	cmd := &cobra.Command{
		Use:   "serve <model>",
		Short: "web dashboard to monitor and control training",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			conf, err := nnet.LoadConfig(model + ".net")
			if err != nil {
				return err
			}
			data, err := nnet.LoadData(conf.DataSet)
			if err != nil {
				return err
			}
			srv := web.NewServer(model, conf, data)
			fmt.Println("serving dashboard at", addr)
			return http.ListenAndServe(addr, srv.Router(user, pass))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&user, "user", "", "basic auth user, empty to disable auth")
	cmd.Flags().StringVar(&pass, "pass", "", "basic auth password")
	return cmd
}

func addOverrideFlags(cmd *cobra.Command) {
	cmd.Flags().Float64("eta", 0, "base learning rate")
	cmd.Flags().Int("epochs", 0, "max epochs")
	cmd.Flags().Int("batch", 0, "train batch size")
	cmd.Flags().Int64("seed", 0, "random number seed")
}

func applyOverrides(cmd *cobra.Command, conf nnet.Config) nnet.Config {
	if v, _ := cmd.Flags().GetFloat64("eta"); v > 0 {
		conf.Eta = v
	}
	if v, _ := cmd.Flags().GetInt("epochs"); v > 0 {
		conf.MaxEpoch = v
	}
	if v, _ := cmd.Flags().GetInt("batch"); v > 0 {
		conf.TrainBatch = v
	}
	if v, _ := cmd.Flags().GetInt64("seed"); v != 0 {
		conf.RandSeed = v
	}
	return conf
}

// setup loads the data, splits off the validation partition and creates the
// network and logging tester.
func setup(model string, conf nnet.Config) (*nnet.Network, *nnet.Dataset, nnet.Tester, error) {
	return setupWith(nil, model, conf)
}

func setupWith(net *nnet.Network, model string, conf nnet.Config) (*nnet.Network, *nnet.Dataset, nnet.Tester, error) {
	data, err := nnet.LoadData(conf.DataSet)
	if err != nil {
		return nil, nil, nil, err
	}
	src, ok := data["train"]
	if !ok {
		return nil, nil, nil, fmt.Errorf("no train partition for %s: run synth first", conf.DataSet)
	}
	seed := conf.RandSeed
	if seed <= 0 {
		seed = time.Now().UTC().UnixNano()
		fmt.Println("random seed =", seed)
	}
	rng := rand.New(rand.NewSource(seed))
	if conf.Normalise {
		if d, ok := src.(*img.Data); ok {
			d.Normalise()
			if t, ok := data["test"].(*img.Data); ok {
				t.Scale(d.Mean, d.StdDev)
			}
		}
	}
	var train, valid nnet.Data
	if d, ok := src.(*img.Data); ok && conf.Distort && len(d.Dims) == 3 {
		// distortion applies to the training slice only
		n := d.Len() - int(float64(d.Len())*conf.ValidSplit)
		tr := d.Slice(0, n)
		tr.SetTransform(img.NewTransformer(d.Dims, img.HorizFlip|img.Pan, rng))
		train, valid = tr, d.Slice(n, d.Len())
	} else {
		train, valid = nnet.Split(src, conf.ValidSplit, rng)
	}
	trainData := nnet.NewDataset(train, conf.TrainBatch, conf.MaxSamples, rng)
	validData := nnet.NewDataset(valid, conf.TestBatch, conf.MaxSamples, rng)
	var testData *nnet.Dataset
	if d, ok := data["test"]; ok {
		testData = nnet.NewDataset(d, conf.TestBatch, conf.MaxSamples, rng)
	}
	if net == nil {
		net = nnet.New(conf, trainData.BatchSize, src.Shape())
		net.InitWeights(rng)
	}
	tester := nnet.NewTestLogger(validData, testData, conf.CheckpointPath(model))
	return net, trainData, tester, nil
}

// loadTrained rebuilds the network from the saved config and restores the
// checkpointed weights.
func loadTrained(model string) (nnet.Config, *nnet.Network, error) {
	conf, err := nnet.LoadConfig(model + ".net")
	if err != nil {
		return conf, nil, err
	}
	data, err := nnet.LoadData(conf.DataSet)
	if err != nil {
		return conf, nil, err
	}
	src, ok := data["train"]
	if !ok {
		return conf, nil, fmt.Errorf("no train partition for %s: run synth first", conf.DataSet)
	}
	net := nnet.New(conf, conf.TrainBatch, src.Shape())
	c, err := nnet.LoadCheckpoint(conf.CheckpointPath(model))
	if err != nil {
		return conf, nil, fmt.Errorf("no checkpoint, train the model first: %w", err)
	}
	fmt.Printf("loaded checkpoint: epoch %d accuracy %.2f%%\n", c.Epoch, c.Accuracy)
	return conf, net, c.Apply(net)
}
