package nnet

import (
	"encoding/gob"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Checkpoint is a snapshot of the model weights at the best validation
// accuracy seen so far. A single file is overwritten in place, there is no
// versioning.
type Checkpoint struct {
	Epoch    int
	Accuracy float64
	Weights  []LayerWeights
}

// LayerWeights holds the parameters for one layer in fprop order.
type LayerWeights struct {
	Rows, Cols int
	W, B       []float64
}

// SaveCheckpoint writes the current network weights to path, replacing any
// previous snapshot.
func SaveCheckpoint(net *Network, epoch int, accuracy float64, filePath string) error {
	c := Checkpoint{Epoch: epoch, Accuracy: accuracy}
	for _, l := range net.ParamLayers() {
		w, b := l.Params()
		r, cols := w.Dims()
		lw := LayerWeights{Rows: r, Cols: cols}
		lw.W = append(lw.W, w.RawMatrix().Data...)
		lw.B = append(lw.B, b...)
		c.Weights = append(c.Weights, lw)
	}
	tmp := filePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err = gob.NewEncoder(f).Encode(&c); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, filePath)
}

// LoadCheckpoint reads a snapshot back from disk.
func LoadCheckpoint(filePath string) (*Checkpoint, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c := new(Checkpoint)
	if err = gob.NewDecoder(f).Decode(c); err != nil {
		return nil, fmt.Errorf("error decoding checkpoint: %s", err)
	}
	return c, nil
}

// Apply restores the weights into the network, which must have the same
// layer config as the one the snapshot was taken from.
func (c *Checkpoint) Apply(net *Network) error {
	layers := net.ParamLayers()
	if len(layers) != len(c.Weights) {
		return fmt.Errorf("checkpoint has %d param layers, network has %d", len(c.Weights), len(layers))
	}
	for i, lw := range c.Weights {
		w, b := layers[i].Params()
		r, cols := w.Dims()
		if r != lw.Rows || cols != lw.Cols || len(b) != len(lw.B) {
			return fmt.Errorf("checkpoint layer %d shape mismatch: %dx%d vs %dx%d",
				i, lw.Rows, lw.Cols, r, cols)
		}
		layers[i].SetParams(mat.NewDense(lw.Rows, lw.Cols, lw.W), lw.B)
	}
	return nil
}
