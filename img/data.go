// Package img has image data sets and augmentation for training image
// classifiers.
package img

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/stats"
)

func init() {
	gob.Register(&Data{})
}

// Image data set which implements the nnet.Data interface. Pixel values are
// stored per image in row major order with the channel index innermost.
type Data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Images [][]float64
	Mean   []float64
	StdDev []float64
	trans  *Transformer
}

// Create a new image set. dims is height, width, channels.
func NewData(classes []string, dims []int, labels []int32, images [][]float64) *Data {
	return &Data{Class: classes, Dims: dims, Labels: labels, Images: images}
}

// Len function returns number of images
func (d *Data) Len() int { return len(d.Labels) }

// Classes returns the class names
func (d *Data) Classes() []string { return d.Class }

// Shape returns height, width, channels
func (d *Data) Shape() []int { return d.Dims }

// Label returns classification for given images
func (d *Data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

// Input returns the image data in buf, applying any transform set with
// SetTransform.
func (d *Data) Input(index []int, buf []float64) {
	nfeat := d.nfeat()
	for i, ix := range index {
		pix := d.Images[ix]
		if d.trans != nil {
			pix = d.trans.Transform(pix)
		}
		copy(buf[i*nfeat:], pix)
	}
}

// SetTransform sets the augmentation applied when batches are loaded,
// typically only on the training partition.
func (d *Data) SetTransform(t *Transformer) { d.trans = t }

// Slice returns images from start to end
func (d *Data) Slice(start, end int) *Data {
	data := *d
	data.Labels = append([]int32{}, d.Labels[start:end]...)
	data.Images = append([][]float64{}, d.Images[start:end]...)
	return &data
}

// Normalise rescales each channel to zero mean and unit stddev over the
// whole set and records the statistics so the same scaling can be applied
// to other partitions.
func (d *Data) Normalise() {
	channels := d.channels()
	avg := make([]stats.Average, channels)
	for _, img := range d.Images {
		for i, v := range img {
			avg[i%channels].Add(v)
		}
	}
	d.Mean = make([]float64, channels)
	d.StdDev = make([]float64, channels)
	for c := range avg {
		d.Mean[c] = avg[c].Mean
		d.StdDev[c] = avg[c].StdDev
		if d.StdDev[c] == 0 {
			d.StdDev[c] = 1
		}
	}
	d.Scale(d.Mean, d.StdDev)
}

// Scale applies per channel normalisation with the given statistics.
func (d *Data) Scale(mean, stddev []float64) {
	channels := d.channels()
	for _, img := range d.Images {
		for i := range img {
			c := i % channels
			img[i] = (img[i] - mean[c]) / stddev[c]
		}
	}
	d.Mean, d.StdDev = mean, stddev
}

// Encode data to binary file
func (d *Data) Encode(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(d); err != nil {
		return fmt.Errorf("error encoding image data: %s", err)
	}
	return nil
}

// Decode data from binary file
func Decode(r io.Reader) (*Data, error) {
	d := new(Data)
	if err := gob.NewDecoder(r).Decode(d); err != nil {
		return nil, fmt.Errorf("error decoding image data: %s", err)
	}
	return d, nil
}

// images without an explicit channel dim are treated as single channel
func (d *Data) channels() int {
	if len(d.Dims) == 3 {
		return d.Dims[2]
	}
	return 1
}

func (d *Data) nfeat() int {
	n := 1
	for _, dim := range d.Dims {
		n *= dim
	}
	return n
}
