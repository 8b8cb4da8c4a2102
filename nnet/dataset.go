package nnet

import (
	"encoding/gob"
	"fmt"
	"math/rand"
	"os"
	"path"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// DataTypes are the recognised dataset partitions.
var DataTypes = []string{"train", "test", "valid"}

func init() {
	gob.Register(data{})
	gob.Register(&subset{})
}

// Data interface type represents the raw data for a training or test set
type Data interface {
	Len() int
	Classes() []string
	Shape() []int
	Label(index []int, label []int32)
	Input(index []int, buf []float64)
}

// Dataset type encapsulates a set of training, test or validation data.
// Batches are loaded into a double buffer by a background goroutine so the
// next batch is ready while the current one is being consumed; consumption
// order is strictly sequential.
type Dataset struct {
	Data
	Samples   int
	BatchSize int
	Batches   int
	x         [2]*mat.Dense
	y         [2][]int32
	y1H       [2]*mat.Dense
	indexes   []int
	buf       int
	batch     int
	rng       *rand.Rand
	group     errgroup.Group
}

// Create a new Dataset struct, set the batch size and maxSamples and kick
// off the load of the first batch.
func NewDataset(data Data, batchSize, maxSamples int, rng *rand.Rand) *Dataset {
	d := &Dataset{Data: data, Samples: data.Len(), rng: rng}
	if maxSamples > 0 && d.Samples > maxSamples {
		d.Samples = maxSamples
	}
	if batchSize == 0 || batchSize > d.Samples {
		d.BatchSize = d.Samples
	} else {
		d.BatchSize = batchSize
	}
	d.Batches = d.Samples / d.BatchSize
	if d.Samples%d.BatchSize != 0 {
		d.Batches++
	}
	d.indexes = make([]int, d.Samples)
	for i := range d.indexes {
		d.indexes[i] = i
	}
	d.loadBatch()
	return d
}

// kick off load of next batch of data in background
func (d *Dataset) loadBatch() {
	batch, buf := d.batch, d.buf
	d.group.Go(func() error {
		start := batch * d.BatchSize
		end := start + d.BatchSize
		if end > d.Samples {
			end = d.Samples
		}
		idx := d.indexes[start:end]
		nfeat := Prod(d.Shape())
		xBuf := make([]float64, len(idx)*nfeat)
		yBuf := make([]int32, len(idx))
		d.Input(idx, xBuf)
		d.Label(idx, yBuf)
		d.x[buf] = mat.NewDense(len(idx), nfeat, xBuf)
		d.y[buf] = yBuf
		d.y1H[buf] = Onehot(yBuf, len(d.Classes()))
		return nil
	})
}

// Get next batch of data. The returned matrices are owned by the dataset
// and valid until the batch after next is requested.
func (d *Dataset) NextBatch() (x *mat.Dense, y []int32, yOneHot *mat.Dense, err error) {
	if err = d.group.Wait(); err != nil {
		return
	}
	x, y, yOneHot = d.x[d.buf], d.y[d.buf], d.y1H[d.buf]
	d.batch = (d.batch + 1) % d.Batches
	d.buf = (d.buf + 1) % 2
	d.loadBatch()
	return
}

// Rewind to start of data
func (d *Dataset) Rewind() {
	d.group.Wait()
	d.batch = 0
	d.loadBatch()
}

// Shuffle the data set order, should be called between epochs
func (d *Dataset) Shuffle() {
	d.group.Wait()
	d.indexes = d.rng.Perm(d.Samples)
}

// Split partitions the data into a train and validation set with a fixed
// seeded shuffle. validFrac of the samples, rounded down, form the
// validation set; the partitions are disjoint and together cover the input.
func Split(d Data, validFrac float64, rng *rand.Rand) (train, valid Data) {
	n := d.Len()
	nValid := int(float64(n) * validFrac)
	perm := rng.Perm(n)
	train = &subset{Src: d, Index: perm[:n-nValid]}
	valid = &subset{Src: d, Index: perm[n-nValid:]}
	return
}

// subset is a view on indexes of an underlying data set
type subset struct {
	Src   Data
	Index []int
}

func (s *subset) Len() int { return len(s.Index) }

func (s *subset) Classes() []string { return s.Src.Classes() }

func (s *subset) Shape() []int { return s.Src.Shape() }

func (s *subset) Label(index []int, label []int32) {
	ix := make([]int, len(index))
	for i, j := range index {
		ix[i] = s.Index[j]
	}
	s.Src.Label(ix, label)
}

func (s *subset) Input(index []int, buf []float64) {
	ix := make([]int, len(index))
	for i, j := range index {
		ix[i] = s.Index[j]
	}
	s.Src.Input(ix, buf)
}

// Load data partitions from disk given the model name.
func LoadData(model string) (d map[string]Data, err error) {
	var data Data
	d = make(map[string]Data)
	for _, key := range DataTypes {
		name := model + "_" + key
		if FileExists(name + ".dat") {
			if data, err = LoadDataFile(name); err != nil {
				return
			}
			d[key] = data
		}
	}
	return d, nil
}

// Decode data from file in gob format under DataDir
func LoadDataFile(name string) (Data, error) {
	filePath := path.Join(DataDir, name+".dat")
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fmt.Printf("loading data from %s.dat:\t", name)
	var d Data
	if err = gob.NewDecoder(f).Decode(&d); err != nil {
		return nil, err
	}
	fmt.Println(append(d.Shape(), d.Len()))
	return d, nil
}

// Encode in gob format and save to file under DataDir
func SaveDataFile(d Data, name string) error {
	filePath := path.Join(DataDir, name+".dat")
	f, err := os.Create(filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Println("saving data to", name+".dat")
	return gob.NewEncoder(f).Encode(&d)
}

type data struct {
	Class  []string
	Dims   []int
	Labels []int32
	Inputs []float64
}

// NewData function creates a new data set which implements the Data interface
func NewData(nclasses int, shape []int, labels []int32, inputs []float64) Data {
	classes := make([]string, nclasses)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	return data{Class: classes, Dims: shape, Labels: labels, Inputs: inputs}
}

func (d data) Len() int { return len(d.Labels) }

func (d data) Classes() []string { return d.Class }

func (d data) Shape() []int { return d.Dims }

func (d data) Label(index []int, label []int32) {
	for i, ix := range index {
		label[i] = d.Labels[ix]
	}
}

func (d data) Input(index []int, buf []float64) {
	nfeat := Prod(d.Dims)
	for i, ix := range index {
		copy(buf[i*nfeat:], d.Inputs[ix*nfeat:(ix+1)*nfeat])
	}
}
