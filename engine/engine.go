// Package engine builds and reads deployable engine files. An engine is a
// single binary container per tensor parallel rank: a fixed header, a CBOR
// encoded tensor index and the raw tensor data.
package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/quant"
)

var magic = [4]byte{'T', 'M', 'O', 'E'}

const version = 1

// TensorInfo describes one tensor in the engine data section.
type TensorInfo struct {
	Name   string  `cbor:"name"`
	Shape  []int   `cbor:"shape"`
	DType  string  `cbor:"dtype"`
	Scale  float32 `cbor:"scale,omitempty"`
	Offset uint64  `cbor:"offset"`
	Size   uint64  `cbor:"size"`
}

// Header is the engine metadata, serialized as CBOR after the magic bytes.
type Header struct {
	Name    string       `cbor:"name"`
	Format  string       `cbor:"format"`
	Rank    int          `cbor:"rank"`
	World   int          `cbor:"world"`
	Tensors []TensorInfo `cbor:"tensors"`
}

// Build writes the model as engine files. With tp == 1 a single file is
// written at path. With tp > 1 the weight tensors are split by output rows
// into tp shards named path-00001-of-0000N ... and the file list is
// returned.
func Build(m *quant.Model, path string, tp int) ([]string, error) {
	if tp < 1 {
		return nil, fmt.Errorf("invalid tensor parallel degree %d", tp)
	}
	if tp == 1 {
		if err := writeRank(m, path, 0, 1); err != nil {
			return nil, err
		}
		return []string{path}, nil
	}
	var files []string
	for rank := 0; rank < tp; rank++ {
		name := fmt.Sprintf("%s-%05d-of-%05d", path, rank+1, tp)
		if err := writeRank(m, name, rank, tp); err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, nil
}

func writeRank(m *quant.Model, path string, rank, world int) error {
	hdr := Header{Name: m.Name, Format: string(m.Format), Rank: rank, World: world}
	var data bytes.Buffer
	for _, t := range m.Tensors {
		shape, blob, err := shard(t, rank, world)
		if err != nil {
			return err
		}
		hdr.Tensors = append(hdr.Tensors, TensorInfo{
			Name:   t.Name,
			Shape:  shape,
			DType:  t.DType,
			Scale:  t.Scale,
			Offset: uint64(data.Len()),
			Size:   uint64(len(blob)),
		})
		data.Write(blob)
	}
	meta, err := cbor.Marshal(hdr)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err = f.Write(magic[:]); err != nil {
		return err
	}
	if err = binary.Write(f, binary.LittleEndian, uint32(version)); err != nil {
		return err
	}
	if err = binary.Write(f, binary.LittleEndian, uint32(len(meta))); err != nil {
		return err
	}
	if _, err = f.Write(meta); err != nil {
		return err
	}
	_, err = f.Write(data.Bytes())
	return err
}

// shard returns the rank's slice of the tensor. 2D tensors are split on the
// first dimension with any remainder going to the lower ranks, other
// tensors are replicated.
func shard(t quant.Tensor, rank, world int) ([]int, []byte, error) {
	if world == 1 || len(t.Shape) != 2 {
		return t.Shape, t.Data, nil
	}
	rows, cols := t.Shape[0], t.Shape[1]
	if rows < world {
		return nil, nil, fmt.Errorf("tensor %s: cannot split %d rows over %d ranks", t.Name, rows, world)
	}
	rowBytes := len(t.Data) / rows
	per, extra := rows/world, rows%world
	start := rank*per + min(rank, extra)
	n := per
	if rank < extra {
		n++
	}
	return []int{n, cols}, t.Data[start*rowBytes : (start+n)*rowBytes], nil
}

// Engine provides read access to one engine file.
type Engine struct {
	Header
	file    *os.File
	dataOff int64
}

// Open reads and verifies the engine header. Tensor data is read lazily.
func Open(path string) (*Engine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var m [4]byte
	if _, err = io.ReadFull(f, m[:]); err != nil {
		f.Close()
		return nil, err
	}
	if m != magic {
		f.Close()
		return nil, fmt.Errorf("%s is not an engine file", path)
	}
	var ver, metaLen uint32
	if err = binary.Read(f, binary.LittleEndian, &ver); err != nil {
		f.Close()
		return nil, err
	}
	if ver != version {
		f.Close()
		return nil, fmt.Errorf("unsupported engine version %d", ver)
	}
	if err = binary.Read(f, binary.LittleEndian, &metaLen); err != nil {
		f.Close()
		return nil, err
	}
	meta := make([]byte, metaLen)
	if _, err = io.ReadFull(f, meta); err != nil {
		f.Close()
		return nil, err
	}
	e := &Engine{file: f, dataOff: int64(12 + metaLen)}
	if err = cbor.Unmarshal(meta, &e.Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("error decoding engine header: %w", err)
	}
	return e, nil
}

// Close releases the underlying file.
func (e *Engine) Close() error { return e.file.Close() }

// TensorNames lists the tensors in file order.
func (e *Engine) TensorNames() []string {
	names := make([]string, len(e.Tensors))
	for i, t := range e.Tensors {
		names[i] = t.Name
	}
	return names
}

// Tensor reads the named tensor from the data section.
func (e *Engine) Tensor(name string) (TensorInfo, []byte, error) {
	for _, t := range e.Tensors {
		if t.Name == name {
			buf := make([]byte, t.Size)
			_, err := e.file.ReadAt(buf, e.dataOff+int64(t.Offset))
			if err != nil {
				return t, nil, err
			}
			return t, buf, nil
		}
	}
	return TensorInfo{}, nil, fmt.Errorf("tensor %s not found in engine", name)
}
