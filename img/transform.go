package img

import (
	"math/rand"
	"sort"
	"strings"
)

// Types of image transformations
type TransType int

const NoTrans TransType = 0

const (
	HorizFlip TransType = 1 << iota
	Pan
)

var PanPixels = 4

var transTypeNames = map[TransType]string{
	HorizFlip: "HorizFlip",
	Pan:       "Pan",
}

func (t TransType) String() string {
	if t == NoTrans {
		return "None"
	}
	s := []string{}
	for key, name := range transTypeNames {
		if t&key != 0 {
			s = append(s, name)
		}
	}
	sort.Strings(s)
	return strings.Join(s, " ")
}

// Transformer applies a sequence of random image transformations when
// loading a batch.
type Transformer struct {
	Trans   TransType
	h, w, c int
	rng     *rand.Rand
}

// Create a new transformer object for images with the given dims.
func NewTransformer(dims []int, trans TransType, rng *rand.Rand) *Transformer {
	return &Transformer{Trans: trans, h: dims[0], w: dims[1], c: dims[2], rng: rng}
}

// Transform returns a transformed copy of the image pixels.
func (t *Transformer) Transform(pix []float64) []float64 {
	out := append([]float64{}, pix...)
	if t.Trans&HorizFlip != 0 && t.rng.Intn(2) == 1 {
		out = t.flip(out)
	}
	if t.Trans&Pan != 0 {
		dx := t.rng.Intn(2*PanPixels+1) - PanPixels
		dy := t.rng.Intn(2*PanPixels+1) - PanPixels
		if dx != 0 || dy != 0 {
			out = t.pan(out, dx, dy)
		}
	}
	return out
}

func (t *Transformer) at(pix []float64, y, x, c int) float64 {
	return pix[(y*t.w+x)*t.c+c]
}

func (t *Transformer) flip(pix []float64) []float64 {
	out := make([]float64, len(pix))
	for y := 0; y < t.h; y++ {
		for x := 0; x < t.w; x++ {
			for c := 0; c < t.c; c++ {
				out[(y*t.w+x)*t.c+c] = t.at(pix, y, t.w-1-x, c)
			}
		}
	}
	return out
}

// pan shifts the image by dx, dy pixels, padding with zeros
func (t *Transformer) pan(pix []float64, dx, dy int) []float64 {
	out := make([]float64, len(pix))
	for y := 0; y < t.h; y++ {
		sy := y - dy
		if sy < 0 || sy >= t.h {
			continue
		}
		for x := 0; x < t.w; x++ {
			sx := x - dx
			if sx < 0 || sx >= t.w {
				continue
			}
			for c := 0; c < t.c; c++ {
				out[(y*t.w+x)*t.c+c] = t.at(pix, sy, sx, c)
			}
		}
	}
	return out
}
