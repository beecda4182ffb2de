package rnn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dropout applies an inverted dropout mask: kept units are scaled by
// 1/KeepProb, dropped units become zero. A nil Dropout, or one with
// KeepProb >= 1, is the identity and draws no random numbers.
type Dropout struct {
	KeepProb float64
	rng      *rand.Rand
}

// NewDropout creates a dropout that draws its masks from rng.
func NewDropout(keepProb float64, rng *rand.Rand) *Dropout {
	return &Dropout{KeepProb: keepProb, rng: rng}
}

// Active reports whether Apply masks anything.
func (d *Dropout) Active() bool {
	return d != nil && d.KeepProb < 1
}

// Apply returns the masked matrix and the mask. When inactive it returns m
// itself and a nil mask. Every call draws a fresh mask.
func (d *Dropout) Apply(m *mat.Dense) (*mat.Dense, *mat.Dense) {
	if !d.Active() {
		return m, nil
	}

	r, c := m.Dims()
	scale := 1 / d.KeepProb
	mask := mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		src := m.RawRowView(i)
		mr, or := mask.RawRowView(i), out.RawRowView(i)
		for j := 0; j < c; j++ {
			if d.rng.Float64() < d.KeepProb {
				mr[j] = scale
				or[j] = src[j] * scale
			}
		}
	}
	return out, mask
}
