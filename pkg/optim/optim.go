// Package optim holds the gradient-descent pieces shared by the models:
// global-norm clipping, the plain SGD update and the learning rate schedule.
package optim

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor names a parameter or gradient matrix.
type Tensor struct {
	Name  string
	Value *mat.Dense
}

// GlobalNorm returns sqrt(sum of squares) over every entry of every tensor.
func GlobalNorm(tensors []Tensor) float64 {
	sum := 0.0
	for _, t := range tensors {
		r, _ := t.Value.Dims()
		for i := 0; i < r; i++ {
			row := t.Value.RawRowView(i)
			sum += floats.Dot(row, row)
		}
	}
	return math.Sqrt(sum)
}

// ClipByGlobalNorm rescales the tensors in place so that their global norm
// does not exceed maxNorm:
//
//	t *= maxNorm / max(norm, maxNorm)
//
// It returns the norm before clipping. A non-positive maxNorm disables
// clipping.
func ClipByGlobalNorm(tensors []Tensor, maxNorm float64) float64 {
	norm := GlobalNorm(tensors)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm
	}

	scale := maxNorm / norm
	for _, t := range tensors {
		t.Value.Scale(scale, t.Value)
	}
	return norm
}

// SGD applies params[k] -= lr * grads[k]. The slices must line up by index
// and shape.
func SGD(params, grads []Tensor, lr float64) {
	for k, p := range params {
		r, _ := p.Value.Dims()
		g := grads[k].Value
		for i := 0; i < r; i++ {
			floats.AddScaled(p.Value.RawRowView(i), -lr, g.RawRowView(i))
		}
	}
}

// DecayedRate is the learning rate for a zero-based epoch: the base rate is
// kept for the first decayAfter epochs and then multiplied by decay once per
// further epoch.
//
//	rate * decay^max(epoch - decayAfter, 0)
func DecayedRate(rate, decay float64, epoch, decayAfter int) float64 {
	exp := epoch - decayAfter
	if exp < 0 {
		exp = 0
	}
	return rate * math.Pow(decay, float64(exp))
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
