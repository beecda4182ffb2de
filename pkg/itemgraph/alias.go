package itemgraph

import (
	"math"
	"math/rand"
)

// Alias samples indices in O(1) with probability proportional to
// weight^power (Vose's alias method).
type Alias struct {
	prob  []float64
	alias []int
}

// NewAlias builds the table. Non-positive weights are never drawn unless all
// weights are, in which case sampling is uniform.
func NewAlias(weights []float64, power float64) *Alias {
	n := len(weights)
	a := &Alias{prob: make([]float64, n), alias: make([]int, n)}
	if n == 0 {
		return a
	}

	norm := make([]float64, n)
	sum := 0.0
	for i, w := range weights {
		if w > 0 {
			norm[i] = math.Pow(w, power)
		}
		sum += norm[i]
	}
	if sum == 0 {
		for i := range a.prob {
			a.prob[i] = 1
			a.alias[i] = i
		}
		return a
	}
	for i := range norm {
		norm[i] *= float64(n) / sum
	}

	small := make([]int, 0, n)
	large := make([]int, 0, n)
	for i, p := range norm {
		if p < 1 {
			small = append(small, i)
		} else {
			large = append(large, i)
		}
	}

	for len(small) > 0 && len(large) > 0 {
		l := small[len(small)-1]
		small = small[:len(small)-1]
		g := large[len(large)-1]
		large = large[:len(large)-1]

		a.prob[l] = norm[l]
		a.alias[l] = g

		norm[g] += norm[l] - 1
		if norm[g] < 1 {
			small = append(small, g)
		} else {
			large = append(large, g)
		}
	}
	// leftovers are 1 up to rounding
	for _, i := range append(small, large...) {
		a.prob[i] = 1
		a.alias[i] = i
	}
	return a
}

// Len is the number of outcomes.
func (a *Alias) Len() int {
	return len(a.prob)
}

// Sample draws an index, or -1 from an empty table.
func (a *Alias) Sample(rng *rand.Rand) int {
	n := len(a.prob)
	if n == 0 {
		return -1
	}
	i := rng.Intn(n)
	if rng.Float64() < a.prob[i] {
		return i
	}
	return a.alias[i]
}
