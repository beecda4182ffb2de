package rnn

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// FillUniform overwrites m with values drawn uniformly from [-scale, scale],
// row by row.
func FillUniform(m *mat.Dense, rng *rand.Rand, scale float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] = (rng.Float64()*2 - 1) * scale
		}
	}
}

// concatCols returns [a b] for matrices with the same number of rows.
func concatCols(a, b *mat.Dense) *mat.Dense {
	r, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(r, ca+cb, nil)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		copy(row[:ca], a.RawRowView(i))
		copy(row[ca:], b.RawRowView(i))
	}
	return out
}

// AddRowVector adds v to every row of m.
func AddRowVector(m *mat.Dense, v []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += v[j]
		}
	}
}

// AddColumnSums adds the column sums of m to dst.
func AddColumnSums(dst []float64, m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			dst[j] += row[j]
		}
	}
}
