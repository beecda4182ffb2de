package dataset

import (
	"errors"
	"fmt"
)

// ErrEpochSize is returned when a stream is too short to fill a single
// batch x steps window.
var ErrEpochSize = errors.New("stream too short for one window")

// EpochSize is the number of windows Iterate yields for a stream of n
// tokens.
func EpochSize(n, batchSize, numSteps int) int {
	if batchSize <= 0 || numSteps <= 0 {
		return 0
	}
	return (n/batchSize - 1) / numSteps
}

// Iterate cuts data into batchSize parallel streams of equal length and walks
// them in consecutive, non-overlapping windows of numSteps tokens. For each
// window fn receives the inputs x and the targets y (x shifted by one), both
// batchSize x numSteps. Tokens that do not fill a whole window are dropped.
func Iterate(data []int, batchSize, numSteps int, fn func(step int, x, y [][]int) error) error {
	epochSize := EpochSize(len(data), batchSize, numSteps)
	if epochSize <= 0 {
		return fmt.Errorf("%w: %d tokens, batch size %d, num steps %d",
			ErrEpochSize, len(data), batchSize, numSteps)
	}

	batchLen := len(data) / batchSize
	for step := 0; step < epochSize; step++ {
		x := make([][]int, batchSize)
		y := make([][]int, batchSize)
		for b := 0; b < batchSize; b++ {
			row := data[b*batchLen : (b+1)*batchLen]
			x[b] = row[step*numSteps : (step+1)*numSteps]
			y[b] = row[step*numSteps+1 : (step+1)*numSteps+1]
		}
		if err := fn(step, x, y); err != nil {
			return err
		}
	}
	return nil
}
