//go:build !race

package deepwalk

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Lock-free updates from several workers race on the embeddings, so this
// test is left out of -race builds.
func TestTrainWithSeveralWorkers(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Workers = 4
	dw, err := New(cfg, twoClusters())
	require.NoError(t, err)

	before := make([]float64, len(dw.Embeddings().RawMatrix().Data))
	copy(before, dw.Embeddings().RawMatrix().Data)

	require.NoError(t, dw.Train(context.Background()))

	emb := dw.Embeddings()
	for i := 0; i < 10; i++ {
		row := emb.RawRowView(i)
		for _, v := range row {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
		assert.NotEqual(t, before[i*cfg.Dim:(i+1)*cfg.Dim], row, "vertex %d never updated", i)
	}
}
