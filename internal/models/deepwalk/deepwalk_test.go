package deepwalk

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/contextrec/internal/models"
	"github.com/cnclabs/contextrec/pkg/itemgraph"
)

// twoClusters links items 0-4 with each other and 5-9 with each other.
func twoClusters() *itemgraph.Graph {
	rng := rand.New(rand.NewSource(11))
	var seqs [][]int
	for i := 0; i < 200; i++ {
		base := 0
		if i%2 == 1 {
			base = 5
		}
		seq := make([]int, 10)
		for j := range seq {
			seq[j] = base + rng.Intn(5)
		}
		seqs = append(seqs, seq)
	}
	return itemgraph.FromSequences(seqs, 10, 2)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Dim = 8
	cfg.WalkTimes = 20
	cfg.WalkSteps = 20
	cfg.WindowSize = 2
	return cfg
}

func cosine(a, b []float64) float64 {
	return floats.Dot(a, b) / (floats.Norm(a, 2) * floats.Norm(b, 2))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"no negatives", func(c *Config) { c.NegativeSamples = 0 }, false},
		{"zero dim", func(c *Config) { c.Dim = 0 }, true},
		{"zero walks", func(c *Config) { c.WalkTimes = 0 }, true},
		{"zero steps", func(c *Config) { c.WalkSteps = 0 }, true},
		{"zero window", func(c *Config) { c.WindowSize = 0 }, true},
		{"negative negatives", func(c *Config) { c.NegativeSamples = -1 }, true},
		{"zero alpha", func(c *Config) { c.Alpha = 0 }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewRejectsEmptyGraph(t *testing.T) {
	t.Parallel()
	_, err := New(testConfig(), itemgraph.FromStream(nil, 0, 1))
	assert.ErrorIs(t, err, models.ErrConfig)
}

func TestFastSigmoid(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, fastSigmoid(-9))
	assert.Equal(t, 1.0, fastSigmoid(9))
	assert.InDelta(t, 0.5, fastSigmoid(0), 1e-2)
	assert.InDelta(t, 0.88, fastSigmoid(2), 1e-2)
}

func TestTrainSeparatesClusters(t *testing.T) {
	t.Parallel()

	dw, err := New(testConfig(), twoClusters())
	require.NoError(t, err)
	require.NoError(t, dw.Train(context.Background()))

	emb := dw.Embeddings()
	rows, dim := emb.Dims()
	require.Equal(t, 10, rows)
	require.Equal(t, 8, dim)

	within, across := 0.0, 0.0
	nWithin, nAcross := 0, 0
	for i := 0; i < 10; i++ {
		for j := i + 1; j < 10; j++ {
			c := cosine(emb.RawRowView(i), emb.RawRowView(j))
			if (i < 5) == (j < 5) {
				within += c
				nWithin++
			} else {
				across += c
				nAcross++
			}
		}
	}
	assert.Greater(t, within/float64(nWithin), across/float64(nAcross)+0.2)
}

func TestTrainIsDeterministicWithOneWorker(t *testing.T) {
	t.Parallel()

	run := func() *mat.Dense {
		dw, err := New(testConfig(), twoClusters())
		require.NoError(t, err)
		require.NoError(t, dw.Train(context.Background()))
		return dw.Embeddings()
	}
	assert.True(t, mat.Equal(run(), run()))
}

func TestTrainHonorsCancellation(t *testing.T) {
	t.Parallel()

	dw, err := New(testConfig(), twoClusters())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = dw.Train(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}
