// Package deepwalk learns item embeddings from truncated random walks over
// an item co-occurrence graph with skip-gram negative sampling.
package deepwalk

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/internal/models"
	"github.com/cnclabs/contextrec/pkg/itemgraph"
)

const (
	// monitor is the number of walks between learning rate updates.
	monitor          = 10000
	sigmoidTableSize = 1000
	maxSigmoid       = 8.0
)

var sigmoidTable = func() []float64 {
	t := make([]float64, sigmoidTableSize+1)
	for i := range t {
		x := float64(i)*2*maxSigmoid/sigmoidTableSize - maxSigmoid
		t[i] = 1 / (1 + math.Exp(-x))
	}
	return t
}()

func fastSigmoid(x float64) float64 {
	switch {
	case x < -maxSigmoid:
		return 0
	case x > maxSigmoid:
		return 1
	}
	idx := int((x + maxSigmoid) * sigmoidTableSize / maxSigmoid / 2)
	if idx >= len(sigmoidTable) {
		idx = len(sigmoidTable) - 1
	}
	return sigmoidTable[idx]
}

// Config holds the walk and optimization settings.
type Config struct {
	Dim             int
	WalkTimes       int
	WalkSteps       int
	WindowSize      int
	NegativeSamples int
	Alpha           float64
	Workers         int
	Seed            int64
}

// DefaultConfig returns the usual DeepWalk settings with small vectors, as
// they feed the recurrent gates as context.
func DefaultConfig() Config {
	return Config{
		Dim:             16,
		WalkTimes:       10,
		WalkSteps:       40,
		WindowSize:      5,
		NegativeSamples: 5,
		Alpha:           0.025,
		Workers:         1,
		Seed:            1,
	}
}

// Validate checks the settings. Errors wrap models.ErrConfig.
func (c Config) Validate() error {
	switch {
	case c.Dim <= 0:
		return fmt.Errorf("%w: dim must be positive, got %d", models.ErrConfig, c.Dim)
	case c.WalkTimes <= 0 || c.WalkSteps <= 0:
		return fmt.Errorf("%w: walk_times and walk_steps must be positive", models.ErrConfig)
	case c.WindowSize <= 0:
		return fmt.Errorf("%w: window_size must be positive, got %d", models.ErrConfig, c.WindowSize)
	case c.NegativeSamples < 0:
		return fmt.Errorf("%w: negative_samples must not be negative, got %d", models.ErrConfig, c.NegativeSamples)
	case c.Alpha <= 0:
		return fmt.Errorf("%w: alpha must be positive, got %g", models.ErrConfig, c.Alpha)
	case c.Workers <= 0:
		return fmt.Errorf("%w: workers must be positive, got %d", models.ErrConfig, c.Workers)
	}
	return nil
}

// DeepWalk holds the vertex and context embeddings of one graph.
type DeepWalk struct {
	cfg      Config
	graph    *itemgraph.Graph
	wVertex  *mat.Dense
	wContext *mat.Dense
}

// New initializes the embeddings uniformly in [-0.5/dim, 0.5/dim).
func New(cfg Config, g *itemgraph.Graph) (*DeepWalk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n := g.NumVertices()
	if n == 0 {
		return nil, fmt.Errorf("%w: empty graph", models.ErrConfig)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	dw := &DeepWalk{
		cfg:      cfg,
		graph:    g,
		wVertex:  mat.NewDense(n, cfg.Dim, nil),
		wContext: mat.NewDense(n, cfg.Dim, nil),
	}
	for _, m := range []*mat.Dense{dw.wVertex, dw.wContext} {
		raw := m.RawMatrix().Data
		for i := range raw {
			raw[i] = (rng.Float64() - 0.5) / float64(cfg.Dim)
		}
	}

	logging.Info().
		Int("vertices", n).
		Int("dim", cfg.Dim).
		Msg("model setting")
	return dw, nil
}

// Train runs walk_times passes; each pass starts one walk from every vertex
// in shuffled order. The learning rate decays linearly to alpha*1e-4.
//
// Workers update the shared embeddings without locks (hogwild). With more
// than one worker these writes are data races by construction, so results
// are not reproducible and the race detector reports them; a single worker
// is deterministic for a given seed.
func (dw *DeepWalk) Train(ctx context.Context) error {
	cfg := dw.cfg
	n := dw.graph.NumVertices()

	logging.Info().
		Int("walk_times", cfg.WalkTimes).
		Int("walk_steps", cfg.WalkSteps).
		Int("window_size", cfg.WindowSize).
		Int("negative_samples", cfg.NegativeSamples).
		Float64("alpha", cfg.Alpha).
		Int("workers", cfg.Workers).
		Msg("learning parameters")

	total := int64(cfg.WalkTimes) * int64(n)
	alphaMin := cfg.Alpha * 0.0001
	currentAlpha := cfg.Alpha
	count := int64(0)
	var mu sync.Mutex

	shuffle := rand.New(rand.NewSource(cfg.Seed))
	for pass := 0; pass < cfg.WalkTimes; pass++ {
		order := shuffle.Perm(n)
		chunk := (n + cfg.Workers - 1) / cfg.Workers

		var wg sync.WaitGroup
		errs := make([]error, cfg.Workers)
		for w := 0; w < cfg.Workers; w++ {
			start := w * chunk
			end := min(start+chunk, n)
			if start >= end {
				continue
			}

			wg.Add(1)
			go func(w, start, end int) {
				defer wg.Done()
				rng := rand.New(rand.NewSource(cfg.Seed + int64(pass*cfg.Workers+w) + 1))
				vertexGrad := make([]float64, cfg.Dim)
				contextGrad := make([]float64, cfg.Dim)

				for _, v := range order[start:end] {
					if err := ctx.Err(); err != nil {
						errs[w] = err
						return
					}

					mu.Lock()
					alpha := currentAlpha
					mu.Unlock()

					walk := dw.graph.RandomWalk(v, cfg.WalkSteps, rng)
					vertices, contexts := itemgraph.SkipGrams(walk, cfg.WindowSize)
					for i := range vertices {
						dw.updatePair(vertices[i], contexts[i], alpha, rng, vertexGrad, contextGrad)
					}

					mu.Lock()
					count++
					if count%monitor == 0 {
						currentAlpha = max(cfg.Alpha*(1-float64(count)/float64(total)), alphaMin)
						logging.Debug().
							Float64("alpha", currentAlpha).
							Float64("progress", float64(count)/float64(total)).
							Msg("progress")
					}
					mu.Unlock()
				}
			}(w, start, end)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}

	logging.Info().Int64("walks", count).Float64("alpha", currentAlpha).Msg("training done")
	return nil
}

// updatePair applies one positive and negative_samples negative skip-gram
// updates for (vertex, context).
func (dw *DeepWalk) updatePair(vertex, context int, alpha float64, rng *rand.Rand, vertexGrad, contextGrad []float64) {
	for d := range vertexGrad {
		vertexGrad[d] = 0
	}
	vEmb := dw.wVertex.RawRowView(vertex)

	dw.accumulate(vEmb, context, 1, alpha, vertexGrad, contextGrad)
	for k := 0; k < dw.cfg.NegativeSamples; k++ {
		neg := dw.graph.Negative(rng)
		if neg == context || neg < 0 {
			continue
		}
		dw.accumulate(vEmb, neg, 0, alpha, vertexGrad, contextGrad)
	}

	for d, g := range vertexGrad {
		vEmb[d] += g
	}
}

// accumulate adds the gradient of one (vertex, target) logistic term to
// vertexGrad and applies the target update at once.
func (dw *DeepWalk) accumulate(vEmb []float64, target int, label, alpha float64, vertexGrad, contextGrad []float64) {
	cEmb := dw.wContext.RawRowView(target)
	score := 0.0
	for d := range vEmb {
		score += vEmb[d] * cEmb[d]
	}
	g := alpha * (label - fastSigmoid(score))
	for d := range vEmb {
		vertexGrad[d] += g * cEmb[d]
		contextGrad[d] = g * vEmb[d]
	}
	for d := range cEmb {
		cEmb[d] += contextGrad[d]
	}
}

// Embeddings returns the vertex embeddings, one row per item ID.
func (dw *DeepWalk) Embeddings() *mat.Dense {
	return dw.wVertex
}
