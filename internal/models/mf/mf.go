// Package mf factors a sparse rating matrix into user and item embeddings
// P and Q by full-batch gradient descent on
//
//	sum over ratings (mean + P[u]·Q[i] - v)^2 + mu(‖P‖² + ‖Q‖²)
package mf

import (
	"context"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/internal/models"
	"github.com/cnclabs/contextrec/internal/ratings"
	"github.com/cnclabs/contextrec/pkg/optim"
)

// Training modes.
const (
	// ModeExplicit fits the observed ratings around their mean.
	ModeExplicit = "explicit"
	// ModeImplicit fits 1 for every observed pair with a zero mean.
	ModeImplicit = "implicit"
)

// Config holds the factorization hyperparameters.
type Config struct {
	Rank         int
	LearningRate float64
	Mu           float64
	MaxSteps     int
	Mode         string
	InitScale    float64
	LogEvery     int // 0 disables periodic cost logging
	Seed         int64

	// Mean, when set, replaces the mean of the train ratings, e.g. with one
	// computed over a larger table.
	Mean *float64
}

// DefaultConfig returns the defaults used for item context vectors.
func DefaultConfig() Config {
	return Config{
		Rank:         10,
		LearningRate: 0.001,
		Mu:           0,
		MaxSteps:     1000,
		Mode:         ModeImplicit,
		InitScale:    0.1,
		LogEvery:     500,
		Seed:         1,
	}
}

// Validate checks the hyperparameters. Errors wrap models.ErrConfig.
func (c Config) Validate() error {
	switch {
	case c.Rank <= 0:
		return fmt.Errorf("%w: rank must be positive, got %d", models.ErrConfig, c.Rank)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive, got %g", models.ErrConfig, c.LearningRate)
	case c.Mu < 0:
		return fmt.Errorf("%w: mu must not be negative, got %g", models.ErrConfig, c.Mu)
	case c.MaxSteps < 0:
		return fmt.Errorf("%w: max_steps must not be negative, got %d", models.ErrConfig, c.MaxSteps)
	case c.InitScale <= 0:
		return fmt.Errorf("%w: init_scale must be positive, got %g", models.ErrConfig, c.InitScale)
	case c.LogEvery < 0:
		return fmt.Errorf("%w: log_every must not be negative, got %d", models.ErrConfig, c.LogEvery)
	}
	if c.Mode != ModeExplicit && c.Mode != ModeImplicit {
		return fmt.Errorf("%w: unknown mode %q", models.ErrConfig, c.Mode)
	}
	return nil
}

// Observer receives training progress.
type Observer interface {
	ObserveCost(phase string, cost float64)
	ObserveStep()
}

type nopObserver struct{}

func (nopObserver) ObserveCost(string, float64) {}
func (nopObserver) ObserveStep()                {}

// Model is a matrix factorization model.
type Model struct {
	cfg      Config
	observer Observer

	P    *mat.Dense // users x rank
	Q    *mat.Dense // items x rank
	Mean float64

	itemKeys []string
}

// New creates a model. A nil observer is allowed.
func New(cfg Config, observer Observer) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Model{cfg: cfg, observer: observer}, nil
}

// Init draws P and Q uniformly from [-init_scale, init_scale], P first.
func (m *Model) Init(numUsers, numItems int, rng *rand.Rand) {
	m.P = mat.NewDense(numUsers, m.cfg.Rank, nil)
	m.Q = mat.NewDense(numItems, m.cfg.Rank, nil)
	for _, f := range []*mat.Dense{m.P, m.Q} {
		r, _ := f.Dims()
		for i := 0; i < r; i++ {
			row := f.RawRowView(i)
			for j := range row {
				row[j] = (rng.Float64()*2 - 1) * m.cfg.InitScale
			}
		}
	}

	logging.Info().
		Int("users", numUsers).
		Int("items", numItems).
		Int("rank", m.cfg.Rank).
		Msg("model setting")
}

// Predict is mean + P[u]·Q[i].
func (m *Model) Predict(u, i int, mean float64) float64 {
	return mean + floats.Dot(m.P.RawRowView(u), m.Q.RawRowView(i))
}

// Cost is the squared reconstruction error over the given pairs plus the
// L2 penalty mu(‖P‖² + ‖Q‖²).
func (m *Model) Cost(users, items []int, values []float64, mean float64) float64 {
	cost := 0.0
	for k := range values {
		e := m.Predict(users[k], items[k], mean) - values[k]
		cost += e * e
	}
	if m.cfg.Mu > 0 {
		cost += m.cfg.Mu * (squaredNorm(m.P) + squaredNorm(m.Q))
	}
	return cost
}

func squaredNorm(f *mat.Dense) float64 {
	sum := 0.0
	r, _ := f.Dims()
	for i := 0; i < r; i++ {
		row := f.RawRowView(i)
		sum += floats.Dot(row, row)
	}
	return sum
}

// Targets returns the values and mean the model fits for t under the
// configured mode. A configured Mean overrides the mean of t in either mode.
func (m *Model) Targets(t *ratings.Table) ([]float64, float64) {
	values, mean := t.Values, t.Mean()
	if m.cfg.Mode == ModeImplicit {
		values = make([]float64, t.Len())
		for k := range values {
			values[k] = 1
		}
		mean = 0
	}
	if m.cfg.Mean != nil {
		mean = *m.cfg.Mean
	}
	return values, mean
}

// Train runs max_steps full-batch gradient steps on train. When eval is not
// nil its cost is logged next to the train cost every log_every steps. There
// is no convergence check. P and Q are initialized from cfg.Seed unless Init
// was called before.
func (m *Model) Train(ctx context.Context, train, eval *ratings.Table) error {
	if m.P == nil || m.Q == nil {
		m.Init(train.NumUsers(), train.NumItems(), rand.New(rand.NewSource(m.cfg.Seed)))
	}
	values, mean := m.Targets(train)
	m.Mean = mean
	if m.cfg.Mean != nil {
		logging.Info().Float64("mean", mean).Msg("using supplied mean")
	}
	m.itemKeys = train.ItemKeys

	var evalValues []float64
	if eval != nil {
		evalValues, _ = m.Targets(eval)
	}

	logging.Info().
		Str("mode", m.cfg.Mode).
		Float64("learning_rate", m.cfg.LearningRate).
		Float64("mu", m.cfg.Mu).
		Int("max_steps", m.cfg.MaxSteps).
		Msg("learning parameters")

	gradP := mat.NewDense(train.NumUsers(), m.cfg.Rank, nil)
	gradQ := mat.NewDense(train.NumItems(), m.cfg.Rank, nil)

	for step := 0; step < m.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if m.cfg.LogEvery > 0 && step%m.cfg.LogEvery == 0 {
			cost := m.Cost(train.Users, train.Items, values, mean)
			if !optim.IsFinite(cost) {
				return fmt.Errorf("%w: cost is %v at step %d", models.ErrNumerical, cost, step)
			}
			m.observer.ObserveCost("train", cost)
			ev := logging.Info().Int("step", step).Float64("train_cost", cost)
			if eval != nil {
				evalCost := m.Cost(eval.Users, eval.Items, evalValues, mean)
				m.observer.ObserveCost("eval", evalCost)
				ev = ev.Float64("eval_cost", evalCost)
			}
			ev.Msg("cost")
		}

		m.gradients(train.Users, train.Items, values, mean, gradP, gradQ)
		if norm := optim.GlobalNorm([]optim.Tensor{{Name: "p", Value: gradP}, {Name: "q", Value: gradQ}}); !optim.IsFinite(norm) {
			return fmt.Errorf("%w: gradient norm is %v at step %d", models.ErrNumerical, norm, step)
		}
		optim.SGD(
			[]optim.Tensor{{Name: "p", Value: m.P}, {Name: "q", Value: m.Q}},
			[]optim.Tensor{{Name: "p", Value: gradP}, {Name: "q", Value: gradQ}},
			m.cfg.LearningRate,
		)
		m.observer.ObserveStep()
	}

	cost := m.Cost(train.Users, train.Items, values, mean)
	if !optim.IsFinite(cost) {
		return fmt.Errorf("%w: final cost is %v", models.ErrNumerical, cost)
	}
	m.observer.ObserveCost("train", cost)
	logging.Info().Int("step", m.cfg.MaxSteps).Float64("train_cost", cost).Msg("training done")
	return nil
}

// gradients overwrites gradP and gradQ with the gradient of Cost.
func (m *Model) gradients(users, items []int, values []float64, mean float64, gradP, gradQ *mat.Dense) {
	gradP.Zero()
	gradQ.Zero()
	for k := range values {
		u, i := users[k], items[k]
		pu, qi := m.P.RawRowView(u), m.Q.RawRowView(i)
		e := mean + floats.Dot(pu, qi) - values[k]
		floats.AddScaled(gradP.RawRowView(u), 2*e, qi)
		floats.AddScaled(gradQ.RawRowView(i), 2*e, pu)
	}
	if m.cfg.Mu > 0 {
		gradP.Add(gradP, scaled(2*m.cfg.Mu, m.P))
		gradQ.Add(gradQ, scaled(2*m.cfg.Mu, m.Q))
	}
}

func scaled(s float64, f *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Scale(s, f)
	return &out
}

// Result is the read-out of a trained model.
type Result struct {
	R    *mat.Dense // users x items, R[u][i] = mean + P[u]·Q[i]
	P    *mat.Dense
	Q    *mat.Dense
	Mean float64
}

// Result reconstructs the dense rating matrix.
func (m *Model) Result() *Result {
	users, _ := m.P.Dims()
	items, _ := m.Q.Dims()
	r := mat.NewDense(users, items, nil)
	for u := 0; u < users; u++ {
		row := r.RawRowView(u)
		for i := range row {
			row[i] = m.Predict(u, i, m.Mean)
		}
	}
	return &Result{R: r, P: m.P, Q: m.Q, Mean: m.Mean}
}

// ItemVectors returns the item keys of the training table and the matching
// rows of Q.
func (m *Model) ItemVectors() ([]string, *mat.Dense) {
	return m.itemKeys, m.Q
}
