package clstm

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/internal/models"
	"github.com/cnclabs/contextrec/pkg/optim"
)

// Data holds the three token streams of a run.
type Data struct {
	Train []int
	Valid []int
	Test  []int
}

// Report holds the perplexities of a run, one entry per epoch for train and
// valid.
type Report struct {
	LearningRates []float64
	Train         []float64
	Valid         []float64
	Test          float64
}

// Trainer drives max_max_epoch epochs of training and validation followed by
// a test pass. The train, valid and test networks share one Params.
type Trainer struct {
	Config   Config
	Params   *Params
	Lookup   *ContextLookup
	Observer Observer

	train *Network
	valid *Network
	test  *Network
}

// NewTrainer validates cfg and initializes the parameters from cfg.Seed.
func NewTrainer(cfg Config, lookup *ContextLookup, observer Observer) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lookup.Dim() != cfg.ContextDim {
		return nil, fmt.Errorf("%w: context provider has dimension %d, context_dim is %d",
			models.ErrConfig, lookup.Dim(), cfg.ContextDim)
	}
	if observer == nil {
		observer = NopObserver{}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	params := NewParams(cfg, rng)

	return &Trainer{
		Config:   cfg,
		Params:   params,
		Lookup:   lookup,
		Observer: observer,
		train:    NewNetwork(params, cfg, true, rng),
		valid:    NewNetwork(params, cfg, false, nil),
		test:     NewNetwork(params, cfg.EvalConfig(), false, nil),
	}, nil
}

// Restore overwrites the trainer's parameters with a copy of params, e.g.
// from a checkpoint, so training resumes from them.
func (t *Trainer) Restore(params *Params) error {
	dst, src := t.Params.Tensors(), params.Tensors()
	if len(dst) != len(src) {
		return fmt.Errorf("%w: restoring %d tensors into %d", models.ErrConfig, len(src), len(dst))
	}
	for i := range dst {
		dr, dc := dst[i].Value.Dims()
		sr, sc := src[i].Value.Dims()
		if dst[i].Name != src[i].Name || dr != sr || dc != sc {
			return fmt.Errorf("%w: cannot restore %s (%dx%d) into %s (%dx%d)",
				models.ErrConfig, src[i].Name, sr, sc, dst[i].Name, dr, dc)
		}
	}
	for i := range dst {
		dst[i].Value.Copy(src[i].Value)
	}
	return nil
}

// check fails before any training when a stream cannot fill a window or
// holds IDs outside the vocabulary.
func (t *Trainer) check(data Data) error {
	streams := []struct {
		phase  string
		tokens []int
		net    *Network
	}{
		{PhaseTrain, data.Train, t.train},
		{PhaseValid, data.Valid, t.valid},
		{PhaseTest, data.Test, t.test},
	}
	for _, s := range streams {
		if n := EpochSize(len(s.tokens), s.net.BatchSize(), s.net.NumSteps()); n <= 0 {
			return fmt.Errorf("%w: %s stream of %d tokens yields epoch size %d",
				models.ErrConfig, s.phase, len(s.tokens), n)
		}
		for _, id := range s.tokens {
			if id < 0 || id >= t.Config.ItemDim {
				return fmt.Errorf("%w: %s stream holds item ID %d, item_dim is %d",
					models.ErrConfig, s.phase, id, t.Config.ItemDim)
			}
		}
	}
	return nil
}

// Run trains and evaluates. It stops at the first error, including
// cancellation of ctx.
func (t *Trainer) Run(ctx context.Context, data Data) (*Report, error) {
	if err := t.check(data); err != nil {
		return nil, err
	}

	cfg := t.Config
	logging.Info().
		Int("num_layers", cfg.NumLayers).
		Int("hidden_size", cfg.HiddenSize).
		Int("num_steps", cfg.NumSteps).
		Int("batch_size", cfg.BatchSize).
		Int("item_dim", cfg.ItemDim).
		Int("context_dim", cfg.ContextDim).
		Float64("keep_prob", cfg.KeepProb).
		Str("context_average", cfg.ContextAverage).
		Msg("model setting")

	report := &Report{}
	for epoch := 0; epoch < cfg.MaxMaxEpoch; epoch++ {
		lr := optim.DecayedRate(cfg.LearningRate, cfg.LRDecay, epoch, cfg.MaxEpoch)
		logging.Info().Int("epoch", epoch+1).Float64("lr", lr).Msg("learning rate")

		trainPPL, err := RunEpoch(ctx, t.train, data.Train, t.Lookup, RunOptions{
			Phase:    PhaseTrain,
			Epoch:    epoch,
			Train:    true,
			LR:       lr,
			LogEvery: cfg.LogEvery,
			Observer: t.Observer,
		})
		if err != nil {
			return nil, err
		}
		t.Observer.ObserveEpoch(PhaseTrain, epoch, trainPPL)
		logging.Info().Int("epoch", epoch+1).Float64("perplexity", trainPPL).Msg("train perplexity")

		validPPL, err := RunEpoch(ctx, t.valid, data.Valid, t.Lookup, RunOptions{
			Phase:    PhaseValid,
			Epoch:    epoch,
			LogEvery: -1,
			Observer: t.Observer,
		})
		if err != nil {
			return nil, err
		}
		t.Observer.ObserveEpoch(PhaseValid, epoch, validPPL)
		logging.Info().Int("epoch", epoch+1).Float64("perplexity", validPPL).Msg("valid perplexity")

		report.LearningRates = append(report.LearningRates, lr)
		report.Train = append(report.Train, trainPPL)
		report.Valid = append(report.Valid, validPPL)
	}

	testPPL, err := RunEpoch(ctx, t.test, data.Test, t.Lookup, RunOptions{
		Phase:    PhaseTest,
		Epoch:    cfg.MaxMaxEpoch - 1,
		LogEvery: -1,
		Observer: t.Observer,
	})
	if err != nil {
		return nil, err
	}
	t.Observer.ObserveEpoch(PhaseTest, cfg.MaxMaxEpoch-1, testPPL)
	logging.Info().Float64("perplexity", testPPL).Msg("test perplexity")

	report.Test = testPPL
	return report, nil
}
