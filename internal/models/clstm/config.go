package clstm

import (
	"fmt"

	"github.com/cnclabs/contextrec/internal/models"
)

// Context averaging modes.
const (
	// AverageMean divides the prefix sum of contexts before step t by t and
	// uses the zero vector at t = 0.
	AverageMean = "mean"
	// AverageLegacy divides the same prefix sum by t+1.
	AverageLegacy = "legacy"
)

// Missing context policies.
const (
	MissingError = "error"
	MissingZero  = "zero"
)

// Config holds the hyperparameters of a contextual LSTM run.
type Config struct {
	InitScale    float64
	LearningRate float64
	MaxGradNorm  float64
	NumLayers    int
	NumSteps     int
	HiddenSize   int
	MaxEpoch     int // epochs trained at the base learning rate
	MaxMaxEpoch  int // total epochs
	KeepProb     float64
	LRDecay      float64
	BatchSize    int
	ItemDim      int
	ContextDim   int
	ForgetBias   float64

	Seed           int64
	ContextAverage string
	MissingContext string

	// LogEvery is the progress logging cadence in batches; 0 logs ten times
	// per epoch and a negative value turns progress logs off.
	LogEvery int
}

// DefaultConfig returns the medium-sized setup the model was tuned with.
func DefaultConfig() Config {
	return Config{
		InitScale:      0.1,
		LearningRate:   1.0,
		MaxGradNorm:    5,
		NumLayers:      2,
		NumSteps:       10,
		HiddenSize:     200,
		MaxEpoch:       4,
		MaxMaxEpoch:    13,
		KeepProb:       1.0,
		LRDecay:        0.5,
		BatchSize:      20,
		ItemDim:        10000,
		ContextDim:     18,
		ForgetBias:     0,
		Seed:           1,
		ContextAverage: AverageMean,
		MissingContext: MissingError,
	}
}

// EvalConfig is the configuration of the test network: one stream, one step
// per window.
func (c Config) EvalConfig() Config {
	e := c
	e.BatchSize = 1
	e.NumSteps = 1
	return e
}

// Validate checks the hyperparameters. Errors wrap models.ErrConfig.
func (c Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"num_layers", c.NumLayers},
		{"num_steps", c.NumSteps},
		{"hidden_size", c.HiddenSize},
		{"max_max_epoch", c.MaxMaxEpoch},
		{"batch_size", c.BatchSize},
		{"item_dim", c.ItemDim},
		{"context_dim", c.ContextDim},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", models.ErrConfig, p.name, p.value)
		}
	}

	switch {
	case c.InitScale <= 0:
		return fmt.Errorf("%w: init_scale must be positive, got %g", models.ErrConfig, c.InitScale)
	case c.LearningRate <= 0:
		return fmt.Errorf("%w: learning_rate must be positive, got %g", models.ErrConfig, c.LearningRate)
	case c.MaxGradNorm < 0:
		return fmt.Errorf("%w: max_grad_norm must not be negative, got %g", models.ErrConfig, c.MaxGradNorm)
	case c.KeepProb <= 0 || c.KeepProb > 1:
		return fmt.Errorf("%w: keep_prob must be in (0, 1], got %g", models.ErrConfig, c.KeepProb)
	case c.LRDecay <= 0:
		return fmt.Errorf("%w: lr_decay must be positive, got %g", models.ErrConfig, c.LRDecay)
	case c.MaxEpoch < 0:
		return fmt.Errorf("%w: max_epoch must not be negative, got %d", models.ErrConfig, c.MaxEpoch)
	}

	switch c.ContextAverage {
	case AverageMean, AverageLegacy:
	default:
		return fmt.Errorf("%w: unknown context_average %q", models.ErrConfig, c.ContextAverage)
	}
	switch c.MissingContext {
	case MissingError, MissingZero:
	default:
		return fmt.Errorf("%w: unknown missing_context %q", models.ErrConfig, c.MissingContext)
	}
	return nil
}
