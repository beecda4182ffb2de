package clstm

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/internal/models"
	"github.com/cnclabs/contextrec/pkg/dataset"
)

// EpochSize is the number of windows in one pass over a stream of n tokens.
func EpochSize(n, batchSize, numSteps int) int {
	return dataset.EpochSize(n, batchSize, numSteps)
}

// RunOptions controls one pass over a stream.
type RunOptions struct {
	Phase string
	Epoch int // zero-based; used for logging and metrics

	// Train applies an SGD step with LR after every window. The network
	// must be a training network.
	Train bool
	LR    float64

	// LogEvery is the progress logging cadence in windows; 0 logs ten times
	// per epoch and a negative value disables progress logs.
	LogEvery int

	Observer Observer
}

// RunEpoch passes once over stream. The recurrent state starts at zero and
// is carried from each window into the next. It returns the perplexity
// exp(total loss / total steps).
func RunEpoch(ctx context.Context, net *Network, stream []int, lookup *ContextLookup, opts RunOptions) (float64, error) {
	epochSize := EpochSize(len(stream), net.BatchSize(), net.NumSteps())
	if epochSize <= 0 {
		return 0, fmt.Errorf("%w: %s stream of %d tokens yields epoch size %d for batch size %d and %d steps",
			models.ErrConfig, opts.Phase, len(stream), epochSize, net.BatchSize(), net.NumSteps())
	}
	if opts.Train && !net.Training() {
		return 0, fmt.Errorf("%w: %s pass asks for updates on an evaluation network", models.ErrConfig, opts.Phase)
	}

	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	logEvery := opts.LogEvery
	if logEvery == 0 {
		logEvery = epochSize / 10
		if logEvery == 0 {
			logEvery = 1
		}
	}

	start := time.Now()
	costs := 0.0
	iters := 0
	state := net.ZeroState()

	err := dataset.Iterate(stream, net.BatchSize(), net.NumSteps(), func(step int, x, y [][]int) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		contexts, err := lookup.Window(x)
		if err != nil {
			return err
		}
		batch := Batch{X: x, Y: y, Context: contexts}

		var res *Result
		var norm float64
		if opts.Train {
			res, norm, err = net.TrainStep(batch, state, opts.LR)
		} else {
			res, err = net.Forward(batch, state)
		}
		if err != nil {
			return fmt.Errorf("%s epoch %d step %d: %w", opts.Phase, opts.Epoch+1, step, err)
		}

		state = res.FinalState
		costs += res.Loss
		iters += net.NumSteps()
		obs.ObserveBatch(opts.Phase, opts.LR, norm)

		if logEvery > 0 && (step+1)%logEvery == 0 {
			elapsed := time.Since(start).Seconds()
			wps := 0.0
			if elapsed > 0 {
				wps = float64(iters*net.BatchSize()) / elapsed
			}
			logging.Info().
				Str("phase", opts.Phase).
				Int("epoch", opts.Epoch+1).
				Float64("progress", float64(step+1)/float64(epochSize)).
				Float64("perplexity", math.Exp(costs/float64(iters))).
				Float64("wps", math.Round(wps)).
				Msg("progress")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return math.Exp(costs / float64(iters)), nil
}
