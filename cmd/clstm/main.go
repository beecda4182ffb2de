package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cnclabs/contextrec/internal/checkpoint"
	"github.com/cnclabs/contextrec/internal/config"
	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/internal/metrics"
	"github.com/cnclabs/contextrec/internal/pipeline"
)

type options struct {
	configFile string
	dumpConfig bool

	dataset     string
	dataPath    string
	context     string
	contextPath string
	redisAddr   string

	hiddenSize     int
	numLayers      int
	numSteps       int
	batchSize      int
	maxEpoch       int
	maxMaxEpoch    int
	keepProb       float64
	learningRate   float64
	contextAverage string
	missing        string
	seed           int64

	checkpointPath string
	resume         string
	textfile       string
	logLevel       string
}

func main() {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "clstm",
		Short: "Train a contextual LSTM next-item model",
		Long: `Train a recurrent next-item model whose gates also see the running
average of the context vectors of the items consumed so far, then report
train, valid and test perplexity.`,
		Example: `  # MovieLens 100k with genre context
  clstm --dataset ml-genre --data-path data/ml-100k

  # MovieLens with item factors as context, checkpointed
  clstm --dataset ml-mf --data-path data/ml-100k --checkpoint ckpt

  # token files with context vectors from a JSON file
  clstm --dataset tokens --data-path data/ptb --context-path ctx.json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.configFile, "config", "", "YAML config file")
	f.BoolVar(&opts.dumpConfig, "dump-config", false, "Print the resolved config and exit")

	f.StringVar(&opts.dataset, "dataset", "", "Dataset (ml-genre, ml-mf, lastfm, tokens)")
	f.StringVar(&opts.dataPath, "data-path", "", "Dataset directory")
	f.StringVar(&opts.context, "context", "", "Item context source (genre, mf, walk, json, text, redis, zero)")
	f.StringVar(&opts.contextPath, "context-path", "", "Context file (JSON or embedding text) or u.item directory")
	f.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address holding context vectors")

	f.IntVar(&opts.hiddenSize, "hidden-size", 0, "Hidden units per layer")
	f.IntVar(&opts.numLayers, "num-layers", 0, "Number of recurrent layers")
	f.IntVar(&opts.numSteps, "num-steps", 0, "Unrolled steps per window")
	f.IntVar(&opts.batchSize, "batch-size", 0, "Parallel streams per batch")
	f.IntVar(&opts.maxEpoch, "max-epoch", 0, "Epochs at the base learning rate")
	f.IntVar(&opts.maxMaxEpoch, "max-max-epoch", 0, "Total epochs")
	f.Float64Var(&opts.keepProb, "keep-prob", 0, "Dropout keep probability")
	f.Float64Var(&opts.learningRate, "learning-rate", 0, "Base learning rate")
	f.StringVar(&opts.contextAverage, "context-average", "", "Context averaging (mean, legacy)")
	f.StringVar(&opts.missing, "missing-context", "", "Missing context policy (error, zero)")
	f.Int64Var(&opts.seed, "seed", 0, "Random seed")

	f.StringVar(&opts.checkpointPath, "checkpoint", "", "Checkpoint directory; enables checkpoints")
	f.StringVar(&opts.resume, "resume", "", "Run ID, or latest, to resume from")
	f.StringVar(&opts.textfile, "metrics-textfile", "", "Write prometheus metrics to this file")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("dataset", func() { cfg.Data.Dataset = opts.dataset })
	set("data-path", func() { cfg.Data.Path = opts.dataPath })
	set("context", func() { cfg.Data.Context = opts.context })
	set("context-path", func() { cfg.Data.ContextPath = opts.contextPath })
	set("redis-addr", func() { cfg.Data.RedisAddr = opts.redisAddr })
	set("hidden-size", func() { cfg.Network.HiddenSize = opts.hiddenSize })
	set("num-layers", func() { cfg.Network.NumLayers = opts.numLayers })
	set("num-steps", func() { cfg.Network.NumSteps = opts.numSteps })
	set("batch-size", func() { cfg.Network.BatchSize = opts.batchSize })
	set("max-epoch", func() { cfg.Network.MaxEpoch = opts.maxEpoch })
	set("max-max-epoch", func() { cfg.Network.MaxMaxEpoch = opts.maxMaxEpoch })
	set("keep-prob", func() { cfg.Network.KeepProb = opts.keepProb })
	set("learning-rate", func() { cfg.Network.LearningRate = opts.learningRate })
	set("context-average", func() { cfg.Network.ContextAverage = opts.contextAverage })
	set("missing-context", func() { cfg.Network.MissingContext = opts.missing })
	set("seed", func() { cfg.Network.Seed = opts.seed })
	set("checkpoint", func() {
		cfg.Checkpoint.Enabled = true
		cfg.Checkpoint.Path = opts.checkpointPath
	})
	set("resume", func() { cfg.Checkpoint.Resume = opts.resume })
	set("metrics-textfile", func() { cfg.Metrics.Textfile = opts.textfile })
	set("log-level", func() { cfg.Logging.Level = opts.logLevel })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if opts.dumpConfig {
		return cfg.Dump(cmd.OutOrStdout())
	}

	logging.Init(cfg.Log())
	runID := checkpoint.NewRunID()
	logging.SetLogger(logging.With().Str("run_id", runID).Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		if store, err = checkpoint.Open(cfg.Checkpoint.Path); err != nil {
			return err
		}
		defer store.Close()
	}

	report, err := pipeline.RunCLSTM(ctx, cfg, pipeline.Options{
		RunID:    runID,
		Observer: metrics.Recorder{},
		Store:    store,
	})
	if werr := metrics.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
		logging.Err(werr).Msg("metrics export failed")
	}
	if err != nil {
		return err
	}

	last := len(report.Valid) - 1
	logging.Info().
		Float64("train_perplexity", report.Train[last]).
		Float64("valid_perplexity", report.Valid[last]).
		Float64("test_perplexity", report.Test).
		Msg("run finished")
	return nil
}
