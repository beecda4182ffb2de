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
	"github.com/cnclabs/contextrec/internal/ratings"
	"github.com/cnclabs/contextrec/pkg/itemctx"
)

type options struct {
	configFile string

	ratingsPath  string
	rank         int
	mode         string
	learningRate float64
	mu           float64
	maxSteps     int
	evalFrac     float64
	mean         float64
	seed         int64

	contextOut     string
	save           string
	publishRedis   string
	checkpointPath string
	textfile       string
	logLevel       string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "mf",
		Short: "Factor a rating matrix into user and item vectors",
		Long: `Train a matrix factorization on (user, item, rating) triples. The item
vectors can be written as a context file for clstm or published to Redis.`,
		Example: `  mf --ratings data/ml-100k/u.data --rank 10 --context-out mf_ctx.json
  mf convert data/ml-100k/u.data ratings.parquet`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return train(cmd, opts)
		},
	}

	f := root.Flags()
	f.StringVar(&opts.configFile, "config", "", "YAML config file")
	f.StringVar(&opts.ratingsPath, "ratings", "", "Ratings file (u.data, CSV or Parquet)")
	f.IntVar(&opts.rank, "rank", 0, "Factor rank")
	f.StringVar(&opts.mode, "mode", "", "Training mode (explicit, implicit)")
	f.Float64Var(&opts.learningRate, "learning-rate", 0, "Learning rate")
	f.Float64Var(&opts.mu, "mu", 0, "L2 regularization")
	f.IntVar(&opts.maxSteps, "max-steps", 0, "Gradient steps")
	f.Float64Var(&opts.evalFrac, "eval-frac", 0, "Share of ratings held out for evaluation")
	f.Float64Var(&opts.mean, "mean", 0, "Rating mean to use instead of the one of the train ratings")
	f.Int64Var(&opts.seed, "seed", 0, "Random seed")
	f.StringVar(&opts.contextOut, "context-out", "", "Write item vectors to this JSON context file")
	f.StringVar(&opts.save, "save", "", "Write item vectors as a plain embedding text file")
	f.StringVar(&opts.publishRedis, "publish-redis", "", "Publish item vectors to the Redis server at this address")
	f.StringVar(&opts.checkpointPath, "checkpoint", "", "Checkpoint directory; enables checkpoints")
	f.StringVar(&opts.textfile, "metrics-textfile", "", "Write prometheus metrics to this file")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level")

	root.AddCommand(&cobra.Command{
		Use:   "convert <src> <dst.parquet>",
		Short: "Convert a ratings file to Parquet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ratings.Convert(cmd.Context(), args[0], args[1])
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
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
	set("ratings", func() { cfg.Data.RatingsPath = opts.ratingsPath })
	set("rank", func() { cfg.MF.Rank = opts.rank })
	set("mode", func() { cfg.MF.Mode = opts.mode })
	set("learning-rate", func() { cfg.MF.LearningRate = opts.learningRate })
	set("mu", func() { cfg.MF.Mu = opts.mu })
	set("max-steps", func() { cfg.MF.MaxSteps = opts.maxSteps })
	set("eval-frac", func() { cfg.MF.EvalFrac = opts.evalFrac })
	set("mean", func() { cfg.MF.Mean = &opts.mean })
	set("seed", func() { cfg.MF.Seed = opts.seed })
	set("checkpoint", func() {
		cfg.Checkpoint.Enabled = true
		cfg.Checkpoint.Path = opts.checkpointPath
	})
	set("metrics-textfile", func() { cfg.Metrics.Textfile = opts.textfile })
	set("log-level", func() { cfg.Logging.Level = opts.logLevel })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func train(cmd *cobra.Command, opts *options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	logging.Init(cfg.Log())
	runID := checkpoint.NewRunID()
	logging.SetLogger(logging.With().Str("run_id", runID).Logger())
	ctx := cmd.Context()

	var store *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		if store, err = checkpoint.Open(cfg.Checkpoint.Path); err != nil {
			return err
		}
		defer store.Close()
	}

	model, err := pipeline.TrainFactors(ctx, cfg, pipeline.Options{
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

	if opts.contextOut == "" && opts.save == "" && opts.publishRedis == "" {
		return nil
	}
	keys, q := model.ItemVectors()
	provider, err := itemctx.NewMatrixProvider(keys, q)
	if err != nil {
		return err
	}

	if opts.contextOut != "" {
		if err := itemctx.SaveJSON(opts.contextOut, provider); err != nil {
			return err
		}
		logging.Info().Str("path", opts.contextOut).Int("items", provider.Len()).Msg("item context written")
	}
	if opts.save != "" {
		if err := itemctx.SaveText(opts.save, provider); err != nil {
			return err
		}
		logging.Info().Str("path", opts.save).Int("items", provider.Len()).Msg("item vectors saved")
	}
	if opts.publishRedis != "" {
		rs, err := itemctx.NewRedisStore(ctx, opts.publishRedis, cfg.Data.RedisDB)
		if err != nil {
			return err
		}
		defer rs.Close()
		if err := rs.Save(ctx, provider, 0); err != nil {
			return err
		}
		logging.Info().Str("addr", opts.publishRedis).Int("items", provider.Len()).Msg("item context published")
	}
	return nil
}
