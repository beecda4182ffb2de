package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cnclabs/contextrec/internal/config"
	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/internal/pipeline"
	"github.com/cnclabs/contextrec/pkg/itemctx"
)

type options struct {
	configFile string

	dataset string
	path    string

	dimensions      int
	walkTimes       int
	walkSteps       int
	windowSize      int
	negativeSamples int
	alpha           float64
	threads         int
	graphWindow     int
	seed            int64

	save       string
	contextOut string
	logLevel   string
}

func main() {
	opts := &options{}

	root := &cobra.Command{
		Use:   "deepwalk",
		Short: "Embed items by random walks over their co-occurrence graph",
		Long: `Build an item graph from the train split of a corpus, linking each item to
the items that follow it, and embed it with DeepWalk. The vectors can be
used by clstm as text or JSON item context.`,
		Example: `  deepwalk --dataset lastfm --path data/lastfm --save rep.txt
  deepwalk --dataset tokens --path data/ptb --dimensions 32 --context-out walk_ctx.json`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	f := root.Flags()
	f.StringVar(&opts.configFile, "config", "", "YAML config file")
	f.StringVar(&opts.dataset, "dataset", "", "Dataset (ml-genre, ml-mf, lastfm, tokens)")
	f.StringVar(&opts.path, "path", "", "Dataset directory")
	f.IntVar(&opts.dimensions, "dimensions", 0, "Dimension of item representation")
	f.IntVar(&opts.walkTimes, "walk-times", 0, "Times of being starting vertex")
	f.IntVar(&opts.walkSteps, "walk-steps", 0, "Step of random walk")
	f.IntVar(&opts.windowSize, "window-size", 0, "Size of skip-gram window")
	f.IntVar(&opts.negativeSamples, "negative-samples", 0, "Number of negative examples")
	f.Float64Var(&opts.alpha, "alpha", 0, "Init learning rate")
	f.IntVar(&opts.threads, "threads", 0, "Number of training threads")
	f.IntVar(&opts.graphWindow, "graph-window", 0, "Following items each item is linked to")
	f.Int64Var(&opts.seed, "seed", 0, "Random seed")
	f.StringVar(&opts.save, "save", "", "Write item vectors as a plain embedding text file")
	f.StringVar(&opts.contextOut, "context-out", "", "Write item vectors to this JSON context file")
	f.StringVar(&opts.logLevel, "log-level", "", "Log level")

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
	set("dataset", func() { cfg.Data.Dataset = opts.dataset })
	set("path", func() { cfg.Data.Path = opts.path })
	set("dimensions", func() { cfg.Walk.Dim = opts.dimensions })
	set("walk-times", func() { cfg.Walk.WalkTimes = opts.walkTimes })
	set("walk-steps", func() { cfg.Walk.WalkSteps = opts.walkSteps })
	set("window-size", func() { cfg.Walk.WindowSize = opts.windowSize })
	set("negative-samples", func() { cfg.Walk.NegativeSamples = opts.negativeSamples })
	set("alpha", func() { cfg.Walk.Alpha = opts.alpha })
	set("threads", func() { cfg.Walk.Workers = opts.threads })
	set("graph-window", func() { cfg.Walk.GraphWindow = opts.graphWindow })
	set("seed", func() { cfg.Walk.Seed = opts.seed })
	set("log-level", func() { cfg.Logging.Level = opts.logLevel })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	if opts.save == "" && opts.contextOut == "" {
		return errors.New("nothing to write: set --save or --context-out")
	}

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logging.Init(cfg.Log())

	corpus, err := pipeline.LoadCorpus(cfg.Data)
	if err != nil {
		return err
	}
	provider, err := pipeline.WalkEmbeddings(cmd.Context(), cfg, corpus)
	if err != nil {
		return err
	}

	if opts.save != "" {
		if err := itemctx.SaveText(opts.save, provider); err != nil {
			return err
		}
		logging.Info().Str("path", opts.save).Int("items", provider.Len()).Msg("item vectors saved")
	}
	if opts.contextOut != "" {
		if err := itemctx.SaveJSON(opts.contextOut, provider); err != nil {
			return err
		}
		logging.Info().Str("path", opts.contextOut).Int("items", provider.Len()).Msg("item context written")
	}
	return nil
}
