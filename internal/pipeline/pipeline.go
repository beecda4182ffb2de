// Package pipeline wires a resolved configuration into a training run: it
// loads the corpus and the item context, trains, and stores checkpoints.
// The commands under cmd/ are thin wrappers around it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cnclabs/contextrec/internal/checkpoint"
	"github.com/cnclabs/contextrec/internal/config"
	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/internal/models/clstm"
	"github.com/cnclabs/contextrec/internal/models/deepwalk"
	"github.com/cnclabs/contextrec/internal/models/mf"
	"github.com/cnclabs/contextrec/internal/ratings"
	"github.com/cnclabs/contextrec/pkg/dataset"
	"github.com/cnclabs/contextrec/pkg/itemctx"
	"github.com/cnclabs/contextrec/pkg/itemgraph"
)

// Item context sources.
const (
	ContextGenre = "genre"
	ContextMF    = "mf"
	ContextWalk  = "walk"
	ContextJSON  = "json"
	ContextText  = "text"
	ContextRedis = "redis"
	ContextZero  = "zero"
)

// Observer receives the progress of both models.
type Observer interface {
	clstm.Observer
	mf.Observer
}

// Options are the per-run collaborators.
type Options struct {
	RunID    string
	Observer Observer          // may be nil
	Store    *checkpoint.Store // nil disables checkpoints
}

// ContextKind returns the configured context source, or the one that goes
// with the dataset when none is configured.
func ContextKind(data config.DataConfig) string {
	if data.Context != "" {
		return data.Context
	}
	switch data.Dataset {
	case "ml-genre":
		return ContextGenre
	case "ml-mf":
		return ContextMF
	case "lastfm":
		return ContextWalk
	case "tokens":
		if strings.EqualFold(filepath.Ext(data.ContextPath), ".json") {
			return ContextJSON
		}
		if data.ContextPath != "" {
			return ContextText
		}
		if data.RedisAddr != "" {
			return ContextRedis
		}
	}
	return ContextZero
}

// LoadCorpus reads the configured dataset.
func LoadCorpus(data config.DataConfig) (*dataset.Corpus, error) {
	r, err := dataset.NewReader(data.Dataset)
	if err != nil {
		return nil, err
	}
	return r.Read(data.Path)
}

// NeedsCorpus reports whether the context source of kind is derived from the
// loaded corpus and so cannot be built concurrently with it.
func NeedsCorpus(kind string) bool {
	return kind == ContextRedis || kind == ContextWalk
}

// LoadProvider builds the item context provider of kind. corpus may be nil
// unless NeedsCorpus(kind).
func LoadProvider(ctx context.Context, cfg *config.Config, kind string, corpus *dataset.Corpus, opts Options) (itemctx.Provider, error) {
	if NeedsCorpus(kind) && corpus == nil {
		return nil, fmt.Errorf("%s context needs the corpus", kind)
	}

	switch kind {
	case ContextGenre:
		dir := cfg.Data.ContextPath
		if dir == "" {
			dir = cfg.Data.Path
		}
		return itemctx.NewGenreProvider(dir)

	case ContextMF:
		model, err := TrainFactors(ctx, cfg, opts)
		if err != nil {
			return nil, err
		}
		itemKeys, q := model.ItemVectors()
		return itemctx.NewMatrixProvider(itemKeys, q)

	case ContextWalk:
		return WalkEmbeddings(ctx, cfg, corpus)

	case ContextJSON:
		if cfg.Data.ContextPath == "" {
			return nil, errors.New("json context needs data.context_path")
		}
		return itemctx.LoadJSON(cfg.Data.ContextPath)

	case ContextText:
		if cfg.Data.ContextPath == "" {
			return nil, errors.New("text context needs data.context_path")
		}
		return itemctx.LoadText(cfg.Data.ContextPath)

	case ContextRedis:
		if cfg.Data.RedisAddr == "" || cfg.Network.ContextDim <= 0 {
			return nil, errors.New("redis context needs data.redis_addr and network.context_dim")
		}
		store, err := itemctx.NewRedisStore(ctx, cfg.Data.RedisAddr, cfg.Data.RedisDB)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.Load(ctx, cfg.Network.ContextDim, corpus.Vocab.Keys())

	case ContextZero:
		dim := cfg.Network.ContextDim
		if dim <= 0 {
			dim = 1
		}
		return itemctx.NewZeroProvider(dim), nil
	}
	return nil, fmt.Errorf("unknown context source %q", kind)
}

// WalkEmbeddings embeds the item co-occurrence graph of the train stream
// with DeepWalk and uses the vectors as item context.
func WalkEmbeddings(ctx context.Context, cfg *config.Config, corpus *dataset.Corpus) (*itemctx.MapProvider, error) {
	g := itemgraph.FromStream(corpus.Train, corpus.ItemDim(), cfg.Walk.GraphWindow)
	dw, err := deepwalk.New(cfg.DeepWalk(), g)
	if err != nil {
		return nil, err
	}
	if err := dw.Train(ctx); err != nil {
		return nil, err
	}
	return itemctx.NewMatrixProvider(corpus.Vocab.Keys(), dw.Embeddings())
}

// RatingsPath is data.ratings_path, or u.data under data.path.
func RatingsPath(data config.DataConfig) string {
	if data.RatingsPath != "" {
		return data.RatingsPath
	}
	return filepath.Join(data.Path, "u.data")
}

// TrainFactors loads the ratings, holds out mf.eval_frac of them for
// evaluation and trains a factorization. The result is checkpointed when a
// store is given.
func TrainFactors(ctx context.Context, cfg *config.Config, opts Options) (*mf.Model, error) {
	tbl, err := ratings.Load(ctx, RatingsPath(cfg.Data))
	if err != nil {
		return nil, err
	}

	train, eval := tbl, (*ratings.Table)(nil)
	if cfg.MF.EvalFrac > 0 {
		train, eval = tbl.Split(cfg.MF.EvalFrac, rand.New(rand.NewSource(cfg.MF.Seed)))
	}

	var observer mf.Observer
	if opts.Observer != nil {
		observer = opts.Observer
	}
	model, err := mf.New(cfg.MatrixFactorization(), observer)
	if err != nil {
		return nil, err
	}
	if err := model.Train(ctx, train, eval); err != nil {
		return nil, err
	}

	if opts.Store != nil {
		keys, q := model.ItemVectors()
		res := model.Result()
		if err := opts.Store.SaveFactors(opts.RunID, &checkpoint.Factors{P: res.P, Q: q, Mean: res.Mean, ItemKeys: keys}); err != nil {
			return nil, err
		}
		logging.Info().Str("run_id", opts.RunID).Msg("factors saved")
	}
	return model, nil
}

// RunCLSTM trains and evaluates a contextual LSTM. The corpus and the item
// context are loaded concurrently unless the context is derived from the
// corpus.
func RunCLSTM(ctx context.Context, cfg *config.Config, opts Options) (*clstm.Report, error) {
	kind := ContextKind(cfg.Data)

	var corpus *dataset.Corpus
	var provider itemctx.Provider

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		corpus, err = LoadCorpus(cfg.Data)
		return err
	})
	if !NeedsCorpus(kind) {
		g.Go(func() error {
			var err error
			provider, err = LoadProvider(gctx, cfg, kind, nil, opts)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if NeedsCorpus(kind) {
		var err error
		if provider, err = LoadProvider(ctx, cfg, kind, corpus, opts); err != nil {
			return nil, err
		}
	}

	found, missing := itemctx.Coverage(provider, corpus.Vocab.Keys())
	logging.Info().
		Str("dataset", cfg.Data.Dataset).
		Str("context", kind).
		Int("items", corpus.ItemDim()).
		Int("train_tokens", len(corpus.Train)).
		Int("valid_tokens", len(corpus.Valid)).
		Int("test_tokens", len(corpus.Test)).
		Int("context_found", found).
		Int("context_missing", missing).
		Msg("data loaded")

	netCfg := cfg.CLSTM()
	if netCfg.ItemDim == 0 {
		netCfg.ItemDim = corpus.ItemDim()
	}
	if netCfg.ContextDim == 0 {
		netCfg.ContextDim = provider.Dim()
	}

	var observer clstm.Observer
	if opts.Observer != nil {
		observer = opts.Observer
	}
	lookup := clstm.NewContextLookup(provider, corpus.Vocab.Key, netCfg.MissingContext, observer)
	trainer, err := clstm.NewTrainer(netCfg, lookup, observer)
	if err != nil {
		return nil, err
	}

	if cfg.Checkpoint.Resume != "" && opts.Store != nil {
		if err := resume(opts.Store, cfg.Checkpoint.Resume, trainer); err != nil {
			return nil, err
		}
	}

	report, err := trainer.Run(ctx, clstm.Data{Train: corpus.Train, Valid: corpus.Valid, Test: corpus.Test})
	if err != nil {
		return nil, err
	}

	if opts.Store != nil {
		if err := opts.Store.SaveNetwork(opts.RunID, netCfg, trainer.Params); err != nil {
			return nil, err
		}
		logging.Info().Str("run_id", opts.RunID).Msg("network saved")
	}
	return report, nil
}

func resume(store *checkpoint.Store, id string, trainer *clstm.Trainer) error {
	if id == "latest" {
		var err error
		if id, err = store.Latest(checkpoint.KindNetwork); err != nil {
			return err
		}
	}
	params, _, err := store.LoadNetwork(id)
	if err != nil {
		return err
	}
	if err := trainer.Restore(params); err != nil {
		return err
	}
	logging.Info().Str("from", id).Msg("resuming from checkpoint")
	return nil
}
