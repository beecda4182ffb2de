// Package config resolves the settings of a training run from, in order of
// increasing priority, built-in defaults, an optional YAML file and CTXREC_*
// environment variables. Command line flags are applied on top by the
// commands themselves.
//
// Environment variables map onto keys by section:
//
//	CTXREC_NETWORK_HIDDEN_SIZE=650  ->  network.hidden_size
//	CTXREC_DATA_DATASET=ml-genre    ->  data.dataset
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/cnclabs/contextrec/internal/logging"
	"github.com/cnclabs/contextrec/internal/models/clstm"
	"github.com/cnclabs/contextrec/internal/models/deepwalk"
	"github.com/cnclabs/contextrec/internal/models/mf"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "CTXREC_"

// Config is the resolved configuration of a run.
type Config struct {
	Network    NetworkConfig    `koanf:"network" yaml:"network"`
	MF         MFConfig         `koanf:"mf" yaml:"mf"`
	Walk       WalkConfig       `koanf:"walk" yaml:"walk"`
	Data       DataConfig       `koanf:"data" yaml:"data"`
	Logging    LoggingConfig    `koanf:"logging" yaml:"logging"`
	Checkpoint CheckpointConfig `koanf:"checkpoint" yaml:"checkpoint"`
	Metrics    MetricsConfig    `koanf:"metrics" yaml:"metrics"`
}

// NetworkConfig holds the contextual LSTM hyperparameters.
type NetworkConfig struct {
	InitScale      float64 `koanf:"init_scale" yaml:"init_scale" validate:"gt=0"`
	LearningRate   float64 `koanf:"learning_rate" yaml:"learning_rate" validate:"gt=0"`
	MaxGradNorm    float64 `koanf:"max_grad_norm" yaml:"max_grad_norm" validate:"gt=0"`
	NumLayers      int     `koanf:"num_layers" yaml:"num_layers" validate:"gt=0"`
	NumSteps       int     `koanf:"num_steps" yaml:"num_steps" validate:"gt=0"`
	HiddenSize     int     `koanf:"hidden_size" yaml:"hidden_size" validate:"gt=0"`
	MaxEpoch       int     `koanf:"max_epoch" yaml:"max_epoch" validate:"gte=0"`
	MaxMaxEpoch    int     `koanf:"max_max_epoch" yaml:"max_max_epoch" validate:"gt=0"`
	KeepProb       float64 `koanf:"keep_prob" yaml:"keep_prob" validate:"gt=0,lte=1"`
	LRDecay        float64 `koanf:"lr_decay" yaml:"lr_decay" validate:"gt=0,lte=1"`
	BatchSize      int     `koanf:"batch_size" yaml:"batch_size" validate:"gt=0"`
	ItemDim        int     `koanf:"item_dim" yaml:"item_dim" validate:"gte=0"`
	ContextDim     int     `koanf:"context_dim" yaml:"context_dim" validate:"gte=0"`
	ForgetBias     float64 `koanf:"forget_bias" yaml:"forget_bias"`
	Seed           int64   `koanf:"seed" yaml:"seed"`
	ContextAverage string  `koanf:"context_average" yaml:"context_average" validate:"oneof=mean legacy"`
	MissingContext string  `koanf:"missing_context" yaml:"missing_context" validate:"oneof=error zero"`
	LogEvery       int     `koanf:"log_every" yaml:"log_every"` // negative turns progress logs off
}

// MFConfig holds the matrix factorization hyperparameters.
type MFConfig struct {
	Rank         int     `koanf:"rank" yaml:"rank" validate:"gt=0"`
	LearningRate float64 `koanf:"learning_rate" yaml:"learning_rate" validate:"gt=0"`
	Mu           float64 `koanf:"mu" yaml:"mu" validate:"gte=0"`
	MaxSteps     int     `koanf:"max_steps" yaml:"max_steps" validate:"gte=0"`
	Mode         string  `koanf:"mode" yaml:"mode" validate:"oneof=explicit implicit"`
	InitScale    float64 `koanf:"init_scale" yaml:"init_scale" validate:"gt=0"`
	LogEvery     int     `koanf:"log_every" yaml:"log_every" validate:"gte=0"`
	Seed         int64   `koanf:"seed" yaml:"seed"`
	EvalFrac     float64 `koanf:"eval_frac" yaml:"eval_frac" validate:"gte=0,lt=1"`

	// Mean, when set, is used as the rating mean instead of the one of the
	// train ratings.
	Mean *float64 `koanf:"mean" yaml:"mean,omitempty"`
}

// WalkConfig holds the DeepWalk settings of the walk context source.
type WalkConfig struct {
	Dim             int     `koanf:"dim" yaml:"dim" validate:"gt=0"`
	WalkTimes       int     `koanf:"walk_times" yaml:"walk_times" validate:"gt=0"`
	WalkSteps       int     `koanf:"walk_steps" yaml:"walk_steps" validate:"gt=0"`
	WindowSize      int     `koanf:"window_size" yaml:"window_size" validate:"gt=0"`
	NegativeSamples int     `koanf:"negative_samples" yaml:"negative_samples" validate:"gte=0"`
	Alpha           float64 `koanf:"alpha" yaml:"alpha" validate:"gt=0"`
	Workers         int     `koanf:"workers" yaml:"workers" validate:"gt=0"`
	Seed            int64   `koanf:"seed" yaml:"seed"`

	// GraphWindow is how many following items of the train stream an item
	// is linked to.
	GraphWindow int `koanf:"graph_window" yaml:"graph_window" validate:"gt=0"`
}

// DataConfig says where the corpus and the item context come from.
type DataConfig struct {
	// Dataset is one of ml-genre, ml-mf, lastfm or tokens.
	Dataset string `koanf:"dataset" yaml:"dataset" validate:"oneof=ml-genre ml-mf lastfm tokens"`
	Path    string `koanf:"path" yaml:"path"`

	// Context selects the item context provider: genre, mf, walk, json,
	// text, redis or zero. Empty picks the provider that belongs to Dataset.
	Context     string `koanf:"context" yaml:"context" validate:"omitempty,oneof=genre mf walk json text redis zero"`
	ContextPath string `koanf:"context_path" yaml:"context_path"`
	RatingsPath string `koanf:"ratings_path" yaml:"ratings_path"`
	RedisAddr   string `koanf:"redis_addr" yaml:"redis_addr"`
	RedisDB     int    `koanf:"redis_db" yaml:"redis_db" validate:"gte=0"`
}

// LoggingConfig mirrors logging.Config without the output writer.
type LoggingConfig struct {
	Level     string `koanf:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`
	Format    string `koanf:"format" yaml:"format" validate:"omitempty,oneof=console json"`
	Caller    bool   `koanf:"caller" yaml:"caller"`
	Timestamp bool   `koanf:"timestamp" yaml:"timestamp"`
}

// CheckpointConfig controls the badger checkpoint store.
type CheckpointConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Path    string `koanf:"path" yaml:"path" validate:"required_if=Enabled true"`

	// Resume names a stored run, or "latest", to continue training from.
	Resume string `koanf:"resume" yaml:"resume"`
}

// MetricsConfig controls the prometheus text file export.
type MetricsConfig struct {
	// Textfile is written at the end of a run when not empty.
	Textfile string `koanf:"textfile" yaml:"textfile"`
}

// Default returns the built-in defaults.
func Default() *Config {
	net := clstm.DefaultConfig()
	fac := mf.DefaultConfig()
	walk := deepwalk.DefaultConfig()
	log := logging.DefaultConfig()
	return &Config{
		Network: NetworkConfig{
			InitScale:      net.InitScale,
			LearningRate:   net.LearningRate,
			MaxGradNorm:    net.MaxGradNorm,
			NumLayers:      net.NumLayers,
			NumSteps:       net.NumSteps,
			HiddenSize:     net.HiddenSize,
			MaxEpoch:       net.MaxEpoch,
			MaxMaxEpoch:    net.MaxMaxEpoch,
			KeepProb:       net.KeepProb,
			LRDecay:        net.LRDecay,
			BatchSize:      net.BatchSize,
			ItemDim:        0, // taken from the corpus
			ContextDim:     0, // taken from the context provider
			ForgetBias:     net.ForgetBias,
			Seed:           net.Seed,
			ContextAverage: net.ContextAverage,
			MissingContext: net.MissingContext,
			LogEvery:       net.LogEvery,
		},
		MF: MFConfig{
			Rank:         fac.Rank,
			LearningRate: fac.LearningRate,
			Mu:           fac.Mu,
			MaxSteps:     fac.MaxSteps,
			Mode:         fac.Mode,
			InitScale:    fac.InitScale,
			LogEvery:     fac.LogEvery,
			Seed:         fac.Seed,
			EvalFrac:     0.1,
		},
		Walk: WalkConfig{
			Dim:             walk.Dim,
			WalkTimes:       walk.WalkTimes,
			WalkSteps:       walk.WalkSteps,
			WindowSize:      walk.WindowSize,
			NegativeSamples: walk.NegativeSamples,
			Alpha:           walk.Alpha,
			Workers:         walk.Workers,
			Seed:            walk.Seed,
			GraphWindow:     1,
		},
		Data: DataConfig{
			Dataset: "ml-genre",
			Path:    "data/ml-100k",
		},
		Logging: LoggingConfig{
			Level:     log.Level,
			Format:    log.Format,
			Caller:    log.Caller,
			Timestamp: log.Timestamp,
		},
		Checkpoint: CheckpointConfig{
			Enabled: false,
			Path:    "checkpoints",
		},
	}
}

// Load resolves the configuration. path may be empty, in which case no file
// is read.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransformFunc maps CTXREC_SECTION_SOME_KEY to section.some_key. Keys
// without a section are dropped.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, ok := strings.Cut(key, "_")
	if !ok || rest == "" {
		return ""
	}
	return section + "." + rest
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its validate tag.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if c.Checkpoint.Resume != "" && !c.Checkpoint.Enabled {
		return errors.New("configuration validation failed: checkpoint.resume needs checkpoint.enabled")
	}
	return nil
}

// Dump writes the configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yamlv3.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return enc.Close()
}

// CLSTM converts the network section.
func (c *Config) CLSTM() clstm.Config {
	n := c.Network
	return clstm.Config{
		InitScale:      n.InitScale,
		LearningRate:   n.LearningRate,
		MaxGradNorm:    n.MaxGradNorm,
		NumLayers:      n.NumLayers,
		NumSteps:       n.NumSteps,
		HiddenSize:     n.HiddenSize,
		MaxEpoch:       n.MaxEpoch,
		MaxMaxEpoch:    n.MaxMaxEpoch,
		KeepProb:       n.KeepProb,
		LRDecay:        n.LRDecay,
		BatchSize:      n.BatchSize,
		ItemDim:        n.ItemDim,
		ContextDim:     n.ContextDim,
		ForgetBias:     n.ForgetBias,
		Seed:           n.Seed,
		ContextAverage: n.ContextAverage,
		MissingContext: n.MissingContext,
		LogEvery:       n.LogEvery,
	}
}

// MatrixFactorization converts the mf section.
func (c *Config) MatrixFactorization() mf.Config {
	m := c.MF
	return mf.Config{
		Rank:         m.Rank,
		LearningRate: m.LearningRate,
		Mu:           m.Mu,
		MaxSteps:     m.MaxSteps,
		Mode:         m.Mode,
		InitScale:    m.InitScale,
		LogEvery:     m.LogEvery,
		Seed:         m.Seed,
		Mean:         m.Mean,
	}
}

// DeepWalk converts the walk section.
func (c *Config) DeepWalk() deepwalk.Config {
	w := c.Walk
	return deepwalk.Config{
		Dim:             w.Dim,
		WalkTimes:       w.WalkTimes,
		WalkSteps:       w.WalkSteps,
		WindowSize:      w.WindowSize,
		NegativeSamples: w.NegativeSamples,
		Alpha:           w.Alpha,
		Workers:         w.Workers,
		Seed:            w.Seed,
	}
}

// Log converts the logging section. Output goes to stderr.
func (c *Config) Log() logging.Config {
	return logging.Config{
		Level:     c.Logging.Level,
		Format:    c.Logging.Format,
		Caller:    c.Logging.Caller,
		Timestamp: c.Logging.Timestamp,
		Output:    os.Stderr,
	}
}
