package clstm

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/contextrec/pkg/optim"
	"github.com/cnclabs/contextrec/pkg/rnn"
)

// Params is the single parameter container shared by the train, valid and
// test networks of a run.
type Params struct {
	Embedding *mat.Dense // item_dim x hidden
	Stack     *rnn.Stack
	L0        *mat.Dense // hidden x item_dim
	Lc        *mat.Dense // context_dim x hidden
	B         *mat.Dense // 1 x item_dim
}

// NewZeroParams allocates zeroed parameters shaped by cfg.
func NewZeroParams(cfg Config) *Params {
	stack := rnn.NewStack(cfg.HiddenSize, cfg.HiddenSize, cfg.ContextDim, cfg.NumLayers)
	stack.ForgetBias = cfg.ForgetBias
	return &Params{
		Embedding: mat.NewDense(cfg.ItemDim, cfg.HiddenSize, nil),
		Stack:     stack,
		L0:        mat.NewDense(cfg.HiddenSize, cfg.ItemDim, nil),
		Lc:        mat.NewDense(cfg.ContextDim, cfg.HiddenSize, nil),
		B:         mat.NewDense(1, cfg.ItemDim, nil),
	}
}

// NewParams draws every weight uniformly from [-init_scale, init_scale],
// except the recurrent biases which start at zero. Values are drawn in a
// fixed order (embedding, recurrent layers, L0, Lc, b) so a seed fully
// determines the parameters.
func NewParams(cfg Config, rng *rand.Rand) *Params {
	p := NewZeroParams(cfg)
	rnn.FillUniform(p.Embedding, rng, cfg.InitScale)
	p.Stack.InitUniform(rng, cfg.InitScale)
	rnn.FillUniform(p.L0, rng, cfg.InitScale)
	rnn.FillUniform(p.Lc, rng, cfg.InitScale)
	rnn.FillUniform(p.B, rng, cfg.InitScale)
	return p
}

// ZerosLike returns a zeroed container of the same shape, used to
// accumulate gradients.
func (p *Params) ZerosLike() *Params {
	itemDim, hidden := p.Embedding.Dims()
	contextDim, _ := p.Lc.Dims()
	g := &Params{
		Embedding: mat.NewDense(itemDim, hidden, nil),
		Stack:     p.Stack.ZerosLike(),
		L0:        mat.NewDense(hidden, itemDim, nil),
		Lc:        mat.NewDense(contextDim, hidden, nil),
		B:         mat.NewDense(1, itemDim, nil),
	}
	return g
}

// Tensors lists every trainable matrix in a fixed order.
func (p *Params) Tensors() []optim.Tensor {
	out := []optim.Tensor{{Name: "embedding", Value: p.Embedding}}
	out = append(out, p.Stack.Tensors()...)
	out = append(out,
		optim.Tensor{Name: "l_0", Value: p.L0},
		optim.Tensor{Name: "l_c", Value: p.Lc},
		optim.Tensor{Name: "b", Value: p.B},
	)
	return out
}
