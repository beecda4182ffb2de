package clstm

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/contextrec/internal/models"
	"github.com/cnclabs/contextrec/pkg/optim"
	"github.com/cnclabs/contextrec/pkg/rnn"
)

// Batch is one window of batch_size streams by num_steps steps.
type Batch struct {
	X [][]int // input item IDs
	Y [][]int // target item IDs, X shifted by one
	// Context holds the context vector of X[b][t] at Context[b][t].
	Context [][][]float64
}

// Result is the outcome of one forward pass.
type Result struct {
	// Loss is the summed cross-entropy of the window divided by batch_size.
	Loss float64
	// Logits is (batch_size*num_steps) x item_dim; row b*num_steps+t holds
	// the logits of stream b at step t.
	Logits *mat.Dense
	// FinalState is the recurrent state after the last step.
	FinalState []rnn.State
}

// Network is one model instance over shared parameters. The train, valid
// and test networks of a run differ only in their batch shape and whether
// dropout is active.
type Network struct {
	params   *Params
	cfg      Config
	training bool
	average  string

	batchSize int
	numSteps  int
	dropout   *rnn.Dropout
}

// NewNetwork creates a network over params with the batch shape of cfg.
// Dropout is active only when training and cfg.KeepProb < 1; its masks are
// drawn from rng, which may be nil otherwise.
func NewNetwork(params *Params, cfg Config, training bool, rng *rand.Rand) *Network {
	n := &Network{
		params:    params,
		cfg:       cfg,
		training:  training,
		average:   cfg.ContextAverage,
		batchSize: cfg.BatchSize,
		numSteps:  cfg.NumSteps,
	}
	if training && cfg.KeepProb < 1 {
		n.dropout = rnn.NewDropout(cfg.KeepProb, rng)
	}
	return n
}

// Training reports whether the network applies dropout and may be updated.
func (n *Network) Training() bool {
	return n.training
}

// BatchSize is the number of parallel streams.
func (n *Network) BatchSize() int {
	return n.batchSize
}

// NumSteps is the window length.
func (n *Network) NumSteps() int {
	return n.numSteps
}

// ZeroState is the state at the start of an epoch.
func (n *Network) ZeroState() []rnn.State {
	return n.params.Stack.ZeroState(n.batchSize)
}

// forwardTrace keeps what the backward pass needs.
type forwardTrace struct {
	inMasks []*mat.Dense
	ctxAvg  []*mat.Dense
	pre     []*mat.Dense // out_t + ctxavg_t·Lc
	logits  []*mat.Dense
	steps   []*rnn.StepTrace
}

// Forward runs the window through the network without touching the
// parameters. state is not modified.
func (n *Network) Forward(batch Batch, state []rnn.State) (*Result, error) {
	res, _, err := n.forward(batch, state)
	return res, err
}

func (n *Network) checkBatch(batch Batch, state []rnn.State) error {
	if len(batch.X) != n.batchSize || len(batch.Y) != n.batchSize || len(batch.Context) != n.batchSize {
		return fmt.Errorf("%w: batch has %d streams, network expects %d", models.ErrConfig, len(batch.X), n.batchSize)
	}
	if len(state) != len(n.params.Stack.Layers) {
		return fmt.Errorf("%w: state has %d layers, network has %d", models.ErrConfig, len(state), len(n.params.Stack.Layers))
	}
	for b := 0; b < n.batchSize; b++ {
		if len(batch.X[b]) != n.numSteps || len(batch.Y[b]) != n.numSteps || len(batch.Context[b]) != n.numSteps {
			return fmt.Errorf("%w: stream %d is not %d steps long", models.ErrConfig, b, n.numSteps)
		}
		for t := 0; t < n.numSteps; t++ {
			if x, y := batch.X[b][t], batch.Y[b][t]; x < 0 || x >= n.cfg.ItemDim || y < 0 || y >= n.cfg.ItemDim {
				return fmt.Errorf("%w: item IDs (%d, %d) outside vocabulary of %d", models.ErrConfig, x, y, n.cfg.ItemDim)
			}
			if len(batch.Context[b][t]) != n.cfg.ContextDim {
				return fmt.Errorf("%w: context of stream %d step %d has %d values, want %d",
					models.ErrConfig, b, t, len(batch.Context[b][t]), n.cfg.ContextDim)
			}
		}
	}
	return nil
}

func (n *Network) forward(batch Batch, state []rnn.State) (*Result, *forwardTrace, error) {
	if err := n.checkBatch(batch, state); err != nil {
		return nil, nil, err
	}

	p := n.params
	B, T := n.batchSize, n.numSteps
	H, C := n.cfg.HiddenSize, n.cfg.ContextDim

	tr := &forwardTrace{
		inMasks: make([]*mat.Dense, T),
		ctxAvg:  make([]*mat.Dense, T),
		pre:     make([]*mat.Dense, T),
		logits:  make([]*mat.Dense, T),
		steps:   make([]*rnn.StepTrace, T),
	}

	prefix := mat.NewDense(B, C, nil)
	for t := 0; t < T; t++ {
		emb := mat.NewDense(B, H, nil)
		for b := 0; b < B; b++ {
			copy(emb.RawRowView(b), p.Embedding.RawRowView(batch.X[b][t]))
		}
		var in *mat.Dense
		in, tr.inMasks[t] = n.dropout.Apply(emb)

		avg := n.contextAverage(prefix, t)
		tr.ctxAvg[t] = avg

		var out *mat.Dense
		out, state, tr.steps[t] = p.Stack.Step(state, in, avg, n.dropout)

		pre := mat.NewDense(B, H, nil)
		pre.Mul(avg, p.Lc)
		pre.Add(pre, out)
		tr.pre[t] = pre

		logits := mat.NewDense(B, n.cfg.ItemDim, nil)
		logits.Mul(pre, p.L0)
		rnn.AddRowVector(logits, p.B.RawRowView(0))
		tr.logits[t] = logits

		for b := 0; b < B; b++ {
			floats.Add(prefix.RawRowView(b), batch.Context[b][t])
		}
	}

	res := &Result{
		Logits:     mat.NewDense(B*T, n.cfg.ItemDim, nil),
		FinalState: state,
	}
	for b := 0; b < B; b++ {
		for t := 0; t < T; t++ {
			row := tr.logits[t].RawRowView(b)
			copy(res.Logits.RawRowView(b*T+t), row)
			res.Loss += logSumExp(row) - row[batch.Y[b][t]]
		}
	}
	res.Loss /= float64(B)

	if !optim.IsFinite(res.Loss) {
		return nil, nil, fmt.Errorf("%w: loss is %v", models.ErrNumerical, res.Loss)
	}
	return res, tr, nil
}

// contextAverage returns the running context average at step t from the
// prefix sum of the contexts of steps 0..t-1.
func (n *Network) contextAverage(prefix *mat.Dense, t int) *mat.Dense {
	r, c := prefix.Dims()
	avg := mat.NewDense(r, c, nil)
	switch {
	case n.average == AverageLegacy:
		avg.Scale(1/float64(t+1), prefix)
	case t > 0:
		avg.Scale(1/float64(t), prefix)
	}
	return avg
}

// Gradients runs the window forward and backpropagates the loss through it.
// The carried-in state is treated as a constant.
func (n *Network) Gradients(batch Batch, state []rnn.State) (*Result, *Params, error) {
	res, tr, err := n.forward(batch, state)
	if err != nil {
		return nil, nil, err
	}
	return res, n.backward(batch, tr), nil
}

func (n *Network) backward(batch Batch, tr *forwardTrace) *Params {
	p := n.params
	g := p.ZerosLike()
	B, T := n.batchSize, n.numSteps
	H := n.cfg.HiddenSize
	scale := 1 / float64(B)

	dOut := make([]*mat.Dense, T)
	for t := 0; t < T; t++ {
		// d loss / d logits = (softmax - onehot) / batch_size
		dLogits := mat.NewDense(B, n.cfg.ItemDim, nil)
		for b := 0; b < B; b++ {
			z := tr.logits[t].RawRowView(b)
			d := dLogits.RawRowView(b)
			lse := logSumExp(z)
			for j, v := range z {
				d[j] = math.Exp(v-lse) * scale
			}
			d[batch.Y[b][t]] -= scale
		}

		rnn.AddColumnSums(g.B.RawRowView(0), dLogits)

		var dL0 mat.Dense
		dL0.Mul(tr.pre[t].T(), dLogits)
		g.L0.Add(g.L0, &dL0)

		dPre := mat.NewDense(B, H, nil)
		dPre.Mul(dLogits, p.L0.T())

		var dLc mat.Dense
		dLc.Mul(tr.ctxAvg[t].T(), dPre)
		g.Lc.Add(g.Lc, &dLc)

		dOut[t] = dPre
	}

	var dNext []rnn.State
	for t := T - 1; t >= 0; t-- {
		dx, dPrev := p.Stack.StepBackward(tr.steps[t], dOut[t], dNext, g.Stack)
		dNext = dPrev

		mask := tr.inMasks[t]
		for b := 0; b < B; b++ {
			row := dx.RawRowView(b)
			if mask != nil {
				floats.Mul(row, mask.RawRowView(b))
			}
			floats.Add(g.Embedding.RawRowView(batch.X[b][t]), row)
		}
	}
	return g
}

// TrainStep runs the window, clips the gradients to max_grad_norm and
// applies one SGD step with learning rate lr. It returns the forward result
// and the gradient norm before clipping.
func (n *Network) TrainStep(batch Batch, state []rnn.State, lr float64) (*Result, float64, error) {
	if !n.training {
		return nil, 0, fmt.Errorf("%w: network is not in training mode", models.ErrConfig)
	}

	res, grads, err := n.Gradients(batch, state)
	if err != nil {
		return nil, 0, err
	}

	gt := grads.Tensors()
	norm := optim.ClipByGlobalNorm(gt, n.cfg.MaxGradNorm)
	if !optim.IsFinite(norm) {
		return nil, 0, fmt.Errorf("%w: gradient norm is %v", models.ErrNumerical, norm)
	}
	optim.SGD(n.params.Tensors(), gt, lr)
	return res, norm, nil
}

func logSumExp(z []float64) float64 {
	m := floats.Max(z)
	if math.IsInf(m, 0) || math.IsNaN(m) {
		return m
	}
	sum := 0.0
	for _, v := range z {
		sum += math.Exp(v - m)
	}
	return m + math.Log(sum)
}
