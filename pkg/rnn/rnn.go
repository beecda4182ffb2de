// Package rnn implements a stacked contextual LSTM cell over gonum matrices.
//
// Every gate of a layer sees three inputs: the layer input, the previous
// layer output and a context vector. The gate pre-activation is
//
//	z = [x ; h_prev]·W + ctx·U + b
//
// laid out column-wise as [input | candidate | forget | output].
package rnn

import (
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/cnclabs/contextrec/pkg/optim"
)

// Layer holds the weights of one contextual LSTM layer.
type Layer struct {
	InputDim int

	W *mat.Dense // (InputDim+hidden) x 4*hidden
	U *mat.Dense // contextDim x 4*hidden
	B *mat.Dense // 1 x 4*hidden
}

// Stack is a multi-layer contextual LSTM. The output of layer l is the
// input of layer l+1; every layer sees the same context vector.
type Stack struct {
	Layers     []*Layer
	HiddenDim  int
	ContextDim int

	// ForgetBias is added to the forget gate pre-activation.
	ForgetBias float64
}

// State is the (memory cell, output) pair of one layer, batch x hidden.
type State struct {
	C *mat.Dense
	H *mat.Dense
}

// NewStack creates a stack with zeroed weights.
func NewStack(inputDim, hiddenDim, contextDim, numLayers int) *Stack {
	s := &Stack{
		Layers:     make([]*Layer, numLayers),
		HiddenDim:  hiddenDim,
		ContextDim: contextDim,
	}
	for l := 0; l < numLayers; l++ {
		in := hiddenDim
		if l == 0 {
			in = inputDim
		}
		s.Layers[l] = &Layer{
			InputDim: in,
			W:        mat.NewDense(in+hiddenDim, 4*hiddenDim, nil),
			U:        mat.NewDense(contextDim, 4*hiddenDim, nil),
			B:        mat.NewDense(1, 4*hiddenDim, nil),
		}
	}
	return s
}

// InitUniform fills W and U with values drawn uniformly from [-scale, scale].
// Biases stay at zero.
func (s *Stack) InitUniform(rng *rand.Rand, scale float64) {
	for _, layer := range s.Layers {
		FillUniform(layer.W, rng, scale)
		FillUniform(layer.U, rng, scale)
	}
}

// ZerosLike returns a stack of the same shape with zeroed weights; used as a
// gradient accumulator.
func (s *Stack) ZerosLike() *Stack {
	z := NewStack(s.Layers[0].InputDim, s.HiddenDim, s.ContextDim, len(s.Layers))
	z.ForgetBias = s.ForgetBias
	return z
}

// Tensors lists the stack weights in a fixed order.
func (s *Stack) Tensors() []optim.Tensor {
	out := make([]optim.Tensor, 0, 3*len(s.Layers))
	for l, layer := range s.Layers {
		out = append(out,
			optim.Tensor{Name: layerName(l, "w"), Value: layer.W},
			optim.Tensor{Name: layerName(l, "u"), Value: layer.U},
			optim.Tensor{Name: layerName(l, "b"), Value: layer.B},
		)
	}
	return out
}

// ZeroState returns the all-zero state for a batch.
func (s *Stack) ZeroState(batch int) []State {
	states := make([]State, len(s.Layers))
	for l := range states {
		states[l] = State{
			C: mat.NewDense(batch, s.HiddenDim, nil),
			H: mat.NewDense(batch, s.HiddenDim, nil),
		}
	}
	return states
}

// CloneState deep-copies a state slice.
func CloneState(states []State) []State {
	out := make([]State, len(states))
	for l, st := range states {
		out[l] = State{C: mat.DenseCopyOf(st.C), H: mat.DenseCopyOf(st.H)}
	}
	return out
}

func layerName(l int, suffix string) string {
	return "rnn/layer" + strconv.Itoa(l) + "/" + suffix
}
