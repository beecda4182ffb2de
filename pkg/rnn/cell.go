package rnn

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// layerTrace keeps the activations of one layer at one time step.
type layerTrace struct {
	xh    *mat.Dense // [x ; h_prev]
	ctx   *mat.Dense
	cPrev *mat.Dense
	i     *mat.Dense
	g     *mat.Dense
	f     *mat.Dense
	o     *mat.Dense
	tanhC *mat.Dense
	mask  *mat.Dense // nil when no dropout was applied
}

// StepTrace records what StepBackward needs from one Step call.
type StepTrace struct {
	layers []layerTrace
}

// Step advances every layer by one time step.
//
// x is batch x InputDim, ctx is batch x ContextDim and prev holds one state
// per layer. Dropout, when active, masks the output each layer feeds upward;
// the returned states are never masked. The returned output is the top
// layer's (possibly masked) output, batch x hidden.
func (s *Stack) Step(prev []State, x, ctx *mat.Dense, drop *Dropout) (*mat.Dense, []State, *StepTrace) {
	batch, _ := x.Dims()
	h := s.HiddenDim

	next := make([]State, len(s.Layers))
	trace := &StepTrace{layers: make([]layerTrace, len(s.Layers))}

	input := x
	for l, layer := range s.Layers {
		xh := concatCols(input, prev[l].H)

		z := mat.NewDense(batch, 4*h, nil)
		z.Mul(xh, layer.W)
		var zc mat.Dense
		zc.Mul(ctx, layer.U)
		z.Add(z, &zc)
		AddRowVector(z, layer.B.RawRowView(0))

		ig := mat.NewDense(batch, h, nil)
		gg := mat.NewDense(batch, h, nil)
		fg := mat.NewDense(batch, h, nil)
		og := mat.NewDense(batch, h, nil)
		c := mat.NewDense(batch, h, nil)
		tc := mat.NewDense(batch, h, nil)
		hOut := mat.NewDense(batch, h, nil)

		for r := 0; r < batch; r++ {
			zr := z.RawRowView(r)
			cp := prev[l].C.RawRowView(r)
			ir, gr, fr, or := ig.RawRowView(r), gg.RawRowView(r), fg.RawRowView(r), og.RawRowView(r)
			cr, tcr, hr := c.RawRowView(r), tc.RawRowView(r), hOut.RawRowView(r)
			for j := 0; j < h; j++ {
				ir[j] = Sigmoid(zr[j])
				gr[j] = math.Tanh(zr[h+j])
				fr[j] = Sigmoid(zr[2*h+j] + s.ForgetBias)
				or[j] = Sigmoid(zr[3*h+j])

				cr[j] = fr[j]*cp[j] + ir[j]*gr[j]
				tcr[j] = math.Tanh(cr[j])
				hr[j] = or[j] * tcr[j]
			}
		}

		next[l] = State{C: c, H: hOut}
		out, mask := drop.Apply(hOut)

		trace.layers[l] = layerTrace{
			xh:    xh,
			ctx:   ctx,
			cPrev: prev[l].C,
			i:     ig,
			g:     gg,
			f:     fg,
			o:     og,
			tanhC: tc,
			mask:  mask,
		}
		input = out
	}

	return input, next, trace
}

// StepBackward propagates gradients through one Step.
//
// dOut is the gradient of the loss with respect to the returned output of
// Step. dNext holds the gradients with respect to the states Step returned,
// coming from the following time step; nil means zero. Parameter gradients
// are accumulated into grads, which must have the shape of s. It returns the
// gradient with respect to x and the gradients with respect to prev.
func (s *Stack) StepBackward(trace *StepTrace, dOut *mat.Dense, dNext []State, grads *Stack) (*mat.Dense, []State) {
	h := s.HiddenDim
	dPrev := make([]State, len(s.Layers))

	dAbove := dOut
	for l := len(s.Layers) - 1; l >= 0; l-- {
		lt := &trace.layers[l]
		batch, _ := lt.i.Dims()

		var dhNext, dcNext *mat.Dense
		if dNext != nil {
			dhNext, dcNext = dNext[l].H, dNext[l].C
		}

		dz := mat.NewDense(batch, 4*h, nil)
		dcPrev := mat.NewDense(batch, h, nil)

		for r := 0; r < batch; r++ {
			da := dAbove.RawRowView(r)
			ir, gr, fr, or := lt.i.RawRowView(r), lt.g.RawRowView(r), lt.f.RawRowView(r), lt.o.RawRowView(r)
			tcr, cpr := lt.tanhC.RawRowView(r), lt.cPrev.RawRowView(r)
			dzr, dcpr := dz.RawRowView(r), dcPrev.RawRowView(r)

			var mr, dhn, dcn []float64
			if lt.mask != nil {
				mr = lt.mask.RawRowView(r)
			}
			if dhNext != nil {
				dhn = dhNext.RawRowView(r)
			}
			if dcNext != nil {
				dcn = dcNext.RawRowView(r)
			}

			for j := 0; j < h; j++ {
				dh := da[j]
				if mr != nil {
					dh *= mr[j]
				}
				if dhn != nil {
					dh += dhn[j]
				}

				dc := dh * or[j] * (1 - tcr[j]*tcr[j])
				if dcn != nil {
					dc += dcn[j]
				}

				dzr[j] = dc * gr[j] * ir[j] * (1 - ir[j])
				dzr[h+j] = dc * ir[j] * (1 - gr[j]*gr[j])
				dzr[2*h+j] = dc * cpr[j] * fr[j] * (1 - fr[j])
				dzr[3*h+j] = dh * tcr[j] * or[j] * (1 - or[j])

				dcpr[j] = dc * fr[j]
			}
		}

		layer := s.Layers[l]
		g := grads.Layers[l]

		var dW mat.Dense
		dW.Mul(lt.xh.T(), dz)
		g.W.Add(g.W, &dW)

		var dU mat.Dense
		dU.Mul(lt.ctx.T(), dz)
		g.U.Add(g.U, &dU)

		AddColumnSums(g.B.RawRowView(0), dz)

		var dxh mat.Dense
		dxh.Mul(dz, layer.W.T())

		in := layer.InputDim
		dPrev[l] = State{
			C: dcPrev,
			H: mat.DenseCopyOf(dxh.Slice(0, batch, in, in+h)),
		}
		dAbove = mat.DenseCopyOf(dxh.Slice(0, batch, 0, in))
	}

	return dAbove, dPrev
}
