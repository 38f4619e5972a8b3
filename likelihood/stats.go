package likelihood

import (
	"math"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/exactclr"
)

// Model holds the column-independent kernels of a model.
type Model struct {
	Tag  Tag
	Caps Capabilities
}

// NewModel returns the model with tag t.
func NewModel(t Tag) (*Model, error) {
	caps, err := Describe(t)
	if err != nil {
		return nil, err
	}
	return &Model{Tag: t, Caps: caps}, nil
}

func foldRange(a *Args, grid Grid) device.Range {
	return device.Range2D(a.S, grid.WGS, grid.Block, 1)
}

// Refresh returns a launch that recomputes the relative risks and the
// denominators of every active fold from the predictor.
func (m *Model) Refresh(a *Args, grid Grid) (device.Range, device.Kernel) {
	s := a.S
	return foldRange(a, grid), func(g device.Group) {
		if m.Tag == LeastSquares {
			return
		}
		lo, hi := Chunk(a.N, grid.WGS, g.ID[1])
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			if !a.Fold(f) {
				continue
			}
			for n := lo; n < hi; n++ {
				var sum float64
				for i := int(a.NtoK[n]); i < int(a.NtoK[n+1]); i++ {
					k := i*s + f
					e := math.Exp(a.XBeta[k] + a.Offset[i])
					a.ExpXBeta[k] = e
					if m.Caps.Grouped {
						sum += a.weight(k) * e
					} else if m.Caps.HasDenominator {
						a.Denom[k] = 1 + e
					}
				}
				if m.Caps.Grouped {
					a.Denom[n*s+f] = sum
				}
			}
		}
	}
}

// AccumulateDenominators returns a launch that rebuilds the running sums
// of the pid denominators within every risk set stratum.
func (m *Model) AccumulateDenominators(a *Args, grid Grid) (device.Range, device.Kernel) {
	s := a.S
	ns := len(a.StratumStart) - 1
	return foldRange(a, grid), func(g device.Group) {
		lo, hi := Chunk(ns, grid.WGS, g.ID[1])
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			if !a.Fold(f) {
				continue
			}
			for st := lo; st < hi; st++ {
				var run float64
				for n := int(a.StratumStart[st]); n < int(a.StratumStart[st+1]); n++ {
					run += a.Denom[n*s+f]
					a.AccDenom[n*s+f] = run
				}
			}
		}
	}
}

// LogLikelihood returns a launch that writes the partial log-likelihood,
// without fixed terms, of chunk r of the pids for fold f to out[r*S+f].
func (m *Model) LogLikelihood(a *Args, out []float64, grid Grid) (device.Range, device.Kernel) {
	s := a.S
	return foldRange(a, grid), func(g device.Group) {
		r := g.ID[1]
		lo, hi := Chunk(a.N, grid.WGS, r)
		var scratch []float64
		if a.Exact != nil {
			scratch = a.Exact.Scratch(g.Linear())
		}
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			var ll float64
			if a.Fold(f) {
				for n := lo; n < hi; n++ {
					ll += m.pidLogLikelihood(a, n, f, scratch)
				}
			}
			out[r*s+f] = ll
		}
	}
}

func (m *Model) pidLogLikelihood(a *Args, n, f int, scratch []float64) float64 {
	s := a.S
	var ll float64
	r0, r1 := int(a.NtoK[n]), int(a.NtoK[n+1])
	for i := r0; i < r1; i++ {
		k := i*s + f
		w := a.weight(k)
		if w == 0 {
			continue
		}
		eta := a.XBeta[k] + a.Offset[i]
		y := a.Y[i]
		switch m.Tag {
		case LogisticRegression:
			ll += w * (y*eta - softplus(eta))
		case PoissonRegression:
			ll += w * (y*eta - a.ExpXBeta[k])
		case LeastSquares:
			d := y - eta
			ll -= 0.5 * w * d * d
		case SelfControlledCaseSeries:
			ll += w * y * a.XBeta[k]
		default:
			ll += w * y * eta
		}
	}

	if !m.Caps.Grouped {
		return ll
	}

	nf := n*s + f
	nw := a.NWeight[nf]
	switch {
	case nw == 0:
	case m.Caps.AccumulatedDenominator:
		ll -= nw * math.Log(a.AccDenom[nf])
	case m.Caps.ExactConditional:
		rec := exactclr.Start(scratch, int(math.Round(nw)))
		for i := r0; i < r1; i++ {
			k := i*s + f
			if a.weight(k) != 0 {
				rec.Add(a.ExpXBeta[k], 0)
			}
		}
		ll -= rec.LogB0()
	default:
		ll -= nw * math.Log(a.Denom[nf])
	}
	return ll
}

// GradientObjective returns a launch that writes the partial sums of
// w·y·Xβ for every fold to out[r*S+f].
func (m *Model) GradientObjective(a *Args, out []float64, grid Grid) (device.Range, device.Kernel) {
	s := a.S
	return foldRange(a, grid), func(g device.Group) {
		r := g.ID[1]
		lo, hi := Chunk(a.K, grid.WGS, r)
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			var v float64
			if a.Fold(f) {
				for i := lo; i < hi; i++ {
					k := i*s + f
					v += a.weight(k) * a.Y[i] * a.XBeta[k]
				}
			}
			out[r*s+f] = v
		}
	}
}

// Correct applies the precomputed Σ w·x·y and Σ w·x² terms of covariate
// j and fold f.  MM curvature bounds already include the x² term.
func (m *Model) Correct(a *Args, j, f int, g, h float64, mm bool) (float64, float64) {
	if m.Caps.PrecomputeGradient {
		g -= a.XjY[j*a.S+f]
	}
	if m.Caps.PrecomputeHessian && !mm {
		h += a.XjX[j*a.S+f]
	}
	return g, h
}

// ReduceGradientHessian returns a launch that sums the partial gradients
// and Hessians in out over the WGS chunks, applies the precomputed terms
// of covariate j, and writes the result for fold f to gh[f] and gh[S+f].
func (m *Model) ReduceGradientHessian(a *Args, out []float64, j int, gh []float64, grid Grid) (device.Range, device.Kernel) {
	s := a.S
	wgs := grid.WGS
	return device.Range1D(s, grid.Block), func(g device.Group) {
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			var gr, he float64
			if a.Fold(f) {
				for r := 0; r < wgs; r++ {
					gr += out[r*s+f]
					he += out[(wgs+r)*s+f]
				}
				gr, he = m.Correct(a, j, f, gr, he, false)
			}
			gh[f] = gr
			gh[s+f] = he
		}
	}
}

// ReduceSums returns a launch that sums the partials out[r*S+f] over the
// WGS chunks into dst[f].
func ReduceSums(a *Args, out, dst []float64, grid Grid) (device.Range, device.Kernel) {
	s := a.S
	return device.Range1D(s, grid.Block), func(g device.Group) {
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			var v float64
			for r := 0; r < grid.WGS; r++ {
				v += out[r*s+f]
			}
			dst[f] = v
		}
	}
}

// UpdateRows returns a launch that adds Σ_j x_ij·delta[j*S+f] to the
// predictor of every row i and active fold f, reading the rows of X from
// the transposed store xt.
func UpdateRows(a *Args, xt *column.Store, delta []float64, grid Grid) (device.Range, device.Kernel) {
	s := a.S
	return foldRange(a, grid), func(g device.Group) {
		lo, hi := Chunk(xt.NumCols(), grid.WGS, g.ID[1])
		for i := lo; i < hi; i++ {
			row := xt.View(i).SparseView()
			for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
				if !a.Fold(f) {
					continue
				}
				var d float64
				for t := 0; t < row.Len(); t++ {
					j, x := row.At(t)
					d += x * delta[j*s+f]
				}
				a.XBeta[i*s+f] += d
			}
		}
	}
}

// FixedTerm returns the part of the log-likelihood that does not depend
// on β, for row weights w (nil means one).
func (m *Model) FixedTerm(y, offset, w []float64) float64 {
	if !m.Caps.FixedLikelihoodTerms {
		return 0
	}
	var v float64
	for i, yi := range y {
		wi := 1.0
		if w != nil {
			wi = w[i]
		}
		if wi == 0 {
			continue
		}
		switch m.Tag {
		case PoissonRegression:
			lg, _ := math.Lgamma(yi + 1)
			v -= wi * lg
		case SelfControlledCaseSeries:
			v += wi * yi * offset[i]
		}
	}
	return v
}
