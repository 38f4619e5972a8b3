package ccd

import (
	"context"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/prior"
)

// transposed builds the row-major store and the row norms used by MM
// steps.
func (e *Engine) transposed(ctx context.Context) error {
	if e.xt != nil {
		return nil
	}
	xt, err := column.NewStore(ctx, e.dev, e.matrix.Transpose(), e.config.Pad)
	if err != nil {
		return err
	}
	norm, err := device.UploadNew(ctx, e.dev, e.matrix.RowNorms())
	if err != nil {
		xt.Free()
		return err
	}
	e.xt, e.rowNorm = xt, norm
	e.args.RowNorm = norm.Slice()
	if e.config.Log != nil {
		e.config.Log.Printf("ccd: built row-major store with %d rows", xt.NumCols())
	}
	return nil
}

// covariateRange is a launch over (fold block, covariate).
func (e *Engine) covariateRange() device.Range {
	return device.Range2D(e.s, e.matrix.NumCols(), e.grid.Block, 1)
}

// RunOneMMPass takes a majorize-minimize step on every covariate at
// once, for every active fold.  The step of covariate j uses the
// curvature bound Σ w·|x_ij|·Σ_k |x_ik|, which majorizes the Hessian of
// the joint update, so all steps can be computed from the same predictor
// and applied together.  A fold with no nonzero step is marked done.
//
// MM steps are not available for the exact conditional model.
func (e *Engine) RunOneMMPass(ctx context.Context) error {

	ks, err := e.resolve(likelihood.MM)
	if err != nil {
		return err
	}
	if e.allDone() {
		return nil
	}
	if err := e.transposed(ctx); err != nil {
		return err
	}
	if err := e.syncXBeta(ctx); err != nil {
		return err
	}
	e.moved.Fill(0)

	a := &e.args
	s := e.s
	priors := e.priors.Priors
	beta, bound, deltaAll := e.beta.Slice(), e.bound.Slice(), e.deltaAll.Slice()

	err = e.dev.Launch(ctx, "mmDelta", e.covariateRange(), func(g device.Group) {
		j := g.ID[1]
		v := e.store.View(j)
		dom := ks[j].Domain(a, v)
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			jf := j*s + f
			var d float64
			if a.Fold(f) {
				gr, he := ks[j].Accumulate(a, v, f, 0, dom, nil, a.RowNorm)
				gr, he = e.model.Correct(a, j, f, gr, he, true)
				d, bound[jf] = prior.Step(priors[j], gr, he, beta[jf], bound[jf])
				beta[jf] += d
			}
			deltaAll[jf] = d
		}
	})
	if err != nil {
		return err
	}

	moved, nonzero := e.moved.Slice(), e.nonzero.Slice()
	nc := e.matrix.NumCols()
	err = e.dev.Launch(ctx, "mmFlags", device.Range1D(s, e.grid.Block), func(g device.Group) {
		var flag uint8
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			for j := 0; j < nc; j++ {
				if deltaAll[j*s+f] != 0 {
					moved[f] = 1
					flag = 1
					break
				}
			}
		}
		nonzero[g.ID[0]] = flag
	})
	if err != nil {
		return err
	}

	stepped, err := e.anyMoved(ctx)
	if err != nil {
		return err
	}
	if stepped {
		r, k := likelihood.UpdateRows(a, e.xt, deltaAll, e.grid)
		if err := e.dev.Launch(ctx, "updateRows", r, k); err != nil {
			return err
		}
		e.xbeta.DeviceWritten()
		if err := e.refresh(ctx); err != nil {
			return err
		}
	}

	return e.finishPass(ctx)
}

// ComputeAllGradientAndHessian returns the gradient and Hessian along
// every covariate at the current coefficients, indexed by covariate and
// then fold, from one launch.
func (e *Engine) ComputeAllGradientAndHessian(ctx context.Context) ([][]GradientHessian, error) {

	ks, err := e.resolve(likelihood.BatchAll)
	if err != nil {
		return nil, err
	}
	if err := e.syncXBeta(ctx); err != nil {
		return nil, err
	}

	nc := e.matrix.NumCols()
	s := e.s
	if err := resize(e.dev, &e.jfgh, 2*nc*s); err != nil {
		return nil, err
	}

	a := &e.args
	out := e.jfgh.Slice()
	err = e.dev.Launch(ctx, "batchGradientHessian", e.covariateRange(), func(g device.Group) {
		j := g.ID[1]
		v := e.store.View(j)
		dom := ks[j].Domain(a, v)
		var scratch []float64
		if a.Exact != nil {
			scratch = a.Exact.Scratch(g.Linear())
		}
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			var gr, he float64
			if a.Fold(f) && v.Tasks > 0 {
				gr, he = ks[j].Accumulate(a, v, f, 0, dom, scratch, nil)
				gr, he = e.model.Correct(a, j, f, gr, he, false)
			}
			out[2*j*s+f] = gr
			out[(2*j+1)*s+f] = he
		}
	})
	if err != nil {
		return nil, err
	}

	host := make([]float64, 2*nc*s)
	if err := device.Download(ctx, host, e.jfgh, 0); err != nil {
		return nil, err
	}
	res := make([][]GradientHessian, nc)
	for j := range res {
		res[j] = make([]GradientHessian, e.nfold)
		for f := range res[j] {
			res[j][f] = GradientHessian{Gradient: host[2*j*s+f], Hessian: host[(2*j+1)*s+f]}
		}
	}
	return res, nil
}
