package ccd

import (
	"context"
	"fmt"

	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/prior"
)

// gradientHessian writes the corrected gradient and Hessian of covariate j
// for every fold to e.gh, at f and S+f.
func (e *Engine) gradientHessian(ctx context.Context, j int) error {

	ks, err := e.resolve(e.variant())
	if err != nil {
		return err
	}

	// An empty column has no gradient or Hessian.
	if e.store.TaskCount(j) == 0 {
		e.gh.Fill(0)
		return nil
	}

	partial := e.partial.Slice()
	r, k := ks[j].GradientHessian(&e.args, e.store.View(j), partial, e.grid)
	if err := e.dev.Launch(ctx, "gradientHessian", r, k); err != nil {
		return err
	}
	r, k = e.model.ReduceGradientHessian(&e.args, partial, j, e.gh.Slice(), e.grid)
	return e.dev.Launch(ctx, "reduceGradientHessian", r, k)
}

// ComputeGradientAndHessian returns the gradient and Hessian of the
// negative log-likelihood along covariate j at the current coefficients
// of the first fold.
func (e *Engine) ComputeGradientAndHessian(ctx context.Context, j int) (float64, float64, error) {
	gh, err := e.ComputeGradientAndHessianFolds(ctx, j)
	if err != nil {
		return 0, 0, err
	}
	return gh[0].Gradient, gh[0].Hessian, nil
}

// ComputeGradientAndHessianFolds returns the gradient and Hessian along
// covariate j for every fold.  Done folds report zero.
func (e *Engine) ComputeGradientAndHessianFolds(ctx context.Context, j int) ([]GradientHessian, error) {

	e.checkCovariate(j)
	if err := e.syncXBeta(ctx); err != nil {
		return nil, err
	}
	if err := e.gradientHessian(ctx, j); err != nil {
		return nil, err
	}

	gh := make([]float64, 2*e.s)
	if err := device.Download(ctx, gh, e.gh, 0); err != nil {
		return nil, err
	}
	out := make([]GradientHessian, e.nfold)
	for f := range out {
		out[f] = GradientHessian{Gradient: gh[f], Hessian: gh[e.s+f]}
	}
	return out, nil
}

// updateXBeta applies the per-fold steps in e.delta along covariate j to
// the predictor and the quantities derived from it.
func (e *Engine) updateXBeta(ctx context.Context, j int) error {

	// Nothing depends on an empty column.
	if e.store.TaskCount(j) == 0 {
		return nil
	}

	ks, err := e.resolve(e.variant())
	if err != nil {
		return err
	}
	r, k := ks[j].UpdateXBeta(&e.args, e.store.View(j), e.delta.Slice(), e.grid)
	if err := e.dev.Launch(ctx, "updateXBeta", r, k); err != nil {
		return err
	}
	e.xbeta.DeviceWritten()
	return e.accumulate(ctx)
}

// UpdateXBeta adds delta to coefficient j of the first fold and updates
// the predictor at the rows where column j is nonzero.  A zero delta
// does nothing.
func (e *Engine) UpdateXBeta(ctx context.Context, delta float64, j int) error {
	d := make([]float64, e.nfold)
	d[0] = delta
	return e.UpdateXBetaFolds(ctx, d, j)
}

// UpdateXBetaFolds adds deltas[f] to coefficient j of every active fold f
// and updates the predictors.  No kernel is launched if every delta is
// zero.  Folds that move are no longer done.
func (e *Engine) UpdateXBetaFolds(ctx context.Context, deltas []float64, j int) error {

	e.checkCovariate(j)
	if len(deltas) != e.nfold {
		return fmt.Errorf("ccd: %d deltas for %d folds", len(deltas), e.nfold)
	}

	var nonzero bool
	for _, d := range deltas {
		if d != 0 {
			nonzero = true
			break
		}
	}
	if !nonzero {
		return nil
	}

	var wake bool
	for f, d := range deltas {
		if d != 0 && e.done[f] {
			e.done[f] = false
			wake = true
		}
	}
	if wake {
		if err := e.uploadActive(ctx); err != nil {
			return err
		}
	}

	if err := e.syncXBeta(ctx); err != nil {
		return err
	}
	d := make([]float64, e.s)
	copy(d, deltas)
	if err := device.Upload(ctx, e.delta, 0, d); err != nil {
		return err
	}

	a := &e.args
	s := e.s
	beta, delta := e.beta.Slice(), e.delta.Slice()
	err := e.dev.Launch(ctx, "addBeta", device.Range1D(s, e.grid.Block), func(g device.Group) {
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			if a.Fold(f) {
				beta[j*s+f] += delta[f]
			}
		}
	})
	if err != nil {
		return err
	}
	return e.updateXBeta(ctx, j)
}

// processDelta returns a launch that turns the gradient and Hessian of
// covariate j in e.gh into a bounded, penalized step for every active
// fold.  It updates the coefficient and its bound, writes the step to
// e.delta, records folds that moved, and sets one flag per work-group if
// any of its folds took a nonzero step.
func (e *Engine) processDelta(j int) (device.Range, device.Kernel) {
	a := &e.args
	s := e.s
	p := e.priors.Priors[j]
	gh, delta := e.gh.Slice(), e.delta.Slice()
	beta, bound := e.beta.Slice(), e.bound.Slice()
	moved, nonzero := e.moved.Slice(), e.nonzero.Slice()

	return device.Range1D(s, e.grid.Block), func(g device.Group) {
		var flag uint8
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			var d float64
			if a.Fold(f) {
				jf := j*s + f
				d, bound[jf] = prior.Step(p, gh[f], gh[s+f], beta[jf], bound[jf])
				if d != 0 {
					beta[jf] += d
					moved[f] = 1
					flag = 1
				}
			}
			delta[f] = d
		}
		nonzero[g.ID[0]] = flag
	}
}

// anyMoved downloads the per-group step flags.
func (e *Engine) anyMoved(ctx context.Context) (bool, error) {
	flags := make([]uint8, e.nonzero.Len())
	if err := device.Download(ctx, flags, e.nonzero, 0); err != nil {
		return false, err
	}
	for _, v := range flags {
		if v != 0 {
			return true, nil
		}
	}
	return false, nil
}

// finishPass marks as done every active fold that took no step during
// the pass.
func (e *Engine) finishPass(ctx context.Context) error {
	moved := make([]uint8, e.s)
	if err := device.Download(ctx, moved, e.moved, 0); err != nil {
		return err
	}
	var changed bool
	for f := range e.done {
		if !e.done[f] && moved[f] == 0 {
			e.done[f] = true
			changed = true
		}
	}
	if changed {
		return e.uploadActive(ctx)
	}
	return nil
}

func (e *Engine) allDone() bool {
	for _, d := range e.done {
		if !d {
			return false
		}
	}
	return true
}

// RunOneCCDPass takes one penalized Newton step on every covariate in
// turn, for every active fold.  A fold that takes no nonzero step during
// the whole pass is marked done.
func (e *Engine) RunOneCCDPass(ctx context.Context) error {

	if e.allDone() {
		return nil
	}
	if err := e.syncXBeta(ctx); err != nil {
		return err
	}
	e.moved.Fill(0)

	for j := 0; j < e.matrix.NumCols(); j++ {
		if err := e.gradientHessian(ctx, j); err != nil {
			return err
		}
		r, k := e.processDelta(j)
		if err := e.dev.Launch(ctx, "processDelta", r, k); err != nil {
			return err
		}
		moved, err := e.anyMoved(ctx)
		if err != nil {
			return err
		}
		if !moved {
			continue
		}
		if err := e.updateXBeta(ctx, j); err != nil {
			return err
		}
	}

	return e.finishPass(ctx)
}
