package ccd

import (
	"context"
	"fmt"

	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/likelihood"
)

// reduce runs a launch that writes per-chunk partials to e.partial, sums
// them per fold, and returns the sums of the real folds.
func (e *Engine) reduce(ctx context.Context, name string, r device.Range, k device.Kernel) ([]float64, error) {
	if err := e.dev.Launch(ctx, name, r, k); err != nil {
		return nil, err
	}
	sums := e.gh.Slice()[:e.s]
	r, k = likelihood.ReduceSums(&e.args, e.partial.Slice(), sums, e.grid)
	if err := e.dev.Launch(ctx, "reduceSums", r, k); err != nil {
		return nil, err
	}
	v := make([]float64, e.nfold)
	if err := device.Download(ctx, v, e.gh, 0); err != nil {
		return nil, err
	}
	return v, nil
}

// LogLikelihood returns the log-likelihood of the first fold at its
// current coefficients.
func (e *Engine) LogLikelihood(ctx context.Context) (float64, error) {
	ll, err := e.LogLikelihoodFolds(ctx)
	if err != nil {
		return 0, err
	}
	return ll[0], nil
}

// LogLikelihoodFolds returns the log-likelihood of every fold, weighted
// by the fold weights and including the terms that do not depend on the
// coefficients.  Done folds are evaluated too.
func (e *Engine) LogLikelihoodFolds(ctx context.Context) ([]float64, error) {

	if err := e.syncXBeta(ctx); err != nil {
		return nil, err
	}

	// Done folds are skipped by the kernels, so evaluate with every fold
	// active and restore the flags afterwards.
	done := e.Done()
	clear(e.done)
	if err := e.uploadActive(ctx); err != nil {
		return nil, err
	}

	r, k := e.model.LogLikelihood(&e.args, e.partial.Slice(), e.grid)
	ll, err := e.reduce(ctx, "logLikelihood", r, k)
	copy(e.done, done)
	if uerr := e.uploadActive(ctx); err == nil {
		err = uerr
	}
	if err != nil {
		return nil, err
	}

	for f := range ll {
		ll[f] += e.model.FixedTerm(e.data.Y, e.data.Offset, e.foldWeights(f))
	}
	return ll, nil
}

// GradientObjective returns Σ w·y·Xβ for the first fold.
func (e *Engine) GradientObjective(ctx context.Context) (float64, error) {
	v, err := e.GradientObjectiveFolds(ctx)
	if err != nil {
		return 0, err
	}
	return v[0], nil
}

// GradientObjectiveFolds returns Σ w·y·Xβ for every active fold; done
// folds report zero.
func (e *Engine) GradientObjectiveFolds(ctx context.Context) ([]float64, error) {
	if err := e.syncXBeta(ctx); err != nil {
		return nil, err
	}
	r, k := e.model.GradientObjective(&e.args, e.partial.Slice(), e.grid)
	return e.reduce(ctx, "gradientObjective", r, k)
}

// LogPriorFolds returns the log prior density of the coefficients of
// every fold.
func (e *Engine) LogPriorFolds(ctx context.Context) ([]float64, error) {
	lp := make([]float64, e.nfold)
	for f := range lp {
		b, err := e.Beta(ctx, f)
		if err != nil {
			return nil, err
		}
		lp[f] = e.priors.LogDensity(b)
	}
	return lp, nil
}

// PredictiveLogLikelihood evaluates the log-likelihood of the current
// coefficients of fold f with row weights w, usually the weights of the
// rows held out of the fold.
func (e *Engine) PredictiveLogLikelihood(ctx context.Context, f int, w []float64) (float64, error) {
	if len(w) != e.layout.K {
		return 0, fmt.Errorf("ccd: %d weights for %d rows: %w", len(w), e.layout.K, likelihood.ErrInvalidData)
	}
	xb, err := e.XBeta(ctx, f)
	if err != nil {
		return 0, err
	}
	return likelihood.HostLogLikelihood(e.model.Tag, e.data, e.layout, xb, w), nil
}
