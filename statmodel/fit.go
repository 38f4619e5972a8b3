package statmodel

import (
	"context"
	"fmt"
	"log"
	"math"

	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/prior"
)

// Engine is a coordinate descent engine that can be driven to
// convergence.  *ccd.Engine implements Engine and FoldEngine.
type Engine interface {
	Tag() likelihood.Tag
	Names() []string
	Priors() []prior.Prior
	Data() *likelihood.Data
	NumFolds() int

	RunOneCCDPass(ctx context.Context) error
	RunOneMMPass(ctx context.Context) error

	LogLikelihoodFolds(ctx context.Context) ([]float64, error)
	LogPriorFolds(ctx context.Context) ([]float64, error)
	Beta(ctx context.Context, f int) ([]float64, error)

	Done() []bool
	UpdateDoneFolds(ctx context.Context, done []bool) error
	ResetBeta(ctx context.Context) error
	SetPriors(ctx context.Context, types []prior.Type, params []float64) error
}

// FoldEngine is an Engine that can fit several weightings of the data at
// once.
type FoldEngine interface {
	Engine
	TurnOnSyncCV(ctx context.Context, nfold int) error
	TurnOffSyncCV(ctx context.Context) error
	SetFoldWeights(ctx context.Context, f int, w []float64) error
	PredictiveLogLikelihood(ctx context.Context, f int, w []float64) (float64, error)
}

// FitConfig defines configuration parameters for the fitting functions.
type FitConfig struct {

	// Algorithm selects coordinate-wise or majorize-minimize updates.
	Algorithm Algorithm

	// MaxIter is the maximum number of passes over the covariates.
	MaxIter int

	// Tol is the convergence tolerance.  A model has converged when the
	// penalized log-likelihood changes by less than Tol times one plus
	// its magnitude in a pass.
	Tol float64

	// Log receives the objective after every pass, if not nil.
	Log *log.Logger
}

// DefaultFitConfig returns default values for the fitting functions.
func DefaultFitConfig() *FitConfig {
	return &FitConfig{
		Algorithm: CCD,
		MaxIter:   1000,
		Tol:       1e-8,
	}
}

func (config *FitConfig) pass(eng Engine) (func(context.Context) error, error) {
	switch config.Algorithm {
	case CCD:
		return eng.RunOneCCDPass, nil
	case MM:
		return eng.RunOneMMPass, nil
	}
	return nil, fmt.Errorf("statmodel: unknown algorithm %v", config.Algorithm)
}

func converged(last, cur, tol float64) bool {
	return math.Abs(cur-last) <= tol*(1+math.Abs(last))
}

// objective returns the log-likelihood and log prior of every fold.
func objective(ctx context.Context, eng Engine) ([]float64, []float64, error) {
	ll, err := eng.LogLikelihoodFolds(ctx)
	if err != nil {
		return nil, nil, err
	}
	lp, err := eng.LogPriorFolds(ctx)
	if err != nil {
		return nil, nil, err
	}
	return ll, lp, nil
}

// FitCCD runs passes of the engine from its current state until the
// penalized log-likelihood of the first fold converges, the engine
// reports the fold done, or the iteration limit is reached.
func FitCCD(ctx context.Context, eng Engine, config *FitConfig) (*Results, error) {

	if config == nil {
		config = DefaultFitConfig()
	}
	run, err := config.pass(eng)
	if err != nil {
		return nil, err
	}

	ll, lp, err := objective(ctx, eng)
	if err != nil {
		return nil, err
	}
	last := ll[0] + lp[0]

	rslt := &Results{
		tag:       eng.Tag(),
		algorithm: config.Algorithm,
		names:     eng.Names(),
		priors:    eng.Priors(),
	}

	for rslt.iterations < config.MaxIter {
		if err := run(ctx); err != nil {
			return nil, err
		}
		rslt.iterations++
		if ll, lp, err = objective(ctx, eng); err != nil {
			return nil, err
		}
		cur := ll[0] + lp[0]
		if config.Log != nil {
			config.Log.Printf("statmodel: %v pass %d: objective %.10g", config.Algorithm, rslt.iterations, cur)
		}
		if eng.Done()[0] || converged(last, cur, config.Tol) {
			rslt.converged = true
			break
		}
		last = cur
	}

	if rslt.params, err = eng.Beta(ctx, 0); err != nil {
		return nil, err
	}
	rslt.loglike, rslt.logprior = ll[0], lp[0]
	return rslt, nil
}

// FoldResults contains the results of fitting every fold of a
// cross-validation split.
type FoldResults struct {

	// Folds holds the fit of every fold, trained without its held-out
	// rows.
	Folds []*Results

	// Predictive holds the log-likelihood of the held-out rows of every
	// fold at that fold's estimates.
	Predictive []float64
}

// MeanPredictive returns the mean held-out log-likelihood over the
// folds.
func (fr *FoldResults) MeanPredictive() float64 {
	return meanFinite(fr.Predictive)
}

// checkFolds validates a fold assignment and returns the number of
// folds.  Rows of a matched set must share a fold; Cox tie groups may be
// split.
func checkFolds(t likelihood.Tag, d *likelihood.Data, folds []int) (int, error) {
	matched := d.Pid != nil && t != likelihood.CoxProportionalHazards
	if len(folds) != len(d.Y) {
		return 0, fmt.Errorf("statmodel: %d fold labels for %d rows: %w", len(folds), len(d.Y), likelihood.ErrInvalidData)
	}
	nfold := 0
	for i, f := range folds {
		if f < 0 {
			return 0, fmt.Errorf("statmodel: row %d has fold %d: %w", i, f, likelihood.ErrInvalidData)
		}
		nfold = max(nfold, f+1)
		if matched && i > 0 && d.Pid[i] == d.Pid[i-1] && folds[i] != folds[i-1] {
			return 0, fmt.Errorf("statmodel: matched set %d is split between folds: %w", d.Pid[i], likelihood.ErrInvalidData)
		}
	}
	return nfold, nil
}

// FitFolds fits one model per fold, all in one engine.  Fold f is
// trained on the rows with folds[i] != f and evaluated on the rest.  A
// fold is marked done as soon as it converges, so later passes skip it.
// The engine is left fitting the folds.
func FitFolds(ctx context.Context, eng FoldEngine, folds []int, config *FitConfig) (*FoldResults, error) {

	if config == nil {
		config = DefaultFitConfig()
	}
	run, err := config.pass(eng)
	if err != nil {
		return nil, err
	}

	d := eng.Data()
	nfold, err := checkFolds(eng.Tag(), d, folds)
	if err != nil {
		return nil, err
	}
	if err := eng.TurnOnSyncCV(ctx, nfold); err != nil {
		return nil, err
	}

	heldOut := make([][]float64, nfold)
	for f := 0; f < nfold; f++ {
		train := make([]float64, len(folds))
		heldOut[f] = make([]float64, len(folds))
		for i, g := range folds {
			if g == f {
				heldOut[f][i] = d.Weight(i)
			} else {
				train[i] = d.Weight(i)
			}
		}
		if err := eng.SetFoldWeights(ctx, f, train); err != nil {
			return nil, err
		}
	}

	ll, lp, err := objective(ctx, eng)
	if err != nil {
		return nil, err
	}
	last := make([]float64, nfold)
	for f := range last {
		last[f] = ll[f] + lp[f]
	}
	iters := make([]int, nfold)
	conv := make([]bool, nfold)

	for iter := 0; iter < config.MaxIter; iter++ {

		if err := run(ctx); err != nil {
			return nil, err
		}
		if ll, lp, err = objective(ctx, eng); err != nil {
			return nil, err
		}

		done := eng.Done()
		var active int
		for f := 0; f < nfold; f++ {
			if conv[f] {
				continue
			}
			iters[f]++
			cur := ll[f] + lp[f]
			if done[f] || converged(last[f], cur, config.Tol) {
				conv[f] = true
				done[f] = true
				continue
			}
			last[f] = cur
			active++
		}
		if config.Log != nil {
			config.Log.Printf("statmodel: %v pass %d: %d of %d folds active", config.Algorithm, iter+1, active, nfold)
		}
		if err := eng.UpdateDoneFolds(ctx, done); err != nil {
			return nil, err
		}
		if active == 0 {
			break
		}
	}

	fr := &FoldResults{
		Folds:      make([]*Results, nfold),
		Predictive: make([]float64, nfold),
	}
	for f := 0; f < nfold; f++ {
		beta, err := eng.Beta(ctx, f)
		if err != nil {
			return nil, err
		}
		fr.Folds[f] = &Results{
			tag:        eng.Tag(),
			algorithm:  config.Algorithm,
			names:      eng.Names(),
			priors:     eng.Priors(),
			params:     beta,
			loglike:    ll[f],
			logprior:   lp[f],
			iterations: iters[f],
			converged:  conv[f],
		}
		if fr.Predictive[f], err = eng.PredictiveLogLikelihood(ctx, f, heldOut[f]); err != nil {
			return nil, err
		}
	}

	return fr, nil
}

// CVResults contains the results of selecting a prior parameter by
// cross-validation.
type CVResults struct {

	// Params holds the candidate prior parameters.
	Params []float64

	// Predictive holds the mean held-out log-likelihood of every
	// candidate.
	Predictive []float64

	// Best is the position in Params of the selected parameter.
	Best int

	// Fit is the fit to all rows with the selected parameter.
	Fit *Results
}

// CrossValidate fits the folds once for every candidate parameter,
// applied to every covariate whose prior is not None, and refits all rows
// with the parameter that has the largest mean held-out log-likelihood.
func CrossValidate(ctx context.Context, eng FoldEngine, folds []int, params []float64, config *FitConfig) (*CVResults, error) {

	if config == nil {
		config = DefaultFitConfig()
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("statmodel: no candidate parameters: %w", prior.ErrInvalidPrior)
	}

	priors := eng.Priors()
	types := make([]prior.Type, len(priors))
	for j, p := range priors {
		types[j] = p.Type
	}
	setParam := func(v float64) error {
		pv := make([]float64, len(priors))
		for j, p := range priors {
			if p.Type != prior.None {
				pv[j] = v
			}
		}
		return eng.SetPriors(ctx, types, pv)
	}

	cv := &CVResults{
		Params:     params,
		Predictive: make([]float64, len(params)),
	}
	for k, v := range params {
		if err := setParam(v); err != nil {
			return nil, err
		}
		if err := eng.ResetBeta(ctx); err != nil {
			return nil, err
		}
		fr, err := FitFolds(ctx, eng, folds, config)
		if err != nil {
			return nil, err
		}
		cv.Predictive[k] = fr.MeanPredictive()
		if config.Log != nil {
			config.Log.Printf("statmodel: parameter %g: mean held-out log-likelihood %.6f", v, cv.Predictive[k])
		}
		if cv.Predictive[k] > cv.Predictive[cv.Best] {
			cv.Best = k
		}
	}

	if err := eng.TurnOffSyncCV(ctx); err != nil {
		return nil, err
	}
	if err := setParam(params[cv.Best]); err != nil {
		return nil, err
	}
	if err := eng.ResetBeta(ctx); err != nil {
		return nil, err
	}
	fit, err := FitCCD(ctx, eng, config)
	if err != nil {
		return nil, err
	}
	cv.Fit = fit

	return cv, nil
}
