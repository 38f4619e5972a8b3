package ccd

import (
	"context"
	"fmt"

	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/prior"
)

// foldState returns the coefficients, bounds and predictor of fold f.
func (e *Engine) foldState(ctx context.Context, f int) (beta, bound, xb []float64, err error) {
	if beta, err = e.Beta(ctx, f); err != nil {
		return
	}
	if bound, err = e.Bounds(ctx, f); err != nil {
		return
	}
	xb, err = e.XBeta(ctx, f)
	return
}

// TurnOnSyncCV switches to fitting nfold folds at once.  Every fold
// starts from the current state of the first fold, with the data
// weights; use SetFoldWeights to hold out rows.
func (e *Engine) TurnOnSyncCV(ctx context.Context, nfold int) error {
	if nfold < 1 {
		return fmt.Errorf("ccd: cannot fit %d folds", nfold)
	}
	beta, bound, xb, err := e.foldState(ctx, 0)
	if err != nil {
		return err
	}
	e.sync = true
	e.weighted = true
	if err := e.repack(ctx, Stride(nfold), nfold, beta, bound, xb); err != nil {
		return err
	}
	if e.config.Log != nil {
		e.config.Log.Printf("ccd: fitting %d folds at stride %d", nfold, e.s)
	}
	return nil
}

// TurnOffSyncCV returns to single-model mode, keeping the state of the
// first fold.
func (e *Engine) TurnOffSyncCV(ctx context.Context) error {
	if !e.sync {
		return nil
	}
	beta, bound, xb, err := e.foldState(ctx, 0)
	if err != nil {
		return err
	}
	e.sync = false
	e.weighted = e.data.Weights != nil
	return e.repack(ctx, 1, 1, beta, bound, xb)
}

// SetFoldWeights installs the row weights of fold f, typically zero for
// held-out rows.  A nil w restores the data weights.  All folds become
// active again.
func (e *Engine) SetFoldWeights(ctx context.Context, f int, w []float64) error {
	e.checkFold(f)
	if w != nil {
		if len(w) != e.layout.K {
			return fmt.Errorf("ccd: fold %d weights have length %d, want %d: %w", f, len(w), e.layout.K, likelihood.ErrInvalidData)
		}
		d := &likelihood.Data{Y: e.data.Y, Offset: e.data.Offset, Weights: w, Pid: e.data.Pid, Strata: e.data.Strata}
		if _, err := d.Validate(e.model.Tag); err != nil {
			return fmt.Errorf("ccd: fold %d: %w", f, err)
		}
		w = append([]float64(nil), w...)
	}
	e.weights[f] = w
	if !e.weighted && w != nil {
		e.weighted = true
		clear(e.kernels)
		e.bind()
	}
	if err := e.uploadWeights(ctx); err != nil {
		return err
	}
	return e.wake(ctx)
}

// wake marks every fold active and recomputes the derived quantities.
func (e *Engine) wake(ctx context.Context) error {
	clear(e.done)
	if err := e.uploadActive(ctx); err != nil {
		return err
	}
	return e.refresh(ctx)
}

// UpdateDoneFolds sets the done flag of every fold.  Done folds are
// skipped by every kernel until they are woken.
func (e *Engine) UpdateDoneFolds(ctx context.Context, done []bool) error {
	if len(done) != e.nfold {
		return fmt.Errorf("ccd: %d done flags for %d folds", len(done), e.nfold)
	}
	copy(e.done, done)
	return e.uploadActive(ctx)
}

// Done returns the done flag of every fold.
func (e *Engine) Done() []bool {
	return append([]bool(nil), e.done...)
}

// ResetBeta sets every coefficient and predictor to zero and every bound
// to its initial value, and wakes all folds.
func (e *Engine) ResetBeta(ctx context.Context) error {
	e.beta.Fill(0)
	e.bound.Fill(e.priors.InitialBound)
	e.xbeta.Fill(0)
	return e.wake(ctx)
}

// ZeroXBeta sets the predictor of every fold to zero without changing
// the coefficients.  It is used together with SetBeta or ResetBeta when
// restarting a fit.
func (e *Engine) ZeroXBeta(ctx context.Context) error {
	e.xbeta.Fill(0)
	return e.wake(ctx)
}

// SetBounds sets every trust region bound to initial.
func (e *Engine) SetBounds(ctx context.Context, initial float64) error {
	if !(initial > 0) {
		return fmt.Errorf("ccd: initial bound %v must be positive: %w", initial, prior.ErrInvalidPrior)
	}
	e.priors.InitialBound = initial
	e.bound.Fill(initial)
	return e.wake(ctx)
}

// SetPriors installs one prior per covariate, shared by all folds.
func (e *Engine) SetPriors(ctx context.Context, types []prior.Type, params []float64) error {
	if err := e.priors.Set(types, params); err != nil {
		return err
	}
	return e.wake(ctx)
}

// SetBeta sets the coefficients of fold f, updating its predictor by
// the change in every coefficient.
func (e *Engine) SetBeta(ctx context.Context, f int, beta []float64) error {
	e.checkFold(f)
	nc, s := e.matrix.NumCols(), e.s
	if len(beta) != nc {
		return fmt.Errorf("ccd: %d coefficients for %d covariates", len(beta), nc)
	}

	all := make([]float64, nc*s)
	if err := device.Download(ctx, all, e.beta, 0); err != nil {
		return err
	}
	for j, b := range beta {
		d := b - all[j*s+f]
		if d == 0 {
			continue
		}
		if err := e.xbeta.Axpy(ctx, d, e.store.View(j), s, f); err != nil {
			return err
		}
		all[j*s+f] = b
	}
	if err := device.Upload(ctx, e.beta, 0, all); err != nil {
		return err
	}
	return e.wake(ctx)
}

// Beta returns the coefficients of fold f.
func (e *Engine) Beta(ctx context.Context, f int) ([]float64, error) {
	return e.coefficientSlot(ctx, e.beta, f)
}

// Bounds returns the current trust region bounds of fold f.
func (e *Engine) Bounds(ctx context.Context, f int) ([]float64, error) {
	return e.coefficientSlot(ctx, e.bound, f)
}

func (e *Engine) coefficientSlot(ctx context.Context, b *device.Buffer[float64], f int) ([]float64, error) {
	e.checkFold(f)
	nc, s := e.matrix.NumCols(), e.s
	all := make([]float64, nc*s)
	if err := device.Download(ctx, all, b, 0); err != nil {
		return nil, err
	}
	v := make([]float64, nc)
	for j := range v {
		v[j] = all[j*s+f]
	}
	return v, nil
}

// XBeta returns the linear predictor of fold f, without the offset.
func (e *Engine) XBeta(ctx context.Context, f int) ([]float64, error) {
	e.checkFold(f)
	return e.xbeta.Slot(ctx, e.s, f)
}
