// Package prior implements the coefficient priors and the bounded Newton
// step used by coordinate descent.
package prior

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// ErrInvalidPrior is wrapped by errors describing a bad prior.
var ErrInvalidPrior = errors.New("invalid prior")

// Type is the family of a coefficient prior.
type Type int

const (
	// None leaves the coefficient unpenalized.
	None Type = iota

	// Laplace is the double exponential prior with rate λ, giving an L1
	// penalty λ|β|.
	Laplace

	// Normal is the mean zero Gaussian prior with variance σ², giving an
	// L2 penalty β²/(2σ²).
	Normal
)

// String returns the prior name.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Laplace:
		return "laplace"
	case Normal:
		return "normal"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType returns the prior type with the given name.
func ParseType(s string) (Type, error) {
	switch s {
	case "none", "":
		return None, nil
	case "laplace", "l1":
		return Laplace, nil
	case "normal", "l2":
		return Normal, nil
	}
	return None, fmt.Errorf("unknown prior %q: %w", s, ErrInvalidPrior)
}

// Prior is the prior on a single coefficient.  Param is the Laplace rate
// λ or the Normal variance σ².
type Prior struct {
	Type  Type
	Param float64
}

// Validate checks the prior parameter.
func (p Prior) Validate() error {
	switch p.Type {
	case None:
		return nil
	case Laplace:
		if !(p.Param >= 0) || math.IsInf(p.Param, 1) {
			return fmt.Errorf("laplace rate %v: %w", p.Param, ErrInvalidPrior)
		}
	case Normal:
		if !(p.Param > 0) || math.IsInf(p.Param, 1) {
			return fmt.Errorf("normal variance %v: %w", p.Param, ErrInvalidPrior)
		}
	default:
		return fmt.Errorf("%v: %w", p.Type, ErrInvalidPrior)
	}
	return nil
}

// Delta returns the unbounded coordinate step minimizing the quadratic
// model g·δ + h·δ²/2 of the negative log-likelihood plus the negative log
// prior at beta+δ.  A Laplace step never crosses zero; it stops there.
func (p Prior) Delta(g, h, beta float64) float64 {

	switch p.Type {
	case Normal:
		return -(g + beta/p.Param) / (h + 1/p.Param)

	case Laplace:
		if !(h > 0) {
			return 0
		}
		lam := p.Param
		if beta == 0 {
			if d := -(g + lam) / h; d > 0 {
				return d
			}
			if d := -(g - lam) / h; d < 0 {
				return d
			}
			return 0
		}
		s := math.Copysign(1, beta)
		d := -(g + s*lam) / h
		if (beta+d)*s < 0 {
			return -beta
		}
		return d

	default:
		if !(h > 0) {
			return 0
		}
		return -g / h
	}
}

// LogDensity returns the log prior density at beta.  An unpenalized
// coefficient, or a Laplace prior with zero rate, contributes zero.
func (p Prior) LogDensity(beta float64) float64 {
	switch p.Type {
	case Laplace:
		if p.Param == 0 {
			return 0
		}
		return distuv.Laplace{Mu: 0, Scale: 1 / p.Param}.LogProb(beta)
	case Normal:
		return distuv.Normal{Mu: 0, Sigma: math.Sqrt(p.Param)}.LogProb(beta)
	default:
		return 0
	}
}

// Bound clamps delta to the trust region [-bound, bound] and returns the
// clamped step and the bound to use for the next step on the same
// coordinate.  A zero step leaves the bound unchanged.
func Bound(delta, bound float64) (float64, float64) {
	if delta < -bound {
		delta = -bound
	} else if delta > bound {
		delta = bound
	}
	if delta == 0 {
		return 0, bound
	}
	return delta, math.Max(2*math.Abs(delta), bound/2)
}

// Step is the penalized, bounded coordinate update.
func Step(p Prior, g, h, beta, bound float64) (delta, next float64) {
	d := p.Delta(g, h, beta)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, bound
	}
	return Bound(d, bound)
}

// State holds the priors of all covariates and the initial trust region
// bound.
type State struct {
	Priors       []Prior
	InitialBound float64
}

// NewState returns a state with nvar unpenalized covariates.
func NewState(nvar int, initialBound float64) (*State, error) {
	if !(initialBound > 0) {
		return nil, fmt.Errorf("initial bound %v must be positive: %w", initialBound, ErrInvalidPrior)
	}
	return &State{Priors: make([]Prior, nvar), InitialBound: initialBound}, nil
}

// Set installs one prior per covariate.
func (s *State) Set(types []Type, params []float64) error {
	if len(types) != len(s.Priors) || len(params) != len(s.Priors) {
		return fmt.Errorf("got %d types and %d parameters for %d covariates: %w",
			len(types), len(params), len(s.Priors), ErrInvalidPrior)
	}
	pr := make([]Prior, len(types))
	for j := range pr {
		pr[j] = Prior{Type: types[j], Param: params[j]}
		if err := pr[j].Validate(); err != nil {
			return fmt.Errorf("covariate %d: %w", j, err)
		}
	}
	copy(s.Priors, pr)
	return nil
}

// LogDensity returns the joint log prior density of beta.
func (s *State) LogDensity(beta []float64) float64 {
	lp := make([]float64, len(s.Priors))
	for j, p := range s.Priors {
		lp[j] = p.LogDensity(beta[j])
	}
	return floats.Sum(lp)
}
