// Package likelihood implements the per-model gradient, Hessian, update
// and likelihood kernels of the coordinate descent engine, and the table
// that selects them for a model, column format, weighting and execution
// variant.
//
// Kernels report the gradient and Hessian of the negative
// log-likelihood, so the unpenalized Newton step is -g/h.
package likelihood

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported is wrapped by errors for model, format and variant
	// combinations that have no kernel.
	ErrUnsupported = errors.New("unsupported configuration")

	// ErrInvalidData is wrapped by errors describing malformed input data.
	ErrInvalidData = errors.New("invalid data")
)

// Tag identifies a model.
type Tag int

const (
	LogisticRegression Tag = iota
	PoissonRegression
	LeastSquares
	ConditionalLogistic
	ConditionalPoisson
	SelfControlledCaseSeries
	CoxProportionalHazards
	ExactConditionalLogistic
)

// Tags lists every model.
var Tags = []Tag{
	LogisticRegression, PoissonRegression, LeastSquares, ConditionalLogistic,
	ConditionalPoisson, SelfControlledCaseSeries, CoxProportionalHazards, ExactConditionalLogistic,
}

var tagNames = map[Tag]string{
	LogisticRegression:       "logistic",
	PoissonRegression:        "poisson",
	LeastSquares:             "ls",
	ConditionalLogistic:      "clr",
	ConditionalPoisson:       "cpr",
	SelfControlledCaseSeries: "sccs",
	CoxProportionalHazards:   "cox",
	ExactConditionalLogistic: "exact_clr",
}

// String returns the short name of the model.
func (t Tag) String() string {
	if s, ok := tagNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// ParseTag returns the model with the given short name.
func ParseTag(s string) (Tag, error) {
	for t, n := range tagNames {
		if n == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown model %q: %w", s, ErrUnsupported)
}

// Capabilities describes the structure of a model's likelihood.
type Capabilities struct {

	// Grouped models share a denominator among the rows of a stratum.
	Grouped bool

	// HasDenominator models keep a per-row or per-stratum denominator.
	HasDenominator bool

	// FixedLikelihoodTerms models add a term that does not depend on β.
	FixedLikelihoodTerms bool

	// AccumulatedDenominator models use running sums of the stratum
	// denominators (risk sets).
	AccumulatedDenominator bool

	// ExactConditional models use the exact subset recursion.
	ExactConditional bool

	// PrecomputeGradient models subtract Σ w·x·y from the gradient.
	PrecomputeGradient bool

	// PrecomputeHessian models take the Hessian from Σ w·x².
	PrecomputeHessian bool

	// BinaryOutcome models require y in {0, 1}.
	BinaryOutcome bool
}

var capabilities = map[Tag]Capabilities{
	LogisticRegression: {
		HasDenominator: true, PrecomputeGradient: true, BinaryOutcome: true,
	},
	PoissonRegression: {
		FixedLikelihoodTerms: true, PrecomputeGradient: true,
	},
	LeastSquares: {
		PrecomputeGradient: true, PrecomputeHessian: true,
	},
	ConditionalLogistic: {
		Grouped: true, HasDenominator: true, PrecomputeGradient: true, BinaryOutcome: true,
	},
	ConditionalPoisson: {
		Grouped: true, HasDenominator: true, PrecomputeGradient: true,
	},
	SelfControlledCaseSeries: {
		Grouped: true, HasDenominator: true, FixedLikelihoodTerms: true, PrecomputeGradient: true,
	},
	CoxProportionalHazards: {
		Grouped: true, HasDenominator: true, AccumulatedDenominator: true, PrecomputeGradient: true,
		BinaryOutcome: true,
	},
	ExactConditionalLogistic: {
		Grouped: true, HasDenominator: true, ExactConditional: true, PrecomputeGradient: true,
		BinaryOutcome: true,
	},
}

// Describe returns the capabilities of model t.
func Describe(t Tag) (Capabilities, error) {
	c, ok := capabilities[t]
	if !ok {
		return Capabilities{}, fmt.Errorf("%v: %w", t, ErrUnsupported)
	}
	return c, nil
}
