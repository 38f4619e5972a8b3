package likelihood

import (
	"fmt"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
)

// Variant is the execution mode a kernel is resolved for.
type Variant int

const (
	// SingleModel runs one model with fold stride one.
	SingleModel Variant = iota

	// SyncCV runs every fold of a cross-validation in one launch.
	SyncCV

	// MM takes majorize-minimize steps on all covariates at once.
	MM

	// BatchAll evaluates the gradient and Hessian of every covariate.
	BatchAll
)

// String returns the variant name.
func (v Variant) String() string {
	switch v {
	case SingleModel:
		return "single"
	case SyncCV:
		return "synccv"
	case MM:
		return "mm"
	case BatchAll:
		return "batch"
	default:
		return fmt.Sprintf("Variant(%d)", int(v))
	}
}

// Key selects a kernel set.
type Key struct {
	Tag      Tag
	Format   column.Format
	Weighted bool
	Variant  Variant
}

// Kernels are the column kernels of one model, format, weighting and
// variant.
type Kernels struct {
	Key  Key
	Caps Capabilities
	fn   columnFuncs
}

var table = buildTable()

func supported(t Tag, v Variant) bool {
	return !(t == ExactConditionalLogistic && v == MM)
}

func bind[A column.Accessor, W weighter](view func(column.View) A, wf func(*Args) W, t Tag) columnFuncs {
	switch t {
	case LogisticRegression:
		return independentFuncs(view, wf, logisticRow{}, true, false)
	case PoissonRegression:
		return independentFuncs(view, wf, poissonRow{}, false, false)
	case LeastSquares:
		return independentFuncs(view, wf, lsRow{}, false, true)
	case ConditionalLogistic, ConditionalPoisson, SelfControlledCaseSeries:
		return groupedFuncs(view, wf)
	case CoxProportionalHazards:
		return cumulativeFuncs(view, wf)
	case ExactConditionalLogistic:
		return exactFuncs(view, wf)
	}
	panic(fmt.Sprintf("likelihood: no kernels for %v", t))
}

func bindWeights[A column.Accessor](view func(column.View) A, weighted bool, t Tag) columnFuncs {
	if weighted {
		return bind(view, foldWeights, t)
	}
	return bind(view, noWeights, t)
}

func bindFormat(f column.Format, weighted bool, t Tag) columnFuncs {
	switch f {
	case column.Dense:
		return bindWeights(column.View.DenseView, weighted, t)
	case column.Sparse:
		return bindWeights(column.View.SparseView, weighted, t)
	case column.Indicator:
		return bindWeights(column.View.IndicatorView, weighted, t)
	default:
		return bindWeights(column.View.InterceptView, weighted, t)
	}
}

func buildTable() map[Key]columnFuncs {
	tab := make(map[Key]columnFuncs)
	for _, t := range Tags {
		for _, f := range column.Formats {
			for _, w := range []bool{false, true} {
				fn := bindFormat(f, w, t)
				for _, v := range []Variant{SingleModel, SyncCV, MM, BatchAll} {
					if supported(t, v) {
						tab[Key{Tag: t, Format: f, Weighted: w, Variant: v}] = fn
					}
				}
			}
		}
	}
	return tab
}

// Resolve returns the kernels for key, or an error wrapping
// ErrUnsupported if there are none.
func Resolve(key Key) (*Kernels, error) {
	caps, err := Describe(key.Tag)
	if err != nil {
		return nil, err
	}
	fn, ok := table[key]
	if !ok {
		return nil, fmt.Errorf("no %v kernels for %v with %v columns: %w", key.Variant, key.Tag, key.Format, ErrUnsupported)
	}
	return &Kernels{Key: key, Caps: caps, fn: fn}, nil
}

// Domain returns the size of the gradient work domain of column v.
func (k *Kernels) Domain(a *Args, v column.View) int {
	return k.fn.domain(a, v)
}

// Accumulate returns the gradient and Hessian contributions of column v
// for fold f over [lo, hi) of its domain.  Non-nil norm selects the MM
// curvature bound.
func (k *Kernels) Accumulate(a *Args, v column.View, f, lo, hi int, scratch, norm []float64) (float64, float64) {
	return k.fn.accum(a, v, f, lo, hi, scratch, norm)
}

// GradientHessian returns a launch that writes the partial gradient and
// Hessian of column v for every active fold.  Work-group (b, r) handles
// folds [b*Block, (b+1)*Block) and chunk r of the domain, writing to
// out[r*S+f] and out[(WGS+r)*S+f].  Inactive and padding folds write
// zero.
func (k *Kernels) GradientHessian(a *Args, v column.View, out []float64, grid Grid) (device.Range, device.Kernel) {
	dom := k.fn.domain(a, v)
	wgs := grid.WGS
	s := a.S
	return device.Range2D(s, wgs, grid.Block, 1), func(g device.Group) {
		r := g.ID[1]
		lo, hi := Chunk(dom, wgs, r)
		var scratch []float64
		if a.Exact != nil {
			scratch = a.Exact.Scratch(g.Linear())
		}
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			var gr, he float64
			if a.Fold(f) && lo < hi {
				gr, he = k.fn.accum(a, v, f, lo, hi, scratch, nil)
			}
			out[r*s+f] = gr
			out[(wgs+r)*s+f] = he
		}
	}
}

// UpdateXBeta returns a launch that adds delta[f] times column v to the
// predictor of every active fold with a nonzero step, and updates the
// relative risks and denominators at the rows the column touches.
func (k *Kernels) UpdateXBeta(a *Args, v column.View, delta []float64, grid Grid) (device.Range, device.Kernel) {
	dom := k.fn.updateDomain(a, v)
	wgs := grid.WGS
	return device.Range2D(a.S, wgs, grid.Block, 1), func(g device.Group) {
		lo, hi := Chunk(dom, wgs, g.ID[1])
		if lo >= hi {
			return
		}
		for f := g.Base(0); f < g.Base(0)+g.Size[0]; f++ {
			if a.Fold(f) && delta[f] != 0 {
				k.fn.update(a, v, f, lo, hi, delta[f])
			}
		}
	}
}
