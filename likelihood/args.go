package likelihood

import (
	"github.com/minghao2016/Cyclops/exactclr"
)

// Args holds the device memory that kernels read and write.  Per-row and
// per-pid vectors are packed by fold: element (i, f) is at i*S+f.  In
// single-model mode S and F are both one.
type Args struct {
	K, N int

	// S is the fold stride and F the number of real folds.
	S, F int

	Y      []float64
	Offset []float64
	Pid    []int32
	NtoK   []int32

	StratumStart []int32

	// KWeight holds the packed row weights; nil means unit weights.
	KWeight []float64

	// NWeight holds Σ w·y per pid and fold.
	NWeight []float64

	XBeta    []float64
	ExpXBeta []float64
	Denom    []float64
	AccDenom []float64

	// Active[f] is nonzero for folds that are still being fitted.
	Active []uint8

	// XjY and XjX hold Σ w·x·y and Σ w·x² per covariate and fold.
	XjY, XjX []float64

	// RowNorm holds Σ_j |x_ij| per row, for MM steps.
	RowNorm []float64

	Exact *exactclr.Engine
}

func (a *Args) weight(k int) float64 {
	if a.KWeight == nil {
		return 1
	}
	return a.KWeight[k]
}

// Fold reports whether fold f is a real fold that is still active.
func (a *Args) Fold(f int) bool {
	return f < a.F && a.Active[f] != 0
}

// Grid is the shape of a fold-parallel launch: each work-group handles
// Block consecutive folds and one of WGS chunks of the work domain.
type Grid struct {
	Block int
	WGS   int
}

// Chunk returns the part [lo, hi) of a domain of size n handled by chunk
// r of wgs.
func Chunk(n, wgs, r int) (int, int) {
	cs := (n + wgs - 1) / wgs
	lo := r * cs
	hi := lo + cs
	if lo > n {
		lo = n
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

// Groups returns the number of work-groups of a launch over stride s.
func (g Grid) Groups(s int) int {
	return s / g.Block * g.WGS
}
