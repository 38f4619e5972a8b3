package likelihood

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Data holds the per-row observation vectors of a model.
//
// Rows of grouped models are ordered by Pid, which takes the values
// 0, 1, ..., N-1 in non-decreasing order.  Independent models ignore Pid.
// For the Cox model each pid is a group of rows with tied times, pids are
// ordered by decreasing time within a stratum, and Strata gives the
// stratum of every pid; a nil Strata places all pids in one stratum.
type Data struct {
	Y       []float64
	Offset  []float64 // nil means zero
	Weights []float64 // nil means one
	Pid     []int32
	Strata  []int32
}

// Layout describes the strata of validated data.
type Layout struct {

	// K is the number of rows and N the number of pids.
	K, N int

	// NtoK[n] is the first row of pid n; NtoK[N] == K.
	NtoK []int32

	// StratumStart[s] is the first pid of stratum s of a model with
	// accumulated denominators; the last entry is N.
	StratumStart []int32

	// Cases[n] is the number of rows of pid n with a positive outcome.
	Cases []int
}

// NumStrata returns the number of risk set strata.
func (l *Layout) NumStrata() int {
	return len(l.StratumStart) - 1
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Validate checks the data against the requirements of model t and
// returns its stratum layout.
func (d *Data) Validate(t Tag) (*Layout, error) {

	caps, err := Describe(t)
	if err != nil {
		return nil, err
	}

	k := len(d.Y)
	if k == 0 {
		return nil, fmt.Errorf("no observations: %w", ErrInvalidData)
	}
	if d.Offset != nil && len(d.Offset) != k {
		return nil, fmt.Errorf("offset has length %d, want %d: %w", len(d.Offset), k, ErrInvalidData)
	}
	if d.Weights != nil && len(d.Weights) != k {
		return nil, fmt.Errorf("weights have length %d, want %d: %w", len(d.Weights), k, ErrInvalidData)
	}

	for i, y := range d.Y {
		switch {
		case !finite(y):
			return nil, fmt.Errorf("outcome %d is %v: %w", i, y, ErrInvalidData)
		case caps.BinaryOutcome && y != 0 && y != 1:
			return nil, fmt.Errorf("%v outcome %d is %v, want 0 or 1: %w", t, i, y, ErrInvalidData)
		case t != LeastSquares && y < 0:
			return nil, fmt.Errorf("%v outcome %d is negative: %w", t, i, ErrInvalidData)
		}
	}
	for i, o := range d.Offset {
		if !finite(o) {
			return nil, fmt.Errorf("offset %d is %v: %w", i, o, ErrInvalidData)
		}
	}
	for i, w := range d.Weights {
		if !finite(w) || w < 0 {
			return nil, fmt.Errorf("weight %d is %v: %w", i, w, ErrInvalidData)
		}
		if caps.ExactConditional && w != 0 && w != 1 {
			return nil, fmt.Errorf("exact conditional weights must be 0 or 1, weight %d is %v: %w", i, w, ErrInvalidData)
		}
	}

	l := &Layout{K: k}

	if !caps.Grouped {
		l.N = k
		l.NtoK = make([]int32, k+1)
		for i := range l.NtoK {
			l.NtoK[i] = int32(i)
		}
		return l, nil
	}

	if len(d.Pid) != k {
		return nil, fmt.Errorf("%v requires one pid per row, got %d for %d rows: %w", t, len(d.Pid), k, ErrInvalidData)
	}
	if d.Pid[0] != 0 {
		return nil, fmt.Errorf("first pid is %d, want 0: %w", d.Pid[0], ErrInvalidData)
	}
	l.NtoK = append(l.NtoK, 0)
	for i := 1; i < k; i++ {
		switch d.Pid[i] - d.Pid[i-1] {
		case 0:
		case 1:
			l.NtoK = append(l.NtoK, int32(i))
		default:
			return nil, fmt.Errorf("pids must be contiguous and non-decreasing, row %d has %d after %d: %w",
				i, d.Pid[i], d.Pid[i-1], ErrInvalidData)
		}
	}
	l.N = len(l.NtoK)
	l.NtoK = append(l.NtoK, int32(k))

	l.Cases = make([]int, l.N)
	for i, y := range d.Y {
		if y > 0 {
			l.Cases[d.Pid[i]]++
		}
	}

	if caps.AccumulatedDenominator {
		if d.Strata == nil {
			l.StratumStart = []int32{0, int32(l.N)}
		} else {
			if len(d.Strata) != l.N {
				return nil, fmt.Errorf("strata have length %d, want one per pid (%d): %w", len(d.Strata), l.N, ErrInvalidData)
			}
			l.StratumStart = append(l.StratumStart, 0)
			for n := 1; n < l.N; n++ {
				if d.Strata[n] < d.Strata[n-1] {
					return nil, fmt.Errorf("strata must be non-decreasing, pid %d: %w", n, ErrInvalidData)
				}
				if d.Strata[n] != d.Strata[n-1] {
					l.StratumStart = append(l.StratumStart, int32(n))
				}
			}
			l.StratumStart = append(l.StratumStart, int32(l.N))
		}
	}

	return l, nil
}

// Weight returns the weight of row i.
func (d *Data) Weight(i int) float64 {
	if d.Weights == nil {
		return 1
	}
	return d.Weights[i]
}

// NWeight returns Σ w·y over the rows of every pid for the row weights w,
// with nil meaning unit weights.
func (l *Layout) NWeight(y, w []float64) []float64 {
	nw := make([]float64, l.N)
	for n := 0; n < l.N; n++ {
		a, b := l.NtoK[n], l.NtoK[n+1]
		if w == nil {
			nw[n] = floats.Sum(y[a:b])
		} else {
			nw[n] = floats.Dot(w[a:b], y[a:b])
		}
	}
	return nw
}
