// Package duration prepares right-censored survival data for the Cox
// proportional hazards kernels, and provides a reference implementation
// of the Breslow partial likelihood.
package duration

import (
	"fmt"
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/likelihood"
)

// CoxConfig defines configuration parameters for NewCoxData.  All slices
// are optional and indexed by the original row order.
type CoxConfig struct {

	// Strata assigns every row to a stratum.  Risk sets are formed
	// within strata.
	Strata []int

	// Weights are frequency weights.
	Weights []float64

	// Offset is added to the linear predictor.
	Offset []float64

	// Log receives a summary of the risk set structure, if not nil.
	Log *log.Logger
}

// DefaultCoxConfig returns the default configuration: one stratum, no
// weights and no offset.
func DefaultCoxConfig() *CoxConfig {
	return &CoxConfig{}
}

// CoxData is survival data ordered for the Cox kernels.  Rows are sorted
// by stratum and then by decreasing time; rows with equal time in a
// stratum share a pid, so that the risk set at a pid's time is every row
// in the pids up to and including it.
type CoxData struct {
	Data *likelihood.Data

	// Order maps sorted rows to original rows.
	Order []int

	// NumStrata is the number of strata.
	NumStrata int

	// EarlyCensored counts rows censored before the first event of their
	// stratum.  They never enter a risk set.
	EarlyCensored int
}

// NewCoxData sorts the observations with the given times and event
// indicators (1 for an event, 0 for censoring).
func NewCoxData(time, status []float64, config *CoxConfig) (*CoxData, error) {

	if config == nil {
		config = DefaultCoxConfig()
	}

	nobs := len(time)
	if nobs == 0 {
		return nil, fmt.Errorf("duration: no observations: %w", likelihood.ErrInvalidData)
	}
	if len(status) != nobs {
		return nil, fmt.Errorf("duration: %d times and %d status values: %w", nobs, len(status), likelihood.ErrInvalidData)
	}
	for _, v := range []struct {
		name string
		n    int
	}{{"strata", len(config.Strata)}, {"weights", len(config.Weights)}, {"offset", len(config.Offset)}} {
		if v.n != 0 && v.n != nobs {
			return nil, fmt.Errorf("duration: %s has length %d, want %d: %w", v.name, v.n, nobs, likelihood.ErrInvalidData)
		}
	}
	for i := range time {
		if time[i] < 0 || math.IsNaN(time[i]) {
			return nil, fmt.Errorf("duration: time %d is %v: %w", i, time[i], likelihood.ErrInvalidData)
		}
		if status[i] != 0 && status[i] != 1 {
			return nil, fmt.Errorf("duration: status %d is %v, want 0 or 1: %w", i, status[i], likelihood.ErrInvalidData)
		}
	}

	stratum := func(i int) int {
		if config.Strata == nil {
			return 0
		}
		return config.Strata[i]
	}

	inds := make([]int, nobs)
	for i := range inds {
		inds[i] = i
	}
	sort.SliceStable(inds, func(a, b int) bool {
		ia, ib := inds[a], inds[b]
		if sa, sb := stratum(ia), stratum(ib); sa != sb {
			return sa < sb
		}
		return time[ia] > time[ib]
	})

	d := &likelihood.Data{
		Y:   make([]float64, nobs),
		Pid: make([]int32, nobs),
	}
	if config.Offset != nil {
		d.Offset = make([]float64, nobs)
	}
	if config.Weights != nil {
		d.Weights = make([]float64, nobs)
	}

	cd := &CoxData{Data: d, Order: inds}

	pid := int32(-1)
	firstEvent := make(map[int]float64)
	for i, j := range inds {
		d.Y[i] = status[j]
		if d.Offset != nil {
			d.Offset[i] = config.Offset[j]
		}
		if d.Weights != nil {
			d.Weights[i] = config.Weights[j]
		}
		newStratum := i == 0 || stratum(j) != stratum(inds[i-1])
		if newStratum {
			cd.NumStrata++
		}
		if newStratum || time[j] != time[inds[i-1]] {
			pid++
			d.Strata = append(d.Strata, int32(cd.NumStrata-1))
		}
		d.Pid[i] = pid
		if status[j] == 1 {
			s := stratum(j)
			if t, ok := firstEvent[s]; !ok || time[j] < t {
				firstEvent[s] = time[j]
			}
		}
	}

	for _, j := range inds {
		t, ok := firstEvent[stratum(j)]
		if !ok || time[j] < t {
			cd.EarlyCensored++
		}
	}

	if config.Log != nil {
		config.Log.Printf("duration: %d rows, %d strata, %d tied-time groups, %d censored before first event",
			nobs, cd.NumStrata, pid+1, cd.EarlyCensored)
	}

	return cd, nil
}

// Permute reorders the rows of m to match the sorted data.
func (cd *CoxData) Permute(m *column.Matrix) (*column.Matrix, error) {
	return m.Permute(cd.Order)
}

// Unpermute maps a per-row vector in sorted order back to the original
// row order.
func (cd *CoxData) Unpermute(x []float64) []float64 {
	y := make([]float64, len(x))
	for i, j := range cd.Order {
		y[j] = x[i]
	}
	return y
}

// BreslowLogLike returns the Breslow partial log-likelihood for the
// linear predictor lp in the original row order.  Strata, weights and
// offset may be nil.
func BreslowLogLike(time, status []float64, strata []int, weights, offset, lp []float64) float64 {

	nobs := len(time)
	byStratum := make(map[int][]int)
	for i := 0; i < nobs; i++ {
		s := 0
		if strata != nil {
			s = strata[i]
		}
		byStratum[s] = append(byStratum[s], i)
	}

	wgt := func(i int) float64 {
		if weights == nil {
			return 1
		}
		return weights[i]
	}

	eta := make([]float64, nobs)
	copy(eta, lp)
	if offset != nil {
		floats.Add(eta, offset)
	}

	// Visit strata in a fixed order so the sum does not depend on map
	// iteration.
	keys := make([]int, 0, len(byStratum))
	for s := range byStratum {
		keys = append(keys, s)
	}
	sort.Ints(keys)

	var ql float64
	for _, s := range keys {
		ix := byStratum[s]

		// The partial likelihood is invariant to adding a constant
		// within a stratum.
		sub := make([]float64, len(ix))
		for k, i := range ix {
			sub[k] = eta[i]
		}
		mx := floats.Max(sub)

		sort.SliceStable(ix, func(a, b int) bool { return time[ix[a]] > time[ix[b]] })

		var rlp float64
		for k := 0; k < len(ix); {
			// All rows tied at this time enter the risk set together.
			k1 := k
			for k1 < len(ix) && time[ix[k1]] == time[ix[k]] {
				rlp += wgt(ix[k1]) * math.Exp(eta[ix[k1]]-mx)
				k1++
			}
			var nev float64
			for _, i := range ix[k:k1] {
				if status[i] == 1 {
					ql += wgt(i) * (eta[i] - mx)
					nev += wgt(i)
				}
			}
			if nev > 0 {
				ql -= nev * math.Log(rlp)
			}
			k = k1
		}
	}

	return ql
}
