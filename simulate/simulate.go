// Package simulate generates random data sets for every supported model,
// for testing and for exercising the command line tool.
package simulate

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/duration"
	"github.com/minghao2016/Cyclops/likelihood"
)

// Config defines configuration parameters for New.
type Config struct {

	// Rows is the number of observations.
	Rows int

	// Formats gives the format of each covariate column.  An Intercept
	// entry adds a column of ones.
	Formats []column.Format

	// Density is the fraction of nonzero entries in sparse and
	// indicator columns.
	Density float64

	// GroupSize is the number of rows per stratum of grouped models.
	GroupSize int

	// Weighted draws random frequency weights.
	Weighted bool

	// Offset draws a random offset.
	Offset bool

	// Scale is the standard deviation of the true coefficients.
	Scale float64

	Seed uint64
}

// DefaultConfig returns a configuration with one column of every format.
func DefaultConfig() *Config {
	return &Config{
		Rows:      200,
		Formats:   []column.Format{column.Intercept, column.Dense, column.Sparse, column.Indicator, column.Dense},
		Density:   0.3,
		GroupSize: 4,
		Scale:     0.5,
		Seed:      1,
	}
}

// Problem is a simulated data set.
type Problem struct {
	Tag    likelihood.Tag
	Matrix *column.Matrix
	Data   *likelihood.Data

	// Beta holds the coefficients used to generate the outcomes.
	Beta []float64

	// Time and Status hold the survival data of a Cox problem, in the
	// order of Matrix and Data.
	Time, Status []float64
}

// New simulates data for model t.
func New(t likelihood.Tag, config *Config) (*Problem, error) {

	if config == nil {
		config = DefaultConfig()
	}
	if config.Rows <= 0 {
		return nil, fmt.Errorf("simulate: %d rows", config.Rows)
	}
	if config.GroupSize <= 0 {
		config.GroupSize = 1
	}

	src := rand.NewSource(config.Seed)
	rng := rand.New(src)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	k := config.Rows

	// Covariates
	var cols []column.Column
	var names []string
	for j, f := range config.Formats {
		var c column.Column
		switch f {
		case column.Dense:
			x := make([]float64, k)
			for i := range x {
				x[i] = norm.Rand()
			}
			c = column.NewDense(x)
		case column.Sparse, column.Indicator:
			var rows []int32
			var vals []float64
			for i := 0; i < k; i++ {
				if rng.Float64() < config.Density {
					rows = append(rows, int32(i))
					vals = append(vals, norm.Rand())
				}
			}
			if f == column.Sparse {
				c = column.NewSparse(rows, vals)
			} else {
				c = column.NewIndicator(rows)
			}
		case column.Intercept:
			c = column.NewIntercept()
		}
		cols = append(cols, c)
		names = append(names, fmt.Sprintf("%s%d", f, j+1))
	}
	m, err := column.NewMatrix(k, cols...)
	if err != nil {
		return nil, err
	}
	m.SetNames(names)

	caps, err := likelihood.Describe(t)
	if err != nil {
		return nil, err
	}

	beta := make([]float64, len(cols))
	for j := range beta {
		if config.Formats[j] == column.Intercept {
			if !caps.Grouped {
				beta[j] = -0.5
			}
			continue
		}
		beta[j] = config.Scale * norm.Rand()
	}

	d := &likelihood.Data{Y: make([]float64, k)}
	if config.Offset || t == likelihood.SelfControlledCaseSeries {
		d.Offset = make([]float64, k)
		for i := range d.Offset {
			if t == likelihood.SelfControlledCaseSeries {
				// log of the length of an exposure era
				d.Offset[i] = math.Log(1 + 30*rng.Float64())
			} else {
				d.Offset[i] = 0.2 * norm.Rand()
			}
		}
	}

	eta := m.MulVec(beta)
	if d.Offset != nil {
		for i := range eta {
			eta[i] += d.Offset[i]
		}
	}

	if caps.Grouped && t != likelihood.CoxProportionalHazards {
		d.Pid = make([]int32, k)
		for i := range d.Pid {
			d.Pid[i] = int32(i / config.GroupSize)
		}
	}

	p := &Problem{Tag: t, Matrix: m, Data: d, Beta: beta}

	switch t {
	case likelihood.LogisticRegression:
		for i := range d.Y {
			d.Y[i] = distuv.Bernoulli{P: 1 / (1 + math.Exp(-eta[i])), Src: src}.Rand()
		}

	case likelihood.PoissonRegression:
		for i := range d.Y {
			d.Y[i] = distuv.Poisson{Lambda: math.Exp(eta[i]), Src: src}.Rand()
		}

	case likelihood.LeastSquares:
		for i := range d.Y {
			d.Y[i] = eta[i] + norm.Rand()
		}

	case likelihood.ConditionalLogistic, likelihood.ExactConditionalLogistic:
		ncase := 1
		if t == likelihood.ExactConditionalLogistic {
			ncase = 2
		}
		for g0 := 0; g0 < k; g0 += config.GroupSize {
			g1 := min(g0+config.GroupSize, k)
			w := make([]float64, g1-g0)
			for i := range w {
				w[i] = math.Exp(eta[g0+i])
			}
			for c := 0; c < ncase && c < len(w)-1; c++ {
				i := int(distuv.NewCategorical(w, src).Rand())
				d.Y[g0+i] = 1
				w[i] = 0
			}
		}

	case likelihood.ConditionalPoisson, likelihood.SelfControlledCaseSeries:
		for g0 := 0; g0 < k; g0 += config.GroupSize {
			g1 := min(g0+config.GroupSize, k)
			w := make([]float64, g1-g0)
			for i := range w {
				w[i] = math.Exp(eta[g0+i])
			}
			total := 1 + distuv.Poisson{Lambda: 2, Src: src}.Rand()
			cat := distuv.NewCategorical(w, src)
			for c := 0; c < int(total); c++ {
				d.Y[g0+int(cat.Rand())]++
			}
		}

	case likelihood.CoxProportionalHazards:
		time := make([]float64, k)
		status := make([]float64, k)
		strata := make([]int, k)
		for i := range time {
			ev := distuv.Exponential{Rate: math.Exp(eta[i]), Src: src}.Rand()
			cens := distuv.Exponential{Rate: 0.5, Src: src}.Rand()
			// Round to produce tied times.
			time[i] = math.Ceil(math.Min(ev, cens)*10) / 10
			if ev <= cens {
				status[i] = 1
			}
			strata[i] = i % 2
		}
		var off []float64
		if d.Offset != nil {
			off = d.Offset
		}
		cd, err := duration.NewCoxData(time, status, &duration.CoxConfig{Strata: strata, Offset: off})
		if err != nil {
			return nil, err
		}
		pm, err := cd.Permute(m)
		if err != nil {
			return nil, err
		}
		p.Matrix = pm
		p.Data = cd.Data
		p.Time = make([]float64, k)
		p.Status = make([]float64, k)
		for i, j := range cd.Order {
			p.Time[i] = time[j]
			p.Status[i] = status[j]
		}
		d = cd.Data
	}

	if config.Weighted {
		d.Weights = make([]float64, k)
		for i := range d.Weights {
			if t == likelihood.ExactConditionalLogistic {
				// Exact weights only include or exclude a row.
				if rng.Intn(5) > 0 {
					d.Weights[i] = 1
				}
			} else {
				d.Weights[i] = float64(rng.Intn(3))
			}
		}
	}

	return p, nil
}

// Folds assigns every row of a problem to one of nfold folds.  Rows of a
// stratum are kept together.
func Folds(d *likelihood.Data, nfold int, seed uint64) []int {
	rng := rand.New(rand.NewSource(seed))
	folds := make([]int, len(d.Y))
	last := int32(-1)
	var f int
	for i := range folds {
		if d.Pid == nil || d.Pid[i] != last {
			f = rng.Intn(nfold)
		}
		if d.Pid != nil {
			last = d.Pid[i]
		}
		folds[i] = f
	}
	return folds
}
