package duration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/minghao2016/Cyclops/likelihood"
)

// Concordance calculates the survival concordance of Uno et al.
// (https://www.ncbi.nlm.nih.gov/pmc/articles/PMC3079915), the
// probability that of two comparable units the one with the earlier event
// has the larger risk score, weighted by the inverse censoring
// probability.
type Concordance struct {

	// Event or censoring time, sorted
	time []float64

	// Event status
	status []float64

	// The risk scores that are being assessed
	score []float64

	// The survival function for the censoring distribution
	sf *SurvfuncRight
}

// NewConcordance prepares the concordance of the risk scores with the
// given times and event indicators.
func NewConcordance(time, status, score []float64) (*Concordance, error) {

	n := len(time)
	if len(status) != n || len(score) != n {
		return nil, fmt.Errorf("duration: %d times, %d statuses and %d scores: %w",
			n, len(status), len(score), likelihood.ErrInvalidData)
	}

	// Sort everything by time
	ii := make([]int, n)
	c := &Concordance{
		time:   append([]float64(nil), time...),
		status: make([]float64, n),
		score:  make([]float64, n),
	}
	floats.Argsort(c.time, ii)
	statusr := make([]float64, n)
	var ncens float64
	for i, j := range ii {
		c.status[i] = status[j]
		c.score[i] = score[j]
		// We want the survival function for censoring
		statusr[i] = 1 - status[j]
		ncens += statusr[i]
	}

	if ncens == 0 {
		// No censoring, P(C>t) = 1 for all t.
		c.sf = &SurvfuncRight{times: []float64{0, math.Inf(1)}, survProb: []float64{1, 1}}
		return c, nil
	}
	sf, err := NewSurvfuncRight(c.time, statusr, nil)
	if err != nil {
		return nil, err
	}
	c.sf = sf
	return c, nil
}

// Concordance returns the concordance statistic over the pairs whose
// earlier time is an event before the truncation time tau.  Tied scores
// count one half.
func (c *Concordance) Concordance(tau float64) (float64, error) {

	var numer, denom float64
	n := len(c.time)
	for j1 := 0; j1 < n && c.time[j1] < tau; j1++ {
		if c.status[j1] != 1 {
			continue
		}
		g := c.sf.At(c.time[j1])
		if g <= 0 {
			continue
		}
		w := 1 / (g * g)
		for j2 := j1 + 1; j2 < n; j2++ {
			if c.time[j2] <= c.time[j1] {
				continue
			}
			denom += w
			switch {
			case c.score[j1] > c.score[j2]:
				numer += w
			case c.score[j1] == c.score[j2]:
				numer += w / 2
			}
		}
	}

	if denom == 0 {
		return 0, fmt.Errorf("duration: no comparable pairs before %v: %w", tau, likelihood.ErrInvalidData)
	}
	return numer / denom, nil
}
