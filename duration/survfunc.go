package duration

import (
	"fmt"
	"math"
	"sort"

	"github.com/minghao2016/Cyclops/likelihood"
)

// SurvfuncRight is the Kaplan-Meier estimate of a survival function from
// right-censored data.
type SurvfuncRight struct {

	// Distinct event times, plus the largest observed time
	times []float64

	// Weighted number of events at each time
	nEvents []float64

	// Weighted number at risk at each time
	nRisk []float64

	// The estimated survival probability
	survProb []float64

	// Standard errors of the survival probability
	survProbSE []float64

	weighted bool
}

// NewSurvfuncRight estimates the survival function of the given times and
// event indicators (1 for an event, 0 for censoring).  The weights may be
// nil.
func NewSurvfuncRight(time, status, weights []float64) (*SurvfuncRight, error) {

	if len(status) != len(time) || (weights != nil && len(weights) != len(time)) {
		return nil, fmt.Errorf("duration: %d times, %d statuses and %d weights: %w",
			len(time), len(status), len(weights), likelihood.ErrInvalidData)
	}
	if len(time) == 0 {
		return nil, fmt.Errorf("duration: no observations: %w", likelihood.ErrInvalidData)
	}

	sf := &SurvfuncRight{weighted: weights != nil}
	events := make(map[float64]float64)
	total := make(map[float64]float64)
	for i, t := range time {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		if status[i] == 1 {
			events[t] += w
		}
		total[t] += w
	}

	sf.eventstats(events, total)
	sf.compress()
	sf.fit()
	return sf, nil
}

// Time returns the times at which the survival function changes.
func (sf *SurvfuncRight) Time() []float64 {
	return sf.times
}

// NumRisk returns the number of units at risk at each time.
func (sf *SurvfuncRight) NumRisk() []float64 {
	return sf.nRisk
}

// SurvProb returns the estimated survival probability at each time.
func (sf *SurvfuncRight) SurvProb() []float64 {
	return sf.survProb
}

// SurvProbSE returns the standard errors of the survival probabilities.
func (sf *SurvfuncRight) SurvProbSE() []float64 {
	return sf.survProbSE
}

// At returns the estimated probability of surviving past t.
func (sf *SurvfuncRight) At(t float64) float64 {
	i := sort.SearchFloat64s(sf.times, t)
	if i < len(sf.times) && sf.times[i] == t {
		return sf.survProb[i]
	}
	if i == 0 {
		return 1
	}
	return sf.survProb[i-1]
}

func rollback(x []float64) {
	var z float64
	for i := len(x) - 1; i >= 0; i-- {
		z += x[i]
		x[i] = z
	}
}

func (sf *SurvfuncRight) eventstats(events, total map[float64]float64) {

	sf.times = make([]float64, 0, len(total))
	for t := range total {
		sf.times = append(sf.times, t)
	}
	sort.Float64s(sf.times)

	sf.nEvents = make([]float64, len(sf.times))
	sf.nRisk = make([]float64, len(sf.times))
	for i, t := range sf.times {
		sf.nEvents[i] = events[t]
		sf.nRisk[i] = total[t]
	}
	rollback(sf.nRisk)
}

// compress drops the times with no events, except the last.
func (sf *SurvfuncRight) compress() {

	var ix []int
	for i := 0; i < len(sf.times); i++ {
		if sf.nEvents[i] > 0 || i == len(sf.times)-1 {
			ix = append(ix, i)
		}
	}

	for i, j := range ix {
		sf.times[i] = sf.times[j]
		sf.nEvents[i] = sf.nEvents[j]
		sf.nRisk[i] = sf.nRisk[j]
	}
	sf.times = sf.times[:len(ix)]
	sf.nEvents = sf.nEvents[:len(ix)]
	sf.nRisk = sf.nRisk[:len(ix)]
}

func (sf *SurvfuncRight) fit() {

	sf.survProb = make([]float64, len(sf.times))
	x := 1.0
	for i := range sf.times {
		x *= 1 - sf.nEvents[i]/sf.nRisk[i]
		sf.survProb[i] = x
	}

	// Greenwood's formula, or its weighted analogue.
	sf.survProbSE = make([]float64, len(sf.times))
	x = 0
	for i := range sf.times {
		d := sf.nEvents[i]
		n := sf.nRisk[i]
		if sf.weighted {
			x += d / (n * n)
			sf.survProbSE[i] = math.Sqrt(x)
		} else {
			x += d / (n * (n - d))
			sf.survProbSE[i] = math.Sqrt(x) * sf.survProb[i]
		}
	}
}
