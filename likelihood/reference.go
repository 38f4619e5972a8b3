package likelihood

import (
	"math"

	"github.com/minghao2016/Cyclops/exactclr"
)

// softplus returns log(1 + exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 0 {
		return x + math.Log1p(math.Exp(-x))
	}
	return math.Log1p(math.Exp(x))
}

// HostLogLikelihood evaluates the full log-likelihood of model t, fixed
// terms included, on the host for the predictor xb and row weights w (nil
// means one).  The offsets of d are added to xb.
func HostLogLikelihood(t Tag, d *Data, l *Layout, xb, w []float64) float64 {

	caps, err := Describe(t)
	if err != nil {
		panic(err)
	}

	weight := func(i int) float64 {
		if w == nil {
			return 1
		}
		return w[i]
	}
	eta := func(i int) float64 {
		if d.Offset == nil {
			return xb[i]
		}
		return xb[i] + d.Offset[i]
	}

	var ll float64
	for i, y := range d.Y {
		wi := weight(i)
		if wi == 0 {
			continue
		}
		e := eta(i)
		switch t {
		case LogisticRegression:
			ll += wi * (y*e - softplus(e))
		case PoissonRegression:
			lg, _ := math.Lgamma(y + 1)
			ll += wi * (y*e - math.Exp(e) - lg)
		case LeastSquares:
			ll -= 0.5 * wi * (y - e) * (y - e)
		default:
			ll += wi * y * e
		}
	}

	if !caps.Grouped {
		return ll
	}

	nw := l.NWeight(d.Y, w)
	den := make([]float64, l.N)
	for n := 0; n < l.N; n++ {
		for i := int(l.NtoK[n]); i < int(l.NtoK[n+1]); i++ {
			den[n] += weight(i) * math.Exp(eta(i))
		}
	}

	switch {
	case caps.AccumulatedDenominator:
		for st := 0; st < l.NumStrata(); st++ {
			var run float64
			for n := int(l.StratumStart[st]); n < int(l.StratumStart[st+1]); n++ {
				run += den[n]
				if nw[n] > 0 {
					ll -= nw[n] * math.Log(run)
				}
			}
		}

	case caps.ExactConditional:
		for n := 0; n < l.N; n++ {
			m := int(math.Round(nw[n]))
			if m == 0 {
				continue
			}
			rec := exactclr.Start(make([]float64, exactclr.SlotLen(m)), m)
			for i := int(l.NtoK[n]); i < int(l.NtoK[n+1]); i++ {
				if weight(i) != 0 {
					rec.Add(math.Exp(eta(i)), 0)
				}
			}
			ll -= rec.LogB0()
		}

	default:
		for n := 0; n < l.N; n++ {
			if nw[n] > 0 {
				ll -= nw[n] * math.Log(den[n])
			}
		}
	}

	return ll
}
