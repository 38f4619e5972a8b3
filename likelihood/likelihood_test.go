package likelihood

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
)

func TestResolve(t *testing.T) {

	for _, tag := range Tags {
		for _, f := range column.Formats {
			for _, w := range []bool{false, true} {
				for _, v := range []Variant{SingleModel, SyncCV, MM, BatchAll} {
					key := Key{Tag: tag, Format: f, Weighted: w, Variant: v}
					k, err := Resolve(key)
					if tag == ExactConditionalLogistic && v == MM {
						if !errors.Is(err, ErrUnsupported) {
							t.Fatalf("%v: expected ErrUnsupported, got %v", key, err)
						}
						continue
					}
					if err != nil {
						t.Fatalf("%v: %v", key, err)
					}
					if k.Key != key {
						t.Fatalf("resolved %v for %v", k.Key, key)
					}
				}
			}
		}
	}

	if _, err := Resolve(Key{Tag: Tag(99)}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("unknown model: %v", err)
	}
}

func TestParseTag(t *testing.T) {
	for _, tag := range Tags {
		u, err := ParseTag(tag.String())
		if err != nil || u != tag {
			t.Fatalf("ParseTag(%q) = %v, %v", tag.String(), u, err)
		}
	}
	if _, err := ParseTag("probit"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("ParseTag(probit): %v", err)
	}
}

func TestValidate(t *testing.T) {

	for k, c := range []struct {
		tag  Tag
		data Data
	}{
		{LogisticRegression, Data{}},
		{LogisticRegression, Data{Y: []float64{0, 2}}},
		{PoissonRegression, Data{Y: []float64{1, -1}}},
		{PoissonRegression, Data{Y: []float64{1, math.NaN()}}},
		{LeastSquares, Data{Y: []float64{1, 2}, Offset: []float64{0}}},
		{LeastSquares, Data{Y: []float64{1, 2}, Weights: []float64{1, -1}}},
		{ConditionalLogistic, Data{Y: []float64{1, 0}}},
		{ConditionalLogistic, Data{Y: []float64{1, 0}, Pid: []int32{1, 1}}},
		{ConditionalLogistic, Data{Y: []float64{1, 0, 1}, Pid: []int32{0, 2, 2}}},
		{ConditionalLogistic, Data{Y: []float64{1, 0, 1}, Pid: []int32{0, 1, 0}}},
		{ExactConditionalLogistic, Data{Y: []float64{1, 0}, Pid: []int32{0, 0}, Weights: []float64{2, 1}}},
		{CoxProportionalHazards, Data{Y: []float64{1, 0}, Pid: []int32{0, 1}, Strata: []int32{0}}},
		{CoxProportionalHazards, Data{Y: []float64{1, 0}, Pid: []int32{0, 1}, Strata: []int32{1, 0}}},
	} {
		if _, err := c.data.Validate(c.tag); !errors.Is(err, ErrInvalidData) {
			t.Fatalf("case %d: expected ErrInvalidData, got %v", k, err)
		}
	}

	d := Data{Y: []float64{1, 0, 0, 1, 0}, Pid: []int32{0, 0, 1, 1, 1}}
	l, err := d.Validate(ConditionalLogistic)
	if err != nil {
		t.Fatal(err)
	}
	if l.N != 2 || l.NtoK[1] != 2 || l.NtoK[2] != 5 || l.Cases[0] != 1 || l.Cases[1] != 1 {
		t.Fatalf("unexpected layout %+v", l)
	}
	if !floats.Equal(l.NWeight(d.Y, []float64{2, 1, 1, 3, 1}), []float64{2, 3}) {
		t.Fatal("NWeight")
	}
}

func TestChunk(t *testing.T) {
	for _, n := range []int{0, 1, 7, 64, 100} {
		for _, wgs := range []int{1, 3, 8} {
			next := 0
			for r := 0; r < wgs; r++ {
				lo, hi := Chunk(n, wgs, r)
				if lo != next || hi < lo {
					t.Fatalf("n=%d wgs=%d r=%d: [%d, %d) after %d", n, wgs, r, lo, hi, next)
				}
				next = hi
			}
			if next != n {
				t.Fatalf("n=%d wgs=%d: chunks end at %d", n, wgs, next)
			}
		}
	}
}

func TestHostLogLikelihood(t *testing.T) {

	xb := []float64{0.5, -1, 2}
	y := []float64{1, 0, 1}

	// Logistic
	d := &Data{Y: y}
	l, err := d.Validate(LogisticRegression)
	if err != nil {
		t.Fatal(err)
	}
	var want float64
	for i := range y {
		p := 1 / (1 + math.Exp(-xb[i]))
		want += y[i]*math.Log(p) + (1-y[i])*math.Log(1-p)
	}
	got := HostLogLikelihood(LogisticRegression, d, l, xb, nil)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("logistic: %v, want %v", got, want)
	}

	// A matched pair with one case is a logistic regression on the
	// difference of the predictors.
	d = &Data{Y: []float64{1, 0}, Pid: []int32{0, 0}}
	l, err = d.Validate(ConditionalLogistic)
	if err != nil {
		t.Fatal(err)
	}
	got = HostLogLikelihood(ConditionalLogistic, d, l, []float64{0.3, -0.4}, nil)
	want = -math.Log1p(math.Exp(-0.7))
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("clr: %v, want %v", got, want)
	}

	// With one case the exact likelihood equals the conditional one.
	d = &Data{Y: []float64{0, 1, 0}, Pid: []int32{0, 0, 0}}
	l, err = d.Validate(ExactConditionalLogistic)
	if err != nil {
		t.Fatal(err)
	}
	got = HostLogLikelihood(ExactConditionalLogistic, d, l, xb, nil)
	want = HostLogLikelihood(ConditionalLogistic, d, l, xb, nil)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("exact clr: %v, want %v", got, want)
	}

	// Poisson fixed terms
	m, _ := NewModel(PoissonRegression)
	d = &Data{Y: []float64{0, 3, 1}}
	l, _ = d.Validate(PoissonRegression)
	var row float64
	for i := range xb {
		row += d.Y[i]*xb[i] - math.Exp(xb[i])
	}
	got = HostLogLikelihood(PoissonRegression, d, l, xb, nil)
	if want := row + m.FixedTerm(d.Y, nil, nil); math.Abs(got-want) > 1e-12 {
		t.Fatalf("poisson: %v, want %v", got, want)
	}
	if ft := m.FixedTerm(d.Y, nil, nil); math.Abs(ft+math.Log(6)) > 1e-12 {
		t.Fatalf("poisson fixed term %v", ft)
	}
}

// Accumulate on a hand-built problem with one fold and one chunk.
func TestAccumulateLogistic(t *testing.T) {

	dev, err := device.New(device.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	x := []float64{1, -2, 0.5, 3}
	y := []float64{1, 0, 0, 1}
	w := []float64{1, 2, 0, 1}
	xb := []float64{0.2, -0.1, 0.4, 0}

	m, err := column.NewMatrix(4, column.NewDense(x))
	if err != nil {
		t.Fatal(err)
	}
	st, err := column.NewStore(context.Background(), dev, m, false)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Free()

	e := make([]float64, 4)
	den := make([]float64, 4)
	for i := range e {
		e[i] = math.Exp(xb[i])
		den[i] = 1 + e[i]
	}
	a := &Args{
		K: 4, N: 4, S: 1, F: 1, Y: y, Offset: make([]float64, 4),
		NtoK: []int32{0, 1, 2, 3, 4}, KWeight: w, XBeta: xb, ExpXBeta: e, Denom: den,
		Active: []uint8{1},
	}

	k, err := Resolve(Key{Tag: LogisticRegression, Format: column.Dense, Weighted: true})
	if err != nil {
		t.Fatal(err)
	}
	g, h := k.Accumulate(a, st.View(0), 0, 0, 4, nil, nil)

	var wg, wh float64
	for i := range x {
		p := e[i] / (1 + e[i])
		wg += w[i] * x[i] * p
		wh += w[i] * x[i] * x[i] * p * (1 - p)
	}
	if math.Abs(g-wg) > 1e-12 || math.Abs(h-wh) > 1e-12 {
		t.Fatalf("got (%v, %v), want (%v, %v)", g, h, wg, wh)
	}

	// The MM curvature bound is at least the Hessian.
	_, hm := k.Accumulate(a, st.View(0), 0, 0, 4, nil, []float64{1.5, 2, 0.5, 3})
	if hm < h {
		t.Fatalf("MM curvature %v below Hessian %v", hm, h)
	}
}

// The logistic log-likelihood stays finite for predictors whose
// exponential overflows.
func TestLogisticLogLikelihoodLarge(t *testing.T) {

	m, err := NewModel(LogisticRegression)
	if err != nil {
		t.Fatal(err)
	}

	y := []float64{1, 0, 1}
	xb := []float64{800, -800, -3}
	e := make([]float64, 3)
	den := make([]float64, 3)
	for i := range e {
		e[i] = math.Exp(xb[i])
		den[i] = 1 + e[i]
	}
	a := &Args{
		K: 3, N: 3, S: 1, F: 1, Y: y, Offset: make([]float64, 3),
		NtoK: []int32{0, 1, 2, 3}, KWeight: []float64{1, 1, 1}, XBeta: xb, ExpXBeta: e, Denom: den,
		Active: []uint8{1},
	}

	var ll float64
	for n := 0; n < 3; n++ {
		ll += m.pidLogLikelihood(a, n, 0, nil)
	}
	want := -math.Log1p(math.Exp(-800)) - math.Log1p(math.Exp(-800)) - math.Log1p(math.Exp(3))
	if math.IsInf(ll, 0) || math.IsNaN(ll) || math.Abs(ll-want) > 1e-12 {
		t.Fatalf("log-likelihood %v, want %v", ll, want)
	}

	d := &Data{Y: y}
	l, err := d.Validate(LogisticRegression)
	if err != nil {
		t.Fatal(err)
	}
	if host := HostLogLikelihood(LogisticRegression, d, l, xb, nil); math.Abs(host-ll) > 1e-12 {
		t.Fatalf("host log-likelihood %v, kernel %v", host, ll)
	}
}
