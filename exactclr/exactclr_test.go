package exactclr

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats/scalar"

	"github.com/minghao2016/Cyclops/device"
)

// brute enumerates every subset of size m.
func brute(e, x []float64, m int) (b0, b1, b2 float64) {
	n := len(e)
	for mask := 0; mask < 1<<n; mask++ {
		var cnt int
		p, s := 1.0, 0.0
		for i := 0; i < n; i++ {
			if mask&(1<<i) != 0 {
				cnt++
				p *= e[i]
				s += x[i]
			}
		}
		if cnt != m {
			continue
		}
		b0 += p
		b1 += s * p
		b2 += s * s * p
	}
	return
}

func TestRecursionMatchesEnumeration(t *testing.T) {

	rng := rand.New(rand.NewSource(342))

	for _, n := range []int{1, 3, 4, 6, 9} {
		for m := 1; m <= n; m++ {
			e := make([]float64, n)
			x := make([]float64, n)
			for i := range e {
				e[i] = math.Exp(rng.NormFloat64())
				x[i] = rng.NormFloat64()
			}

			r := Start(make([]float64, SlotLen(m)), m)
			for i := range e {
				r.Add(e[i], x[i])
			}

			b0, b1, b2 := r.Sums()
			c0, c1, c2 := brute(e, x, m)
			if !scalar.EqualWithinRel(b0, c0, 1e-10) || !scalar.EqualWithinAbsOrRel(b1, c1, 1e-10, 1e-10) ||
				!scalar.EqualWithinAbsOrRel(b2, c2, 1e-10, 1e-10) {
				t.Fatalf("n=%d m=%d: recursion (%v, %v, %v) enumeration (%v, %v, %v)", n, m, b0, b1, b2, c0, c1, c2)
			}
			if r.Overflow() != 0 {
				t.Fatalf("unexpected rescaling")
			}
		}
	}
}

// Four subjects with two cases, checked against the six case sets
// written out by hand.
func TestFourSubjectsTwoCases(t *testing.T) {

	eta := []float64{0.2, -0.5, 1.1, 0.3}
	x := []float64{1, 0, 2, -1}
	e := make([]float64, 4)
	for i := range e {
		e[i] = math.Exp(eta[i])
	}

	var c0, c1, c2 float64
	for _, p := range [][2]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}} {
		w := e[p[0]] * e[p[1]]
		s := x[p[0]] + x[p[1]]
		c0 += w
		c1 += s * w
		c2 += s * s * w
	}

	r := Start(make([]float64, SlotLen(2)), 2)
	for i := range e {
		r.Add(e[i], x[i])
	}
	b0, b1, b2 := r.Sums()
	if !scalar.EqualWithinRel(b0, c0, 1e-12) || !scalar.EqualWithinRel(b1, c1, 1e-12) || !scalar.EqualWithinRel(b2, c2, 1e-12) {
		t.Fatalf("recursion (%v, %v, %v), want (%v, %v, %v)", b0, b1, b2, c0, c1, c2)
	}

	g, h := r.Derivatives()
	if !scalar.EqualWithinRel(g, c1/c0, 1e-12) || !scalar.EqualWithinRel(h, c2/c0-(c1/c0)*(c1/c0), 1e-12) {
		t.Fatalf("derivatives (%v, %v)", g, h)
	}
	if !scalar.EqualWithinRel(r.LogB0(), math.Log(c0), 1e-12) {
		t.Fatalf("log B0 %v, want %v", r.LogB0(), math.Log(c0))
	}
}

// Multiplying every relative risk by a constant c leaves the derivatives
// unchanged and adds m·log c to log B0, however many rescalings the
// larger values need.
func TestRescaling(t *testing.T) {

	rng := rand.New(rand.NewSource(87))

	for _, tc := range []struct {
		n, m  int
		shift float64
	}{
		{20, 10, 100 * math.Ln2},
		{40, 20, 100},
		{200, 100, 30},
		{30, 2, 400},
		{30, 15, 700},
		{25, 5, -300},
		{12, 6, -700},
	} {
		x := make([]float64, tc.n)
		e := make([]float64, tc.n)
		for i := range x {
			x[i] = float64(i%5) - 2
			e[i] = math.Exp(0.5 * rng.NormFloat64())
		}

		r1 := Start(make([]float64, SlotLen(tc.m)), tc.m)
		r2 := Start(make([]float64, SlotLen(tc.m)), tc.m)
		c := math.Exp(tc.shift)
		for i := range x {
			r1.Add(e[i], x[i])
			r2.Add(c*e[i], x[i])
		}

		if tc.shift > 0 && r2.Overflow() == 0 {
			t.Fatalf("n=%d m=%d shift=%v: expected rescaling", tc.n, tc.m, tc.shift)
		}

		g1, h1 := r1.Derivatives()
		g2, h2 := r2.Derivatives()
		if math.IsNaN(g2) || math.IsNaN(h2) {
			t.Fatalf("n=%d m=%d shift=%v: derivatives (%v, %v)", tc.n, tc.m, tc.shift, g2, h2)
		}
		if !scalar.EqualWithinAbsOrRel(g1, g2, 1e-9, 1e-9) || !scalar.EqualWithinAbsOrRel(h1, h2, 1e-9, 1e-9) {
			t.Fatalf("n=%d m=%d shift=%v: derivatives (%v, %v) vs (%v, %v)", tc.n, tc.m, tc.shift, g1, h1, g2, h2)
		}

		want := r1.LogB0() + float64(tc.m)*tc.shift
		if !scalar.EqualWithinAbsOrRel(r2.LogB0(), want, 1e-9, 1e-12) {
			t.Fatalf("n=%d m=%d shift=%v: log B0 %v, want %v", tc.n, tc.m, tc.shift, r2.LogB0(), want)
		}
	}
}

// With unit relative risks B0 counts the case sets.
func TestCountSubsets(t *testing.T) {
	const n, m = 20, 10
	r := Start(make([]float64, SlotLen(m)), m)
	for i := 0; i < n; i++ {
		r.Add(1, float64(i%3))
	}
	lc, _ := math.Lgamma(n + 1)
	l1, _ := math.Lgamma(m + 1)
	if !scalar.EqualWithinRel(r.LogB0(), lc-2*l1, 1e-12) {
		t.Fatalf("log B0 %v, want log C(20, 10) = %v", r.LogB0(), lc-2*l1)
	}
}

func TestEngineSizing(t *testing.T) {

	dev, _ := device.New(nil)
	e, err := New(dev, []int32{0, 4, 5, 12}, []int{1, 0, 3}, 4)
	if err != nil {
		t.Fatal(err)
	}
	if e.MaxN() != 7 || e.MaxCases() != 3 {
		t.Fatalf("sized to maxN=%d maxCases=%d", e.MaxN(), e.MaxCases())
	}
	if len(e.Scratch(3)) != SlotLen(3) {
		t.Fatalf("scratch slot of length %d", len(e.Scratch(3)))
	}

	if _, err := New(dev, []int32{0, 4}, []int{1, 2}, 1); err == nil {
		t.Fatal("expected error for mismatched boundaries")
	}
}
