// Package exactclr computes the exact conditional logistic likelihood of a
// matched set and its first two derivatives along one covariate.
//
// For a set of n subjects of which m are cases, the likelihood compares
// the cases against every subset of size m.  The sums over subsets
//
//	B0 = Σ_S Π_{i∈S} e_i
//	B1 = Σ_S (Σ_{i∈S} x_i) Π_{i∈S} e_i
//	B2 = Σ_S (Σ_{i∈S} x_i)² Π_{i∈S} e_i
//
// are built by a forward recursion over subjects, where e_i = exp(xβ_i).
// Values grow quickly with n, so the recursion rescales a subset size by
// 2^-600 when any of its sums gets large and counts the rescalings.
package exactclr

import (
	"fmt"
	"math"

	"github.com/minghao2016/Cyclops/device"
)

// RescaleExponent is the power of two removed by one rescaling.
const RescaleExponent = 600

var (
	rescaleAt    = math.Ldexp(1, RescaleExponent)
	rescaleBy    = math.Ldexp(1, -RescaleExponent)
	logRescaleBy = RescaleExponent * math.Ln2
)

// Recursion is the subset-sum state for one matched set.  Slot k holds
// the sums over subsets of size k scaled by 2^(-600·o[k]), where o[k] is
// the number of rescalings of that slot.  Slots carry their own counts
// because sums over larger subsets grow faster.  The four tables of
// length m+1 share one backing slice.
type Recursion struct {
	b0, b1, b2 []float64
	o          []float64
	m          int
	seen       int
}

// SlotLen returns the scratch length needed for a set with m cases.
func SlotLen(m int) int {
	return 4 * (m + 1)
}

// Start initializes a recursion for m cases over scratch, which must
// have length at least SlotLen(m).
func Start(scratch []float64, m int) Recursion {
	n := m + 1
	r := Recursion{
		b0: scratch[0:n],
		b1: scratch[n : 2*n],
		b2: scratch[2*n : 3*n],
		o:  scratch[3*n : 4*n],
		m:  m,
	}
	clear(scratch[:4*n])
	r.b0[0] = 1
	return r
}

// Contributions are shifted into a slot only while their binary exponent
// stays within [minExp, maxExp], so that neither the sum overflows nor an
// empty slot starts from an underflowed value.
const (
	maxExp = 1000
	minExp = -900
)

// Add includes one subject with relative risk e and covariate value x.
// The relative risk must be finite; a zero relative risk adds nothing.
func (r *Recursion) Add(e, x float64) {
	r.seen++
	if !(e > 0) {
		return
	}
	top := min(r.seen, r.m)

	// e = fe·2^ee with fe in [0.5, 1), so a product with a slot value
	// cannot overflow before it is shifted.
	fe, ee := math.Frexp(e)
	fx := fe * x
	fxx := fx * x
	for k := top; k >= 1; k-- {
		p0, p1, p2 := r.b0[k-1], r.b1[k-1], r.b2[k-1]
		c0 := fe * p0
		c1 := fe*p1 + fx*p0
		c2 := fe*p2 + 2*fx*p1 + fxx*p0
		big := math.Max(math.Abs(c0), math.Max(math.Abs(c1), math.Abs(c2)))
		if big == 0 {
			continue
		}
		_, cx := math.Frexp(big)

		empty := r.b0[k] == 0 && r.b1[k] == 0 && r.b2[k] == 0
		if empty {
			r.o[k] = r.o[k-1]
		}
		d := RescaleExponent*int(r.o[k-1]-r.o[k]) + ee
		for d+cx > maxExp {
			r.rescale(k)
			d -= RescaleExponent
		}
		for empty && d+cx < minExp {
			// An empty slot may take a negative count.
			r.o[k]--
			d += RescaleExponent
		}

		r.b0[k] += math.Ldexp(c0, d)
		r.b1[k] += math.Ldexp(c1, d)
		r.b2[k] += math.Ldexp(c2, d)
		for r.large(k) {
			r.rescale(k)
		}
	}
}

func (r *Recursion) large(k int) bool {
	return math.Abs(r.b0[k]) > rescaleAt || math.Abs(r.b1[k]) > rescaleAt || math.Abs(r.b2[k]) > rescaleAt
}

// rescale multiplies slot k by 2^-600.
func (r *Recursion) rescale(k int) {
	r.b0[k] *= rescaleBy
	r.b1[k] *= rescaleBy
	r.b2[k] *= rescaleBy
	r.o[k]++
}

// Overflow returns the net number of rescalings applied to the sums over
// subsets of size m.  It is negative when relative risks are tiny.
func (r *Recursion) Overflow() int {
	return int(r.o[r.m])
}

// Sums returns the scaled values of B0, B1 and B2 for subsets of size m.
// All three carry the same scale, 2^(-600·Overflow()).
func (r *Recursion) Sums() (b0, b1, b2 float64) {
	return r.b0[r.m], r.b1[r.m], r.b2[r.m]
}

// Derivatives returns the contributions of the set to the gradient and
// Hessian of the negative log-likelihood along the covariate, before the
// Σ x·y term is subtracted.  Rescaling cancels in the ratios.
func (r *Recursion) Derivatives() (g, h float64) {
	b0, b1, b2 := r.Sums()
	if b0 == 0 {
		return 0, 0
	}
	q := b1 / b0
	return q, b2/b0 - q*q
}

// LogB0 returns log B0 on the original scale.
func (r *Recursion) LogB0() float64 {
	return math.Log(r.b0[r.m]) + r.o[r.m]*logRescaleBy
}

// Engine holds the scratch memory of the exact recursion.  It is sized
// once from the largest set and the largest number of cases.
type Engine struct {
	maxN     int
	maxCases int
	groups   int
	scratch  *device.Buffer[float64]
}

// New sizes an Engine for sets described by their row ranges and case
// counts, with one scratch slot for each of groups work-groups.
// setStart has one entry per set plus a final end index.
func New(dev *device.Device, setStart []int32, cases []int, groups int) (*Engine, error) {
	if len(setStart) != len(cases)+1 {
		return nil, fmt.Errorf("exactclr: %d set boundaries for %d sets", len(setStart), len(cases))
	}
	e := &Engine{groups: groups}
	for n := range cases {
		if sz := int(setStart[n+1] - setStart[n]); sz > e.maxN {
			e.maxN = sz
		}
		if cases[n] > e.maxCases {
			e.maxCases = cases[n]
		}
	}
	var err error
	e.scratch, err = device.Alloc[float64](dev, groups*SlotLen(e.maxCases))
	if err != nil {
		return nil, fmt.Errorf("exactclr scratch: %w", err)
	}
	return e, nil
}

// MaxN returns the size of the largest set.
func (e *Engine) MaxN() int {
	return e.maxN
}

// MaxCases returns the largest number of cases in a set.
func (e *Engine) MaxCases() int {
	return e.maxCases
}

// Scratch returns the slot of work-group g, for use inside kernels.
func (e *Engine) Scratch(g int) []float64 {
	n := SlotLen(e.maxCases)
	return e.scratch.Slice()[g*n : (g+1)*n]
}

// Groups returns the number of scratch slots.
func (e *Engine) Groups() int {
	return e.groups
}

// Free releases the scratch memory.
func (e *Engine) Free() {
	e.scratch.Free()
}
