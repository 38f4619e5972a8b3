package likelihood

import (
	"math"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/exactclr"
)

type weighter interface {
	at(k int) float64
}

type unitWeights struct{}

func (unitWeights) at(int) float64 { return 1 }

type packedWeights []float64

func (w packedWeights) at(k int) float64 { return w[k] }

func noWeights(*Args) unitWeights { return unitWeights{} }

func foldWeights(a *Args) packedWeights { return packedWeights(a.KWeight) }

// rowModel gives the per-row gradient and Hessian multipliers of an
// independent model, as functions of e = exp(η) and η.
type rowModel interface {
	gh(e, eta float64) (float64, float64)
	curv(e float64) float64
}

type logisticRow struct{}

func (logisticRow) gh(e, eta float64) (float64, float64) {
	p := 1 / (1 + 1/e)
	return p, p * (1 - p)
}

func (logisticRow) curv(e float64) float64 {
	p := 1 / (1 + 1/e)
	return p * (1 - p)
}

type poissonRow struct{}

func (poissonRow) gh(e, eta float64) (float64, float64) { return e, e }
func (poissonRow) curv(e float64) float64 { return e }

type lsRow struct{}

func (lsRow) gh(e, eta float64) (float64, float64) { return eta, 0 }
func (lsRow) curv(e float64) float64 { return 1 }

// accumFunc accumulates the gradient and Hessian of column v for fold f
// over the part [lo, hi) of the work domain.  A non-nil norm selects the
// MM curvature bound.
type accumFunc func(a *Args, v column.View, f, lo, hi int, scratch, norm []float64) (float64, float64)

// updateFunc applies the step d for fold f to the predictor over the part
// [lo, hi) of the update domain.
type updateFunc func(a *Args, v column.View, f, lo, hi int, d float64)

type columnFuncs struct {
	accum  accumFunc
	update updateFunc

	// domain returns the size of the work domain of accum and update.
	domain       func(a *Args, v column.View) int
	updateDomain func(a *Args, v column.View) int
}

func taskDomain(a *Args, v column.View) int { return v.Tasks }
func pidDomain(a *Args, v column.View) int { return a.N }
func stratumDomain(a *Args, v column.View) int {
	return len(a.StratumStart) - 1
}

func independentFuncs[A column.Accessor, W weighter, M rowModel](view func(column.View) A, wf func(*Args) W, m M, denom, noExp bool) columnFuncs {

	accum := func(a *Args, v column.View, f, lo, hi int, _, norm []float64) (float64, float64) {
		col := view(v)
		wt := wf(a)
		s := a.S
		var g, h float64
		for t := lo; t < hi; t++ {
			i, x := col.At(t)
			k := i*s + f
			w := wt.at(k)
			if w == 0 {
				continue
			}
			gm, hm := m.gh(a.ExpXBeta[k], a.XBeta[k]+a.Offset[i])
			g += w * x * gm
			if norm != nil {
				h += w * math.Abs(x) * norm[i] * m.curv(a.ExpXBeta[k])
			} else {
				h += w * x * x * hm
			}
		}
		return g, h
	}

	update := func(a *Args, v column.View, f, lo, hi int, d float64) {
		col := view(v)
		s := a.S
		for t := lo; t < hi; t++ {
			i, x := col.At(t)
			k := i*s + f
			xb := a.XBeta[k] + d*x
			a.XBeta[k] = xb
			if noExp {
				continue
			}
			e := math.Exp(xb + a.Offset[i])
			a.ExpXBeta[k] = e
			if denom {
				a.Denom[k] = 1 + e
			}
		}
	}

	return columnFuncs{accum: accum, update: update, domain: taskDomain, updateDomain: taskDomain}
}

// rowsOf returns the task range of col that falls in the rows of pids
// [lo, hi).
func rowsOf[A column.Accessor](col A, a *Args, lo, hi int) (int, int) {
	return col.Locate(int(a.NtoK[lo])), col.Locate(int(a.NtoK[hi]))
}

// updateGrouped applies a step to the rows of pids [lo, hi) and adjusts
// the pid denominators by the change in weighted relative risk.
func updateGrouped[A column.Accessor, W weighter](view func(column.View) A, wf func(*Args) W) updateFunc {
	return func(a *Args, v column.View, f, lo, hi int, d float64) {
		col := view(v)
		wt := wf(a)
		s := a.S
		t, end := rowsOf(col, a, lo, hi)
		for ; t < end; t++ {
			i, x := col.At(t)
			k := i*s + f
			xb := a.XBeta[k] + d*x
			a.XBeta[k] = xb
			e := math.Exp(xb + a.Offset[i])
			old := a.ExpXBeta[k]
			a.ExpXBeta[k] = e
			a.Denom[int(a.Pid[i])*s+f] += wt.at(k) * (e - old)
		}
	}
}

func groupedFuncs[A column.Accessor, W weighter](view func(column.View) A, wf func(*Args) W) columnFuncs {

	accum := func(a *Args, v column.View, f, lo, hi int, _, norm []float64) (float64, float64) {
		col := view(v)
		wt := wf(a)
		s := a.S
		var g, h float64
		t, end := rowsOf(col, a, lo, hi)
		for t < end {
			row, _ := col.At(t)
			n := int(a.Pid[row])
			rowEnd := int(a.NtoK[n+1])
			var numer, numer2 float64
			for ; t < end; t++ {
				i, x := col.At(t)
				if i >= rowEnd {
					break
				}
				k := i*s + f
				e := wt.at(k) * a.ExpXBeta[k]
				numer += x * e
				if norm != nil {
					numer2 += math.Abs(x) * norm[i] * e
				} else {
					numer2 += x * x * e
				}
			}
			nf := n*s + f
			den := a.Denom[nf]
			if den == 0 {
				continue
			}
			nw := a.NWeight[nf]
			r := numer / den
			g += nw * r
			if norm != nil {
				h += nw * numer2 / den
			} else {
				h += nw * (numer2/den - r*r)
			}
		}
		return g, h
	}

	return columnFuncs{accum: accum, update: updateGrouped(view, wf), domain: pidDomain, updateDomain: pidDomain}
}

func cumulativeFuncs[A column.Accessor, W weighter](view func(column.View) A, wf func(*Args) W) columnFuncs {

	accum := func(a *Args, v column.View, f, lo, hi int, _, norm []float64) (float64, float64) {
		col := view(v)
		wt := wf(a)
		s := a.S
		var g, h float64
		for st := lo; st < hi; st++ {
			p0, p1 := int(a.StratumStart[st]), int(a.StratumStart[st+1])
			t, end := rowsOf(col, a, p0, p1)
			var numer, numer2 float64
			for n := p0; n < p1; n++ {
				rowEnd := int(a.NtoK[n+1])
				for ; t < end; t++ {
					i, x := col.At(t)
					if i >= rowEnd {
						break
					}
					k := i*s + f
					e := wt.at(k) * a.ExpXBeta[k]
					numer += x * e
					if norm != nil {
						numer2 += math.Abs(x) * norm[i] * e
					} else {
						numer2 += x * x * e
					}
				}
				nf := n*s + f
				nw := a.NWeight[nf]
				if nw == 0 {
					continue
				}
				den := a.AccDenom[nf]
				r := numer / den
				g += nw * r
				if norm != nil {
					h += nw * numer2 / den
				} else {
					h += nw * (numer2/den - r*r)
				}
			}
		}
		return g, h
	}

	return columnFuncs{accum: accum, update: updateGrouped(view, wf), domain: stratumDomain, updateDomain: pidDomain}
}

func exactFuncs[A column.Accessor, W weighter](view func(column.View) A, wf func(*Args) W) columnFuncs {

	accum := func(a *Args, v column.View, f, lo, hi int, scratch, _ []float64) (float64, float64) {
		col := view(v)
		wt := wf(a)
		s := a.S
		var g, h float64
		t := col.Locate(int(a.NtoK[lo]))
		for n := lo; n < hi; n++ {
			m := int(math.Round(a.NWeight[n*s+f]))
			r0, r1 := int(a.NtoK[n]), int(a.NtoK[n+1])
			if m == 0 {
				t = col.Locate(r1)
				continue
			}
			rec := exactclr.Start(scratch, m)
			for i := r0; i < r1; i++ {
				var x float64
				for t < col.Len() {
					ti, tx := col.At(t)
					if ti > i {
						break
					}
					t++
					if ti == i {
						x = tx
						break
					}
				}
				k := i*s + f
				if wt.at(k) == 0 {
					continue
				}
				rec.Add(a.ExpXBeta[k], x)
			}
			dg, dh := rec.Derivatives()
			g += dg
			h += dh
		}
		return g, h
	}

	return columnFuncs{accum: accum, update: updateGrouped(view, wf), domain: pidDomain, updateDomain: pidDomain}
}
