package ccd

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/prior"
	"github.com/minghao2016/Cyclops/simulate"
)

func testDevice(t *testing.T) *device.Device {
	dev, err := device.New(&device.Config{Name: "test", Workers: 3})
	if err != nil {
		t.Fatal(err)
	}
	return dev
}

func testConfig() *Config {
	config := DefaultConfig()
	config.WorkGroups = 4
	return config
}

func simulated(t *testing.T, tag likelihood.Tag, weighted bool) *simulate.Problem {
	cfg := simulate.DefaultConfig()
	cfg.Rows = 80
	cfg.Weighted = weighted
	cfg.Offset = true
	cfg.Seed = uint64(10 + int(tag))
	p, err := simulate.New(tag, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newEngine(t *testing.T, dev *device.Device, tag likelihood.Tag, m *column.Matrix, d *likelihood.Data) *Engine {
	e, err := New(context.Background(), dev, tag, m, d, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Free)
	return e
}

func TestStride(t *testing.T) {
	for _, nfold := range []int{1, 5, 32, 33, 64, 65, 100, 128, 129, 300} {
		align := 32
		if nfold > 64 {
			align = 128
		} else if nfold > 32 {
			align = 64
		}
		s := Stride(nfold)
		if s < nfold || s%align != 0 || s-nfold >= align {
			t.Fatalf("Stride(%d) = %d", nfold, s)
		}
	}
}

// The kernel gradient and Hessian agree with numerical derivatives of the
// host log-likelihood for every model.
func TestDerivatives(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)

	for _, tag := range likelihood.Tags {
		for _, weighted := range []bool{false, true} {

			p := simulated(t, tag, weighted)
			e := newEngine(t, dev, tag, p.Matrix, p.Data)
			l, err := p.Data.Validate(tag)
			if err != nil {
				t.Fatal(err)
			}

			nc := p.Matrix.NumCols()
			beta := make([]float64, nc)
			for j := range beta {
				beta[j] = 0.5*p.Beta[j] + 0.1
			}
			if err := e.SetBeta(ctx, 0, beta); err != nil {
				t.Fatal(err)
			}

			negll := func(b []float64) float64 {
				return -likelihood.HostLogLikelihood(tag, p.Data, l, p.Matrix.MulVec(b), p.Data.Weights)
			}
			grad := make([]float64, nc)
			fd.Gradient(grad, negll, beta, &fd.Settings{Formula: fd.Central, Step: 1e-5})
			hess := mat.NewSymDense(nc, nil)
			fd.Hessian(hess, negll, beta, &fd.Settings{Formula: fd.Central, Step: 1e-3})

			batch, err := e.ComputeAllGradientAndHessian(ctx)
			if err != nil {
				t.Fatal(err)
			}

			for j := 0; j < nc; j++ {
				g, h, err := e.ComputeGradientAndHessian(ctx, j)
				if err != nil {
					t.Fatal(err)
				}
				if !scalar.EqualWithinAbsOrRel(g, grad[j], 1e-5, 1e-5) {
					t.Fatalf("%v weighted=%v covariate %d: gradient %v, numerical %v", tag, weighted, j, g, grad[j])
				}
				if !scalar.EqualWithinAbsOrRel(h, hess.At(j, j), 1e-3, 1e-3) {
					t.Fatalf("%v weighted=%v covariate %d: Hessian %v, numerical %v", tag, weighted, j, h, hess.At(j, j))
				}
				b := batch[j][0]
				if !scalar.EqualWithinAbsOrRel(b.Gradient, g, 1e-10, 1e-10) || !scalar.EqualWithinAbsOrRel(b.Hessian, h, 1e-10, 1e-10) {
					t.Fatalf("%v covariate %d: batch (%v, %v), single (%v, %v)", tag, j, b.Gradient, b.Hessian, g, h)
				}
			}

			ll, err := e.LogLikelihood(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if want := -negll(beta); !scalar.EqualWithinAbsOrRel(ll, want, 1e-9, 1e-9) {
				t.Fatalf("%v weighted=%v: log-likelihood %v, host %v", tag, weighted, ll, want)
			}
		}
	}
}

// Columns without entries have exactly zero gradient and Hessian and
// launch nothing.
func TestEmptyColumn(t *testing.T) {

	dev := testDevice(t)

	for _, tag := range likelihood.Tags {
		p := simulated(t, tag, true)
		var cols []column.Column
		for j := 0; j < p.Matrix.NumCols(); j++ {
			cols = append(cols, p.Matrix.Column(j))
		}
		cols = append(cols, column.NewSparse(nil, nil), column.NewIndicator(nil))
		m, err := column.NewMatrix(p.Matrix.NumRows(), cols...)
		if err != nil {
			t.Fatal(err)
		}
		e := newEngine(t, dev, tag, m, p.Data)

		sink := device.NewDurationSink()
		ctx := device.WithSink(context.Background(), sink)
		for _, j := range []int{m.NumCols() - 2, m.NumCols() - 1} {
			g, h, err := e.ComputeGradientAndHessian(ctx, j)
			if err != nil {
				t.Fatal(err)
			}
			if g != 0 || h != 0 {
				t.Fatalf("%v: empty column %d has gradient %v and Hessian %v", tag, j, g, h)
			}
		}
		if n := sink.Launches("gradientHessian"); n != 0 {
			t.Fatalf("%v: %d launches for empty columns", tag, n)
		}

		batch, err := e.ComputeAllGradientAndHessian(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for _, j := range []int{m.NumCols() - 2, m.NumCols() - 1} {
			if batch[j][0] != (GradientHessian{}) {
				t.Fatalf("%v: batch result for empty column %d is %v", tag, j, batch[j][0])
			}
		}
	}
}

// An update touches exactly the rows where the column is nonzero.
func TestUpdateXBetaRows(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)

	k := 10
	x := make([]float64, k)
	for i := range x {
		x[i] = float64(i) - 4.5
	}
	m, err := column.NewMatrix(k,
		column.NewDense(x),
		column.NewSparse([]int32{1, 4, 7}, []float64{2, -1, 0.5}),
		column.NewIndicator([]int32{0, 9}),
		column.NewIntercept(),
	)
	if err != nil {
		t.Fatal(err)
	}
	d := &likelihood.Data{Y: make([]float64, k)}
	for i := range d.Y {
		d.Y[i] = float64(i % 3)
	}

	for _, tag := range []likelihood.Tag{likelihood.LeastSquares, likelihood.PoissonRegression} {
		e := newEngine(t, dev, tag, m, d)
		for j := 0; j < m.NumCols(); j++ {
			before, err := e.XBeta(ctx, 0)
			if err != nil {
				t.Fatal(err)
			}
			if err := e.UpdateXBeta(ctx, 0.25, j); err != nil {
				t.Fatal(err)
			}
			after, err := e.XBeta(ctx, 0)
			if err != nil {
				t.Fatal(err)
			}
			want := make([]float64, k)
			m.Column(j).Each(k, func(i int, x float64) {
				want[i] = 0.25 * x
			})
			floats.Sub(after, before)
			if !floats.EqualApprox(after, want, 1e-14) {
				t.Fatalf("%v covariate %d: predictor changed by %v, want %v", tag, j, after, want)
			}
		}
		beta, err := e.Beta(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !floats.Equal(beta, []float64{0.25, 0.25, 0.25, 0.25}) {
			t.Fatalf("coefficients %v", beta)
		}
	}
}

// With one fold, the multi-fold path reproduces the single-model path
// exactly.
func TestSingleFoldMatchesSingleModel(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)

	for _, tag := range likelihood.Tags {
		for _, weighted := range []bool{false, true} {
			p := simulated(t, tag, weighted)
			single := newEngine(t, dev, tag, p.Matrix, p.Data)
			multi := newEngine(t, dev, tag, p.Matrix, p.Data)
			if err := multi.TurnOnSyncCV(ctx, 1); err != nil {
				t.Fatal(err)
			}
			if multi.Stride() != 32 {
				t.Fatalf("stride %d for one fold", multi.Stride())
			}

			for j := 0; j < p.Matrix.NumCols(); j++ {
				g1, h1, err := single.ComputeGradientAndHessian(ctx, j)
				if err != nil {
					t.Fatal(err)
				}
				gh, err := multi.ComputeGradientAndHessianFolds(ctx, j)
				if err != nil {
					t.Fatal(err)
				}
				if gh[0].Gradient != g1 || gh[0].Hessian != h1 {
					t.Fatalf("%v weighted=%v covariate %d: multi-fold (%v, %v), single (%v, %v)",
						tag, weighted, j, gh[0].Gradient, gh[0].Hessian, g1, h1)
				}
			}

			for pass := 0; pass < 3; pass++ {
				for _, e := range []*Engine{single, multi} {
					if err := e.RunOneCCDPass(ctx); err != nil {
						t.Fatal(err)
					}
				}
			}
			if tag != likelihood.ExactConditionalLogistic {
				for _, e := range []*Engine{single, multi} {
					if err := e.RunOneMMPass(ctx); err != nil {
						t.Fatal(err)
					}
				}
			}
			b1, err := single.Beta(ctx, 0)
			if err != nil {
				t.Fatal(err)
			}
			b2, err := multi.Beta(ctx, 0)
			if err != nil {
				t.Fatal(err)
			}
			if !floats.Equal(b1, b2) {
				t.Fatalf("%v weighted=%v: coefficients %v and %v differ", tag, weighted, b1, b2)
			}
		}
	}
}

// A pass in which no coefficient moves launches no update and leaves the
// state unchanged when repeated.
func TestZeroStepPass(t *testing.T) {

	dev := testDevice(t)
	p := simulated(t, likelihood.LogisticRegression, false)
	e := newEngine(t, dev, p.Tag, p.Matrix, p.Data)

	sink := device.NewDurationSink()
	ctx := device.WithSink(context.Background(), sink)

	nc := p.Matrix.NumCols()
	types := make([]prior.Type, nc)
	params := make([]float64, nc)
	for j := range types {
		types[j] = prior.Laplace
		params[j] = 1e6
	}
	if err := e.SetPriors(ctx, types, params); err != nil {
		t.Fatal(err)
	}

	state := func() []float64 {
		xb, err := e.XBeta(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		b, err := e.Beta(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		bd, err := e.Bounds(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		return append(append(xb, b...), bd...)
	}
	start := state()

	if err := e.RunOneCCDPass(ctx); err != nil {
		t.Fatal(err)
	}
	if n := sink.Launches("updateXBeta"); n != 0 {
		t.Fatalf("%d update launches in a pass without steps", n)
	}
	if !e.Done()[0] {
		t.Fatal("model not done after a pass without steps")
	}
	if !floats.Equal(state(), start) {
		t.Fatal("state changed by a pass without steps")
	}

	// Repeat with the model forced active.
	if err := e.UpdateDoneFolds(ctx, []bool{false}); err != nil {
		t.Fatal(err)
	}
	if err := e.RunOneCCDPass(ctx); err != nil {
		t.Fatal(err)
	}
	if !floats.Equal(state(), start) {
		t.Fatal("state changed by a second pass without steps")
	}
	if n := sink.Launches("updateXBeta"); n != 0 {
		t.Fatalf("%d update launches in passes without steps", n)
	}

	before := dev.Stats().Dispatches
	if err := e.UpdateXBeta(ctx, 0, 1); err != nil {
		t.Fatal(err)
	}
	if dev.Stats().Dispatches != before {
		t.Fatal("zero update launched a kernel")
	}
}

// Padding folds never hold nonzero values.
func TestPaddingFolds(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)
	p := simulated(t, likelihood.ConditionalLogistic, false)

	for _, nfold := range []int{1, 5, 33, 70} {
		e := newEngine(t, dev, p.Tag, p.Matrix, p.Data)
		if err := e.TurnOnSyncCV(ctx, nfold); err != nil {
			t.Fatal(err)
		}
		s := e.Stride()
		if s < nfold || s != Stride(nfold) {
			t.Fatalf("stride %d for %d folds", s, nfold)
		}

		folds := simulate.Folds(p.Data, max(nfold, 2), 3)
		for f := 0; f < nfold; f++ {
			w := make([]float64, len(folds))
			for i, g := range folds {
				if g != f {
					w[i] = 1
				}
			}
			if err := e.SetFoldWeights(ctx, f, w); err != nil {
				t.Fatal(err)
			}
		}

		if err := e.RunOneCCDPass(ctx); err != nil {
			t.Fatal(err)
		}
		if _, err := e.ComputeGradientAndHessianFolds(ctx, 1); err != nil {
			t.Fatal(err)
		}

		gh, partial := e.gh.Slice(), e.partial.Slice()
		beta, xb := e.beta.Slice(), e.args.XBeta
		for f := nfold; f < s; f++ {
			if gh[f] != 0 || gh[s+f] != 0 {
				t.Fatalf("%d folds: padding fold %d has gradient %v and Hessian %v", nfold, f, gh[f], gh[s+f])
			}
			for r := 0; r < 2*e.grid.WGS; r++ {
				if partial[r*s+f] != 0 {
					t.Fatalf("%d folds: padding fold %d has partial %v", nfold, f, partial[r*s+f])
				}
			}
			for j := 0; j < p.Matrix.NumCols(); j++ {
				if beta[j*s+f] != 0 {
					t.Fatalf("%d folds: padding fold %d has coefficient %v", nfold, f, beta[j*s+f])
				}
			}
			for i := 0; i < p.Matrix.NumRows(); i++ {
				if xb[i*s+f] != 0 {
					t.Fatalf("%d folds: padding fold %d has predictor %v", nfold, f, xb[i*s+f])
				}
			}
		}
	}
}

// A host read after a device update copies once, and a second read does
// not copy again.
func TestPredictorTransfers(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)
	p := simulated(t, likelihood.PoissonRegression, false)
	e := newEngine(t, dev, p.Tag, p.Matrix, p.Data)

	if err := e.UpdateXBeta(ctx, 0.3, 1); err != nil {
		t.Fatal(err)
	}
	n := e.xbeta.Transfers()
	for k := 0; k < 2; k++ {
		if _, err := e.XBeta(ctx, 0); err != nil {
			t.Fatal(err)
		}
		if e.xbeta.Transfers() != n+1 {
			t.Fatalf("read %d: %d transfers, want %d", k+1, e.xbeta.Transfers()-n, 1)
		}
	}
}

// Shifting the covariate of a matched set by a constant leaves the exact
// likelihood unchanged, also when the shifted predictor is large enough
// to need rescaling.
func TestExactRescaling(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)

	x := []float64{3, 2.9, 2.8, 1, 2.95, 0.5}
	d := &likelihood.Data{
		Y:   []float64{1, 1, 0, 0, 1, 0},
		Pid: []int32{0, 0, 0, 0, 1, 1},
	}
	shifted := make([]float64, len(x))
	for i := range x {
		shifted[i] = x[i] - 2.9
	}

	var res [2][3]float64
	for k, v := range [][]float64{x, shifted} {
		m, err := column.NewMatrix(len(v), column.NewDense(v))
		if err != nil {
			t.Fatal(err)
		}
		e := newEngine(t, dev, likelihood.ExactConditionalLogistic, m, d)
		if err := e.SetBeta(ctx, 0, []float64{75}); err != nil {
			t.Fatal(err)
		}
		ll, err := e.LogLikelihood(ctx)
		if err != nil {
			t.Fatal(err)
		}
		g, h, err := e.ComputeGradientAndHessian(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		res[k] = [3]float64{ll, g, h}
	}

	for k := 0; k < 3; k++ {
		if math.IsNaN(res[0][k]) || math.IsInf(res[0][k], 0) {
			t.Fatalf("non-finite result %v", res[0])
		}
		if !scalar.EqualWithinAbsOrRel(res[0][k], res[1][k], 1e-8, 1e-8) {
			t.Fatalf("large predictor gives %v, shifted gives %v", res[0], res[1])
		}
	}
}

// Unpenalized least squares converges to the least squares solution, by
// coordinate descent and by MM steps.
func TestLeastSquaresConvergence(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)

	cfg := simulate.DefaultConfig()
	cfg.Rows = 100
	cfg.Seed = 5
	p, err := simulate.New(likelihood.LeastSquares, cfg)
	if err != nil {
		t.Fatal(err)
	}

	var qr mat.QR
	qr.Factorize(p.Matrix.Dense())
	var ols mat.VecDense
	if err := qr.SolveVecTo(&ols, false, mat.NewVecDense(len(p.Data.Y), p.Data.Y)); err != nil {
		t.Fatal(err)
	}

	for _, mm := range []bool{false, true} {
		e := newEngine(t, dev, p.Tag, p.Matrix, p.Data)
		last := math.Inf(-1)
		for iter := 0; iter < 5000 && !e.Done()[0]; iter++ {
			run := e.RunOneCCDPass
			if mm {
				run = e.RunOneMMPass
			}
			if err := run(ctx); err != nil {
				t.Fatal(err)
			}
			if mm {
				ll, err := e.LogLikelihood(ctx)
				if err != nil {
					t.Fatal(err)
				}
				if ll < last-1e-9*math.Abs(last) {
					t.Fatalf("MM pass %d decreased the log-likelihood from %v to %v", iter, last, ll)
				}
				last = ll
			}
		}
		beta, err := e.Beta(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !floats.EqualApprox(beta, ols.RawVector().Data, 1e-5) {
			t.Fatalf("mm=%v: coefficients %v, least squares %v", mm, beta, ols.RawVector().Data)
		}
	}
}

// Folds fitted together match models fitted one at a time on the same
// weights.
func TestFoldsMatchSeparateFits(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)
	p := simulated(t, likelihood.LogisticRegression, false)
	nc := p.Matrix.NumCols()

	types := make([]prior.Type, nc)
	params := make([]float64, nc)
	for j := range types {
		types[j] = prior.Normal
		params[j] = 1
	}

	const nfold = 3
	folds := simulate.Folds(p.Data, nfold, 1)
	weights := make([][]float64, nfold)
	heldOut := make([][]float64, nfold)
	for f := range weights {
		weights[f] = make([]float64, len(folds))
		heldOut[f] = make([]float64, len(folds))
		for i, g := range folds {
			if g == f {
				heldOut[f][i] = 1
			} else {
				weights[f][i] = 1
			}
		}
	}

	e := newEngine(t, dev, p.Tag, p.Matrix, p.Data)
	if err := e.TurnOnSyncCV(ctx, nfold); err != nil {
		t.Fatal(err)
	}
	if err := e.SetPriors(ctx, types, params); err != nil {
		t.Fatal(err)
	}
	for f := range weights {
		if err := e.SetFoldWeights(ctx, f, weights[f]); err != nil {
			t.Fatal(err)
		}
	}
	for pass := 0; pass < 50; pass++ {
		if err := e.RunOneCCDPass(ctx); err != nil {
			t.Fatal(err)
		}
	}
	llf, err := e.LogLikelihoodFolds(ctx)
	if err != nil {
		t.Fatal(err)
	}

	for f := 0; f < nfold; f++ {
		d := *p.Data
		d.Weights = weights[f]
		sep := newEngine(t, dev, p.Tag, p.Matrix, &d)
		if err := sep.SetPriors(ctx, types, params); err != nil {
			t.Fatal(err)
		}
		for pass := 0; pass < 50; pass++ {
			if err := sep.RunOneCCDPass(ctx); err != nil {
				t.Fatal(err)
			}
		}

		b1, err := e.Beta(ctx, f)
		if err != nil {
			t.Fatal(err)
		}
		b2, err := sep.Beta(ctx, 0)
		if err != nil {
			t.Fatal(err)
		}
		if !floats.EqualApprox(b1, b2, 1e-10) {
			t.Fatalf("fold %d: coefficients %v, separate fit %v", f, b1, b2)
		}
		ll, err := sep.LogLikelihood(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !scalar.EqualWithinAbsOrRel(ll, llf[f], 1e-10, 1e-10) {
			t.Fatalf("fold %d: log-likelihood %v, separate fit %v", f, llf[f], ll)
		}

		pll, err := e.PredictiveLogLikelihood(ctx, f, heldOut[f])
		if err != nil {
			t.Fatal(err)
		}
		l, _ := p.Data.Validate(p.Tag)
		want := likelihood.HostLogLikelihood(p.Tag, p.Data, l, p.Matrix.MulVec(b2), heldOut[f])
		if !scalar.EqualWithinAbsOrRel(pll, want, 1e-9, 1e-9) {
			t.Fatalf("fold %d: predictive log-likelihood %v, want %v", f, pll, want)
		}
	}

	if err := e.TurnOffSyncCV(ctx); err != nil {
		t.Fatal(err)
	}
	if e.NumFolds() != 1 || e.Stride() != 1 {
		t.Fatalf("%d folds at stride %d after leaving sync mode", e.NumFolds(), e.Stride())
	}
}

// Done folds are frozen.
func TestDoneFolds(t *testing.T) {

	ctx := context.Background()
	dev := testDevice(t)
	p := simulated(t, likelihood.PoissonRegression, false)
	e := newEngine(t, dev, p.Tag, p.Matrix, p.Data)

	if err := e.TurnOnSyncCV(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := e.UpdateDoneFolds(ctx, []bool{false, true}); err != nil {
		t.Fatal(err)
	}
	if err := e.RunOneCCDPass(ctx); err != nil {
		t.Fatal(err)
	}

	b0, _ := e.Beta(ctx, 0)
	b1, _ := e.Beta(ctx, 1)
	if floats.Norm(b0, 2) == 0 {
		t.Fatal("active fold did not move")
	}
	if floats.Norm(b1, 2) != 0 {
		t.Fatalf("done fold moved to %v", b1)
	}
	gh, err := e.ComputeGradientAndHessianFolds(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if gh[1] != (GradientHessian{}) {
		t.Fatalf("done fold has %v", gh[1])
	}

	if err := e.ResetBeta(ctx); err != nil {
		t.Fatal(err)
	}
	if d := e.Done(); d[0] || d[1] {
		t.Fatalf("done flags %v after reset", d)
	}
	b0, _ = e.Beta(ctx, 0)
	xb, _ := e.XBeta(ctx, 0)
	if floats.Norm(b0, 2) != 0 || floats.Norm(xb, 2) != 0 {
		t.Fatal("reset left nonzero state")
	}
}

func TestErrors(t *testing.T) {

	dev := testDevice(t)
	p := simulated(t, likelihood.ExactConditionalLogistic, false)
	e := newEngine(t, dev, p.Tag, p.Matrix, p.Data)

	if err := e.RunOneMMPass(context.Background()); !errors.Is(err, likelihood.ErrUnsupported) {
		t.Fatalf("exact MM pass: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.RunOneCCDPass(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled pass: %v", err)
	}

	ctx = context.Background()
	if err := e.SetPriors(ctx, []prior.Type{prior.Normal}, []float64{1}); !errors.Is(err, prior.ErrInvalidPrior) {
		t.Fatalf("short prior list: %v", err)
	}
	w := make([]float64, p.Matrix.NumRows())
	w[0] = 2
	if err := e.TurnOnSyncCV(ctx, 2); err != nil {
		t.Fatal(err)
	}
	if err := e.SetFoldWeights(ctx, 1, w); !errors.Is(err, likelihood.ErrInvalidData) {
		t.Fatalf("non-binary exact weights: %v", err)
	}

	short, err := column.NewMatrix(3, column.NewIntercept())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(ctx, dev, p.Tag, short, p.Data, nil); !errors.Is(err, likelihood.ErrInvalidData) {
		t.Fatalf("row mismatch: %v", err)
	}

	small, err := device.New(&device.Config{MaxAlloc: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(ctx, small, p.Tag, p.Matrix, p.Data, nil); !errors.Is(err, device.ErrOutOfMemory) {
		t.Fatalf("allocation limit: %v", err)
	}
}
