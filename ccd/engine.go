// Package ccd fits penalized regression and survival models by cyclic
// coordinate descent, with every pass over the data running as kernel
// launches on a compute device.
//
// An Engine fits a single model, or, after TurnOnSyncCV, the models of
// several cross-validation folds at once.  In that mode every per-row,
// per-stratum and per-coefficient vector is packed with fold stride S,
// so that element (i, f) is at i*S+f, and each launch handles all folds
// that are not yet done.
package ccd

import (
	"context"
	"fmt"
	"log"

	"gonum.org/v1/gonum/floats"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/exactclr"
	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/prior"
	"github.com/minghao2016/Cyclops/xbeta"
)

// Config defines configuration parameters for an Engine.
type Config struct {

	// InitialBound is the starting trust region half-width of every
	// coefficient.
	InitialBound float64

	// WorkGroups is the number of chunks each launch splits its work
	// domain into.  If zero, one chunk per device worker is used.
	WorkGroups int

	// Pad aligns the start of every column in the device store.
	Pad bool

	// Log receives setup information if not nil.
	Log *log.Logger
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		InitialBound: 2,
		Pad:          true,
	}
}

// foldBlock is the number of folds handled by one work-group.
const foldBlock = 32

// Stride returns the packed fold stride used for nfold folds.  It is
// rounded up to a multiple of 32, 64 or 128 for up to 32, up to 64, and
// more than 64 folds respectively.
func Stride(nfold int) int {
	align := 32
	switch {
	case nfold > 64:
		align = 128
	case nfold > 32:
		align = 64
	}
	return (nfold + align - 1) / align * align
}

// GradientHessian holds the gradient and Hessian of the negative
// log-likelihood along one coefficient.
type GradientHessian struct {
	Gradient float64
	Hessian  float64
}

// Engine holds the device state of a fit.
type Engine struct {
	dev    *device.Device
	config *Config

	model  *likelihood.Model
	data   *likelihood.Data
	layout *likelihood.Layout
	matrix *column.Matrix
	store  *column.Store

	// xt is the row-major store, built on the first MM pass.
	xt *column.Store

	priors *prior.State

	// s is the fold stride and nfold the number of folds.
	s, nfold int
	sync     bool
	grid     likelihood.Grid

	// weights holds the row weights of every fold; a nil entry uses the
	// data weights.
	weights  [][]float64
	weighted bool
	done     []bool

	kernels map[likelihood.Variant][]*likelihood.Kernels

	// Per-row data, never packed.
	y, offset, rowNorm      *device.Buffer[float64]
	pid, ntok, stratumStart *device.Buffer[int32]

	// Packed state.
	xbeta                              *xbeta.Cache
	kweight, nweight                   *device.Buffer[float64]
	expXBeta, denom, accDenom          *device.Buffer[float64]
	xjy, xjx                           *device.Buffer[float64]
	beta, bound                        *device.Buffer[float64]
	partial, gh, delta, deltaAll, jfgh *device.Buffer[float64]
	active, moved, nonzero             *device.Buffer[uint8]

	exact *exactclr.Engine

	args likelihood.Args
}

// New uploads the data of model t with covariates m to dev and returns an
// engine in single-model mode with all coefficients zero and no priors.
func New(ctx context.Context, dev *device.Device, t likelihood.Tag, m *column.Matrix, data *likelihood.Data, config *Config) (*Engine, error) {

	if config == nil {
		config = DefaultConfig()
	}

	model, err := likelihood.NewModel(t)
	if err != nil {
		return nil, err
	}
	layout, err := data.Validate(t)
	if err != nil {
		return nil, err
	}
	if m.NumRows() != layout.K {
		return nil, fmt.Errorf("ccd: matrix has %d rows, data has %d: %w", m.NumRows(), layout.K, likelihood.ErrInvalidData)
	}
	if m.NumCols() == 0 {
		return nil, fmt.Errorf("ccd: no covariates: %w", likelihood.ErrInvalidData)
	}
	priors, err := prior.NewState(m.NumCols(), config.InitialBound)
	if err != nil {
		return nil, err
	}

	wgs := config.WorkGroups
	if wgs <= 0 {
		wgs = dev.Workers()
	}

	e := &Engine{
		dev:      dev,
		config:   config,
		model:    model,
		data:     data,
		layout:   layout,
		matrix:   m,
		priors:   priors,
		grid:     likelihood.Grid{Block: 1, WGS: wgs},
		weighted: data.Weights != nil,
		kernels:  make(map[likelihood.Variant][]*likelihood.Kernels),
	}

	if e.store, err = column.NewStore(ctx, dev, m, config.Pad); err != nil {
		return nil, err
	}
	if _, err := e.resolve(likelihood.SingleModel); err != nil {
		e.Free()
		return nil, err
	}
	if err := e.upload(ctx); err != nil {
		e.Free()
		return nil, err
	}

	k, j := layout.K, m.NumCols()
	if err := e.repack(ctx, 1, 1, make([]float64, j), fill(j, config.InitialBound), make([]float64, k)); err != nil {
		e.Free()
		return nil, err
	}

	if config.Log != nil {
		config.Log.Printf("ccd: %v model, %d rows, %d pids, %d covariates %v, %d work-groups on %v",
			t, layout.K, layout.N, j, e.store.Formats(), wgs, dev)
		if e.exact != nil {
			config.Log.Printf("ccd: largest matched set has %d rows and %d cases", e.exact.MaxN(), e.exact.MaxCases())
		}
	}

	return e, nil
}

func fill(n int, v float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = v
	}
	return x
}

func slice[T device.Elem](b *device.Buffer[T]) []T {
	if b == nil {
		return nil
	}
	return b.Slice()
}

// resize grows or shrinks *b to n zeroed elements, allocating it if
// needed.
func resize[T device.Elem](dev *device.Device, b **device.Buffer[T], n int) error {
	if *b == nil {
		nb, err := device.Alloc[T](dev, n)
		if err != nil {
			return err
		}
		*b = nb
		return nil
	}
	return (*b).Resize(n, false)
}

// upload copies the unpacked per-row data to the device.
func (e *Engine) upload(ctx context.Context) error {

	d, l := e.data, e.layout
	var err error

	if e.y, err = device.UploadNew(ctx, e.dev, d.Y); err != nil {
		return err
	}
	off := d.Offset
	if off == nil {
		off = make([]float64, l.K)
	}
	if e.offset, err = device.UploadNew(ctx, e.dev, off); err != nil {
		return err
	}
	if d.Pid != nil {
		if e.pid, err = device.UploadNew(ctx, e.dev, d.Pid); err != nil {
			return err
		}
	}
	if e.ntok, err = device.UploadNew(ctx, e.dev, l.NtoK); err != nil {
		return err
	}
	if l.StratumStart != nil {
		if e.stratumStart, err = device.UploadNew(ctx, e.dev, l.StratumStart); err != nil {
			return err
		}
	}
	return nil
}

// resolve returns the kernels of every column for variant v.
func (e *Engine) resolve(v likelihood.Variant) ([]*likelihood.Kernels, error) {
	if ks, ok := e.kernels[v]; ok {
		return ks, nil
	}
	ks := make([]*likelihood.Kernels, e.store.NumCols())
	for j := range ks {
		key := likelihood.Key{Tag: e.model.Tag, Format: e.store.Format(j), Weighted: e.weighted, Variant: v}
		k, err := likelihood.Resolve(key)
		if err != nil {
			return nil, fmt.Errorf("ccd: covariate %d: %w", j, err)
		}
		ks[j] = k
	}
	e.kernels[v] = ks
	return ks, nil
}

func (e *Engine) variant() likelihood.Variant {
	if e.sync {
		return likelihood.SyncCV
	}
	return likelihood.SingleModel
}

// repack lays out the packed state for nfold folds with stride s.  Every
// fold starts from the coefficients beta, bounds bound and predictor xb
// of a single model, with the data weights.
func (e *Engine) repack(ctx context.Context, s, nfold int, beta, bound, xb []float64) error {

	k, n, nc := e.layout.K, e.layout.N, e.matrix.NumCols()
	e.s, e.nfold = s, nfold
	e.grid.Block = min(s, foldBlock)
	e.weights = make([][]float64, nfold)
	e.done = make([]bool, nfold)
	clear(e.kernels)

	for _, b := range []struct {
		buf **device.Buffer[float64]
		n   int
	}{
		{&e.kweight, k * s},
		{&e.nweight, n * s},
		{&e.expXBeta, k * s},
		{&e.denom, max(k, n) * s},
		{&e.xjy, nc * s},
		{&e.xjx, nc * s},
		{&e.beta, nc * s},
		{&e.bound, nc * s},
		{&e.partial, 2 * e.grid.WGS * s},
		{&e.gh, 2 * s},
		{&e.delta, s},
		{&e.deltaAll, nc * s},
	} {
		if err := resize(e.dev, b.buf, b.n); err != nil {
			return err
		}
	}
	if e.model.Caps.AccumulatedDenominator {
		if err := resize(e.dev, &e.accDenom, n*s); err != nil {
			return err
		}
	}
	for _, b := range []struct {
		buf **device.Buffer[uint8]
		n   int
	}{
		{&e.active, s},
		{&e.moved, s},
		{&e.nonzero, s / e.grid.Block},
	} {
		if err := resize(e.dev, b.buf, b.n); err != nil {
			return err
		}
	}
	if e.jfgh != nil {
		e.jfgh.Free()
		e.jfgh = nil
	}

	if e.xbeta == nil {
		c, err := xbeta.New(e.dev, k*s)
		if err != nil {
			return err
		}
		e.xbeta = c
	} else if err := e.xbeta.Resize(k * s); err != nil {
		return err
	}

	hxb := make([]float64, k*s)
	hb := make([]float64, nc*s)
	hbd := make([]float64, nc*s)
	for f := 0; f < nfold; f++ {
		for i := 0; i < k; i++ {
			hxb[i*s+f] = xb[i]
		}
		for j := 0; j < nc; j++ {
			hb[j*s+f] = beta[j]
			hbd[j*s+f] = bound[j]
		}
	}
	if err := e.xbeta.Set(hxb); err != nil {
		return err
	}
	if err := device.Upload(ctx, e.beta, 0, hb); err != nil {
		return err
	}
	if err := device.Upload(ctx, e.bound, 0, hbd); err != nil {
		return err
	}

	if e.model.Caps.ExactConditional {
		if e.exact != nil {
			e.exact.Free()
		}
		groups := max(e.grid.Groups(s), s/e.grid.Block*nc)
		x, err := exactclr.New(e.dev, e.layout.NtoK, e.layout.Cases, groups)
		if err != nil {
			return err
		}
		e.exact = x
	}

	e.bind()
	if err := e.uploadActive(ctx); err != nil {
		return err
	}
	if err := e.uploadWeights(ctx); err != nil {
		return err
	}
	return e.refresh(ctx)
}

// bind points the kernel arguments at the current device buffers.
func (e *Engine) bind() {
	e.args = likelihood.Args{
		K:            e.layout.K,
		N:            e.layout.N,
		S:            e.s,
		F:            e.nfold,
		Y:            slice(e.y),
		Offset:       slice(e.offset),
		Pid:          slice(e.pid),
		NtoK:         slice(e.ntok),
		StratumStart: slice(e.stratumStart),
		NWeight:      slice(e.nweight),
		ExpXBeta:     slice(e.expXBeta),
		Denom:        slice(e.denom),
		AccDenom:     slice(e.accDenom),
		Active:       slice(e.active),
		XjY:          slice(e.xjy),
		XjX:          slice(e.xjx),
		RowNorm:      slice(e.rowNorm),
		Exact:        e.exact,
	}
	if e.weighted {
		e.args.KWeight = slice(e.kweight)
	}
}

// syncXBeta makes the device predictor current before a launch.
func (e *Engine) syncXBeta(ctx context.Context) error {
	b, err := e.xbeta.Device(ctx)
	if err != nil {
		return err
	}
	e.args.XBeta = b.Slice()
	return nil
}

// foldWeights returns the row weights of fold f, nil meaning one.
func (e *Engine) foldWeights(f int) []float64 {
	if e.weights[f] != nil {
		return e.weights[f]
	}
	return e.data.Weights
}

// uploadWeights packs the row weights of every fold together with the
// per-pid weight sums and the precomputed Σ w·x·y and Σ w·x².
func (e *Engine) uploadWeights(ctx context.Context) error {

	k, s, nc := e.layout.K, e.s, e.matrix.NumCols()
	kw := make([]float64, k*s)
	nw := make([]float64, e.layout.N*s)
	xjy := make([]float64, nc*s)
	xjx := make([]float64, nc*s)

	wf := make([]float64, k)
	wy := make([]float64, k)
	xx := make([]float64, k)
	for f := 0; f < e.nfold; f++ {
		w := e.foldWeights(f)
		if w != nil {
			copy(wf, w)
		} else {
			for i := range wf {
				wf[i] = 1
			}
		}
		for i, v := range wf {
			kw[i*s+f] = v
		}
		floats.MulTo(wy, wf, e.data.Y)
		for n, v := range e.layout.NWeight(e.data.Y, w) {
			nw[n*s+f] = v
		}
		for j := 0; j < nc; j++ {
			c := e.matrix.Column(j)
			var sy, sx float64
			switch c.Format {
			case column.Dense:
				sy = floats.Dot(wy, c.Data)
				sx = floats.Dot(wf, floats.MulTo(xx, c.Data, c.Data))
			case column.Intercept:
				sy = floats.Sum(wy)
				sx = floats.Sum(wf)
			default:
				c.Each(k, func(i int, x float64) {
					sy += wy[i] * x
					sx += wf[i] * x * x
				})
			}
			xjy[j*s+f] = sy
			xjx[j*s+f] = sx
		}
	}

	for _, u := range []struct {
		b *device.Buffer[float64]
		v []float64
	}{{e.kweight, kw}, {e.nweight, nw}, {e.xjy, xjy}, {e.xjx, xjx}} {
		if err := device.Upload(ctx, u.b, 0, u.v); err != nil {
			return err
		}
	}
	return nil
}

// uploadActive copies the done flags to the device.  Padding folds are
// never active.
func (e *Engine) uploadActive(ctx context.Context) error {
	act := make([]uint8, e.s)
	for f, d := range e.done {
		if !d {
			act[f] = 1
		}
	}
	return device.Upload(ctx, e.active, 0, act)
}

// refresh recomputes the relative risks and denominators of every active
// fold from the predictor.
func (e *Engine) refresh(ctx context.Context) error {
	if err := e.syncXBeta(ctx); err != nil {
		return err
	}
	r, k := e.model.Refresh(&e.args, e.grid)
	if err := e.dev.Launch(ctx, "refresh", r, k); err != nil {
		return err
	}
	return e.accumulate(ctx)
}

// accumulate rebuilds the risk set sums of cumulative models.
func (e *Engine) accumulate(ctx context.Context) error {
	if !e.model.Caps.AccumulatedDenominator {
		return nil
	}
	r, k := e.model.AccumulateDenominators(&e.args, e.grid)
	return e.dev.Launch(ctx, "accumulateDenominators", r, k)
}

// Free releases the device memory of the engine.
func (e *Engine) Free() {
	for _, b := range []*device.Buffer[float64]{
		e.y, e.offset, e.rowNorm, e.kweight, e.nweight, e.expXBeta, e.denom, e.accDenom,
		e.xjy, e.xjx, e.beta, e.bound, e.partial, e.gh, e.delta, e.deltaAll, e.jfgh,
	} {
		b.Free()
	}
	for _, b := range []*device.Buffer[int32]{e.pid, e.ntok, e.stratumStart} {
		b.Free()
	}
	for _, b := range []*device.Buffer[uint8]{e.active, e.moved, e.nonzero} {
		b.Free()
	}
	if e.xbeta != nil {
		e.xbeta.Free()
	}
	if e.store != nil {
		e.store.Free()
	}
	if e.xt != nil {
		e.xt.Free()
	}
	if e.exact != nil {
		e.exact.Free()
	}
}

// Tag returns the model being fit.
func (e *Engine) Tag() likelihood.Tag {
	return e.model.Tag
}

// NumCovariates returns the number of coefficients of each fold.
func (e *Engine) NumCovariates() int {
	return e.matrix.NumCols()
}

// NumFolds returns the number of folds being fit; it is one in
// single-model mode.
func (e *Engine) NumFolds() int {
	return e.nfold
}

// Stride returns the current fold stride.
func (e *Engine) Stride() int {
	return e.s
}

// Names returns the covariate names.
func (e *Engine) Names() []string {
	return e.matrix.Names()
}

// Data returns the observations the engine was built from.
func (e *Engine) Data() *likelihood.Data {
	return e.data
}

// Priors returns the priors of the covariates.
func (e *Engine) Priors() []prior.Prior {
	return append([]prior.Prior(nil), e.priors.Priors...)
}

// String returns a short description of the engine.
func (e *Engine) String() string {
	return fmt.Sprintf("ccd.Engine(%v, %d rows, %d covariates, %d folds at stride %d)",
		e.model.Tag, e.layout.K, e.matrix.NumCols(), e.nfold, e.s)
}

func (e *Engine) checkCovariate(j int) {
	if j < 0 || j >= e.matrix.NumCols() {
		panic(fmt.Sprintf("ccd: covariate %d out of range [0, %d)", j, e.matrix.NumCols()))
	}
}

func (e *Engine) checkFold(f int) {
	if f < 0 || f >= e.nfold {
		panic(fmt.Sprintf("ccd: fold %d out of range [0, %d)", f, e.nfold))
	}
}
