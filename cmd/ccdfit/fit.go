package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/urfave/cli/v3"

	"github.com/minghao2016/Cyclops/ccd"
	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/device"
	"github.com/minghao2016/Cyclops/duration"
	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/prior"
	"github.com/minghao2016/Cyclops/simulate"
	"github.com/minghao2016/Cyclops/statmodel"
)

type fitOptions struct {
	data    string
	output  string
	model   string
	metrics string
	seed    uint64

	workers      int
	maxAlloc     int64
	algorithm    string
	prior        string
	param        float64
	initialBound float64
	maxIter      int
	tol          float64
	folds        int
	grid         []float64
	logLevel     string
	logFormat    string
}

// fitOutput is the JSON document written by fit.
type fitOutput struct {
	RunID       string    `json:"run_id"`
	Model       string    `json:"model"`
	Algorithm   string    `json:"algorithm"`
	Prior       string    `json:"prior"`
	Param       float64   `json:"param"`
	Names       []string  `json:"names"`
	Beta        []float64 `json:"beta"`
	LogLike     float64   `json:"loglike"`
	LogPrior    float64   `json:"logprior"`
	Iterations  int       `json:"iterations"`
	Converged   bool      `json:"converged"`
	Concordance *float64  `json:"concordance,omitempty"`

	Folds *foldsOutput `json:"folds,omitempty"`
	CV    *cvOutput    `json:"cv,omitempty"`

	Seconds float64 `json:"seconds"`
}

type foldsOutput struct {
	Predictive     []float64   `json:"predictive"`
	MeanPredictive float64     `json:"mean_predictive"`
	Beta           [][]float64 `json:"beta"`
}

type cvOutput struct {
	Params     []float64 `json:"params"`
	Predictive []float64 `json:"predictive"`
	Best       float64   `json:"best"`
}

func fitCmd() *cli.Command {
	return &cli.Command{
		Name:  "fit",
		Usage: "Fit a penalized model to a data file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "data", Aliases: []string{"d"}, Usage: "JSON data file", Required: true},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write results as JSON to this file (- for stdout)"},
			&cli.StringFlag{Name: "config", Usage: "config file (default ~/.config/ccdfit/config.yaml)"},
			&cli.StringFlag{Name: "model", Aliases: []string{"m"}, Usage: "override the model named in the data file"},
			&cli.StringFlag{Name: "prior", Value: "normal", Usage: "prior on every non-intercept coefficient (none, laplace, normal)"},
			&cli.FloatFlag{Name: "param", Value: 1, Usage: "Laplace rate or Normal variance"},
			&cli.StringFlag{Name: "algorithm", Value: "ccd", Usage: "update algorithm (ccd, mm)"},
			&cli.IntFlag{Name: "folds", Usage: "number of cross-validation folds (0 fits all rows)"},
			&cli.FloatSliceFlag{Name: "grid", Usage: "candidate prior parameters selected by cross-validation"},
			&cli.IntFlag{Name: "max-iter", Value: 1000, Usage: "maximum number of passes"},
			&cli.FloatFlag{Name: "tol", Value: 1e-8, Usage: "relative convergence tolerance"},
			&cli.FloatFlag{Name: "initial-bound", Value: 2, Usage: "initial trust region half-width"},
			&cli.IntFlag{Name: "workers", Usage: "device worker goroutines (0 uses every CPU)"},
			&cli.Int64Flag{Name: "max-alloc", Usage: "device allocation limit in bytes (0 for none)"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "fold assignment seed"},
			&cli.StringFlag{Name: "metrics", Usage: "write device metrics to this file"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "log level (debug, info, warn, error)"},
			&cli.StringFlag{Name: "log-format", Value: "text", Usage: "log format (text, json)"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			o := fitOptionsFrom(c)
			cfg, err := LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			applyFitConfig(c, cfg, &o)
			return runFit(ctx, os.Stdout, o)
		},
	}
}

func fitOptionsFrom(c *cli.Command) fitOptions {
	return fitOptions{
		data:         c.String("data"),
		output:       c.String("output"),
		model:        c.String("model"),
		metrics:      c.String("metrics"),
		seed:         c.Uint64("seed"),
		workers:      int(c.Int("workers")),
		maxAlloc:     c.Int64("max-alloc"),
		algorithm:    c.String("algorithm"),
		prior:        c.String("prior"),
		param:        c.Float("param"),
		initialBound: c.Float("initial-bound"),
		maxIter:      int(c.Int("max-iter")),
		tol:          c.Float("tol"),
		folds:        int(c.Int("folds")),
		grid:         c.FloatSlice("grid"),
		logLevel:     c.String("log-level"),
		logFormat:    c.String("log-format"),
	}
}

// priorTypes places the requested prior on every column except an
// intercept.
func priorTypes(m *column.Matrix, t prior.Type, param float64) ([]prior.Type, []float64) {
	types := make([]prior.Type, m.NumCols())
	params := make([]float64, m.NumCols())
	for j := range types {
		if m.Column(j).Format == column.Intercept {
			continue
		}
		types[j], params[j] = t, param
	}
	return types, params
}

func runFit(ctx context.Context, w io.Writer, o fitOptions) error {

	logger, err := newLogger(os.Stderr, o.logLevel, o.logFormat)
	if err != nil {
		return err
	}
	runID := uuid.New()
	logger = logger.With("run", runID.String())

	alg, err := statmodel.ParseAlgorithm(o.algorithm)
	if err != nil {
		return err
	}
	pt, err := prior.ParseType(o.prior)
	if err != nil {
		return err
	}

	dj, err := readData(o.data)
	if err != nil {
		return err
	}
	ds, err := dj.build(o.model)
	if err != nil {
		return err
	}
	logger.Info("data loaded", "model", ds.tag, "rows", ds.matrix.NumRows(), "columns", ds.matrix.NumCols())

	dev, err := device.New(&device.Config{
		Name:     "cpu",
		Workers:  o.workers,
		MaxAlloc: o.maxAlloc,
		Log:      debugLog(logger),
	})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	ctx = device.WithSink(ctx, device.NewPromSink(reg, "ccdfit"))

	ec := ccd.DefaultConfig()
	ec.InitialBound = o.initialBound
	ec.Log = debugLog(logger)
	eng, err := ccd.New(ctx, dev, ds.tag, ds.matrix, ds.data, ec)
	if err != nil {
		return err
	}
	defer eng.Free()

	types, params := priorTypes(ds.matrix, pt, o.param)
	if err := eng.SetPriors(ctx, types, params); err != nil {
		return err
	}

	fc := statmodel.DefaultFitConfig()
	fc.Algorithm = alg
	fc.MaxIter = o.maxIter
	fc.Tol = o.tol
	fc.Log = debugLog(logger)

	out := &fitOutput{
		RunID:     runID.String(),
		Model:     ds.tag.String(),
		Algorithm: alg.String(),
		Prior:     pt.String(),
		Param:     o.param,
	}

	start := time.Now()
	var rslt *statmodel.Results
	switch {
	case o.folds > 0 && len(o.grid) > 0:
		folds := simulate.Folds(ds.data, o.folds, o.seed)
		cv, err := statmodel.CrossValidate(ctx, eng, folds, o.grid, fc)
		if err != nil {
			return err
		}
		rslt = cv.Fit
		out.Param = cv.Params[cv.Best]
		out.CV = &cvOutput{Params: cv.Params, Predictive: cv.Predictive, Best: cv.Params[cv.Best]}
		logger.Info("cross-validation done", "best", out.Param, "predictive", cv.Predictive[cv.Best])
	case o.folds > 0:
		folds := simulate.Folds(ds.data, o.folds, o.seed)
		fr, err := statmodel.FitFolds(ctx, eng, folds, fc)
		if err != nil {
			return err
		}
		fo := &foldsOutput{Predictive: fr.Predictive, MeanPredictive: fr.MeanPredictive()}
		for _, r := range fr.Folds {
			fo.Beta = append(fo.Beta, r.Params())
		}
		out.Folds = fo
		logger.Info("folds done", "folds", o.folds, "predictive", fo.MeanPredictive)

		// Fit all rows for the reported coefficients.
		if err := eng.TurnOffSyncCV(ctx); err != nil {
			return err
		}
		if err := eng.ResetBeta(ctx); err != nil {
			return err
		}
		if rslt, err = statmodel.FitCCD(ctx, eng, fc); err != nil {
			return err
		}
	default:
		if rslt, err = statmodel.FitCCD(ctx, eng, fc); err != nil {
			return err
		}
	}
	out.Seconds = time.Since(start).Seconds()

	out.Names = rslt.Names()
	out.Beta = rslt.Params()
	out.LogLike = rslt.LogLike()
	out.LogPrior = rslt.LogPrior()
	out.Iterations = rslt.Iterations()
	out.Converged = rslt.Converged()
	if !rslt.Converged() {
		logger.Warn("fit did not converge", "iterations", rslt.Iterations())
	}

	if ds.tag == likelihood.CoxProportionalHazards {
		score := rslt.FittedValues(ds.matrix, nil)
		cc, err := duration.NewConcordance(ds.time, ds.status, score)
		if err != nil {
			return err
		}
		if v, err := cc.Concordance(math.Inf(1)); err == nil {
			out.Concordance = &v
		} else {
			logger.Warn("concordance not available", "err", err)
		}
	}

	if _, err := fmt.Fprintln(w, rslt.Summary().String()); err != nil {
		return err
	}
	logger.Info("fit done", "iterations", out.Iterations, "loglike", out.LogLike, "seconds", out.Seconds,
		"dispatches", dev.Stats().Dispatches)

	if o.output != "" {
		if err := writeJSON(o.output, out); err != nil {
			return err
		}
	}
	if o.metrics != "" {
		if err := writeMetrics(o.metrics, reg, logger); err != nil {
			return err
		}
	}
	return nil
}

// writeMetrics writes the gathered metric families in the Prometheus
// text exposition format.
func writeMetrics(path string, reg *prometheus.Registry, logger *slog.Logger) error {

	mfs, err := reg.Gather()
	if err != nil {
		return err
	}

	var b bytes.Buffer
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(&b, mf); err != nil {
			return err
		}
	}

	logger.Debug("writing metrics", "path", path, "families", len(mfs))
	return os.WriteFile(path, b.Bytes(), 0o644)
}
