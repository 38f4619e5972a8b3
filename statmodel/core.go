// Package statmodel drives a coordinate descent engine to convergence,
// fits cross-validation folds together, and summarizes fitted models.
package statmodel

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/prior"
)

// Algorithm selects the update used in each outer iteration.
type Algorithm int

// CCD updates one covariate at a time, MM updates all covariates at once
// from a separable majorizer.
const (
	CCD Algorithm = iota
	MM
)

// String returns the algorithm name.
func (a Algorithm) String() string {
	switch a {
	case CCD:
		return "ccd"
	case MM:
		return "mm"
	}
	return fmt.Sprintf("Algorithm(%d)", int(a))
}

// ParseAlgorithm returns the algorithm with the given name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(s) {
	case "ccd":
		return CCD, nil
	case "mm":
		return MM, nil
	}
	return 0, fmt.Errorf("statmodel: unknown algorithm %q", s)
}

// Results contains the results after fitting a model to data.
type Results struct {
	tag        likelihood.Tag
	algorithm  Algorithm
	names      []string
	priors     []prior.Prior
	params     []float64
	loglike    float64
	logprior   float64
	iterations int
	converged  bool
}

// Tag returns the model that was fit.
func (rslt *Results) Tag() likelihood.Tag {
	return rslt.tag
}

// Algorithm returns the update used by the fit.
func (rslt *Results) Algorithm() Algorithm {
	return rslt.algorithm
}

// Names returns the covariate names for the variables in the model.
func (rslt *Results) Names() []string {
	return rslt.names
}

// Params returns the point estimates for the parameters in the model.
func (rslt *Results) Params() []float64 {
	return rslt.params
}

// LogLike returns the log-likelihood at the estimates.
func (rslt *Results) LogLike() float64 {
	return rslt.loglike
}

// LogPrior returns the log prior density at the estimates.
func (rslt *Results) LogPrior() float64 {
	return rslt.logprior
}

// Objective returns the penalized log-likelihood that the fit
// maximizes.
func (rslt *Results) Objective() float64 {
	return rslt.loglike + rslt.logprior
}

// Iterations returns the number of outer iterations taken.
func (rslt *Results) Iterations() int {
	return rslt.iterations
}

// Converged reports whether the fit met its tolerance before reaching
// the iteration limit.
func (rslt *Results) Converged() bool {
	return rslt.converged
}

// NonZero returns the number of nonzero estimates.
func (rslt *Results) NonZero() int {
	var n int
	for _, b := range rslt.params {
		if b != 0 {
			n++
		}
	}
	return n
}

// FittedValues returns the fitted linear predictor for the rows of m,
// which must have the columns of the training data.  The offset may be
// nil.
func (rslt *Results) FittedValues(m *column.Matrix, offset []float64) []float64 {

	if m.NumCols() != len(rslt.params) {
		msg := fmt.Sprintf("Data has incorrect number of columns, %d != %d\n", m.NumCols(), len(rslt.params))
		panic(msg)
	}

	fv := m.MulVec(rslt.params)
	if offset != nil {
		floats.Add(fv, offset)
	}
	return fv
}

// Summary returns a summary table of the model results.
func (rslt *Results) Summary() *SummaryTable {

	sum := &SummaryTable{
		Title: fmt.Sprintf("Penalized %v regression", rslt.tag),
	}

	sum.Top = append(sum.Top, fmt.Sprintf("  Algorithm:      %10v", rslt.algorithm))
	sum.Top = append(sum.Top, fmt.Sprintf("  Iterations:     %10d", rslt.iterations))
	sum.Top = append(sum.Top, fmt.Sprintf("  Log-likelihood: %10.4f", rslt.loglike))
	sum.Top = append(sum.Top, fmt.Sprintf("  Log prior:      %10.4f", rslt.logprior))
	sum.Top = append(sum.Top, fmt.Sprintf("  Nonzero:        %10d", rslt.NonZero()))

	var pr []string
	for _, p := range rslt.priors {
		if p.Type == prior.None {
			pr = append(pr, p.Type.String())
		} else {
			pr = append(pr, fmt.Sprintf("%v(%g)", p.Type, p.Param))
		}
	}

	names := rslt.names
	if names == nil {
		for j := range rslt.params {
			names = append(names, fmt.Sprintf("x%d", j+1))
		}
	}

	sum.ColNames = []string{"Variable   ", "Coefficient", "Prior"}
	sum.ColFmt = []Fmter{StringFmt, FloatFmt, StringFmt}
	sum.Cols = []interface{}{names, rslt.params, pr}

	if !rslt.converged {
		sum.Msg = append(sum.Msg, fmt.Sprintf("Did not converge in %d iterations", rslt.iterations))
	}

	return sum
}

// SummaryTable holds the summary values for a fitted model.
type SummaryTable struct {

	// Title
	Title string

	// Column names
	ColNames []string

	// Formatters for the column values
	ColFmt []Fmter

	// Cols[j] is the j^th column.  It's concrete type should
	// be an array, e.g. of numbers or strings.
	Cols []interface{}

	// Values at the top of the summary
	Top []string

	// Messages displayed below the table
	Msg []string

	// Total width of the table
	tw int
}

// Fmter formats the elements of an array of values.
type Fmter func(interface{}, string) []string

// StringFmt left-aligns a []string column.
func StringFmt(x interface{}, h string) []string {
	y := x.([]string)
	m := len(h)
	for i := range y {
		if len(y[i]) > m {
			m = len(y[i])
		}
	}
	z := make([]string, len(y))
	for i := range y {
		z[i] = fmt.Sprintf("%-*s", m, y[i])
	}
	return z
}

// FloatFmt formats a []float64 column with four decimals.
func FloatFmt(x interface{}, h string) []string {
	y := x.([]float64)
	s := make([]string, len(y))
	for i := range y {
		s[i] = fmt.Sprintf("%12.4f", y[i])
	}
	return s
}

// Draw a line constructed of the given character filling the width of
// the table.
func (s *SummaryTable) line(c string) string {
	return strings.Repeat(c, s.tw) + "\n"
}

// top lays out the summary values in two columns.
func (s *SummaryTable) top(gap int) string {

	w := []int{0, 0}
	for j, x := range s.Top {
		if len(x) > w[j%2] {
			w[j%2] = len(x)
		}
	}

	var b bytes.Buffer
	for j, x := range s.Top {
		fmt.Fprintf(&b, "%-*s", w[j%2], x)
		if j%2 == 1 {
			b.WriteString("\n")
		} else {
			b.WriteString(strings.Repeat(" ", gap))
		}
	}
	if len(s.Top)%2 == 1 {
		b.WriteString("\n")
	}

	return b.String()
}

// String returns the table as a string.
func (s *SummaryTable) String() string {

	var tab [][]string
	var wx []int
	for j, c := range s.Cols {
		u := s.ColFmt[j](c, s.ColNames[j])
		tab = append(tab, u)
		w := len(s.ColNames[j])
		if len(u) > 0 && len(u[0]) > w {
			w = len(u[0])
		}
		wx = append(wx, w+1)
	}

	gap := 4

	// Get the total width of the table
	s.tw = 0
	for _, w := range wx {
		s.tw += w
	}
	s.tw = max(s.tw, len(s.Title))
	var tw int
	for _, x := range s.Top {
		tw = max(tw, len(x))
	}
	s.tw = max(s.tw, gap+2*tw)

	var buf bytes.Buffer

	// Center the title
	kr := max((s.tw-len(s.Title))/2, 0)
	buf.WriteString(strings.Repeat(" ", kr))
	buf.WriteString(s.Title)
	buf.WriteString("\n")

	buf.WriteString(s.line("="))
	buf.WriteString(s.top(gap))
	buf.WriteString(s.line("-"))

	for j, c := range s.ColNames {
		fmt.Fprintf(&buf, "%*s", wx[j], c)
	}
	buf.WriteString("\n")
	buf.WriteString(s.line("-"))

	if len(tab) > 0 {
		for i := range tab[0] {
			for j := range tab {
				fmt.Fprintf(&buf, "%*s", wx[j], tab[j][i])
			}
			buf.WriteString("\n")
		}
	}
	buf.WriteString(s.line("-"))

	for _, msg := range s.Msg {
		buf.WriteString(msg + "\n")
	}

	return buf.String()
}

// meanFinite returns the mean of the finite values of x, or NaN if there
// are none.
func meanFinite(x []float64) float64 {
	var v []float64
	for _, y := range x {
		if !math.IsInf(y, 0) && !math.IsNaN(y) {
			v = append(v, y)
		}
	}
	if len(v) == 0 {
		return math.NaN()
	}
	return stat.Mean(v, nil)
}
