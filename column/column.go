// Package column holds covariate columns in the four storage formats used
// by the coordinate descent kernels, and flattens them into device
// buffers.
package column

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidColumn is wrapped by errors describing a malformed column.
var ErrInvalidColumn = errors.New("invalid column")

// Format is the storage format of a covariate column.
type Format uint8

const (
	// Dense stores one value per row.
	Dense Format = iota

	// Sparse stores the values and row indices of the nonzero entries.
	Sparse

	// Indicator stores the row indices of entries equal to one.
	Indicator

	// Intercept is a column of ones with no storage.
	Intercept
)

// Formats lists every format, in dispatch table order.
var Formats = []Format{Dense, Sparse, Indicator, Intercept}

// String returns the name of the format.
func (f Format) String() string {
	switch f {
	case Dense:
		return "dense"
	case Sparse:
		return "sparse"
	case Indicator:
		return "indicator"
	case Intercept:
		return "intercept"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat returns the format with the given name.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown column format %q: %w", s, ErrInvalidColumn)
}

// Column is one covariate.  Data holds the values of a dense or sparse
// column, Rows the strictly increasing row indices of a sparse or
// indicator column.
type Column struct {
	Format Format
	Data   []float64
	Rows   []int32
}

// NewDense returns a dense column holding x.
func NewDense(x []float64) Column {
	return Column{Format: Dense, Data: x}
}

// NewSparse returns a sparse column with the given row indices and values.
func NewSparse(rows []int32, values []float64) Column {
	return Column{Format: Sparse, Rows: rows, Data: values}
}

// NewIndicator returns an indicator column that is one at the given rows.
func NewIndicator(rows []int32) Column {
	return Column{Format: Indicator, Rows: rows}
}

// NewIntercept returns a column of ones.
func NewIntercept() Column {
	return Column{Format: Intercept}
}

// TaskCount returns the number of stored entries of the column in a
// matrix with k rows.
func (c Column) TaskCount(k int) int {
	switch c.Format {
	case Dense, Intercept:
		return k
	default:
		return len(c.Rows)
	}
}

func (c Column) validate(k int) error {
	switch c.Format {
	case Dense:
		if len(c.Data) != k {
			return fmt.Errorf("dense column has %d values, want %d: %w", len(c.Data), k, ErrInvalidColumn)
		}
	case Sparse, Indicator:
		if c.Format == Sparse && len(c.Data) != len(c.Rows) {
			return fmt.Errorf("sparse column has %d values and %d rows: %w", len(c.Data), len(c.Rows), ErrInvalidColumn)
		}
		for i, r := range c.Rows {
			if r < 0 || int(r) >= k {
				return fmt.Errorf("row index %d out of range [0, %d): %w", r, k, ErrInvalidColumn)
			}
			if i > 0 && r <= c.Rows[i-1] {
				return fmt.Errorf("row indices not strictly increasing at position %d: %w", i, ErrInvalidColumn)
			}
		}
	case Intercept:
	default:
		return fmt.Errorf("%v: %w", c.Format, ErrInvalidColumn)
	}
	for _, v := range c.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value %v: %w", v, ErrInvalidColumn)
		}
	}
	return nil
}

// Each calls f for every stored entry of the column, in increasing row
// order.
func (c Column) Each(k int, f func(row int, x float64)) {
	switch c.Format {
	case Dense:
		for i, v := range c.Data {
			f(i, v)
		}
	case Sparse:
		for i, r := range c.Rows {
			f(int(r), c.Data[i])
		}
	case Indicator:
		for _, r := range c.Rows {
			f(int(r), 1)
		}
	case Intercept:
		for i := 0; i < k; i++ {
			f(i, 1)
		}
	}
}

// Matrix is a collection of columns sharing the same number of rows.
type Matrix struct {
	k     int
	cols  []Column
	names []string
}

// NewMatrix returns a matrix with k rows built from cols, which are
// validated.  The columns are not copied.
func NewMatrix(k int, cols ...Column) (*Matrix, error) {
	if k <= 0 {
		return nil, fmt.Errorf("matrix must have at least one row: %w", ErrInvalidColumn)
	}
	for j, c := range cols {
		if err := c.validate(k); err != nil {
			return nil, fmt.Errorf("column %d: %w", j, err)
		}
	}
	names := make([]string, len(cols))
	for j := range names {
		names[j] = fmt.Sprintf("x%d", j+1)
	}
	return &Matrix{k: k, cols: cols, names: names}, nil
}

// SetNames assigns names to the columns.
func (m *Matrix) SetNames(names []string) {
	if len(names) != len(m.cols) {
		panic("column: wrong number of names")
	}
	m.names = names
}

// Names returns the column names.
func (m *Matrix) Names() []string {
	return m.names
}

// NumRows returns the number of rows.
func (m *Matrix) NumRows() int {
	return m.k
}

// NumCols returns the number of columns.
func (m *Matrix) NumCols() int {
	return len(m.cols)
}

// Column returns column j.
func (m *Matrix) Column(j int) Column {
	return m.cols[j]
}

// Transpose returns the row-major form of the matrix, with one sparse
// column per row holding the (covariate index, value) pairs of the
// nonzero entries of that row.  Explicit zeros in dense columns are
// dropped.
func (m *Matrix) Transpose() *Matrix {
	rows := make([][]int32, m.k)
	vals := make([][]float64, m.k)
	for j, c := range m.cols {
		c.Each(m.k, func(i int, x float64) {
			if x == 0 {
				return
			}
			rows[i] = append(rows[i], int32(j))
			vals[i] = append(vals[i], x)
		})
	}
	t := &Matrix{k: len(m.cols), cols: make([]Column, m.k), names: make([]string, m.k)}
	for i := range t.cols {
		t.cols[i] = NewSparse(rows[i], vals[i])
		t.names[i] = fmt.Sprintf("row%d", i)
	}
	return t
}

// RowNorms returns the sum of absolute values of every row.
func (m *Matrix) RowNorms() []float64 {
	norm := make([]float64, m.k)
	for _, c := range m.cols {
		c.Each(m.k, func(i int, x float64) {
			norm[i] += math.Abs(x)
		})
	}
	return norm
}

// MulVec returns the product of the matrix with beta.
func (m *Matrix) MulVec(beta []float64) []float64 {
	if len(beta) != len(m.cols) {
		panic("column: length mismatch in MulVec")
	}
	y := make([]float64, m.k)
	for j, c := range m.cols {
		b := beta[j]
		if b == 0 {
			continue
		}
		switch c.Format {
		case Dense:
			floats.AddScaled(y, b, c.Data)
		case Intercept:
			floats.AddConst(b, y)
		default:
			c.Each(m.k, func(i int, x float64) {
				y[i] += b * x
			})
		}
	}
	return y
}

// Dense returns the matrix as a gonum dense matrix.
func (m *Matrix) Dense() *mat.Dense {
	d := mat.NewDense(m.k, len(m.cols), nil)
	for j, c := range m.cols {
		c.Each(m.k, func(i int, x float64) {
			d.Set(i, j, x)
		})
	}
	return d
}

// Permute returns a matrix whose row i is row perm[i] of m.  Sparse and
// indicator columns are re-sorted by their new row indices.
func (m *Matrix) Permute(perm []int) (*Matrix, error) {
	if len(perm) != m.k {
		return nil, fmt.Errorf("permutation has length %d, want %d: %w", len(perm), m.k, ErrInvalidColumn)
	}
	inv := make([]int32, m.k)
	for i := range inv {
		inv[i] = -1
	}
	for i, p := range perm {
		if p < 0 || p >= m.k || inv[p] >= 0 {
			return nil, fmt.Errorf("invalid permutation: %w", ErrInvalidColumn)
		}
		inv[p] = int32(i)
	}

	cols := make([]Column, len(m.cols))
	for j, c := range m.cols {
		switch c.Format {
		case Dense:
			x := make([]float64, m.k)
			for i, p := range perm {
				x[i] = c.Data[p]
			}
			cols[j] = NewDense(x)
		case Sparse, Indicator:
			ii := make([]int, len(c.Rows))
			for k := range ii {
				ii[k] = k
			}
			sort.Slice(ii, func(a, b int) bool { return inv[c.Rows[ii[a]]] < inv[c.Rows[ii[b]]] })
			nc := Column{Format: c.Format, Rows: make([]int32, len(ii))}
			if c.Format == Sparse {
				nc.Data = make([]float64, len(ii))
			}
			for k, q := range ii {
				nc.Rows[k] = inv[c.Rows[q]]
				if c.Format == Sparse {
					nc.Data[k] = c.Data[q]
				}
			}
			cols[j] = nc
		case Intercept:
			cols[j] = c
		}
	}

	return &Matrix{k: m.k, cols: cols, names: m.names}, nil
}
