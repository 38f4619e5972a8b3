package column

import (
	"context"
	"fmt"
	"sort"

	"github.com/minghao2016/Cyclops/device"
)

const padAlign = 16

func alignUp(n, a int) int {
	return (n + a - 1) / a * a
}

// Store holds all columns of a matrix flattened into one value buffer and
// one index buffer on a device.  Offsets and task counts are fixed at
// construction.
type Store struct {
	k int

	formats       []Format
	dataStarts    []int
	indicesStarts []int
	taskCounts    []int

	data    *device.Buffer[float64]
	indices *device.Buffer[int32]
}

// NewStore flattens the columns of m onto dev.  If pad is true the start
// of every column in each buffer is aligned to 16 elements.
func NewStore(ctx context.Context, dev *device.Device, m *Matrix, pad bool) (*Store, error) {

	ncol := m.NumCols()
	s := &Store{
		k:             m.k,
		formats:       make([]Format, ncol),
		dataStarts:    make([]int, ncol),
		indicesStarts: make([]int, ncol),
		taskCounts:    make([]int, ncol),
	}

	align := 1
	if pad {
		align = padAlign
	}

	var nd, ni int
	for j, c := range m.cols {
		s.formats[j] = c.Format
		s.taskCounts[j] = c.TaskCount(m.k)
		s.dataStarts[j] = nd
		s.indicesStarts[j] = ni
		if len(c.Data) > 0 {
			nd = alignUp(nd+len(c.Data), align)
		}
		if len(c.Rows) > 0 {
			ni = alignUp(ni+len(c.Rows), align)
		}
	}

	hd := make([]float64, nd)
	hi := make([]int32, ni)
	for j, c := range m.cols {
		copy(hd[s.dataStarts[j]:], c.Data)
		copy(hi[s.indicesStarts[j]:], c.Rows)
	}

	var err error
	if s.data, err = device.UploadNew(ctx, dev, hd); err != nil {
		return nil, fmt.Errorf("column values: %w", err)
	}
	if s.indices, err = device.UploadNew(ctx, dev, hi); err != nil {
		s.data.Free()
		return nil, fmt.Errorf("column indices: %w", err)
	}

	return s, nil
}

// Free releases the device buffers.
func (s *Store) Free() {
	s.data.Free()
	s.indices.Free()
}

// NumRows returns the number of rows of the stored matrix.
func (s *Store) NumRows() int {
	return s.k
}

// NumCols returns the number of stored columns.
func (s *Store) NumCols() int {
	return len(s.formats)
}

// DataOffset returns the start of column j in the value buffer.
func (s *Store) DataOffset(j int) int {
	return s.dataStarts[j]
}

// IndicesOffset returns the start of column j in the index buffer.
func (s *Store) IndicesOffset(j int) int {
	return s.indicesStarts[j]
}

// TaskCount returns the number of stored entries of column j.
func (s *Store) TaskCount(j int) int {
	return s.taskCounts[j]
}

// Format returns the format of column j.
func (s *Store) Format(j int) Format {
	return s.formats[j]
}

// Formats returns the distinct formats present in the store.
func (s *Store) Formats() []Format {
	var seen [4]bool
	var fl []Format
	for _, f := range s.formats {
		if !seen[f] {
			seen[f] = true
			fl = append(fl, f)
		}
	}
	sort.Slice(fl, func(i, j int) bool { return fl[i] < fl[j] })
	return fl
}

// View returns a read-only window on column j for use inside kernels.
func (s *Store) View(j int) View {
	v := View{Format: s.formats[j], K: s.k, Tasks: s.taskCounts[j]}
	switch v.Format {
	case Dense:
		v.Data = s.data.Slice()[s.dataStarts[j] : s.dataStarts[j]+v.Tasks]
	case Sparse:
		v.Data = s.data.Slice()[s.dataStarts[j] : s.dataStarts[j]+v.Tasks]
		v.Rows = s.indices.Slice()[s.indicesStarts[j] : s.indicesStarts[j]+v.Tasks]
	case Indicator:
		v.Rows = s.indices.Slice()[s.indicesStarts[j] : s.indicesStarts[j]+v.Tasks]
	}
	return v
}

// View is a column as seen by a kernel.
type View struct {
	Format Format
	K      int
	Tasks  int
	Data   []float64
	Rows   []int32
}

// Accessor gives format-specialized access to the entries of a column.
// Task t is the t'th stored entry; Locate returns the first task whose row
// is at least row.
type Accessor interface {
	Len() int
	At(t int) (row int, x float64)
	Locate(row int) int
}

// DenseView accesses a dense column.
type DenseView struct{ data []float64 }

func (v DenseView) Len() int { return len(v.data) }
func (v DenseView) At(t int) (int, float64) { return t, v.data[t] }
func (v DenseView) Locate(row int) int { return row }

// SparseView accesses a sparse column.
type SparseView struct {
	data []float64
	rows []int32
}

func (v SparseView) Len() int { return len(v.rows) }
func (v SparseView) At(t int) (int, float64) { return int(v.rows[t]), v.data[t] }
func (v SparseView) Locate(row int) int { return locate(v.rows, row) }

// IndicatorView accesses an indicator column.
type IndicatorView struct{ rows []int32 }

func (v IndicatorView) Len() int { return len(v.rows) }
func (v IndicatorView) At(t int) (int, float64) { return int(v.rows[t]), 1 }
func (v IndicatorView) Locate(row int) int { return locate(v.rows, row) }

// InterceptView accesses a column of ones.
type InterceptView struct{ k int }

func (v InterceptView) Len() int { return v.k }
func (v InterceptView) At(t int) (int, float64) { return t, 1 }
func (v InterceptView) Locate(row int) int { return row }

func locate(rows []int32, row int) int {
	lo, hi := 0, len(rows)
	for lo < hi {
		m := int(uint(lo+hi) >> 1)
		if int(rows[m]) < row {
			lo = m + 1
		} else {
			hi = m
		}
	}
	return lo
}

// DenseView returns the view as a dense accessor.
func (v View) DenseView() DenseView { return DenseView{v.Data} }

// SparseView returns the view as a sparse accessor.
func (v View) SparseView() SparseView { return SparseView{data: v.Data, rows: v.Rows} }

// IndicatorView returns the view as an indicator accessor.
func (v View) IndicatorView() IndicatorView { return IndicatorView{v.Rows} }

// InterceptView returns the view as an intercept accessor.
func (v View) InterceptView() InterceptView { return InterceptView{v.K} }

// Accessor returns a format-specialized accessor boxed in an interface.
// Kernels that need speed instantiate on the concrete view types instead.
func (v View) Accessor() Accessor {
	switch v.Format {
	case Dense:
		return v.DenseView()
	case Sparse:
		return v.SparseView()
	case Indicator:
		return v.IndicatorView()
	default:
		return v.InterceptView()
	}
}
