package main

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/minghao2016/Cyclops/column"
	"github.com/minghao2016/Cyclops/duration"
	"github.com/minghao2016/Cyclops/likelihood"
	"github.com/minghao2016/Cyclops/simulate"
)

// columnJSON is one covariate in a data file.  Dense columns give every
// value, sparse columns give rows and values, indicator columns give
// rows, and intercept columns give nothing.
type columnJSON struct {
	Name   string    `json:"name"`
	Format string    `json:"format"`
	Rows   []int32   `json:"rows,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

// dataJSON is the data file read by fit and written by simulate.  Cox
// data give time, status and per-row strata instead of y and pid.
type dataJSON struct {
	Model   string       `json:"model"`
	Rows    int          `json:"rows"`
	Y       []float64    `json:"y,omitempty"`
	Offset  []float64    `json:"offset,omitempty"`
	Weights []float64    `json:"weights,omitempty"`
	Pid     []int32      `json:"pid,omitempty"`
	Time    []float64    `json:"time,omitempty"`
	Status  []float64    `json:"status,omitempty"`
	Strata  []int        `json:"strata,omitempty"`
	Columns []columnJSON `json:"columns"`
}

// dataset is a data file ready for the engine.
type dataset struct {
	tag    likelihood.Tag
	matrix *column.Matrix
	data   *likelihood.Data

	// Cox data, sorted like matrix and data
	cox          *duration.CoxData
	time, status []float64
}

func readData(path string) (*dataJSON, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dj dataJSON
	if err := json.Unmarshal(b, &dj); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &dj, nil
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "" || path == "-" {
		_, err = os.Stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// build converts a data file for the model named in it, or for model if
// that is not empty.
func (dj *dataJSON) build(model string) (*dataset, error) {

	if model == "" {
		model = dj.Model
	}
	tag, err := likelihood.ParseTag(model)
	if err != nil {
		return nil, err
	}

	cols := make([]column.Column, len(dj.Columns))
	names := make([]string, len(dj.Columns))
	for j, cj := range dj.Columns {
		f, err := column.ParseFormat(cj.Format)
		if err != nil {
			return nil, fmt.Errorf("column %d: %w", j, err)
		}
		switch f {
		case column.Dense:
			cols[j] = column.NewDense(cj.Values)
		case column.Sparse:
			cols[j] = column.NewSparse(cj.Rows, cj.Values)
		case column.Indicator:
			cols[j] = column.NewIndicator(cj.Rows)
		case column.Intercept:
			cols[j] = column.NewIntercept()
		}
		names[j] = cj.Name
		if names[j] == "" {
			names[j] = fmt.Sprintf("x%d", j+1)
		}
	}
	m, err := column.NewMatrix(dj.Rows, cols...)
	if err != nil {
		return nil, err
	}
	m.SetNames(names)

	ds := &dataset{tag: tag, matrix: m}
	if tag != likelihood.CoxProportionalHazards {
		ds.data = &likelihood.Data{Y: dj.Y, Offset: dj.Offset, Weights: dj.Weights, Pid: dj.Pid}
		return ds, nil
	}

	cd, err := duration.NewCoxData(dj.Time, dj.Status, &duration.CoxConfig{
		Strata: dj.Strata, Weights: dj.Weights, Offset: dj.Offset,
	})
	if err != nil {
		return nil, err
	}
	if ds.matrix, err = cd.Permute(m); err != nil {
		return nil, err
	}
	ds.cox, ds.data = cd, cd.Data
	ds.time = make([]float64, len(cd.Order))
	ds.status = make([]float64, len(cd.Order))
	for i, j := range cd.Order {
		ds.time[i] = dj.Time[j]
		ds.status[i] = dj.Status[j]
	}
	return ds, nil
}

// problemJSON converts a simulated problem to a data file.
func problemJSON(p *simulate.Problem) *dataJSON {

	m := p.Matrix
	k := m.NumRows()
	dj := &dataJSON{
		Model:   p.Tag.String(),
		Rows:    k,
		Offset:  p.Data.Offset,
		Weights: p.Data.Weights,
	}

	names := m.Names()
	for j := 0; j < m.NumCols(); j++ {
		c := m.Column(j)
		cj := columnJSON{Format: c.Format.String(), Rows: c.Rows, Values: c.Data}
		if names != nil {
			cj.Name = names[j]
		}
		dj.Columns = append(dj.Columns, cj)
	}

	if p.Tag == likelihood.CoxProportionalHazards {
		dj.Time, dj.Status = p.Time, p.Status
		if p.Data.Strata != nil {
			dj.Strata = make([]int, k)
			for i := range dj.Strata {
				dj.Strata[i] = int(p.Data.Strata[p.Data.Pid[i]])
			}
		}
		return dj
	}

	dj.Y, dj.Pid = p.Data.Y, p.Data.Pid
	return dj
}
