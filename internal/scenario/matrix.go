// Package scenario defines the scenario-matrix contract consumed by the
// portfolio generator: a pluggable source, an immutable (S x D) matrix, and
// a shared cache with single-flight population.
package scenario

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Source produces driver-points scenario matrices. Implementations must be
// deterministic under identical seed and must not reorder driver columns
// within a request. The returned column map gives the driver id behind each
// matrix column.
type Source interface {
	Sample(ctx context.Context, nScenarios int, seed int64) (*Matrix, []int, error)
}

// Matrix is an immutable (S x D) driver-points outcome matrix. Row k is one
// scenario; column i is one driver. Construction precomputes column means
// and cell extrema, which the objective builders need for their bounds.
type Matrix struct {
	data     *mat.Dense
	s, d     int
	colMeans []float64
	minCell  float64
	maxCell  float64
}

// NewMatrix builds a Matrix from row-major scenario data.
func NewMatrix(rows [][]float64) (*Matrix, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("scenario matrix must be non-empty")
	}
	s, d := len(rows), len(rows[0])
	data := mat.NewDense(s, d, nil)
	for k, row := range rows {
		if len(row) != d {
			return nil, fmt.Errorf("scenario row %d has %d columns, expected %d", k, len(row), d)
		}
		data.SetRow(k, row)
	}
	return fromDense(data), nil
}

func fromDense(data *mat.Dense) *Matrix {
	s, d := data.Dims()
	m := &Matrix{data: data, s: s, d: d}
	m.colMeans = make([]float64, d)
	raw := data.RawMatrix().Data
	m.minCell = floats.Min(raw)
	m.maxCell = floats.Max(raw)
	for k := 0; k < s; k++ {
		floats.Add(m.colMeans, data.RawRowView(k))
	}
	floats.Scale(1/float64(s), m.colMeans)
	return m
}

// Scenarios returns S.
func (m *Matrix) Scenarios() int { return m.s }

// Drivers returns D.
func (m *Matrix) Drivers() int { return m.d }

// At returns the points of driver i under scenario k.
func (m *Matrix) At(k, i int) float64 { return m.data.At(k, i) }

// Row returns a view of scenario k. Callers must not modify it.
func (m *Matrix) Row(k int) []float64 { return m.data.RawRowView(k) }

// ColMeans returns per-driver scenario means. Callers must not modify it.
func (m *Matrix) ColMeans() []float64 { return m.colMeans }

// MinCell returns the smallest cell value.
func (m *Matrix) MinCell() float64 { return m.minCell }

// MaxCell returns the largest cell value.
func (m *Matrix) MaxCell() float64 { return m.maxCell }

// LineupSeries computes the per-scenario points series p_k for a driver
// selection via a dense matrix-vector product.
func (m *Matrix) LineupSeries(selection []int) []float64 {
	indicator := mat.NewVecDense(m.d, nil)
	for _, i := range selection {
		indicator.SetVec(i, 1)
	}
	var out mat.VecDense
	out.MulVec(m.data, indicator)
	return out.RawVector().Data
}

// SubsetRows builds a new matrix from the given scenario rows (used by
// regime-aware allocation).
func (m *Matrix) SubsetRows(rows []int) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("row subset must be non-empty")
	}
	sub := mat.NewDense(len(rows), m.d, nil)
	for idx, k := range rows {
		if k < 0 || k >= m.s {
			return nil, fmt.Errorf("row index %d out of range [0, %d)", k, m.s)
		}
		sub.SetRow(idx, m.data.RawRowView(k))
	}
	return fromDense(sub), nil
}

// Bytes reports the approximate memory footprint, used by the cache budget.
func (m *Matrix) Bytes() int64 {
	return int64(m.s) * int64(m.d) * 8
}
