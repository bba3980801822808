// Package feature derives the numeric clustering inputs from a record table.
package feature

import "github.com/logsift/logsift/internal/record"

// ColumnNames lists the matrix columns in row order.
var ColumnNames = []string{"bytes", "status", "urlLength"}

// Matrix holds one row of raw numeric features per clusterable record.
// Rows[i] was derived from table row Index[i]; the indirection lets cluster
// labels merge back onto the full table by position after rows with missing
// values were dropped.
type Matrix struct {
	Rows  [][]float64
	Index []int
}

// Len returns the number of feature rows.
func (m *Matrix) Len() int { return len(m.Rows) }

// Extract builds the (bytes, status, urlLength) matrix from every record
// whose byte count is present. There is no imputation: a record with
// missing bytes contributes no row at all. Values stay on their raw scales,
// so bytes dominates Euclidean distances downstream.
func Extract(t *record.Table) *Matrix {
	m := &Matrix{
		Rows:  make([][]float64, 0, t.Len()),
		Index: make([]int, 0, t.Len()),
	}
	for i := 0; i < t.Len(); i++ {
		r := t.Record(i)
		if !r.HasBytes() {
			continue
		}
		m.Rows = append(m.Rows, []float64{
			float64(*r.Bytes),
			float64(r.Status),
			float64(r.URLLength),
		})
		m.Index = append(m.Index, i)
	}
	return m
}
