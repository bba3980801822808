package record

import "fmt"

// Table is the normalized record set for one input file, one Record per
// well-formed line in input order. Aggregations work on filtered copies;
// the source table itself only ever gains cluster labels.
type Table struct {
	records []Record
}

// NewTable wraps the given records. The slice is retained, not copied; the
// caller hands over ownership.
func NewTable(records []Record) *Table {
	return &Table{records: records}
}

// Len returns the number of records.
func (t *Table) Len() int {
	return len(t.records)
}

// Record returns the record at position i.
func (t *Table) Record(i int) Record {
	return t.records[i]
}

// Records returns a copy of the record slice so callers cannot mutate the
// table through it.
func (t *Table) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// Filter returns a new Table holding copies of the records for which keep
// returned true, preserving order. The receiver is unchanged.
func (t *Table) Filter(keep func(Record) bool) *Table {
	var out []Record
	for _, r := range t.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return NewTable(out)
}

// AttachClusterLabels writes 1-based cluster labels onto the records named
// by rowIndex. rowIndex[i] is the table position the i-th clustered row came
// from; records not listed keep a nil label. Only k=3 and k=6 have columns
// in the record model.
func (t *Table) AttachClusterLabels(k int, rowIndex []int, labels []int) error {
	if len(rowIndex) != len(labels) {
		return fmt.Errorf("attach labels: %d row indexes but %d labels", len(rowIndex), len(labels))
	}
	if k != 3 && k != 6 {
		return fmt.Errorf("attach labels: no column for k=%d", k)
	}
	for i, pos := range rowIndex {
		if pos < 0 || pos >= len(t.records) {
			return fmt.Errorf("attach labels: row index %d out of range [0,%d)", pos, len(t.records))
		}
		label := labels[i]
		switch k {
		case 3:
			t.records[pos].ClusterK3 = &label
		case 6:
			t.records[pos].ClusterK6 = &label
		}
	}
	return nil
}
