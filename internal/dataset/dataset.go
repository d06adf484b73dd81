// Package dataset loads uploaded CSV files into an in-memory table.
package dataset

import (
	"fmt"
	"strings"
)

// Column is a named, typed sequence of cell values.
type Column struct {
	Name string
	// Type is the DuckDB type inferred for the column (e.g. BIGINT, VARCHAR).
	Type   string
	Values []any
}

// Dataset is an ordered set of equally long columns.
type Dataset struct {
	// Name is the file name the data was uploaded as.
	Name      string
	Columns   []Column
	RowCount  int
	Truncated bool
}

// ColumnNames returns column names in file order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the column named name.
func (d *Dataset) Column(name string) (*Column, bool) {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return &d.Columns[i], true
		}
	}
	return nil, false
}

// Row returns the cells of row i in column order.
func (d *Dataset) Row(i int) []any {
	row := make([]any, len(d.Columns))
	for j, c := range d.Columns {
		row[j] = c.Values[i]
	}
	return row
}

// Head returns up to n leading rows.
func (d *Dataset) Head(n int) [][]any {
	if n > d.RowCount {
		n = d.RowCount
	}
	if n < 0 {
		n = 0
	}
	rows := make([][]any, n)
	for i := 0; i < n; i++ {
		rows[i] = d.Row(i)
	}
	return rows
}

// Select returns a new dataset holding the given rows, in the given order.
func (d *Dataset) Select(rows []int) *Dataset {
	out := &Dataset{Name: d.Name, Columns: make([]Column, len(d.Columns)), RowCount: len(rows)}
	for j, c := range d.Columns {
		values := make([]any, len(rows))
		for k, r := range rows {
			values[k] = c.Values[r]
		}
		out.Columns[j] = Column{Name: c.Name, Type: c.Type, Values: values}
	}
	return out
}

// Describe renders the data description panel as markdown.
func (d *Dataset) Describe(includeExploration bool) string {
	if d == nil {
		return "No data loaded."
	}
	exploration := "No"
	if includeExploration {
		exploration = "Yes"
	}

	var b strings.Builder
	b.WriteString("**Data Description:**\n")
	fmt.Fprintf(&b, "- Columns: %s\n", strings.Join(d.ColumnNames(), ", "))
	fmt.Fprintf(&b, "- Number of rows: %d", d.RowCount)
	if d.Truncated {
		b.WriteString(" (truncated)")
	}
	b.WriteString("\n\n**App Description:**\n")
	b.WriteString("- App based on the uploaded data and user-provided description.\n")
	fmt.Fprintf(&b, "- Features interactive data exploration included: %s.\n", exploration)
	return b.String()
}
