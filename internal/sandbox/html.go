package sandbox

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapdash/internal/dataset"
)

// maxTableRows caps the rows rendered by output tables.
const maxTableRows = 200

// Chart geometry in SVG user units.
const (
	chartWidth   = 640
	chartHeight  = 320
	chartPadding = 40
)

// renderString renders c into a string.
func renderString(ctx context.Context, c templ.Component) (string, error) {
	var b strings.Builder
	if err := c.Render(ctx, &b); err != nil {
		return "", err
	}
	return b.String(), nil
}

// currentValue returns the value n currently shows.
func currentValue(n *Node, values map[string]starlark.Value) starlark.Value {
	if v, ok := values[n.ID]; ok {
		return v
	}
	return n.Default
}

func isChecked(v starlark.Value) bool {
	return v != nil && bool(v.Truth())
}

func columnStyle(width int) string {
	if width < 1 || width > 12 {
		width = 12
	}
	return "flex: " + strconv.Itoa(width)
}

func outputOf(outputs map[string]templ.Component, id string) templ.Component {
	if c, ok := outputs[id]; ok {
		return c
	}
	return templ.NopComponent
}

// tableOutput renders render.table results: a table, or a list of dicts.
func tableOutput(v starlark.Value) (templ.Component, error) {
	switch val := v.(type) {
	case *Table:
		ds := val.Dataset()
		return dataTable(ds.ColumnNames(), datasetRows(ds, maxTableRows)), nil
	case *starlark.List:
		columns, rows, err := dictRows(val, maxTableRows)
		if err != nil {
			return nil, err
		}
		return dataTable(columns, rows), nil
	}
	return nil, fmt.Errorf("render.table: expected a table or a list of dicts, got %s", v.Type())
}

// dictRows flattens a list of dicts into cells. Columns follow first
// appearance across all rows.
func dictRows(list *starlark.List, limit int) ([]string, [][]string, error) {
	var columns []string
	seen := make(map[string]bool)
	dicts := make([]*starlark.Dict, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		d, ok := list.Index(i).(*starlark.Dict)
		if !ok {
			return nil, nil, fmt.Errorf("render.table: list items must be dicts, got %s", list.Index(i).Type())
		}
		for _, k := range d.Keys() {
			name := display(k)
			if !seen[name] {
				seen[name] = true
				columns = append(columns, name)
			}
		}
		dicts = append(dicts, d)
	}
	rows := make([][]string, 0, min(len(dicts), limit))
	for _, d := range dicts[:min(len(dicts), limit)] {
		row := make([]string, len(columns))
		for j, c := range columns {
			cell, _, _ := d.Get(starlark.String(c))
			row[j] = display(cell)
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func datasetRows(ds *dataset.Dataset, limit int) [][]string {
	head := ds.Head(limit)
	rows := make([][]string, len(head))
	for i, row := range head {
		cells := make([]string, len(row))
		for j, cell := range row {
			cells[j] = display(cell)
		}
		rows[i] = cells
	}
	return rows
}

// series extracts labelled numbers for a chart. Accepted shapes are a
// dict of label to number, a dict with "labels" and "values" lists, and a
// list of (label, value) pairs.
func series(v starlark.Value) ([]string, []float64, error) {
	var labels []string
	var values []float64
	add := func(label, value starlark.Value) error {
		f, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("render.chart: value for %s is not a number", display(label))
		}
		labels = append(labels, display(label))
		values = append(values, f)
		return nil
	}

	switch val := v.(type) {
	case *starlark.Dict:
		ls, hasLabels, _ := val.Get(starlark.String("labels"))
		vs, hasValues, _ := val.Get(starlark.String("values"))
		if hasLabels && hasValues {
			li, lok := ls.(starlark.Indexable)
			vi, vok := vs.(starlark.Indexable)
			if !lok || !vok || li.Len() != vi.Len() {
				return nil, nil, fmt.Errorf("render.chart: labels and values must be lists of equal length")
			}
			for i := 0; i < li.Len(); i++ {
				if err := add(li.Index(i), vi.Index(i)); err != nil {
					return nil, nil, err
				}
			}
			return labels, values, nil
		}
		for _, item := range val.Items() {
			if err := add(item[0], item[1]); err != nil {
				return nil, nil, err
			}
		}
		return labels, values, nil
	case *starlark.List:
		for i := 0; i < val.Len(); i++ {
			pair, ok := val.Index(i).(starlark.Tuple)
			if !ok || len(pair) != 2 {
				return nil, nil, fmt.Errorf("render.chart: list items must be (label, value) pairs")
			}
			if err := add(pair[0], pair[1]); err != nil {
				return nil, nil, err
			}
		}
		return labels, values, nil
	}
	return nil, nil, fmt.Errorf("render.chart: expected a dict or a list of pairs, got %s", v.Type())
}

// chart is the laid out geometry of a bar or line chart. Coordinates are
// preformatted SVG numbers.
type chart struct {
	Kind   string
	Axis   string
	Line   string
	Marks  []chartMark
	Labels []chartMark
}

type chartMark struct {
	X, Y          string
	Width, Height string
	Title         string
}

// chartOutput lays out a render.chart result.
func chartOutput(kind string, v starlark.Value) (templ.Component, error) {
	labels, values, err := series(v)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return emptyChart(), nil
	}
	return chartSVG(layoutChart(kind, labels, values)), nil
}

func layoutChart(kind string, labels []string, values []float64) chart {
	lo, hi := 0.0, 0.0
	for _, f := range values {
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	if hi == lo {
		hi = lo + 1
	}
	plotW := float64(chartWidth - 2*chartPadding)
	plotH := float64(chartHeight - 2*chartPadding)
	y := func(f float64) float64 {
		return chartPadding + plotH*(hi-f)/(hi-lo)
	}
	slot := plotW / float64(len(values))
	center := func(i int) float64 {
		return chartPadding + slot*(float64(i)+0.5)
	}

	c := chart{Kind: kind, Axis: fnum(y(0))}
	points := make([]string, 0, len(values))
	for i, f := range values {
		title := labels[i] + ": " + fnum(f)
		if kind == ChartLine {
			points = append(points, fnum(center(i))+","+fnum(y(f)))
			c.Marks = append(c.Marks, chartMark{X: fnum(center(i)), Y: fnum(y(f)), Title: title})
			continue
		}
		top, bottom := y(math.Max(f, 0)), y(math.Min(f, 0))
		c.Marks = append(c.Marks, chartMark{
			X:      fnum(chartPadding + slot*float64(i) + slot*0.1),
			Y:      fnum(top),
			Width:  fnum(slot * 0.8),
			Height: fnum(bottom - top),
			Title:  title,
		})
	}
	c.Line = strings.Join(points, " ")
	for i, l := range labels {
		c.Labels = append(c.Labels, chartMark{X: fnum(center(i)), Title: shorten(l, 12)})
	}
	return c
}

func fnum(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
