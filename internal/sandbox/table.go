package sandbox

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapdash/internal/dataset"
)

// Table exposes a dataset to generated code as the predeclared "data".
// Tables are immutable; every transforming method returns a new Table.
type Table struct {
	ds *dataset.Dataset
}

var (
	_ starlark.HasAttrs  = (*Table)(nil)
	_ starlark.Sequence  = (*Table)(nil)
	_ starlark.Value     = (*Table)(nil)
	_ starlark.Indexable = (*Table)(nil)
)

// NewTable wraps ds.
func NewTable(ds *dataset.Dataset) *Table {
	if ds == nil {
		ds = &dataset.Dataset{}
	}
	return &Table{ds: ds}
}

// Dataset returns the wrapped dataset.
func (t *Table) Dataset() *dataset.Dataset { return t.ds }

func (t *Table) String() string {
	return fmt.Sprintf("<table %d rows x %d columns>", t.ds.RowCount, len(t.ds.Columns))
}
func (t *Table) Type() string          { return "table" }
func (t *Table) Freeze()               {}
func (t *Table) Truth() starlark.Bool  { return t.ds.RowCount > 0 }
func (t *Table) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: table") }
func (t *Table) Len() int              { return t.ds.RowCount }

// Index returns row i as a dict.
func (t *Table) Index(i int) starlark.Value { return t.rowDict(i) }

// Iterate yields rows as dicts.
func (t *Table) Iterate() starlark.Iterator { return &rowIterator{t: t} }

type rowIterator struct {
	t *Table
	i int
}

func (it *rowIterator) Next(p *starlark.Value) bool {
	if it.i >= it.t.ds.RowCount {
		return false
	}
	*p = it.t.rowDict(it.i)
	it.i++
	return true
}

func (it *rowIterator) Done() {}

var tableMethods = map[string]*starlark.Builtin{
	"rows":        starlark.NewBuiltin("rows", tableRows),
	"head":        starlark.NewBuiltin("head", tableHead),
	"column":      starlark.NewBuiltin("column", tableColumn),
	"unique":      starlark.NewBuiltin("unique", tableUnique),
	"filter":      starlark.NewBuiltin("filter", tableFilter),
	"where":       starlark.NewBuiltin("where", tableWhere),
	"sort":        starlark.NewBuiltin("sort", tableSort),
	"limit":       starlark.NewBuiltin("limit", tableLimit),
	"select":      starlark.NewBuiltin("select", tableSelect),
	"sum":         starlark.NewBuiltin("sum", tableAggregate(aggSum)),
	"mean":        starlark.NewBuiltin("mean", tableAggregate(aggMean)),
	"min":         starlark.NewBuiltin("min", tableAggregate(aggMin)),
	"max":         starlark.NewBuiltin("max", tableAggregate(aggMax)),
	"count":       starlark.NewBuiltin("count", tableCount),
	"group_sum":   starlark.NewBuiltin("group_sum", tableGroup(aggSum)),
	"group_mean":  starlark.NewBuiltin("group_mean", tableGroup(aggMean)),
	"group_count": starlark.NewBuiltin("group_count", tableGroupCount),
}

// Attr implements starlark.HasAttrs.
func (t *Table) Attr(name string) (starlark.Value, error) {
	switch name {
	case "columns":
		names := t.ds.ColumnNames()
		list := make([]starlark.Value, len(names))
		for i, n := range names {
			list[i] = starlark.String(n)
		}
		return starlark.NewList(list), nil
	case "num_rows":
		return starlark.MakeInt(t.ds.RowCount), nil
	}
	if m, ok := tableMethods[name]; ok {
		return m.BindReceiver(t), nil
	}
	return nil, nil
}

// AttrNames implements starlark.HasAttrs.
func (t *Table) AttrNames() []string {
	names := []string{"columns", "num_rows"}
	for name := range tableMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) rowDict(i int) *starlark.Dict {
	d := starlark.NewDict(len(t.ds.Columns))
	for _, c := range t.ds.Columns {
		_ = d.SetKey(starlark.String(c.Name), cellValue(c.Values[i]))
	}
	return d
}

func (t *Table) column(name string) (*dataset.Column, error) {
	c, ok := t.ds.Column(name)
	if !ok {
		return nil, fmt.Errorf("no column named %q (columns: %v)", name, t.ds.ColumnNames())
	}
	return c, nil
}

func (t *Table) selectRows(keep func(i int) bool) *Table {
	var rows []int
	for i := 0; i < t.ds.RowCount; i++ {
		if keep(i) {
			rows = append(rows, i)
		}
	}
	return &Table{ds: t.ds.Select(rows)}
}

func receiver(b *starlark.Builtin) *Table {
	return b.Receiver().(*Table)
}

func tableRows(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	t := receiver(b)
	out := make([]starlark.Value, t.ds.RowCount)
	for i := range out {
		out[i] = t.rowDict(i)
	}
	return starlark.NewList(out), nil
}

func tableHead(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	n := 5
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n?", &n); err != nil {
		return nil, err
	}
	t := receiver(b)
	if n > t.ds.RowCount {
		n = t.ds.RowCount
	}
	if n < 0 {
		n = 0
	}
	out := make([]starlark.Value, n)
	for i := range out {
		out[i] = t.rowDict(i)
	}
	return starlark.NewList(out), nil
}

func tableColumn(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	c, err := receiver(b).column(name)
	if err != nil {
		return nil, err
	}
	out := make([]starlark.Value, len(c.Values))
	for i, v := range c.Values {
		out[i] = cellValue(v)
	}
	return starlark.NewList(out), nil
}

func tableUnique(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	c, err := receiver(b).column(name)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var values []any
	numeric := true
	for _, v := range c.Values {
		if v == nil {
			continue
		}
		key := display(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, v)
		if _, ok := toFloat(v); !ok {
			numeric = false
		}
	}

	sort.SliceStable(values, func(i, j int) bool {
		if numeric {
			x, _ := toFloat(values[i])
			y, _ := toFloat(values[j])
			return x < y
		}
		return display(values[i]) < display(values[j])
	})

	out := make([]starlark.Value, len(values))
	for i, v := range values {
		out[i] = cellValue(v)
	}
	return starlark.NewList(out), nil
}

// matches compares a cell to a Starlark value. Numbers compare numerically;
// anything else compares by display form so that string inputs from select
// widgets match numeric or boolean cells.
func matches(cell any, want starlark.Value) bool {
	if want == starlark.None {
		return cell == nil
	}
	if cell == nil {
		return false
	}
	if a, ok := toFloat(cell); ok {
		if b, ok := toFloat(want); ok {
			return a == b
		}
	}
	return display(cell) == display(want)
}

func tableFilter(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "value", &value); err != nil {
		return nil, err
	}
	t := receiver(b)
	c, err := t.column(name)
	if err != nil {
		return nil, err
	}

	var wants []starlark.Value
	switch v := value.(type) {
	case *starlark.List:
		for i := 0; i < v.Len(); i++ {
			wants = append(wants, v.Index(i))
		}
	case starlark.Tuple:
		wants = append(wants, v...)
	default:
		wants = []starlark.Value{value}
	}

	return t.selectRows(func(i int) bool {
		for _, w := range wants {
			if matches(c.Values[i], w) {
				return true
			}
		}
		return false
	}), nil
}

func tableWhere(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, op string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "op", &op, "value", &value); err != nil {
		return nil, err
	}
	t := receiver(b)
	c, err := t.column(name)
	if err != nil {
		return nil, err
	}

	var cmp func(int) bool
	switch op {
	case "==":
		cmp = func(r int) bool { return r == 0 }
	case "!=":
		cmp = func(r int) bool { return r != 0 }
	case "<":
		cmp = func(r int) bool { return r < 0 }
	case "<=":
		cmp = func(r int) bool { return r <= 0 }
	case ">":
		cmp = func(r int) bool { return r > 0 }
	case ">=":
		cmp = func(r int) bool { return r >= 0 }
	default:
		return nil, fmt.Errorf("%s: unsupported operator %q", b.Name(), op)
	}

	return t.selectRows(func(i int) bool {
		cell := c.Values[i]
		if cell == nil {
			return false
		}
		return cmp(compare(cell, value))
	}), nil
}

// compare orders a cell against a Starlark value, numerically when both are
// numbers and by display form otherwise.
func compare(cell any, v any) int {
	if a, ok := toFloat(cell); ok {
		if b, ok := toFloat(v); ok {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			}
			return 0
		}
	}
	a, b := display(cell), display(v)
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func tableSort(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	reverse := false
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "reverse?", &reverse); err != nil {
		return nil, err
	}
	t := receiver(b)
	c, err := t.column(name)
	if err != nil {
		return nil, err
	}

	rows := make([]int, t.ds.RowCount)
	for i := range rows {
		rows[i] = i
	}
	sort.SliceStable(rows, func(i, j int) bool {
		x, y := c.Values[rows[i]], c.Values[rows[j]]
		// Nulls sort last in both directions.
		if x == nil || y == nil {
			return x != nil && y == nil
		}
		if reverse {
			return compare(x, y) > 0
		}
		return compare(x, y) < 0
	})
	return &Table{ds: t.ds.Select(rows)}, nil
}

func tableLimit(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var n int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "n", &n); err != nil {
		return nil, err
	}
	t := receiver(b)
	return t.selectRows(func(i int) bool { return i < n }), nil
}

func tableSelect(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	t := receiver(b)
	out := &dataset.Dataset{Name: t.ds.Name, RowCount: t.ds.RowCount, Truncated: t.ds.Truncated}
	for _, arg := range args {
		name, ok := starlark.AsString(arg)
		if !ok {
			return nil, fmt.Errorf("%s: column names must be strings, got %s", b.Name(), arg.Type())
		}
		c, err := t.column(name)
		if err != nil {
			return nil, err
		}
		out.Columns = append(out.Columns, *c)
	}
	return &Table{ds: out}, nil
}

func tableCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.MakeInt(receiver(b).ds.RowCount), nil
}

type aggregate func(values []float64) starlark.Value

func aggSum(values []float64) starlark.Value {
	var s float64
	for _, v := range values {
		s += v
	}
	return number(s)
}

func aggMean(values []float64) starlark.Value {
	if len(values) == 0 {
		return starlark.None
	}
	var s float64
	for _, v := range values {
		s += v
	}
	return starlark.Float(s / float64(len(values)))
}

func aggMin(values []float64) starlark.Value {
	if len(values) == 0 {
		return starlark.None
	}
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return number(m)
}

func aggMax(values []float64) starlark.Value {
	if len(values) == 0 {
		return starlark.None
	}
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return number(m)
}

// number returns an Int for integral values and a Float otherwise.
func number(f float64) starlark.Value {
	if f < 1<<53 && f > -(1<<53) && f == math.Trunc(f) {
		return starlark.MakeInt64(int64(f))
	}
	return starlark.Float(f)
}

func numericValues(c *dataset.Column, rows []int) []float64 {
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if f, ok := toFloat(c.Values[r]); ok {
			out = append(out, f)
		}
	}
	return out
}

func allRows(n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return rows
}

func tableAggregate(agg aggregate) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
			return nil, err
		}
		t := receiver(b)
		c, err := t.column(name)
		if err != nil {
			return nil, err
		}
		return agg(numericValues(c, allRows(t.ds.RowCount))), nil
	}
}

// groups partitions rows by the display value of column by, in order of
// first appearance.
func groups(c *dataset.Column, n int) ([]string, map[string][]int) {
	var order []string
	idx := make(map[string][]int)
	for i := 0; i < n; i++ {
		key := display(c.Values[i])
		if _, ok := idx[key]; !ok {
			order = append(order, key)
		}
		idx[key] = append(idx[key], i)
	}
	return order, idx
}

func tableGroup(agg aggregate) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var by, value string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by, "value", &value); err != nil {
			return nil, err
		}
		t := receiver(b)
		byCol, err := t.column(by)
		if err != nil {
			return nil, err
		}
		valCol, err := t.column(value)
		if err != nil {
			return nil, err
		}

		order, idx := groups(byCol, t.ds.RowCount)
		out := starlark.NewDict(len(order))
		for _, key := range order {
			if err := out.SetKey(starlark.String(key), agg(numericValues(valCol, idx[key]))); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

func tableGroupCount(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var by string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "by", &by); err != nil {
		return nil, err
	}
	t := receiver(b)
	byCol, err := t.column(by)
	if err != nil {
		return nil, err
	}

	order, idx := groups(byCol, t.ds.RowCount)
	out := starlark.NewDict(len(order))
	for _, key := range order {
		if err := out.SetKey(starlark.String(key), starlark.MakeInt(len(idx[key]))); err != nil {
			return nil, err
		}
	}
	return out, nil
}
