package dataset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/testutil"
)

const salesCSV = `region,product,units,price
north,widget,10,2.5
south,gadget,4,10.0
north,gadget,7,10.0
east,widget,1,2.5
`

func newTestLoader(t *testing.T, maxRows int) *Loader {
	t.Helper()
	l, err := NewLoader(Config{MaxRows: maxRows, TempDir: t.TempDir(), Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLoader_Load(t *testing.T) {
	l := newTestLoader(t, 0)

	ds, err := l.Load(context.Background(), strings.NewReader(salesCSV), "sales.csv")
	require.NoError(t, err)

	assert.Equal(t, "sales.csv", ds.Name)
	assert.Equal(t, []string{"region", "product", "units", "price"}, ds.ColumnNames())
	assert.Equal(t, 4, ds.RowCount)
	assert.False(t, ds.Truncated)

	units, ok := ds.Column("units")
	require.True(t, ok)
	assert.Equal(t, "BIGINT", units.Type)
	assert.Equal(t, []any{int64(10), int64(4), int64(7), int64(1)}, units.Values)

	price, ok := ds.Column("price")
	require.True(t, ok)
	assert.Equal(t, "DOUBLE", price.Type)
	assert.Equal(t, 2.5, price.Values[0])

	assert.Equal(t, []any{"north", "widget", int64(10), 2.5}, ds.Row(0))
}

func TestLoader_CreatesTempDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads", "csv")
	l, err := NewLoader(Config{TempDir: dir, Logger: testutil.NewTestLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	ds, err := l.Load(context.Background(), strings.NewReader(salesCSV), "sales.csv")
	require.NoError(t, err)
	assert.Equal(t, 4, ds.RowCount)
	assert.DirExists(t, dir)
}

func TestLoader_LoadFile(t *testing.T) {
	l := newTestLoader(t, 0)
	path := filepath.Join(t.TempDir(), "it's here.csv")
	require.NoError(t, os.WriteFile(path, []byte(salesCSV), 0o600))

	ds, err := l.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "it's here.csv", ds.Name)
	assert.Equal(t, 4, ds.RowCount)
}

func TestLoader_Truncates(t *testing.T) {
	l := newTestLoader(t, 2)

	ds, err := l.Load(context.Background(), strings.NewReader(salesCSV), "sales.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, ds.RowCount)
	assert.True(t, ds.Truncated)
	assert.Len(t, ds.Columns[0].Values, 2)
}

func TestLoader_NullCells(t *testing.T) {
	l := newTestLoader(t, 0)

	ds, err := l.Load(context.Background(), strings.NewReader("a,b\n1,\n2,x\n"), "n.csv")
	require.NoError(t, err)
	b, _ := ds.Column("b")
	assert.Nil(t, b.Values[0])
	assert.Equal(t, "x", b.Values[1])
}

func TestLoader_EmptyFile(t *testing.T) {
	l := newTestLoader(t, 0)

	_, err := l.Load(context.Background(), strings.NewReader(""), "empty.csv")
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "empty.csv", perr.Name)
}

func TestDataset_Head(t *testing.T) {
	ds := &Dataset{
		Columns: []Column{
			{Name: "a", Values: []any{int64(1), int64(2), int64(3)}},
			{Name: "b", Values: []any{"x", "y", "z"}},
		},
		RowCount: 3,
	}

	assert.Equal(t, [][]any{{int64(1), "x"}, {int64(2), "y"}}, ds.Head(2))
	assert.Len(t, ds.Head(10), 3)
	assert.Empty(t, ds.Head(-1))
}

func TestDataset_Select(t *testing.T) {
	ds := &Dataset{
		Name: "d.csv",
		Columns: []Column{
			{Name: "a", Type: "BIGINT", Values: []any{int64(1), int64(2), int64(3)}},
		},
		RowCount: 3,
	}

	sub := ds.Select([]int{2, 0})
	assert.Equal(t, 2, sub.RowCount)
	assert.Equal(t, []any{int64(3), int64(1)}, sub.Columns[0].Values)
	assert.Equal(t, "BIGINT", sub.Columns[0].Type)
}

func TestDataset_Describe(t *testing.T) {
	var empty *Dataset
	assert.Equal(t, "No data loaded.", empty.Describe(true))

	ds := &Dataset{Columns: []Column{{Name: "a"}, {Name: "b"}}, RowCount: 12}
	got := ds.Describe(true)
	assert.Contains(t, got, "- Columns: a, b")
	assert.Contains(t, got, "- Number of rows: 12")
	assert.Contains(t, got, "included: Yes.")
	assert.Contains(t, ds.Describe(false), "included: No.")
}
