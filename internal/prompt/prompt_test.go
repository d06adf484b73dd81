package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTable struct {
	cols []string
	rows [][]any
}

func (f fakeTable) ColumnNames() []string { return f.cols }

func (f fakeTable) Head(n int) [][]any {
	if n > len(f.rows) {
		n = len(f.rows)
	}
	return f.rows[:n]
}

func salesTable() fakeTable {
	return fakeTable{
		cols: []string{"region", "sales"},
		rows: [][]any{
			{"north", int64(10)},
			{"south", int64(20)},
			{"east", 3.5},
			{"west", nil},
			{"north", int64(7)},
			{"south", int64(1)},
		},
	}
}

func TestCompose_Shiny(t *testing.T) {
	c := NewComposer(Shiny)
	req := NewRequest(salesTable(), "Sales by region", false, 2)

	got := c.Compose(req)

	want := "Create a fully functional and executable Shiny for Python app using the Shiny for Python framework in Python.\n" +
		"The generated code should only use the Shiny for Python framework (do not use Streamlit or any other framework).\n" +
		"Include necessary imports, UI setup, server logic, and a proper execution block. The generated app should be ready to run directly.\n" +
		"Ensure that all required arguments are provided, such as 'choices' for input fields like input_selectize().\n" +
		"Description: Sales by region\n" +
		"Data columns: region, sales\n" +
		`First few rows of data: [{"region":"north","sales":10},{"region":"south","sales":20}]` + "\n" +
		"Provide only the Python code necessary to run the Shiny for Python app.\n"
	assert.Equal(t, want, got)
}

func TestCompose_ExplorationClause(t *testing.T) {
	tests := []struct {
		name    string
		profile Profile
		toggle  bool
		clause  string
	}{
		{"shiny on", Shiny, true, "Include PyGWalker for interactive data exploration."},
		{"shiny off", Shiny, false, "Include PyGWalker for interactive data exploration."},
		{"starlark on", Starlark, true, "explore.walker(data)"},
		{"starlark off", Starlark, false, "explore.walker(data)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewComposer(tt.profile).Compose(NewRequest(salesTable(), "x", tt.toggle, 0))
			if tt.toggle {
				assert.Contains(t, got, tt.clause)
			} else {
				assert.NotContains(t, got, tt.clause)
			}
		})
	}
}

func TestCompose_SectionOrder(t *testing.T) {
	got := NewComposer(Starlark).Compose(NewRequest(salesTable(), "my board", true, 0))

	markers := []string{
		"Create a fully functional",
		"Ensure that all required arguments are provided",
		"Description: my board",
		"Data columns: region, sales",
		"First few rows of data:",
		"explore.walker(data)",
		"Provide only the Starlark code",
	}
	last := -1
	for _, m := range markers {
		idx := strings.Index(got, m)
		require.GreaterOrEqual(t, idx, 0, "missing %q", m)
		assert.Greater(t, idx, last, "%q out of order", m)
		last = idx
	}
}

func TestCompose_Deterministic(t *testing.T) {
	c := NewComposer(Starlark)
	req := NewRequest(salesTable(), "", false, 0)
	assert.Equal(t, c.Compose(req), c.Compose(req))
}

func TestNewRequest_DefaultSample(t *testing.T) {
	req := NewRequest(salesTable(), "", false, 0)
	assert.Len(t, req.Sample, DefaultSampleRows)
}

func TestRecords(t *testing.T) {
	tests := []struct {
		name string
		cols []string
		rows [][]any
		want string
	}{
		{"empty", []string{"a"}, nil, "[]"},
		{"keeps column order", []string{"z", "a"}, [][]any{{1, 2}}, `[{"z":1,"a":2}]`},
		{"null and short row", []string{"a", "b"}, [][]any{{nil}}, `[{"a":null,"b":null}]`},
		{"no html escaping", []string{"a"}, [][]any{{"<b>&"}}, `[{"a":"<b>&"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Records(tt.cols, tt.rows))
		})
	}
}

func TestProfileByName(t *testing.T) {
	p, err := ProfileByName("shiny")
	require.NoError(t, err)
	assert.Equal(t, Shiny.Name, p.Name)

	_, err = ProfileByName("streamlit")
	assert.Error(t, err)
}
