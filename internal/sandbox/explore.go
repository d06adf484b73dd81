package sandbox

import (
	"fmt"
	"math"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/leapstack-labs/leapdash/internal/dataset"
)

// walkerPreviewRows caps the rows shown below a walker's column summary.
const walkerPreviewRows = 100

// newExploreModule builds the "explore" module, predeclared only when
// interactive exploration was requested.
func newExploreModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "explore",
		Members: starlark.StringDict{
			"walker": starlark.NewBuiltin("explore.walker", exploreWalker),
		},
	}
}

func exploreWalker(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var t *Table
	var title string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "table", &t, "title?", &title); err != nil {
		return nil, err
	}
	if title == "" {
		title = "Explore data"
	}
	return &Node{Kind: KindWalker, Label: title, Table: t}, nil
}

// ColumnSummary describes one column in the exploration panel.
type ColumnSummary struct {
	Name    string
	Type    string
	NonNull int
	Unique  int
	Numeric bool
	Min     float64
	Max     float64
	Mean    float64
}

// Summarize computes per-column statistics for ds.
func Summarize(ds *dataset.Dataset) []ColumnSummary {
	out := make([]ColumnSummary, 0, len(ds.Columns))
	for _, c := range ds.Columns {
		s := ColumnSummary{Name: c.Name, Type: c.Type, Numeric: true}
		seen := make(map[string]struct{})
		lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
		numbers := 0
		for _, v := range c.Values {
			if v == nil {
				continue
			}
			s.NonNull++
			seen[display(v)] = struct{}{}
			f, ok := toFloat(v)
			if !ok {
				s.Numeric = false
				continue
			}
			numbers++
			sum += f
			lo = math.Min(lo, f)
			hi = math.Max(hi, f)
		}
		s.Unique = len(seen)
		if numbers == 0 {
			s.Numeric = false
		}
		if s.Numeric {
			s.Min, s.Max, s.Mean = lo, hi, sum/float64(numbers)
		}
		out = append(out, s)
	}
	return out
}

// String renders the summary for the explorer table.
func (s ColumnSummary) String() string {
	if !s.Numeric {
		return fmt.Sprintf("%s (%s): %d values, %d unique", s.Name, s.Type, s.NonNull, s.Unique)
	}
	return fmt.Sprintf("%s (%s): %d values, min %s, max %s, mean %s",
		s.Name, s.Type, s.NonNull, display(s.Min), display(s.Max), display(math.Round(s.Mean*100)/100))
}
