package sandbox

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Renderer kinds.
const (
	RenderText  = "text"
	RenderTable = "table"
	RenderChart = "chart"
	RenderUI    = "ui"
)

// Chart styles accepted by render.chart.
const (
	ChartBar  = "bar"
	ChartLine = "line"
)

// Renderer binds an output to the function computing its content.
type Renderer struct {
	Kind  string
	Chart string
	Fn    starlark.Callable
}

func (r *Renderer) String() string        { return fmt.Sprintf("<render.%s %s>", r.Kind, r.Fn.Name()) }
func (r *Renderer) Type() string          { return "render." + r.Kind }
func (r *Renderer) Freeze()               {}
func (r *Renderer) Truth() starlark.Bool  { return true }
func (r *Renderer) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: %s", r.Type()) }

func newRenderModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "render",
		Members: starlark.StringDict{
			"text":  starlark.NewBuiltin("render.text", renderer(RenderText)),
			"table": starlark.NewBuiltin("render.table", renderer(RenderTable)),
			"ui":    starlark.NewBuiltin("render.ui", renderer(RenderUI)),
			"chart": starlark.NewBuiltin("render.chart", renderChart),
		},
	}
}

func renderer(kind string) builtinFunc {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var fn starlark.Callable
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "fn", &fn); err != nil {
			return nil, err
		}
		return &Renderer{Kind: kind, Fn: fn}, nil
	}
}

func renderChart(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var fn starlark.Callable
	kind := ChartBar
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "fn", &fn, "kind?", &kind); err != nil {
		return nil, err
	}
	if kind != ChartBar && kind != ChartLine {
		return nil, fmt.Errorf("%s: kind must be %q or %q, got %q", b.Name(), ChartBar, ChartLine, kind)
	}
	return &Renderer{Kind: RenderChart, Chart: kind, Fn: fn}, nil
}
