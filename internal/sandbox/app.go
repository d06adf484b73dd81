package sandbox

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/a-h/templ"
	"go.starlark.net/starlark"
)

// App is a loaded dashboard: a UI tree plus the outputs registered by server.
// Renders are serialized; an App may be shared between requests.
type App struct {
	mu      sync.Mutex
	sandbox *Sandbox
	page    *Node
	table   *Table
	inputs  []*Node
	input   *Input
	output  *Output
}

func newApp(s *Sandbox, page *Node, table *Table) *App {
	app := &App{
		sandbox: s,
		page:    page,
		table:   table,
		input:   newInput(),
		output:  newOutput(),
	}
	page.Walk(func(n *Node) {
		if n.IsInput() {
			app.inputs = append(app.inputs, n)
			app.input.values[n.ID] = n.Default
		}
	})
	return app
}

// Inputs returns the app's input widgets in page order.
func (a *App) Inputs() []*Node { return a.inputs }

// Outputs returns the ids of the registered outputs, sorted.
func (a *App) Outputs() []string { return a.output.AttrNames() }

// Page returns the root of the UI tree.
func (a *App) Page() *Node { return a.page }

// Render evaluates every output for the given form values and returns the
// app as an HTML fragment. A nil values renders the widget defaults. Output
// failures are rendered in place; only a cancelled ctx is returned as error.
func (a *App) Render(ctx context.Context, values url.Values) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, n := range a.inputs {
		a.input.values[n.ID] = inputValue(n, values)
	}

	pass := &renderPass{calcs: make(map[*Calc]starlark.Value)}
	ids := a.output.AttrNames()
	outputs := make(map[string]templ.Component, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		outputs[id] = a.renderOutput(ctx, id, a.output.renderers[id], pass)
	}
	return renderString(ctx, uiNode(a.page, a.input.values, outputs))
}

func (a *App) renderOutput(ctx context.Context, id string, r *Renderer, pass *renderPass) (c templ.Component) {
	defer func() {
		if rec := recover(); rec != nil {
			c = outputError(fmt.Sprintf("output %s: panic: %v", id, rec))
		}
	}()

	thread, stop := a.sandbox.newThread(ctx, "output."+id)
	defer stop()
	thread.SetLocal(passKey, pass)

	v, err := starlark.Call(thread, r.Fn, nil, nil)
	if err != nil {
		a.sandbox.logger.Debug("output failed", "output", id, "error", err)
		return outputError(fmt.Sprintf("output %s: %v", id, err))
	}

	switch r.Kind {
	case RenderText:
		return outputText(display(v))
	case RenderTable:
		c, err = tableOutput(v)
	case RenderChart:
		c, err = chartOutput(r.Chart, v)
	case RenderUI:
		c, err = a.uiOutput(v)
	default:
		err = fmt.Errorf("unknown renderer %s", r.Kind)
	}
	if err != nil {
		return outputError(fmt.Sprintf("output %s: %v", id, err))
	}
	return c
}

// uiOutput renders a render.ui result: a node, a string, or a list of them.
func (a *App) uiOutput(v starlark.Value) (templ.Component, error) {
	kids, err := children("render.ui", starlark.Tuple{v})
	if err != nil {
		return nil, err
	}
	return uiChildren(&Node{Children: kids}, a.input.values, nil), nil
}

// inputValue converts a submitted form value for n, falling back to the
// widget default when the value is absent or malformed.
func inputValue(n *Node, values url.Values) starlark.Value {
	if values == nil {
		return n.Default
	}
	raw, present := values[n.ID]
	if n.Kind == KindCheckbox {
		if !present || len(raw) == 0 {
			return starlark.False
		}
		switch strings.ToLower(raw[0]) {
		case "", "false", "off", "0":
			return starlark.False
		}
		return starlark.True
	}
	if !present || len(raw) == 0 {
		return n.Default
	}
	s := raw[0]

	switch n.Kind {
	case KindSelect:
		if slices.Contains(n.Choices, s) {
			return starlark.String(s)
		}
		return n.Default
	case KindTextInput:
		return starlark.String(s)
	case KindSlider:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) {
			return n.Default
		}
		f = math.Max(n.Min, math.Min(n.Max, f))
		return numberLike(n, f)
	case KindNumeric:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return n.Default
		}
		return numberLike(n, f)
	}
	return n.Default
}

// numberLike keeps integer widgets integral so generated code can use the
// value as an index or in range().
func numberLike(n *Node, f float64) starlark.Value {
	_, isInt := n.Default.(starlark.Int)
	if isInt && n.Step == math.Trunc(n.Step) && f == math.Trunc(f) {
		return starlark.MakeInt64(int64(f))
	}
	return starlark.Float(f)
}

// InputSummary lists the widgets and their defaults, one per line.
func (a *App) InputSummary() string {
	lines := make([]string, 0, len(a.inputs))
	for _, n := range a.inputs {
		lines = append(lines, fmt.Sprintf("%s (%s) = %s", n.ID, n.Kind, display(n.Default)))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
