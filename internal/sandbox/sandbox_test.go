package sandbox

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/testutil"
)

const salesApp = `
app_ui = ui.page(
    ui.header("Sales"),
    ui.row(
        ui.column(4,
            ui.input_select("region", "Region", data.unique("region")),
            ui.input_slider("top", "Top rows", 1, 10, 3),
            ui.input_checkbox("details", "Show details", True),
        ),
        ui.column(8,
            ui.output_text("total"),
            ui.output_chart("by_region"),
            ui.output_table("rows"),
        ),
    ),
    title = "Sales dashboard",
)

def server(input, output):
    selected = reactive.calc(lambda: data.filter("region", input.region()))

    def total():
        return "Total: %d" % selected().sum("sales")

    output.total = render.text(total)
    output.by_region = render.chart(lambda: data.group_sum("region", "sales"))
    output["rows"] = render.table(lambda: selected().limit(input.top()))

if __name__ == "__main__":
    print("running")
`

func load(t *testing.T, code string, opts ...Option) (*App, error) {
	t.Helper()
	opts = append([]Option{WithLogger(testutil.NewTestLogger(t))}, opts...)
	return New(opts...).Load(context.Background(), code, salesData())
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_ValidApp(t *testing.T) {
	app, err := load(t, salesApp)
	require.NoError(t, err)

	var ids []string
	for _, n := range app.Inputs() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"region", "top", "details"}, ids)
	assert.Equal(t, []string{"by_region", "rows", "total"}, app.Outputs())
	assert.Equal(t, KindPage, app.Page().Kind)
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		stage   string
		missing bool
	}{
		{
			name:  "syntax error",
			code:  "app_ui = ui.page(\n",
			stage: StageCompile,
		},
		{
			name:  "undefined name",
			code:  "app_ui = streamlit.title('x')\n",
			stage: StageCompile,
		},
		{
			name:  "runtime error",
			code:  "x = 1 // 0\n",
			stage: StageExecute,
		},
		{
			name:  "load statement",
			code:  "load('os.star', 'system')\napp_ui = ui.page()\ndef server(input, output):\n    pass\n",
			stage: StageExecute,
		},
		{
			name:    "missing app_ui",
			code:    "def server(input, output):\n    pass\n",
			stage:   StageBind,
			missing: true,
		},
		{
			name:    "missing server",
			code:    "app_ui = ui.page()\n",
			stage:   StageBind,
			missing: true,
		},
		{
			name:  "app_ui wrong type",
			code:  "app_ui = 'page'\ndef server(input, output):\n    pass\n",
			stage: StageBind,
		},
		{
			name:  "server fails",
			code:  "app_ui = ui.page()\ndef server(input, output):\n    output.x = 1\n",
			stage: StageServer,
		},
		{
			name:  "unknown input",
			code:  "app_ui = ui.page()\ndef server(input, output):\n    input.nope()\n",
			stage: StageServer,
		},
		{
			name:  "select without choices",
			code:  "app_ui = ui.page(ui.input_select('a', 'A', []))\n",
			stage: StageExecute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, err := load(t, tt.code)
			require.Error(t, err)
			assert.Nil(t, app)

			var appErr *AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.stage, appErr.Stage)
			assert.Equal(t, tt.missing, errors.Is(err, ErrMissingBinding))
		})
	}
}

func TestLoad_StepLimit(t *testing.T) {
	code := "def spin():\n    while True:\n        pass\nspin()\n"
	_, err := load(t, code, WithMaxSteps(10_000))

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, StageExecute, appErr.Stage)
	assert.Contains(t, err.Error(), "too many steps")
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	code := "def spin():\n    while True:\n        pass\nspin()\n"
	_, err := New().Load(ctx, code, salesData())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context canceled")
}

func TestLoad_ExplorationModule(t *testing.T) {
	code := "app_ui = ui.page(explore.walker(data))\ndef server(input, output, session):\n    pass\n"

	_, err := load(t, code)
	require.Error(t, err, "explore must not be predeclared without exploration")

	app, err := load(t, code, WithExploration(true))
	require.NoError(t, err)
	html, err := app.Render(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, html, "Explore data")
	assert.Contains(t, html, "<td>region</td><td>VARCHAR</td><td>4</td><td>3</td>")
	assert.Contains(t, html, "First 4 rows")
}

func TestPredeclared_OnlyAllowListed(t *testing.T) {
	env := New().Predeclared(NewTable(salesData()))
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"__name__", "data", "ui", "render", "reactive"}, names)
}

// =============================================================================
// Render
// =============================================================================

func TestRender_Defaults(t *testing.T) {
	app, err := load(t, salesApp)
	require.NoError(t, err)

	html, err := app.Render(context.Background(), nil)
	require.NoError(t, err)

	assert.Contains(t, html, "<h1>Sales dashboard</h1>")
	assert.Contains(t, html, `<option value="east" selected>east</option>`)
	assert.Contains(t, html, "Total: 0")
	assert.Contains(t, html, `<input type="checkbox" name="details" value="on" checked>`)
	assert.Contains(t, html, `<svg class="app-chart"`)
	assert.Contains(t, html, "<title>south: 20</title>")
	assert.Contains(t, html, `<div class="app-output" id="output-rows"><table class="app-table">`)
}

func TestRender_FormValues(t *testing.T) {
	app, err := load(t, salesApp)
	require.NoError(t, err)

	html, err := app.Render(context.Background(), url.Values{
		"region": {"north"},
		"top":    {"1"},
	})
	require.NoError(t, err)

	assert.Contains(t, html, `<option value="north" selected>north</option>`)
	assert.Contains(t, html, "Total: 15")
	assert.NotContains(t, html, " checked>", "absent checkbox means unchecked")
	rows := html[strings.Index(html, `id="output-rows"`):]
	assert.Equal(t, 2, strings.Count(rows, "<tr>"), "header plus one limited row")
}

func TestRender_InvalidValuesFallBack(t *testing.T) {
	app, err := load(t, salesApp)
	require.NoError(t, err)

	html, err := app.Render(context.Background(), url.Values{
		"region": {"atlantis"},
		"top":    {"lots"},
	})
	require.NoError(t, err)
	assert.Contains(t, html, `<option value="east" selected>east</option>`)
	assert.Contains(t, html, `name="top" min="1" max="10" step="1" value="3"`)
}

func TestRender_SliderClamped(t *testing.T) {
	app, err := load(t, salesApp)
	require.NoError(t, err)

	html, err := app.Render(context.Background(), url.Values{"top": {"99"}})
	require.NoError(t, err)
	assert.Contains(t, html, `value="10"`)
}

func TestRender_OutputErrorsInline(t *testing.T) {
	code := `
app_ui = ui.page(ui.output_text("boom"), ui.output_text("ok"))

def server(input, output):
    output.boom = render.text(lambda: 1 // 0)
    output.ok = render.text(lambda: "<b>fine</b>")
`
	app, err := load(t, code)
	require.NoError(t, err)

	html, err := app.Render(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, html, `<div class="app-error">output boom:`)
	assert.Contains(t, html, "&lt;b&gt;fine&lt;/b&gt;", "output text is escaped")
}

func TestRender_CalcRunsOncePerPass(t *testing.T) {
	code := `
calls = reactive.value(0)

def expensive():
    calls.set(calls() + 1)
    return data.sum("sales")

app_ui = ui.page(ui.output_text("a"), ui.output_text("b"), ui.output_text("calls"))

def server(input, output):
    shared = reactive.calc(expensive)
    output.a = render.text(lambda: shared())
    output.b = render.text(lambda: shared())
    output.calls = render.text(lambda: calls())
`
	app, err := load(t, code)
	require.NoError(t, err)

	_, err = app.Render(context.Background(), nil)
	require.NoError(t, err)
	html, err := app.Render(context.Background(), nil)
	require.NoError(t, err)

	// Outputs render in id order: a, b, calls. One evaluation per pass.
	assert.Contains(t, html, `id="output-calls"><pre class="app-output-text">2</pre>`)
}

func TestRender_UIOutput(t *testing.T) {
	code := `
app_ui = ui.page(ui.input_text("name", "Name", "world"), ui.output_ui("greeting"))

def server(input, output):
    output.greeting = render.ui(lambda: ui.card(ui.text("Hello " + input.name()), title = "Greeting"))
`
	app, err := load(t, code)
	require.NoError(t, err)

	html, err := app.Render(context.Background(), url.Values{"name": {"Ada"}})
	require.NoError(t, err)
	assert.Contains(t, html, `<section class="app-card"><h3>Greeting</h3><p>Hello Ada</p></section>`)
}

func TestRender_LineChart(t *testing.T) {
	code := `
app_ui = ui.page(ui.output_chart("trend"))

def server(input, output):
    output.trend = render.chart(lambda: {"labels": ["a", "b"], "values": [1, 3]}, kind = "line")
`
	app, err := load(t, code)
	require.NoError(t, err)

	html, err := app.Render(context.Background(), nil)
	require.NoError(t, err)
	assert.Contains(t, html, `<polyline class="series"`)
	assert.Contains(t, html, "<title>b: 3</title>")
}
