package prompt

import "fmt"

// Profile names accepted by ProfileByName.
const (
	ProfileStarlark = "starlark"
	ProfileShiny    = "shiny"
)

// Starlark targets the in-process dashboard toolkit. The constraint lines
// document the predeclared modules the sandbox exposes.
var Starlark = Profile{
	Name:      ProfileStarlark,
	Framework: "Leapdash",
	Language:  "Starlark",
	Constraints: []string{
		"The generated code should only use the predeclared modules ui, render, reactive and data (do not use load statements, Shiny, Streamlit or any other framework).",
		"Define a top-level app_ui built with ui.page(...) and a top-level function server(input, output). The generated app should be ready to run directly.",
		"Ensure that all required arguments are provided, such as 'choices' for input fields like ui.input_select().",
		"Available UI: ui.page, ui.row, ui.column(width, ...), ui.card(..., title=), ui.header, ui.text, ui.input_select(id, label, choices, selected=None), ui.input_slider(id, label, min, max, value, step=1), ui.input_checkbox(id, label, value=False), ui.input_text(id, label, value=\"\"), ui.output_text(id), ui.output_table(id), ui.output_chart(id).",
		"Inside server, read inputs with input.<id>() and register outputs with output.<id> = render.text(fn), render.table(fn) or render.chart(fn); fn takes no arguments.",
		"The dataset is the predeclared table data with data.columns, data.num_rows, data.rows(), data.head(n), data.column(name), data.unique(name), data.filter(name, value), data.sum(name), data.mean(name), data.min(name), data.max(name) and data.group_sum(by, value).",
		"render.chart functions return a dict mapping labels to numbers; render.table functions return a table or a list of dicts.",
	},
	Exploration: "Include explore.walker(data) in app_ui for interactive data exploration.",
}

// Shiny targets Shiny for Python apps executed as a separate process.
var Shiny = Profile{
	Name:      ProfileShiny,
	Framework: "Shiny for Python",
	Language:  "Python",
	Constraints: []string{
		"The generated code should only use the Shiny for Python framework (do not use Streamlit or any other framework).",
		"Include necessary imports, UI setup, server logic, and a proper execution block. The generated app should be ready to run directly.",
		"Ensure that all required arguments are provided, such as 'choices' for input fields like input_selectize().",
	},
	Exploration: "Include PyGWalker for interactive data exploration.",
}

// ProfileByName resolves a configured profile name.
func ProfileByName(name string) (Profile, error) {
	switch name {
	case ProfileStarlark:
		return Starlark, nil
	case ProfileShiny:
		return Shiny, nil
	default:
		return Profile{}, fmt.Errorf("unknown prompt profile %q (expected %s or %s)", name, ProfileStarlark, ProfileShiny)
	}
}
