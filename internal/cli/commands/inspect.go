package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/cli/output"
	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/prompt"
	"github.com/leapstack-labs/leapdash/internal/sandbox"
)

// InspectOptions holds options for the inspect command.
type InspectOptions struct {
	Description string
	Exploration bool
	Prompt      bool
	Rows        int
}

// InspectOutput is the JSON output of the inspect command.
type InspectOutput struct {
	File      string           `json:"file"`
	Rows      int              `json:"rows"`
	Truncated bool             `json:"truncated"`
	Columns   []ColumnOutput   `json:"columns"`
	Sample    []map[string]any `json:"sample"`
	Prompt    string           `json:"prompt,omitempty"`
}

// ColumnOutput describes one column of an inspected file.
type ColumnOutput struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Summary string `json:"summary"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	opts := &InspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect <file.csv>",
		Short: "Show how a CSV file is loaded and summarized",
		Long: `Load a CSV file the way an upload is loaded and print its schema, the
leading rows and per-column statistics. With --show-prompt the exact prompt
that would be sent to the model is printed as well.`,
		Example: `  # Inspect a file
  leapdash inspect sales.csv

  # Print the prompt for a description
  leapdash inspect sales.csv --show-prompt -d "sales by region"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "Dashboard description used in the prompt")
	cmd.Flags().BoolVar(&opts.Exploration, "exploration", false, "Include the exploration clause in the prompt")
	cmd.Flags().BoolVar(&opts.Prompt, "show-prompt", false, "Print the composed prompt")
	cmd.Flags().IntVarP(&opts.Rows, "rows", "n", 0, "Number of sample rows (default: prompt.sample_rows)")

	return cmd
}

func runInspect(cmd *cobra.Command, path string, opts *InspectOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg, logger, r := cmdCtx.Cfg, cmdCtx.Logger, cmdCtx.Renderer

	loader, err := dataset.NewLoader(dataset.Config{
		MaxRows: cfg.Dataset.MaxRows,
		TempDir: cfg.Dataset.UploadDir,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = loader.Close() }()

	ds, err := loader.LoadFile(cmd.Context(), path)
	if err != nil {
		return err
	}

	rows := opts.Rows
	if rows <= 0 {
		rows = cfg.Prompt.SampleRows
	}
	out := buildInspectOutput(ds, rows)

	if opts.Prompt {
		profile, err := prompt.ProfileByName(cfg.ProfileName())
		if err != nil {
			return err
		}
		req := prompt.NewRequest(ds, opts.Description, opts.Exploration, rows)
		out.Prompt = prompt.NewComposer(profile).Compose(req)
	}

	if r.EffectiveMode() == output.ModeJSON {
		return r.JSON(out)
	}
	renderInspect(r, ds, out)
	return nil
}

func buildInspectOutput(ds *dataset.Dataset, rows int) InspectOutput {
	out := InspectOutput{
		File:      ds.Name,
		Rows:      ds.RowCount,
		Truncated: ds.Truncated,
		Sample:    []map[string]any{},
	}
	for _, s := range sandbox.Summarize(ds) {
		out.Columns = append(out.Columns, ColumnOutput{Name: s.Name, Type: s.Type, Summary: s.String()})
	}
	names := ds.ColumnNames()
	for _, row := range ds.Head(rows) {
		record := make(map[string]any, len(names))
		for i, name := range names {
			record[name] = row[i]
		}
		out.Sample = append(out.Sample, record)
	}
	return out
}

func renderInspect(r *output.Renderer, ds *dataset.Dataset, out InspectOutput) {
	r.Header(1, out.File)
	rowCount := fmt.Sprint(out.Rows)
	if out.Truncated {
		rowCount += " (truncated)"
	}
	r.KeyValues([][2]string{{"Rows", rowCount}, {"Columns", fmt.Sprint(len(out.Columns))}})
	r.Println()

	r.Header(2, "Columns")
	colRows := make([][]string, 0, len(out.Columns))
	for _, c := range out.Columns {
		colRows = append(colRows, []string{c.Name, c.Type, c.Summary})
	}
	r.Table([]string{"Name", "Type", "Summary"}, colRows)
	r.Println()

	r.Header(2, "Sample")
	sample := ds.Head(len(out.Sample))
	cells := make([][]string, 0, len(sample))
	for _, row := range sample {
		line := make([]string, len(row))
		for i, v := range row {
			line[i] = cell(v)
		}
		cells = append(cells, line)
	}
	r.Table(ds.ColumnNames(), cells)

	if out.Prompt != "" {
		r.Println()
		r.Header(2, "Prompt")
		r.Println(strings.TrimRight(out.Prompt, "\n"))
	}
}

func cell(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
