package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/cli/output"
	"github.com/leapstack-labs/leapdash/internal/runner"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Exploration bool
	HTML        bool
	Detach      bool
	Inputs      []string
}

// RunOutput is the JSON output of the run command.
type RunOutput struct {
	Script   string `json:"script"`
	Mode     string `json:"mode"`
	State    string `json:"state"`
	Inputs   string `json:"inputs,omitempty"`
	HTML     string `json:"html,omitempty"`
	Preview  string `json:"preview,omitempty"`
	PID      int    `json:"pid,omitempty"`
	LogPath  string `json:"log_path,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run <app.py> <file.csv>",
		Short: "Execute a previously generated app against a CSV file",
		Long: `Execute an app written by generate, or downloaded from the UI, with the
configured execution strategy.

In-process apps are rendered once with their default inputs (override with
--set). Process apps are started and awaited unless --detach is given.`,
		Example: `  # Render an in-process app with a different selection
  leapdash run sales_app.py sales.csv --set region=south

  # Start a Shiny app and leave it running
  leapdash run sales_app.py sales.csv --mode process --detach`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], args[1], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Exploration, "exploration", false, "Enable the data exploration widget")
	cmd.Flags().BoolVar(&opts.HTML, "html", false, "Print the rendered HTML instead of a markdown preview")
	cmd.Flags().BoolVar(&opts.Detach, "detach", false, "Do not wait for a process app to exit")
	cmd.Flags().StringArrayVar(&opts.Inputs, "set", nil, "Input value as id=value (repeatable)")

	return cmd
}

func runRun(cmd *cobra.Command, scriptPath, csvPath string, opts *RunOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg, logger, r := cmdCtx.Cfg, cmdCtx.Logger, cmdCtx.Renderer
	ctx := cmd.Context()

	values, err := parseAssignments(opts.Inputs)
	if err != nil {
		return err
	}
	code, err := os.ReadFile(scriptPath) //nolint:gosec // user-supplied script
	if err != nil {
		return err
	}

	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	ds, err := pipeline.Loader.LoadFile(ctx, csvPath)
	if err != nil {
		return err
	}

	exits := make(chan runner.Exit, 1)
	res := pipeline.Dispatcher.Dispatch(ctx, runner.Job{
		GenerationID: uuid.NewString(),
		Code:         string(code),
		Dataset:      ds,
		Exploration:  opts.Exploration,
		OnExit:       func(e runner.Exit) { exits <- e },
	})

	out := RunOutput{
		Script:  scriptPath,
		Mode:    string(res.Mode),
		State:   res.State.String(),
		PID:     res.PID,
		LogPath: res.LogPath,
		Error:   res.Message,
	}

	switch {
	case res.State == runner.StateFailed:
	case res.App != nil:
		out.Inputs = res.App.InputSummary()
		if opts.HTML {
			out.HTML, err = res.App.Render(ctx, values)
		} else {
			out.Preview, err = previewApp(ctx, res.App, values)
		}
		if err != nil {
			return err
		}
	case res.Mode == runner.ModeProcess && !opts.Detach:
		if r.EffectiveMode() != output.ModeJSON {
			r.Println(r.Muted(fmt.Sprintf("App running with PID %d, logging to %s", res.PID, res.LogPath)))
		}
		e, err := awaitExit(ctx, exits)
		if err != nil {
			return err
		}
		out.State = runner.StateExited.String()
		out.ExitCode = &e.Code
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(out); err != nil {
			return err
		}
	} else {
		renderRun(r, out)
	}

	if res.State == runner.StateFailed {
		if res.Err != nil {
			return fmt.Errorf("%s: %w", res.Message, res.Err)
		}
		return errors.New(res.Message)
	}
	if out.ExitCode != nil && *out.ExitCode != 0 {
		return fmt.Errorf("app exited with code %d", *out.ExitCode)
	}
	return nil
}

func awaitExit(ctx context.Context, exits <-chan runner.Exit) (runner.Exit, error) {
	select {
	case e := <-exits:
		return e, nil
	case <-ctx.Done():
		return runner.Exit{}, ctx.Err()
	}
}

func renderRun(r *output.Renderer, out RunOutput) {
	pairs := [][2]string{{"Script", out.Script}, {"Mode", out.Mode}, {"State", out.State}}
	if out.PID > 0 {
		pairs = append(pairs, [2]string{"PID", fmt.Sprint(out.PID)}, [2]string{"Log", out.LogPath})
	}
	if out.ExitCode != nil {
		pairs = append(pairs, [2]string{"Exit code", fmt.Sprint(*out.ExitCode)})
	}
	r.KeyValues(pairs)

	if out.Inputs != "" {
		r.Println()
		r.Header(2, "Inputs")
		r.Println(out.Inputs)
	}
	switch {
	case out.HTML != "":
		r.Println()
		r.Println(out.HTML)
	case out.Preview != "":
		r.Println()
		r.Header(2, "Preview")
		r.Println(out.Preview)
	}
	if out.Error != "" {
		r.Error(out.Error)
	}
}
