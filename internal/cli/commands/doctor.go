package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/leapdash/internal/artifact"
	"github.com/leapstack-labs/leapdash/internal/cli/config"
	"github.com/leapstack-labs/leapdash/internal/cli/output"
	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/session"
)

// Check statuses.
const (
	StatusPass  = "pass"
	StatusWarn  = "warn"
	StatusError = "error"
)

// doctorApp is dispatched in-process to verify the sandbox.
const doctorApp = `app_ui = ui.page(ui.output_text("rows"))

def server(input, output):
    output.rows = render.text(lambda: data.num_rows)
`

// DoctorOptions holds options for the doctor command.
type DoctorOptions struct {
	Offline bool
}

// DoctorOutput is the JSON output of the doctor command.
type DoctorOutput struct {
	Checks []Check `json:"checks"`
	Errors int     `json:"errors"`
	Warns  int     `json:"warnings"`
}

// Check is the result of one environment check.
type Check struct {
	Group  string `json:"group"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand() *cobra.Command {
	opts := &DoctorOptions{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check that leapdash can generate and run apps",
		Long: `Verify the environment leapdash depends on:
- Configuration file and session secret
- Model endpoint reachability and model availability
- CSV loading and writable artifact and upload directories
- The configured execution strategy

Output adapts to environment:
  - Terminal: Styled output with colors
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Run all checks
  leapdash doctor

  # Skip the model endpoint
  leapdash doctor --offline -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Skip the model endpoint check")

	return cmd
}

func runDoctor(cmd *cobra.Command, opts *DoctorOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg, r := cmdCtx.Cfg, cmdCtx.Renderer
	ctx := cmd.Context()

	checks := []Check{configFileCheck(cfg), secretCheck(cfg)}
	if !opts.Offline {
		checks = append(checks, modelCheck(ctx, cmdCtx))
	}
	checks = append(checks,
		loaderCheck(ctx, cmdCtx),
		writableCheck("artifact directory", artifact.NewPersister(artifact.Config{Dir: cfg.Artifact.Dir}).Dir()),
		writableCheck("upload directory", cfg.Dataset.UploadDir),
		executionCheck(ctx, cmdCtx),
	)

	out := DoctorOutput{Checks: checks}
	for _, c := range checks {
		switch c.Status {
		case StatusError:
			out.Errors++
		case StatusWarn:
			out.Warns++
		}
	}

	var err error
	switch r.EffectiveMode() {
	case output.ModeJSON:
		err = r.JSON(out)
	case output.ModeMarkdown:
		renderDoctorMarkdown(r, out)
	default:
		renderDoctorText(r, out)
	}
	if err != nil {
		return err
	}
	if out.Errors > 0 {
		return fmt.Errorf("%d check(s) failed", out.Errors)
	}
	return nil
}

func configFileCheck(cfg *config.Config) Check {
	c := Check{Group: "configuration", Name: "config file", Status: StatusPass}
	if cfg.File == "" {
		c.Detail = "no " + config.ConfigFileName + " found, using defaults"
	} else {
		c.Detail = cfg.File
	}
	return c
}

func secretCheck(cfg *config.Config) Check {
	c := Check{Group: "configuration", Name: "session secret", Status: StatusPass}
	if cfg.UI.SessionSecret == config.DefaultSecret {
		c.Status = StatusWarn
		c.Detail = "the built-in development secret is in use; set ui.session_secret"
	}
	return c
}

func modelCheck(ctx context.Context, cmdCtx *CommandContext) Check {
	cfg := cmdCtx.Cfg
	c := Check{Group: "model", Name: cfg.Model.Name, Status: StatusPass, Detail: cfg.Model.BaseURL}
	if err := NewModelClient(cfg, cmdCtx.Logger).Ping(ctx); err != nil {
		c.Status = StatusError
		c.Detail = fmt.Sprintf("%s (%v)", session.Message(err), err)
	}
	return c
}

func loaderCheck(ctx context.Context, cmdCtx *CommandContext) Check {
	c := Check{Group: "storage", Name: "csv loader", Status: StatusPass}
	loader, err := dataset.NewLoader(dataset.Config{TempDir: cmdCtx.Cfg.Dataset.UploadDir, Logger: cmdCtx.Logger})
	if err != nil {
		c.Status, c.Detail = StatusError, err.Error()
		return c
	}
	defer func() { _ = loader.Close() }()

	ds, err := loader.Load(ctx, strings.NewReader("name,value\na,1\nb,2\n"), "doctor.csv")
	if err != nil {
		c.Status, c.Detail = StatusError, err.Error()
		return c
	}
	c.Detail = fmt.Sprintf("%d rows, %d columns", ds.RowCount, len(ds.Columns))
	return c
}

func writableCheck(name, dir string) Check {
	c := Check{Group: "storage", Name: name, Status: StatusPass, Detail: dir}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		c.Status, c.Detail = StatusError, err.Error()
		return c
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		c.Status, c.Detail = StatusError, err.Error()
		return c
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return c
}

func executionCheck(ctx context.Context, cmdCtx *CommandContext) Check {
	cfg := cmdCtx.Cfg
	c := Check{Group: "execution", Name: cfg.Execution.Mode, Status: StatusPass}

	if runner.Mode(cfg.Execution.Mode) == runner.ModeProcess {
		fields := strings.Fields(cfg.Execution.Command)
		if len(fields) == 0 {
			c.Status, c.Detail = StatusError, "execution.command is empty"
			return c
		}
		path, err := exec.LookPath(fields[0])
		if err != nil {
			c.Status, c.Detail = StatusError, fmt.Sprintf("%s not found on PATH", fields[0])
			return c
		}
		c.Detail = path
		return c
	}

	dispatcher, err := runner.NewDispatcher(runner.Config{
		Mode:     runner.ModeInProcess,
		MaxSteps: cfg.Execution.MaxSteps,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		c.Status, c.Detail = StatusError, err.Error()
		return c
	}
	res := dispatcher.Dispatch(ctx, runner.Job{
		GenerationID: "doctor",
		Code:         doctorApp,
		Dataset: &dataset.Dataset{
			Name:     "doctor.csv",
			Columns:  []dataset.Column{{Name: "n", Type: "BIGINT", Values: []any{int64(1)}}},
			RowCount: 1,
		},
	})
	if res.State != runner.StateSucceeded {
		c.Status, c.Detail = StatusError, errors.Join(errors.New(res.Message), res.Err).Error()
		return c
	}
	c.Detail = "starlark sandbox ready"
	return c
}

func statusIcon(r *output.Renderer, status string) string {
	styles := r.Styles()
	switch status {
	case StatusWarn:
		return styles.Warning.Render("!")
	case StatusError:
		return styles.Error.Render("✗")
	default:
		return styles.Success.Render("✓")
	}
}

func renderDoctorText(r *output.Renderer, out DoctorOutput) {
	styles := r.Styles()

	r.Println("")
	r.Println(styles.Header1.Render("Leapdash Environment Report"))
	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	r.Println("")

	currentGroup := ""
	titleCaser := cases.Title(language.English)
	for _, check := range out.Checks {
		if check.Group != currentGroup {
			currentGroup = check.Group
			r.Println(styles.Bold.Render("   " + titleCaser.String(currentGroup)))
			r.Println(styles.Muted.Render("   " + strings.Repeat("-", 40)))
		}
		r.Printf("   %s %s\n", statusIcon(r, check.Status), check.Name)
		if check.Detail != "" {
			r.Println(styles.Muted.Render("       " + check.Detail))
		}
	}
	r.Println("")

	r.Println(styles.Muted.Render(strings.Repeat("=", 55)))
	summary := fmt.Sprintf("%d error(s), %d warning(s)", out.Errors, out.Warns)
	switch {
	case out.Errors > 0:
		r.Println("   " + styles.Error.Render(summary))
	case out.Warns > 0:
		r.Println("   " + styles.Warning.Render(summary))
	default:
		r.Println("   " + styles.Success.Render("All checks passed"))
	}
	r.Println("")
}

func renderDoctorMarkdown(r *output.Renderer, out DoctorOutput) {
	r.Println("# Leapdash Environment Report")
	r.Println("")

	titleCaser := cases.Title(language.English)
	rows := make([][]string, 0, len(out.Checks))
	for _, check := range out.Checks {
		rows = append(rows, []string{titleCaser.String(check.Group), check.Name, check.Status, check.Detail})
	}
	r.Table([]string{"Group", "Check", "Status", "Detail"}, rows)
	r.Println("")
	r.Printf("**Errors**: %d | **Warnings**: %d\n", out.Errors, out.Warns)
}
