package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/cli/output"
	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/session"
)

// OverlayText is shown while the model is working.
const OverlayText = "Scanning subspace for chronitron particles"

// GenerateOptions holds options for the generate command.
type GenerateOptions struct {
	Description  string
	Exploration  bool
	Preview      bool
	ShowResponse bool
	Inputs       []string
}

// GenerateOutput is the JSON output of the generate command.
type GenerateOutput struct {
	File         string `json:"file"`
	Artifact     string `json:"artifact,omitempty"`
	Mode         string `json:"mode"`
	State        string `json:"state"`
	Fallback     bool   `json:"fallback"`
	Code         string `json:"code"`
	Response     string `json:"response,omitempty"`
	Preview      string `json:"preview,omitempty"`
	PID          int    `json:"pid,omitempty"`
	LogPath      string `json:"log_path,omitempty"`
	Error        string `json:"error,omitempty"`
	GenerationID string `json:"generation_id"`
}

// NewGenerateCommand creates the generate command.
func NewGenerateCommand() *cobra.Command {
	opts := &GenerateOptions{}
	cmd := &cobra.Command{
		Use:   "generate <file.csv>",
		Short: "Generate a dashboard app from a CSV file",
		Long: `Run the full pipeline once: load the CSV file, compose the prompt, call the
model, extract the code, write <name>_app.py and execute it with the
configured strategy.`,
		Example: `  # Generate and preview an in-process dashboard
  leapdash generate sales.csv -d "monthly sales by region" --preview

  # Include the data exploration widget and print the raw model response
  leapdash generate sales.csv -d "sales overview" --exploration --show-response`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Description, "description", "d", "", "Dashboard description")
	cmd.Flags().BoolVar(&opts.Exploration, "exploration", false, "Include the data exploration widget")
	cmd.Flags().BoolVar(&opts.Preview, "preview", false, "Render an in-process app as markdown")
	cmd.Flags().BoolVar(&opts.ShowResponse, "show-response", false, "Print the raw model response")
	cmd.Flags().StringArrayVar(&opts.Inputs, "set", nil, "Input value for the preview as id=value (repeatable)")

	return cmd
}

func runGenerate(cmd *cobra.Command, path string, opts *GenerateOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg, logger, r := cmdCtx.Cfg, cmdCtx.Logger, cmdCtx.Renderer
	ctx := cmd.Context()

	values, err := parseAssignments(opts.Inputs)
	if err != nil {
		return err
	}

	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	s := session.New("", pipeline.Deps(cfg, logger, nil))
	defer s.Close()

	f, err := os.Open(path) //nolint:gosec // user-supplied input file
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if err := s.Upload(ctx, filepath.Base(path), f); err != nil {
		return fmt.Errorf("%s: %w", session.Message(err), err)
	}

	spinner := r.NewSpinner(OverlayText)
	genErr := s.Generate(ctx, session.GenerateRequest{
		Description: opts.Description,
		Exploration: opts.Exploration,
	}, session.StatusFunc(func(st session.Status) {
		if st.Show {
			spinner.Start()
		} else {
			spinner.Stop()
		}
	}))
	spinner.Stop()

	v := s.View()
	out := GenerateOutput{
		File:         v.FileName,
		Artifact:     v.ArtifactPath,
		Mode:         string(v.Result.Mode),
		State:        v.Result.State.String(),
		Fallback:     v.Fallback,
		Code:         v.Code,
		PID:          v.Result.PID,
		LogPath:      v.Result.LogPath,
		Error:        v.Error,
		GenerationID: v.GenerationID,
	}
	if opts.ShowResponse {
		out.Response = v.Response
	}
	if opts.Preview && v.Result.App != nil {
		preview, err := previewApp(ctx, v.Result.App, values)
		if err != nil {
			return err
		}
		out.Preview = preview
	}

	if r.EffectiveMode() == output.ModeJSON {
		if err := r.JSON(out); err != nil {
			return err
		}
	} else {
		renderGenerate(r, out)
	}

	if genErr != nil {
		return errors.New(session.Message(genErr))
	}
	if v.Result.State == runner.StateFailed {
		return errors.New(v.Error)
	}
	return nil
}

func renderGenerate(r *output.Renderer, out GenerateOutput) {
	if out.Response != "" {
		r.Header(2, "Model response")
		r.Println(out.Response)
		r.Println()
	}
	if out.Code != "" {
		r.Header(2, "Generated code")
		r.Code("python", out.Code)
		r.Println()
	}

	pairs := [][2]string{{"File", out.File}, {"Mode", out.Mode}, {"State", out.State}}
	if out.Artifact != "" {
		pairs = append(pairs, [2]string{"Artifact", out.Artifact})
	}
	if out.Fallback {
		pairs = append(pairs, [2]string{"Extraction", "no fenced block, whole response used"})
	}
	if out.PID > 0 {
		pairs = append(pairs, [2]string{"PID", fmt.Sprint(out.PID)}, [2]string{"Log", out.LogPath})
	}
	r.KeyValues(pairs)

	if out.Preview != "" {
		r.Println()
		r.Header(2, "Preview")
		r.Println(out.Preview)
	}
	if out.Error != "" {
		r.Error(out.Error)
	}
}
