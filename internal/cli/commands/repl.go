package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/cli/output"
	"github.com/leapstack-labs/leapdash/internal/session"
)

const replPrompt = "leapdash> "

// NewReplCommand creates the repl command.
func NewReplCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repl [file.csv]",
		Short: "Iterate on a dashboard interactively",
		Long: `Start an interactive session. Load a CSV file with .load, then type a
dashboard description to generate an app. Every line that is not a
dot-command is sent as a new description for the loaded file.`,
		Example: `  # Start with a file loaded
  leapdash repl sales.csv`,
		Args: cobra.MaximumNArgs(1),
		RunE: runRepl,
	}
}

func runRepl(cmd *cobra.Command, args []string) error {
	cmdCtx := NewCommandContext(cmd)
	cfg, logger, r := cmdCtx.Cfg, cmdCtx.Logger, cmdCtx.Renderer
	ctx := cmd.Context()

	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	s := session.New("", pipeline.Deps(cfg, logger, nil))
	defer s.Close()
	sh := &shell{session: s, r: r}

	historyFile := ""
	if err := os.MkdirAll(cfg.Artifact.Dir, 0o750); err == nil {
		historyFile = filepath.Join(cfg.Artifact.Dir, ".leapdash_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newShellCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	r.Printf("Leapdash REPL (model %s, %s execution)\n", cfg.Model.Name, pipeline.Dispatcher.Mode())
	r.Println("Type .help for commands, .quit to exit")
	r.Println()

	if len(args) == 1 {
		sh.load(ctx, args[0])
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if sh.handle(ctx, line) {
			return nil
		}
	}
}

// shell interprets REPL lines against a session.
type shell struct {
	session     *session.Session
	r           *output.Renderer
	exploration bool
	values      url.Values
}

// handle executes one line and reports whether the REPL should exit.
func (sh *shell) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, ".") {
		sh.generate(ctx, line)
		return false
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	v := sh.session.View()

	switch strings.ToLower(command) {
	case ".quit", ".exit":
		return true
	case ".help":
		printShellHelp(sh.r.Writer())
	case ".load":
		if arg == "" {
			sh.r.Error("Usage: .load <file.csv>")
			break
		}
		sh.load(ctx, arg)
	case ".explore":
		sh.exploration = arg != "off"
		sh.session.SetExploration(sh.exploration)
		sh.r.Println(sh.session.View().DataDescription())
	case ".data":
		sh.r.Println(v.DataDescription())
	case ".code":
		if v.Code == "" {
			sh.r.Warning("No app has been generated yet.")
			break
		}
		sh.r.Code("python", v.Code)
	case ".response":
		if v.Response == "" {
			sh.r.Warning("No model response yet.")
			break
		}
		sh.r.Println(v.Response)
	case ".prompt":
		if v.Prompt == "" {
			sh.r.Warning("No prompt has been sent yet.")
			break
		}
		sh.r.Println(v.Prompt)
	case ".set":
		values, err := parseAssignments(strings.Fields(arg))
		if err != nil {
			sh.r.Error(err.Error())
			break
		}
		if sh.values == nil {
			sh.values = url.Values{}
		}
		for k, vs := range values {
			sh.values[k] = vs
		}
		sh.render(ctx)
	case ".render":
		sh.render(ctx)
	case ".download":
		path, ok := sh.session.Download()
		if !ok {
			sh.r.Warning("No app has been generated yet.")
			break
		}
		sh.r.Println(path)
	default:
		sh.r.Error(fmt.Sprintf("Unknown command: %s (type .help for commands)", command))
	}
	return false
}

func (sh *shell) load(ctx context.Context, path string) {
	f, err := os.Open(path) //nolint:gosec // user-supplied input file
	if err != nil {
		sh.r.Error(err.Error())
		return
	}
	defer func() { _ = f.Close() }()
	if err := sh.session.Upload(ctx, filepath.Base(path), f); err != nil {
		sh.r.Error(session.Message(err))
		return
	}
	sh.values = nil
	sh.r.Println(sh.session.View().DataDescription())
}

func (sh *shell) generate(ctx context.Context, description string) {
	spinner := sh.r.NewSpinner(OverlayText)
	err := sh.session.Generate(ctx, session.GenerateRequest{
		Description: description,
		Exploration: sh.exploration,
	}, session.StatusFunc(func(st session.Status) {
		if st.Show {
			spinner.Start()
		} else {
			spinner.Stop()
		}
	}))
	spinner.Stop()
	if err != nil {
		sh.r.Error(session.Message(err))
		return
	}

	sh.values = nil
	v := sh.session.View()
	if v.Error != "" {
		sh.r.Error(v.Error)
		return
	}
	if v.ArtifactPath != "" {
		sh.r.Success("Saved " + v.ArtifactPath)
	}
	if v.Result.PID > 0 {
		sh.r.Println(sh.r.Muted(fmt.Sprintf("App running with PID %d, logging to %s", v.Result.PID, v.Result.LogPath)))
		return
	}
	sh.render(ctx)
}

func (sh *shell) render(ctx context.Context) {
	app := sh.session.View().Result.App
	if app == nil {
		sh.r.Warning("No in-process app to render.")
		return
	}
	preview, err := previewApp(ctx, app, sh.values)
	if err != nil {
		sh.r.Error(err.Error())
		return
	}
	sh.r.Println(preview)
}

func printShellHelp(w io.Writer) {
	help := `
Commands:
  .load <file.csv>    Load a CSV file
  .explore [on|off]   Toggle the data exploration widget
  .data               Show the data description
  .code               Show the generated code
  .response           Show the raw model response
  .prompt             Show the last prompt sent to the model
  .set id=value ...   Change app inputs and render again
  .render             Render the current app
  .download           Print the path of the saved app
  .quit / .exit       Exit the REPL

Any other line is sent as a dashboard description.
`
	_, _ = fmt.Fprintln(w, help)
}

func newShellCompleter() *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".load"),
		readline.PcItem(".explore", readline.PcItem("on"), readline.PcItem("off")),
		readline.PcItem(".data"),
		readline.PcItem(".code"),
		readline.PcItem(".response"),
		readline.PcItem(".prompt"),
		readline.PcItem(".set"),
		readline.PcItem(".render"),
		readline.PcItem(".download"),
		readline.PcItem(".help"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
