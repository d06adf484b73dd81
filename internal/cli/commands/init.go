package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/leapdash/internal/cli/config"
	"github.com/leapstack-labs/leapdash/internal/cli/output"
)

const configHeader = `# leapdash configuration.
# Every key can be overridden with LEAPDASH_<SECTION>__<KEY>, e.g.
# LEAPDASH_MODEL__NAME=llama3.1, and by command-line flags.
`

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool
	var example bool

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Write a leapdash.yaml with the default settings",
		Long: `Initialize a directory for leapdash.

This creates:
  - leapdash.yaml with every setting and a fresh session secret
  - .gitignore ignoring generated apps and working files

Use --example to also add a sample CSV file to try the generator with.`,
		Example: `  # Initialize in current directory
  leapdash init

  # Initialize a new directory with sample data, targeting Shiny apps
  leapdash init my-dashboards --example --mode process

  # Force overwrite existing config
  leapdash init --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			cmdCtx := NewCommandContext(cmd)
			return runInit(cmdCtx.Renderer, cmdCtx.Cfg, dir, force, example)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing configuration")
	cmd.Flags().BoolVar(&example, "example", false, "Add a sample CSV file")

	return cmd
}

func runInit(r *output.Renderer, cfg *config.Config, dir string, force, example bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, config.ConfigFileName)
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("%s already exists. Use --force to overwrite", config.ConfigFileName)
	}

	content, err := renderConfigFile(cfg, newSecret())
	if err != nil {
		return err
	}
	if err := os.WriteFile(configPath, content, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	created(r, config.ConfigFileName)

	if ok, err := writeGitignore(dir); err != nil {
		return fmt.Errorf("failed to write .gitignore: %w", err)
	} else if ok {
		created(r, ".gitignore")
	}

	if example {
		files, err := copyTemplate("example", dir, force)
		if err != nil {
			return fmt.Errorf("failed to copy example data: %w", err)
		}
		for _, f := range files {
			created(r, f)
		}
	}

	r.Println("")
	r.Success("leapdash initialized!")
	r.Println("")
	r.Println("Next steps:")
	r.Println("  leapdash doctor                      Check the model endpoint and execution setup")
	if example {
		r.Println("  leapdash generate data/sales.csv -d \"revenue by region\" --preview")
	}
	r.Println("  leapdash serve                       Open the web UI")

	return nil
}

// renderConfigFile serializes the defaults, overridden by the values of
// cfg that select the model and execution strategy.
func renderConfigFile(cfg *config.Config, secret string) ([]byte, error) {
	values := config.Defaults()
	values["model.name"] = cfg.Model.Name
	values["model.base_url"] = cfg.Model.BaseURL
	values["execution.mode"] = cfg.Execution.Mode
	values["prompt.profile"] = cfg.Prompt.Profile
	values["ui.session_secret"] = secret
	delete(values, "verbose")

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(unflatten(values)); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// unflatten turns dotted keys into nested maps.
func unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = make(map[string]any)
				m[p] = next
			}
			m = next
		}
		m[parts[len(parts)-1]] = v
	}
	return out
}

func created(r *output.Renderer, name string) {
	r.Printf("  %s %s\n", r.Styles().Success.Render("✓"), name)
}

func newSecret() string {
	return strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
}
