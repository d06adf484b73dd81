// Package commands implements the leapdash subcommands.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/artifact"
	"github.com/leapstack-labs/leapdash/internal/cli/config"
	"github.com/leapstack-labs/leapdash/internal/cli/output"
	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/llm"
	"github.com/leapstack-labs/leapdash/internal/prompt"
	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/session"
)

// configKey is used to store the loaded config in a command context.
type configKey struct{}

// ConfigKey returns the context key the root command stores the config under.
func ConfigKey() interface{} {
	return configKey{}
}

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext collects the config, logger and renderer of cmd.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := getConfig(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// getConfig returns the config stored by the root command, or the defaults
// when a command runs without one (tests, direct construction).
func getConfig(ctx context.Context) *config.Config {
	if cfg, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return cfg
	}
	cfg, err := config.NewLoader().Load("", nil)
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Pipeline holds the generate pipeline stages built from config.
type Pipeline struct {
	Loader     *dataset.Loader
	Client     llm.Client
	Model      *llm.OpenAIClient
	Composer   *prompt.Composer
	Persister  *artifact.Persister
	Dispatcher *runner.Dispatcher
	// LogPath is the app process log, empty in-process.
	LogPath string
}

// Deps returns session dependencies for the pipeline.
func (p *Pipeline) Deps(cfg *config.Config, logger *slog.Logger, notify func(string)) session.Deps {
	return session.Deps{
		Loader:     p.Loader,
		Composer:   p.Composer,
		Client:     p.Client,
		Persister:  p.Persister,
		Dispatcher: p.Dispatcher,
		SampleRows: cfg.Prompt.SampleRows,
		UploadDir:  cfg.Dataset.UploadDir,
		Notify:     notify,
		Logger:     logger,
	}
}

// Close releases the pipeline's resources.
func (p *Pipeline) Close() {
	if p.Loader != nil {
		_ = p.Loader.Close()
	}
}

// NewPipeline builds every stage from cfg. The caller must Close it.
func NewPipeline(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	profile, err := prompt.ProfileByName(cfg.ProfileName())
	if err != nil {
		return nil, err
	}

	loader, err := dataset.NewLoader(dataset.Config{
		MaxRows: cfg.Dataset.MaxRows,
		TempDir: cfg.Dataset.UploadDir,
		Logger:  logger,
	})
	if err != nil {
		return nil, err
	}

	dispatcher, err := runner.NewDispatcher(runner.Config{
		Mode:     runner.Mode(cfg.Execution.Mode),
		MaxSteps: cfg.Execution.MaxSteps,
		Process: runner.ProcessConfig{
			Dir:     cfg.Execution.Dir,
			Command: cfg.Execution.Command,
			Env:     cfg.Execution.Env,
		},
		Logger: logger,
	})
	if err != nil {
		_ = loader.Close()
		return nil, err
	}

	model := NewModelClient(cfg, logger)
	p := &Pipeline{
		Loader:     loader,
		Model:      model,
		Client:     llm.Chain(model, llm.Logging(logger)),
		Composer:   prompt.NewComposer(profile),
		Persister:  artifact.NewPersister(artifact.Config{Dir: cfg.Artifact.Dir, Suffix: cfg.Artifact.Suffix, Logger: logger}),
		Dispatcher: dispatcher,
	}
	if dispatcher.Mode() == runner.ModeProcess {
		p.LogPath = filepath.Join(cfg.Execution.Dir, runner.DefaultLogName)
	}
	return p, nil
}

// NewModelClient creates the model client from cfg.
func NewModelClient(cfg *config.Config, logger *slog.Logger) *llm.OpenAIClient {
	return llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.Model.BaseURL,
		APIKey:      cfg.Model.APIKey,
		Model:       cfg.Model.Name,
		Timeout:     cfg.Model.Timeout,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
		Logger:      logger,
	})
}
