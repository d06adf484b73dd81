// Package config loads leapdash settings from defaults, leapdash.yaml,
// LEAPDASH_ environment variables and command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/leapdash/internal/artifact"
	"github.com/leapstack-labs/leapdash/internal/dataset"
	"github.com/leapstack-labs/leapdash/internal/llm"
	"github.com/leapstack-labs/leapdash/internal/prompt"
	"github.com/leapstack-labs/leapdash/internal/runner"
	"github.com/leapstack-labs/leapdash/internal/sandbox"
	"github.com/leapstack-labs/leapdash/internal/session"
)

// Config file names, in lookup order.
const (
	ConfigFileName    = "leapdash.yaml"
	ConfigFileNameAlt = "leapdash.yml"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// LEAPDASH_MODEL__NAME sets model.name.
const EnvPrefix = "LEAPDASH_"

// Default configuration values.
const (
	DefaultOutput    = "auto" // TTY=text, otherwise markdown
	DefaultHost      = "127.0.0.1"
	DefaultPort      = 8050
	DefaultUploadDir = ".leapdash/uploads"
	DefaultRunDir    = ".leapdash/run"
	DefaultSecret    = "leapdash-development-secret-key!"
)

// Config holds all CLI configuration options.
type Config struct {
	Verbose      bool            `koanf:"verbose"`
	OutputFormat string          `koanf:"output"`
	Model        ModelConfig     `koanf:"model"`
	Prompt       PromptConfig    `koanf:"prompt"`
	Execution    ExecutionConfig `koanf:"execution"`
	Artifact     ArtifactConfig  `koanf:"artifact"`
	Dataset      DatasetConfig   `koanf:"dataset"`
	UI           UIConfig        `koanf:"ui"`

	// File is the config file that was read, empty when none was found.
	File string `koanf:"-"`
}

// ModelConfig configures the model endpoint.
type ModelConfig struct {
	BaseURL     string        `koanf:"base_url"`
	Name        string        `koanf:"name"`
	APIKey      string        `koanf:"api_key"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature *float64      `koanf:"temperature"`
}

// PromptConfig configures prompt composition. An empty Profile follows the
// execution mode.
type PromptConfig struct {
	Profile    string `koanf:"profile"`
	SampleRows int    `koanf:"sample_rows"`
}

// ExecutionConfig selects and configures the execution strategy.
type ExecutionConfig struct {
	Mode     string `koanf:"mode"`
	MaxSteps uint64 `koanf:"max_steps"`
	Command  string `koanf:"command"`
	Env      string `koanf:"env"`
	Dir      string `koanf:"dir"`
}

// ArtifactConfig configures where generated apps are written.
type ArtifactConfig struct {
	Dir    string `koanf:"dir"`
	Suffix string `koanf:"suffix"`
}

// DatasetConfig bounds uploads.
type DatasetConfig struct {
	MaxRows   int    `koanf:"max_rows"`
	UploadDir string `koanf:"upload_dir"`
}

// UIConfig configures the web server.
type UIConfig struct {
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port"`
	SessionSecret string        `koanf:"session_secret"`
	SessionTTL    time.Duration `koanf:"session_ttl"`
	SecureCookies bool          `koanf:"secure_cookies"`
	Dev           bool          `koanf:"dev"`
}

// Defaults returns the default configuration as a koanf key map.
func Defaults() map[string]any {
	return map[string]any{
		"verbose":             false,
		"output":              DefaultOutput,
		"model.base_url":      llm.DefaultBaseURL,
		"model.name":          llm.DefaultModel,
		"model.api_key":       "",
		"model.timeout":       llm.DefaultTimeout.String(),
		"model.max_tokens":    0,
		"prompt.profile":      "",
		"prompt.sample_rows":  prompt.DefaultSampleRows,
		"execution.mode":      string(runner.ModeInProcess),
		"execution.max_steps": sandbox.DefaultMaxSteps,
		"execution.command":   runner.DefaultCommand,
		"execution.env":       runner.DefaultEnv,
		"execution.dir":       DefaultRunDir,
		"artifact.dir":        ".",
		"artifact.suffix":     artifact.DefaultSuffix,
		"dataset.max_rows":    dataset.DefaultMaxRows,
		"dataset.upload_dir":  DefaultUploadDir,
		"ui.host":             DefaultHost,
		"ui.port":             DefaultPort,
		"ui.session_secret":   DefaultSecret,
		"ui.session_ttl":      session.DefaultTTL.String(),
		"ui.secure_cookies":   false,
		"ui.dev":              false,
	}
}

// ProfileName returns the prompt profile to use: the configured one, or
// the profile matching the execution mode.
func (c *Config) ProfileName() string {
	if c.Prompt.Profile != "" {
		return c.Prompt.Profile
	}
	if runner.Mode(c.Execution.Mode) == runner.ModeProcess {
		return prompt.ProfileShiny
	}
	return prompt.ProfileStarlark
}
