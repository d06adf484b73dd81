package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/llm"
	"github.com/leapstack-labs/leapdash/internal/prompt"
	"github.com/leapstack-labs/leapdash/internal/runner"
)

// chdir switches to a fresh directory so no stray leapdash.yaml is found.
func chdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("model", "", "")
	fs.String("mode", "", "")
	fs.Int("port", 0, "")
	fs.Duration("timeout", 0, "")
	fs.BoolP("verbose", "v", false, "")
	fs.StringP("output", "o", "", "")
	return fs
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// =============================================================================
// Defaults
// =============================================================================

func TestLoad_Defaults(t *testing.T) {
	chdir(t)

	l := NewLoader()
	cfg, err := l.Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, l.FileUsed())
	assert.Equal(t, llm.DefaultBaseURL, cfg.Model.BaseURL)
	assert.Equal(t, llm.DefaultModel, cfg.Model.Name)
	assert.Equal(t, llm.DefaultTimeout, cfg.Model.Timeout)
	assert.Nil(t, cfg.Model.Temperature)
	assert.Equal(t, string(runner.ModeInProcess), cfg.Execution.Mode)
	assert.Equal(t, runner.DefaultCommand, cfg.Execution.Command)
	assert.Equal(t, prompt.DefaultSampleRows, cfg.Prompt.SampleRows)
	assert.Equal(t, DefaultPort, cfg.UI.Port)
	assert.Equal(t, 2*time.Hour, cfg.UI.SessionTTL)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, prompt.ProfileStarlark, cfg.ProfileName())
}

// =============================================================================
// Precedence
// =============================================================================

func TestLoad_Precedence(t *testing.T) {
	dir := chdir(t)
	writeConfig(t, dir, `
model:
  name: file-model
  timeout: 90s
  temperature: 0.2
execution:
  mode: process
ui:
  port: 9000
`)

	tests := []struct {
		name      string
		env       map[string]string
		args      []string
		wantModel string
		wantPort  int
		wantMode  string
	}{
		{
			name:      "file over defaults",
			wantModel: "file-model",
			wantPort:  9000,
			wantMode:  "process",
		},
		{
			name:      "env over file",
			env:       map[string]string{"LEAPDASH_MODEL__NAME": "env-model", "LEAPDASH_UI__PORT": "9100"},
			wantModel: "env-model",
			wantPort:  9100,
			wantMode:  "process",
		},
		{
			name:      "flags over env",
			env:       map[string]string{"LEAPDASH_MODEL__NAME": "env-model"},
			args:      []string{"--model", "flag-model", "--mode", "inprocess"},
			wantModel: "flag-model",
			wantPort:  9000,
			wantMode:  "inprocess",
		},
		{
			name:      "unset flags do not override",
			env:       map[string]string{"LEAPDASH_UI__PORT": "9100"},
			args:      []string{"--verbose"},
			wantModel: "file-model",
			wantPort:  9100,
			wantMode:  "process",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			fs := testFlags()
			require.NoError(t, fs.Parse(tt.args))

			l := NewLoader()
			cfg, err := l.Load("", fs)
			require.NoError(t, err)

			assert.Equal(t, ConfigFileName, l.FileUsed())
			assert.Equal(t, tt.wantModel, cfg.Model.Name)
			assert.Equal(t, tt.wantPort, cfg.UI.Port)
			assert.Equal(t, tt.wantMode, cfg.Execution.Mode)
			assert.Equal(t, 90*time.Second, cfg.Model.Timeout)
			require.NotNil(t, cfg.Model.Temperature)
			assert.InDelta(t, 0.2, *cfg.Model.Temperature, 1e-9)
		})
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	chdir(t)
	other := t.TempDir()
	path := writeConfig(t, other, "model:\n  name: explicit\n")

	l := NewLoader()
	cfg, err := l.Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, l.FileUsed())
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, "explicit", cfg.Model.Name)

	_, err = NewLoader().Load(filepath.Join(other, "missing.yaml"), nil)
	require.Error(t, err)
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := chdir(t)
	writeConfig(t, dir, "model:\n  api_key: ${LEAPDASH_TEST_KEY}\n  base_url: ${LEAPDASH_TEST_UNSET}\n")
	t.Setenv("LEAPDASH_TEST_KEY", "sk-test")

	cfg, err := NewLoader().Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Model.APIKey)
	assert.Equal(t, "${LEAPDASH_TEST_UNSET}", cfg.Model.BaseURL)
}

func TestLoad_ProcessModeSelectsShinyProfile(t *testing.T) {
	chdir(t)
	t.Setenv("LEAPDASH_EXECUTION__MODE", "process")

	cfg, err := NewLoader().Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, prompt.ProfileShiny, cfg.ProfileName())

	cfg.Prompt.Profile = prompt.ProfileStarlark
	assert.Equal(t, prompt.ProfileStarlark, cfg.ProfileName())
}

func TestLoad_InvalidFile(t *testing.T) {
	dir := chdir(t)
	writeConfig(t, dir, "model: [unterminated\n")

	_, err := NewLoader().Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

// =============================================================================
// Validate
// =============================================================================

func validConfig(t *testing.T) *Config {
	t.Helper()
	chdir(t)
	cfg, err := NewLoader().Load("", nil)
	require.NoError(t, err)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown mode", func(c *Config) { c.Execution.Mode = "docker" }, "execution.mode"},
		{"command without script", func(c *Config) {
			c.Execution.Mode = "process"
			c.Execution.Command = "python app.py"
		}, "{script}"},
		{"unknown profile", func(c *Config) { c.Prompt.Profile = "streamlit" }, "prompt.profile"},
		{"negative sample rows", func(c *Config) { c.Prompt.SampleRows = -1 }, "sample_rows"},
		{"empty model", func(c *Config) { c.Model.Name = "" }, "model.name"},
		{"zero timeout", func(c *Config) { c.Model.Timeout = 0 }, "model.timeout"},
		{"port out of range", func(c *Config) { c.UI.Port = 70000 }, "ui.port"},
		{"short secret", func(c *Config) { c.UI.SessionSecret = "short" }, "session_secret"},
		{"bad output", func(c *Config) { c.OutputFormat = "xml" }, "output must be"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestFlagKey(t *testing.T) {
	assert.Equal(t, "model.name", FlagKey("model"))
	assert.Equal(t, "ui.port", FlagKey("port"))
	assert.Equal(t, "verbose", FlagKey("verbose"))
	assert.Equal(t, "some_flag", FlagKey("some-flag"))
}

func TestGetLogger_Fallback(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))
}
