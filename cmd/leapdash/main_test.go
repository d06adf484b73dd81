// Package main provides tests for the Leapdash CLI.
package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapdash/internal/cli"
	"github.com/leapstack-labs/leapdash/internal/cli/testutil"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := cli.NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Leapdash")
}

func TestHelpCommand(t *testing.T) {
	out, _, err := run(t, "--help")
	require.NoError(t, err)
	for _, expected := range []string{"serve", "generate", "inspect", "run", "repl", "doctor", "init", "completion"} {
		assert.Contains(t, out, expected)
	}
}

func TestCompletionCommand(t *testing.T) {
	out, _, err := run(t, "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, out, "leapdash")

	_, _, err = run(t, "completion", "tcsh")
	require.Error(t, err)
}

func TestInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		args []string
		file string
	}{
		{name: "bad mode flag", args: []string{"--mode", "bogus", "version"}},
		{name: "bad output flag", args: []string{"-o", "yaml", "version"}},
		{name: "missing explicit file", args: []string{"--config", "nope.yaml", "version"}},
		{name: "invalid file", args: []string{"version"}, file: "model: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			if tt.file != "" {
				testutil.WriteFile(t, dir, "leapdash.yaml", tt.file)
			}
			_, _, err := run(t, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestGenerateCommand(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	srv := testutil.NewModelServer(t, "test-coder", func(string) string { return testutil.Fenced(testutil.SalesApp) })
	csv := testutil.WriteFile(t, dir, "sales.csv", testutil.SalesCSV)
	artifacts := filepath.Join(dir, "apps")

	out, _, err := run(t, "generate", csv,
		"--base-url", srv.BaseURL(),
		"--model", "test-coder",
		"--artifact-dir", artifacts,
		"-o", "json",
		"-d", "sales by region",
	)
	require.NoError(t, err)

	var result struct {
		Artifact string `json:"artifact"`
		State    string `json:"state"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result), "output: %s", out)
	assert.Equal(t, "succeeded", result.State)
	assert.Equal(t, filepath.Join(artifacts, "sales_app.py"), result.Artifact)
	assert.FileExists(t, result.Artifact)
}

func TestConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	srv := testutil.NewModelServer(t, "from-env", func(string) string { return testutil.Fenced(testutil.SalesApp) })
	testutil.WriteFile(t, dir, "leapdash.yaml", "model:\n  name: from-file\n  base_url: "+srv.BaseURL()+"\n")
	t.Setenv("LEAPDASH_MODEL__NAME", "from-env")

	out, _, err := run(t, "doctor", "-o", "json")
	require.NoError(t, err, "model from env must be found: %s", out)
	assert.Contains(t, out, `"name": "from-env"`)
}
