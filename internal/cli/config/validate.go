package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapdash/internal/prompt"
	"github.com/leapstack-labs/leapdash/internal/runner"
)

// Output formats accepted by the output setting.
var outputFormats = []string{"auto", "text", "markdown", "json"}

// Validate checks the configuration for values the components would reject.
func (c *Config) Validate() error {
	var errs []error

	switch runner.Mode(c.Execution.Mode) {
	case runner.ModeInProcess, runner.ModeProcess:
	default:
		errs = append(errs, fmt.Errorf("execution.mode must be %s or %s, got %q", runner.ModeInProcess, runner.ModeProcess, c.Execution.Mode))
	}
	if runner.Mode(c.Execution.Mode) == runner.ModeProcess && !strings.Contains(c.Execution.Command, "{script}") {
		errs = append(errs, errors.New("execution.command must contain the {script} placeholder"))
	}
	if c.Prompt.Profile != "" {
		if _, err := prompt.ProfileByName(c.Prompt.Profile); err != nil {
			errs = append(errs, fmt.Errorf("prompt.profile: %w", err))
		}
	}
	if c.Prompt.SampleRows < 0 {
		errs = append(errs, errors.New("prompt.sample_rows must not be negative"))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.Timeout <= 0 {
		errs = append(errs, errors.New("model.timeout must be positive"))
	}
	if c.UI.Port < 0 || c.UI.Port > 65535 {
		errs = append(errs, fmt.Errorf("ui.port out of range: %d", c.UI.Port))
	}
	if len(c.UI.SessionSecret) < 32 {
		errs = append(errs, errors.New("ui.session_secret must be at least 32 bytes"))
	}
	if !validOutput(c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output must be one of %s, got %q", strings.Join(outputFormats, ", "), c.OutputFormat))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func validOutput(format string) bool {
	for _, f := range outputFormats {
		if f == format {
			return true
		}
	}
	return false
}
