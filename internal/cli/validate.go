package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/statecore/internal/harness"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid      bool   `json:"valid"`
	Scenario   string `json:"scenario,omitempty"`
	Modules    int    `json:"modules"`
	Views      int    `json:"views"`
	Steps      int    `json:"steps"`
	Assertions int    `json:"assertions"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario>",
		Short: "Statically check a scenario without running it",
		Long: `Load a YAML or CUE scenario and check it without running it.

Rejects unknown fields, unknown module kinds, reducers, ops and error codes,
and subscription aliases that are used before a subscribe step defines them.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario file not found: %s", path))
	}

	formatter.VerboseLog("Validating %s", path)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		code := ErrCodeLoad
		if errors.Is(err, harness.ErrInvalidScenario) {
			code = ErrCodeInvalid
		}
		if outErr := formatter.Error(code, err.Error(), nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	result := ValidationResult{
		Valid:      true,
		Scenario:   scenario.Name,
		Modules:    len(scenario.Modules),
		Views:      len(scenario.Views),
		Steps:      len(scenario.Steps),
		Assertions: len(scenario.Assertions),
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d modules, %d views, %d steps, %d assertions)\n",
		result.Scenario, result.Modules, result.Views, result.Steps, result.Assertions)
	return nil
}
