package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/statecore/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "missing"
	Errors []string `json:"errors,omitempty"`
}

// TestResult holds the overall test result.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// Golden comparison outcomes.
const (
	goldenMatch   = "match"
	goldenUpdated = "updated"
	goldenMissing = "missing"
)

// scenarioExts are the file extensions treated as scenarios.
var scenarioExts = []string{".yaml", ".yml", ".cue"}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <dir|file>",
		Short: "Run every scenario and compare golden traces",
		Long: `Run scenario files and report pass/fail.

A scenario passes when every step behaves as expected, every assertion
holds and, if a golden file exists in the "golden" directory next to the
scenario, its trace matches the golden file byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  statecore test ./scenarios
  statecore test ./scenarios --filter "counter*"
  statecore test ./scenarios --update
  statecore test ./scenarios/counter.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")

	return cmd
}

func runTests(opts *TestOptions, target string, cmd *cobra.Command) error {
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", target))
	}

	scenarioFiles, err := findScenarioFiles(target, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if len(scenarioFiles) == 0 {
		if opts.Format == "json" {
			return formatter.Success(TestResult{Scenarios: []ScenarioResult{}})
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	result := TestResult{
		Scenarios: make([]ScenarioResult, 0, len(scenarioFiles)),
		Total:     len(scenarioFiles),
	}

	for _, scenarioFile := range scenarioFiles {
		formatter.VerboseLog("running %s", scenarioFile)
		scenResult := runTestScenario(opts, scenarioFile)
		result.Scenarios = append(result.Scenarios, scenResult)

		if scenResult.Pass {
			result.Passed++
		} else {
			result.Failed++
		}

		if opts.Format != "json" {
			outputScenarioText(cmd.OutOrStdout(), scenResult)
		}
	}

	if opts.Format == "json" {
		if result.Failed > 0 {
			err = formatter.Failure(ErrCodeTestFailed, fmt.Sprintf("%d scenario(s) failed", result.Failed), result)
		} else {
			err = formatter.Success(result)
		}
		if err != nil {
			return err
		}
	} else {
		outputTestText(cmd.OutOrStdout(), result)
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// findScenarioFiles returns target itself when it is a file, otherwise
// every scenario file below it in lexical order.
func findScenarioFiles(target string, filter string) ([]string, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{target}, nil
	}

	var files []string
	err = filepath.WalkDir(target, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if !slices.Contains(scenarioExts, ext) {
			return nil
		}

		// Apply filter if specified
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runTestScenario executes a single scenario and returns the result.
func runTestScenario(opts *TestOptions, scenarioFile string) ScenarioResult {
	failed := func(name string, errs ...string) ScenarioResult {
		return ScenarioResult{Name: name, File: scenarioFile, Errors: errs}
	}

	scenario, err := harness.LoadScenario(scenarioFile)
	if err != nil {
		return failed(filepath.Base(scenarioFile), fmt.Sprintf("failed to load scenario: %v", err))
	}

	result, err := harness.Run(scenario,
		harness.WithLogger(opts.logger()),
		harness.WithSettleTimeout(opts.Config.SettleTimeout),
	)
	if err != nil {
		return failed(scenario.Name, fmt.Sprintf("execution failed: %v", err))
	}

	goldenDir := filepath.Join(filepath.Dir(scenarioFile), "golden")
	var golden string

	switch {
	case opts.Update:
		if err := harness.WriteGolden(goldenDir, scenario.Name, result); err != nil {
			return failed(scenario.Name, fmt.Sprintf("failed to update golden file: %v", err))
		}
		golden = goldenUpdated

	case fileExists(harness.GoldenPath(goldenDir, scenario.Name)):
		match, err := harness.CompareGolden(goldenDir, scenario.Name, result)
		if err != nil {
			return failed(scenario.Name, fmt.Sprintf("golden comparison failed: %v", err))
		}
		if !match {
			errs := append([]string{"trace does not match golden file (run with --update to regenerate)"}, result.Errors...)
			return failed(scenario.Name, errs...)
		}
		golden = goldenMatch

	default:
		// No golden file - use assertion-based validation only
		golden = goldenMissing
	}

	return ScenarioResult{
		Name:   scenario.Name,
		File:   scenarioFile,
		Pass:   result.Pass,
		Golden: golden,
		Errors: result.Errors,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// outputScenarioText prints one scenario outcome.
func outputScenarioText(w io.Writer, result ScenarioResult) {
	if result.Pass {
		switch result.Golden {
		case goldenUpdated:
			fmt.Fprintf(w, "✓ %s (golden updated)\n", result.Name)
		default:
			fmt.Fprintf(w, "✓ %s\n", result.Name)
		}
		return
	}

	fmt.Fprintf(w, "✗ %s\n", result.Name)
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// outputTestText outputs the test summary as text.
func outputTestText(w io.Writer, result TestResult) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)

	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}
