package cli

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/statecore/internal/harness"
	"github.com/roach88/statecore/internal/journal"
	"github.com/roach88/statecore/internal/metrics"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Journal string // SQLite journal path; defaults to STATECORE_JOURNAL
	Metrics bool   // print the Prometheus exposition after the run
}

// RunResult is the output of the run command.
type RunResult struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Errors   []string             `json:"errors,omitempty"`
	Trace    []harness.TraceEvent `json:"trace"`
	State    map[string]any       `json:"state"`
	RunID    string               `json:"run_id,omitempty"`
	Metrics  string               `json:"metrics,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one scenario and print its trace",
		Long: `Run a YAML or CUE scenario against a fresh Store and print the trace.

With --journal, every committed mutation is recorded in a SQLite journal
under a new run, which "statecore trace" can print later.

Exit codes:
  0 - Scenario passed
  1 - Scenario failed
  2 - Command error (missing file, unreadable journal, etc.)

Examples:
  statecore run ./scenarios/counter.yaml
  statecore run ./scenarios/counter.yaml --journal ./statecore.db
  statecore run ./scenarios/counter.yaml --metrics --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (default $STATECORE_JOURNAL)")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print Prometheus metrics after the run")

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := opts.logger()

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	hopts := []harness.Option{
		harness.WithLogger(logger),
		harness.WithSettleTimeout(opts.Config.SettleTimeout),
	}

	journalPath := opts.Journal
	if journalPath == "" {
		journalPath = opts.Config.Journal
	}

	var runID string
	if journalPath != "" {
		j, err := journal.Open(journalPath,
			journal.WithLabel(scenario.Name),
			journal.WithLogger(logger),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				logger.Error("error closing journal", "error", closeErr)
			}
		}()
		runID = j.RunID()
		hopts = append(hopts, harness.WithObserver(j.Observer()))
		logger.Info("journal ready", "path", journalPath, "run_id", runID)
	}

	var collector *metrics.Collector
	if opts.Metrics {
		collector = metrics.New()
		hopts = append(hopts, harness.WithRecorder(collector))
	}

	logger.Info("running scenario", "scenario", scenario.Name, "path", path)
	result, err := harness.Run(scenario, hopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenario", err)
	}
	logger.Info("scenario finished", "scenario", scenario.Name, "pass", result.Pass, "events", len(result.Trace))

	output := RunResult{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Trace:    result.Trace,
		State:    result.State,
		RunID:    runID,
	}
	if collector != nil {
		var buf bytes.Buffer
		if err := collector.WriteText(&buf); err != nil {
			return WrapExitError(ExitCommandError, "failed to write metrics", err)
		}
		output.Metrics = buf.String()
	}

	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if opts.Format == "json" {
		if result.Pass {
			err = formatter.Success(output)
		} else {
			err = formatter.Failure(ErrCodeFailed, "scenario failed", output)
		}
		if err != nil {
			return err
		}
	} else {
		outputRunText(cmd.OutOrStdout(), output)
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", scenario.Name))
	}
	return nil
}

// outputRunText outputs the run result as text.
func outputRunText(w io.Writer, result RunResult) {
	fmt.Fprintf(w, "Scenario: %s\n", result.Scenario)
	if result.RunID != "" {
		fmt.Fprintf(w, "Journal run: %s\n", result.RunID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Trace ===")
	if len(result.Trace) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for i, event := range result.Trace {
		fmt.Fprintf(w, "  [%d] %s\n", i+1, event)
	}
	fmt.Fprintln(w)

	if result.Pass {
		fmt.Fprintf(w, "✓ %s passed\n", result.Scenario)
	} else {
		fmt.Fprintf(w, "✗ %s failed\n", result.Scenario)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}

	if result.Metrics != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "=== Metrics ===")
		fmt.Fprint(w, result.Metrics)
	}
}
