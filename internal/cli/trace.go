package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/statecore/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Run      string // optional - defaults to the latest run
	Module   string // optional - filter to a specific module
}

// TraceEntry is one journaled mutation.
type TraceEntry struct {
	Seq       int64           `json:"seq"`
	Module    string          `json:"module"`
	Name      string          `json:"name"`
	State     json.RawMessage `json:"state"`
	StateHash string          `json:"state_hash,omitempty"`
	Verified  bool            `json:"verified"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID   string       `json:"run_id"`
	Label   string       `json:"label,omitempty"`
	Entries []TraceEntry `json:"entries"`
	Stats   TraceStats   `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Mutations  int `json:"mutations"`
	Modules    int `json:"modules"`
	Unverified int `json:"unverified"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the mutations journaled for a run",
		Long: `Print the mutations recorded in a SQLite journal by "statecore run --journal".

Each entry shows the logical seq, the module, the mutation name and the
resulting state. The stored state hash is recomputed; entries whose state
no longer matches are flagged.

Examples:
  statecore trace --db ./statecore.db
  statecore trace --db ./statecore.db --run 0190f4c2-... --module counter
  statecore trace --db ./statecore.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run id (default: latest run)")
	cmd.Flags().StringVar(&opts.Module, "module", "", "filter to a specific module id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening a missing path would create an empty journal.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	j, err := journal.Open(opts.Database, journal.ReadOnly(), journal.WithLogger(opts.logger()))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	runs, err := j.Runs(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	runID := opts.Run
	if runID == "" {
		runID, err = j.LatestRun(ctx)
		if errors.Is(err, journal.ErrNoRuns) {
			if opts.Format == "json" {
				return outputTraceJSON(cmd, TraceResult{Entries: []TraceEntry{}})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "No runs found.")
			return nil
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to find latest run", err)
		}
	}

	result := TraceResult{RunID: runID, Entries: []TraceEntry{}}
	found := false
	for _, run := range runs {
		if run.ID == runID {
			result.Label = run.Label
			found = true
		}
	}
	if !found {
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", runID))
	}

	entries, err := j.Entries(ctx, runID, opts.Module)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	modules := make(map[string]bool)
	for _, e := range entries {
		verified := e.Verify()
		result.Entries = append(result.Entries, TraceEntry{
			Seq:       e.Seq,
			Module:    e.ModuleID,
			Name:      e.Name,
			State:     e.State,
			StateHash: e.StateHash,
			Verified:  verified,
		})
		modules[e.ModuleID] = true
		if !verified {
			result.Stats.Unverified++
		}
	}
	result.Stats.Mutations = len(result.Entries)
	result.Stats.Modules = len(modules)

	if opts.Format == "json" {
		return outputTraceJSON(cmd, result)
	}

	outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
	return nil
}

// outputTraceJSON outputs the trace result as JSON.
func outputTraceJSON(cmd *cobra.Command, result TraceResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for Run: %s\n", result.RunID)
	if result.Label != "" {
		fmt.Fprintf(w, "Label: %s\n", result.Label)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Mutations ===")
	if len(result.Entries) == 0 {
		fmt.Fprintln(w, "  (no mutations)")
	}
	for _, e := range result.Entries {
		fmt.Fprintf(w, "  #%d %s.%s -> %s", e.Seq, e.Module, e.Name, e.State)
		if !e.Verified {
			fmt.Fprint(w, " (state hash mismatch)")
		}
		fmt.Fprintln(w)
		if verbose && e.StateHash != "" {
			fmt.Fprintf(w, "      hash: %s\n", e.StateHash)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Mutations: %d\n", result.Stats.Mutations)
	fmt.Fprintf(w, "  Modules: %d\n", result.Stats.Modules)
	if result.Stats.Unverified > 0 {
		fmt.Fprintf(w, "  Unverified: %d\n", result.Stats.Unverified)
	}
}
