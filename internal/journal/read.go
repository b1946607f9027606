package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/statecore/internal/canonical"
)

// ErrNoRuns is returned by LatestRun on an empty journal.
var ErrNoRuns = errors.New("journal has no runs")

// Run summarizes one execution recorded in the journal.
type Run struct {
	ID         string `json:"id"`
	Label      string `json:"label,omitempty"`
	StartedSeq int64  `json:"started_seq"`
	Mutations  int    `json:"mutations"`
}

// Entry is one recorded mutation.
type Entry struct {
	RunID     string          `json:"run_id"`
	Seq       int64           `json:"seq"`
	ModuleID  string          `json:"module_id"`
	Name      string          `json:"name"`
	State     json.RawMessage `json:"state"`
	StateHash string          `json:"state_hash,omitempty"`
}

// Verify reports whether StateHash matches State. Entries whose state had
// no canonical form carry no hash and never verify.
func (e Entry) Verify() bool {
	if e.StateHash == "" {
		return false
	}
	return canonical.Sum(canonical.DomainState, e.State) == e.StateHash
}

// Runs returns every run in the order they were started.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT r.id, r.label, r.started_seq, COUNT(m.seq)
		FROM runs r
		LEFT JOIN mutations m ON m.run_id = r.id
		GROUP BY r.rowid, r.id, r.label, r.started_seq
		ORDER BY r.rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Label, &r.StartedSeq, &r.Mutations); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// LatestRun returns the id of the most recently started run.
// Returns ErrNoRuns if the journal is empty.
func (j *Journal) LatestRun(ctx context.Context) (string, error) {
	var id string
	err := j.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoRuns
	}
	if err != nil {
		return "", fmt.Errorf("query latest run: %w", err)
	}
	return id, nil
}

// Entries returns the mutations of a run ordered by seq. An empty moduleID
// returns every module's mutations.
//
// Returns an empty slice (not nil) if nothing matches.
func (j *Journal) Entries(ctx context.Context, runID, moduleID string) ([]Entry, error) {
	query := `
		SELECT run_id, seq, module_id, name, state, state_hash
		FROM mutations
		WHERE run_id = ?
		ORDER BY seq ASC
	`
	args := []any{runID}
	if moduleID != "" {
		query = `
		SELECT run_id, seq, module_id, name, state, state_hash
		FROM mutations
		WHERE run_id = ? AND module_id = ?
		ORDER BY seq ASC
	`
		args = append(args, moduleID)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query mutations: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e     Entry
			state string
		)
		if err := rows.Scan(&e.RunID, &e.Seq, &e.ModuleID, &e.Name, &state, &e.StateHash); err != nil {
			return nil, fmt.Errorf("scan mutation: %w", err)
		}
		e.State = json.RawMessage(state)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mutations: %w", err)
	}

	return entries, nil
}
