package journal

import (
	"context"
	"fmt"

	"github.com/roach88/statecore/internal/canonical"
	"github.com/roach88/statecore/internal/core"
)

// Record appends one accepted mutation to the current run.
// Uses ON CONFLICT DO NOTHING for idempotency: recording the same seq twice
// is silently ignored.
//
// States without a canonical JSON form (NaN, channels, functions) are stored
// as a quoted %v rendering with an empty state_hash.
func (j *Journal) Record(ctx context.Context, ev core.MutationEvent) error {
	if j.runID == "" {
		return fmt.Errorf("record mutation: journal is read-only")
	}

	state, hash := encodeState(ev.State)

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO mutations
		(run_id, seq, module_id, name, state, state_hash)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		j.runID,
		ev.Seq,
		ev.ModuleID,
		ev.Name,
		state,
		hash,
	)
	if err != nil {
		return fmt.Errorf("record mutation %d: %w", ev.Seq, err)
	}

	return nil
}

// Observer returns a core.Observer that records every event. Write errors
// are logged and never reach the Store.
func (j *Journal) Observer() core.Observer {
	return func(ev core.MutationEvent) {
		if err := j.Record(context.Background(), ev); err != nil {
			j.logger.Error("journal write failed",
				"run_id", j.runID,
				"module_id", ev.ModuleID,
				"mutation", ev.Name,
				"seq", ev.Seq,
				"error", err,
			)
		}
	}
}

func encodeState(v any) (string, string) {
	data, err := canonical.Marshal(v)
	if err != nil {
		fallback, ferr := canonical.Marshal(fmt.Sprintf("%v", v))
		if ferr != nil {
			return `""`, ""
		}
		return string(fallback), ""
	}
	return string(data), canonical.Sum(canonical.DomainState, data)
}
