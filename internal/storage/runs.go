package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

// CreateBackfillRun records a completed live run. A zero run id is replaced
// with a new random one, which is returned.
func (tx *Tx) CreateBackfillRun(ctx context.Context, run model.BackfillRun) (uuid.UUID, error) {
	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}
	if run.Params == nil {
		run.Params = map[string]any{}
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: marshal run params: %w", err)
	}
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: marshal run summary: %w", err)
	}

	_, err = tx.exec(ctx,
		`INSERT INTO backfill_runs (run_id, command, params, summary, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID.String(), run.Command, string(params), string(summary),
		formatTime(run.StartedAt), formatTime(run.CompletedAt),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: create backfill run: %w", err)
	}
	return run.RunID, nil
}

// GetBackfillRun retrieves a run by id. The summary is decoded into a
// generic JSON value.
func (c conn) GetBackfillRun(ctx context.Context, id uuid.UUID) (model.BackfillRun, error) {
	var (
		r                      model.BackfillRun
		runID, params, summary string
		startedAt, completedAt string
	)
	err := c.queryRow(ctx,
		`SELECT run_id, command, params, summary, started_at, completed_at
		 FROM backfill_runs WHERE run_id = ?`, id.String(),
	).Scan(&runID, &r.Command, &params, &summary, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BackfillRun{}, fmt.Errorf("storage: backfill run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.BackfillRun{}, fmt.Errorf("storage: get backfill run: %w", err)
	}
	if r.RunID, err = uuid.Parse(runID); err != nil {
		return model.BackfillRun{}, fmt.Errorf("storage: parse run id: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return model.BackfillRun{}, fmt.Errorf("storage: decode run params: %w", err)
	}
	if err := json.Unmarshal([]byte(summary), &r.Summary); err != nil {
		return model.BackfillRun{}, fmt.Errorf("storage: decode run summary: %w", err)
	}
	if r.StartedAt, err = parseTime(startedAt); err != nil {
		return model.BackfillRun{}, err
	}
	if r.CompletedAt, err = parseTime(completedAt); err != nil {
		return model.BackfillRun{}, err
	}
	return r, nil
}

// CountBackfillRuns returns the number of recorded runs for command, or all
// runs when command is empty.
func (c conn) CountBackfillRuns(ctx context.Context, command string) (int, error) {
	var n int
	err := c.queryRow(ctx,
		`SELECT COUNT(*) FROM backfill_runs WHERE ? = '' OR command = ?`, command, command,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count backfill runs: %w", err)
	}
	return n, nil
}
