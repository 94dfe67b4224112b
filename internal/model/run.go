package model

import (
	"time"

	"github.com/google/uuid"
)

// BackfillRun records one live execution of a backfill command.
// Dry runs never produce a row.
type BackfillRun struct {
	RunID       uuid.UUID      `json:"run_id"`
	Command     string         `json:"command"`
	Params      map[string]any `json:"params"`
	Summary     any            `json:"summary"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}
