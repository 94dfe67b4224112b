package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

// ListObservations returns sanction volume observations ordered by
// observation id. A zero limit is unlimited.
func (c conn) ListObservations(ctx context.Context, limit int) ([]model.SanctionVolumeObservation, error) {
	q := `SELECT observation_id, source_id, source_record_id, source_url, boe_id, fragment_id,
		period_date, metric, value
		FROM sanction_volume_observations ORDER BY observation_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list observations: %w", err)
	}
	out, err := collect(rows, func(r *sql.Rows) (model.SanctionVolumeObservation, error) {
		var o model.SanctionVolumeObservation
		return o, r.Scan(&o.ObservationID, &o.SourceID, &o.SourceRecordID, &o.SourceURL, &o.BOEID,
			&o.FragmentID, &o.PeriodDate, &o.Metric, &o.Value)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list observations: %w", err)
	}
	return out, nil
}

// UpsertObservation inserts or refreshes an observation.
func (tx *Tx) UpsertObservation(ctx context.Context, o model.SanctionVolumeObservation) error {
	_, err := tx.exec(ctx,
		`INSERT INTO sanction_volume_observations (observation_id, source_id, source_record_id,
		 source_url, boe_id, fragment_id, period_date, metric, value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (observation_id) DO UPDATE SET
		   source_id = excluded.source_id,
		   source_record_id = excluded.source_record_id,
		   source_url = excluded.source_url,
		   boe_id = excluded.boe_id,
		   fragment_id = excluded.fragment_id,
		   period_date = excluded.period_date,
		   metric = excluded.metric,
		   value = excluded.value`,
		o.ObservationID, o.SourceID, o.SourceRecordID, o.SourceURL, o.BOEID, o.FragmentID,
		o.PeriodDate, o.Metric, o.Value,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert observation %s: %w", o.ObservationID, err)
	}
	return nil
}
