package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

// SourceRecordWrite is the outcome of UpsertSourceRecord.
type SourceRecordWrite int

const (
	SourceRecordUnchanged SourceRecordWrite = iota
	SourceRecordInserted
	SourceRecordUpdated
)

// UpsertSource inserts a source or refreshes its name and base URL.
func (tx *Tx) UpsertSource(ctx context.Context, s model.Source) error {
	_, err := tx.exec(ctx,
		`INSERT INTO sources (source_id, name, base_url, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (source_id) DO UPDATE SET name = excluded.name, base_url = excluded.base_url`,
		s.SourceID, s.Name, s.BaseURL, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("storage: upsert source %s: %w", s.SourceID, err)
	}
	return nil
}

// GetSourceRecord returns the record with the given external key.
func (c conn) GetSourceRecord(ctx context.Context, sourceID, sourceRecordID string) (model.SourceRecord, error) {
	var r model.SourceRecord
	err := c.queryRow(ctx,
		`SELECT id, source_id, source_record_id, source_url, snapshot_date, content_hash, raw_payload
		 FROM source_records WHERE source_id = ? AND source_record_id = ?`,
		sourceID, sourceRecordID,
	).Scan(&r.ID, &r.SourceID, &r.SourceRecordID, &r.SourceURL, &r.SnapshotDate, &r.ContentHash, &r.RawPayload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SourceRecord{}, fmt.Errorf("storage: source record %s/%s: %w", sourceID, sourceRecordID, ErrNotFound)
	}
	if err != nil {
		return model.SourceRecord{}, fmt.Errorf("storage: get source record: %w", err)
	}
	return r, nil
}

// FindSourceRecordPK looks a record up by its external key within sourceID.
// An empty sourceID searches every source, and the oldest matching row wins
// so the answer is stable.
func (c conn) FindSourceRecordPK(ctx context.Context, sourceID, sourceRecordID string) (int64, bool, error) {
	q := `SELECT id FROM source_records WHERE source_record_id = ?`
	args := []any{sourceRecordID}
	if sourceID != "" {
		q += ` AND source_id = ?`
		args = append(args, sourceID)
	}
	var id int64
	err := c.queryRow(ctx, q+` ORDER BY id ASC LIMIT 1`, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage: find source record %q: %w", sourceRecordID, err)
	}
	return id, true, nil
}

// SourceIDOfRecord returns the source a source_records row belongs to.
func (c conn) SourceIDOfRecord(ctx context.Context, pk int64) (string, error) {
	var id string
	err := c.queryRow(ctx, `SELECT source_id FROM source_records WHERE id = ?`, pk).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("storage: source record %d: %w", pk, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("storage: source of record %d: %w", pk, err)
	}
	return id, nil
}

// SourceRecordExists reports whether a source_records row with pk exists.
func (c conn) SourceRecordExists(ctx context.Context, pk int64) (bool, error) {
	var n int64
	if err := c.queryRow(ctx, `SELECT COUNT(*) FROM source_records WHERE id = ?`, pk).Scan(&n); err != nil {
		return false, fmt.Errorf("storage: check source record %d: %w", pk, err)
	}
	return n > 0, nil
}

// UpsertSourceRecord inserts a record, or rewrites it when its content hash
// changed. A record with an identical hash is left untouched. The returned
// id is always the row's primary key.
func (tx *Tx) UpsertSourceRecord(ctx context.Context, r model.SourceRecord) (int64, SourceRecordWrite, error) {
	existing, err := tx.GetSourceRecord(ctx, r.SourceID, r.SourceRecordID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return 0, SourceRecordUnchanged, err
	case existing.ContentHash == r.ContentHash:
		return existing.ID, SourceRecordUnchanged, nil
	default:
		_, err := tx.exec(ctx,
			`UPDATE source_records
			 SET source_url = ?, snapshot_date = ?, content_hash = ?, raw_payload = ?, updated_at = ?
			 WHERE id = ?`,
			r.SourceURL, r.SnapshotDate, r.ContentHash, r.RawPayload, formatTime(time.Now()), existing.ID,
		)
		if err != nil {
			return 0, SourceRecordUnchanged, fmt.Errorf("storage: update source record %d: %w", existing.ID, err)
		}
		return existing.ID, SourceRecordUpdated, nil
	}

	now := formatTime(time.Now())
	var id int64
	err = tx.queryRow(ctx,
		`INSERT INTO source_records (source_id, source_record_id, source_url, snapshot_date,
		 content_hash, raw_payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		r.SourceID, r.SourceRecordID, r.SourceURL, r.SnapshotDate, r.ContentHash, r.RawPayload, now, now,
	).Scan(&id)
	if err != nil {
		return 0, SourceRecordUnchanged, fmt.Errorf("storage: insert source record %s/%s: %w", r.SourceID, r.SourceRecordID, err)
	}
	return id, SourceRecordInserted, nil
}
