package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

const positionColumns = `position_id, topic_set_id, topic_id, person_id, mandate_id, as_of_date,
	computed_method, computed_version, stance, score, confidence, evidence_count, last_evidence_date,
	source_position_id, computed_at`

func scanPosition(rows *sql.Rows) (model.TopicPosition, error) {
	var (
		p          model.TopicPosition
		stance     string
		sourcePos  sql.NullInt64
		computedAt string
	)
	if err := rows.Scan(&p.PositionID, &p.TopicSetID, &p.TopicID, &p.PersonID, &p.MandateID, &p.AsOfDate,
		&p.ComputedMethod, &p.ComputedVersion, &stance, &p.Score, &p.Confidence, &p.EvidenceCount,
		&p.LastEvidenceDate, &sourcePos, &computedAt); err != nil {
		return model.TopicPosition{}, fmt.Errorf("storage: scan position: %w", err)
	}
	p.Stance = model.Stance(stance)
	p.SourcePositionID = int64Ptr(sourcePos)
	t, err := parseTime(computedAt)
	if err != nil {
		return model.TopicPosition{}, err
	}
	p.ComputedAt = t
	return p, nil
}

// PositionScope is one recompute arena: every row sharing as-of date,
// method and version is rebuilt together.
type PositionScope struct {
	AsOfDate string
	Method   string
	Version  string
}

// ListPositions returns the rows of one scope in key order.
func (c conn) ListPositions(ctx context.Context, s PositionScope) ([]model.TopicPosition, error) {
	rows, err := c.query(ctx,
		`SELECT `+positionColumns+` FROM topic_positions
		 WHERE as_of_date = ? AND computed_method = ? AND computed_version = ?
		 ORDER BY topic_set_id, topic_id, person_id, mandate_id`,
		s.AsOfDate, s.Method, s.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list positions: %w", err)
	}
	out, err := collect(rows, scanPosition)
	if err != nil {
		return nil, fmt.Errorf("storage: list positions: %w", err)
	}
	return out, nil
}

// ListPositionsByMethods returns every version of the given methods for one
// as-of date, in key order then position id.
func (c conn) ListPositionsByMethods(ctx context.Context, asOfDate string, methods []string) ([]model.TopicPosition, error) {
	if len(methods) == 0 {
		return nil, nil
	}
	args := append([]any{asOfDate}, anyArgs(methods)...)
	rows, err := c.query(ctx,
		`SELECT `+positionColumns+` FROM topic_positions
		 WHERE as_of_date = ? AND computed_method IN (`+placeholders(len(methods))+`)
		 ORDER BY topic_set_id, topic_id, person_id, mandate_id, position_id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list positions by method: %w", err)
	}
	out, err := collect(rows, scanPosition)
	if err != nil {
		return nil, fmt.Errorf("storage: list positions by method: %w", err)
	}
	return out, nil
}

// DeletePositions removes rows by id.
func (tx *Tx) DeletePositions(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	for _, chunk := range chunks(ids) {
		res, err := tx.exec(ctx,
			`DELETE FROM topic_positions WHERE position_id IN (`+placeholders(len(chunk))+`)`,
			anyArgs(chunk)...,
		)
		if err != nil {
			return total, fmt.Errorf("storage: delete positions: %w", err)
		}
		n, err := rowsAffected(res, "delete positions")
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// UpsertPosition writes one position keyed by its scope key and returns its id.
func (tx *Tx) UpsertPosition(ctx context.Context, p model.TopicPosition) (int64, error) {
	var id int64
	err := tx.queryRow(ctx,
		`INSERT INTO topic_positions (topic_set_id, topic_id, person_id, mandate_id, as_of_date,
		 computed_method, computed_version, stance, score, confidence, evidence_count,
		 last_evidence_date, source_position_id, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (topic_set_id, topic_id, person_id, mandate_id, as_of_date, computed_method, computed_version)
		 DO UPDATE SET
		   stance = excluded.stance,
		   score = excluded.score,
		   confidence = excluded.confidence,
		   evidence_count = excluded.evidence_count,
		   last_evidence_date = excluded.last_evidence_date,
		   source_position_id = excluded.source_position_id,
		   computed_at = excluded.computed_at
		 RETURNING position_id`,
		p.TopicSetID, p.TopicID, p.PersonID, p.MandateID, p.AsOfDate,
		p.ComputedMethod, p.ComputedVersion, string(p.Stance), p.Score, p.Confidence, p.EvidenceCount,
		p.LastEvidenceDate, nullable(p.SourcePositionID), formatTime(p.ComputedAt),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: upsert position %s/%s/%s: %w", p.TopicSetID, p.TopicID, p.PersonID, err)
	}
	return id, nil
}
