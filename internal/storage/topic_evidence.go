package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

const topicEvidenceColumns = `evidence_id, evidence_key, topic_id, topic_set_id, person_id, mandate_id,
	evidence_type, evidence_date, excerpt, stance, polarity, weight, confidence, stance_method,
	source_id, source_url, source_record_pk`

func scanTopicEvidence(rows *sql.Rows) (model.TopicEvidence, error) {
	var (
		e          model.TopicEvidence
		stance     sql.NullString
		polarity   sql.NullInt64
		confidence sql.NullFloat64
		recordPK   sql.NullInt64
	)
	if err := rows.Scan(&e.EvidenceID, &e.EvidenceKey, &e.TopicID, &e.TopicSetID, &e.PersonID, &e.MandateID,
		&e.EvidenceType, &e.EvidenceDate, &e.Excerpt, &stance, &polarity, &e.Weight, &confidence,
		&e.StanceMethod, &e.SourceID, &e.SourceURL, &recordPK); err != nil {
		return model.TopicEvidence{}, fmt.Errorf("storage: scan topic evidence: %w", err)
	}
	if stance.Valid {
		s := model.Stance(stance.String)
		e.Stance = &s
	}
	e.Polarity = intPtr(polarity)
	e.Confidence = floatPtr(confidence)
	e.SourceRecordPK = int64Ptr(recordPK)
	return e, nil
}

// DeclaredEvidenceFilter narrows the declared evidence scan.
type DeclaredEvidenceFilter struct {
	SourceID   string // empty means every source
	TopicSetID string // empty means every topic set
	Limit      int    // zero means unlimited
}

// ListDeclaredEvidence returns declared:* rows in the stable scan order
// (topic_set_id, source_record_pk, evidence_id). Rows without a source record
// sort first in both dialects.
func (c conn) ListDeclaredEvidence(ctx context.Context, f DeclaredEvidenceFilter) ([]model.TopicEvidence, error) {
	q := `SELECT ` + topicEvidenceColumns + ` FROM topic_evidence WHERE evidence_type LIKE ?`
	args := []any{model.DeclaredPrefix + "%"}
	if f.SourceID != "" {
		q += ` AND source_id = ?`
		args = append(args, f.SourceID)
	}
	if f.TopicSetID != "" {
		q += ` AND topic_set_id = ?`
		args = append(args, f.TopicSetID)
	}
	q += ` ORDER BY topic_set_id ASC, COALESCE(source_record_pk, 0) ASC, evidence_id ASC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list declared evidence: %w", err)
	}
	out, err := collect(rows, scanTopicEvidence)
	if err != nil {
		return nil, fmt.Errorf("storage: list declared evidence: %w", err)
	}
	return out, nil
}

// EvidenceKind selects declared or vote-derived evidence for aggregation.
type EvidenceKind int

const (
	EvidenceDeclared EvidenceKind = iota
	EvidenceVoteDerived
)

// ListSignalEvidence returns rows of the given kind dated on or before
// asOfDate whose polarity is set, ordered by (topic_set_id, topic_id,
// person_id, mandate_id, evidence_date, evidence_id).
func (c conn) ListSignalEvidence(ctx context.Context, kind EvidenceKind, asOfDate, sourceID string) ([]model.TopicEvidence, error) {
	op := "LIKE"
	if kind == EvidenceVoteDerived {
		op = "NOT LIKE"
	}
	q := `SELECT ` + topicEvidenceColumns + ` FROM topic_evidence
		WHERE evidence_type ` + op + ` ? AND polarity IN (-1, 0, 1) AND evidence_date <= ?`
	args := []any{model.DeclaredPrefix + "%", asOfDate}
	if sourceID != "" {
		q += ` AND source_id = ?`
		args = append(args, sourceID)
	}
	q += ` ORDER BY topic_set_id, topic_id, person_id, mandate_id, evidence_date, evidence_id`
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list signal evidence: %w", err)
	}
	out, err := collect(rows, scanTopicEvidence)
	if err != nil {
		return nil, fmt.Errorf("storage: list signal evidence: %w", err)
	}
	return out, nil
}

// GetTopicEvidence returns the rows with the given ids keyed by id. Missing
// ids are absent from the map.
func (c conn) GetTopicEvidence(ctx context.Context, ids []int64) (map[int64]model.TopicEvidence, error) {
	out := make(map[int64]model.TopicEvidence, len(ids))
	for _, chunk := range chunks(ids) {
		rows, err := c.query(ctx,
			`SELECT `+topicEvidenceColumns+` FROM topic_evidence WHERE evidence_id IN (`+placeholders(len(chunk))+`)`,
			anyArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: get topic evidence: %w", err)
		}
		evs, err := collect(rows, scanTopicEvidence)
		if err != nil {
			return nil, fmt.Errorf("storage: get topic evidence: %w", err)
		}
		for _, e := range evs {
			out[e.EvidenceID] = e
		}
	}
	return out, nil
}

// GetTopicEvidenceByKey returns the row with the given import key.
func (c conn) GetTopicEvidenceByKey(ctx context.Context, key string) (model.TopicEvidence, error) {
	rows, err := c.query(ctx, `SELECT `+topicEvidenceColumns+` FROM topic_evidence WHERE evidence_key = ?`, key)
	if err != nil {
		return model.TopicEvidence{}, fmt.Errorf("storage: get topic evidence %q: %w", key, err)
	}
	evs, err := collect(rows, scanTopicEvidence)
	if err != nil {
		return model.TopicEvidence{}, fmt.Errorf("storage: get topic evidence %q: %w", key, err)
	}
	if len(evs) == 0 {
		return model.TopicEvidence{}, fmt.Errorf("storage: topic evidence %q: %w", key, ErrNotFound)
	}
	return evs[0], nil
}

// StanceUpdate is a classifier or reviewer conclusion for one evidence row.
type StanceUpdate struct {
	EvidenceID int64
	Stance     model.Stance
	Polarity   int
	Confidence *float64
	Method     string
}

// UpdateEvidenceStance writes stance, polarity, confidence and stance_method.
// A missing row is an integrity error.
func (tx *Tx) UpdateEvidenceStance(ctx context.Context, u StanceUpdate) error {
	res, err := tx.exec(ctx,
		`UPDATE topic_evidence
		 SET stance = ?, polarity = ?, confidence = ?, stance_method = ?, updated_at = ?
		 WHERE evidence_id = ?`,
		string(u.Stance), u.Polarity, nullable(u.Confidence), u.Method, formatTime(time.Now()), u.EvidenceID,
	)
	if err != nil {
		return fmt.Errorf("storage: update evidence stance %d: %w", u.EvidenceID, err)
	}
	n, err := rowsAffected(res, "update evidence stance")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("storage: update evidence stance %d: %w", u.EvidenceID, ErrIntegrity)
	}
	return nil
}

// UpsertTopicEvidence inserts or refreshes a row keyed by evidence_key and
// returns its id. Stance fields are only overwritten by non-null incoming
// values, so re-importing a row never erases a classification.
func (tx *Tx) UpsertTopicEvidence(ctx context.Context, e model.TopicEvidence) (int64, error) {
	var stance any
	if e.Stance != nil {
		stance = string(*e.Stance)
	}
	now := formatTime(time.Now())
	var id int64
	err := tx.queryRow(ctx,
		`INSERT INTO topic_evidence (evidence_key, topic_id, topic_set_id, person_id, mandate_id,
		 evidence_type, evidence_date, excerpt, stance, polarity, weight, confidence, stance_method,
		 source_id, source_url, source_record_pk, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (evidence_key) DO UPDATE SET
		   topic_id = excluded.topic_id,
		   topic_set_id = excluded.topic_set_id,
		   person_id = excluded.person_id,
		   mandate_id = excluded.mandate_id,
		   evidence_type = excluded.evidence_type,
		   evidence_date = excluded.evidence_date,
		   excerpt = excluded.excerpt,
		   stance = COALESCE(excluded.stance, topic_evidence.stance),
		   polarity = COALESCE(excluded.polarity, topic_evidence.polarity),
		   weight = excluded.weight,
		   confidence = COALESCE(excluded.confidence, topic_evidence.confidence),
		   stance_method = CASE WHEN excluded.stance_method = '' THEN topic_evidence.stance_method ELSE excluded.stance_method END,
		   source_id = excluded.source_id,
		   source_url = excluded.source_url,
		   source_record_pk = excluded.source_record_pk,
		   updated_at = excluded.updated_at
		 RETURNING evidence_id`,
		e.EvidenceKey, e.TopicID, e.TopicSetID, e.PersonID, e.MandateID,
		e.EvidenceType, e.EvidenceDate, e.Excerpt, stance, nullable(e.Polarity), e.Weight, nullable(e.Confidence), e.StanceMethod,
		e.SourceID, e.SourceURL, nullable(e.SourceRecordPK), now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: upsert topic evidence %q: %w", e.EvidenceKey, err)
	}
	return id, nil
}

// CountTopicEvidence returns the number of rows whose evidence_type starts
// with prefix (empty for all rows).
func (c conn) CountTopicEvidence(ctx context.Context, prefix string) (int, error) {
	var n int
	err := c.queryRow(ctx,
		`SELECT COUNT(*) FROM topic_evidence WHERE evidence_type LIKE ?`,
		strings.ReplaceAll(prefix, "%", "")+"%",
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count topic evidence: %w", err)
	}
	return n, nil
}
