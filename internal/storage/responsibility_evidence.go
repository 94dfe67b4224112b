package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

const respEvidenceColumns = `evidence_id, responsibility_id, evidence_type, evidence_date, source_id,
	source_url, source_record_pk, vote_event_id, initiative_id, observation_id, evidence_quote,
	match_method, match_confidence, confidence_label, raw_payload, created_at, updated_at`

func scanResponsibilityEvidence(rows *sql.Rows) (model.ResponsibilityEvidence, error) {
	var (
		e                    model.ResponsibilityEvidence
		recordPK             sql.NullInt64
		voteID, obsID        sql.NullString
		confidence           sql.NullFloat64
		createdAt, updatedAt string
	)
	if err := rows.Scan(&e.EvidenceID, &e.ResponsibilityID, &e.EvidenceType, &e.EvidenceDate, &e.SourceID,
		&e.SourceURL, &recordPK, &voteID, &e.InitiativeID, &obsID, &e.EvidenceQuote,
		&e.MatchMethod, &confidence, &e.ConfidenceLabel, &e.RawPayload, &createdAt, &updatedAt); err != nil {
		return model.ResponsibilityEvidence{}, fmt.Errorf("storage: scan responsibility evidence: %w", err)
	}
	e.SourceRecordPK = int64Ptr(recordPK)
	e.VoteEventID = strPtr(voteID)
	e.ObservationID = strPtr(obsID)
	e.MatchConfidence = floatPtr(confidence)
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.ResponsibilityEvidence{}, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.ResponsibilityEvidence{}, err
	}
	return e, nil
}

// ListResponsibilityEvidence returns every row whose evidence_type is in
// types, ordered by evidence id.
func (c conn) ListResponsibilityEvidence(ctx context.Context, types []string) ([]model.ResponsibilityEvidence, error) {
	if len(types) == 0 {
		return nil, nil
	}
	rows, err := c.query(ctx,
		`SELECT `+respEvidenceColumns+` FROM legal_fragment_responsibility_evidence
		 WHERE evidence_type IN (`+placeholders(len(types))+`)
		 ORDER BY evidence_id`,
		anyArgs(types)...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list responsibility evidence: %w", err)
	}
	out, err := collect(rows, scanResponsibilityEvidence)
	if err != nil {
		return nil, fmt.Errorf("storage: list responsibility evidence: %w", err)
	}
	return out, nil
}

// ListEvidenceForResponsibilities returns all rows of the given
// responsibilities, ordered by responsibility then evidence id.
func (c conn) ListEvidenceForResponsibilities(ctx context.Context, ids []int64) ([]model.ResponsibilityEvidence, error) {
	var out []model.ResponsibilityEvidence
	for _, chunk := range chunks(ids) {
		rows, err := c.query(ctx,
			`SELECT `+respEvidenceColumns+` FROM legal_fragment_responsibility_evidence
			 WHERE responsibility_id IN (`+placeholders(len(chunk))+`)
			 ORDER BY responsibility_id, evidence_id`,
			anyArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: list evidence for responsibilities: %w", err)
		}
		evs, err := collect(rows, scanResponsibilityEvidence)
		if err != nil {
			return nil, fmt.Errorf("storage: list evidence for responsibilities: %w", err)
		}
		out = append(out, evs...)
	}
	return out, nil
}

// InsertResponsibilityEvidence writes a new row and returns its id.
func (tx *Tx) InsertResponsibilityEvidence(ctx context.Context, e model.ResponsibilityEvidence) (int64, error) {
	now := formatTime(time.Now())
	var id int64
	err := tx.queryRow(ctx,
		`INSERT INTO legal_fragment_responsibility_evidence (responsibility_id, evidence_type,
		 evidence_date, source_id, source_url, source_record_pk, vote_event_id, initiative_id,
		 observation_id, evidence_quote, match_method, match_confidence, confidence_label,
		 raw_payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING evidence_id`,
		e.ResponsibilityID, e.EvidenceType, e.EvidenceDate, e.SourceID, e.SourceURL,
		nullable(e.SourceRecordPK), nullable(e.VoteEventID), e.InitiativeID, nullable(e.ObservationID),
		e.EvidenceQuote, e.MatchMethod, nullable(e.MatchConfidence), e.ConfidenceLabel, e.RawPayload, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storage: insert responsibility evidence for %d: %w", e.ResponsibilityID, err)
	}
	return id, nil
}

// UpdateResponsibilityEvidence rewrites the content of an existing row,
// including its vote and observation keys so legacy rows gain them.
func (tx *Tx) UpdateResponsibilityEvidence(ctx context.Context, e model.ResponsibilityEvidence) error {
	res, err := tx.exec(ctx,
		`UPDATE legal_fragment_responsibility_evidence SET
		   evidence_date = ?, source_id = ?, source_url = ?, source_record_pk = ?, vote_event_id = ?,
		   initiative_id = ?, observation_id = ?, evidence_quote = ?, match_method = ?,
		   match_confidence = ?, confidence_label = ?, raw_payload = ?, updated_at = ?
		 WHERE evidence_id = ?`,
		e.EvidenceDate, e.SourceID, e.SourceURL, nullable(e.SourceRecordPK), nullable(e.VoteEventID),
		e.InitiativeID, nullable(e.ObservationID), e.EvidenceQuote, e.MatchMethod,
		nullable(e.MatchConfidence), e.ConfidenceLabel, e.RawPayload, formatTime(time.Now()), e.EvidenceID,
	)
	if err != nil {
		return fmt.Errorf("storage: update responsibility evidence %d: %w", e.EvidenceID, err)
	}
	n, err := rowsAffected(res, "update responsibility evidence")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("storage: update responsibility evidence %d: %w", e.EvidenceID, ErrIntegrity)
	}
	return nil
}

// DeleteResponsibilityEvidence removes rows by id.
func (tx *Tx) DeleteResponsibilityEvidence(ctx context.Context, ids []int64) (int64, error) {
	var total int64
	for _, chunk := range chunks(ids) {
		res, err := tx.exec(ctx,
			`DELETE FROM legal_fragment_responsibility_evidence WHERE evidence_id IN (`+placeholders(len(chunk))+`)`,
			anyArgs(chunk)...,
		)
		if err != nil {
			return total, fmt.Errorf("storage: delete responsibility evidence: %w", err)
		}
		n, err := rowsAffected(res, "delete responsibility evidence")
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// EvidenceCoverageStats holds vote-evidence coverage for a role scope.
type EvidenceCoverageStats struct {
	TotalResponsibilities int     `json:"total_responsibilities"`
	WithVoteEvidence      int     `json:"with_vote_evidence"`
	WithoutVoteEvidence   int     `json:"without_vote_evidence"`
	CoveragePercent       float64 `json:"coverage_percent"`
}

// GetEvidenceCoverageStats returns how many responsibilities under roles have
// at least one vote evidence row.
func (c conn) GetEvidenceCoverageStats(ctx context.Context, roles []model.Role) (EvidenceCoverageStats, error) {
	var s EvidenceCoverageStats
	if len(roles) == 0 {
		return s, fmt.Errorf("%w: role filter is empty", model.ErrValidation)
	}
	args := anyArgs(model.VoteEvidenceTypes)
	args = append(args, anyArgs(model.RoleStrings(roles))...)
	err := c.queryRow(ctx,
		`SELECT COUNT(DISTINCT r.responsibility_id) AS total,
		        COUNT(DISTINCT e.responsibility_id) AS with_evidence
		 FROM legal_fragment_responsibilities r
		 LEFT JOIN legal_fragment_responsibility_evidence e
		   ON e.responsibility_id = r.responsibility_id
		  AND (e.evidence_type IN (`+placeholders(len(model.VoteEvidenceTypes))+`) OR e.vote_event_id IS NOT NULL)
		 WHERE r.role IN (`+placeholders(len(roles))+`)`,
		args...,
	).Scan(&s.TotalResponsibilities, &s.WithVoteEvidence)
	if err != nil {
		return s, fmt.Errorf("storage: evidence coverage stats: %w", err)
	}
	s.WithoutVoteEvidence = s.TotalResponsibilities - s.WithVoteEvidence
	if s.TotalResponsibilities > 0 {
		s.CoveragePercent = float64(s.WithVoteEvidence) / float64(s.TotalResponsibilities) * 100
	}
	return s, nil
}
