package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

const reviewColumns = `evidence_id, review_reason, status, suggested_stance, suggested_polarity,
	suggested_confidence, suggested_method, note, created_at, updated_at`

func scanReview(rows *sql.Rows) (model.TopicEvidenceReview, error) {
	var (
		r                    model.TopicEvidenceReview
		reason, status       string
		stance               sql.NullString
		polarity             sql.NullInt64
		confidence           sql.NullFloat64
		createdAt, updatedAt string
	)
	if err := rows.Scan(&r.EvidenceID, &reason, &status, &stance, &polarity, &confidence,
		&r.SuggestedMethod, &r.Note, &createdAt, &updatedAt); err != nil {
		return model.TopicEvidenceReview{}, fmt.Errorf("storage: scan review: %w", err)
	}
	r.Reason = model.ReviewReason(reason)
	r.Status = model.ReviewStatus(status)
	if stance.Valid {
		s := model.Stance(stance.String)
		r.SuggestedStance = &s
	}
	r.SuggestedPolarity = intPtr(polarity)
	r.SuggestedConfidence = floatPtr(confidence)
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.TopicEvidenceReview{}, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return model.TopicEvidenceReview{}, err
	}
	return r, nil
}

// GetReviews returns the review rows for ids keyed by evidence id.
func (c conn) GetReviews(ctx context.Context, ids []int64) (map[int64]model.TopicEvidenceReview, error) {
	out := make(map[int64]model.TopicEvidenceReview, len(ids))
	for _, chunk := range chunks(ids) {
		rows, err := c.query(ctx,
			`SELECT `+reviewColumns+` FROM topic_evidence_reviews WHERE evidence_id IN (`+placeholders(len(chunk))+`)`,
			anyArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("storage: get reviews: %w", err)
		}
		rs, err := collect(rows, scanReview)
		if err != nil {
			return nil, fmt.Errorf("storage: get reviews: %w", err)
		}
		for _, r := range rs {
			out[r.EvidenceID] = r
		}
	}
	return out, nil
}

// ReviewEntry is a queue row joined to the evidence it is about.
type ReviewEntry struct {
	model.TopicEvidenceReview
	Evidence model.TopicEvidence `json:"evidence"`
}

// ListReviews returns queue rows in evidence id order. An empty status lists
// every status; a zero limit is unlimited.
func (c conn) ListReviews(ctx context.Context, status model.ReviewStatus, limit int) ([]ReviewEntry, error) {
	q := `SELECT ` + reviewColumns + ` FROM topic_evidence_reviews`
	var args []any
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY evidence_id ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list reviews: %w", err)
	}
	reviews, err := collect(rows, scanReview)
	if err != nil {
		return nil, fmt.Errorf("storage: list reviews: %w", err)
	}

	ids := make([]int64, len(reviews))
	for i, r := range reviews {
		ids[i] = r.EvidenceID
	}
	evidence, err := c.GetTopicEvidence(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]ReviewEntry, 0, len(reviews))
	for _, r := range reviews {
		ev, ok := evidence[r.EvidenceID]
		if !ok {
			return nil, fmt.Errorf("storage: review %d has no evidence row: %w", r.EvidenceID, ErrIntegrity)
		}
		out = append(out, ReviewEntry{TopicEvidenceReview: r, Evidence: ev})
	}
	return out, nil
}

// CountReviewsByStatus returns queue sizes per status.
func (c conn) CountReviewsByStatus(ctx context.Context) (map[model.ReviewStatus]int, error) {
	rows, err := c.query(ctx, `SELECT status, COUNT(*) FROM topic_evidence_reviews GROUP BY status ORDER BY status`)
	if err != nil {
		return nil, fmt.Errorf("storage: count reviews: %w", err)
	}
	type pair struct {
		status string
		n      int
	}
	pairs, err := collect(rows, func(r *sql.Rows) (pair, error) {
		var p pair
		return p, r.Scan(&p.status, &p.n)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: count reviews: %w", err)
	}
	out := make(map[model.ReviewStatus]int, len(pairs))
	for _, p := range pairs {
		out[model.ReviewStatus(p.status)] = p.n
	}
	return out, nil
}

// UpsertReview queues evidence for review. On conflict the reason and
// suggestions are refreshed; an ignored row keeps its status, anything else
// takes the incoming status.
func (tx *Tx) UpsertReview(ctx context.Context, r model.TopicEvidenceReview) error {
	var stance any
	if r.SuggestedStance != nil {
		stance = string(*r.SuggestedStance)
	}
	now := formatTime(time.Now())
	_, err := tx.exec(ctx,
		`INSERT INTO topic_evidence_reviews (evidence_id, review_reason, status, suggested_stance,
		 suggested_polarity, suggested_confidence, suggested_method, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (evidence_id) DO UPDATE SET
		   review_reason = excluded.review_reason,
		   status = CASE WHEN topic_evidence_reviews.status = 'ignored' THEN 'ignored' ELSE excluded.status END,
		   suggested_stance = excluded.suggested_stance,
		   suggested_polarity = excluded.suggested_polarity,
		   suggested_confidence = excluded.suggested_confidence,
		   suggested_method = excluded.suggested_method,
		   updated_at = excluded.updated_at`,
		r.EvidenceID, string(r.Reason), string(r.Status), stance,
		nullable(r.SuggestedPolarity), nullable(r.SuggestedConfidence), r.SuggestedMethod, r.Note, now, now,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert review %d: %w", r.EvidenceID, err)
	}
	return nil
}

// ResolvePendingReview marks a pending review resolved. It reports whether a
// row changed; resolved and ignored rows are left alone.
func (tx *Tx) ResolvePendingReview(ctx context.Context, evidenceID int64) (bool, error) {
	res, err := tx.exec(ctx,
		`UPDATE topic_evidence_reviews SET status = 'resolved', updated_at = ?
		 WHERE evidence_id = ? AND status = 'pending'`,
		formatTime(time.Now()), evidenceID,
	)
	if err != nil {
		return false, fmt.Errorf("storage: resolve review %d: %w", evidenceID, err)
	}
	n, err := rowsAffected(res, "resolve review")
	return n > 0, err
}

// SetReviewStatus applies a human decision to an existing review row. A
// non-empty note replaces the stored note.
func (tx *Tx) SetReviewStatus(ctx context.Context, evidenceID int64, status model.ReviewStatus, note string) error {
	res, err := tx.exec(ctx,
		`UPDATE topic_evidence_reviews
		 SET status = ?, note = CASE WHEN ? = '' THEN note ELSE ? END, updated_at = ?
		 WHERE evidence_id = ?`,
		string(status), note, note, formatTime(time.Now()), evidenceID,
	)
	if err != nil {
		return fmt.Errorf("storage: set review status %d: %w", evidenceID, err)
	}
	n, err := rowsAffected(res, "set review status")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("storage: set review status %d: %w", evidenceID, ErrIntegrity)
	}
	return nil
}
