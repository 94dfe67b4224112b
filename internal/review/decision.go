package review

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// Stance methods written by reviewer decisions, by where the stance came from.
const (
	MethodReviewFinal     = "review:final"
	MethodReviewSuggested = "review:suggested"
)

// Decision is a human verdict over a set of evidence rows.
type Decision struct {
	EvidenceIDs     []int64
	Status          model.ReviewStatus
	FinalStance     *model.Stance
	FinalConfidence *float64
	Note            string
	DryRun          bool
}

func (d Decision) validate() error {
	if len(d.EvidenceIDs) == 0 {
		return fmt.Errorf("%w: at least one evidence id is required", model.ErrValidation)
	}
	if _, err := model.ParseReviewStatus(string(d.Status)); err != nil {
		return err
	}
	if d.Status != model.ReviewResolved && (d.FinalStance != nil || d.FinalConfidence != nil) {
		return fmt.Errorf("%w: final stance and confidence only apply to resolved decisions", model.ErrValidation)
	}
	if d.FinalStance != nil {
		if _, err := model.ParseStance(string(*d.FinalStance)); err != nil {
			return err
		}
	}
	if d.FinalConfidence != nil {
		if err := model.ValidateConfidence(*d.FinalConfidence); err != nil {
			return err
		}
	}
	return nil
}

// DecisionSummary reports the effect of a decision.
type DecisionSummary struct {
	RunID           string         `json:"run_id,omitempty"`
	DryRun          bool           `json:"dry_run"`
	Applied         bool           `json:"applied"`
	Status          string         `json:"status"`
	Requested       int            `json:"requested"`
	StatusChanged   int            `json:"status_changed"`
	EvidenceUpdated int            `json:"evidence_updated"`
	StanceSources   map[string]int `json:"stance_sources"`
}

type decisionPlan struct {
	updates []storage.StanceUpdate
	ids     []int64
}

// ApplyDecision sets the review status of each row. A resolved decision also
// writes a stance onto the evidence: the explicit final stance, else the
// stored suggestion, else the current evidence stance. Unknown ids abort the
// whole decision before any write.
func (q *Queue) ApplyDecision(ctx context.Context, d Decision) (DecisionSummary, error) {
	if err := d.validate(); err != nil {
		return DecisionSummary{}, fmt.Errorf("review: %w", err)
	}
	ctx, span := telemetry.Start(ctx, "review", "apply_decision",
		attribute.String("status", string(d.Status)), attribute.Bool("dry_run", d.DryRun))
	defer span.End()
	started := time.Now()

	ids := dedupe(d.EvidenceIDs)
	evidence, err := q.db.GetTopicEvidence(ctx, ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return DecisionSummary{}, fmt.Errorf("review: %w", err)
	}
	reviews, err := q.db.GetReviews(ctx, ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return DecisionSummary{}, fmt.Errorf("review: %w", err)
	}

	sum := DecisionSummary{
		DryRun:        d.DryRun,
		Status:        string(d.Status),
		Requested:     len(ids),
		StanceSources: map[string]int{},
	}
	plan := decisionPlan{ids: ids}
	for _, id := range ids {
		ev, ok := evidence[id]
		if !ok {
			return DecisionSummary{}, fmt.Errorf("review: %w: unknown evidence id %d", model.ErrValidation, id)
		}
		rv, ok := reviews[id]
		if !ok {
			return DecisionSummary{}, fmt.Errorf("review: %w: evidence %d is not in the review queue", model.ErrValidation, id)
		}
		if rv.Status != d.Status {
			sum.StatusChanged++
		}
		if d.Status != model.ReviewResolved {
			continue
		}
		u, source := resolveStance(ev, rv, d)
		sum.StanceSources[source]++
		if u != nil {
			plan.updates = append(plan.updates, *u)
			sum.EvidenceUpdated++
		}
	}

	if d.DryRun {
		return sum, nil
	}

	runID := uuid.New()
	sum.RunID = runID.String()
	sum.Applied = true
	err = q.db.InTx(ctx, func(tx *storage.Tx) error {
		for _, u := range plan.updates {
			if err := tx.UpdateEvidenceStance(ctx, u); err != nil {
				return err
			}
		}
		for _, id := range plan.ids {
			if err := tx.SetReviewStatus(ctx, id, d.Status, d.Note); err != nil {
				return err
			}
		}
		params := map[string]any{"evidence_ids": ids, "status": string(d.Status), "note": d.Note}
		if d.FinalStance != nil {
			params["final_stance"] = string(*d.FinalStance)
		}
		if d.FinalConfidence != nil {
			params["final_confidence"] = *d.FinalConfidence
		}
		_, err := tx.CreateBackfillRun(ctx, model.BackfillRun{
			RunID: runID, Command: "review-apply", Params: params, Summary: sum,
			StartedAt: started, CompletedAt: time.Now(),
		})
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return DecisionSummary{}, fmt.Errorf("review: apply decision: %w", err)
	}
	telemetry.RecordRowsWritten(ctx, "review", "topic_evidence", "update", int64(len(plan.updates)))
	telemetry.RecordRowsWritten(ctx, "review", "topic_evidence_reviews", "update", int64(len(plan.ids)))
	q.logger.Info("review: decision applied", "run_id", sum.RunID, "status", d.Status,
		"requested", sum.Requested, "evidence_updated", sum.EvidenceUpdated)
	return sum, nil
}

// resolveStance picks the stance a resolved decision writes and returns the
// update, or nil when the evidence already carries it.
func resolveStance(ev model.TopicEvidence, rv model.TopicEvidenceReview, d Decision) (*storage.StanceUpdate, string) {
	var (
		st     model.Stance
		conf   *float64
		method string
		source string
	)
	switch {
	case d.FinalStance != nil:
		st, method, source = *d.FinalStance, MethodReviewFinal, "final"
		one := 1.0
		conf = &one
	case rv.SuggestedStance != nil:
		st, method, source = *rv.SuggestedStance, MethodReviewSuggested, "suggested"
		conf = rv.SuggestedConfidence
	case ev.Stance != nil:
		return nil, "current"
	default:
		return nil, "none"
	}
	if d.FinalConfidence != nil {
		c := *d.FinalConfidence
		conf = &c
	}
	pol := st.Polarity()
	if ev.Stance != nil && *ev.Stance == st && ev.Polarity != nil && *ev.Polarity == pol &&
		ev.StanceMethod == method && equalConfidence(ev.Confidence, conf) {
		return nil, source
	}
	return &storage.StanceUpdate{EvidenceID: ev.EvidenceID, Stance: st, Polarity: pol, Confidence: conf, Method: method}, source
}

func equalConfidence(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ListSummary is the queue listing returned to operators.
type ListSummary struct {
	Status  string                     `json:"status,omitempty"`
	Counts  map[model.ReviewStatus]int `json:"counts"`
	Entries []storage.ReviewEntry      `json:"entries"`
}

// List returns queue entries, optionally filtered by status.
func (q *Queue) List(ctx context.Context, status string, limit int) (ListSummary, error) {
	var st model.ReviewStatus
	if status != "" {
		var err error
		if st, err = model.ParseReviewStatus(status); err != nil {
			return ListSummary{}, fmt.Errorf("review: %w", err)
		}
	}
	if limit < 0 {
		return ListSummary{}, fmt.Errorf("review: %w: negative limit", model.ErrValidation)
	}
	entries, err := q.db.ListReviews(ctx, st, limit)
	if err != nil {
		return ListSummary{}, fmt.Errorf("review: %w", err)
	}
	if entries == nil {
		entries = []storage.ReviewEntry{}
	}
	return ListSummary{Status: status, Counts: q.queueSnapshot(ctx), Entries: entries}, nil
}
