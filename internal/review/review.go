// Package review routes low-confidence stance inferences to a human review
// queue and applies reviewer decisions back onto topic evidence.
//
// Every write path plans first and applies second: the plan is computed from
// reads alone, so a dry run reports exactly the counts a live run would.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/stance"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// DefaultThreshold is the auto-accept confidence below which classifier
// output is queued instead of written.
const DefaultThreshold = 0.62

// Queue owns the topic_evidence_reviews table.
type Queue struct {
	db         *storage.DB
	classifier *stance.Classifier
	logger     *slog.Logger
	sampleSize int
}

// New creates a review queue. sampleSize bounds the sample rows carried in
// summaries.
func New(db *storage.DB, classifier *stance.Classifier, logger *slog.Logger, sampleSize int) *Queue {
	if sampleSize < 0 {
		sampleSize = 0
	}
	return &Queue{db: db, classifier: classifier, logger: logger, sampleSize: sampleSize}
}

// Params scopes a reclassification pass.
type Params struct {
	SourceID   string
	TopicSetID string
	Limit      int
	Threshold  float64
	DryRun     bool
}

// Sample is one queued row shown in a summary.
type Sample struct {
	EvidenceID int64              `json:"evidence_id"`
	Reason     model.ReviewReason `json:"review_reason"`
	Excerpt    string             `json:"excerpt"`
}

// ReclassifySummary reports what a reclassification pass did or would do.
type ReclassifySummary struct {
	RunID            string                     `json:"run_id,omitempty"`
	DryRun           bool                       `json:"dry_run"`
	Applied          bool                       `json:"applied"`
	Threshold        float64                    `json:"threshold"`
	Method           string                     `json:"method"`
	Scanned          int                        `json:"scanned"`
	Accepted         int                        `json:"accepted"`
	EvidenceUpdated  int                        `json:"evidence_updated"`
	EvidenceSame     int                        `json:"evidence_unchanged"`
	ReviewsResolved  int                        `json:"reviews_resolved"`
	Queued           int                        `json:"queued"`
	QueuedByReason   map[model.ReviewReason]int `json:"queued_by_reason"`
	QueuedNew        int                        `json:"queued_new"`
	IgnoredPreserved int                        `json:"ignored_preserved"`
	AcceptedByReason map[string]int             `json:"accepted_by_reason"`
	QueueBefore      map[model.ReviewStatus]int `json:"queue_before"`
	Samples          []Sample                   `json:"samples"`
}

type reclassifyPlan struct {
	updates  []storage.StanceUpdate
	resolves []int64
	queue    []model.TopicEvidenceReview
}

// Reclassify runs the stance classifier over declared evidence and either
// writes confident results back or queues the row for review. An ignored
// review is never reopened.
func (q *Queue) Reclassify(ctx context.Context, p Params) (ReclassifySummary, error) {
	if err := model.ValidateConfidence(p.Threshold); err != nil {
		return ReclassifySummary{}, fmt.Errorf("review: threshold: %w", err)
	}
	if p.Limit < 0 {
		return ReclassifySummary{}, fmt.Errorf("review: %w: negative limit", model.ErrValidation)
	}

	ctx, span := telemetry.Start(ctx, "review", "reclassify",
		attribute.Bool("dry_run", p.DryRun), attribute.Float64("threshold", p.Threshold))
	defer span.End()
	started := time.Now()

	rows, err := q.db.ListDeclaredEvidence(ctx, storage.DeclaredEvidenceFilter{
		SourceID: p.SourceID, TopicSetID: p.TopicSetID, Limit: p.Limit,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ReclassifySummary{}, fmt.Errorf("review: %w", err)
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.EvidenceID
	}
	existing, err := q.db.GetReviews(ctx, ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ReclassifySummary{}, fmt.Errorf("review: %w", err)
	}

	sum := ReclassifySummary{
		DryRun:           p.DryRun,
		Threshold:        p.Threshold,
		Method:           q.classifier.Version(),
		Scanned:          len(rows),
		QueuedByReason:   map[model.ReviewReason]int{},
		AcceptedByReason: map[string]int{},
		QueueBefore:      q.queueSnapshot(ctx),
		Samples:          []Sample{},
	}

	var plan reclassifyPlan
	for _, ev := range rows {
		review, res, accepted := q.decide(ev, p.Threshold)
		if !accepted {
			plan.queue = append(plan.queue, review)
			sum.Queued++
			sum.QueuedByReason[review.Reason]++
			prev, ok := existing[ev.EvidenceID]
			switch {
			case !ok:
				sum.QueuedNew++
			case prev.Status == model.ReviewIgnored:
				sum.IgnoredPreserved++
			}
			if len(sum.Samples) < q.sampleSize {
				sum.Samples = append(sum.Samples, Sample{
					EvidenceID: ev.EvidenceID, Reason: review.Reason, Excerpt: truncate(ev.Excerpt, 160),
				})
			}
			continue
		}

		sum.Accepted++
		sum.AcceptedByReason[res.Reason]++
		if stanceDiffers(ev, res) {
			conf := res.Confidence
			plan.updates = append(plan.updates, storage.StanceUpdate{
				EvidenceID: ev.EvidenceID, Stance: res.Stance, Polarity: res.Polarity,
				Confidence: &conf, Method: res.Method,
			})
			sum.EvidenceUpdated++
		} else {
			sum.EvidenceSame++
		}
		if prev, ok := existing[ev.EvidenceID]; ok && prev.Status == model.ReviewPending {
			plan.resolves = append(plan.resolves, ev.EvidenceID)
			sum.ReviewsResolved++
		}
	}

	span.SetAttributes(
		attribute.Int("scanned", sum.Scanned),
		attribute.Int("queued", sum.Queued),
		attribute.Int("evidence_updated", sum.EvidenceUpdated),
	)

	if p.DryRun {
		q.logger.Info("review: reclassify dry run", "scanned", sum.Scanned, "queued", sum.Queued,
			"evidence_updated", sum.EvidenceUpdated)
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
		for _, id := range plan.resolves {
			if _, err := tx.ResolvePendingReview(ctx, id); err != nil {
				return err
			}
		}
		for _, r := range plan.queue {
			if err := tx.UpsertReview(ctx, r); err != nil {
				return err
			}
		}
		_, err := tx.CreateBackfillRun(ctx, model.BackfillRun{
			RunID:   runID,
			Command: "reclassify",
			Params: map[string]any{
				"source_id": p.SourceID, "topic_set_id": p.TopicSetID, "limit": p.Limit, "threshold": p.Threshold,
			},
			Summary:     sum,
			StartedAt:   started,
			CompletedAt: time.Now(),
		})
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ReclassifySummary{}, fmt.Errorf("review: apply reclassification: %w", err)
	}

	telemetry.RecordRowsWritten(ctx, "review", "topic_evidence", "update", int64(len(plan.updates)))
	telemetry.RecordRowsWritten(ctx, "review", "topic_evidence_reviews", "upsert", int64(len(plan.queue)+len(plan.resolves)))
	q.logger.Info("review: reclassified", "run_id", sum.RunID, "scanned", sum.Scanned,
		"queued", sum.Queued, "evidence_updated", sum.EvidenceUpdated, "reviews_resolved", sum.ReviewsResolved)
	return sum, nil
}

// decide returns the review row to queue, or the classifier result and true
// when it is confident enough to accept.
func (q *Queue) decide(ev model.TopicEvidence, threshold float64) (model.TopicEvidenceReview, stance.Result, bool) {
	r := model.TopicEvidenceReview{EvidenceID: ev.EvidenceID, Status: model.ReviewPending}
	if strings.TrimSpace(ev.Excerpt) == "" {
		r.Reason = model.ReasonMissingText
		return r, stance.Result{}, false
	}
	res, ok := q.classifier.Classify(ev.Excerpt)
	if !ok {
		r.Reason = model.ReasonNoSignal
		return r, stance.Result{}, false
	}
	if res.Confidence >= threshold {
		return model.TopicEvidenceReview{}, res, true
	}
	r.Reason = model.ReasonLowConfidence
	if res.Conflicting() {
		r.Reason = model.ReasonConflictingSignal
	}
	st, pol, conf := res.Stance, res.Polarity, res.Confidence
	r.SuggestedStance = &st
	r.SuggestedPolarity = &pol
	r.SuggestedConfidence = &conf
	r.SuggestedMethod = res.Method
	return r, res, false
}

func stanceDiffers(ev model.TopicEvidence, res stance.Result) bool {
	return ev.Stance == nil || *ev.Stance != res.Stance ||
		ev.Polarity == nil || *ev.Polarity != res.Polarity ||
		ev.Confidence == nil || *ev.Confidence != res.Confidence ||
		ev.StanceMethod != res.Method
}

// queueSnapshot counts reviews per status for the summary. A failure only
// degrades the preview.
func (q *Queue) queueSnapshot(ctx context.Context) map[model.ReviewStatus]int {
	counts, err := q.db.CountReviewsByStatus(ctx)
	if err != nil {
		q.logger.Warn("review: queue count failed, reporting zero", "error", err)
		return map[model.ReviewStatus]int{}
	}
	return counts
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
