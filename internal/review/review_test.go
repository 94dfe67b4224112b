package review_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/review"
	"github.com/ashita-ai/hemiciclo/internal/rules"
	"github.com/ashita-ai/hemiciclo/internal/stance"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

func newQueue(t *testing.T) (*review.Queue, *storage.DB) {
	t.Helper()
	set, err := rules.Default()
	require.NoError(t, err)
	c, err := stance.New(set.Stance)
	require.NoError(t, err)
	db := testutil.NewSQLiteDB(t)
	return review.New(db, c, testutil.TestLogger(), 3), db
}

// seed inserts declared evidence rows and returns their ids in order.
func seed(t *testing.T, db *storage.DB, excerpts ...string) []int64 {
	t.Helper()
	ids := make([]int64, len(excerpts))
	testutil.MustTx(t, db, func(tx *storage.Tx) error {
		for i, text := range excerpts {
			id, err := tx.UpsertTopicEvidence(context.Background(), model.TopicEvidence{
				EvidenceKey:  "declared:" + string(rune('a'+i)),
				TopicID:      "vivienda",
				TopicSetID:   "ts1",
				PersonID:     "p1",
				EvidenceType: "declared:intervencion",
				EvidenceDate: "2024-03-01",
				Excerpt:      text,
				Weight:       1,
				SourceID:     "congreso_dsc",
			})
			if err != nil {
				return err
			}
			ids[i] = id
		}
		return nil
	})
	return ids
}

func params() review.Params {
	return review.Params{Threshold: review.DefaultThreshold}
}

func TestReclassify_QueuesLowConfidence(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Apoyamos esta iniciativa.")

	sum, err := q.Reclassify(ctx, params())
	require.NoError(t, err)
	assert.True(t, sum.Applied)
	assert.Equal(t, 1, sum.Queued)
	assert.Equal(t, 1, sum.QueuedByReason[model.ReasonLowConfidence])
	assert.Equal(t, 0, sum.EvidenceUpdated)
	require.Len(t, sum.Samples, 1)
	assert.Equal(t, ids[0], sum.Samples[0].EvidenceID)

	reviews, err := db.GetReviews(ctx, ids)
	require.NoError(t, err)
	rv := reviews[ids[0]]
	assert.Equal(t, model.ReviewPending, rv.Status)
	assert.Equal(t, model.ReasonLowConfidence, rv.Reason)
	require.NotNil(t, rv.SuggestedStance)
	assert.Equal(t, model.StanceSupport, *rv.SuggestedStance)
	require.NotNil(t, rv.SuggestedConfidence)
	assert.InDelta(t, 0.58, *rv.SuggestedConfidence, 1e-9)

	evidence, err := db.GetTopicEvidence(ctx, ids)
	require.NoError(t, err)
	assert.Nil(t, evidence[ids[0]].Stance, "queued evidence keeps its stance untouched")

	runs, err := db.CountBackfillRuns(ctx, "reclassify")
	require.NoError(t, err)
	assert.Equal(t, 1, runs)
}

func TestReclassify_Reasons(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db,
		"",
		"El pleno debatió la propuesta durante horas.",
		"Apoyamos el objetivo y rechazamos los medios.",
	)

	sum, err := q.Reclassify(ctx, params())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Queued)

	reviews, err := db.GetReviews(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonMissingText, reviews[ids[0]].Reason)
	assert.Equal(t, model.ReasonNoSignal, reviews[ids[1]].Reason)
	assert.Nil(t, reviews[ids[1]].SuggestedStance)
	assert.Equal(t, model.ReasonConflictingSignal, reviews[ids[2]].Reason)
	require.NotNil(t, reviews[ids[2]].SuggestedStance)
	assert.Equal(t, model.StanceMixed, *reviews[ids[2]].SuggestedStance)
}

func TestReclassify_AcceptsConfidentAndIsIdempotent(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Votaremos a favor.")

	first, err := q.Reclassify(ctx, params())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Accepted)
	assert.Equal(t, 1, first.EvidenceUpdated)
	assert.Equal(t, 1, first.AcceptedByReason["vote_intent_support"])

	evidence, err := db.GetTopicEvidence(ctx, ids)
	require.NoError(t, err)
	ev := evidence[ids[0]]
	require.NotNil(t, ev.Stance)
	assert.Equal(t, model.StanceSupport, *ev.Stance)
	assert.Equal(t, 1, *ev.Polarity)
	assert.InDelta(t, 0.72, *ev.Confidence, 1e-9)
	assert.Equal(t, "declared:regex_v2", ev.StanceMethod)

	second, err := q.Reclassify(ctx, params())
	require.NoError(t, err)
	assert.Equal(t, 0, second.EvidenceUpdated)
	assert.Equal(t, 1, second.EvidenceSame)
}

func TestReclassify_ResolvesPendingOnceConfident(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Apoyamos esta iniciativa.")

	_, err := q.Reclassify(ctx, params())
	require.NoError(t, err)

	p := params()
	p.Threshold = 0.5
	sum, err := q.Reclassify(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ReviewsResolved)
	assert.Equal(t, 1, sum.EvidenceUpdated)

	reviews, err := db.GetReviews(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewResolved, reviews[ids[0]].Status)
}

func TestReclassify_DryRunMatchesLive(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	seed(t, db, "Votaremos a favor.", "Apoyamos esta iniciativa.", "", "Nos abstendremos.")

	p := params()
	p.DryRun = true
	dry, err := q.Reclassify(ctx, p)
	require.NoError(t, err)
	assert.False(t, dry.Applied)
	assert.Empty(t, dry.RunID)

	counts, err := db.CountReviewsByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts, "dry run must not write reviews")
	runs, err := db.CountBackfillRuns(ctx, "reclassify")
	require.NoError(t, err)
	assert.Zero(t, runs)

	live, err := q.Reclassify(ctx, params())
	require.NoError(t, err)
	assert.Equal(t, dry.Scanned, live.Scanned)
	assert.Equal(t, dry.Accepted, live.Accepted)
	assert.Equal(t, dry.EvidenceUpdated, live.EvidenceUpdated)
	assert.Equal(t, dry.Queued, live.Queued)
	assert.Equal(t, dry.QueuedByReason, live.QueuedByReason)
	assert.Equal(t, dry.Samples, live.Samples)
}

func TestReclassify_IgnoredIsSticky(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Apoyamos esta iniciativa.")

	_, err := q.Reclassify(ctx, params())
	require.NoError(t, err)
	_, err = q.ApplyDecision(ctx, review.Decision{EvidenceIDs: ids, Status: model.ReviewIgnored, Note: "off topic"})
	require.NoError(t, err)

	sum, err := q.Reclassify(ctx, params())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.IgnoredPreserved)
	assert.Equal(t, 0, sum.QueuedNew)

	reviews, err := db.GetReviews(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewIgnored, reviews[ids[0]].Status)
	assert.Equal(t, "off topic", reviews[ids[0]].Note)
}

func TestReclassify_RejectsBadThreshold(t *testing.T) {
	q, _ := newQueue(t)
	_, err := q.Reclassify(context.Background(), review.Params{Threshold: 1.5})
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestApplyDecision_ResolveUsesSuggestion(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Apoyamos esta iniciativa.")
	_, err := q.Reclassify(ctx, params())
	require.NoError(t, err)

	sum, err := q.ApplyDecision(ctx, review.Decision{EvidenceIDs: ids, Status: model.ReviewResolved})
	require.NoError(t, err)
	assert.True(t, sum.Applied)
	assert.Equal(t, 1, sum.EvidenceUpdated)
	assert.Equal(t, 1, sum.StanceSources["suggested"])

	evidence, err := db.GetTopicEvidence(ctx, ids)
	require.NoError(t, err)
	ev := evidence[ids[0]]
	require.NotNil(t, ev.Stance)
	assert.Equal(t, model.StanceSupport, *ev.Stance)
	assert.InDelta(t, 0.58, *ev.Confidence, 1e-9)
	assert.Equal(t, review.MethodReviewSuggested, ev.StanceMethod)
}

func TestApplyDecision_FinalStanceOverrides(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Apoyamos el objetivo y rechazamos los medios.")
	_, err := q.Reclassify(ctx, params())
	require.NoError(t, err)

	_, err = q.ApplyDecision(ctx, review.Decision{
		EvidenceIDs: ids, Status: model.ReviewResolved,
		FinalStance: ptr(model.StanceOppose), FinalConfidence: ptr(0.9), Note: "checked transcript",
	})
	require.NoError(t, err)

	evidence, err := db.GetTopicEvidence(ctx, ids)
	require.NoError(t, err)
	ev := evidence[ids[0]]
	assert.Equal(t, model.StanceOppose, *ev.Stance)
	assert.Equal(t, -1, *ev.Polarity)
	assert.InDelta(t, 0.9, *ev.Confidence, 1e-9)
	assert.Equal(t, review.MethodReviewFinal, ev.StanceMethod)

	reviews, err := db.GetReviews(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewResolved, reviews[ids[0]].Status)
	assert.Equal(t, "checked transcript", reviews[ids[0]].Note)
}

func TestApplyDecision_UnknownIDWritesNothing(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Apoyamos esta iniciativa.")
	_, err := q.Reclassify(ctx, params())
	require.NoError(t, err)

	_, err = q.ApplyDecision(ctx, review.Decision{EvidenceIDs: []int64{ids[0], 9999}, Status: model.ReviewIgnored})
	require.ErrorIs(t, err, model.ErrValidation)

	reviews, err := db.GetReviews(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, reviews[ids[0]].Status)
}

func TestApplyDecision_Validation(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	tests := []struct {
		name string
		d    review.Decision
	}{
		{"no ids", review.Decision{Status: model.ReviewResolved}},
		{"bad status", review.Decision{EvidenceIDs: []int64{1}, Status: "done"}},
		{"final stance on ignore", review.Decision{EvidenceIDs: []int64{1}, Status: model.ReviewIgnored, FinalStance: ptr(model.StanceSupport)}},
		{"bad stance", review.Decision{EvidenceIDs: []int64{1}, Status: model.ReviewResolved, FinalStance: ptr(model.Stance("maybe"))}},
		{"confidence out of range", review.Decision{EvidenceIDs: []int64{1}, Status: model.ReviewResolved, FinalConfidence: ptr(2.0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.ApplyDecision(ctx, tt.d)
			require.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestApplyDecision_DryRun(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Apoyamos esta iniciativa.")
	_, err := q.Reclassify(ctx, params())
	require.NoError(t, err)

	sum, err := q.ApplyDecision(ctx, review.Decision{EvidenceIDs: ids, Status: model.ReviewResolved, DryRun: true})
	require.NoError(t, err)
	assert.False(t, sum.Applied)
	assert.Equal(t, 1, sum.EvidenceUpdated)
	assert.Equal(t, 1, sum.StatusChanged)

	reviews, err := db.GetReviews(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, model.ReviewPending, reviews[ids[0]].Status)
}

func TestList(t *testing.T) {
	q, db := newQueue(t)
	ctx := context.Background()
	ids := seed(t, db, "Apoyamos esta iniciativa.", "")
	_, err := q.Reclassify(ctx, params())
	require.NoError(t, err)
	_, err = q.ApplyDecision(ctx, review.Decision{EvidenceIDs: ids[1:], Status: model.ReviewIgnored})
	require.NoError(t, err)

	all, err := q.List(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all.Entries, 2)
	assert.Equal(t, 1, all.Counts[model.ReviewPending])
	assert.Equal(t, 1, all.Counts[model.ReviewIgnored])

	pending, err := q.List(ctx, "pending", 0)
	require.NoError(t, err)
	require.Len(t, pending.Entries, 1)
	assert.Equal(t, ids[0], pending.Entries[0].EvidenceID)
	assert.Equal(t, "Apoyamos esta iniciativa.", pending.Entries[0].Evidence.Excerpt)

	_, err = q.List(ctx, "open", 0)
	require.ErrorIs(t, err, model.ErrValidation)
}
