package gaps_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hemiciclo/internal/gaps"
	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/rules"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

// seed builds six approve responsibilities:
//
//	1 LISOS, matched by a vote
//	2 Estatuto de los Trabajadores, mentioned only in a vote document
//	3 seguridad ciudadana, diary evidence on an initiative no vote links to
//	4 uncatalogued norm, diary evidence on a linked initiative
//	5 uncatalogued norm, no evidence at all
//	6 uncatalogued norm, diary row already carrying a vote id
func seed(t *testing.T, db *storage.DB) {
	t.Helper()
	testutil.MustTx(t, db, func(tx *storage.Tx) error {
		ctx := context.Background()
		norms := []model.LegalNorm{
			{NormID: "n1", BOEID: "BOE-A-2000-15060"},
			{NormID: "n2", BOEID: "BOE-A-2015-11430"},
			{NormID: "n3", BOEID: "BOE-A-2015-3442"},
			{NormID: "n4", BOEID: "BOE-A-1999-9"},
		}
		for _, n := range norms {
			if err := tx.UpsertNorm(ctx, n); err != nil {
				return err
			}
			if err := tx.UpsertFragment(ctx, model.LegalNormFragment{FragmentID: "f" + n.NormID, NormID: n.NormID}); err != nil {
				return err
			}
		}
		for id, frag := range map[int64]string{1: "fn1", 2: "fn2", 3: "fn3", 4: "fn4", 5: "fn4", 6: "fn4"} {
			if err := tx.UpsertResponsibility(ctx, model.Responsibility{ResponsibilityID: id, FragmentID: frag, Role: model.RoleApprove}); err != nil {
				return err
			}
		}
		if err := tx.UpsertVoteEvent(ctx, model.VoteEvent{VoteEventID: "v1", SourceID: "congreso_votaciones", VoteDate: "2024-02-01", Title: "Votación de conjunto"}); err != nil {
			return err
		}
		if err := tx.UpsertInitiative(ctx, model.Initiative{InitiativeID: "121/000001", Title: "Proyecto de ley de empleo"}); err != nil {
			return err
		}
		if err := tx.UpsertVoteLink(ctx, model.VoteEventInitiativeLink{VoteEventID: "v1", InitiativeID: "121/000001", LinkConfidence: 1}); err != nil {
			return err
		}
		if err := tx.UpsertVoteExcerpt(ctx, model.VoteDocumentExcerpt{
			VoteEventID: "v1", DocumentURL: "https://congreso.es/d/1", Excerpt: "Se modifica el Estatuto de los Trabajadores.",
		}); err != nil {
			return err
		}
		for _, e := range []model.ResponsibilityEvidence{
			{ResponsibilityID: 1, EvidenceType: model.EvidenceCongresoVote, VoteEventID: ptr("v1"), MatchMethod: "title_rule"},
			{ResponsibilityID: 3, EvidenceType: model.EvidenceParliamentaryDiary, InitiativeID: "122/000009"},
			{ResponsibilityID: 4, EvidenceType: model.EvidenceParliamentaryDiary, InitiativeID: "121/000001"},
			{ResponsibilityID: 6, EvidenceType: model.EvidenceParliamentaryDiary, InitiativeID: "121/000001", VoteEventID: ptr("v1")},
		} {
			e.RawPayload = "{}"
			if _, err := tx.InsertResponsibilityEvidence(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func newReporter(t *testing.T) (*gaps.Reporter, *storage.DB) {
	t.Helper()
	set, err := rules.Default()
	require.NoError(t, err)
	db := testutil.NewSQLiteDB(t)
	return gaps.New(db, set.Matching, testutil.TestLogger()), db
}

func TestDiagnose_Reasons(t *testing.T) {
	r, db := newReporter(t)
	seed(t, db)

	rep, err := r.Diagnose(context.Background(), gaps.Params{Roles: []model.Role{model.RoleApprove}})
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Responsibilities)
	assert.Equal(t, 4, rep.WithoutVoteEvidence)
	assert.Equal(t, 3, rep.TextsScanned)
	assert.Equal(t, 6, rep.Coverage.TotalResponsibilities)
	assert.Equal(t, 2, rep.Coverage.WithVoteEvidence)

	reasons := make(map[int64]gaps.Gap)
	for _, g := range rep.Gaps {
		reasons[g.ResponsibilityID] = g
	}
	require.Len(t, reasons, 4)
	assert.Equal(t, gaps.ReasonCandidatePresent, reasons[2].Reason)
	assert.Equal(t, "document:v1:https://congreso.es/d/1", reasons[2].CandidateSource)
	assert.Equal(t, gaps.ReasonNoVoteEventLink, reasons[3].Reason)
	assert.Equal(t, []string{"122/000009"}, reasons[3].UnlinkedInitiatives)
	assert.Equal(t, gaps.ReasonNoVoteCorpusSignal, reasons[4].Reason)
	assert.Equal(t, gaps.ReasonMissingParliamentary, reasons[5].Reason)

	assert.Equal(t, map[string]int{
		gaps.ReasonCandidatePresent:     1,
		gaps.ReasonNoVoteEventLink:      1,
		gaps.ReasonNoVoteCorpusSignal:   1,
		gaps.ReasonMissingParliamentary: 1,
	}, rep.ByReason)
}

func TestDiagnose_LimitBoundsListOnly(t *testing.T) {
	r, db := newReporter(t)
	seed(t, db)

	rep, err := r.Diagnose(context.Background(), gaps.Params{Roles: []model.Role{model.RoleApprove}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rep.Gaps, 2)
	assert.Equal(t, int64(2), rep.Gaps[0].ResponsibilityID)
	assert.Equal(t, int64(3), rep.Gaps[1].ResponsibilityID)
	assert.Equal(t, 4, rep.WithoutVoteEvidence)
}

func TestDiagnose_ReadOnly(t *testing.T) {
	r, db := newReporter(t)
	seed(t, db)
	ctx := context.Background()

	before, err := db.ListEvidenceForResponsibilities(ctx, []int64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	_, err = r.Diagnose(ctx, gaps.Params{Roles: []model.Role{model.RoleApprove}})
	require.NoError(t, err)
	after, err := db.ListEvidenceForResponsibilities(ctx, []int64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDiagnose_Validation(t *testing.T) {
	r, _ := newReporter(t)
	_, err := r.Diagnose(context.Background(), gaps.Params{})
	require.ErrorIs(t, err, model.ErrValidation)
}
