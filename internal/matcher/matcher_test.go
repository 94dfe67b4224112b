package matcher_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hemiciclo/internal/matcher"
	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/testutil"
)

func ptr[T any](v T) *T { return &v }

const (
	lisos = "BOE-A-2000-15060"
	devel = "BOE-A-2001-1"
)

type fixture struct {
	db *storage.DB
	m  *matcher.Matcher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	m, err := matcher.New(db, defaultRules(t), testutil.TestLogger(), 10)
	require.NoError(t, err)
	return fixture{db: db, m: m}
}

func (f fixture) tx(t *testing.T, fn func(ctx context.Context, tx *storage.Tx) error) {
	t.Helper()
	testutil.MustTx(t, f.db, func(tx *storage.Tx) error { return fn(context.Background(), tx) })
}

// seedGraph creates LISOS and a norm developing it, each with one fragment.
// Responsibilities: 1 approve, 2 enforce, 3 delegate on LISOS; 4 approve on
// the developing norm.
func (f fixture) seedGraph(t *testing.T) {
	f.tx(t, func(ctx context.Context, tx *storage.Tx) error {
		for _, n := range []model.LegalNorm{{NormID: "n1", BOEID: lisos, Title: "LISOS"}, {NormID: "n2", BOEID: devel}} {
			if err := tx.UpsertNorm(ctx, n); err != nil {
				return err
			}
		}
		for _, fr := range []model.LegalNormFragment{{FragmentID: "f1", NormID: "n1"}, {FragmentID: "f2", NormID: "n2"}} {
			if err := tx.UpsertFragment(ctx, fr); err != nil {
				return err
			}
		}
		if err := tx.InsertLineageEdge(ctx, model.LineageEdge{NormID: "n2", RelatedNormID: "n1", RelationType: model.RelationDesarrolla}); err != nil {
			return err
		}
		for _, r := range []model.Responsibility{
			{ResponsibilityID: 1, FragmentID: "f1", Role: model.RoleApprove, ActorLabel: "Cortes Generales"},
			{ResponsibilityID: 2, FragmentID: "f1", Role: model.RoleEnforce, ActorLabel: "Inspección de Trabajo"},
			{ResponsibilityID: 3, FragmentID: "f1", Role: model.RoleDelegate, ActorLabel: "Gobierno"},
			{ResponsibilityID: 4, FragmentID: "f2", Role: model.RoleApprove, ActorLabel: "Cortes Generales"},
		} {
			if err := tx.UpsertResponsibility(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f fixture) seedVote(t *testing.T, id, title string, initiatives ...model.Initiative) {
	f.tx(t, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.UpsertVoteEvent(ctx, model.VoteEvent{
			VoteEventID: id, SourceID: "congreso_votaciones", SourceURL: "https://congreso.es/v/" + id,
			VoteDate: "2024-02-01", Title: title,
		}); err != nil {
			return err
		}
		for _, in := range initiatives {
			if err := tx.UpsertInitiative(ctx, in); err != nil {
				return err
			}
			if err := tx.UpsertVoteLink(ctx, model.VoteEventInitiativeLink{VoteEventID: id, InitiativeID: in.InitiativeID, LinkConfidence: 1}); err != nil {
				return err
			}
		}
		return nil
	})
}

func evidenceByResponsibility(t *testing.T, db *storage.DB, types []string) map[int64][]model.ResponsibilityEvidence {
	t.Helper()
	rows, err := db.ListResponsibilityEvidence(context.Background(), types)
	require.NoError(t, err)
	out := make(map[int64][]model.ResponsibilityEvidence)
	for _, r := range rows {
		out[r.ResponsibilityID] = append(out[r.ResponsibilityID], r)
	}
	return out
}

func TestMatchVotes_TitleRuleAndBridge(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.seedVote(t, "v1", "Convalidación del Real Decreto Legislativo 5/2000 sobre infracciones")
	ctx := context.Background()

	sum, err := f.m.MatchVotes(ctx, matcher.VoteParams{Roles: []model.Role{model.RoleApprove, model.RoleEnforce}})
	require.NoError(t, err)
	assert.True(t, sum.Applied)
	assert.Equal(t, 1, sum.VotesScanned)
	assert.Equal(t, 2, sum.BestCandidates)
	assert.Equal(t, 3, sum.Inserted)
	assert.Equal(t, 3, sum.Responsibilities)
	assert.Equal(t, 1, sum.ByMethod["title_rule"])
	assert.Equal(t, 1, sum.ByMethod["title_rule+lineage_direct"])

	rows := evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes)
	for _, id := range []int64{1, 2} {
		require.Len(t, rows[id], 1)
		r := rows[id][0]
		assert.Equal(t, model.EvidenceCongresoVote, r.EvidenceType)
		assert.Equal(t, "title_rule", r.MatchMethod)
		assert.InDelta(t, 0.9, *r.MatchConfidence, 1e-9)
		assert.Equal(t, "v1", *r.VoteEventID)
		assert.Equal(t, "2024-02-01", r.EvidenceDate)
	}
	assert.Empty(t, rows[3], "delegate is outside the role filter")

	require.Len(t, rows[4], 1)
	bridged := rows[4][0]
	assert.Equal(t, "title_rule+lineage_direct", bridged.MatchMethod)
	assert.InDelta(t, 0.75, *bridged.MatchConfidence, 1e-9)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(bridged.RawPayload), &payload))
	assert.Equal(t, devel, payload["matched_boe_id"])
	assert.Equal(t, []any{lisos, devel}, payload["candidate_boe_ids"])
	assert.Equal(t, "v1", payload["vote_event_id"])
	bridge, ok := payload["bridge"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "lineage_direct", bridge["kind"])
	assert.Equal(t, lisos, bridge["base_boe_id"])
}

func TestMatchVotes_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.seedVote(t, "v1", "Real Decreto Legislativo 5/2000")
	ctx := context.Background()
	p := matcher.VoteParams{Roles: []model.Role{model.RoleApprove, model.RoleEnforce}}

	_, err := f.m.MatchVotes(ctx, p)
	require.NoError(t, err)
	before := evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes)

	again, err := f.m.MatchVotes(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 0, again.Updated)
	assert.Equal(t, 0, again.Deleted)
	assert.Equal(t, 3, again.Unchanged)
	assert.Equal(t, before, evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes))
}

func TestMatchVotes_DryRunMatchesLive(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.seedVote(t, "v1", "Real Decreto Legislativo 5/2000")
	ctx := context.Background()

	dry, err := f.m.MatchVotes(ctx, matcher.VoteParams{Roles: []model.Role{model.RoleApprove}, DryRun: true})
	require.NoError(t, err)
	assert.False(t, dry.Applied)
	assert.Empty(t, evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes))

	live, err := f.m.MatchVotes(ctx, matcher.VoteParams{Roles: []model.Role{model.RoleApprove}})
	require.NoError(t, err)
	assert.Equal(t, dry.Counts, live.Counts)
	assert.Equal(t, dry.ByMethod, live.ByMethod)
	assert.Equal(t, dry.Samples, live.Samples)
}

func TestMatchVotes_InitiativeTieBreak(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.seedVote(t, "v1", "Votación de conjunto",
		model.Initiative{InitiativeID: "121/000002", Title: "Modificación de la Ley sobre infracciones y sanciones en el orden social"},
		model.Initiative{InitiativeID: "121/000001", Title: "Reforma del Real Decreto Legislativo 5/2000"},
	)
	ctx := context.Background()

	sum, err := f.m.MatchVotes(ctx, matcher.VoteParams{Roles: []model.Role{model.RoleApprove}})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.TextsEvaluated)

	rows := evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes)
	require.Len(t, rows[1], 1)
	assert.Equal(t, "121/000001", rows[1][0].InitiativeID)
}

func TestMatchVotes_PayloadRecordsLinkConfidence(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.seedVote(t, "v1", "Votación de conjunto")
	f.tx(t, func(ctx context.Context, tx *storage.Tx) error {
		if err := tx.UpsertInitiative(ctx, model.Initiative{InitiativeID: "121/000001", Title: "Reforma del Real Decreto Legislativo 5/2000"}); err != nil {
			return err
		}
		return tx.UpsertVoteLink(ctx, model.VoteEventInitiativeLink{VoteEventID: "v1", InitiativeID: "121/000001", LinkConfidence: 0.85})
	})
	f.seedVote(t, "v2", "Convalidación del Real Decreto Legislativo 5/2000")

	_, err := f.m.MatchVotes(context.Background(), matcher.VoteParams{Roles: []model.Role{model.RoleApprove}})
	require.NoError(t, err)

	rows := evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes)
	require.Len(t, rows[1], 2)
	payloads := make(map[string]map[string]any)
	for _, r := range rows[1] {
		var p map[string]any
		require.NoError(t, json.Unmarshal([]byte(r.RawPayload), &p))
		payloads[*r.VoteEventID] = p
	}

	linked := payloads["v1"]
	assert.Equal(t, "121/000001", linked["initiative_id"])
	assert.InDelta(t, 0.85, linked["link_confidence"], 1e-9)

	titleOnly := payloads["v2"]
	assert.NotContains(t, titleOnly, "initiative_id")
	assert.NotContains(t, titleOnly, "link_confidence", "a vote matched on its own text has no link")
}

func TestMatchVotes_BOERefRequiresCatalog(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.seedVote(t, "v1", "Proposición relativa a BOE-A-2000-15060")
	ctx := context.Background()
	p := matcher.VoteParams{Roles: []model.Role{model.RoleApprove}}

	sum, err := f.m.MatchVotes(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.BestCandidates)

	f.tx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.UpsertCatalogEntry(ctx, lisos, "LISOS")
	})
	sum, err = f.m.MatchVotes(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ByMethod[matcher.MethodBOERef])

	rows := evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes)
	require.Len(t, rows[1], 1)
	assert.InDelta(t, 1.0, *rows[1][0].MatchConfidence, 1e-9)
	assert.InDelta(t, 0.85, *rows[4][0].MatchConfidence, 1e-9)
}

func TestMatchVotes_AdoptsLegacyRow(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.seedVote(t, "v1", "Real Decreto Legislativo 5/2000")
	ctx := context.Background()

	var legacyID int64
	f.tx(t, func(ctx context.Context, tx *storage.Tx) (err error) {
		legacyID, err = tx.InsertResponsibilityEvidence(ctx, model.ResponsibilityEvidence{
			ResponsibilityID: 1, EvidenceType: model.EvidenceCongresoVote, EvidenceDate: "2024-02-01",
			SourceURL: "https://congreso.es/v/v1", MatchMethod: "title_rule", RawPayload: "{}",
		})
		return err
	})

	sum, err := f.m.MatchVotes(ctx, matcher.VoteParams{Roles: []model.Role{model.RoleApprove}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.LegacyAdopted)
	assert.Equal(t, 1, sum.Inserted, "only the bridged responsibility is new")

	rows := evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes)
	require.Len(t, rows[1], 1)
	assert.Equal(t, legacyID, rows[1][0].EvidenceID)
	require.NotNil(t, rows[1][0].VoteEventID)
	assert.Equal(t, "v1", *rows[1][0].VoteEventID)
}

func TestMatchVotes_PrunesStaleOnlyOnFullRuns(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.seedVote(t, "v1", "Real Decreto Legislativo 5/2000")
	ctx := context.Background()

	f.tx(t, func(ctx context.Context, tx *storage.Tx) error {
		for _, e := range []model.ResponsibilityEvidence{
			{ResponsibilityID: 1, EvidenceType: model.EvidenceCongresoVote, VoteEventID: ptr("v-old"), MatchMethod: "title_rule", RawPayload: "{}"},
			{ResponsibilityID: 1, EvidenceType: model.EvidenceCongresoVote, VoteEventID: ptr("v-manual"), MatchMethod: "manual", RawPayload: "{}"},
			{ResponsibilityID: 3, EvidenceType: model.EvidenceCongresoVote, VoteEventID: ptr("v-old"), MatchMethod: "title_rule", RawPayload: "{}"},
		} {
			if _, err := tx.InsertResponsibilityEvidence(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	p := matcher.VoteParams{Roles: []model.Role{model.RoleApprove}}

	limited := p
	limited.LimitEvents = 1
	sum, err := f.m.MatchVotes(ctx, limited)
	require.NoError(t, err)
	assert.False(t, sum.StalePruning)
	assert.Equal(t, 0, sum.Deleted)

	sum, err = f.m.MatchVotes(ctx, p)
	require.NoError(t, err)
	assert.True(t, sum.StalePruning)
	assert.Equal(t, 1, sum.Deleted)

	rows := evidenceByResponsibility(t, f.db, model.VoteEvidenceTypes)
	var methods []string
	for _, r := range rows[1] {
		methods = append(methods, *r.VoteEventID+":"+r.MatchMethod)
	}
	assert.ElementsMatch(t, []string{"v1:title_rule", "v-manual:manual"}, methods)
	assert.Len(t, rows[3], 1, "rows outside the role scope are never pruned")
}

func TestMatchVotes_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.m.MatchVotes(ctx, matcher.VoteParams{})
	require.ErrorIs(t, err, model.ErrValidation)
	_, err = f.m.MatchVotes(ctx, matcher.VoteParams{Roles: []model.Role{"owner"}})
	require.ErrorIs(t, err, model.ErrValidation)
	_, err = f.m.MatchVotes(ctx, matcher.VoteParams{Roles: []model.Role{model.RoleApprove}, LimitEvents: -1})
	require.ErrorIs(t, err, model.ErrValidation)
}

func (f fixture) seedExecution(t *testing.T) {
	f.seedGraph(t)
	f.tx(t, func(ctx context.Context, tx *storage.Tx) error {
		for _, n := range []model.LegalNorm{{NormID: "n3", BOEID: "BOE-A-1988-1"}, {NormID: "n4", BOEID: "BOE-A-2010-1"}} {
			if err := tx.UpsertNorm(ctx, n); err != nil {
				return err
			}
		}
		if err := tx.UpsertFragment(ctx, model.LegalNormFragment{FragmentID: "f4", NormID: "n4"}); err != nil {
			return err
		}
		for _, e := range []model.LineageEdge{
			{NormID: "n1", RelatedNormID: "n3", RelationType: model.RelationDeroga},
			{NormID: "n4", RelatedNormID: "n3", RelationType: model.RelationModifica},
		} {
			if err := tx.InsertLineageEdge(ctx, e); err != nil {
				return err
			}
		}
		for _, r := range []model.Responsibility{
			{ResponsibilityID: 10, FragmentID: "f2", Role: model.RoleDelegate},
			{ResponsibilityID: 11, FragmentID: "f4", Role: model.RoleDelegate},
		} {
			if err := tx.UpsertResponsibility(ctx, r); err != nil {
				return err
			}
		}
		if err := tx.UpsertSource(ctx, model.Source{SourceID: "mites", Name: "Ministerio de Trabajo"}); err != nil {
			return err
		}
		if _, _, err := tx.UpsertSourceRecord(ctx, model.SourceRecord{
			SourceID: "mites", SourceRecordID: "boe_ref:" + lisos, SnapshotDate: "2024-01-01",
			ContentHash: "v1:abc", RawPayload: "{}",
		}); err != nil {
			return err
		}
		for _, o := range []model.SanctionVolumeObservation{
			{ObservationID: "o1", SourceID: "mites", BOEID: lisos, PeriodDate: "2023-12-31", Metric: "actas_infraccion", Value: 1250},
			{ObservationID: "o2", SourceID: "mites", BOEID: "BOE-A-2099-1", PeriodDate: "2023-12-31", Metric: "actas_infraccion", Value: 3},
		} {
			if err := tx.UpsertObservation(ctx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestBridgeExecution(t *testing.T) {
	f := newFixture(t)
	f.seedExecution(t)
	ctx := context.Background()

	sum, err := f.m.BridgeExecution(ctx, matcher.ExecutionParams{})
	require.NoError(t, err)
	assert.Equal(t, []model.Role{model.RoleDelegate}, sum.Roles)
	assert.Equal(t, 2, sum.ObservationsScanned)
	assert.Equal(t, 1, sum.ObservationsLinked)
	assert.Equal(t, 1, sum.ObservationsUnlinked)
	assert.Equal(t, 3, sum.Inserted)
	assert.Equal(t, 1, sum.ByResolution[matcher.ResolvedByBOERef])

	rows := evidenceByResponsibility(t, f.db, []string{model.EvidenceSanctionVolume})
	check := func(resp int64, method, label string) {
		t.Helper()
		require.Len(t, rows[resp], 1)
		r := rows[resp][0]
		assert.Equal(t, method, r.MatchMethod)
		assert.Equal(t, label, r.ConfidenceLabel)
		assert.Nil(t, r.MatchConfidence)
		assert.Equal(t, "o1", *r.ObservationID)
		assert.NotNil(t, r.SourceRecordPK)
		assert.Equal(t, "actas_infraccion=1250", r.EvidenceQuote)
	}
	check(3, matcher.MethodExactNorm, "medium")
	check(10, matcher.MethodDirectLineage, "medium")
	check(11, matcher.MethodSharedAnchor, "low")
	assert.Empty(t, rows[1], "approve is not in the default role scope")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(rows[11][0].RawPayload), &payload))
	assert.Equal(t, "BOE-A-1988-1", payload["anchor_boe_id"])
	resolution, ok := payload["source_record_resolution"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, matcher.ResolvedByBOERef, resolution["method"])

	again, err := f.m.BridgeExecution(ctx, matcher.ExecutionParams{})
	require.NoError(t, err)
	assert.Equal(t, 3, again.Unchanged)
	assert.Equal(t, 0, again.Inserted+again.Updated+again.Deleted)
}

func TestBridgeExecution_UnresolvedRecord(t *testing.T) {
	f := newFixture(t)
	f.seedGraph(t)
	f.tx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.UpsertObservation(ctx, model.SanctionVolumeObservation{
			ObservationID: "o1", SourceID: "mites", SourceRecordID: "missing", BOEID: lisos,
			PeriodDate: "2023-12-31", Metric: "actas_infraccion", Value: 7,
		})
	})

	sum, err := f.m.BridgeExecution(context.Background(), matcher.ExecutionParams{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.ByResolution[matcher.Unresolved])
	assert.Equal(t, 1, sum.Inserted)
	require.Len(t, sum.Samples, 1)
	assert.Equal(t, matcher.Unresolved, sum.Samples[0].Resolution)
}

func TestBridgeExecution_RecordResolutionOrder(t *testing.T) {
	type rec struct{ source, key string }
	tests := []struct {
		name       string
		records    []rec
		wantMethod string
		wantRecord *rec
		wantSource string
	}{
		{
			name:       "known record id wins",
			records:    []rec{{"mites", "2023"}, {"mites", "boe_ref:" + lisos}, {"mites", lisos}},
			wantMethod: matcher.ResolvedByRecordID,
			wantRecord: &rec{"mites", "2023"},
			wantSource: "mites",
		},
		{
			name:       "boe_ref key before bare id",
			records:    []rec{{"mites", "boe_ref:" + lisos}, {"mites", lisos}},
			wantMethod: matcher.ResolvedByBOERef,
			wantRecord: &rec{"mites", "boe_ref:" + lisos},
			wantSource: "mites",
		},
		{
			name:       "bare id",
			records:    []rec{{"mites", lisos}},
			wantMethod: matcher.ResolvedByBOEID,
			wantRecord: &rec{"mites", lisos},
			wantSource: "mites",
		},
		{
			name:       "record id from another source is ignored",
			records:    []rec{{"other_src", "2023"}},
			wantMethod: matcher.Unresolved,
		},
		{
			name:       "own source preferred for synthetic keys",
			records:    []rec{{"other_src", "boe_ref:" + lisos}, {"mites", "boe_ref:" + lisos}},
			wantMethod: matcher.ResolvedByBOERef,
			wantRecord: &rec{"mites", "boe_ref:" + lisos},
			wantSource: "mites",
		},
		{
			name:       "synthetic key falls back to any source",
			records:    []rec{{"other_src", "boe_ref:" + lisos}},
			wantMethod: matcher.ResolvedByBOERef,
			wantRecord: &rec{"other_src", "boe_ref:" + lisos},
			wantSource: "other_src",
		},
		{
			name:       "nothing seeded",
			wantMethod: matcher.Unresolved,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seedGraph(t)
			pks := make(map[rec]int64)
			f.tx(t, func(ctx context.Context, tx *storage.Tx) error {
				for _, s := range []string{"mites", "other_src"} {
					if err := tx.UpsertSource(ctx, model.Source{SourceID: s, Name: s}); err != nil {
						return err
					}
				}
				for _, r := range tt.records {
					pk, _, err := tx.UpsertSourceRecord(ctx, model.SourceRecord{
						SourceID: r.source, SourceRecordID: r.key, SnapshotDate: "2024-01-01",
						ContentHash: "v1:abc", RawPayload: "{}",
					})
					if err != nil {
						return err
					}
					pks[r] = pk
				}
				return tx.UpsertObservation(ctx, model.SanctionVolumeObservation{
					ObservationID: "o1", SourceID: "mites", SourceRecordID: "2023", BOEID: lisos,
					PeriodDate: "2023-12-31", Metric: "actas_infraccion", Value: 7,
				})
			})

			sum, err := f.m.BridgeExecution(context.Background(), matcher.ExecutionParams{})
			require.NoError(t, err)
			assert.Equal(t, map[string]int{tt.wantMethod: 1}, sum.ByResolution)

			rows := evidenceByResponsibility(t, f.db, []string{model.EvidenceSanctionVolume})
			require.Len(t, rows[3], 1)
			row := rows[3][0]
			assert.Equal(t, "mites", row.SourceID)

			var payload struct {
				Resolution struct {
					Method   string `json:"method"`
					SourceID string `json:"source_id"`
				} `json:"source_record_resolution"`
			}
			require.NoError(t, json.Unmarshal([]byte(row.RawPayload), &payload))
			assert.Equal(t, tt.wantMethod, payload.Resolution.Method)
			assert.Equal(t, tt.wantSource, payload.Resolution.SourceID)

			if tt.wantRecord == nil {
				assert.Nil(t, row.SourceRecordPK)
				return
			}
			require.NotNil(t, row.SourceRecordPK)
			assert.Equal(t, pks[*tt.wantRecord], *row.SourceRecordPK)
		})
	}
}
