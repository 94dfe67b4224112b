package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// VoteParams scopes a vote matching run. A zero LimitEvents scans every
// vote and enables pruning of stale rows.
type VoteParams struct {
	Roles       []model.Role
	LimitEvents int
	DryRun      bool
}

// VoteSample is one evidence row shown in a summary.
type VoteSample struct {
	ResponsibilityID int64   `json:"responsibility_id"`
	VoteEventID      string  `json:"vote_event_id"`
	InitiativeID     string  `json:"initiative_id,omitempty"`
	TargetBOEID      string  `json:"target_boe_id"`
	Method           string  `json:"match_method"`
	Confidence       float64 `json:"match_confidence"`
}

// VoteSummary reports a vote matching run.
type VoteSummary struct {
	RunID            string         `json:"run_id,omitempty"`
	DryRun           bool           `json:"dry_run"`
	Applied          bool           `json:"applied"`
	RulesVersion     string         `json:"rules_version"`
	Roles            []model.Role   `json:"roles"`
	VotesScanned     int            `json:"votes_scanned"`
	TextsEvaluated   int            `json:"texts_evaluated"`
	Candidates       int            `json:"candidates"`
	BestCandidates   int            `json:"best_candidates"`
	ByMethod         map[string]int `json:"by_method"`
	ByEvidenceType   map[string]int `json:"by_evidence_type"`
	Responsibilities int            `json:"responsibilities_matched"`
	StalePruning     bool           `json:"stale_pruning"`
	Counts
	Samples []VoteSample `json:"samples"`
}

// votePayload is the audit blob stored with each vote evidence row.
type votePayload struct {
	MatchMethod     string   `json:"match_method"`
	MatchConfidence float64  `json:"match_confidence"`
	MatchedBOEID    string   `json:"matched_boe_id"`
	CandidateBOEIDs []string `json:"candidate_boe_ids"`
	Bridge          *Bridge  `json:"bridge,omitempty"`
	VoteEventID     string   `json:"vote_event_id"`
	InitiativeID    string   `json:"initiative_id,omitempty"`
	LinkConfidence  *float64 `json:"link_confidence,omitempty"`
	SourceID        string   `json:"source_id"`
	RulesVersion    string   `json:"rules_version"`
}

// MatchVotes runs the matching cascade over vote text merged with each
// linked initiative and writes one evidence row per matched responsibility
// and vote.
func (m *Matcher) MatchVotes(ctx context.Context, p VoteParams) (VoteSummary, error) {
	if err := validateRoles(p.Roles); err != nil {
		return VoteSummary{}, fmt.Errorf("matcher: %w", err)
	}
	if p.LimitEvents < 0 {
		return VoteSummary{}, fmt.Errorf("matcher: %w: negative event limit", model.ErrValidation)
	}
	ctx, span := telemetry.Start(ctx, "matcher", "match_votes",
		attribute.Bool("dry_run", p.DryRun), attribute.Int("limit_events", p.LimitEvents))
	defer span.End()
	started := time.Now()

	in, err := m.loadVoteInputs(ctx, p)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return VoteSummary{}, fmt.Errorf("matcher: %w", err)
	}
	detector, err := NewDetector(m.rules, in.catalog)
	if err != nil {
		return VoteSummary{}, err
	}
	lineage := NewLineage(in.norms, in.edges)

	sum := VoteSummary{
		DryRun:         p.DryRun,
		RulesVersion:   m.rules.Version,
		Roles:          p.Roles,
		VotesScanned:   len(in.votes),
		ByMethod:       map[string]int{},
		ByEvidenceType: map[string]int{},
		StalePruning:   p.LimitEvents == 0,
		Samples:        []VoteSample{},
	}

	var all []Candidate
	candidateIDs := make(map[string][]string)
	for _, v := range in.votes {
		links := in.links[v.VoteEventID]
		if len(links) == 0 {
			links = []model.LinkedInitiative{{}}
		}
		seen := make(map[string]bool)
		for _, li := range links {
			sum.TextsEvaluated++
			text := strings.TrimSpace(v.Text() + " " + li.Text())
			cands := expand(v.VoteEventID, li.InitiativeID, detector.Detect(text), lineage, m.rules)
			if li.InitiativeID != "" {
				for i := range cands {
					conf := li.LinkConfidence
					cands[i].LinkConfidence = &conf
				}
			}
			for _, c := range cands {
				if !seen[c.TargetBOEID] {
					seen[c.TargetBOEID] = true
					candidateIDs[v.VoteEventID] = append(candidateIDs[v.VoteEventID], c.TargetBOEID)
				}
			}
			all = append(all, cands...)
		}
		sort.Strings(candidateIDs[v.VoteEventID])
	}
	sum.Candidates = len(all)
	best := Reduce(all)
	sum.BestCandidates = len(best)

	byBOE := make(map[string][]model.ResponsibilityTarget)
	inScope := make(map[int64]bool, len(in.targets))
	for _, t := range in.targets {
		byBOE[t.BOEID] = append(byBOE[t.BOEID], t)
		inScope[t.ResponsibilityID] = true
	}
	votes := make(map[string]model.VoteEvent, len(in.votes))
	for _, v := range in.votes {
		votes[v.VoteEventID] = v
	}

	var desired []model.ResponsibilityEvidence
	matched := make(map[int64]bool)
	for _, c := range best {
		sum.ByMethod[c.Method]++
		v := votes[c.VoteEventID]
		for _, t := range byBOE[c.TargetBOEID] {
			row, err := m.voteEvidence(v, c, t, candidateIDs[v.VoteEventID])
			if err != nil {
				return VoteSummary{}, err
			}
			desired = append(desired, row)
			matched[t.ResponsibilityID] = true
			sum.ByEvidenceType[row.EvidenceType]++
			if len(sum.Samples) < m.sampleSize {
				sum.Samples = append(sum.Samples, VoteSample{
					ResponsibilityID: t.ResponsibilityID, VoteEventID: v.VoteEventID, InitiativeID: c.InitiativeID,
					TargetBOEID: c.TargetBOEID, Method: c.Method, Confidence: c.Confidence,
				})
			}
		}
	}
	sum.Responsibilities = len(matched)

	plan, counts, claimed := diff(desired, in.existing, func(e model.ResponsibilityEvidence) *string { return e.VoteEventID }, true)
	if sum.StalePruning {
		for _, e := range in.existing {
			if !claimed[e.EvidenceID] && inScope[e.ResponsibilityID] && isVoteMethod(e.MatchMethod) {
				plan.deletes = append(plan.deletes, e.EvidenceID)
			}
		}
	}
	counts.Deleted = len(plan.deletes)
	sum.Counts = counts
	span.SetAttributes(attribute.Int("votes", sum.VotesScanned), attribute.Int("best_candidates", sum.BestCandidates),
		attribute.Int("inserted", counts.Inserted), attribute.Int("updated", counts.Updated+counts.LegacyAdopted),
		attribute.Int("deleted", counts.Deleted))

	if p.DryRun {
		return sum, nil
	}

	run := newRun("match-votes", map[string]any{
		"roles": model.RoleStrings(p.Roles), "limit_events": p.LimitEvents,
	}, started)
	sum.RunID = run.RunID.String()
	sum.Applied = true
	run.Summary = sum
	run.CompletedAt = time.Now()
	if err := m.applyPlan(ctx, plan, run); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return VoteSummary{}, fmt.Errorf("matcher: apply vote evidence: %w", err)
	}
	m.logger.Info("matcher: votes matched", "run_id", sum.RunID, "votes", sum.VotesScanned,
		"best_candidates", sum.BestCandidates, "inserted", counts.Inserted, "updated", counts.Updated,
		"legacy_adopted", counts.LegacyAdopted, "deleted", counts.Deleted)
	return sum, nil
}

type voteInputs struct {
	targets  []model.ResponsibilityTarget
	catalog  []string
	norms    []model.LegalNorm
	edges    []model.LineageEdge
	votes    []model.VoteEvent
	links    map[string][]model.LinkedInitiative
	existing []model.ResponsibilityEvidence
}

func (m *Matcher) loadVoteInputs(ctx context.Context, p VoteParams) (voteInputs, error) {
	var (
		in  voteInputs
		err error
	)
	if in.targets, err = m.db.ListResponsibilityTargets(ctx, p.Roles); err != nil {
		return in, err
	}
	if in.catalog, err = m.db.ListSanctionCatalog(ctx); err != nil {
		return in, err
	}
	if in.norms, err = m.db.ListNorms(ctx); err != nil {
		return in, err
	}
	if in.edges, err = m.db.ListLineageEdges(ctx); err != nil {
		return in, err
	}
	if in.votes, err = m.db.ListVoteEvents(ctx, p.LimitEvents); err != nil {
		return in, err
	}
	if in.links, err = m.db.ListLinkedInitiatives(ctx); err != nil {
		return in, err
	}
	if in.existing, err = m.db.ListResponsibilityEvidence(ctx, model.VoteEvidenceTypes); err != nil {
		return in, err
	}
	return in, nil
}

func (m *Matcher) voteEvidence(v model.VoteEvent, c Candidate, t model.ResponsibilityTarget, candidateIDs []string) (model.ResponsibilityEvidence, error) {
	payload, err := marshalPayload(votePayload{
		MatchMethod:     c.Method,
		MatchConfidence: c.Confidence,
		MatchedBOEID:    c.TargetBOEID,
		CandidateBOEIDs: candidateIDs,
		Bridge:          c.Bridge,
		VoteEventID:     v.VoteEventID,
		InitiativeID:    c.InitiativeID,
		LinkConfidence:  c.LinkConfidence,
		SourceID:        v.SourceID,
		RulesVersion:    m.rules.Version,
	})
	if err != nil {
		return model.ResponsibilityEvidence{}, err
	}
	voteID := v.VoteEventID
	conf := c.Confidence
	return model.ResponsibilityEvidence{
		ResponsibilityID: t.ResponsibilityID,
		EvidenceType:     v.Chamber(),
		EvidenceDate:     v.VoteDate,
		SourceID:         v.SourceID,
		SourceURL:        v.SourceURL,
		SourceRecordPK:   v.SourceRecordPK,
		VoteEventID:      &voteID,
		InitiativeID:     c.InitiativeID,
		EvidenceQuote:    truncate(v.Title, 280),
		MatchMethod:      c.Method,
		MatchConfidence:  &conf,
		RawPayload:       payload,
	}, nil
}

// isVoteMethod reports whether a stored match method was produced by the
// vote cascade, bridged or not.
func isVoteMethod(method string) bool {
	base, _, _ := strings.Cut(method, "+")
	return base == MethodBOERef || base == MethodTitleRule
}
