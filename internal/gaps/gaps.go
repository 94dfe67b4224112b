// Package gaps explains why responsibilities still lack vote evidence.
//
// The reporter is read only. It reruns the matcher's direct tests against the
// whole vote corpus and sorts each residual into one reason, separating
// "a matching rule or bridge is missing" from "upstream vote linking is
// missing".
package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/hemiciclo/internal/matcher"
	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/rules"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// Gap reasons in priority order.
const (
	ReasonCandidatePresent     = "candidate_present_needs_rule_or_bridge"
	ReasonNoVoteEventLink      = "no_vote_event_link_for_parliamentary_initiatives"
	ReasonNoVoteCorpusSignal   = "no_vote_corpus_signal"
	ReasonMissingParliamentary = "missing_parliamentary_and_vote_signal"
)

// Reporter diagnoses evidence gaps.
type Reporter struct {
	db     *storage.DB
	rules  rules.MatchingRules
	logger *slog.Logger
}

// New creates a reporter that tests text with the given matching rules.
func New(db *storage.DB, m rules.MatchingRules, logger *slog.Logger) *Reporter {
	return &Reporter{db: db, rules: m, logger: logger}
}

// Params scopes a diagnosis. Limit bounds the listed gaps; reason counts
// always cover every responsibility in scope. Zero lists all.
type Params struct {
	Roles []model.Role
	Limit int
}

// Gap is one responsibility without vote evidence.
type Gap struct {
	ResponsibilityID int64      `json:"responsibility_id"`
	FragmentID       string     `json:"fragment_id"`
	Role             model.Role `json:"role"`
	ActorLabel       string     `json:"actor_label,omitempty"`
	BOEID            string     `json:"boe_id"`
	Reason           string     `json:"reason"`
	// CandidateSource names the first text that mentions the norm, as
	// "vote:<id>" or "document:<vote id>:<url>".
	CandidateSource     string   `json:"candidate_source,omitempty"`
	UnlinkedInitiatives []string `json:"unlinked_initiatives,omitempty"`
}

// Report is the diagnosis output.
type Report struct {
	Roles               []model.Role                  `json:"roles"`
	Coverage            storage.EvidenceCoverageStats `json:"coverage"`
	Responsibilities    int                           `json:"responsibilities"`
	WithoutVoteEvidence int                           `json:"without_vote_evidence"`
	TextsScanned        int                           `json:"texts_scanned"`
	NormsMentioned      int                           `json:"norms_mentioned"`
	ByReason            map[string]int                `json:"by_reason"`
	Gaps                []Gap                         `json:"gaps"`
}

// Diagnose classifies every responsibility under roles that has no vote
// evidence.
func (r *Reporter) Diagnose(ctx context.Context, p Params) (Report, error) {
	if len(p.Roles) == 0 {
		return Report{}, fmt.Errorf("gaps: %w: role filter is empty", model.ErrValidation)
	}
	if p.Limit < 0 {
		return Report{}, fmt.Errorf("gaps: %w: negative limit", model.ErrValidation)
	}
	ctx, span := telemetry.Start(ctx, "gaps", "diagnose", attribute.Int("limit", p.Limit))
	defer span.End()

	targets, err := r.db.ListResponsibilityTargets(ctx, p.Roles)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Report{}, fmt.Errorf("gaps: %w", err)
	}
	ids := make([]int64, len(targets))
	for i, t := range targets {
		ids[i] = t.ResponsibilityID
	}
	evidence, err := r.db.ListEvidenceForResponsibilities(ctx, ids)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Report{}, fmt.Errorf("gaps: %w", err)
	}
	linked, err := r.db.ListLinkedInitiativeIDs(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Report{}, fmt.Errorf("gaps: %w", err)
	}
	corpus, err := r.scanCorpus(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Report{}, fmt.Errorf("gaps: %w", err)
	}

	type residue struct {
		hasVote  bool
		diary    bool
		unlinked []string
	}
	byResp := make(map[int64]*residue, len(targets))
	for _, id := range ids {
		byResp[id] = &residue{}
	}
	for _, e := range evidence {
		res := byResp[e.ResponsibilityID]
		if isVoteEvidence(e) {
			res.hasVote = true
		}
		if e.EvidenceType == model.EvidenceParliamentaryDiary {
			res.diary = true
			if e.InitiativeID != "" && !linked[e.InitiativeID] {
				res.unlinked = append(res.unlinked, e.InitiativeID)
			}
		}
	}

	rep := Report{
		Roles:            p.Roles,
		Coverage:         r.coverage(ctx, p.Roles),
		Responsibilities: len(targets),
		TextsScanned:     corpus.texts,
		NormsMentioned:   len(corpus.firstMention),
		ByReason:         map[string]int{},
		Gaps:             []Gap{},
	}
	for _, t := range targets {
		res := byResp[t.ResponsibilityID]
		if res.hasVote {
			continue
		}
		rep.WithoutVoteEvidence++
		g := Gap{
			ResponsibilityID: t.ResponsibilityID,
			FragmentID:       t.FragmentID,
			Role:             t.Role,
			ActorLabel:       t.ActorLabel,
			BOEID:            t.BOEID,
		}
		source, mentioned := corpus.firstMention[t.BOEID]
		switch {
		case mentioned:
			g.Reason = ReasonCandidatePresent
			g.CandidateSource = source
		case len(res.unlinked) > 0:
			g.Reason = ReasonNoVoteEventLink
			g.UnlinkedInitiatives = uniqueSorted(res.unlinked)
		case res.diary:
			g.Reason = ReasonNoVoteCorpusSignal
		default:
			g.Reason = ReasonMissingParliamentary
		}
		rep.ByReason[g.Reason]++
		if p.Limit == 0 || len(rep.Gaps) < p.Limit {
			rep.Gaps = append(rep.Gaps, g)
		}
	}

	span.SetAttributes(attribute.Int("responsibilities", rep.Responsibilities),
		attribute.Int("without_vote_evidence", rep.WithoutVoteEvidence))
	r.logger.Info("gaps: diagnosed", "responsibilities", rep.Responsibilities,
		"without_vote_evidence", rep.WithoutVoteEvidence, "texts", rep.TextsScanned)
	return rep, nil
}

type corpusIndex struct {
	texts        int
	firstMention map[string]string
}

// scanCorpus runs the direct tests once over every vote text (alone and
// merged with each linked initiative) and every vote document excerpt,
// recording the first text that mentions each norm.
func (r *Reporter) scanCorpus(ctx context.Context) (corpusIndex, error) {
	catalog, err := r.db.ListSanctionCatalog(ctx)
	if err != nil {
		return corpusIndex{}, err
	}
	detector, err := matcher.NewDetector(r.rules, catalog)
	if err != nil {
		return corpusIndex{}, err
	}
	votes, err := r.db.ListVoteEvents(ctx, 0)
	if err != nil {
		return corpusIndex{}, err
	}
	links, err := r.db.ListLinkedInitiatives(ctx)
	if err != nil {
		return corpusIndex{}, err
	}
	excerpts, err := r.db.ListVoteDocumentExcerpts(ctx)
	if err != nil {
		return corpusIndex{}, err
	}

	idx := corpusIndex{firstMention: make(map[string]string)}
	record := func(text, source string) {
		idx.texts++
		for _, h := range detector.Detect(text) {
			if _, ok := idx.firstMention[h.BOEID]; !ok {
				idx.firstMention[h.BOEID] = source
			}
		}
	}
	for _, v := range votes {
		record(v.Text(), "vote:"+v.VoteEventID)
		for _, li := range links[v.VoteEventID] {
			record(strings.TrimSpace(v.Text()+" "+li.Text()), "vote:"+v.VoteEventID)
		}
	}
	for _, x := range excerpts {
		record(x.Excerpt, "document:"+x.VoteEventID+":"+x.DocumentURL)
	}
	return idx, nil
}

// coverage is informational. A failure is logged and reported as zero.
func (r *Reporter) coverage(ctx context.Context, roles []model.Role) storage.EvidenceCoverageStats {
	stats, err := r.db.GetEvidenceCoverageStats(ctx, roles)
	if err != nil {
		r.logger.Warn("gaps: coverage query failed, reporting zero", "error", err)
		return storage.EvidenceCoverageStats{}
	}
	return stats
}

func isVoteEvidence(e model.ResponsibilityEvidence) bool {
	if e.VoteEventID != nil {
		return true
	}
	for _, t := range model.VoteEvidenceTypes {
		if e.EvidenceType == t {
			return true
		}
	}
	return false
}

func uniqueSorted(ids []string) []string {
	slices.Sort(ids)
	return slices.Compact(ids)
}
