package matcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// Execution bridge methods and their coarse confidence labels.
const (
	MethodExactNorm     = "exact_norm"
	MethodDirectLineage = "direct_lineage"
	MethodSharedAnchor  = "shared_anchor"
)

var executionLabels = map[string]string{
	MethodExactNorm:     "medium",
	MethodDirectLineage: "medium",
	MethodSharedAnchor:  "low",
}

// Source record resolution methods, in the order they are tried.
const (
	ResolvedByRecordID = "source_record_id"
	ResolvedByBOERef   = "boe_ref_key"
	ResolvedByBOEID    = "boe_id_key"
	Unresolved         = "unresolved"
)

// ExecutionParams scopes an execution bridging run. Roles default to
// delegate. A zero Limit scans every observation and enables pruning.
type ExecutionParams struct {
	Roles  []model.Role
	Limit  int
	DryRun bool
}

// ExecutionSample is one evidence row shown in a summary.
type ExecutionSample struct {
	ResponsibilityID int64  `json:"responsibility_id"`
	ObservationID    string `json:"observation_id"`
	ObservedBOEID    string `json:"observed_boe_id"`
	TargetBOEID      string `json:"target_boe_id"`
	Method           string `json:"match_method"`
	ConfidenceLabel  string `json:"confidence_label"`
	Resolution       string `json:"source_record_resolution"`
}

// ExecutionSummary reports an execution bridging run.
type ExecutionSummary struct {
	RunID                string         `json:"run_id,omitempty"`
	DryRun               bool           `json:"dry_run"`
	Applied              bool           `json:"applied"`
	Roles                []model.Role   `json:"roles"`
	ObservationsScanned  int            `json:"observations_scanned"`
	ObservationsLinked   int            `json:"observations_linked"`
	ObservationsUnlinked int            `json:"observations_unlinked"`
	ByMethod             map[string]int `json:"by_method"`
	ByResolution         map[string]int `json:"by_resolution"`
	StalePruning         bool           `json:"stale_pruning"`
	Counts
	Samples []ExecutionSample `json:"samples"`
}

type resolution struct {
	Method string `json:"method"`
	Key    string `json:"key,omitempty"`
	// SourceID is the source the record was found under. It differs from
	// the observation's source only after a synthetic key fallback.
	SourceID string `json:"source_id,omitempty"`
	pk       *int64
}

type executionPayload struct {
	MatchMethod      string     `json:"match_method"`
	ConfidenceLabel  string     `json:"confidence_label"`
	ObservationID    string     `json:"observation_id"`
	ObservedBOEID    string     `json:"observed_boe_id"`
	TargetBOEID      string     `json:"target_boe_id"`
	AnchorBOEID      string     `json:"anchor_boe_id,omitempty"`
	Metric           string     `json:"metric"`
	Value            float64    `json:"value"`
	SourceRecordPath resolution `json:"source_record_resolution"`
}

// BridgeExecution links sanction volume observations to responsibilities
// whose norm is the observed norm, one lineage edge away from it, or shares a
// related norm with it.
func (m *Matcher) BridgeExecution(ctx context.Context, p ExecutionParams) (ExecutionSummary, error) {
	if len(p.Roles) == 0 {
		p.Roles = []model.Role{model.RoleDelegate}
	}
	if err := validateRoles(p.Roles); err != nil {
		return ExecutionSummary{}, fmt.Errorf("matcher: %w", err)
	}
	if p.Limit < 0 {
		return ExecutionSummary{}, fmt.Errorf("matcher: %w: negative limit", model.ErrValidation)
	}
	ctx, span := telemetry.Start(ctx, "matcher", "bridge_execution",
		attribute.Bool("dry_run", p.DryRun), attribute.Int("limit", p.Limit))
	defer span.End()
	started := time.Now()

	targets, err := m.db.ListResponsibilityTargets(ctx, p.Roles)
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("matcher: %w", err)
	}
	norms, err := m.db.ListNorms(ctx)
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("matcher: %w", err)
	}
	edges, err := m.db.ListLineageEdges(ctx)
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("matcher: %w", err)
	}
	observations, err := m.db.ListObservations(ctx, p.Limit)
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("matcher: %w", err)
	}
	existing, err := m.db.ListResponsibilityEvidence(ctx, []string{model.EvidenceSanctionVolume})
	if err != nil {
		return ExecutionSummary{}, fmt.Errorf("matcher: %w", err)
	}
	lineage := NewLineage(norms, edges)

	sum := ExecutionSummary{
		DryRun:              p.DryRun,
		Roles:               p.Roles,
		ObservationsScanned: len(observations),
		ByMethod:            map[string]int{},
		ByResolution:        map[string]int{},
		StalePruning:        p.Limit == 0,
		Samples:             []ExecutionSample{},
	}
	inScope := make(map[int64]bool, len(targets))
	for _, t := range targets {
		inScope[t.ResponsibilityID] = true
	}

	resolved := make(map[string]resolution)
	var desired []model.ResponsibilityEvidence
	for _, o := range observations {
		linked := false
		for _, t := range targets {
			method, anchor := lineage.ExecutionLink(o.BOEID, t.BOEID)
			if method == "" {
				continue
			}
			res, ok := resolved[o.ObservationID]
			if !ok {
				if res, err = m.resolveRecord(ctx, o); err != nil {
					span.SetStatus(codes.Error, err.Error())
					return ExecutionSummary{}, fmt.Errorf("matcher: %w", err)
				}
				resolved[o.ObservationID] = res
				sum.ByResolution[res.Method]++
			}
			row, err := executionEvidence(o, t, method, anchor, res)
			if err != nil {
				return ExecutionSummary{}, err
			}
			desired = append(desired, row)
			linked = true
			sum.ByMethod[method]++
			if len(sum.Samples) < m.sampleSize {
				sum.Samples = append(sum.Samples, ExecutionSample{
					ResponsibilityID: t.ResponsibilityID, ObservationID: o.ObservationID,
					ObservedBOEID: o.BOEID, TargetBOEID: t.BOEID, Method: method,
					ConfidenceLabel: executionLabels[method], Resolution: res.Method,
				})
			}
		}
		if linked {
			sum.ObservationsLinked++
		} else {
			sum.ObservationsUnlinked++
		}
	}

	plan, counts, claimed := diff(desired, existing, func(e model.ResponsibilityEvidence) *string { return e.ObservationID }, false)
	if sum.StalePruning {
		for _, e := range existing {
			if !claimed[e.EvidenceID] && inScope[e.ResponsibilityID] && executionLabels[e.MatchMethod] != "" {
				plan.deletes = append(plan.deletes, e.EvidenceID)
			}
		}
	}
	counts.Deleted = len(plan.deletes)
	sum.Counts = counts
	span.SetAttributes(attribute.Int("observations", sum.ObservationsScanned),
		attribute.Int("inserted", counts.Inserted), attribute.Int("deleted", counts.Deleted))

	if p.DryRun {
		return sum, nil
	}

	run := newRun("match-execution", map[string]any{
		"roles": model.RoleStrings(p.Roles), "limit": p.Limit,
	}, started)
	sum.RunID = run.RunID.String()
	sum.Applied = true
	run.Summary = sum
	run.CompletedAt = time.Now()
	if err := m.applyPlan(ctx, plan, run); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return ExecutionSummary{}, fmt.Errorf("matcher: apply execution evidence: %w", err)
	}
	m.logger.Info("matcher: execution bridged", "run_id", sum.RunID, "observations", sum.ObservationsScanned,
		"linked", sum.ObservationsLinked, "inserted", counts.Inserted, "updated", counts.Updated,
		"deleted", counts.Deleted)
	return sum, nil
}

// resolveRecord finds the source record behind an observation: its own
// record id under its own source first, then the synthetic boe_ref:<ID> and
// <ID> keys, each tried under the observation's source before any source.
// The method is reported even when nothing resolves.
func (m *Matcher) resolveRecord(ctx context.Context, o model.SanctionVolumeObservation) (resolution, error) {
	type attempt struct {
		method, key string
		anySource   bool
	}
	attempts := []attempt{
		{method: ResolvedByRecordID, key: o.SourceRecordID},
		{method: ResolvedByBOERef, key: "boe_ref:" + o.BOEID},
		{method: ResolvedByBOERef, key: "boe_ref:" + o.BOEID, anySource: true},
		{method: ResolvedByBOEID, key: o.BOEID},
		{method: ResolvedByBOEID, key: o.BOEID, anySource: true},
	}
	for _, a := range attempts {
		if a.key == "" {
			continue
		}
		scope := o.SourceID
		if a.anySource {
			scope = ""
		}
		pk, ok, err := m.db.FindSourceRecordPK(ctx, scope, a.key)
		if err != nil {
			return resolution{}, err
		}
		if !ok {
			continue
		}
		res := resolution{Method: a.method, Key: a.key, SourceID: scope, pk: &pk}
		if a.anySource {
			if res.SourceID, err = m.db.SourceIDOfRecord(ctx, pk); err != nil {
				return resolution{}, err
			}
		}
		return res, nil
	}
	return resolution{Method: Unresolved}, nil
}

func executionEvidence(o model.SanctionVolumeObservation, t model.ResponsibilityTarget, method, anchor string, res resolution) (model.ResponsibilityEvidence, error) {
	label := executionLabels[method]
	payload, err := marshalPayload(executionPayload{
		MatchMethod:      method,
		ConfidenceLabel:  label,
		ObservationID:    o.ObservationID,
		ObservedBOEID:    o.BOEID,
		TargetBOEID:      t.BOEID,
		AnchorBOEID:      anchor,
		Metric:           o.Metric,
		Value:            o.Value,
		SourceRecordPath: res,
	})
	if err != nil {
		return model.ResponsibilityEvidence{}, err
	}
	obsID := o.ObservationID
	return model.ResponsibilityEvidence{
		ResponsibilityID: t.ResponsibilityID,
		EvidenceType:     model.EvidenceSanctionVolume,
		EvidenceDate:     o.PeriodDate,
		SourceID:         o.SourceID,
		SourceURL:        o.SourceURL,
		SourceRecordPK:   res.pk,
		ObservationID:    &obsID,
		EvidenceQuote:    o.Metric + "=" + strconv.FormatFloat(o.Value, 'f', -1, 64),
		MatchMethod:      method,
		ConfidenceLabel:  label,
		RawPayload:       payload,
	}, nil
}
