package matcher

import (
	"math"
	"sort"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/rules"
)

// Bridge describes how a candidate norm was reached from a base norm.
type Bridge struct {
	Kind        string  `json:"kind"`
	BaseBOEID   string  `json:"base_boe_id"`
	AnchorBOEID string  `json:"anchor_boe_id,omitempty"`
	Penalty     float64 `json:"penalty"`
}

type link struct {
	norm string
	rel  model.RelationType
}

// Lineage is the norm relation graph keyed by norm id.
type Lineage struct {
	boeOf  map[string]string
	normOf map[string]string
	out    map[string][]link // norm -> related
	in     map[string][]link // related -> norm
}

// NewLineage indexes norms and edges. Edges touching unknown norms are kept;
// they simply never resolve to a BOE id.
func NewLineage(norms []model.LegalNorm, edges []model.LineageEdge) *Lineage {
	l := &Lineage{
		boeOf:  make(map[string]string, len(norms)),
		normOf: make(map[string]string, len(norms)),
		out:    make(map[string][]link),
		in:     make(map[string][]link),
	}
	for _, n := range norms {
		l.boeOf[n.NormID] = n.BOEID
		l.normOf[n.BOEID] = n.NormID
	}
	for _, e := range edges {
		l.out[e.NormID] = append(l.out[e.NormID], link{norm: e.RelatedNormID, rel: e.RelationType})
		l.in[e.RelatedNormID] = append(l.in[e.RelatedNormID], link{norm: e.NormID, rel: e.RelationType})
	}
	return l
}

// BridgeCandidates returns, for every norm reachable from baseBOE by one of
// the bridge kinds, the cheapest bridge. Ties go to the lexicographically
// smaller anchor BOE id. The result is keyed by candidate BOE id.
func (l *Lineage) BridgeCandidates(baseBOE string, penalties map[string]float64) map[string]Bridge {
	base, ok := l.normOf[baseBOE]
	if !ok {
		return nil
	}
	best := make(map[string]Bridge)
	offer := func(candNorm string, b Bridge) {
		if candNorm == base {
			return
		}
		cand, ok := l.boeOf[candNorm]
		if !ok {
			return
		}
		cur, ok := best[cand]
		if !ok || b.Penalty < cur.Penalty || (b.Penalty == cur.Penalty && b.AnchorBOEID < cur.AnchorBOEID) {
			best[cand] = b
		}
	}

	for _, in := range l.in[base] {
		if in.rel == model.RelationDesarrolla || in.rel == model.RelationModifica {
			offer(in.norm, Bridge{Kind: rules.BridgeLineageDirect, BaseBOEID: baseBOE, Penalty: penalties[rules.BridgeLineageDirect]})
		}
	}
	for _, toAnchor := range l.out[base] {
		anchor := l.boeOf[toAnchor.norm]
		for _, sibling := range l.in[toAnchor.norm] {
			kind := sharedKind(toAnchor.rel, sibling.rel)
			if kind == "" {
				continue
			}
			offer(sibling.norm, Bridge{Kind: kind, BaseBOEID: baseBOE, AnchorBOEID: anchor, Penalty: penalties[kind]})
		}
	}
	return best
}

// sharedKind classifies two relations pointing at the same anchor.
func sharedKind(a, b model.RelationType) string {
	switch {
	case a == model.RelationDeroga && b == model.RelationDeroga:
		return rules.BridgeLineageSharedDeroga
	case a != b && (a == model.RelationDeroga || b == model.RelationDeroga):
		return rules.BridgeLineageSharedMixed
	default:
		return ""
	}
}

// ExecutionLink classifies how an observed norm relates to a responsibility
// norm: exact_norm, direct_lineage, shared_anchor, or "" when unrelated.
// The returned anchor is set for shared_anchor only.
func (l *Lineage) ExecutionLink(observedBOE, targetBOE string) (method, anchor string) {
	if observedBOE == targetBOE {
		return MethodExactNorm, ""
	}
	obs, ok1 := l.normOf[observedBOE]
	tgt, ok2 := l.normOf[targetBOE]
	if !ok1 || !ok2 {
		return "", ""
	}
	for _, e := range l.out[tgt] {
		if e.norm == obs {
			return MethodDirectLineage, ""
		}
	}
	for _, e := range l.out[obs] {
		if e.norm == tgt {
			return MethodDirectLineage, ""
		}
	}

	obsRelated := l.related(obs)
	var shared []string
	for n := range l.related(tgt) {
		if n != obs && n != tgt && obsRelated[n] {
			if b, ok := l.boeOf[n]; ok {
				shared = append(shared, b)
			}
		}
	}
	if len(shared) == 0 {
		return "", ""
	}
	sort.Strings(shared)
	return MethodSharedAnchor, shared[0]
}

func (l *Lineage) related(norm string) map[string]bool {
	out := make(map[string]bool)
	for _, e := range l.out[norm] {
		out[e.norm] = true
	}
	for _, e := range l.in[norm] {
		out[e.norm] = true
	}
	return out
}

func clamp(v float64) float64 {
	return math.Max(0, math.Round(v*1e6)/1e6)
}
