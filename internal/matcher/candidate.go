package matcher

import (
	"sort"

	"github.com/ashita-ai/hemiciclo/internal/rules"
)

// Candidate is one proposed vote-to-norm link.
type Candidate struct {
	VoteEventID  string `json:"vote_event_id"`
	InitiativeID string `json:"initiative_id,omitempty"`
	// LinkConfidence is the vote-initiative link score when the text
	// included a linked initiative.
	LinkConfidence *float64 `json:"link_confidence,omitempty"`
	TargetBOEID    string   `json:"target_boe_id"`
	Method         string   `json:"method"`
	Confidence     float64  `json:"confidence"`
	Bridge         *Bridge  `json:"bridge,omitempty"`
}

// expand turns the direct hits for one (vote, initiative) text into
// candidates, adding one bridged candidate per reachable norm and hit.
func expand(voteID, initiativeID string, hits []Hit, lin *Lineage, m rules.MatchingRules) []Candidate {
	var out []Candidate
	for _, h := range hits {
		out = append(out, Candidate{
			VoteEventID: voteID, InitiativeID: initiativeID, TargetBOEID: h.BOEID,
			Method: h.Method, Confidence: h.Confidence,
		})
		bridges := lin.BridgeCandidates(h.BOEID, m.BridgePenalties)
		targets := make([]string, 0, len(bridges))
		for t := range bridges {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		for _, t := range targets {
			b := bridges[t]
			out = append(out, Candidate{
				VoteEventID:  voteID,
				InitiativeID: initiativeID,
				TargetBOEID:  t,
				Method:       h.Method + "+" + b.Kind,
				Confidence:   clamp(h.Confidence - b.Penalty),
				Bridge:       &b,
			})
		}
	}
	return out
}

type pairKey struct {
	vote   string
	target string
}

// Reduce keeps the best candidate per (vote, target BOE id): highest
// confidence, then smaller initiative id, then smaller method. The result is
// ordered by vote then target.
func Reduce(cands []Candidate) []Candidate {
	best := make(map[pairKey]Candidate)
	for _, c := range cands {
		k := pairKey{c.VoteEventID, c.TargetBOEID}
		cur, ok := best[k]
		if !ok || better(c, cur) {
			best[k] = c
		}
	}
	out := make([]Candidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VoteEventID != out[j].VoteEventID {
			return out[i].VoteEventID < out[j].VoteEventID
		}
		return out[i].TargetBOEID < out[j].TargetBOEID
	})
	return out
}

func better(a, b Candidate) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.InitiativeID != b.InitiativeID {
		return a.InitiativeID < b.InitiativeID
	}
	return a.Method < b.Method
}
