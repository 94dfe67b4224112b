package matcher

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ashita-ai/hemiciclo/internal/rules"
	"github.com/ashita-ai/hemiciclo/internal/textfold"
)

// Base match methods.
const (
	MethodBOERef    = "boe_ref"
	MethodTitleRule = "title_rule"
)

// Hit is a norm found directly in a piece of text.
type Hit struct {
	BOEID      string  `json:"boe_id"`
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// Detector runs the direct reference and title-rule tests over text.
type Detector struct {
	boeRef     *regexp.Regexp
	catalog    map[string]bool
	titleRules []rules.NormTitleRules
	direct     float64
	title      float64
}

// NewDetector builds a detector. Direct reference tokens only count for BOE
// ids present in catalog.
func NewDetector(m rules.MatchingRules, catalog []string) (*Detector, error) {
	re, err := regexp.Compile("(?i)" + m.BOERefPattern)
	if err != nil {
		return nil, fmt.Errorf("matcher: boe ref pattern: %w", err)
	}
	cat := make(map[string]bool, len(catalog))
	for _, id := range catalog {
		cat[strings.ToUpper(id)] = true
	}
	return &Detector{
		boeRef:     re,
		catalog:    cat,
		titleRules: m.TitleRules,
		direct:     m.DirectConfidence,
		title:      m.TitleRuleConfidence,
	}, nil
}

// Detect returns every hit in text ordered by BOE id then method. A norm
// found by both tests yields two hits.
func (d *Detector) Detect(text string) []Hit {
	var hits []Hit
	seen := make(map[string]bool)
	for _, tok := range d.boeRef.FindAllString(text, -1) {
		id := strings.ToUpper(tok)
		if d.catalog[id] && !seen[id] {
			seen[id] = true
			hits = append(hits, Hit{BOEID: id, Method: MethodBOERef, Confidence: d.direct})
		}
	}

	folded := textfold.Fold(text)
	for _, tr := range d.titleRules {
		for _, rule := range tr.Rules {
			if textfold.ContainsAll(folded, rule) {
				hits = append(hits, Hit{BOEID: tr.BOEID, Method: MethodTitleRule, Confidence: d.title})
				break
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].BOEID != hits[j].BOEID {
			return hits[i].BOEID < hits[j].BOEID
		}
		return hits[i].Method < hits[j].Method
	})
	return hits
}

// Mentions reports whether text yields a hit for boeID.
func (d *Detector) Mentions(text, boeID string) bool {
	for _, h := range d.Detect(text) {
		if h.BOEID == boeID {
			return true
		}
	}
	return false
}
