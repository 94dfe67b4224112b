// Package stance infers a declared stance from free Spanish text using
// ordered, versioned pattern tiers. Classification is pure: the same text
// and rule set always produce the same result.
package stance

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/rules"
	"github.com/ashita-ai/hemiciclo/internal/textfold"
)

// ReasonConflictingSignal is the reason attached to contradictory matches.
const ReasonConflictingSignal = "conflicting_signal"

// Result is a classifier conclusion for one piece of text.
type Result struct {
	Stance     model.Stance `json:"stance"`
	Polarity   int          `json:"polarity"`
	Confidence float64      `json:"confidence"`
	Reason     string       `json:"reason"`
	Method     string       `json:"method"`
}

// Conflicting reports whether the result came from contradictory signals.
func (r Result) Conflicting() bool {
	return r.Reason == ReasonConflictingSignal
}

type tier struct {
	name       string
	confidence float64
	support    []*regexp.Regexp
	oppose     []*regexp.Regexp
	abstain    []*regexp.Regexp
}

// Classifier applies compiled stance tiers to text.
type Classifier struct {
	version            string
	conflictConfidence float64
	negation           *regexp.Regexp
	lookback           int
	tiers              []tier
}

// New compiles a classifier from a stance rule set.
func New(r rules.StanceRules) (*Classifier, error) {
	c := &Classifier{
		version:            r.Version,
		conflictConfidence: r.ConflictConfidence,
		lookback:           r.Negation.Lookback,
	}
	if len(r.Negation.Tokens) > 0 {
		quoted := make([]string, len(r.Negation.Tokens))
		for i, tok := range r.Negation.Tokens {
			quoted[i] = regexp.QuoteMeta(textfold.Fold(tok))
		}
		re, err := regexp.Compile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("stance: compile negation: %w", err)
		}
		c.negation = re
	}
	for _, tr := range r.Tiers {
		t := tier{name: tr.Name, confidence: tr.Confidence}
		var err error
		if t.support, err = compileAll(tr.Support); err != nil {
			return nil, fmt.Errorf("stance: tier %s: %w", tr.Name, err)
		}
		if t.oppose, err = compileAll(tr.Oppose); err != nil {
			return nil, fmt.Errorf("stance: tier %s: %w", tr.Name, err)
		}
		if t.abstain, err = compileAll(tr.Abstain); err != nil {
			return nil, fmt.Errorf("stance: tier %s: %w", tr.Name, err)
		}
		c.tiers = append(c.tiers, t)
	}
	return c, nil
}

// Version returns the rule-set version recorded as stance_method.
func (c *Classifier) Version() string {
	return c.version
}

type tierHits struct {
	support, oppose, abstain bool
}

// Classify returns the stance expressed by text and true, or false when no
// pattern fires. A false result is "no signal", never neutral evidence.
//
// Tiers are evaluated in order and the first tier with a directional signal
// decides. Abstention alongside any directional signal, or support and
// oppose in the same tier, yields a mixed conflicting_signal result.
func (c *Classifier) Classify(text string) (Result, bool) {
	folded := textfold.Fold(text)
	if folded == "" {
		return Result{}, false
	}

	hits := make([]tierHits, len(c.tiers))
	var anyAbstain, anyDirectional bool
	for i, t := range c.tiers {
		hits[i] = tierHits{
			support: c.matchesAny(folded, t.support),
			oppose:  c.matchesAny(folded, t.oppose),
			abstain: c.matchesAny(folded, t.abstain),
		}
		anyAbstain = anyAbstain || hits[i].abstain
		anyDirectional = anyDirectional || hits[i].support || hits[i].oppose
	}

	if anyAbstain && anyDirectional {
		return c.conflict(), true
	}

	for i, t := range c.tiers {
		h := hits[i]
		switch {
		case h.support && h.oppose:
			return c.conflict(), true
		case h.support:
			return c.result(model.StanceSupport, t.confidence, t.name+"_support"), true
		case h.oppose:
			return c.result(model.StanceOppose, t.confidence, t.name+"_oppose"), true
		case h.abstain:
			return c.result(model.StanceMixed, t.confidence, t.name), true
		}
	}
	return Result{}, false
}

func (c *Classifier) conflict() Result {
	return c.result(model.StanceMixed, c.conflictConfidence, ReasonConflictingSignal)
}

func (c *Classifier) result(s model.Stance, confidence float64, reason string) Result {
	return Result{
		Stance:     s,
		Polarity:   s.Polarity(),
		Confidence: confidence,
		Reason:     reason,
		Method:     c.version,
	}
}

// matchesAny reports whether any pattern has at least one non-negated match.
func (c *Classifier) matchesAny(folded string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		for _, loc := range re.FindAllStringIndex(folded, -1) {
			if !c.negated(folded, loc[0]) {
				return true
			}
		}
	}
	return false
}

// negated reports whether a negation token occurs in the lookback window
// ending at start. The heuristic is conservative, not exhaustive: it
// catches "no apoyamos" but not "no creemos que debamos apoyar".
func (c *Classifier) negated(folded string, start int) bool {
	if c.negation == nil || c.lookback == 0 {
		return false
	}
	before := []rune(folded[:start])
	window := before
	if cut := len(before) - c.lookback; cut > 0 {
		window = before[cut:]
		// A word split by the cut is not a token.
		if isWordRune(before[cut-1]) {
			i := 0
			for i < len(window) && isWordRune(window[i]) {
				i++
			}
			window = window[i:]
		}
	}
	return c.negation.MatchString(string(window))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}
