// Package rules loads the versioned rule sets that drive stance
// classification, position aggregation and responsibility matching.
//
// Rules are configuration data, not code: the embedded default.yaml is the
// baseline, and an operator can point HEMICICLO_RULES_PATH at a reviewed
// override. Every rule set carries a version string that is written into
// the rows it produces, so a rule change is auditable independently of a
// code change.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/hemiciclo/internal/textfold"
)

//go:embed default.yaml
var defaultYAML []byte

// Set is the full rule configuration.
type Set struct {
	Stance    StanceRules     `yaml:"stance"`
	Aggregate AggregateParams `yaml:"aggregate"`
	Matching  MatchingRules   `yaml:"matching"`
}

// StanceRules configures the tiered stance classifier.
type StanceRules struct {
	Version            string     `yaml:"version"`
	ConflictConfidence float64    `yaml:"conflict_confidence"`
	Negation           Negation   `yaml:"negation"`
	Tiers              []TierRule `yaml:"tiers"`
}

// Negation configures the lookback negation heuristic.
type Negation struct {
	Tokens   []string `yaml:"tokens"`
	Lookback int      `yaml:"lookback"` // in characters
}

// TierRule is one ordered tier of stance patterns. A tier may carry
// directional patterns (support/oppose), abstention patterns, or both.
type TierRule struct {
	Name       string   `yaml:"name"`
	Confidence float64  `yaml:"confidence"`
	Support    []string `yaml:"support"`
	Oppose     []string `yaml:"oppose"`
	Abstain    []string `yaml:"abstain"`
}

// AggregateParams are the declared-aggregate heuristics. They are tunables
// kept for behavioural parity, not derived constants.
type AggregateParams struct {
	SupportThreshold  float64 `yaml:"support_threshold"`
	OpposeThreshold   float64 `yaml:"oppose_threshold"`
	ConfidenceDivisor float64 `yaml:"confidence_divisor"`
}

// MatchingRules configures the responsibility-vote cascade.
type MatchingRules struct {
	Version             string             `yaml:"version"`
	BOERefPattern       string             `yaml:"boe_ref_pattern"`
	DirectConfidence    float64            `yaml:"direct_confidence"`
	TitleRuleConfidence float64            `yaml:"title_rule_confidence"`
	BridgePenalties     map[string]float64 `yaml:"bridge_penalties"`
	TitleRules          []NormTitleRules   `yaml:"title_rules"`
}

// NormTitleRules is the curated rule set for one norm. Each entry of Rules
// is a conjunction of terms; any rule firing matches the norm.
type NormTitleRules struct {
	BOEID string     `yaml:"boe_id"`
	Label string     `yaml:"label"`
	Rules [][]string `yaml:"rules"`
}

// Bridge kinds, keyed into MatchingRules.BridgePenalties.
const (
	BridgeLineageDirect       = "lineage_direct"
	BridgeLineageSharedDeroga = "lineage_shared_deroga"
	BridgeLineageSharedMixed  = "lineage_shared_mixed"
)

// Default returns the embedded rule set.
func Default() (Set, error) {
	return Parse(defaultYAML)
}

// Load reads a rule set from path, or the embedded default when path is empty.
func Load(path string) (Set, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("rules: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML rule set. Title-rule terms are folded
// on load so hand-written accents and capitals cannot silently never match.
func Parse(data []byte) (Set, error) {
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Set{}, fmt.Errorf("rules: parse yaml: %w", err)
	}
	for i := range s.Matching.TitleRules {
		for j, rule := range s.Matching.TitleRules[i].Rules {
			for k, term := range rule {
				s.Matching.TitleRules[i].Rules[j][k] = textfold.Fold(term)
			}
		}
	}
	if err := s.Validate(); err != nil {
		return Set{}, err
	}
	return s, nil
}

// Validate checks value ranges and that every pattern compiles.
func (s Set) Validate() error {
	st := s.Stance
	if st.Version == "" {
		return fmt.Errorf("rules: stance.version is required")
	}
	if err := unitInterval("stance.conflict_confidence", st.ConflictConfidence); err != nil {
		return err
	}
	if st.Negation.Lookback < 0 {
		return fmt.Errorf("rules: stance.negation.lookback must not be negative")
	}
	if len(st.Tiers) == 0 {
		return fmt.Errorf("rules: stance.tiers is empty")
	}
	for _, tier := range st.Tiers {
		if tier.Name == "" {
			return fmt.Errorf("rules: stance tier without name")
		}
		if err := unitInterval("stance tier "+tier.Name+" confidence", tier.Confidence); err != nil {
			return err
		}
		for _, group := range [][]string{tier.Support, tier.Oppose, tier.Abstain} {
			for _, p := range group {
				if _, err := regexp.Compile(p); err != nil {
					return fmt.Errorf("rules: tier %s pattern %q: %w", tier.Name, p, err)
				}
			}
		}
	}

	a := s.Aggregate
	if a.ConfidenceDivisor <= 0 {
		return fmt.Errorf("rules: aggregate.confidence_divisor must be positive")
	}
	if a.OpposeThreshold > a.SupportThreshold {
		return fmt.Errorf("rules: aggregate.oppose_threshold exceeds support_threshold")
	}

	m := s.Matching
	if m.Version == "" {
		return fmt.Errorf("rules: matching.version is required")
	}
	if _, err := regexp.Compile(m.BOERefPattern); err != nil {
		return fmt.Errorf("rules: matching.boe_ref_pattern: %w", err)
	}
	if err := unitInterval("matching.direct_confidence", m.DirectConfidence); err != nil {
		return err
	}
	if err := unitInterval("matching.title_rule_confidence", m.TitleRuleConfidence); err != nil {
		return err
	}
	for _, kind := range []string{BridgeLineageDirect, BridgeLineageSharedDeroga, BridgeLineageSharedMixed} {
		p, ok := m.BridgePenalties[kind]
		if !ok {
			return fmt.Errorf("rules: matching.bridge_penalties.%s is required", kind)
		}
		if p <= 0 || p > 1 {
			return fmt.Errorf("rules: matching.bridge_penalties.%s must be in (0,1]", kind)
		}
	}
	for _, tr := range m.TitleRules {
		if !strings.HasPrefix(tr.BOEID, "BOE-") {
			return fmt.Errorf("rules: title rule boe_id %q is not a BOE reference", tr.BOEID)
		}
		for _, rule := range tr.Rules {
			if len(rule) == 0 {
				return fmt.Errorf("rules: title rule for %s has an empty term list", tr.BOEID)
			}
		}
	}
	return nil
}

func unitInterval(name string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("rules: %s %v outside [0,1]", name, v)
	}
	return nil
}
