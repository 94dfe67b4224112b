package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s, err := Default()
	require.NoError(t, err)

	assert.Equal(t, "declared:regex_v2", s.Stance.Version)
	assert.Equal(t, 28, s.Stance.Negation.Lookback)
	require.Len(t, s.Stance.Tiers, 3)
	assert.Equal(t, "vote_intent", s.Stance.Tiers[0].Name)
	assert.InDelta(t, 0.72, s.Stance.Tiers[0].Confidence, 1e-9)
	assert.InDelta(t, 0.66, s.Stance.Tiers[1].Confidence, 1e-9)
	assert.InDelta(t, 0.58, s.Stance.Tiers[2].Confidence, 1e-9)

	assert.InDelta(t, 0.2, s.Aggregate.SupportThreshold, 1e-9)
	assert.InDelta(t, -0.2, s.Aggregate.OpposeThreshold, 1e-9)
	assert.InDelta(t, 3.0, s.Aggregate.ConfidenceDivisor, 1e-9)

	assert.InDelta(t, 0.15, s.Matching.BridgePenalties[BridgeLineageDirect], 1e-9)
	assert.InDelta(t, 0.2, s.Matching.BridgePenalties[BridgeLineageSharedDeroga], 1e-9)
	assert.InDelta(t, 0.25, s.Matching.BridgePenalties[BridgeLineageSharedMixed], 1e-9)
}

func TestParse_FoldsTitleTerms(t *testing.T) {
	data := []byte(`
stance:
  version: "declared:test"
  conflict_confidence: 0.5
  negation: {tokens: ["no"], lookback: 10}
  tiers:
    - {name: t, confidence: 0.5, support: ['\bsi\b']}
aggregate: {support_threshold: 0.2, oppose_threshold: -0.2, confidence_divisor: 3}
matching:
  version: "m1"
  boe_ref_pattern: 'BOE-[A-Z]-[0-9]{4}-[0-9]+'
  direct_confidence: 1
  title_rule_confidence: 0.9
  bridge_penalties: {lineage_direct: 0.1, lineage_shared_deroga: 0.2, lineage_shared_mixed: 0.3}
  title_rules:
    - boe_id: "BOE-A-2015-3442"
      rules: [["Protección de la  SEGURIDAD Ciudadana"]]
`)
	s, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"proteccion de la seguridad ciudadana"}, s.Matching.TitleRules[0].Rules[0])
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Set)
	}{
		{"bad regex", func(s *Set) { s.Stance.Tiers[0].Support = []string{"(unclosed"} }},
		{"confidence above one", func(s *Set) { s.Stance.Tiers[1].Confidence = 1.2 }},
		{"zero divisor", func(s *Set) { s.Aggregate.ConfidenceDivisor = 0 }},
		{"inverted thresholds", func(s *Set) { s.Aggregate.OpposeThreshold = 0.5 }},
		{"missing penalty", func(s *Set) { delete(s.Matching.BridgePenalties, BridgeLineageSharedMixed) }},
		{"non-BOE title rule", func(s *Set) { s.Matching.TitleRules[0].BOEID = "LEY-5-2000" }},
		{"empty conjunction", func(s *Set) { s.Matching.TitleRules[0].Rules = [][]string{{}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Fresh parse per case so mutations never leak between cases.
			s, err := Default()
			require.NoError(t, err)
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, defaultYAML, 0o600))
	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "vote_matcher_v1", s.Matching.Version)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
