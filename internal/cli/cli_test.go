package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hemiciclo/internal/cli"
	"github.com/ashita-ai/hemiciclo/internal/config"
	"github.com/ashita-ai/hemiciclo/internal/testutil"
)

const bundle = `{
  "sources": [{"source_id": "congreso_votaciones", "name": "Congreso"}],
  "topic_evidence": [
    {"evidence_key": "ev-1", "topic_id": "t1", "topic_set_id": "ts1", "person_id": "p1",
     "evidence_type": "declared:speech", "evidence_date": "2024-03-01",
     "excerpt": "Votaremos a favor.", "weight": 1, "source_id": "congreso_votaciones"},
    {"evidence_key": "ev-2", "topic_id": "t1", "topic_set_id": "ts1", "person_id": "p2",
     "evidence_type": "declared:speech", "evidence_date": "2024-03-01",
     "excerpt": "Apoyamos esta iniciativa.", "weight": 1, "source_id": "congreso_votaciones"}
  ],
  "norms": [{"norm_id": "n1", "boe_id": "BOE-A-2000-15060", "title": "LISOS"}],
  "fragments": [{"fragment_id": "f1", "norm_id": "n1"}],
  "responsibilities": [{"responsibility_id": 1, "fragment_id": "f1", "role": "approve", "actor_label": "Cortes Generales"}],
  "sanction_catalog": [{"boe_id": "BOE-A-2000-15060"}],
  "vote_events": [
    {"vote_event_id": "ve1", "source_id": "congreso_votaciones", "vote_date": "2024-03-01",
     "title": "Convalidación del Real Decreto Legislativo 5/2000"}
  ]
}`

type harness struct {
	t   *testing.T
	dir string
	env cli.Env
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{t: t, dir: dir, env: cli.Env{
		Config: config.Config{
			DatabaseURL:     filepath.Join(dir, "hemiciclo.db"),
			ReviewThreshold: 0.62,
			ComputedVersion: "v1",
			SampleSize:      5,
		},
		Logger:  testutil.TestLogger(),
		Version: "test",
	}}
}

// run executes args and returns the exit code and stdout.
func (h *harness) run(args ...string) (int, []byte) {
	h.t.Helper()
	var out bytes.Buffer
	env := h.env
	env.Stdout = &out
	code := cli.Run(context.Background(), env, args)
	return code, out.Bytes()
}

func (h *harness) mustRun(args ...string) map[string]any {
	h.t.Helper()
	code, out := h.run(args...)
	require.Equal(h.t, cli.ExitOK, code, "stdout: %s", out)
	var v map[string]any
	require.NoError(h.t, json.Unmarshal(out, &v), "stdout: %s", out)
	return v
}

func (h *harness) seed() {
	h.t.Helper()
	path := filepath.Join(h.dir, "bundle.json")
	require.NoError(h.t, os.WriteFile(path, []byte(bundle), 0o600))
	h.mustRun("migrate")
	h.mustRun("import", path)
}

func TestRun_MissingDatabase(t *testing.T) {
	h := newHarness(t)
	code, out := h.run("reclassify")
	assert.Equal(t, cli.ExitMissing, code)

	var v map[string]string
	require.NoError(t, json.Unmarshal(out, &v))
	assert.Equal(t, "database_missing", v["kind"])
	assert.NoFileExists(t, h.env.Config.DatabaseURL)
}

func TestRun_MissingInputFile(t *testing.T) {
	h := newHarness(t)
	h.mustRun("migrate")
	code, out := h.run("import", filepath.Join(h.dir, "nope.json"))
	assert.Equal(t, cli.ExitMissing, code)

	var v map[string]string
	require.NoError(t, json.Unmarshal(out, &v))
	assert.Equal(t, "input_missing", v["kind"])
}

func TestRun_ValidationFailure(t *testing.T) {
	h := newHarness(t)
	h.mustRun("migrate")
	code, _ := h.run("gaps", "--roles", "vote")
	assert.Equal(t, cli.ExitFailure, code)
}

func TestRun_Migrate(t *testing.T) {
	h := newHarness(t)
	v := h.mustRun("migrate")
	assert.Equal(t, "sqlite", v["dialect"])
	assert.NotEmpty(t, v["applied"])

	again := h.mustRun("migrate")
	assert.Empty(t, again["applied"])
}

func TestRun_ReclassifyDryRunThenLive(t *testing.T) {
	h := newHarness(t)
	h.seed()

	dry := h.mustRun("reclassify", "--dry-run")
	assert.Equal(t, true, dry["dry_run"])
	assert.Equal(t, false, dry["applied"])

	live := h.mustRun("reclassify")
	assert.Equal(t, true, live["applied"])
	assert.Equal(t, dry["accepted"], live["accepted"])
	assert.Equal(t, dry["queued"], live["queued"])

	list := h.mustRun("review", "list")
	entries, ok := list["entries"].([]any)
	require.True(t, ok)
	assert.Len(t, entries, 1)
}

func TestRun_MatchAndGaps(t *testing.T) {
	h := newHarness(t)
	h.seed()

	m := h.mustRun("match", "votes")
	assert.EqualValues(t, 1, m["inserted"])

	g := h.mustRun("gaps")
	assert.EqualValues(t, 0, g["without_vote_evidence"])
}

func TestRun_PositionsRequiresAsOf(t *testing.T) {
	h := newHarness(t)
	h.seed()
	code, _ := h.run("positions", "declared")
	assert.Equal(t, cli.ExitFailure, code)

	h.mustRun("reclassify")
	v := h.mustRun("positions", "declared", "--as-of", "2024-12-31")
	assert.EqualValues(t, 1, v["inserted"])
}

func TestRun_OutFile(t *testing.T) {
	h := newHarness(t)
	h.seed()
	out := filepath.Join(h.dir, "summary.json")

	code, stdout := h.run("gaps", "--out", out)
	require.Equal(t, cli.ExitOK, code)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(data, &v))
	assert.Contains(t, v, "by_reason")
}
