// Package matcher links legal-norm responsibilities to observed actions:
// parliamentary votes through a tiered text cascade with lineage bridging,
// and enforcement observations through the norm lineage graph.
//
// Both pathways share the responsibility evidence table and the same
// plan-then-apply discipline: a run computes the full set of rows it wants,
// diffs it against what is stored, and writes the difference in one
// transaction. Unchanged rows are never rewritten.
package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/rules"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// Matcher writes responsibility evidence rows.
type Matcher struct {
	db         *storage.DB
	rules      rules.MatchingRules
	logger     *slog.Logger
	sampleSize int
}

// New creates a matcher. The rule set is validated up front so a bad
// pattern fails before any read.
func New(db *storage.DB, m rules.MatchingRules, logger *slog.Logger, sampleSize int) (*Matcher, error) {
	if _, err := NewDetector(m, nil); err != nil {
		return nil, err
	}
	if sampleSize < 0 {
		sampleSize = 0
	}
	return &Matcher{db: db, rules: m, logger: logger, sampleSize: sampleSize}, nil
}

// Counts is the write breakdown shared by both pathways.
type Counts struct {
	Desired       int `json:"desired"`
	Inserted      int `json:"inserted"`
	Updated       int `json:"updated"`
	LegacyAdopted int `json:"legacy_adopted"`
	Unchanged     int `json:"unchanged"`
	Deleted       int `json:"deleted"`
}

type writePlan struct {
	inserts []model.ResponsibilityEvidence
	updates []model.ResponsibilityEvidence
	deletes []int64
}

type rowKey struct {
	resp int64
	typ  string
	ref  string
}

type legacyKey struct {
	resp int64
	typ  string
	url  string
	date string
}

// diff matches desired rows to stored rows by (responsibility, type, ref).
// With legacyFallback, a desired row without a keyed match adopts a stored
// row of the same responsibility, type, URL and date whose ref is null.
// It returns the ids of stored rows that were claimed.
func diff(desired, existing []model.ResponsibilityEvidence, ref func(model.ResponsibilityEvidence) *string, legacyFallback bool) (writePlan, Counts, map[int64]bool) {
	keyed := make(map[rowKey]model.ResponsibilityEvidence)
	legacy := make(map[legacyKey][]model.ResponsibilityEvidence)
	for _, e := range existing {
		if r := ref(e); r != nil {
			keyed[rowKey{e.ResponsibilityID, e.EvidenceType, *r}] = e
			continue
		}
		lk := legacyKey{e.ResponsibilityID, e.EvidenceType, e.SourceURL, e.EvidenceDate}
		legacy[lk] = append(legacy[lk], e)
	}

	var (
		plan    writePlan
		counts  = Counts{Desired: len(desired)}
		claimed = make(map[int64]bool)
	)
	for _, d := range desired {
		if prev, ok := keyed[rowKey{d.ResponsibilityID, d.EvidenceType, *ref(d)}]; ok {
			claimed[prev.EvidenceID] = true
			d.EvidenceID = prev.EvidenceID
			if prev.SameContent(d) {
				counts.Unchanged++
				continue
			}
			counts.Updated++
			plan.updates = append(plan.updates, d)
			continue
		}
		if legacyFallback {
			lk := legacyKey{d.ResponsibilityID, d.EvidenceType, d.SourceURL, d.EvidenceDate}
			if rows := legacy[lk]; len(rows) > 0 {
				prev := rows[0]
				legacy[lk] = rows[1:]
				claimed[prev.EvidenceID] = true
				d.EvidenceID = prev.EvidenceID
				counts.LegacyAdopted++
				plan.updates = append(plan.updates, d)
				continue
			}
		}
		counts.Inserted++
		plan.inserts = append(plan.inserts, d)
	}
	return plan, counts, claimed
}

// applyPlan writes a plan and its audit row in one transaction.
func (m *Matcher) applyPlan(ctx context.Context, plan writePlan, run model.BackfillRun) error {
	err := m.db.InTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.DeleteResponsibilityEvidence(ctx, plan.deletes); err != nil {
			return err
		}
		for _, e := range plan.updates {
			if err := tx.UpdateResponsibilityEvidence(ctx, e); err != nil {
				return err
			}
		}
		for _, e := range plan.inserts {
			if _, err := tx.InsertResponsibilityEvidence(ctx, e); err != nil {
				return err
			}
		}
		_, err := tx.CreateBackfillRun(ctx, run)
		return err
	})
	if err != nil {
		return err
	}
	table := "legal_fragment_responsibility_evidence"
	telemetry.RecordRowsWritten(ctx, "matcher", table, "delete", int64(len(plan.deletes)))
	telemetry.RecordRowsWritten(ctx, "matcher", table, "update", int64(len(plan.updates)))
	telemetry.RecordRowsWritten(ctx, "matcher", table, "insert", int64(len(plan.inserts)))
	return nil
}

func newRun(command string, params map[string]any, started time.Time) model.BackfillRun {
	return model.BackfillRun{RunID: uuid.New(), Command: command, Params: params, StartedAt: started}
}

func marshalPayload(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("matcher: encode raw payload: %w", err)
	}
	return string(b), nil
}

func validateRoles(roles []model.Role) error {
	if len(roles) == 0 {
		return fmt.Errorf("%w: role filter is empty", model.ErrValidation)
	}
	for _, r := range roles {
		if _, err := model.ParseRole(string(r)); err != nil {
			return err
		}
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
