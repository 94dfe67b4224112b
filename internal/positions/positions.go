// Package positions computes person-topic positions from topic evidence and
// selects one combined position per key.
//
// Every backfill rebuilds one scope (as-of date, method, version) in memory,
// diffs it against the stored rows, then applies the diff in a single
// transaction. Rerunning with unchanged inputs writes nothing.
package positions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/rules"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// Aggregator owns the topic_positions table.
type Aggregator struct {
	db         *storage.DB
	params     rules.AggregateParams
	logger     *slog.Logger
	sampleSize int
	now        func() time.Time
}

// New creates an aggregator using the given aggregate tunables.
func New(db *storage.DB, params rules.AggregateParams, logger *slog.Logger, sampleSize int) *Aggregator {
	if sampleSize < 0 {
		sampleSize = 0
	}
	return &Aggregator{db: db, params: params, logger: logger, sampleSize: sampleSize, now: time.Now}
}

// Scope selects what a backfill rebuilds.
type Scope struct {
	AsOfDate string
	Version  string
	// SourceID restricts the evidence read. A filtered run never deletes
	// stale rows, since it cannot see the whole scope.
	SourceID string
	DryRun   bool
}

func (s Scope) validate() error {
	if _, err := model.ParseDate(s.AsOfDate); err != nil {
		return err
	}
	if s.Version == "" {
		return fmt.Errorf("%w: computed version is required", model.ErrValidation)
	}
	return nil
}

// Summary reports one scope recompute.
type Summary struct {
	RunID     string                `json:"run_id,omitempty"`
	DryRun    bool                  `json:"dry_run"`
	Applied   bool                  `json:"applied"`
	Method    string                `json:"computed_method"`
	Version   string                `json:"computed_version"`
	AsOfDate  string                `json:"as_of_date"`
	Evidence  int                   `json:"evidence_rows"`
	Computed  int                   `json:"positions_computed"`
	Inserted  int                   `json:"inserted"`
	Updated   int                   `json:"updated"`
	Unchanged int                   `json:"unchanged"`
	Deleted   int                   `json:"deleted"`
	ByStance  map[model.Stance]int  `json:"by_stance"`
	Samples   []model.TopicPosition `json:"samples"`
}

// BackfillDeclared aggregates declared evidence by (topic set, topic, person).
func (a *Aggregator) BackfillDeclared(ctx context.Context, s Scope) (Summary, error) {
	return a.backfillEvidence(ctx, s, storage.EvidenceDeclared, model.MethodDeclared, false)
}

// BackfillVotes aggregates vote-derived evidence by (topic set, topic,
// person, mandate).
func (a *Aggregator) BackfillVotes(ctx context.Context, s Scope) (Summary, error) {
	return a.backfillEvidence(ctx, s, storage.EvidenceVoteDerived, model.MethodVotes, true)
}

func (a *Aggregator) backfillEvidence(ctx context.Context, s Scope, kind storage.EvidenceKind, method string, byMandate bool) (Summary, error) {
	if err := s.validate(); err != nil {
		return Summary{}, fmt.Errorf("positions: %w", err)
	}
	rows, err := a.db.ListSignalEvidence(ctx, kind, s.AsOfDate, s.SourceID)
	if err != nil {
		return Summary{}, fmt.Errorf("positions: %w", err)
	}
	computed := Aggregate(rows, byMandate, a.params)
	return a.reconcile(ctx, s, method, len(rows), computed)
}

// BackfillCombined selects, per key, the latest votes position over the
// latest declared position for the as-of date.
func (a *Aggregator) BackfillCombined(ctx context.Context, s Scope) (Summary, error) {
	if err := s.validate(); err != nil {
		return Summary{}, fmt.Errorf("positions: %w", err)
	}
	candidates, err := a.db.ListPositionsByMethods(ctx, s.AsOfDate, []string{model.MethodVotes, model.MethodDeclared})
	if err != nil {
		return Summary{}, fmt.Errorf("positions: %w", err)
	}
	return a.reconcile(ctx, s, model.MethodCombined, len(candidates), SelectCombined(candidates))
}

// reconcile diffs computed positions against the stored scope and applies
// the difference.
func (a *Aggregator) reconcile(ctx context.Context, s Scope, method string, inputs int, computed []model.TopicPosition) (Summary, error) {
	ctx, span := telemetry.Start(ctx, "positions", "backfill_"+method,
		attribute.String("as_of_date", s.AsOfDate), attribute.String("version", s.Version),
		attribute.Bool("dry_run", s.DryRun))
	defer span.End()
	started := a.now()

	scope := storage.PositionScope{AsOfDate: s.AsOfDate, Method: method, Version: s.Version}
	existing, err := a.db.ListPositions(ctx, scope)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, fmt.Errorf("positions: %w", err)
	}
	stored := make(map[model.PositionKey]model.TopicPosition, len(existing))
	for _, p := range existing {
		stored[p.PositionKey] = p
	}

	sum := Summary{
		DryRun:   s.DryRun,
		Method:   method,
		Version:  s.Version,
		AsOfDate: s.AsOfDate,
		Evidence: inputs,
		Computed: len(computed),
		ByStance: map[model.Stance]int{},
		Samples:  []model.TopicPosition{},
	}

	var writes []model.TopicPosition
	keep := make(map[model.PositionKey]bool, len(computed))
	for _, p := range computed {
		p.AsOfDate, p.ComputedMethod, p.ComputedVersion = s.AsOfDate, method, s.Version
		keep[p.PositionKey] = true
		sum.ByStance[p.Stance]++
		if len(sum.Samples) < a.sampleSize {
			sum.Samples = append(sum.Samples, p)
		}
		prev, ok := stored[p.PositionKey]
		switch {
		case !ok:
			sum.Inserted++
		case prev.SameValues(p):
			sum.Unchanged++
			continue
		default:
			sum.Updated++
		}
		writes = append(writes, p)
	}
	var stale []int64
	if s.SourceID == "" {
		for _, p := range existing {
			if !keep[p.PositionKey] {
				stale = append(stale, p.PositionID)
			}
		}
	}
	sum.Deleted = len(stale)
	span.SetAttributes(attribute.Int("computed", sum.Computed), attribute.Int("inserted", sum.Inserted),
		attribute.Int("updated", sum.Updated), attribute.Int("deleted", sum.Deleted))

	if s.DryRun {
		return sum, nil
	}

	runID := uuid.New()
	sum.RunID = runID.String()
	sum.Applied = true
	computedAt := a.now().UTC()
	err = a.db.InTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.DeletePositions(ctx, stale); err != nil {
			return err
		}
		for _, p := range writes {
			p.ComputedAt = computedAt
			if _, err := tx.UpsertPosition(ctx, p); err != nil {
				return err
			}
		}
		_, err := tx.CreateBackfillRun(ctx, model.BackfillRun{
			RunID:   runID,
			Command: "positions-" + method,
			Params: map[string]any{
				"as_of_date": s.AsOfDate, "computed_version": s.Version, "source_id": s.SourceID,
			},
			Summary:     sum,
			StartedAt:   started,
			CompletedAt: a.now(),
		})
		return err
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, fmt.Errorf("positions: apply %s scope: %w", method, err)
	}

	telemetry.RecordRowsWritten(ctx, "positions", "topic_positions", "upsert", int64(len(writes)))
	telemetry.RecordRowsWritten(ctx, "positions", "topic_positions", "delete", int64(len(stale)))
	a.logger.Info("positions: scope rebuilt", "run_id", sum.RunID, "method", method,
		"as_of_date", s.AsOfDate, "version", s.Version,
		"inserted", sum.Inserted, "updated", sum.Updated, "unchanged", sum.Unchanged, "deleted", sum.Deleted)
	return sum, nil
}
