// Package ingest loads normalized bundles produced by scrapers and ETL jobs
// into the store.
//
// A bundle is validated as a whole and every source record reference is
// resolved before the first write. Source records are deduplicated by
// content hash, and all other rows are upserted by their natural keys, so
// importing the same bundle twice leaves the store unchanged.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/hemiciclo/internal/integrity"
	"github.com/ashita-ai/hemiciclo/internal/model"
	"github.com/ashita-ai/hemiciclo/internal/storage"
	"github.com/ashita-ai/hemiciclo/internal/telemetry"
)

// Importer writes bundles into a store.
type Importer struct {
	db     *storage.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates an importer.
func New(db *storage.DB, logger *slog.Logger) *Importer {
	return &Importer{db: db, logger: logger, now: time.Now}
}

// RecordCounts splits source records by what the import does to them.
type RecordCounts struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Summary reports one import.
type Summary struct {
	RunID      string         `json:"run_id,omitempty"`
	DryRun     bool           `json:"dry_run"`
	Applied    bool           `json:"applied"`
	Records    RecordCounts   `json:"source_records"`
	MerkleRoot string         `json:"merkle_root,omitempty"`
	Rows       map[string]int `json:"rows"`
}

type plannedRecord struct {
	record model.SourceRecord
	write  storage.SourceRecordWrite
}

type plan struct {
	records []plannedRecord
	// existing maps references satisfied by rows already in the store.
	existing map[RecordRef]int64
	hashes   []string
}

// Import validates b, resolves its record references and, unless dryRun is
// set, writes it in one transaction.
func (im *Importer) Import(ctx context.Context, b Bundle, dryRun bool) (Summary, error) {
	ctx, span := telemetry.Start(ctx, "ingest", "import", attribute.Bool("dry_run", dryRun))
	defer span.End()

	sum, err := im.run(ctx, b, dryRun)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Summary{}, err
	}
	span.SetAttributes(attribute.Int("records_inserted", sum.Records.Inserted),
		attribute.Int("records_updated", sum.Records.Updated))
	return sum, nil
}

func (im *Importer) run(ctx context.Context, b Bundle, dryRun bool) (Summary, error) {
	if err := b.Validate(); err != nil {
		return Summary{}, fmt.Errorf("ingest: %w", err)
	}
	p, err := im.plan(ctx, b)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		DryRun:     dryRun,
		MerkleRoot: integrity.BuildMerkleRoot(p.hashes),
		Rows: map[string]int{
			"sources":            len(b.Sources),
			"topic_evidence":     len(b.TopicEvidence),
			"legal_norms":        len(b.Norms),
			"legal_fragments":    len(b.Fragments),
			"lineage_edges":      len(b.LineageEdges),
			"responsibilities":   len(b.Responsibilities),
			"sanction_catalog":   len(b.SanctionCatalog),
			"initiatives":        len(b.Initiatives),
			"vote_events":        len(b.VoteEvents),
			"vote_links":         len(b.VoteLinks),
			"vote_excerpts":      len(b.VoteExcerpts),
			"sanction_volumes":   len(b.Observations),
			"source_records_in":  len(b.Records),
			"records_referenced": len(p.existing),
		},
	}
	for _, r := range p.records {
		switch r.write {
		case storage.SourceRecordInserted:
			sum.Records.Inserted++
		case storage.SourceRecordUpdated:
			sum.Records.Updated++
		default:
			sum.Records.Unchanged++
		}
	}
	if dryRun {
		return sum, nil
	}

	startedAt := im.now().UTC()
	runID := uuid.New()
	err = im.db.InTx(ctx, func(tx *storage.Tx) error {
		return im.apply(ctx, tx, b, p, runID, startedAt, sum)
	})
	if err != nil {
		return Summary{}, err
	}
	sum.RunID = runID.String()
	sum.Applied = true

	telemetry.RecordRowsWritten(ctx, "ingest", "source_records", "upsert", int64(sum.Records.Inserted+sum.Records.Updated))
	telemetry.RecordRowsWritten(ctx, "ingest", "topic_evidence", "upsert", int64(len(b.TopicEvidence)))
	im.logger.Info("ingest: bundle imported", "run_id", sum.RunID,
		"records_inserted", sum.Records.Inserted, "records_updated", sum.Records.Updated,
		"records_unchanged", sum.Records.Unchanged, "merkle_root", sum.MerkleRoot)
	return sum, nil
}

// plan canonicalizes and hashes every record, compares it with the stored
// copy and resolves references that point outside the bundle. Reads only.
func (im *Importer) plan(ctx context.Context, b Bundle) (plan, error) {
	p := plan{existing: make(map[RecordRef]int64)}
	inBundle := make(map[RecordRef]bool, len(b.Records))
	for _, in := range b.Records {
		payload, err := integrity.CanonicalJSON(in.Payload)
		if err != nil {
			return plan{}, fmt.Errorf("ingest: record %s/%s: %w: %v", in.SourceID, in.SourceRecordID, model.ErrValidation, err)
		}
		rec := model.SourceRecord{
			SourceID:       in.SourceID,
			SourceRecordID: in.SourceRecordID,
			SourceURL:      in.SourceURL,
			SnapshotDate:   in.SnapshotDate,
			RawPayload:     payload,
			ContentHash:    integrity.ComputeContentHash(in.SourceID, in.SourceRecordID, in.SourceURL, payload),
		}
		write := storage.SourceRecordInserted
		stored, err := im.db.GetSourceRecord(ctx, in.SourceID, in.SourceRecordID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
		case err != nil:
			return plan{}, fmt.Errorf("ingest: %w", err)
		case stored.ContentHash == rec.ContentHash:
			write = storage.SourceRecordUnchanged
		default:
			write = storage.SourceRecordUpdated
		}
		p.records = append(p.records, plannedRecord{record: rec, write: write})
		p.hashes = append(p.hashes, rec.ContentHash)
		inBundle[in.ref()] = true
	}
	slices.Sort(p.hashes)

	var refs []RecordRef
	for _, e := range b.TopicEvidence {
		if e.Record != nil {
			refs = append(refs, *e.Record)
		}
	}
	for _, v := range b.VoteEvents {
		if v.Record != nil {
			refs = append(refs, *v.Record)
		}
	}
	for _, ref := range refs {
		if inBundle[ref] {
			continue
		}
		if _, ok := p.existing[ref]; ok {
			continue
		}
		stored, err := im.db.GetSourceRecord(ctx, ref.SourceID, ref.SourceRecordID)
		if errors.Is(err, storage.ErrNotFound) {
			return plan{}, fmt.Errorf("ingest: record %s/%s referenced but not imported: %w",
				ref.SourceID, ref.SourceRecordID, storage.ErrIntegrity)
		}
		if err != nil {
			return plan{}, fmt.Errorf("ingest: %w", err)
		}
		p.existing[ref] = stored.ID
	}
	return p, nil
}

func (im *Importer) apply(ctx context.Context, tx *storage.Tx, b Bundle, p plan, runID uuid.UUID, startedAt time.Time, sum Summary) error {
	for _, s := range b.Sources {
		if err := tx.UpsertSource(ctx, s); err != nil {
			return err
		}
	}

	pks := make(map[RecordRef]int64, len(p.records)+len(p.existing))
	for ref, id := range p.existing {
		pks[ref] = id
	}
	for _, r := range p.records {
		id, _, err := tx.UpsertSourceRecord(ctx, r.record)
		if err != nil {
			return err
		}
		pks[RecordRef{SourceID: r.record.SourceID, SourceRecordID: r.record.SourceRecordID}] = id
	}
	resolve := func(ref *RecordRef, fallback *int64) (*int64, error) {
		if ref == nil {
			return fallback, nil
		}
		id, ok := pks[*ref]
		if !ok {
			return nil, fmt.Errorf("ingest: record %s/%s unresolved: %w", ref.SourceID, ref.SourceRecordID, storage.ErrIntegrity)
		}
		return &id, nil
	}

	for _, n := range b.Norms {
		if err := tx.UpsertNorm(ctx, n); err != nil {
			return err
		}
	}
	for _, f := range b.Fragments {
		if err := tx.UpsertFragment(ctx, f); err != nil {
			return err
		}
	}
	for _, e := range b.LineageEdges {
		if err := tx.InsertLineageEdge(ctx, e); err != nil {
			return err
		}
	}
	for _, r := range b.Responsibilities {
		if err := tx.UpsertResponsibility(ctx, r); err != nil {
			return err
		}
	}
	for _, c := range b.SanctionCatalog {
		if err := tx.UpsertCatalogEntry(ctx, c.BOEID, c.Label); err != nil {
			return err
		}
	}
	for _, in := range b.Initiatives {
		if err := tx.UpsertInitiative(ctx, in); err != nil {
			return err
		}
	}
	for _, v := range b.VoteEvents {
		pk, err := resolve(v.Record, v.SourceRecordPK)
		if err != nil {
			return err
		}
		ev := v.VoteEvent
		ev.SourceRecordPK = pk
		if err := tx.UpsertVoteEvent(ctx, ev); err != nil {
			return err
		}
	}
	for _, l := range b.VoteLinks {
		if err := tx.UpsertVoteLink(ctx, l); err != nil {
			return err
		}
	}
	for _, x := range b.VoteExcerpts {
		if err := tx.UpsertVoteExcerpt(ctx, x); err != nil {
			return err
		}
	}
	for _, o := range b.Observations {
		if err := tx.UpsertObservation(ctx, o); err != nil {
			return err
		}
	}
	for _, e := range b.TopicEvidence {
		pk, err := resolve(e.Record, e.SourceRecordPK)
		if err != nil {
			return err
		}
		ev := e.TopicEvidence
		ev.SourceRecordPK = pk
		if _, err := tx.UpsertTopicEvidence(ctx, ev); err != nil {
			return err
		}
	}

	_, err := tx.CreateBackfillRun(ctx, model.BackfillRun{
		RunID:       runID,
		Command:     "import",
		Params:      map[string]any{"records": len(b.Records)},
		Summary:     sum,
		StartedAt:   startedAt,
		CompletedAt: im.now().UTC(),
	})
	return err
}
