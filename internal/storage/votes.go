package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

// ListVoteEvents returns votes ordered by vote_event_id. A zero limit is
// unlimited.
func (c conn) ListVoteEvents(ctx context.Context, limit int) ([]model.VoteEvent, error) {
	q := `SELECT vote_event_id, source_id, source_url, source_record_pk, vote_date, title,
		expediente_text, subgroup_text
		FROM vote_events ORDER BY vote_event_id`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list vote events: %w", err)
	}
	out, err := collect(rows, func(r *sql.Rows) (model.VoteEvent, error) {
		var (
			v  model.VoteEvent
			pk sql.NullInt64
		)
		err := r.Scan(&v.VoteEventID, &v.SourceID, &v.SourceURL, &pk, &v.VoteDate, &v.Title,
			&v.ExpedienteText, &v.SubgroupText)
		v.SourceRecordPK = int64Ptr(pk)
		return v, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list vote events: %w", err)
	}
	return out, nil
}

// ListLinkedInitiatives returns, per vote id, the linked initiatives ordered
// by initiative id.
func (c conn) ListLinkedInitiatives(ctx context.Context) (map[string][]model.LinkedInitiative, error) {
	rows, err := c.query(ctx,
		`SELECT l.vote_event_id, i.initiative_id, i.title, i.expediente, l.link_confidence
		 FROM vote_event_initiative_links l
		 JOIN parliamentary_initiatives i ON i.initiative_id = l.initiative_id
		 ORDER BY l.vote_event_id, i.initiative_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list linked initiatives: %w", err)
	}
	type linked struct {
		voteID string
		model.LinkedInitiative
	}
	links, err := collect(rows, func(r *sql.Rows) (linked, error) {
		var l linked
		return l, r.Scan(&l.voteID, &l.InitiativeID, &l.Title, &l.Expediente, &l.LinkConfidence)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list linked initiatives: %w", err)
	}
	out := make(map[string][]model.LinkedInitiative)
	for _, l := range links {
		out[l.voteID] = append(out[l.voteID], l.LinkedInitiative)
	}
	return out, nil
}

// ListLinkedInitiativeIDs returns the set of initiatives with at least one
// vote link.
func (c conn) ListLinkedInitiativeIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := c.query(ctx, `SELECT DISTINCT initiative_id FROM vote_event_initiative_links ORDER BY initiative_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list linked initiative ids: %w", err)
	}
	ids, err := collect(rows, func(r *sql.Rows) (string, error) {
		var s string
		return s, r.Scan(&s)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list linked initiative ids: %w", err)
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// ListVoteDocumentExcerpts returns document excerpts ordered by vote and URL.
func (c conn) ListVoteDocumentExcerpts(ctx context.Context) ([]model.VoteDocumentExcerpt, error) {
	rows, err := c.query(ctx,
		`SELECT vote_event_id, document_url, excerpt FROM vote_document_excerpts
		 ORDER BY vote_event_id, document_url`)
	if err != nil {
		return nil, fmt.Errorf("storage: list vote document excerpts: %w", err)
	}
	out, err := collect(rows, func(r *sql.Rows) (model.VoteDocumentExcerpt, error) {
		var x model.VoteDocumentExcerpt
		return x, r.Scan(&x.VoteEventID, &x.DocumentURL, &x.Excerpt)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list vote document excerpts: %w", err)
	}
	return out, nil
}

// UpsertInitiative inserts or refreshes an initiative.
func (tx *Tx) UpsertInitiative(ctx context.Context, i model.Initiative) error {
	_, err := tx.exec(ctx,
		`INSERT INTO parliamentary_initiatives (initiative_id, title, expediente) VALUES (?, ?, ?)
		 ON CONFLICT (initiative_id) DO UPDATE SET title = excluded.title, expediente = excluded.expediente`,
		i.InitiativeID, i.Title, i.Expediente,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert initiative %s: %w", i.InitiativeID, err)
	}
	return nil
}

// UpsertVoteEvent inserts or refreshes a vote.
func (tx *Tx) UpsertVoteEvent(ctx context.Context, v model.VoteEvent) error {
	_, err := tx.exec(ctx,
		`INSERT INTO vote_events (vote_event_id, source_id, source_url, source_record_pk, vote_date,
		 title, expediente_text, subgroup_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (vote_event_id) DO UPDATE SET
		   source_id = excluded.source_id,
		   source_url = excluded.source_url,
		   source_record_pk = excluded.source_record_pk,
		   vote_date = excluded.vote_date,
		   title = excluded.title,
		   expediente_text = excluded.expediente_text,
		   subgroup_text = excluded.subgroup_text`,
		v.VoteEventID, v.SourceID, v.SourceURL, nullable(v.SourceRecordPK), v.VoteDate,
		v.Title, v.ExpedienteText, v.SubgroupText,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert vote event %s: %w", v.VoteEventID, err)
	}
	return nil
}

// UpsertVoteLink inserts or refreshes a vote-initiative link.
func (tx *Tx) UpsertVoteLink(ctx context.Context, l model.VoteEventInitiativeLink) error {
	_, err := tx.exec(ctx,
		`INSERT INTO vote_event_initiative_links (vote_event_id, initiative_id, link_confidence)
		 VALUES (?, ?, ?)
		 ON CONFLICT (vote_event_id, initiative_id) DO UPDATE SET link_confidence = excluded.link_confidence`,
		l.VoteEventID, l.InitiativeID, l.LinkConfidence,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert vote link %s/%s: %w", l.VoteEventID, l.InitiativeID, err)
	}
	return nil
}

// UpsertVoteExcerpt inserts or refreshes a document excerpt.
func (tx *Tx) UpsertVoteExcerpt(ctx context.Context, x model.VoteDocumentExcerpt) error {
	_, err := tx.exec(ctx,
		`INSERT INTO vote_document_excerpts (vote_event_id, document_url, excerpt) VALUES (?, ?, ?)
		 ON CONFLICT (vote_event_id, document_url) DO UPDATE SET excerpt = excluded.excerpt`,
		x.VoteEventID, x.DocumentURL, x.Excerpt,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert vote excerpt %s: %w", x.VoteEventID, err)
	}
	return nil
}
