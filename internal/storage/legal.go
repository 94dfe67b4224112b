package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

// ListNorms returns every norm ordered by norm id.
func (c conn) ListNorms(ctx context.Context) ([]model.LegalNorm, error) {
	rows, err := c.query(ctx, `SELECT norm_id, boe_id, title FROM legal_norms ORDER BY norm_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list norms: %w", err)
	}
	out, err := collect(rows, func(r *sql.Rows) (model.LegalNorm, error) {
		var n model.LegalNorm
		return n, r.Scan(&n.NormID, &n.BOEID, &n.Title)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list norms: %w", err)
	}
	return out, nil
}

// ListLineageEdges returns the lineage graph in (norm, related, relation) order.
func (c conn) ListLineageEdges(ctx context.Context) ([]model.LineageEdge, error) {
	rows, err := c.query(ctx,
		`SELECT norm_id, related_norm_id, relation_type FROM legal_norm_lineage_edges
		 ORDER BY norm_id, related_norm_id, relation_type`)
	if err != nil {
		return nil, fmt.Errorf("storage: list lineage edges: %w", err)
	}
	out, err := collect(rows, func(r *sql.Rows) (model.LineageEdge, error) {
		var (
			e   model.LineageEdge
			rel string
		)
		err := r.Scan(&e.NormID, &e.RelatedNormID, &rel)
		e.RelationType = model.RelationType(rel)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list lineage edges: %w", err)
	}
	return out, nil
}

// ListSanctionCatalog returns the BOE ids under sanction-catalog scope.
func (c conn) ListSanctionCatalog(ctx context.Context) ([]string, error) {
	rows, err := c.query(ctx, `SELECT boe_id FROM sanction_norm_catalog ORDER BY boe_id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list sanction catalog: %w", err)
	}
	out, err := collect(rows, func(r *sql.Rows) (string, error) {
		var s string
		return s, r.Scan(&s)
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list sanction catalog: %w", err)
	}
	return out, nil
}

// ListResponsibilityTargets returns responsibilities under roles joined to
// their norm, ordered by responsibility id.
func (c conn) ListResponsibilityTargets(ctx context.Context, roles []model.Role) ([]model.ResponsibilityTarget, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("%w: role filter is empty", model.ErrValidation)
	}
	rows, err := c.query(ctx,
		`SELECT r.responsibility_id, r.fragment_id, r.role, r.actor_label, n.norm_id, n.boe_id
		 FROM legal_fragment_responsibilities r
		 JOIN legal_norm_fragments f ON f.fragment_id = r.fragment_id
		 JOIN legal_norms n ON n.norm_id = f.norm_id
		 WHERE r.role IN (`+placeholders(len(roles))+`)
		 ORDER BY r.responsibility_id`,
		anyArgs(model.RoleStrings(roles))...,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list responsibility targets: %w", err)
	}
	out, err := collect(rows, func(r *sql.Rows) (model.ResponsibilityTarget, error) {
		var (
			t    model.ResponsibilityTarget
			role string
		)
		err := r.Scan(&t.ResponsibilityID, &t.FragmentID, &role, &t.ActorLabel, &t.NormID, &t.BOEID)
		t.Role = model.Role(role)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list responsibility targets: %w", err)
	}
	return out, nil
}

// UpsertNorm inserts or refreshes a norm.
func (tx *Tx) UpsertNorm(ctx context.Context, n model.LegalNorm) error {
	_, err := tx.exec(ctx,
		`INSERT INTO legal_norms (norm_id, boe_id, title) VALUES (?, ?, ?)
		 ON CONFLICT (norm_id) DO UPDATE SET boe_id = excluded.boe_id, title = excluded.title`,
		n.NormID, n.BOEID, n.Title,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert norm %s: %w", n.NormID, err)
	}
	return nil
}

// UpsertFragment inserts or refreshes a norm fragment.
func (tx *Tx) UpsertFragment(ctx context.Context, f model.LegalNormFragment) error {
	_, err := tx.exec(ctx,
		`INSERT INTO legal_norm_fragments (fragment_id, norm_id, label, text) VALUES (?, ?, ?, ?)
		 ON CONFLICT (fragment_id) DO UPDATE SET norm_id = excluded.norm_id, label = excluded.label, text = excluded.text`,
		f.FragmentID, f.NormID, f.Label, f.Text,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert fragment %s: %w", f.FragmentID, err)
	}
	return nil
}

// InsertLineageEdge adds an edge; existing edges are kept as they are.
func (tx *Tx) InsertLineageEdge(ctx context.Context, e model.LineageEdge) error {
	_, err := tx.exec(ctx,
		`INSERT INTO legal_norm_lineage_edges (norm_id, related_norm_id, relation_type) VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		e.NormID, e.RelatedNormID, string(e.RelationType),
	)
	if err != nil {
		return fmt.Errorf("storage: insert lineage edge %s->%s: %w", e.NormID, e.RelatedNormID, err)
	}
	return nil
}

// UpsertResponsibility inserts or refreshes a responsibility by id.
func (tx *Tx) UpsertResponsibility(ctx context.Context, r model.Responsibility) error {
	_, err := tx.exec(ctx,
		`INSERT INTO legal_fragment_responsibilities (responsibility_id, fragment_id, role, actor_label)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (responsibility_id) DO UPDATE SET
		   fragment_id = excluded.fragment_id, role = excluded.role, actor_label = excluded.actor_label`,
		r.ResponsibilityID, r.FragmentID, string(r.Role), r.ActorLabel,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert responsibility %d: %w", r.ResponsibilityID, err)
	}
	return nil
}

// UpsertCatalogEntry puts a norm under sanction-catalog scope.
func (tx *Tx) UpsertCatalogEntry(ctx context.Context, boeID, label string) error {
	_, err := tx.exec(ctx,
		`INSERT INTO sanction_norm_catalog (boe_id, label) VALUES (?, ?)
		 ON CONFLICT (boe_id) DO UPDATE SET label = excluded.label`,
		boeID, label,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert catalog entry %s: %w", boeID, err)
	}
	return nil
}
