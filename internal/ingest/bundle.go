package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/ashita-ai/hemiciclo/internal/model"
)

// RecordRef points at a source record by its external key.
type RecordRef struct {
	SourceID       string `json:"source_id"`
	SourceRecordID string `json:"source_record_id"`
}

// RecordInput is one fetched record as a connector emits it.
type RecordInput struct {
	SourceID       string          `json:"source_id"`
	SourceRecordID string          `json:"source_record_id"`
	SourceURL      string          `json:"source_url,omitempty"`
	SnapshotDate   string          `json:"snapshot_date"`
	Payload        json.RawMessage `json:"payload"`
}

func (r RecordInput) ref() RecordRef {
	return RecordRef{SourceID: r.SourceID, SourceRecordID: r.SourceRecordID}
}

// EvidenceInput is a topic evidence row with an optional record reference.
type EvidenceInput struct {
	model.TopicEvidence
	Record *RecordRef `json:"record,omitempty"`
}

// VoteInput is a vote event with an optional record reference.
type VoteInput struct {
	model.VoteEvent
	Record *RecordRef `json:"record,omitempty"`
}

// CatalogEntry puts a norm under sanction-catalog scope.
type CatalogEntry struct {
	BOEID string `json:"boe_id"`
	Label string `json:"label,omitempty"`
}

// Bundle is the normalized handoff from scrapers and ETL.
type Bundle struct {
	Sources          []model.Source                    `json:"sources"`
	Records          []RecordInput                     `json:"records"`
	TopicEvidence    []EvidenceInput                   `json:"topic_evidence"`
	Norms            []model.LegalNorm                 `json:"norms"`
	Fragments        []model.LegalNormFragment         `json:"fragments"`
	LineageEdges     []model.LineageEdge               `json:"lineage_edges"`
	Responsibilities []model.Responsibility            `json:"responsibilities"`
	SanctionCatalog  []CatalogEntry                    `json:"sanction_catalog"`
	Initiatives      []model.Initiative                `json:"initiatives"`
	VoteEvents       []VoteInput                       `json:"vote_events"`
	VoteLinks        []model.VoteEventInitiativeLink   `json:"vote_links"`
	VoteExcerpts     []model.VoteDocumentExcerpt       `json:"vote_excerpts"`
	Observations     []model.SanctionVolumeObservation `json:"observations"`
}

// Decode reads a bundle. Unknown fields are rejected so a renamed key in a
// connector fails loudly instead of importing empty columns.
func Decode(r io.Reader) (Bundle, error) {
	var b Bundle
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return Bundle{}, fmt.Errorf("ingest: %w: decode bundle: %v", model.ErrValidation, err)
	}
	if dec.More() {
		return Bundle{}, fmt.Errorf("ingest: %w: trailing data after bundle", model.ErrValidation)
	}
	return b, nil
}

// Validate checks every row before anything is written.
func (b Bundle) Validate() error {
	var errs []error
	add := func(what string, i int, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", what, i, err))
		}
	}
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{model.ErrValidation}, args...)...)
	}

	for i, s := range b.Sources {
		if s.SourceID == "" {
			add("sources", i, invalid("source_id is required"))
		}
	}
	seen := make(map[RecordRef]bool, len(b.Records))
	for i, r := range b.Records {
		switch {
		case r.SourceID == "" || r.SourceRecordID == "":
			add("records", i, invalid("source_id and source_record_id are required"))
		case seen[r.ref()]:
			add("records", i, invalid("duplicate record %s/%s", r.SourceID, r.SourceRecordID))
		case len(r.Payload) == 0:
			add("records", i, invalid("payload is required"))
		default:
			_, err := model.ParseDate(r.SnapshotDate)
			add("records", i, err)
		}
		seen[r.ref()] = true
	}
	for i, e := range b.TopicEvidence {
		add("topic_evidence", i, e.Validate())
	}
	for i, n := range b.Norms {
		if n.NormID == "" || n.BOEID == "" {
			add("norms", i, invalid("norm_id and boe_id are required"))
		}
	}
	for i, f := range b.Fragments {
		if f.FragmentID == "" || f.NormID == "" {
			add("fragments", i, invalid("fragment_id and norm_id are required"))
		}
	}
	for i, e := range b.LineageEdges {
		if e.NormID == "" || e.RelatedNormID == "" {
			add("lineage_edges", i, invalid("norm_id and related_norm_id are required"))
			continue
		}
		_, err := model.ParseRelationType(string(e.RelationType))
		add("lineage_edges", i, err)
	}
	for i, r := range b.Responsibilities {
		if r.ResponsibilityID <= 0 || r.FragmentID == "" {
			add("responsibilities", i, invalid("responsibility_id and fragment_id are required"))
			continue
		}
		_, err := model.ParseRole(string(r.Role))
		add("responsibilities", i, err)
	}
	for i, c := range b.SanctionCatalog {
		if c.BOEID == "" {
			add("sanction_catalog", i, invalid("boe_id is required"))
		}
	}
	for i, in := range b.Initiatives {
		if in.InitiativeID == "" {
			add("initiatives", i, invalid("initiative_id is required"))
		}
	}
	for i, v := range b.VoteEvents {
		add("vote_events", i, v.Validate())
	}
	for i, l := range b.VoteLinks {
		if l.VoteEventID == "" || l.InitiativeID == "" {
			add("vote_links", i, invalid("vote_event_id and initiative_id are required"))
			continue
		}
		add("vote_links", i, model.ValidateConfidence(l.LinkConfidence))
	}
	for i, x := range b.VoteExcerpts {
		if x.VoteEventID == "" {
			add("vote_excerpts", i, invalid("vote_event_id is required"))
		}
	}
	for i, o := range b.Observations {
		add("observations", i, o.Validate())
	}
	return errors.Join(errs...)
}
